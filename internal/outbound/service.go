// Package outbound prepares documents for transmission.
//
// The Service takes a submitted payload plus optional caller overrides,
// builds a transmission request (header extraction, sniffing, override
// policy, endpoint resolution), records it in the transmission journal and,
// when a transmitter is configured, hands the request over for delivery.
//
// Builders are pooled; a builder is always reset before it is returned to
// the pool so no state leaks between submissions.
package outbound

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rdehuyss/oxalis/internal/storage"
	"github.com/rdehuyss/oxalis/pkg/identifier"
	"github.com/rdehuyss/oxalis/pkg/lookup"
	"github.com/rdehuyss/oxalis/pkg/transmission"
)

// ErrInvalidOverride wraps override values that can not be parsed
var ErrInvalidOverride = errors.New("invalid override")

// Overrides are caller supplied header and endpoint values in their textual
// form. Empty fields are not applied.
type Overrides struct {
	Sender       string
	Receiver     string
	DocumentType string
	Process      string
	MessageID    string

	// EndpointURL bypasses endpoint resolution
	EndpointURL      string
	TransportProfile string
	// AS2SystemIdentifier selects an AS2 endpoint override
	AS2SystemIdentifier string
}

// Config holds the collaborators of a Service
type Config struct {
	// Extractor reads envelopes; sbdh.NewExtractor when nil
	Extractor transmission.HeaderExtractor
	Resolver  transmission.EndpointResolver
	Store     storage.TransmissionStore
	// Transmitter delivers prepared requests; requests are only journalled when nil
	Transmitter transmission.Transmitter

	OverrideAllowed bool
	Sniffing        bool

	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

// Service prepares and journals transmission requests. It is safe for
// concurrent use.
type Service struct {
	store       storage.TransmissionStore
	transmitter transmission.Transmitter
	builders    sync.Pool
	logger      *slog.Logger
	prepared    *prometheus.CounterVec
}

// NewService creates a Service
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("outbound: store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		store:       cfg.Store,
		transmitter: cfg.Transmitter,
		logger:      logger,
		prepared: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oxalis",
			Subsystem: "outbound",
			Name:      "transmissions_total",
			Help:      "Submitted documents by result",
		}, []string{"result"}),
	}
	if cfg.Registerer != nil {
		if err := cfg.Registerer.Register(s.prepared); err != nil {
			return nil, fmt.Errorf("outbound: register metrics: %w", err)
		}
	}

	extractor, resolver := cfg.Extractor, cfg.Resolver
	opts := []transmission.Option{
		transmission.WithOverrideAllowed(cfg.OverrideAllowed),
		transmission.WithSniffing(cfg.Sniffing),
	}
	s.builders.New = func() any {
		return transmission.NewBuilder(extractor, resolver, opts...)
	}
	return s, nil
}

// Prepare builds a request for payload, records it and, with a transmitter
// configured, transmits it. The returned record reflects the final status.
func (s *Service) Prepare(ctx context.Context, payload []byte, ov Overrides) (*storage.TransmissionRecord, error) {
	b := s.builders.Get().(*transmission.Builder)
	defer func() {
		b.Reset()
		s.builders.Put(b)
	}()

	b.Payload(bytes.NewReader(payload))
	if err := applyOverrides(b, ov); err != nil {
		s.prepared.WithLabelValues("rejected").Inc()
		return nil, err
	}

	req, err := b.Build(ctx)
	if err != nil {
		s.prepared.WithLabelValues(result(err)).Inc()
		s.logger.Info("transmission rejected", "error", err)
		return nil, err
	}

	rec := newRecord(req, payload)
	if err := s.store.Save(ctx, rec); err != nil {
		s.prepared.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("journal transmission %s: %w", rec.MessageID, err)
	}
	s.logger.Info("transmission prepared",
		"message_id", rec.MessageID,
		"sender", rec.Sender,
		"receiver", rec.Receiver,
		"profile", rec.TransportProfile,
		"endpoint", rec.EndpointURL,
		"overridden", rec.EndpointOverridden)

	if s.transmitter == nil {
		s.prepared.WithLabelValues("prepared").Inc()
		return rec, nil
	}

	status, lastErr := storage.StatusTransmitted, ""
	if err := s.transmitter.Transmit(ctx, req); err != nil {
		status, lastErr = storage.StatusFailed, err.Error()
		s.logger.Warn("transmission failed", "message_id", rec.MessageID, "error", err)
	}
	if err := s.store.UpdateStatus(ctx, rec.MessageID, status, lastErr); err != nil {
		return nil, fmt.Errorf("journal transmission %s: %w", rec.MessageID, err)
	}
	rec.Status, rec.LastError = status, lastErr
	s.prepared.WithLabelValues(string(status)).Inc()
	return rec, nil
}

// Get returns the journal entry of a transmission
func (s *Service) Get(ctx context.Context, messageID string) (*storage.TransmissionRecord, error) {
	return s.store.Get(ctx, messageID)
}

// List returns journal entries, newest first
func (s *Service) List(ctx context.Context, filter *storage.TransmissionFilter) ([]*storage.TransmissionRecord, error) {
	return s.store.List(ctx, filter)
}

// Ping checks the journal
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func applyOverrides(b *transmission.Builder, ov Overrides) error {
	if ov.Sender != "" {
		p, err := identifier.ParseParticipantIdentifier(ov.Sender)
		if err != nil {
			return err
		}
		b.Sender(p)
	}
	if ov.Receiver != "" {
		p, err := identifier.ParseParticipantIdentifier(ov.Receiver)
		if err != nil {
			return err
		}
		b.Receiver(p)
	}
	if ov.DocumentType != "" {
		d, err := identifier.ParseDocumentTypeIdentifier(ov.DocumentType)
		if err != nil {
			return err
		}
		b.DocumentType(d)
	}
	if ov.Process != "" {
		p, err := identifier.ParseProcessIdentifier(ov.Process)
		if err != nil {
			return err
		}
		b.Process(p)
	}
	if ov.MessageID != "" {
		m, err := identifier.NewMessageIdentifier(ov.MessageID)
		if err != nil {
			return err
		}
		b.MessageID(m)
	}

	if ov.EndpointURL == "" {
		if ov.TransportProfile != "" || ov.AS2SystemIdentifier != "" {
			return fmt.Errorf("%w: endpoint URL is required with a transport profile or AS2 system identifier", ErrInvalidOverride)
		}
		return nil
	}
	address, err := url.Parse(ov.EndpointURL)
	if err != nil {
		return fmt.Errorf("%w: endpoint URL: %v", ErrInvalidOverride, err)
	}
	if ov.AS2SystemIdentifier != "" {
		b.OverrideAS2Endpoint(address, ov.AS2SystemIdentifier)
		return nil
	}
	profile := lookup.TransportProfile(ov.TransportProfile)
	if profile == "" {
		profile = lookup.ProfilePeppolAS4V2
	}
	b.OverrideEndpoint(address, profile, nil)
	return nil
}

func newRecord(req *transmission.Request, payload []byte) *storage.TransmissionRecord {
	h := req.Header()
	ep := req.Endpoint()
	sum := sha256.Sum256(payload)

	rec := &storage.TransmissionRecord{
		MessageID:          req.MessageID().Value(),
		Sender:             h.Sender.URI(),
		Receiver:           h.Receiver.URI(),
		DocumentType:       h.DocumentType.URI(),
		Process:            h.Process.URI(),
		DocumentInstanceID: h.InstanceIdentifier,
		TransportProfile:   ep.TransportProfile.String(),
		EndpointOverridden: req.EndpointOverridden(),
		PayloadSize:        int64(len(payload)),
		PayloadChecksum:    hex.EncodeToString(sum[:]),
		Status:             storage.StatusPrepared,
	}
	if ep.Address != nil {
		rec.EndpointURL = ep.Address.String()
	}
	if ep.Certificate != nil {
		rec.CertificateSubject = ep.Certificate.Subject.String()
	}
	return rec
}

func result(err error) string {
	var missing *transmission.MissingMetadataError
	var notPermitted *transmission.OverrideNotPermittedError
	switch {
	case errors.As(err, &missing), errors.As(err, &notPermitted):
		return "rejected"
	case errors.Is(err, lookup.ErrUnknownParticipant), errors.Is(err, lookup.ErrUnsupportedService):
		return "unroutable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), lookup.IsRetryable(err):
		return "timeout"
	}
	return "error"
}
