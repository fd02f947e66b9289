// Package transmission turns a business document payload into a complete
// transmission request: who sends it, who receives it, what it is, and where
// it must be delivered.
//
// A [Builder] merges caller overrides with the metadata embedded in the
// payload, checks that the header is complete and resolves the receiver's
// endpoint. Builders are not safe for concurrent use; pool them and call
// [Builder.Reset] before reuse.
//
//	req, err := transmission.NewBuilder(sbdh.NewExtractor(), resolver).
//		Payload(f).
//		Build(ctx)
package transmission

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"

	"github.com/rdehuyss/oxalis/pkg/identifier"
	"github.com/rdehuyss/oxalis/pkg/lookup"
	"github.com/rdehuyss/oxalis/pkg/sbdh"
)

// HeaderExtractor reads an embedded envelope. A nil header means the
// payload has none.
type HeaderExtractor interface {
	Extract(r io.ReadSeeker) (*sbdh.StandardBusinessHeader, error)
}

// DocumentSniffer derives what it can from a payload without an envelope.
// A *sbdh.MalformedPayloadError from Sniff means nothing could be derived.
type DocumentSniffer interface {
	Sniff(r io.ReadSeeker) (*sbdh.StandardBusinessHeader, error)
}

// EndpointResolver finds the delivery endpoint of a receiver
type EndpointResolver interface {
	Resolve(ctx context.Context, participant identifier.ParticipantIdentifier, documentType identifier.DocumentTypeIdentifier, process identifier.ProcessIdentifier) (*lookup.EndpointData, error)
}

// Phase is the position of a Builder in its build cycle
type Phase int

const (
	// PhaseIdle means no payload is attached
	PhaseIdle Phase = iota
	// PhasePayloadSet means a payload is attached and not yet built
	PhasePayloadSet
	// PhaseResolved means the header is merged and the endpoint determined
	PhaseResolved
	// PhaseBuilt means a Request was produced
	PhaseBuilt
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePayloadSet:
		return "payload-set"
	case PhaseResolved:
		return "resolved"
	case PhaseBuilt:
		return "built"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Option configures a Builder
type Option func(*Builder)

// WithOverrideAllowed permits overriding header fields the payload already
// determines. Overrides are refused by default.
func WithOverrideAllowed(allowed bool) Option {
	return func(b *Builder) { b.overrideAllowed = allowed }
}

// WithSniffing enables or disables inspection of payloads without an
// envelope. It is enabled by default.
func WithSniffing(enabled bool) Option {
	return func(b *Builder) {
		if enabled {
			b.sniffer = sbdh.NewSniffer()
		} else {
			b.sniffer = nil
		}
	}
}

// WithSniffer replaces the default document sniffer
func WithSniffer(s DocumentSniffer) Option {
	return func(b *Builder) { b.sniffer = s }
}

// overrides are the values set explicitly on the builder
type overrides struct {
	sender       identifier.ParticipantIdentifier
	receiver     identifier.ParticipantIdentifier
	documentType identifier.DocumentTypeIdentifier
	process      identifier.ProcessIdentifier
	messageID    identifier.MessageIdentifier

	endpoint         *lookup.EndpointData
	systemIdentifier string
}

// Builder assembles a Request from a payload and optional overrides.
// Chained calls record the first error; Build reports it.
type Builder struct {
	extractor       HeaderExtractor
	sniffer         DocumentSniffer
	resolver        EndpointResolver
	overrideAllowed bool

	phase     Phase
	payload   io.ReadSeeker
	over      overrides
	extracted *sbdh.StandardBusinessHeader
	inspected bool
	effective *sbdh.StandardBusinessHeader
	err       error
}

// NewBuilder creates a builder. A nil extractor selects sbdh.NewExtractor;
// a nil resolver is allowed when every request overrides its endpoint.
func NewBuilder(extractor HeaderExtractor, resolver EndpointResolver, opts ...Option) *Builder {
	if extractor == nil {
		extractor = sbdh.NewExtractor()
	}
	b := &Builder{
		extractor: extractor,
		sniffer:   sbdh.NewSniffer(),
		resolver:  resolver,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// OverrideAllowed reports whether header overrides are permitted
func (b *Builder) OverrideAllowed() bool {
	return b.overrideAllowed
}

// Phase returns the current phase
func (b *Builder) Phase() Phase {
	return b.phase
}

// Payload attaches the document. The stream must support seeking back to
// the start; its metadata is read on the first Build.
func (b *Builder) Payload(r io.ReadSeeker) *Builder {
	if b.err != nil {
		return b
	}
	if r == nil {
		b.err = errors.New("transmission: payload is nil")
		return b
	}
	b.payload = r
	b.extracted = nil
	b.inspected = false
	b.phase = PhasePayloadSet
	return b
}

// Sender overrides the sending participant
func (b *Builder) Sender(id identifier.ParticipantIdentifier) *Builder {
	if b.setErr(requireSet(FieldSender, id.IsZero())) {
		b.over.sender = id
	}
	return b
}

// Receiver overrides the receiving participant
func (b *Builder) Receiver(id identifier.ParticipantIdentifier) *Builder {
	if b.setErr(requireSet(FieldReceiver, id.IsZero())) {
		b.over.receiver = id
	}
	return b
}

// DocumentType overrides the document type
func (b *Builder) DocumentType(id identifier.DocumentTypeIdentifier) *Builder {
	if b.setErr(requireSet(FieldDocumentType, id.IsZero())) {
		b.over.documentType = id
	}
	return b
}

// Process overrides the process
func (b *Builder) Process(id identifier.ProcessIdentifier) *Builder {
	if b.setErr(requireSet(FieldProcess, id.IsZero())) {
		b.over.process = id
	}
	return b
}

// MessageID sets the transmission message identifier
func (b *Builder) MessageID(id identifier.MessageIdentifier) *Builder {
	if b.setErr(requireSet("messageId", id.IsZero())) {
		b.over.messageID = id
	}
	return b
}

// OverrideEndpoint delivers to the given endpoint; Build then never
// consults the resolver.
func (b *Builder) OverrideEndpoint(address *url.URL, profile lookup.TransportProfile, cert *x509.Certificate) *Builder {
	if b.err != nil {
		return b
	}
	ep, err := lookup.NewEndpointData(profile, address, cert)
	if err != nil {
		b.err = err
		return b
	}
	b.over.endpoint = ep
	b.over.systemIdentifier = ""
	return b
}

// OverrideAS2Endpoint delivers over AS2 to address, addressing the receiving
// system by its AS2 system identifier.
func (b *Builder) OverrideAS2Endpoint(address *url.URL, systemIdentifier string) *Builder {
	if b.err != nil {
		return b
	}
	if systemIdentifier == "" {
		b.err = fmt.Errorf("%w: AS2 system identifier is required", lookup.ErrInvalidEndpoint)
		return b
	}
	b.OverrideEndpoint(address, lookup.ProfileAS2V1, nil)
	if b.err == nil {
		b.over.systemIdentifier = systemIdentifier
	}
	return b
}

// Err returns the first error recorded by a chained call
func (b *Builder) Err() error {
	return b.err
}

// EffectiveHeader returns a copy of the header merged by the last Build, or
// nil if Build has not merged one since the last Reset.
func (b *Builder) EffectiveHeader() *sbdh.StandardBusinessHeader {
	return b.effective.Clone()
}

// Reset returns the builder to idle, discarding payload, overrides,
// extracted metadata and any recorded error.
func (b *Builder) Reset() {
	b.phase = PhaseIdle
	b.payload = nil
	b.over = overrides{}
	b.extracted = nil
	b.inspected = false
	b.effective = nil
	b.err = nil
}

// Build merges overrides with the payload metadata, validates the result,
// determines the endpoint and returns the request. Build may be called again
// without Reset; it re-runs the merge over the accumulated state.
func (b *Builder) Build(ctx context.Context) (*Request, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.payload == nil {
		return nil, ErrNoPayload
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	embedded, err := b.inspect()
	if err != nil {
		return nil, err
	}
	if err := b.checkOverrides(embedded); err != nil {
		return nil, err
	}

	header := b.merge(embedded)
	b.effective = header.Clone()
	if missing := missingFields(header); len(missing) > 0 {
		return nil, newMissingMetadataError(missing)
	}

	endpoint := b.over.endpoint.Clone()
	if endpoint == nil {
		if b.resolver == nil {
			return nil, ErrNoResolver
		}
		endpoint, err = b.resolver.Resolve(ctx, header.Receiver, header.DocumentType, header.Process)
		if err != nil {
			return nil, err
		}
	}
	b.phase = PhaseResolved

	req := &Request{
		header:           header,
		endpoint:         endpoint,
		payload:          b.payload,
		systemIdentifier: b.over.systemIdentifier,
		overridden:       b.over.endpoint != nil,
	}
	b.phase = PhaseBuilt
	return req, nil
}

// inspect extracts the envelope once per payload, falling back to the
// sniffer for bare documents.
func (b *Builder) inspect() (*sbdh.StandardBusinessHeader, error) {
	if b.inspected {
		return b.extracted, nil
	}
	h, err := b.extractor.Extract(b.payload)
	if err != nil {
		return nil, err
	}
	if h == nil && b.sniffer != nil {
		// a bare document that cannot be sniffed contributes nothing
		var malformed *sbdh.MalformedPayloadError
		if h, err = b.sniffer.Sniff(b.payload); errors.As(err, &malformed) {
			h = nil
		} else if err != nil {
			return nil, err
		}
	}
	b.extracted, b.inspected = h, true
	return h, nil
}

// checkOverrides refuses overrides of fields an envelope determines.
// Values sniffed from a bare document are best effort and may always be
// overridden.
func (b *Builder) checkOverrides(embedded *sbdh.StandardBusinessHeader) error {
	if b.overrideAllowed || embedded == nil || embedded.Source == sbdh.SourceUBL {
		return nil
	}
	switch {
	case !b.over.sender.IsZero() && !embedded.Sender.IsZero():
		return &OverrideNotPermittedError{Field: FieldSender}
	case !b.over.receiver.IsZero() && !embedded.Receiver.IsZero():
		return &OverrideNotPermittedError{Field: FieldReceiver}
	case !b.over.documentType.IsZero() && !embedded.DocumentType.IsZero():
		return &OverrideNotPermittedError{Field: FieldDocumentType}
	case !b.over.process.IsZero() && !embedded.Process.IsZero():
		return &OverrideNotPermittedError{Field: FieldProcess}
	}
	return nil
}

// merge resolves every field as override, else embedded, else unset. The
// message identifier is the override, else the envelope's transmission id
// unless it names a document in the payload, else a generated one.
func (b *Builder) merge(embedded *sbdh.StandardBusinessHeader) *sbdh.StandardBusinessHeader {
	h := &sbdh.StandardBusinessHeader{}
	if embedded != nil {
		h = embedded.Clone()
	}
	if !b.over.sender.IsZero() {
		h.Sender = b.over.sender
	}
	if !b.over.receiver.IsZero() {
		h.Receiver = b.over.receiver
	}
	if !b.over.documentType.IsZero() {
		h.DocumentType = b.over.documentType
	}
	if !b.over.process.IsZero() {
		h.Process = b.over.process
	}
	switch {
	case !b.over.messageID.IsZero():
		h.MessageID = b.over.messageID
	case h.MessageID.IsZero(), slices.Contains(h.DocumentIdentifiers, h.MessageID.Value()):
		h.MessageID = identifier.GenerateMessageIdentifierExcluding(h.DocumentIdentifiers...)
	}
	return h
}

func missingFields(h *sbdh.StandardBusinessHeader) []string {
	var missing []string
	if h.Sender.IsZero() {
		missing = append(missing, FieldSender)
	}
	if h.Receiver.IsZero() {
		missing = append(missing, FieldReceiver)
	}
	if h.DocumentType.IsZero() {
		missing = append(missing, FieldDocumentType)
	}
	if h.Process.IsZero() {
		missing = append(missing, FieldProcess)
	}
	return missing
}

func requireSet(field string, zero bool) error {
	if zero {
		return &identifier.MalformedIdentifierError{Field: field, Reason: "must not be empty"}
	}
	return nil
}

// setErr records err if no error is recorded yet and reports whether the
// chained call may proceed.
func (b *Builder) setErr(err error) bool {
	if b.err != nil {
		return false
	}
	if err != nil {
		b.err = err
		return false
	}
	return true
}
