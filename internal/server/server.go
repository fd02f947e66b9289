// Package server provides the HTTP server of the outbound access point.
//
// # Transmission API
//
//   - POST /api/transmissions              - Submit a document for transmission
//   - GET  /api/transmissions              - List journalled transmissions
//   - GET  /api/transmissions/{messageID}  - Get one journal entry
//
// A submission carries the document (SBDH, XHE or a bare UBL document) as
// the request body. Header and endpoint overrides are passed as query
// parameters: sender, receiver, documentType, process, messageId,
// endpoint, transportProfile and as2SystemIdentifier. Header overrides are
// only honoured in test mode.
//
// # Status, Health & Metrics
//
//   - GET /status  - Plain text build, mode and certificate information
//   - GET /health  - Liveness probe
//   - GET /ready   - Readiness probe (journal reachable)
//   - GET /metrics - Prometheus metrics (if enabled)
package server

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rdehuyss/oxalis/internal/config"
	"github.com/rdehuyss/oxalis/internal/outbound"
	"github.com/rdehuyss/oxalis/internal/storage"
	"github.com/rdehuyss/oxalis/pkg/identifier"
	"github.com/rdehuyss/oxalis/pkg/lookup"
	"github.com/rdehuyss/oxalis/pkg/sbdh"
	"github.com/rdehuyss/oxalis/pkg/transmission"
)

// BuildInfo identifies the running binary
type BuildInfo struct {
	Version   string
	BuildID   string
	Timestamp string
}

// Deps are the collaborators of a Server
type Deps struct {
	Outbound *outbound.Service
	Build    BuildInfo
	// Certificate is the access point certificate reported on /status
	Certificate *x509.Certificate
	// Gatherer serves /metrics; prometheus.DefaultGatherer when nil
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	// Now is the clock used for certificate expiry, time.Now when nil
	Now func() time.Time
}

// Server is the access point HTTP server
type Server struct {
	config   *config.Config
	logger   *slog.Logger
	httpSrv  *http.Server
	outbound *outbound.Service
	build    BuildInfo
	cert     *x509.Certificate
	gatherer prometheus.Gatherer
	now      func() time.Time
}

// New creates a new server
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Outbound == nil {
		return nil, errors.New("server: outbound service is required")
	}
	s := &Server{
		config:   cfg,
		logger:   deps.Logger,
		outbound: deps.Outbound,
		build:    deps.Build,
		cert:     deps.Certificate,
		gatherer: deps.Gatherer,
		now:      deps.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	if s.now == nil {
		s.now = time.Now
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpSrv = &http.Server{
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start begins listening on the specified address
func (s *Server) Start(addr string) error {
	s.httpSrv.Addr = addr
	s.logger.Info("starting server", "addr", addr, "tls", s.config.Server.TLS.Enabled, "mode", s.config.Mode)
	if s.config.Server.TLS.Enabled {
		return s.httpSrv.ListenAndServeTLS(
			s.config.Server.TLS.CertFile,
			s.config.Server.TLS.KeyFile,
		)
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /status", s.handleStatus)

	mux.HandleFunc("POST /api/transmissions", s.handleSubmit)
	mux.HandleFunc("GET /api/transmissions", s.handleListTransmissions)
	mux.HandleFunc("GET /api/transmissions/{messageID}", s.handleGetTransmission)

	if s.config.Observability.Metrics.Enabled {
		mux.Handle("GET "+s.config.Observability.Metrics.Path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.outbound.Ping(r.Context()); err != nil {
		s.jsonError(w, "journal not ready", http.StatusServiceUnavailable)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "ready"}, http.StatusOK)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	fmt.Fprintf(w, "version.oxalis: %s\n", s.build.Version)
	fmt.Fprintf(w, "version.go: %s\n", runtime.Version())
	fmt.Fprintf(w, "oxalis.operation.mode: %s\n", s.config.Mode)
	if host := s.config.Lookup.SMLDomain; host != "" {
		fmt.Fprintf(w, "lookup.locator.hostname: %s\n", host)
	}
	if s.cert != nil {
		fmt.Fprintf(w, "certificate.subject: %s\n", s.cert.Subject)
		fmt.Fprintf(w, "certificate.issuer: %s\n", s.cert.Issuer)
		fmt.Fprintf(w, "certificate.expired: %t\n", s.cert.NotAfter.Before(s.now()))
	}
	fmt.Fprintf(w, "build.id: %s\n", s.build.BuildID)
	fmt.Fprintf(w, "build.tstamp: %s\n", s.build.Timestamp)
}

// Transmission handlers

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.Server.MaxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.jsonError(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		s.jsonError(w, "payload is required", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	ov := outbound.Overrides{
		Sender:              q.Get("sender"),
		Receiver:            q.Get("receiver"),
		DocumentType:        q.Get("documentType"),
		Process:             q.Get("process"),
		MessageID:           q.Get("messageId"),
		EndpointURL:         q.Get("endpoint"),
		TransportProfile:    q.Get("transportProfile"),
		AS2SystemIdentifier: q.Get("as2SystemIdentifier"),
	}

	rec, err := s.outbound.Prepare(r.Context(), body, ov)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("failed to prepare transmission", "error", err, "status", status)
		}
		s.jsonError(w, err.Error(), status)
		return
	}

	s.jsonResponse(w, rec, http.StatusCreated)
}

func (s *Server) handleListTransmissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := &storage.TransmissionFilter{
		Sender:   q.Get("sender"),
		Receiver: q.Get("receiver"),
		Status:   storage.TransmissionStatus(q.Get("status")),
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			s.jsonError(w, "since must be an RFC 3339 timestamp", http.StatusBadRequest)
			return
		}
		filter.Since = &t
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset > 0 {
			filter.Offset = offset
		}
	}

	records, err := s.outbound.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list transmissions", "error", err)
		s.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, map[string]interface{}{
		"transmissions": records,
		"limit":         filter.Limit,
		"offset":        filter.Offset,
	}, http.StatusOK)
}

func (s *Server) handleGetTransmission(w http.ResponseWriter, r *http.Request) {
	rec, err := s.outbound.Get(r.Context(), r.PathValue("messageID"))
	if errors.Is(err, storage.ErrNotFound) {
		s.jsonError(w, "transmission not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("failed to get transmission", "error", err)
		s.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, rec, http.StatusOK)
}

// statusFor maps a preparation failure onto an HTTP status
func statusFor(err error) int {
	var (
		malformedID      *identifier.MalformedIdentifierError
		malformedPayload *sbdh.MalformedPayloadError
		missing          *transmission.MissingMetadataError
		notPermitted     *transmission.OverrideNotPermittedError
		resolution       *lookup.ResolutionError
	)
	switch {
	case errors.As(err, &resolution) && errors.Is(err, lookup.ErrInvalidEndpoint):
		// the directory published an unusable endpoint
		return http.StatusBadGateway
	case errors.As(err, &malformedID),
		errors.As(err, &malformedPayload),
		errors.As(err, &missing),
		errors.As(err, &notPermitted),
		errors.Is(err, outbound.ErrInvalidOverride),
		errors.Is(err, lookup.ErrInvalidEndpoint),
		errors.Is(err, transmission.ErrNoPayload):
		return http.StatusBadRequest
	case errors.Is(err, lookup.ErrUnknownParticipant),
		errors.Is(err, lookup.ErrUnsupportedService):
		return http.StatusUnprocessableEntity
	case errors.Is(err, lookup.ErrCertificateInvalid),
		errors.Is(err, lookup.ErrCertificateRevoked):
		return http.StatusBadGateway
	case errors.Is(err, lookup.ErrResolutionTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Helper functions

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) jsonError(w http.ResponseWriter, message string, status int) {
	s.jsonResponse(w, map[string]string{"error": message}, status)
}
