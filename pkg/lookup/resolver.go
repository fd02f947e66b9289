package lookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/rdehuyss/oxalis/pkg/identifier"
)

// Config configures a Resolver. Zero values get the defaults of DefaultConfig.
type Config struct {
	// CacheTTL bounds how long a resolved endpoint is reused
	CacheTTL time.Duration
	// MaxEntries bounds the number of cached endpoints
	MaxEntries int
	// LookupTimeout bounds each directory lookup attempt
	LookupTimeout time.Duration
	Retry         RetryConfig

	// Validator checks endpoint certificates; ExpiryValidator when nil
	Validator CertificateValidator
	Logger    *slog.Logger
	// Registerer receives the resolver metrics; metrics are not exported when nil
	Registerer prometheus.Registerer
	// Now is the cache clock, time.Now when nil
	Now func() time.Time
}

// RetryConfig bounds the retries of lookups that timed out or failed on the
// network. Other failures are never retried.
type RetryConfig struct {
	// MaxAttempts includes the first attempt
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter is the randomization factor applied to each delay (0 disables)
	Jitter float64
}

// DefaultConfig returns the resolver defaults
func DefaultConfig() Config {
	return Config{
		CacheTTL:      10 * time.Minute,
		MaxEntries:    10000,
		LookupTimeout: 10 * time.Second,
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
			Jitter:       0.25,
		},
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = d.MaxEntries
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = d.LookupTimeout
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = d.Retry.MaxAttempts
	}
	if c.Retry.InitialDelay <= 0 {
		c.Retry.InitialDelay = d.Retry.InitialDelay
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		c.Retry.MaxDelay = max(d.Retry.MaxDelay, c.Retry.InitialDelay)
	}
	if c.Retry.Multiplier < 1 {
		c.Retry.Multiplier = d.Retry.Multiplier
	}
	if c.Validator == nil {
		c.Validator = ExpiryValidator{Now: c.Now}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Resolver resolves endpoints through a Directory.
//
// Resolved endpoints are cached per (participant, document type, process)
// until CacheTTL passes. Concurrent resolutions of one key share a single
// directory lookup. A caller whose context ends stops waiting at once; the
// lookup itself runs on a detached context and still fills the cache for
// the callers that remain. Only validated endpoints are cached.
//
// A Resolver is safe for concurrent use.
type Resolver struct {
	dir     Directory
	cfg     Config
	cache   *endpointCache
	flights singleflight.Group
	metrics *resolverMetrics
	logger  *slog.Logger
}

// NewResolver creates a Resolver in front of dir. cfg may be nil.
func NewResolver(dir Directory, cfg *Config) (*Resolver, error) {
	if dir == nil {
		return nil, errors.New("lookup: directory is required")
	}
	var c Config
	if cfg != nil {
		c = *cfg
	}
	c.applyDefaults()

	metrics, err := newResolverMetrics(c.Registerer)
	if err != nil {
		return nil, fmt.Errorf("lookup: register metrics: %w", err)
	}

	return &Resolver{
		dir:     dir,
		cfg:     c,
		cache:   newEndpointCache(c.CacheTTL, c.MaxEntries, c.Now),
		metrics: metrics,
		logger:  c.Logger.With("component", "resolver"),
	}, nil
}

// Resolve returns the endpoint serving participant for documentType and
// process. The returned value belongs to the caller.
func (r *Resolver) Resolve(ctx context.Context, participant identifier.ParticipantIdentifier, documentType identifier.DocumentTypeIdentifier, process identifier.ProcessIdentifier) (*EndpointData, error) {
	if participant.IsZero() || documentType.IsZero() || process.IsZero() {
		return nil, errors.New("lookup: participant, document type and process are required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := newCacheKey(participant, documentType, process)
	if ep, ok := r.cache.get(key); ok {
		r.metrics.hits.Inc()
		return ep.Clone(), nil
	}
	r.metrics.misses.Inc()

	flightKey := key.participant.URI() + "|" + key.documentType + "|" + key.process
	detached := context.WithoutCancel(ctx)
	ch := r.flights.DoChan(flightKey, func() (any, error) {
		return r.lookup(detached, key, participant, documentType, process)
	})

	select {
	case res := <-ch:
		if res.Shared {
			r.metrics.shared.Inc()
		}
		if res.Err != nil {
			return nil, &ResolutionError{Participant: participant, DocumentType: documentType, Process: process, Err: res.Err}
		}
		return res.Val.(*EndpointData).Clone(), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("resolve %s: %w", participant, ctx.Err())
	}
}

// lookup runs inside a flight.
func (r *Resolver) lookup(ctx context.Context, key cacheKey, participant identifier.ParticipantIdentifier, documentType identifier.DocumentTypeIdentifier, process identifier.ProcessIdentifier) (*EndpointData, error) {
	// A flight may start right after another one for the same key finished.
	if ep, ok := r.cache.get(key); ok {
		return ep, nil
	}

	start := time.Now()
	ep, err := r.lookupWithRetry(ctx, participant, documentType, process)
	if err == nil {
		err = r.validate(ctx, ep)
	}
	r.metrics.recordLookup(err, time.Since(start))

	if err != nil {
		r.logger.Debug("endpoint lookup failed",
			"participant", participant.String(),
			"documentType", documentType.String(),
			"process", process.String(),
			"error", err)
		return nil, err
	}

	if evicted := r.cache.set(key, ep); evicted > 0 {
		r.metrics.evictions.Add(float64(evicted))
	}
	r.metrics.size.Set(float64(r.cache.len()))

	r.logger.Debug("endpoint resolved",
		"participant", participant.String(),
		"documentType", documentType.String(),
		"profile", ep.TransportProfile.String(),
		"duration", time.Since(start))
	return ep, nil
}

func (r *Resolver) lookupWithRetry(ctx context.Context, participant identifier.ParticipantIdentifier, documentType identifier.DocumentTypeIdentifier, process identifier.ProcessIdentifier) (*EndpointData, error) {
	attempts := 0
	op := func() (*EndpointData, error) {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.LookupTimeout)
		defer cancel()

		ep, err := r.dir.Lookup(attemptCtx, participant, documentType, process)
		if err != nil {
			if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !IsRetryable(err) {
				err = fmt.Errorf("%w: no answer within %s: %v", ErrResolutionTimeout, r.cfg.LookupTimeout, err)
			}
			err = classify(err)
			if !IsRetryable(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if ep == nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: directory returned no endpoint", ErrInvalidEndpoint))
		}
		if err := ep.Validate(); err != nil {
			return nil, backoff.Permanent(err)
		}
		return ep.Clone(), nil
	}

	notify := func(err error, delay time.Duration) {
		r.metrics.retries.Inc()
		r.logger.Warn("directory lookup failed, retrying",
			"participant", participant.String(),
			"attempt", attempts,
			"delay", delay,
			"error", err)
	}

	ep, err := backoff.RetryNotifyWithData(op, r.backoff(ctx), notify)
	if err != nil && IsRetryable(err) {
		return nil, fmt.Errorf("giving up after %d attempts: %w", attempts, err)
	}
	return ep, err
}

func (r *Resolver) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.Retry.InitialDelay
	b.MaxInterval = r.cfg.Retry.MaxDelay
	b.Multiplier = r.cfg.Retry.Multiplier
	b.RandomizationFactor = r.cfg.Retry.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.cfg.Retry.MaxAttempts-1)), ctx)
}

// validate checks the endpoint certificate within LookupTimeout. The flight
// context carries no deadline of its own.
func (r *Resolver) validate(ctx context.Context, ep *EndpointData) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.LookupTimeout)
	defer cancel()

	err := r.cfg.Validator.ValidateCertificate(ctx, ep.Certificate)
	switch {
	case err == nil, errors.Is(err, ErrCertificateInvalid):
		return err
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: certificate check took longer than %s: %v", ErrResolutionTimeout, r.cfg.LookupTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrCertificateInvalid, err)
}

// Invalidate drops the cached endpoint of one key
func (r *Resolver) Invalidate(participant identifier.ParticipantIdentifier, documentType identifier.DocumentTypeIdentifier, process identifier.ProcessIdentifier) {
	r.cache.delete(newCacheKey(participant, documentType, process))
	r.metrics.size.Set(float64(r.cache.len()))
}

// InvalidateParticipant drops every cached endpoint of participant and
// returns how many were dropped.
func (r *Resolver) InvalidateParticipant(participant identifier.ParticipantIdentifier) int {
	n := r.cache.deleteParticipant(participant)
	r.metrics.size.Set(float64(r.cache.len()))
	return n
}

// Purge empties the cache
func (r *Resolver) Purge() {
	r.cache.purge()
	r.metrics.size.Set(0)
}

// Len returns the number of cached endpoints, expired ones included
func (r *Resolver) Len() int {
	return r.cache.len()
}
