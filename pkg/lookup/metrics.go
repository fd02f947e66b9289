package lookup

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Lookup outcomes used as the "outcome" label
const (
	outcomeSuccess            = "success"
	outcomeUnknownParticipant = "unknown_participant"
	outcomeUnsupportedService = "unsupported_service"
	outcomeCertificateInvalid = "certificate_invalid"
	outcomeTimeout            = "timeout"
	outcomeError              = "error"
)

// resolverMetrics holds the Prometheus collectors of a Resolver.
type resolverMetrics struct {
	lookups   *prometheus.CounterVec
	retries   prometheus.Counter
	hits      prometheus.Counter
	misses    prometheus.Counter
	shared    prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
	duration  prometheus.Histogram
}

// newResolverMetrics creates the collectors and registers them with reg when
// reg is not nil.
func newResolverMetrics(reg prometheus.Registerer) (*resolverMetrics, error) {
	m := &resolverMetrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oxalis",
			Subsystem: "lookup",
			Name:      "lookups_total",
			Help:      "Directory lookups by outcome",
		}, []string{"outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oxalis",
			Subsystem: "lookup",
			Name:      "retries_total",
			Help:      "Directory lookup attempts repeated after a timeout or network failure",
		}),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oxalis",
			Subsystem: "lookup",
			Name:      "cache_hits_total",
			Help:      "Resolutions answered from the endpoint cache",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oxalis",
			Subsystem: "lookup",
			Name:      "cache_misses_total",
			Help:      "Resolutions not found in the endpoint cache",
		}),
		shared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oxalis",
			Subsystem: "lookup",
			Name:      "shared_total",
			Help:      "Resolutions that joined a lookup already in flight",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oxalis",
			Subsystem: "lookup",
			Name:      "cache_evictions_total",
			Help:      "Endpoint cache entries evicted to make room",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "oxalis",
			Subsystem: "lookup",
			Name:      "cache_size",
			Help:      "Current number of cached endpoints",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "oxalis",
			Subsystem: "lookup",
			Name:      "duration_seconds",
			Help:      "Duration of directory lookups including retries",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.lookups, m.retries, m.hits, m.misses, m.shared, m.evictions, m.size, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *resolverMetrics) recordLookup(err error, elapsed time.Duration) {
	m.duration.Observe(elapsed.Seconds())
	m.lookups.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, ErrUnknownParticipant):
		return outcomeUnknownParticipant
	case errors.Is(err, ErrUnsupportedService):
		return outcomeUnsupportedService
	case errors.Is(err, ErrCertificateInvalid):
		return outcomeCertificateInvalid
	case errors.Is(err, ErrResolutionTimeout):
		return outcomeTimeout
	default:
		return outcomeError
	}
}
