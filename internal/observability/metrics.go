// Package observability holds the Prometheus collectors for the
// data-access layer. The fallback counter is the signal operators watch to
// detect a failing primary backend.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all metrics for the layer, registered on its own
// registry so tests can construct collectors freely.
type Collector struct {
	registry *prometheus.Registry

	// FallbackTotal counts fallback transitions, labeled with the failing
	// operation, both backends, and the error classification.
	FallbackTotal *prometheus.CounterVec

	// BackendOpDuration observes backend round-trip latency.
	BackendOpDuration *prometheus.HistogramVec

	// Cache counters mirror the cache.Store statistics for scraping.
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheStaleHits prometheus.Counter
}

// NewCollector creates and registers the layer's metrics under namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		FallbackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_fallback_total",
				Help:      "Fallback transitions from the primary to the secondary backend",
			},
			[]string{"operation", "from_backend", "to_backend", "error_class"},
		),
		BackendOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_operation_duration_seconds",
				Help:      "Backend operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "backend", "status"},
		),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Fresh cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Cache misses",
		}),
		CacheStaleHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_stale_hits_total",
			Help:      "Stale entries served while a refresh was scheduled",
		}),
	}

	registry.MustRegister(
		c.FallbackTotal,
		c.BackendOpDuration,
		c.CacheHits,
		c.CacheMisses,
		c.CacheStaleHits,
	)
	return c
}

// ObserveBackendOp records one backend round trip.
func (c *Collector) ObserveBackendOp(operation, backend string, err error, elapsed time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	c.BackendOpDuration.WithLabelValues(operation, backend, status).Observe(elapsed.Seconds())
}

// Handler exposes the registry for the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
