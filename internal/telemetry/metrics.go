// Package telemetry provides observability primitives for GoShop.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "goshop"

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge

	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
	CacheErrors *prometheus.CounterVec

	Invalidations      *prometheus.CounterVec
	InvalidationErrors prometheus.Counter
	KeysInvalidated    prometheus.Counter
	InvalidationQueue  prometheus.Gauge

	Bans        prometheus.Counter
	BannedHits  prometheus.Counter
	BanRestores prometheus.Counter

	RateLimitRejects *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       namespace,
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds, split by cache outcome.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path", "cache"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Read-through cache hits by resource tag.",
		}, []string{"resource"}),

		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Read-through cache misses by resource tag.",
		}, []string{"resource"}),

		CacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_errors_total",
			Help:      "Cache store errors by operation.",
		}, []string{"op"}),

		Invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidations_total",
			Help:      "Invalidation batches by mutation kind.",
		}, []string{"kind"}),

		InvalidationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidation_errors_total",
			Help:      "Failed key or pattern deletions.",
		}),

		KeysInvalidated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keys_invalidated_total",
			Help:      "Cache keys removed by invalidation.",
		}),

		InvalidationQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "invalidation_queue_length",
			Help:      "Invalidation batches waiting for the background worker.",
		}),

		Bans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bans_total",
			Help:      "Ban flags set.",
		}),

		BannedHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "banned_requests_total",
			Help:      "Authenticated requests rejected by a ban flag.",
		}),

		BanRestores: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ban_flags_restored_total",
			Help:      "Ban flags re-asserted from persisted bans.",
		}),

		RateLimitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_rejects_total",
			Help:      "Credential requests rejected by the per-client throttle.",
		}, []string{"path"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.CacheHits,
		m.CacheMisses,
		m.CacheErrors,
		m.Invalidations,
		m.InvalidationErrors,
		m.KeysInvalidated,
		m.InvalidationQueue,
		m.Bans,
		m.BannedHits,
		m.BanRestores,
		m.RateLimitRejects,
	)

	return m
}
