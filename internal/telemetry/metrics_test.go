package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	if m.RequestsTotal == nil || m.RequestDuration == nil || m.ActiveRequests == nil {
		t.Error("request metrics are nil")
	}
	if m.CacheHits == nil || m.CacheMisses == nil || m.CacheErrors == nil {
		t.Error("cache metrics are nil")
	}
	if m.Invalidations == nil || m.InvalidationErrors == nil || m.KeysInvalidated == nil {
		t.Error("invalidation metrics are nil")
	}

	// Verify metrics can be gathered without error.
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected at least one metric family")
	}
}

func TestNewMetricsIncrement(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	m.RequestsTotal.WithLabelValues("GET", "/api/product", "200").Inc()
	m.CacheHits.WithLabelValues("products").Inc()
	m.CacheMisses.WithLabelValues("products").Inc()
	m.CacheErrors.WithLabelValues("get").Inc()
	m.Invalidations.WithLabelValues("product.update").Inc()
	m.KeysInvalidated.Add(3)
	m.Bans.Inc()
	m.RequestDuration.WithLabelValues("GET", "/api/product", "hit").Observe(0.012)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather after increment: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	want := []string{
		"goshop_requests_total",
		"goshop_cache_hits_total",
		"goshop_cache_misses_total",
		"goshop_cache_errors_total",
		"goshop_invalidations_total",
		"goshop_keys_invalidated_total",
		"goshop_bans_total",
		"goshop_request_duration_seconds",
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("missing metric %q in gathered families", name)
		}
	}
}

// SetupTracing is not unit-tested because it requires a gRPC connection
// to an OTLP collector, which is integration-test territory.
