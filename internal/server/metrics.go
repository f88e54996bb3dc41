package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eugener/goshop/internal/telemetry"
)

// statusText maps HTTP status codes to pre-allocated strings,
// avoiding a strconv.Itoa allocation per request.
var statusText [600]string

func init() {
	for i := range statusText {
		statusText[i] = strconv.Itoa(i)
	}
}

// metricsMiddleware records request count and active requests, and request
// duration by cache outcome so hit and miss latency can be compared.
func metricsMiddleware(m *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.ActiveRequests.Inc()
			start := time.Now()

			sw := statusWriterPool.Get().(*statusWriter)
			sw.ResponseWriter = w
			sw.status = http.StatusOK
			sw.wroteHeader = false

			next.ServeHTTP(sw, r)

			elapsed := time.Since(start).Seconds()
			status := sw.status
			sw.ResponseWriter = nil
			statusWriterPool.Put(sw)

			m.ActiveRequests.Dec()

			pattern := routePattern(r)
			m.RequestsTotal.WithLabelValues(r.Method, pattern, statusText[status]).Inc()
			m.RequestDuration.WithLabelValues(r.Method, pattern, cacheOutcome(w.Header())).Observe(elapsed)
		})
	}
}

// cacheOutcome labels a response by its X-Cache header: "hit", "miss", or
// "none" for routes the interceptor does not cover.
func cacheOutcome(h http.Header) string {
	v := h[cacheHeader]
	switch {
	case len(v) == 0:
		return "none"
	case v[0] == hitHeader[0]:
		return "hit"
	case v[0] == missHeader[0]:
		return "miss"
	default:
		return "none"
	}
}

// routePattern returns the chi route pattern for bounded cardinality,
// falling back to the raw path for unmatched routes.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}
