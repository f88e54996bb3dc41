package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"

	shop "github.com/eugener/goshop/internal"
	"github.com/eugener/goshop/internal/cache"
	"github.com/eugener/goshop/internal/pagination"
	"github.com/eugener/goshop/internal/telemetry"
)

const (
	// fillTimeout bounds a cache write after the response has been sent.
	fillTimeout = 2 * time.Second
	// maxCachedBody caps how much of a response is buffered for a fill.
	maxCachedBody = 1 << 20

	hitMessage = "data fetched from cache"
)

var (
	hitHeader  = []string{"HIT"}
	missHeader = []string{"MISS"}
)

const cacheHeader = "X-Cache"

var tracer = telemetry.Tracer("github.com/eugener/goshop/internal/server")

// KeyFunc derives the cache key of a request. Returning false bypasses the
// cache, leaving the handler to deal with the request (and reject it when
// its parameters are malformed).
type KeyFunc func(r *http.Request) (string, bool)

type cachedRoute struct {
	key   KeyFunc
	ttl   time.Duration
	allow func(id *shop.Identity, data []byte) bool
	skip  func(data []byte) bool
}

type cachedOption func(*cachedRoute)

// ownedOr restricts hits on user-owned payloads (carrying a top-level
// "user_id") to the owner and to holders of p. Anyone else gets a 404,
// as the handler would answer on a miss.
func ownedOr(p shop.Permission) cachedOption {
	return func(c *cachedRoute) {
		c.allow = func(id *shop.Identity, data []byte) bool {
			if id == nil {
				return false
			}
			return gjson.GetBytes(data, "user_id").Int() == id.UserID || id.Can(p)
		}
	}
}

// unlessBanned leaves payloads that report a banned user uncached. A ban
// ends when its flag expires, with no invalidation to drop such a view.
func unlessBanned() cachedOption {
	return func(c *cachedRoute) {
		c.skip = func(data []byte) bool {
			return gjson.GetBytes(data, "banned").Bool() ||
				gjson.GetBytes(data, "items.#(banned==true)").Exists()
		}
	}
}

// cached is the read-through interceptor. A hit is answered from the store
// without running the handler. On a miss the handler runs and the "data"
// member of a 200 response is stored under the key for ttl. Store failures
// degrade to a miss and never reach the client.
func (s *server) cached(key KeyFunc, ttl time.Duration, opts ...cachedOption) func(http.Handler) http.Handler {
	route := cachedRoute{key: key, ttl: ttl}
	for _, o := range opts {
		o(&route)
	}
	return func(next http.Handler) http.Handler {
		if s.deps.Cache == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k, ok := route.key(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			resource := resourceOf(k)

			if data, ok := s.lookup(r.Context(), k); ok {
				if route.allow != nil && !route.allow(shop.IdentityFromContext(r.Context()), data) {
					writeError(w, r, shop.ErrNotFound)
					return
				}
				if m := s.deps.Metrics; m != nil {
					m.CacheHits.WithLabelValues(resource).Inc()
				}
				w.Header()[cacheHeader] = hitHeader
				writeJSON(w, http.StatusOK, envelope{
					Status:  http.StatusOK,
					Message: hitMessage,
					Data:    json.RawMessage(data),
					Success: true,
					Cached:  true,
				})
				return
			}

			if m := s.deps.Metrics; m != nil {
				m.CacheMisses.WithLabelValues(resource).Inc()
			}
			w.Header()[cacheHeader] = missHeader
			cw := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(cw, r)

			if cw.status != http.StatusOK || cw.overflow {
				return
			}
			payload := gjson.GetBytes(cw.buf.Bytes(), "data")
			if !payload.Exists() {
				return
			}
			if route.skip != nil && route.skip([]byte(payload.Raw)) {
				return
			}
			s.fill(r.Context(), k, []byte(payload.Raw), route.ttl)
		})
	}
}

// lookup reads key from the store. Errors and payloads that are not valid
// JSON count as misses; the next fill overwrites a corrupt entry.
func (s *server) lookup(ctx context.Context, key string) ([]byte, bool) {
	data, ok, err := s.deps.Cache.Get(ctx, key)
	if err != nil {
		s.cacheError(ctx, "get", key, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if !gjson.ValidBytes(data) {
		slog.LogAttrs(ctx, slog.LevelWarn, "corrupt cache entry",
			slog.String("key", key),
			slog.Int("bytes", len(data)),
		)
		if m := s.deps.Metrics; m != nil {
			m.CacheErrors.WithLabelValues("decode").Inc()
		}
		return nil, false
	}
	return data, true
}

// fill stores a payload on a context detached from the client, so a
// disconnect after the response does not abort the write.
func (s *server) fill(ctx context.Context, key string, payload []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fillTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "cache.fill")
	defer span.End()
	span.SetAttributes(
		attribute.String("cache.key", key),
		attribute.Int("cache.bytes", len(payload)),
	)

	if err := s.deps.Cache.Set(ctx, key, payload, ttl); err != nil {
		span.RecordError(err)
		s.cacheError(ctx, "set", key, err)
	}
}

func (s *server) cacheError(ctx context.Context, op, key string, err error) {
	slog.LogAttrs(ctx, slog.LevelWarn, "cache store error",
		slog.String("op", op),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
	if m := s.deps.Metrics; m != nil {
		m.CacheErrors.WithLabelValues(op).Inc()
	}
}

// resourceOf returns the tag of a key, the text before the first colon.
func resourceOf(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}

// captureWriter passes the response through while keeping a copy of a 200
// body for the cache fill.
type captureWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	overflow    bool
	buf         bytes.Buffer
}

func (cw *captureWriter) WriteHeader(code int) {
	if !cw.wroteHeader {
		cw.status = code
		cw.wroteHeader = true
	}
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	cw.wroteHeader = true
	if cw.status == http.StatusOK && !cw.overflow {
		if cw.buf.Len()+len(b) > maxCachedBody {
			cw.overflow = true
			cw.buf.Reset()
		} else {
			cw.buf.Write(b)
		}
	}
	return cw.ResponseWriter.Write(b)
}

func (cw *captureWriter) Unwrap() http.ResponseWriter {
	return cw.ResponseWriter
}

// --- Key functions ---

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}

// entityKey keys a single entity by the "id" URL parameter.
func entityKey(tag string) KeyFunc {
	return func(r *http.Request) (string, bool) {
		id, ok := pathID(r, "id")
		if !ok {
			return "", false
		}
		return cache.EntityKey(tag, id), true
	}
}

// selfKey keys a singleton owned by the caller.
func selfKey(tag string) KeyFunc {
	return func(r *http.Request) (string, bool) {
		id := shop.IdentityFromContext(r.Context())
		if id == nil {
			return "", false
		}
		return cache.EntityKey(tag, id.UserID), true
	}
}

// pageKey keys one page of a collection. Cursor and limit go through
// pagination.Parse, the same canonicalization the handler applies.
func pageKey(tag string) KeyFunc {
	return func(r *http.Request) (string, bool) {
		p, err := pagination.Parse(r.URL.Query())
		if err != nil {
			return "", false
		}
		return cache.PageKey(tag, p.Cursor, p.Limit), true
	}
}

// scopedPageKey keys one page of a collection owned by the caller.
func scopedPageKey(tag string) KeyFunc {
	return func(r *http.Request) (string, bool) {
		id := shop.IdentityFromContext(r.Context())
		if id == nil {
			return "", false
		}
		p, err := pagination.Parse(r.URL.Query())
		if err != nil {
			return "", false
		}
		return cache.ScopedPageKey(tag, id.UserID, p.Cursor, p.Limit), true
	}
}
