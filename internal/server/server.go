// Package server implements the HTTP transport layer for the GoShop backend.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	shop "github.com/eugener/goshop/internal"
	"github.com/eugener/goshop/internal/app"
	"github.com/eugener/goshop/internal/cache"
	"github.com/eugener/goshop/internal/ratelimit"
	"github.com/eugener/goshop/internal/telemetry"
)

// Default TTLs applied when Deps leaves them zero.
const (
	defaultCacheTTL = 300 * time.Second
	defaultBanTTL   = 90 * time.Second
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Banner places temporary bans.
type Banner interface {
	Ban(ctx context.Context, userID, bannedBy int64, reason string, ttl time.Duration) (*shop.Ban, error)
}

// Restorer re-asserts ban flags lost with a cache purge.
type Restorer interface {
	Restore(ctx context.Context) (int, error)
}

// CookieConfig controls the token cookies set for browser clients.
type CookieConfig struct {
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth           shop.Authenticator
	Accounts       *app.Accounts
	Users          *app.Users
	Catalog        *app.Catalog
	Orders         *app.Orders
	Bans           Banner              // nil = ban endpoint unavailable
	Restorer       Restorer            // nil = purge leaves ban flags to the restore worker
	Cache          cache.Store         // nil = no caching
	AuthLimiter    *ratelimit.Registry // nil = credential endpoints not throttled
	CacheTTL       time.Duration       // 0 = 300s
	BanTTL         time.Duration       // 0 = 90s
	Cookies        CookieConfig
	ReadyCheck     ReadyChecker       // nil = always ready (for tests)
	Metrics        *telemetry.Metrics // nil = no request metrics
	MetricsHandler http.Handler       // nil = /metrics not mounted
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	if deps.CacheTTL <= 0 {
		deps.CacheTTL = defaultCacheTTL
	}
	if deps.BanTTL <= 0 {
		deps.BanTTL = defaultBanTTL
	}
	s := &server{deps: deps}
	ttl := deps.CacheTTL

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	r.Use(s.logging)

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.throttle)
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.Post("/refresh-token", s.handleRefresh)
		})
		r.Get("/verify-email/{token}", s.handleVerifyEmail)
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Post("/logout", s.handleLogout)
			r.Get("/address", s.handleGetAddress)
			r.Post("/address", s.handleSaveAddress)
		})
	})

	r.Route("/api/user", func(r chi.Router) {
		r.Use(s.authenticate)
		r.With(s.cached(selfKey(cache.TagMe), ttl)).Get("/me", s.handleMe)
		r.Group(func(r chi.Router) {
			r.Use(require(shop.PermViewUserInfo))
			r.With(s.cached(pageKey(cache.TagUsers), ttl, unlessBanned())).Get("/", s.handleListUsers)
			r.With(s.cached(entityKey(cache.TagUser), ttl, unlessBanned())).Get("/{id}", s.handleGetUser)
		})
		r.With(require(shop.PermBanUser)).Post("/ban/{id}", s.handleBan)
		r.Group(func(r chi.Router) {
			r.Use(require(shop.PermPromoteUser))
			r.Post("/promote/{id}", s.handlePromote)
			r.Post("/demote/{id}", s.handleDemote)
		})
	})

	r.Route("/api/permission", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(require(shop.PermPromoteUser))
		r.With(s.cached(entityKey(cache.TagPermission), ttl)).Get("/{id}", s.handleGetPermissions)
		r.Put("/{id}", s.handleUpdatePermissions)
	})

	r.Route("/api/category", func(r chi.Router) {
		r.With(s.cached(pageKey(cache.TagCategories), ttl)).Get("/", s.handleListCategories)
		r.With(s.cached(entityKey(cache.TagCategory), ttl)).Get("/{id}", s.handleGetCategory)
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Use(require(shop.PermCrudCategory))
			r.Post("/", s.handleCreateCategory)
			r.Put("/{id}", s.handleUpdateCategory)
			r.Delete("/{id}", s.handleDeleteCategory)
		})
	})

	r.Route("/api/product", func(r chi.Router) {
		r.With(s.cached(pageKey(cache.TagProducts), ttl)).Get("/", s.handleListProducts)
		r.With(s.cached(entityKey(cache.TagProduct), ttl)).Get("/{id}", s.handleGetProduct)
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Use(require(shop.PermCrudProduct))
			r.Post("/", s.handleCreateProduct)
			r.Put("/{id}", s.handleUpdateProduct)
			r.Delete("/{id}", s.handleDeleteProduct)
		})
	})

	r.Route("/api/review", func(r chi.Router) {
		r.With(s.cached(entityKey(cache.TagReviews), ttl)).Get("/{id}", s.handleListReviews)
		r.With(s.authenticate).Post("/", s.handleCreateReview)
	})

	r.Route("/api/cart", func(r chi.Router) {
		r.Use(s.authenticate)
		r.With(s.cached(selfKey(cache.TagCart), ttl)).Get("/", s.handleGetCart)
		r.Post("/add", s.handleAddToCart)
		r.Put("/update", s.handleUpdateCartItem)
		r.Delete("/remove", s.handleRemoveFromCart)
	})

	r.Route("/api/order", func(r chi.Router) {
		r.Use(s.authenticate)
		r.With(s.cached(scopedPageKey(cache.TagOrders), ttl)).Get("/", s.handleListOrders)
		r.With(s.cached(entityKey(cache.TagOrder), ttl, ownedOr(shop.PermViewOrders))).Get("/{id}", s.handleGetOrder)
		r.Post("/", s.handlePlaceOrder)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(adminOnly)
		r.Delete("/cache", s.handlePurgeCache)
	})

	return r
}

type server struct {
	deps Deps
}
