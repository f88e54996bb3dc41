package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eugener/goshop/internal/app"
	"github.com/eugener/goshop/internal/auth"
	"github.com/eugener/goshop/internal/ban"
	"github.com/eugener/goshop/internal/cache"
	"github.com/eugener/goshop/internal/config"
	"github.com/eugener/goshop/internal/invalidate"
	"github.com/eugener/goshop/internal/ratelimit"
	"github.com/eugener/goshop/internal/server"
	"github.com/eugener/goshop/internal/storage/sqlite"
	"github.com/eugener/goshop/internal/telemetry"
	"github.com/eugener/goshop/internal/worker"
)

// memoryCeiling bounds entry lifetime in the in-process store.
const memoryCeiling = 24 * time.Hour

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting goshop", "version", version, "addr", cfg.Server.Addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	if cfg.Telemetry.Tracing.Enabled {
		shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			if err := shutdownTracing(sctx); err != nil {
				slog.Warn("tracing shutdown", "error", err)
			}
		}()
	}

	// Metrics
	var (
		metrics        *telemetry.Metrics
		metricsHandler http.Handler
	)
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	// Open database
	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	// Bootstrap from config
	seeded, err := config.Bootstrap(ctx, cfg, store)
	if err != nil {
		return err
	}

	// Cache store
	kv, closeKV, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeKV()

	// Wire services
	tokens, err := auth.NewTokens(auth.TokenConfig{
		AccessSecret:  cfg.Auth.AccessSecret,
		RefreshSecret: cfg.Auth.RefreshSecret,
		Issuer:        cfg.Auth.Issuer,
		AccessTTL:     cfg.Auth.AccessTTL,
		RefreshTTL:    cfg.Auth.RefreshTTL,
	})
	if err != nil {
		return err
	}

	coord := invalidate.New(kv, metrics)
	var dispatch invalidate.Dispatcher = invalidate.Sync{C: coord}
	var workers []worker.Worker
	if cfg.Cache.Invalidation == config.InvalidationBackground {
		q := worker.NewInvalidationQueue(coord, metrics)
		dispatch = q
		workers = append(workers, q)
	}

	// A shared cache can still hold user listings from before the seed.
	if seeded != nil {
		dispatch.Dispatch(ctx, invalidate.Change{Kind: invalidate.UserCreated, ID: seeded.ID})
	}

	flags := ban.New(kv, store, dispatch, metrics)
	workers = append(workers, worker.NewBanRestoreWorker(flags))

	var limiter *ratelimit.Registry
	if cfg.Auth.RatePerMinute > 0 {
		limiter = ratelimit.NewRegistry(cfg.Auth.RatePerMinute)
		workers = append(workers, worker.NewLimiterSweepWorker(limiter))
	}

	jwtAuth, err := auth.NewJWTAuth(tokens, store, flags)
	if err != nil {
		return err
	}
	coord.AddEvictor(jwtAuth)

	deps := server.Deps{
		Auth:        jwtAuth,
		Accounts:    app.NewAccounts(store, tokens, app.LogMailer{}, dispatch, cfg.Server.BaseURL),
		Users:       app.NewUsers(store, flags, dispatch),
		Catalog:     app.NewCatalog(store, dispatch),
		Orders:      app.NewOrders(store, dispatch, coord, cfg.Cache.TTL),
		Bans:        flags,
		Restorer:    flags,
		AuthLimiter: limiter,
		CacheTTL:    cfg.Cache.TTL,
		BanTTL:      cfg.Cache.BanTTL,
		Cookies: server.CookieConfig{
			Secure:     cfg.Auth.SecureCookies,
			AccessTTL:  cfg.Auth.AccessTTL,
			RefreshTTL: cfg.Auth.RefreshTTL,
		},
		ReadyCheck: func(ctx context.Context) error {
			if err := store.Ping(ctx); err != nil {
				return err
			}
			return kv.Ping(ctx)
		},
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
	}
	if cfg.Cache.Enabled {
		deps.Cache = kv
	}

	// Background workers
	runner := worker.NewRunner(workers...)
	runnerDone := make(chan error, 1)
	go func() { runnerDone <- runner.Run(ctx) }()

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.New(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("goshop ready",
		"addr", cfg.Server.Addr,
		"cache", cfg.Cache.Backend,
		"invalidation", cfg.Cache.Invalidation,
	)

	// Wait for signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	case err := <-runnerDone:
		if err != nil {
			return err
		}
	}

	// Shutdown: stop accepting requests first, then let the workers drain.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	cancel()
	select {
	case err := <-runnerDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("worker stopped with error", "error", err)
		}
	case <-shutdownCtx.Done():
		slog.Warn("workers did not stop before the shutdown timeout")
	}

	slog.Info("goshop stopped")
	return nil
}

// openCache builds the configured store, wrapped in a circuit breaker when
// enabled. The returned func releases the connection.
func openCache(ctx context.Context, cfg *config.Config) (cache.Store, func(), error) {
	var (
		kv      cache.Store
		closeKV = func() {}
	)
	switch cfg.Cache.Backend {
	case config.BackendRedis:
		r, err := cache.NewRedis(ctx, cache.RedisOptions{
			URL:       cfg.Redis.URL,
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			PoolSize:  cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, nil, err
		}
		kv = r
		closeKV = func() {
			if err := r.Close(); err != nil {
				slog.Warn("redis close", "error", err)
			}
		}
	default:
		m, err := cache.NewMemory(cfg.Cache.MaxSize, max(memoryCeiling, cfg.Cache.TTL, cfg.Cache.BanTTL))
		if err != nil {
			return nil, nil, err
		}
		kv = m
	}

	if b := cfg.Cache.Breaker; b.Enabled {
		kv = cache.NewGuard(kv, cache.BreakerConfig{
			ErrorThreshold: b.ErrorThreshold,
			MinSamples:     b.MinSamples,
			WindowSeconds:  b.WindowSeconds,
			OpenTimeout:    b.OpenTimeout,
		})
	}
	return kv, closeKV, nil
}
