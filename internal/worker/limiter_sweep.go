package worker

import (
	"context"
	"log/slog"
	"time"
)

const (
	limiterSweepInterval = time.Minute
	limiterIdle          = 10 * time.Minute
)

// Evicter drops per-client state not touched since cutoff.
type Evicter interface {
	EvictStale(cutoff time.Time) int
}

// LimiterSweepWorker bounds the memory held by the login throttle by
// forgetting clients that have gone quiet.
type LimiterSweepWorker struct {
	limiter  Evicter
	interval time.Duration
	idle     time.Duration
}

// NewLimiterSweepWorker creates a LimiterSweepWorker.
func NewLimiterSweepWorker(l Evicter) *LimiterSweepWorker {
	return &LimiterSweepWorker{limiter: l, interval: limiterSweepInterval, idle: limiterIdle}
}

// Name returns the worker identifier.
func (w *LimiterSweepWorker) Name() string { return "limiter_sweep" }

// Run sweeps on every tick until ctx is cancelled.
func (w *LimiterSweepWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := w.limiter.EvictStale(time.Now().Add(-w.idle)); n > 0 {
				slog.LogAttrs(ctx, slog.LevelDebug, "rate limiters evicted",
					slog.Int("count", n),
				)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
