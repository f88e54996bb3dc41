package worker

import (
	"context"
	"log/slog"
	"time"
)

const banRestoreInterval = 30 * time.Second

// BanRestorer re-asserts ban flags from persisted bans.
type BanRestorer interface {
	Restore(ctx context.Context) (int, error)
}

// BanRestoreWorker periodically puts back ban flags lost to a cache flush,
// eviction or restart of the cache store.
type BanRestoreWorker struct {
	restorer BanRestorer
	interval time.Duration
}

// NewBanRestoreWorker creates a BanRestoreWorker.
func NewBanRestoreWorker(r BanRestorer) *BanRestoreWorker {
	return &BanRestoreWorker{restorer: r, interval: banRestoreInterval}
}

// Name returns the worker identifier.
func (w *BanRestoreWorker) Name() string { return "ban_restore" }

// Run restores once at startup, then on every tick until ctx is cancelled.
func (w *BanRestoreWorker) Run(ctx context.Context) error {
	w.restore(ctx, "initial ban restore failed")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.restore(ctx, "ban restore failed")
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *BanRestoreWorker) restore(ctx context.Context, failMsg string) {
	n, err := w.restorer.Restore(ctx)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, failMsg,
			slog.String("error", err.Error()),
		)
		return
	}
	if n > 0 {
		slog.LogAttrs(ctx, slog.LevelInfo, "ban flags restored",
			slog.Int("count", n),
		)
	}
}
