package worker

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/eugener/goshop/internal/invalidate"
	"github.com/eugener/goshop/internal/telemetry"
)

const (
	queueChanSize   = 1000
	queueBatchSize  = 64
	queueFlushEvery = 50 * time.Millisecond
	queueDrainTime  = 10 * time.Second
)

// InvalidationQueue is the background invalidate.Dispatcher. Changes are
// buffered and invalidated in batches, so one plan covers many mutations.
// When the buffer is full Dispatch invalidates inline instead of dropping.
type InvalidationQueue struct {
	ch      chan []invalidate.Change
	inv     invalidate.Invalidator
	metrics *telemetry.Metrics // nil = disabled
}

// NewInvalidationQueue creates an InvalidationQueue feeding inv.
func NewInvalidationQueue(inv invalidate.Invalidator, m *telemetry.Metrics) *InvalidationQueue {
	return &InvalidationQueue{
		ch:      make(chan []invalidate.Change, queueChanSize),
		inv:     inv,
		metrics: m,
	}
}

// Name returns the worker identifier.
func (q *InvalidationQueue) Name() string { return "invalidation_queue" }

// Dispatch enqueues changes. It never blocks.
func (q *InvalidationQueue) Dispatch(ctx context.Context, changes ...invalidate.Change) {
	if len(changes) == 0 {
		return
	}
	select {
	case q.ch <- slices.Clone(changes):
		q.gauge()
	default:
		slog.LogAttrs(ctx, slog.LevelWarn, "invalidation queue full, running inline",
			slog.String("kind", string(changes[0].Kind)),
		)
		invalidate.Run(ctx, q.inv, changes)
	}
}

func (q *InvalidationQueue) gauge() {
	if q.metrics != nil {
		q.metrics.InvalidationQueue.Set(float64(len(q.ch)))
	}
}

// Run processes batches until ctx is cancelled, then drains what is left.
func (q *InvalidationQueue) Run(ctx context.Context) error {
	ticker := time.NewTicker(queueFlushEvery)
	defer ticker.Stop()

	buf := make([]invalidate.Change, 0, queueBatchSize)

	for {
		select {
		case cs := <-q.ch:
			q.gauge()
			buf = append(buf, cs...)
			if len(buf) >= queueBatchSize {
				q.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				q.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			q.drain(buf)
			return nil
		}
	}
}

func (q *InvalidationQueue) drain(buf []invalidate.Change) {
	ctx, cancel := context.WithTimeout(context.Background(), queueDrainTime)
	defer cancel()

	for {
		select {
		case cs := <-q.ch:
			buf = append(buf, cs...)
			if len(buf) >= queueBatchSize {
				q.flush(ctx, buf)
				buf = buf[:0]
			}
		default:
			if len(buf) > 0 {
				q.flush(ctx, buf)
			}
			q.gauge()
			return
		}
	}
}

func (q *InvalidationQueue) flush(ctx context.Context, buf []invalidate.Change) {
	invalidate.Run(ctx, q.inv, slices.Clone(buf))
}
