// Package invalidate removes cached views made stale by committed mutations.
//
// Handlers describe what changed as a Change; the rule table in PlanFor maps
// it to exact keys and patterns. Invalidation runs after commit and never
// fails the request that triggered it.
package invalidate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/eugener/goshop/internal/cache"
	"github.com/eugener/goshop/internal/telemetry"
)

// UserEvictor drops process-local state derived from a user record.
type UserEvictor interface {
	InvalidateByUserID(userID int64)
}

// Invalidator deletes the cached views a batch of changes makes stale.
type Invalidator interface {
	Invalidate(ctx context.Context, changes ...Change) error
}

// Dispatcher hands committed changes to a Coordinator. Dispatch never
// returns an error; failures are logged and counted.
type Dispatcher interface {
	Dispatch(ctx context.Context, changes ...Change)
}

// Coordinator executes invalidation plans against a cache store.
type Coordinator struct {
	store    cache.Store
	metrics  *telemetry.Metrics // nil = disabled
	evictors []UserEvictor
	tracer   trace.Tracer
}

// New creates a Coordinator. metrics may be nil.
func New(store cache.Store, m *telemetry.Metrics, evictors ...UserEvictor) *Coordinator {
	return &Coordinator{
		store:    store,
		metrics:  m,
		evictors: evictors,
		tracer:   telemetry.Tracer("github.com/eugener/goshop/internal/invalidate"),
	}
}

// AddEvictor registers e for identity-affecting changes. It is not safe to
// call once the coordinator is in use; it exists for wiring components that
// themselves depend on the coordinator.
func (c *Coordinator) AddEvictor(e UserEvictor) {
	c.evictors = append(c.evictors, e)
}

// Invalidate deletes every key and pattern the changes touch. It attempts
// every deletion even after a failure and returns the joined errors.
func (c *Coordinator) Invalidate(ctx context.Context, changes ...Change) error {
	if len(changes) == 0 {
		return nil
	}
	ctx, span := c.tracer.Start(ctx, "cache.invalidate")
	defer span.End()

	for _, ch := range changes {
		if evictsIdentity(ch.Kind) {
			for _, e := range c.evictors {
				e.InvalidateByUserID(ch.ID)
			}
		}
		if c.metrics != nil {
			c.metrics.Invalidations.WithLabelValues(string(ch.Kind)).Inc()
		}
	}

	plan := PlanFor(changes...)
	span.SetAttributes(
		attribute.Int("cache.keys", len(plan.Keys)),
		attribute.Int("cache.patterns", len(plan.Patterns)),
	)

	var errs []error
	removed := 0
	if len(plan.Keys) > 0 {
		n, err := c.store.Delete(ctx, plan.Keys...)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete keys: %w", err))
		}
		removed += n
	}
	for _, p := range plan.Patterns {
		n, err := c.store.DeletePattern(ctx, p)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete pattern %s: %w", p, err))
		}
		removed += n
	}

	if c.metrics != nil {
		c.metrics.KeysInvalidated.Add(float64(removed))
		c.metrics.InvalidationErrors.Add(float64(len(errs)))
	}
	span.SetAttributes(attribute.Int("cache.removed", removed))

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalidation incomplete")
	}
	return err
}

// Refill replaces key with the JSON encoding of payload, so the next read
// hits instead of recomputing.
func (c *Coordinator) Refill(ctx context.Context, key string, payload any, ttl time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if _, err := c.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("refill %s: %w", key, err)
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("refill %s: %w", key, err)
	}
	return nil
}

// Sync runs invalidation inline, before the response is written.
type Sync struct {
	C *Coordinator
}

// Dispatch implements Dispatcher.
func (s Sync) Dispatch(ctx context.Context, changes ...Change) {
	Run(ctx, s.C, changes)
}

// Run invalidates changes and logs a failure instead of returning it.
func Run(ctx context.Context, c Invalidator, changes []Change) {
	if err := c.Invalidate(ctx, changes...); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "cache invalidation failed",
			slog.Int("changes", len(changes)),
			slog.String("kind", string(changes[0].Kind)),
			slog.String("error", err.Error()),
		)
	}
}
