// Package ban implements temporary user bans as TTL flags in the cache store.
//
// The flag under ban:{userID} is what request authentication consults. Each
// ban is also recorded in the database; the record serves as the audit trail
// and as the source for re-asserting flags lost to a cache flush or outage.
// There is no unban: a ban ends when its flag expires.
package ban

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	shop "github.com/eugener/goshop/internal"
	"github.com/eugener/goshop/internal/cache"
	"github.com/eugener/goshop/internal/invalidate"
	"github.com/eugener/goshop/internal/storage"
	"github.com/eugener/goshop/internal/telemetry"
)

// DefaultTTL is the ban length when none is requested.
const DefaultTTL = 90 * time.Second

var flagValue = []byte(`true`)

// Flags sets and checks ban flags.
type Flags struct {
	store    cache.Store
	bans     storage.BanStore
	dispatch invalidate.Dispatcher // nil = no invalidation
	metrics  *telemetry.Metrics    // nil = disabled
	now      func() time.Time
}

// New creates Flags. dispatch and m may be nil.
func New(store cache.Store, bans storage.BanStore, dispatch invalidate.Dispatcher, m *telemetry.Metrics) *Flags {
	return &Flags{
		store:    store,
		bans:     bans,
		dispatch: dispatch,
		metrics:  m,
		now:      time.Now,
	}
}

// Ban flags userID for ttl (DefaultTTL when ttl <= 0) and records who did it.
// Banning a user that is already banned fails with shop.ErrConflict; the
// running ban is not extended.
func (f *Flags) Ban(ctx context.Context, userID, bannedBy int64, reason string, ttl time.Duration) (*shop.Ban, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := f.now()
	key := cache.BanKey(userID)

	set, err := f.store.SetNX(ctx, key, flagValue, ttl)
	switch {
	case err != nil:
		// Without the flag store the persisted record decides.
		slog.LogAttrs(ctx, slog.LevelWarn, "ban flag unavailable, using ban record",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
		active, err := f.activeRecord(ctx, userID, now)
		if err != nil {
			return nil, err
		}
		if active {
			return nil, fmt.Errorf("user %d: %w", userID, shop.ErrConflict)
		}
	case !set:
		return nil, fmt.Errorf("user %d already banned: %w", userID, shop.ErrConflict)
	}

	b := &shop.Ban{
		UserID:    userID,
		BannedBy:  bannedBy,
		Reason:    reason,
		ExpiresAt: now.Add(ttl).UTC(),
		CreatedAt: now.UTC().Truncate(time.Second),
	}
	if err := f.bans.CreateBan(ctx, b); err != nil {
		if set {
			if _, derr := f.store.Delete(context.WithoutCancel(ctx), key); derr != nil {
				slog.LogAttrs(ctx, slog.LevelError, "ban flag rollback failed",
					slog.Int64("user_id", userID),
					slog.String("error", derr.Error()),
				)
			}
		}
		return nil, fmt.Errorf("record ban: %w", err)
	}

	if f.metrics != nil {
		f.metrics.Bans.Inc()
	}
	slog.LogAttrs(ctx, slog.LevelInfo, "user banned",
		slog.Int64("user_id", userID),
		slog.Int64("banned_by", bannedBy),
		slog.Duration("ttl", ttl),
	)
	if f.dispatch != nil {
		f.dispatch.Dispatch(ctx, invalidate.Change{Kind: invalidate.UserBanned, ID: userID})
	}
	return b, nil
}

// IsBanned reports whether userID is currently banned. When the flag store
// fails it falls back to the persisted record.
func (f *Flags) IsBanned(ctx context.Context, userID int64) (bool, error) {
	banned, err := f.store.Exists(ctx, cache.BanKey(userID))
	if err != nil {
		if f.metrics != nil {
			f.metrics.CacheErrors.WithLabelValues("ban").Inc()
		}
		banned, err = f.activeRecord(ctx, userID, f.now())
		if err != nil {
			return false, err
		}
	}
	if banned && f.metrics != nil {
		f.metrics.BannedHits.Inc()
	}
	return banned, nil
}

// Banned returns the subset of userIDs whose flag is set, in one round trip.
// It does not consult ban records.
func (f *Flags) Banned(ctx context.Context, userIDs ...int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = cache.BanKey(id)
	}
	vals, err := f.store.MGet(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("read ban flags: %w", err)
	}
	for i, v := range vals {
		if v != nil {
			out[userIDs[i]] = true
		}
	}
	return out, nil
}

func (f *Flags) activeRecord(ctx context.Context, userID int64, now time.Time) (bool, error) {
	_, err := f.bans.ActiveBan(ctx, userID, now)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, shop.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("ban record: %w", err)
	}
}

// Restore re-asserts the flag of every persisted ban still in force whose
// flag is missing, with the remaining lifetime as TTL. It returns how many
// flags it set.
func (f *Flags) Restore(ctx context.Context) (int, error) {
	now := f.now()
	active, err := f.bans.ListActiveBans(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list active bans: %w", err)
	}
	if len(active) == 0 {
		return 0, nil
	}

	keys := make([]string, len(active))
	for i, b := range active {
		keys[i] = cache.BanKey(b.UserID)
	}
	present, err := f.store.MGet(ctx, keys...)
	if err != nil {
		return 0, fmt.Errorf("read ban flags: %w", err)
	}

	restored := 0
	for i, b := range active {
		if present[i] != nil {
			continue
		}
		remaining := b.ExpiresAt.Sub(now)
		if remaining <= 0 {
			continue
		}
		set, err := f.store.SetNX(ctx, keys[i], flagValue, remaining)
		if err != nil {
			return restored, fmt.Errorf("restore ban flag %d: %w", b.UserID, err)
		}
		if set {
			restored++
		}
	}
	if f.metrics != nil {
		f.metrics.BanRestores.Add(float64(restored))
	}
	return restored, nil
}
