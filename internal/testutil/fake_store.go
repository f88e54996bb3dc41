// Package testutil provides configurable test fakes for shop interfaces.
package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	shop "github.com/eugener/goshop/internal"
)

// FakeBanStore is an in-memory storage.BanStore.
type FakeBanStore struct {
	mu   sync.RWMutex
	bans []*shop.Ban

	// Err, when set, fails every call.
	Err error
}

// NewFakeBanStore returns an empty FakeBanStore.
func NewFakeBanStore() *FakeBanStore {
	return &FakeBanStore{}
}

// CreateBan records a ban.
func (s *FakeBanStore) CreateBan(_ context.Context, b *shop.Ban) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	cp := *b
	s.bans = append(s.bans, &cp)
	s.mu.Unlock()
	return nil
}

// ActiveBan returns the user's longest-running ban in force at now.
func (s *FakeBanStore) ActiveBan(_ context.Context, userID int64, now time.Time) (*shop.Ban, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *shop.Ban
	for _, b := range s.bans {
		if b.UserID != userID || !b.ExpiresAt.After(now) {
			continue
		}
		if best == nil || b.ExpiresAt.After(best.ExpiresAt) {
			best = b
		}
	}
	if best == nil {
		return nil, shop.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

// ListActiveBans returns one ban per user still in force at now.
func (s *FakeBanStore) ListActiveBans(ctx context.Context, now time.Time) ([]*shop.Ban, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.RLock()
	seen := make(map[int64]bool)
	var users []int64
	for _, b := range s.bans {
		if !seen[b.UserID] {
			seen[b.UserID] = true
			users = append(users, b.UserID)
		}
	}
	s.mu.RUnlock()

	var out []*shop.Ban
	for _, id := range users {
		b, err := s.ActiveBan(ctx, id, now)
		if errors.Is(err, shop.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Len returns the number of recorded bans.
func (s *FakeBanStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bans)
}
