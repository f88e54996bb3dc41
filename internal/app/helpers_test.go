package app

import (
	"context"
	"sync"
	"testing"
	"time"

	shop "github.com/eugener/goshop/internal"
	"github.com/eugener/goshop/internal/auth"
	"github.com/eugener/goshop/internal/invalidate"
	"github.com/eugener/goshop/internal/storage/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestTokens(t *testing.T) *auth.Tokens {
	t.Helper()
	tok, err := auth.NewTokens(auth.TokenConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

// recorder is a Dispatcher that keeps every change.
type recorder struct {
	mu      sync.Mutex
	changes []invalidate.Change
}

func (r *recorder) Dispatch(_ context.Context, changes ...invalidate.Change) {
	r.mu.Lock()
	r.changes = append(r.changes, changes...)
	r.mu.Unlock()
}

func (r *recorder) kinds() []invalidate.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]invalidate.Kind, len(r.changes))
	for i, c := range r.changes {
		out[i] = c.Kind
	}
	return out
}

func (r *recorder) last() invalidate.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.changes) == 0 {
		return invalidate.Change{}
	}
	return r.changes[len(r.changes)-1]
}

// mail is one captured verification email.
type mail struct {
	to, username, link string
}

type chanMailer chan mail

func (m chanMailer) SendVerification(_ context.Context, to, username, link string) error {
	m <- mail{to, username, link}
	return nil
}

func mustCreateUser(t *testing.T, s *sqlite.Store, username string, role shop.Role) *shop.User {
	t.Helper()
	u := &shop.User{Email: username + "@example.com", Username: username, PasswordHash: "x", Role: role}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	return u
}
