package testutil

import (
	"context"
	"net/http"
	"sync/atomic"

	shop "github.com/eugener/goshop/internal"
)

// FakeAuth authenticates every request as the configured identity, or as an
// admin when Identity is nil.
type FakeAuth struct {
	Identity *shop.Identity
}

// Authenticate returns the configured identity.
func (a FakeAuth) Authenticate(_ context.Context, _ *http.Request) (*shop.Identity, error) {
	if a.Identity != nil {
		return a.Identity, nil
	}
	return &shop.Identity{
		UserID:   1,
		Email:    "admin@goshop.test",
		Username: "admin",
		Role:     shop.RoleAdmin,
	}, nil
}

// RejectAuth always rejects authentication.
type RejectAuth struct{}

// Authenticate always returns ErrUnauthorized.
func (RejectAuth) Authenticate(context.Context, *http.Request) (*shop.Identity, error) {
	return nil, shop.ErrUnauthorized
}

// CountingAuth wraps an Authenticator and counts calls.
type CountingAuth struct {
	shop.Authenticator
	Calls atomic.Int64
}

// Authenticate delegates and counts.
func (a *CountingAuth) Authenticate(ctx context.Context, r *http.Request) (*shop.Identity, error) {
	a.Calls.Add(1)
	return a.Authenticator.Authenticate(ctx, r)
}
