// Package auth authenticates shop users with JWT access tokens.
// Resolved identities are cached in a W-TinyLFU cache keyed by user ID.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"

	shop "github.com/eugener/goshop/internal"
)

const (
	// AccessCookie and RefreshCookie carry the tokens for browser clients.
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"

	cacheTTL    = 30 * time.Second // bounds how long a role change takes without explicit eviction
	cacheMaxLen = 10_000
)

// UserSource loads the records an identity is built from.
type UserSource interface {
	GetUser(ctx context.Context, id int64) (*shop.User, error)
	GetPermissions(ctx context.Context, moderatorID int64) (*shop.ModeratorPermissions, error)
}

// BanChecker reports whether a user is currently banned.
type BanChecker interface {
	IsBanned(ctx context.Context, userID int64) (bool, error)
}

// JWTAuth authenticates requests carrying an access token in the
// Authorization header or the access_token cookie.
type JWTAuth struct {
	tokens *Tokens
	users  UserSource
	bans   BanChecker // nil = bans disabled
	cache  *otter.Cache[int64, *shop.Identity]
}

// NewJWTAuth returns a JWTAuth. bans may be nil.
func NewJWTAuth(tokens *Tokens, users UserSource, bans BanChecker) (*JWTAuth, error) {
	c, err := otter.New(&otter.Options[int64, *shop.Identity]{
		MaximumSize:      cacheMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[int64, *shop.Identity](cacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create identity cache: %w", err)
	}
	return &JWTAuth{tokens: tokens, users: users, bans: bans, cache: c}, nil
}

// Authenticate verifies the access token and returns the caller's Identity.
// The ban flag is checked before any identity is resolved, cached or not.
func (a *JWTAuth) Authenticate(ctx context.Context, r *http.Request) (*shop.Identity, error) {
	claims, err := a.tokens.Parse(AccessToken(r), Access)
	if err != nil {
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, err
	}

	if a.bans != nil {
		banned, err := a.bans.IsBanned(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("check ban: %w", err)
		}
		if banned {
			return nil, shop.ErrBanned
		}
	}

	if id, ok := a.cache.GetIfPresent(userID); ok {
		return id, nil
	}

	u, err := a.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, shop.ErrNotFound) {
			return nil, shop.ErrUnauthorized
		}
		return nil, err
	}
	id := &shop.Identity{
		UserID:   u.ID,
		Email:    u.Email,
		Username: u.Username,
		Role:     u.Role,
	}
	if u.Role == shop.RoleModerator {
		perms, err := a.users.GetPermissions(ctx, u.ID)
		switch {
		case err == nil:
			id.Perms = perms.Perms
		case !errors.Is(err, shop.ErrNotFound):
			return nil, err
		}
	}

	a.cache.Set(userID, id)
	return id, nil
}

// InvalidateByUserID drops the cached identity of a user whose role,
// permissions or standing changed.
func (a *JWTAuth) InvalidateByUserID(userID int64) {
	a.cache.Invalidate(userID)
}

// AccessToken extracts the raw access token from a Bearer header, falling
// back to the access_token cookie.
func AccessToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if raw, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(raw)
		}
		return ""
	}
	if c, err := r.Cookie(AccessCookie); err == nil {
		return c.Value
	}
	return ""
}
