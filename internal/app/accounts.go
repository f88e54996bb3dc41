// Package app implements application-level services for GoShop accounts.
package app

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	shop "github.com/eugener/goshop/internal"
	"github.com/eugener/goshop/internal/auth"
	"github.com/eugener/goshop/internal/invalidate"
	"github.com/eugener/goshop/internal/storage"
)

const (
	verifyTokenTTL = 15 * time.Minute
	mailTimeout    = 30 * time.Second
)

// Session is the token pair handed out at login.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Accounts handles the account lifecycle: registration, email verification,
// login, token refresh, logout and the shipping address.
type Accounts struct {
	store      storage.UserStore
	tokens     *auth.Tokens
	mailer     Mailer
	dispatch   invalidate.Dispatcher // nil = no invalidation
	baseURL    string
	bcryptCost int
	now        func() time.Time
}

// NewAccounts returns an Accounts. Verification links are built from baseURL.
func NewAccounts(store storage.UserStore, tokens *auth.Tokens, mailer Mailer, dispatch invalidate.Dispatcher, baseURL string) *Accounts {
	return &Accounts{
		store:      store,
		tokens:     tokens,
		mailer:     mailer,
		dispatch:   dispatch,
		baseURL:    strings.TrimRight(baseURL, "/"),
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
}

// RegisterOpts holds the fields of a new account.
type RegisterOpts struct {
	Email       string
	Username    string
	DisplayName string
	Password    string
}

// Register creates the user (and their cart), sends the verification email
// in the background and logs the user in.
func (a *Accounts) Register(ctx context.Context, opts RegisterOpts) (*shop.User, *Session, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), a.bcryptCost)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}
	verifyToken, err := randomToken()
	if err != nil {
		return nil, nil, err
	}
	expiry := a.now().Add(verifyTokenTTL).UTC()

	u := &shop.User{
		Email:             opts.Email,
		Username:          opts.Username,
		DisplayName:       opts.DisplayName,
		PasswordHash:      string(hash),
		Role:              shop.RoleUser,
		VerifyTokenHash:   auth.HashToken(verifyToken),
		VerifyTokenExpiry: &expiry,
	}
	if err := a.store.CreateUser(ctx, u); err != nil {
		return nil, nil, err
	}
	if a.dispatch != nil {
		a.dispatch.Dispatch(ctx, invalidate.Change{Kind: invalidate.UserCreated, ID: u.ID})
	}

	a.sendVerification(ctx, u, verifyToken)

	sess, err := a.startSession(ctx, u.ID)
	if err != nil {
		return nil, nil, err
	}
	return u, sess, nil
}

// sendVerification mails the verification link without holding up the
// response. Delivery failures are logged only.
func (a *Accounts) sendVerification(ctx context.Context, u *shop.User, token string) {
	link := a.baseURL + "/api/auth/verify-email/" + token
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mailTimeout)
		defer cancel()
		if err := a.mailer.SendVerification(ctx, u.Email, u.Username, link); err != nil {
			slog.LogAttrs(ctx, slog.LevelError, "verification email failed",
				slog.Int64("user_id", u.ID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Login checks credentials for the user identified by email or username.
// Unknown users and wrong passwords are indistinguishable to the caller.
func (a *Accounts) Login(ctx context.Context, login, password string) (*shop.User, *Session, error) {
	var u *shop.User
	var err error
	if strings.Contains(login, "@") {
		u, err = a.store.GetUserByEmail(ctx, login)
	} else {
		u, err = a.store.GetUserByUsername(ctx, login)
	}
	if err != nil {
		if errors.Is(err, shop.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: invalid credentials", shop.ErrUnauthorized)
		}
		return nil, nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, nil, fmt.Errorf("%w: invalid credentials", shop.ErrUnauthorized)
	}

	sess, err := a.startSession(ctx, u.ID)
	if err != nil {
		return nil, nil, err
	}
	return u, sess, nil
}

// Refresh rotates the token pair. The presented refresh token must be the
// latest one issued; a replayed older token is rejected.
func (a *Accounts) Refresh(ctx context.Context, rawRefresh string) (*Session, error) {
	claims, err := a.tokens.Parse(rawRefresh, auth.Refresh)
	if err != nil {
		if errors.Is(err, shop.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: refresh token expired", shop.ErrUnauthorized)
		}
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, err
	}
	u, err := a.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, shop.ErrNotFound) {
			return nil, shop.ErrUnauthorized
		}
		return nil, err
	}
	want := auth.HashToken(rawRefresh)
	if u.RefreshTokenHash == "" || subtle.ConstantTimeCompare([]byte(u.RefreshTokenHash), []byte(want)) != 1 {
		return nil, fmt.Errorf("%w: refresh token revoked", shop.ErrUnauthorized)
	}
	return a.startSession(ctx, u.ID)
}

// Logout revokes the user's refresh token. Outstanding access tokens stay
// valid until they expire.
func (a *Accounts) Logout(ctx context.Context, userID int64) error {
	return a.store.SetRefreshTokenHash(ctx, userID, "")
}

func (a *Accounts) startSession(ctx context.Context, userID int64) (*Session, error) {
	access, err := a.tokens.Issue(auth.Access, userID)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := a.tokens.Issue(auth.Refresh, userID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	if err := a.store.SetRefreshTokenHash(ctx, userID, auth.HashToken(refresh)); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return &Session{AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyEmail marks the owner of an unexpired verification token as verified.
func (a *Accounts) VerifyEmail(ctx context.Context, token string) (*shop.User, error) {
	u, err := a.store.GetUserByVerifyToken(ctx, auth.HashToken(token))
	if err != nil {
		if errors.Is(err, shop.ErrNotFound) {
			return nil, fmt.Errorf("verification token: %w", shop.ErrNotFound)
		}
		return nil, err
	}
	if u.VerifyTokenExpiry == nil || a.now().After(*u.VerifyTokenExpiry) {
		return nil, fmt.Errorf("verification token: %w", shop.ErrTokenExpired)
	}
	if err := a.store.MarkEmailVerified(ctx, u.ID); err != nil {
		return nil, err
	}
	a.changed(ctx, u.ID)

	u.EmailVerified = true
	u.VerifyTokenHash = ""
	u.VerifyTokenExpiry = nil
	return u, nil
}

// Address returns the user's shipping address.
func (a *Accounts) Address(ctx context.Context, userID int64) (*shop.Address, error) {
	return a.store.GetAddress(ctx, userID)
}

// SaveAddress creates or replaces the user's shipping address.
func (a *Accounts) SaveAddress(ctx context.Context, addr *shop.Address) error {
	if err := a.store.SaveAddress(ctx, addr); err != nil {
		return err
	}
	a.changed(ctx, addr.UserID)
	return nil
}

func (a *Accounts) changed(ctx context.Context, userID int64) {
	if a.dispatch != nil {
		a.dispatch.Dispatch(ctx, invalidate.Change{Kind: invalidate.ProfileChanged, ID: userID})
	}
}

// randomToken returns 16 random bytes, hex encoded.
func randomToken() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
