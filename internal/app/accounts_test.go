package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	shop "github.com/eugener/goshop/internal"
	"github.com/eugener/goshop/internal/invalidate"
)

func newTestAccounts(t *testing.T) (*Accounts, chanMailer, *recorder) {
	t.Helper()
	mailer := make(chanMailer, 4)
	rec := &recorder{}
	a := NewAccounts(newTestStore(t), newTestTokens(t), mailer, rec, "http://shop.test/")
	a.bcryptCost = bcrypt.MinCost
	return a, mailer, rec
}

func register(t *testing.T, a *Accounts, username string) (*shop.User, *Session) {
	t.Helper()
	u, sess, err := a.Register(context.Background(), RegisterOpts{
		Email:    username + "@example.com",
		Username: username,
		Password: "hunter22",
	})
	if err != nil {
		t.Fatal(err)
	}
	return u, sess
}

func receive(t *testing.T, m chanMailer) mail {
	t.Helper()
	select {
	case got := <-m:
		return got
	case <-time.After(2 * time.Second):
		t.Fatal("no verification email sent")
		return mail{}
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()
	a, mailer, rec := newTestAccounts(t)

	u, sess, err := a.Register(context.Background(), RegisterOpts{
		Email:    "ann@example.com",
		Username: "ann",
		Password: "hunter22",
	})
	if err != nil {
		t.Fatal(err)
	}
	if u.ID == 0 || u.Role != shop.RoleUser || u.EmailVerified {
		t.Errorf("user = %+v", u)
	}
	if u.PasswordHash == "hunter22" {
		t.Error("password stored in plain text")
	}
	if sess.AccessToken == "" || sess.RefreshToken == "" {
		t.Error("session should carry both tokens")
	}
	if c := rec.last(); c.Kind != invalidate.UserCreated || c.ID != u.ID {
		t.Errorf("change = %+v, want user.create for %d", c, u.ID)
	}

	m := receive(t, mailer)
	if m.to != "ann@example.com" || !strings.HasPrefix(m.link, "http://shop.test/api/auth/verify-email/") {
		t.Errorf("mail = %+v", m)
	}

	_, _, err = a.Register(context.Background(), RegisterOpts{Email: "ann@example.com", Username: "ann2", Password: "x"})
	if !errors.Is(err, shop.ErrConflict) {
		t.Errorf("duplicate email err = %v, want ErrConflict", err)
	}
}

func TestLogin(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestAccounts(t)
	register(t, a, "ann")
	ctx := context.Background()

	for _, login := range []string{"ann", "ann@example.com"} {
		u, sess, err := a.Login(ctx, login, "hunter22")
		if err != nil {
			t.Fatalf("login %q: %v", login, err)
		}
		if u.Username != "ann" || sess.AccessToken == "" {
			t.Errorf("login %q = %+v", login, u)
		}
	}

	for _, tc := range []struct{ login, password string }{
		{"ann", "wrong"},
		{"bob", "hunter22"},
		{"bob@example.com", "hunter22"},
	} {
		if _, _, err := a.Login(ctx, tc.login, tc.password); !errors.Is(err, shop.ErrUnauthorized) {
			t.Errorf("login(%q, %q) err = %v, want ErrUnauthorized", tc.login, tc.password, err)
		}
	}
}

func TestRefresh_Rotates(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestAccounts(t)
	_, first := register(t, a, "ann")
	ctx := context.Background()

	second, err := a.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatal(err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token should rotate")
	}

	// The replaced token is dead; the new one works once.
	if _, err := a.Refresh(ctx, first.RefreshToken); !errors.Is(err, shop.ErrUnauthorized) {
		t.Errorf("replayed token err = %v, want ErrUnauthorized", err)
	}
	if _, err := a.Refresh(ctx, second.RefreshToken); err != nil {
		t.Errorf("current token: %v", err)
	}

	if _, err := a.Refresh(ctx, second.AccessToken); !errors.Is(err, shop.ErrUnauthorized) {
		t.Errorf("access token as refresh err = %v, want ErrUnauthorized", err)
	}
}

func TestLogout(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestAccounts(t)
	u, sess := register(t, a, "ann")
	ctx := context.Background()

	if err := a.Logout(ctx, u.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Refresh(ctx, sess.RefreshToken); !errors.Is(err, shop.ErrUnauthorized) {
		t.Errorf("refresh after logout err = %v, want ErrUnauthorized", err)
	}
}

func TestVerifyEmail(t *testing.T) {
	t.Parallel()
	a, mailer, rec := newTestAccounts(t)
	u, _ := register(t, a, "ann")
	link := receive(t, mailer).link
	token := link[strings.LastIndex(link, "/")+1:]
	ctx := context.Background()

	got, err := a.VerifyEmail(ctx, token)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != u.ID || !got.EmailVerified {
		t.Errorf("verified user = %+v", got)
	}
	if c := rec.last(); c.Kind != invalidate.ProfileChanged || c.ID != u.ID {
		t.Errorf("change = %+v, want profile change of %d", c, u.ID)
	}

	// Tokens are single use.
	if _, err := a.VerifyEmail(ctx, token); !errors.Is(err, shop.ErrNotFound) {
		t.Errorf("reused token err = %v, want ErrNotFound", err)
	}
}

func TestVerifyEmail_Expired(t *testing.T) {
	t.Parallel()
	a, mailer, _ := newTestAccounts(t)
	a.now = func() time.Time { return time.Now().Add(-time.Hour) }
	register(t, a, "ann")
	link := receive(t, mailer).link
	a.now = time.Now

	_, err := a.VerifyEmail(context.Background(), link[strings.LastIndex(link, "/")+1:])
	if !errors.Is(err, shop.ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
}

func TestSaveAddress(t *testing.T) {
	t.Parallel()
	a, _, rec := newTestAccounts(t)
	u, _ := register(t, a, "ann")
	ctx := context.Background()

	if _, err := a.Address(ctx, u.ID); !errors.Is(err, shop.ErrNotFound) {
		t.Errorf("address before save err = %v, want ErrNotFound", err)
	}
	addr := &shop.Address{UserID: u.ID, Line1: "1 Main St", City: "Springfield", State: "IL", PostalCode: "62701", Country: "US"}
	if err := a.SaveAddress(ctx, addr); err != nil {
		t.Fatal(err)
	}
	got, err := a.Address(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if *got != *addr {
		t.Errorf("address = %+v, want %+v", got, addr)
	}
	if c := rec.last(); c.Kind != invalidate.ProfileChanged || c.ID != u.ID {
		t.Errorf("change = %+v", c)
	}
}
