package config

import (
	"context"
	"testing"

	"golang.org/x/crypto/bcrypt"

	shop "github.com/eugener/goshop/internal"
	"github.com/eugener/goshop/internal/pagination"
	"github.com/eugener/goshop/internal/storage/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	path := t.TempDir() + "/test.db"
	s, err := sqlite.New(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBootstrap(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	cfg := &Config{Seed: SeedConfig{Admin: AdminSeed{
		Email:       "admin@example.com",
		DisplayName: "Admin",
		Password:    "changeme",
	}}}

	// First call seeds the admin.
	created, err := Bootstrap(ctx, cfg, store)
	if err != nil {
		t.Fatal("bootstrap:", err)
	}
	if created == nil || created.ID == 0 {
		t.Fatalf("created = %+v, want the new admin", created)
	}

	admin, err := store.GetUserByEmail(ctx, "admin@example.com")
	if err != nil {
		t.Fatal("get admin:", err)
	}
	if admin.Role != shop.RoleAdmin || !admin.EmailVerified || admin.Username != "admin" {
		t.Errorf("admin = %+v", admin)
	}
	if bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte("changeme")) != nil {
		t.Error("admin password hash does not match")
	}

	// Second call is idempotent -- no errors, no duplicates.
	created, err = Bootstrap(ctx, cfg, store)
	if err != nil {
		t.Fatal("idempotent bootstrap:", err)
	}
	if created != nil {
		t.Errorf("second bootstrap created %+v", created)
	}
	users, err := store.ListUsers(ctx, pagination.Page{Cursor: 1, Limit: 10})
	if err != nil {
		t.Fatal("list users:", err)
	}
	if len(users.Items) != 1 {
		t.Errorf("user count after second bootstrap = %d, want 1", len(users.Items))
	}
}

func TestBootstrapSkipsEmptySeed(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	cfg := &Config{Seed: SeedConfig{Admin: AdminSeed{Email: "admin@example.com"}}}
	if _, err := Bootstrap(ctx, cfg, store); err != nil {
		t.Fatal("bootstrap:", err)
	}

	users, err := store.ListUsers(ctx, pagination.Page{Cursor: 1, Limit: 10})
	if err != nil {
		t.Fatal("list users:", err)
	}
	if len(users.Items) != 0 {
		t.Errorf("user count = %d, want 0 (seed without password is skipped)", len(users.Items))
	}
}
