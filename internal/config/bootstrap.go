package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	shop "github.com/eugener/goshop/internal"
	"github.com/eugener/goshop/internal/storage"
)

// Bootstrap seeds the database from the config file on first run. An admin
// whose email is already registered is left untouched. It returns the admin
// it created, or nil when nothing was written.
func Bootstrap(ctx context.Context, cfg *Config, store storage.UserStore) (*shop.User, error) {
	seed := cfg.Seed.Admin
	if seed.Email == "" || seed.Password == "" {
		return nil, nil
	}

	existing, err := store.GetUserByEmail(ctx, seed.Email)
	if err == nil && existing != nil {
		return nil, nil
	}
	if err != nil && !errors.Is(err, shop.ErrNotFound) {
		return nil, fmt.Errorf("look up admin: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(seed.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash admin password: %w", err)
	}
	username := seed.Username
	if username == "" {
		username = "admin"
	}
	admin := &shop.User{
		Email:         seed.Email,
		Username:      username,
		DisplayName:   seed.DisplayName,
		PasswordHash:  string(hash),
		Role:          shop.RoleAdmin,
		EmailVerified: true,
	}
	if err := store.CreateUser(ctx, admin); err != nil {
		return nil, fmt.Errorf("create admin: %w", err)
	}
	slog.Info("bootstrapped admin", "email", admin.Email, "id", admin.ID)
	return admin, nil
}
