package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	shop "github.com/eugener/goshop/internal"
	"github.com/eugener/goshop/internal/pagination"
)

const userColumns = `id, email, username, display_name, password_hash, role, email_verified,
	verify_token_hash, verify_token_expiry, refresh_token_hash, created_at`

// CreateUser inserts a user together with an empty cart.
func (s *Store) CreateUser(ctx context.Context, u *shop.User) error {
	if u.Role == "" {
		u.Role = shop.RoleUser
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO users (email, username, display_name, password_hash, role, email_verified,
			 verify_token_hash, verify_token_expiry, refresh_token_hash, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.Email, u.Username, u.DisplayName, u.PasswordHash, string(u.Role), boolToInt(u.EmailVerified),
			nullStr(u.VerifyTokenHash), timeToStr(u.VerifyTokenExpiry), nullStr(u.RefreshTokenHash),
			timeStr(u.CreatedAt),
		)
		if err != nil {
			return constraintErr(err, "user")
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO carts (user_id) VALUES (?)`, id); err != nil {
			return fmt.Errorf("create cart: %w", err)
		}
		u.ID = id
		return nil
	})
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*shop.User, error) {
	row := s.read.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByEmail retrieves a user by email (case-insensitive).
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*shop.User, error) {
	row := s.read.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*shop.User, error) {
	row := s.read.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	return scanUser(row)
}

// GetUserByVerifyToken retrieves a user by the hash of their email verification token.
func (s *Store) GetUserByVerifyToken(ctx context.Context, tokenHash string) (*shop.User, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE verify_token_hash = ?`, tokenHash)
	return scanUser(row)
}

// ListUsers returns one page of users ordered by ID.
func (s *Store) ListUsers(ctx context.Context, p pagination.Page) (shop.Page[*shop.User], error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id >= ? ORDER BY id LIMIT ?`,
		p.Cursor, p.Limit+1,
	)
	if err != nil {
		return shop.Page[*shop.User]{}, err
	}
	defer rows.Close()

	users := make([]*shop.User, 0, p.Limit+1)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return shop.Page[*shop.User]{}, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return shop.Page[*shop.User]{}, err
	}
	items, next := pagination.Cut(users, p.Limit, func(u *shop.User) int64 { return u.ID })
	return shop.Page[*shop.User]{Items: items, NextCursor: next}, nil
}

// MarkEmailVerified sets the verified flag and clears the verification token.
func (s *Store) MarkEmailVerified(ctx context.Context, id int64) error {
	res, err := s.write.ExecContext(ctx,
		`UPDATE users SET email_verified = 1, verify_token_hash = NULL, verify_token_expiry = NULL
		 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "user")
}

// SetRefreshTokenHash stores (or, with "", clears) the hash of the user's refresh token.
func (s *Store) SetRefreshTokenHash(ctx context.Context, id int64, hash string) error {
	res, err := s.write.ExecContext(ctx,
		`UPDATE users SET refresh_token_hash = ? WHERE id = ?`, nullStr(hash), id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "user")
}

// PromoteUser turns a plain user into a moderator and creates their permission row.
func (s *Store) PromoteUser(ctx context.Context, id int64, perms shop.Permission) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := changeRole(ctx, tx, id, shop.RoleUser, shop.RoleModerator); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO permissions (moderator_id, perms, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT (moderator_id) DO UPDATE SET perms = excluded.perms, updated_at = excluded.updated_at`,
			id, int64(perms), timeStr(time.Now()),
		)
		return err
	})
}

// DemoteUser turns a moderator back into a plain user and drops their permissions.
func (s *Store) DemoteUser(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := changeRole(ctx, tx, id, shop.RoleModerator, shop.RoleUser); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM permissions WHERE moderator_id = ?`, id)
		return err
	})
}

// changeRole moves a user from one role to another. A user in any other role
// is a conflict.
func changeRole(ctx context.Context, tx *sql.Tx, id int64, from, to shop.Role) error {
	var current string
	err := tx.QueryRowContext(ctx, `SELECT role FROM users WHERE id = ?`, id).Scan(&current)
	if err != nil {
		return fmt.Errorf("user: %w", notFoundErr(err))
	}
	if shop.Role(current) != from {
		return fmt.Errorf("user %d is %s, not %s: %w", id, current, from, shop.ErrConflict)
	}
	_, err = tx.ExecContext(ctx, `UPDATE users SET role = ? WHERE id = ?`, string(to), id)
	return err
}

// GetAddress retrieves a user's address.
func (s *Store) GetAddress(ctx context.Context, userID int64) (*shop.Address, error) {
	var a shop.Address
	err := s.read.QueryRowContext(ctx,
		`SELECT user_id, line1, line2, city, state, postal_code, country FROM addresses WHERE user_id = ?`,
		userID,
	).Scan(&a.UserID, &a.Line1, &a.Line2, &a.City, &a.State, &a.PostalCode, &a.Country)
	if err != nil {
		return nil, notFoundErr(err)
	}
	return &a, nil
}

// SaveAddress creates or replaces a user's address.
func (s *Store) SaveAddress(ctx context.Context, a *shop.Address) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO addresses (user_id, line1, line2, city, state, postal_code, country)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET line1 = excluded.line1, line2 = excluded.line2,
		 city = excluded.city, state = excluded.state, postal_code = excluded.postal_code,
		 country = excluded.country`,
		a.UserID, a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Country,
	)
	return constraintErr(err, "address")
}

// GetPermissions retrieves a moderator's permission set.
func (s *Store) GetPermissions(ctx context.Context, moderatorID int64) (*shop.ModeratorPermissions, error) {
	var p shop.ModeratorPermissions
	var perms int64
	var updatedAt string
	err := s.read.QueryRowContext(ctx,
		`SELECT moderator_id, perms, updated_at FROM permissions WHERE moderator_id = ?`, moderatorID,
	).Scan(&p.ModeratorID, &perms, &updatedAt)
	if err != nil {
		return nil, notFoundErr(err)
	}
	p.Perms = shop.Permission(perms)
	p.UpdatedAt = mustTime(updatedAt)
	return &p, nil
}

// UpdatePermissions replaces a moderator's permission set.
func (s *Store) UpdatePermissions(ctx context.Context, moderatorID int64, perms shop.Permission) error {
	res, err := s.write.ExecContext(ctx,
		`UPDATE permissions SET perms = ?, updated_at = ? WHERE moderator_id = ?`,
		int64(perms), timeStr(time.Now()), moderatorID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "permissions")
}

func scanUser(s scanner) (*shop.User, error) {
	var u shop.User
	var role, createdAt string
	var verified int
	var verifyHash, verifyExpiry, refreshHash sql.NullString

	err := s.Scan(
		&u.ID, &u.Email, &u.Username, &u.DisplayName, &u.PasswordHash, &role, &verified,
		&verifyHash, &verifyExpiry, &refreshHash, &createdAt,
	)
	if err != nil {
		return nil, notFoundErr(err)
	}
	u.Role = shop.Role(role)
	u.EmailVerified = verified != 0
	u.VerifyTokenHash = verifyHash.String
	u.VerifyTokenExpiry = parseTime(verifyExpiry)
	u.RefreshTokenHash = refreshHash.String
	u.CreatedAt = mustTime(createdAt)
	return &u, nil
}
