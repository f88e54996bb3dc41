package sqlite

import (
	"context"
	"time"

	shop "github.com/eugener/goshop/internal"
)

// CreateBan records a ban.
func (s *Store) CreateBan(ctx context.Context, b *shop.Ban) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO bans (user_id, banned_by, reason, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		b.UserID, b.BannedBy, b.Reason, timeStr(b.ExpiresAt), timeStr(b.CreatedAt),
	)
	return constraintErr(err, "ban")
}

// ActiveBan returns the ban of the user that runs the longest past now.
func (s *Store) ActiveBan(ctx context.Context, userID int64, now time.Time) (*shop.Ban, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT user_id, banned_by, reason, expires_at, created_at FROM bans
		 WHERE user_id = ? AND expires_at > ? ORDER BY expires_at DESC LIMIT 1`,
		userID, timeStr(now),
	)
	return scanBan(row)
}

// ListActiveBans returns every ban still in force at now, one per user.
func (s *Store) ListActiveBans(ctx context.Context, now time.Time) ([]*shop.Ban, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT user_id, banned_by, reason, MAX(expires_at), created_at FROM bans
		 WHERE expires_at > ? GROUP BY user_id ORDER BY user_id`,
		timeStr(now),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bans []*shop.Ban
	for rows.Next() {
		b, err := scanBan(rows)
		if err != nil {
			return nil, err
		}
		bans = append(bans, b)
	}
	return bans, rows.Err()
}

func scanBan(s scanner) (*shop.Ban, error) {
	var b shop.Ban
	var expiresAt, createdAt string
	if err := s.Scan(&b.UserID, &b.BannedBy, &b.Reason, &expiresAt, &createdAt); err != nil {
		return nil, notFoundErr(err)
	}
	b.ExpiresAt = mustTime(expiresAt)
	b.CreatedAt = mustTime(createdAt)
	return &b, nil
}
