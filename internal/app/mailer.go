package app

import (
	"context"
	"log/slog"
)

// Mailer delivers account emails.
type Mailer interface {
	SendVerification(ctx context.Context, to, username, link string) error
}

// LogMailer writes emails to the log instead of sending them. It is the
// default until an SMTP relay is configured.
type LogMailer struct{}

// SendVerification logs the verification link.
func (LogMailer) SendVerification(ctx context.Context, to, username, link string) error {
	slog.LogAttrs(ctx, slog.LevelInfo, "verification email",
		slog.String("to", to),
		slog.String("username", username),
		slog.String("link", link),
	)
	return nil
}
