package provider

import (
	"context"
	"log/slog"
)

// Mailer delivers one-time codes. Implementations must not log the code.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, code string) error
	SendEmailVerification(ctx context.Context, email, code string) error
}

// LogMailer records that a message would have been sent. It is the default
// and suits development only.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) SendPasswordReset(ctx context.Context, email, _ string) error {
	m.log(ctx, "password_reset", email)
	return nil
}

func (m LogMailer) SendEmailVerification(ctx context.Context, email, _ string) error {
	m.log(ctx, "email_verification", email)
	return nil
}

func (m LogMailer) log(ctx context.Context, kind, email string) {
	if m.Logger == nil {
		return
	}
	m.Logger.LogAttrs(ctx, slog.LevelInfo, "code mail suppressed",
		slog.String("kind", kind),
		slog.String("email", email),
	)
}
