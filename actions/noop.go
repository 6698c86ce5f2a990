package actions

import (
	"context"
	"log/slog"
)

// LoggingNotifier is the in-module Notifier used when no delivery channel is
// wired up; it records what would have been sent.
type LoggingNotifier struct {
	Logger *slog.Logger
}

func (n *LoggingNotifier) Notify(ctx context.Context, notification Notification) error {
	n.Logger.InfoContext(ctx, "notification",
		"recipients", notification.Recipients,
		"subject", notification.Subject,
		"record_id", notification.RecordID,
	)
	return nil
}

// LoggingMailer logs outgoing mail instead of delivering it.
type LoggingMailer struct {
	Logger *slog.Logger
}

func (m *LoggingMailer) SendEmail(ctx context.Context, email Email) error {
	m.Logger.InfoContext(ctx, "email",
		"to", email.To,
		"subject", email.Subject,
	)
	return nil
}
