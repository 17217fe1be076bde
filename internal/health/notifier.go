package health

import (
	"context"
	"log/slog"

	"driftsync.app/core/internal/model"
)

// Notifier delivers critical alerts to an external channel. Notify reports
// whether delivery succeeded; the alert itself is already persisted either
// way.
type Notifier interface {
	Notify(ctx context.Context, title, message string, severity model.AlertSeverity, metadata map[string]any) bool
}

// LogNotifier is the default channel: it writes the alert to the log and
// always reports success. Deployments wire a real channel in its place.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, title, message string, severity model.AlertSeverity, metadata map[string]any) bool {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.ErrorContext(ctx, "ALERT: "+title,
		"severity", severity,
		"message", message,
		"metadata", metadata)
	return true
}
