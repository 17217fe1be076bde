package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, enabling zero-touch logging where business
// context (inbox_event_id, queue_entry_id, etc.) is automatically included in all log statements.
type LogFields struct {
	InboxEventID *int64  // Inbox event ID
	QueueEntryID *int64  // Sync queue entry ID
	SyncRunID    *int64  // Sync run ID
	MessageID    *string // Redis stream message ID
	WorkerID     *string // Worker claiming the entry
	EntityType   *string // Entity type (e.g. "order", "product")
	EventType    *string // Bus event type (e.g. "sync.completed")
	Component    string  // Component name (OTel semantic convention style, e.g. "driftsync.queue")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

// mergeFields merges two LogFields, preferring non-nil/non-empty values from 'new'.
func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.InboxEventID != nil {
		result.InboxEventID = new.InboxEventID
	}
	if new.QueueEntryID != nil {
		result.QueueEntryID = new.QueueEntryID
	}
	if new.SyncRunID != nil {
		result.SyncRunID = new.SyncRunID
	}
	if new.MessageID != nil {
		result.MessageID = new.MessageID
	}
	if new.WorkerID != nil {
		result.WorkerID = new.WorkerID
	}
	if new.EntityType != nil {
		result.EntityType = new.EntityType
	}
	if new.EventType != nil {
		result.EventType = new.EventType
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{QueueEntryID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like payloads or error messages.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
