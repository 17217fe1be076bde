package dto

import (
	"time"

	"driftsync.app/core/internal/model"
	"driftsync.app/core/internal/store"
)

type WebhookResponse struct {
	Status       string `json:"status"`
	InboxEventID int64  `json:"inbox_event_id,omitempty"`
	QueueEntryID int64  `json:"queue_entry_id,omitempty"`
	Duplicated   bool   `json:"duplicated"`
	Valid        bool   `json:"valid"`
	Enqueued     bool   `json:"enqueued"`

	ValidationErrors []model.FieldError `json:"validation_errors,omitempty"`
}

type QueueDepthResponse struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Retry      int64 `json:"retry"`
	DeadLetter int64 `json:"dead_letter"`
}

type HealthIssueResponse struct {
	Check     string `json:"check"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
	Value     int64  `json:"value"`
	Threshold int64  `json:"threshold"`
}

type QueueHealthResponse struct {
	Status                string                `json:"status"`
	Issues                []HealthIssueResponse `json:"issues"`
	Depth                 QueueDepthResponse    `json:"depth"`
	UnresolvedDeadLetters int64                 `json:"unresolved_dead_letters"`
	StaleProcessing       int64                 `json:"stale_processing"`
	CheckedAt             time.Time             `json:"checked_at"`
}

type InboxStatsResponse struct {
	Total         int64 `json:"total"`
	Valid         int64 `json:"valid"`
	Invalid       int64 `json:"invalid"`
	AwaitingQueue int64 `json:"awaiting_queue"`
	Processed     int64 `json:"processed"`
}

func NewInboxStatsResponse(stats store.InboxStats) InboxStatsResponse {
	return InboxStatsResponse{
		Total:         stats.Total,
		Valid:         stats.Valid,
		Invalid:       stats.Invalid,
		AwaitingQueue: stats.AwaitingQueue,
		Processed:     stats.Processed,
	}
}

type AlertResponse struct {
	ID           int64          `json:"id"`
	AlertType    string         `json:"alert_type"`
	Severity     string         `json:"severity"`
	Title        string         `json:"title"`
	Message      string         `json:"message"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	QueueEntryID *int64         `json:"queue_entry_id,omitempty"`
	Acknowledged bool           `json:"acknowledged"`
	Resolved     bool           `json:"resolved"`
	CreatedAt    time.Time      `json:"created_at"`
}

func NewAlertResponse(alert model.Alert) AlertResponse {
	return AlertResponse{
		ID:           alert.ID,
		AlertType:    alert.AlertType,
		Severity:     string(alert.Severity),
		Title:        alert.Title,
		Message:      alert.Message,
		Metadata:     alert.Metadata,
		QueueEntryID: alert.QueueEntryID,
		Acknowledged: alert.Acknowledged,
		Resolved:     alert.Resolved,
		CreatedAt:    alert.CreatedAt,
	}
}

type DeadLetterResponse struct {
	ID             int64     `json:"id"`
	QueueEntryID   int64     `json:"queue_entry_id"`
	EntityType     string    `json:"entity_type"`
	SourceEntityID string    `json:"source_entity_id"`
	FailureReason  string    `json:"failure_reason"`
	TotalAttempts  int       `json:"total_attempts"`
	Resolved       bool      `json:"resolved"`
	CreatedAt      time.Time `json:"created_at"`
}

func NewDeadLetterResponse(entry model.DeadLetterEntry) DeadLetterResponse {
	return DeadLetterResponse{
		ID:             entry.ID,
		QueueEntryID:   entry.QueueEntryID,
		EntityType:     entry.EntityType,
		SourceEntityID: entry.SourceEntityID,
		FailureReason:  entry.FailureReason,
		TotalAttempts:  entry.TotalAttempts,
		Resolved:       entry.Resolved,
		CreatedAt:      entry.CreatedAt,
	}
}

type BusStatsResponse struct {
	TotalPublished  uint64            `json:"total_published"`
	HandlerFailures uint64            `json:"handler_failures"`
	PerType         map[string]uint64 `json:"per_type"`
	Subscriptions   int               `json:"subscriptions"`
	HistorySize     int               `json:"history_size"`
}

type BusEventResponse struct {
	EventID       string         `json:"event_id"`
	EventType     string         `json:"event_type"`
	Timestamp     time.Time      `json:"timestamp"`
	Module        string         `json:"module"`
	Data          map[string]any `json:"data,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	AggregateID   string         `json:"aggregate_id,omitempty"`
	AggregateType string         `json:"aggregate_type,omitempty"`
}
