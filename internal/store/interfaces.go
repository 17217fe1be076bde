package store

import (
	"context"
	"errors"
	"time"

	"driftsync.app/core/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateKey is returned when an insert violates a unique constraint.
// For inbox events this is the expected outcome of an at-least-once
// webhook redelivery, not a fault.
var ErrDuplicateKey = errors.New("duplicate key")

// InboxStats summarizes inbox state for dashboards.
type InboxStats struct {
	Total         int64
	Valid         int64
	Invalid       int64
	AwaitingQueue int64
	Processed     int64
}

// InboxStore defines the contract for inbox event data access.
type InboxStore interface {
	Insert(ctx context.Context, evt *model.InboxEvent) error
	GetByID(ctx context.Context, id int64) (*model.InboxEvent, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*model.InboxEvent, error)
	SetValidity(ctx context.Context, id int64, valid bool, fieldErrors []model.FieldError) error
	MarkQueued(ctx context.Context, id int64) error
	MarkProcessed(ctx context.Context, id int64) error
	ListUnprocessed(ctx context.Context, limit int32) ([]model.InboxEvent, error)
	Stats(ctx context.Context) (InboxStats, error)
}

// QueueStore defines the contract for sync queue data access.
type QueueStore interface {
	Insert(ctx context.Context, entry *model.QueueEntry) error
	GetByID(ctx context.Context, id int64) (*model.QueueEntry, error)
	ListPending(ctx context.Context, limit int32, priority *int) ([]model.QueueEntry, error)
	ListRetryReady(ctx context.Context, limit int32, now time.Time) ([]model.QueueEntry, error)

	// Claim conditionally moves an unlocked pending/retry entry to
	// processing. Returns false when another worker already holds it.
	Claim(ctx context.Context, id int64, workerID string, lockTTL time.Duration) (bool, *model.QueueEntry, error)

	MarkCompleted(ctx context.Context, id int64, targetEntityID *string, result map[string]any) error
	MarkRetry(ctx context.Context, id int64, errMsg string, errCode *string, nextRetryAt time.Time) error
	MarkDeadLetter(ctx context.Context, id int64, errMsg string, errCode *string) error

	Depth(ctx context.Context) (map[model.EntryStatus]int64, error)
	CountStaleProcessing(ctx context.Context, startedBefore time.Time) (int64, error)
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ReleaseExpiredLocks(ctx context.Context, now time.Time) (int64, error)
}

// DeadLetterStore defines the contract for dead-letter data access.
type DeadLetterStore interface {
	Insert(ctx context.Context, entry *model.DeadLetterEntry) error
	GetByQueueEntryID(ctx context.Context, queueEntryID int64) (*model.DeadLetterEntry, error)
	ListUnresolved(ctx context.Context, limit int32) ([]model.DeadLetterEntry, error)
	CountUnresolved(ctx context.Context) (int64, error)
	Resolve(ctx context.Context, id int64) error
}

// SyncRunStore defines the contract for sync run data access.
type SyncRunStore interface {
	Insert(ctx context.Context, run *model.SyncRun) error
	GetByID(ctx context.Context, id int64) (*model.SyncRun, error)
	MarkRunning(ctx context.Context, id int64) error
	Finish(ctx context.Context, run *model.SyncRun) error
}

// AlertStore defines the contract for alert data access.
type AlertStore interface {
	Insert(ctx context.Context, alert *model.Alert) error
	GetByID(ctx context.Context, id int64) (*model.Alert, error)
	List(ctx context.Context, limit int32, openOnly bool) ([]model.Alert, error)
	HasOpen(ctx context.Context, alertType string) (bool, error)
	Acknowledge(ctx context.Context, id int64) error
	Resolve(ctx context.Context, id int64) error
}

// MetricStore defines the contract for sync metric data access.
type MetricStore interface {
	Insert(ctx context.Context, metric *model.SyncMetric) error
	CountSince(ctx context.Context, name string, since time.Time) (int64, error)
}
