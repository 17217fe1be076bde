package model

import (
	"encoding/json"
	"time"
)

// EntryStatus is the lifecycle state of a sync queue entry.
type EntryStatus string

const (
	StatusPending    EntryStatus = "pending"
	StatusProcessing EntryStatus = "processing"
	StatusCompleted  EntryStatus = "completed"
	StatusRetry      EntryStatus = "retry"
	StatusDeadLetter EntryStatus = "dead_letter"
)

// Priority bounds. 1 is most urgent, 10 least.
const (
	PriorityHighest = 1
	PriorityLowest  = 10
)

// QueueEntry is one unit of work to apply to local storage.
//
// Invariants: an entry with LockedBy set must not be claimed by a second
// worker; AttemptCount only increases; dead_letter is reached only after
// AttemptCount >= MaxRetryAttempts or an explicit non-retryable failure.
type QueueEntry struct {
	ID           int64
	InboxEventID int64

	EntityType       string
	SourceEntityID   string
	OperationType    string
	ValidatedPayload json.RawMessage

	Status           EntryStatus
	Priority         int
	AttemptCount     int
	MaxRetryAttempts int

	LockedBy      *string
	LockExpiresAt *time.Time
	NextRetryAt   *time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time

	ErrorMessage *string
	ErrorCode    *string

	// TargetEntityID is the local row ID once the domain handler applied
	// the payload.
	TargetEntityID   *string
	ProcessingResult map[string]any

	CreatedAt time.Time
}

// Exhausted reports whether the entry has no retry budget left.
func (e *QueueEntry) Exhausted() bool {
	return e.AttemptCount >= e.MaxRetryAttempts
}
