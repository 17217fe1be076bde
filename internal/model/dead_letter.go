package model

import (
	"encoding/json"
	"time"
)

// DeadLetterEntry is the permanent record of exhausted work, one-to-one
// with the queue entry that failed terminally. Terminal absent manual
// resolution.
type DeadLetterEntry struct {
	ID           int64
	QueueEntryID int64

	EntityType     string
	SourceEntityID string
	FailureReason  string
	TotalAttempts  int
	LastPayload    json.RawMessage

	Resolved   bool
	ResolvedAt *time.Time
	CreatedAt  time.Time
}
