package model

import "time"

// RunStatus is the lifecycle state of a sync run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// SyncRun groups a bounded batch of queue activity into one auditable
// record. Created at batch start, completed or failed exactly once.
type SyncRun struct {
	ID         int64
	RunType    string
	EntityType *string
	Status     RunStatus

	TotalEvents     int
	ProcessedEvents int
	FailedEvents    int
	SkippedEvents   int

	DurationSeconds       *float64
	ConfigurationSnapshot map[string]any
	ErrorSummary          *string
	ErrorCode             *string

	StartedAt  time.Time
	FinishedAt *time.Time
}
