package model

import (
	"encoding/json"
	"time"
)

// FieldError is one structured validation failure on an inbox event payload.
// Validation failures are stored, never thrown up the stack.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// InboxEvent is one received webhook call, deduplicated by idempotency key.
// Once ProcessedAt is set the row is never mutated again except by explicit
// reprocessing.
type InboxEvent struct {
	ID int64

	// IdempotencyKey is globally unique, derived from
	// source:entity_type:entity_id:operation. A second insert with the same
	// key is a no-op duplicate, not a server fault.
	IdempotencyKey string

	// ContentHash covers the payload with volatile timestamp fields
	// excluded, so two deliveries of logically identical content hash
	// identically.
	ContentHash string

	SourceType        string
	EntityType        string
	SourceEntityID    string
	Operation         string
	RawPayload        json.RawMessage
	Headers           map[string]string
	ClientIP          string
	SignatureVerified bool

	ReceivedAt       time.Time
	IsValid          bool
	ValidationErrors []FieldError
	MovedToQueue     bool
	ProcessedAt      *time.Time
}
