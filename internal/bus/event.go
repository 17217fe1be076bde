package bus

import (
	"time"

	"github.com/google/uuid"
)

// Event is an immutable domain event carried by the bus. Event types are
// dot-namespaced strings such as "sync.completed".
type Event struct {
	EventID       string
	EventType     string
	Timestamp     time.Time
	Module        string
	Data          map[string]any
	Metadata      map[string]any
	CorrelationID string
	CausationID   string
	AggregateID   string
	AggregateType string
	Version       int
}

// Event types published by the core.
const (
	EventSyncStarted      = "sync.started"
	EventSyncCompleted    = "sync.completed"
	EventSyncFailed       = "sync.failed"
	EventEntitySynced     = "sync.entity.synced"
	EventEntitySyncFailed = "sync.entity.failed"
	EventDeadLetterAdded  = "sync.dead_letter.added"
	EventAlertRaised      = "sync.alert.raised"
)

// NewEvent builds an event with a fresh ID and timestamp. CorrelationID
// defaults to the event ID when not overridden afterwards via WithCorrelation.
func NewEvent(eventType, module string, data map[string]any) Event {
	id := uuid.NewString()
	return Event{
		EventID:       id,
		EventType:     eventType,
		Timestamp:     time.Now().UTC(),
		Module:        module,
		Data:          data,
		CorrelationID: id,
		Version:       1,
	}
}

// WithCorrelation returns a copy of the event carrying correlation and
// causation IDs from an upstream event.
func (e Event) WithCorrelation(correlationID, causationID string) Event {
	if correlationID != "" {
		e.CorrelationID = correlationID
	}
	e.CausationID = causationID
	return e
}

// WithAggregate returns a copy of the event tagged with the aggregate it
// concerns.
func (e Event) WithAggregate(aggregateType, aggregateID string) Event {
	e.AggregateType = aggregateType
	e.AggregateID = aggregateID
	return e
}
