package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"driftsync.app/core/common/id"
	"driftsync.app/core/internal/dedupe"
	"driftsync.app/core/internal/metrics"
	"driftsync.app/core/internal/model"
	"driftsync.app/core/internal/queue"
	"driftsync.app/core/internal/store"
)

// ErrMalformedPayload is returned for payloads the inbox cannot even
// identify: not a JSON object, or missing the entity envelope.
var ErrMalformedPayload = errors.New("malformed payload")

type IngestParams struct {
	SourceType        string            `json:"source_type"`
	Payload           json.RawMessage   `json:"payload"`
	Headers           map[string]string `json:"-"`
	ClientIP          string            `json:"-"`
	SignatureVerified bool              `json:"-"`
	TraceID           string            `json:"-"`
}

type IngestResult struct {
	Event      *model.InboxEvent
	Entry      *model.QueueEntry
	Duplicated bool
	Enqueued   bool
}

// envelope carries the identifying fields every webhook payload must have.
type envelope struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Operation  string `json:"operation"`
}

type Service struct {
	stores    store.StoreProvider
	validator *Validator
	queue     *queue.Service
	logger    *slog.Logger
}

func NewService(stores store.StoreProvider, validator *Validator, queueSvc *queue.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		stores:    stores,
		validator: validator,
		queue:     queueSvc,
		logger:    logger,
	}
}

// Ingest durably stores a webhook delivery, validates it, and admits valid
// events onto the sync queue. A redelivery of an already stored operation
// is reported as a duplicate, never as an error: at-least-once sources are
// expected to redeliver.
//
// Invalid payloads are stored with their field errors and stop there. They
// are visible on the dashboard but never reach the queue.
func (s *Service) Ingest(ctx context.Context, params IngestParams) (*IngestResult, error) {
	if params.SourceType == "" {
		return nil, fmt.Errorf("source_type is required")
	}
	if len(params.Payload) == 0 {
		return nil, fmt.Errorf("%w: payload is required", ErrMalformedPayload)
	}

	var env envelope
	if err := json.Unmarshal(params.Payload, &env); err != nil {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrMalformedPayload)
	}
	if env.EntityType == "" || env.EntityID == "" || env.Operation == "" {
		return nil, fmt.Errorf("%w: entity_type, entity_id, and operation are required", ErrMalformedPayload)
	}

	contentHash, err := dedupe.ContentHash(params.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	idempotencyKey := dedupe.IdempotencyKey(params.SourceType, env.EntityType, env.EntityID, env.Operation)

	event := &model.InboxEvent{
		ID:                id.New(),
		IdempotencyKey:    idempotencyKey,
		ContentHash:       contentHash,
		SourceType:        params.SourceType,
		EntityType:        env.EntityType,
		SourceEntityID:    env.EntityID,
		Operation:         env.Operation,
		RawPayload:        params.Payload,
		Headers:           params.Headers,
		ClientIP:          params.ClientIP,
		SignatureVerified: params.SignatureVerified,
	}

	if err := s.stores.Inbox().Insert(ctx, event); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			// A concurrent delivery may have won the insert race. Either
			// way the operation is already stored and this delivery is a
			// no-op.
			existing, getErr := s.stores.Inbox().GetByIdempotencyKey(ctx, idempotencyKey)
			if getErr != nil {
				return nil, fmt.Errorf("fetching duplicate inbox event: %w", getErr)
			}
			metrics.EventsDeduplicated.Inc()
			s.logger.InfoContext(ctx, "duplicate webhook delivery deduped",
				"inbox_event_id", existing.ID,
				"idempotency_key", idempotencyKey,
				"content_changed", existing.ContentHash != contentHash)
			return &IngestResult{Event: existing, Duplicated: true}, nil
		}
		return nil, fmt.Errorf("storing inbox event: %w", err)
	}

	metrics.EventsIngested.WithLabelValues(params.SourceType, env.EntityType).Inc()

	fieldErrors := s.validator.Validate(env.EntityType, params.Payload)
	event.IsValid = len(fieldErrors) == 0
	event.ValidationErrors = fieldErrors
	if err := s.stores.Inbox().SetValidity(ctx, event.ID, event.IsValid, fieldErrors); err != nil {
		return nil, fmt.Errorf("recording validation result: %w", err)
	}

	if !event.IsValid {
		s.logger.WarnContext(ctx, "inbox event failed validation",
			"inbox_event_id", event.ID,
			"entity_type", env.EntityType,
			"field_errors", len(fieldErrors))
		return &IngestResult{Event: event}, nil
	}

	entry, err := s.enqueueEvent(ctx, event, params.TraceID)
	if err != nil {
		// The event is stored and valid; the reconciliation sweep retries
		// admission later, so ingestion still succeeds.
		s.logger.ErrorContext(ctx, "failed to enqueue valid inbox event, sweep will retry",
			"inbox_event_id", event.ID, "error", err)
		return &IngestResult{Event: event}, nil
	}

	return &IngestResult{Event: event, Entry: entry, Enqueued: true}, nil
}

// MarkProcessed closes the inbox record once the queue entry derived from
// it reached a terminal state.
func (s *Service) MarkProcessed(ctx context.Context, inboxEventID int64) error {
	return s.stores.Inbox().MarkProcessed(ctx, inboxEventID)
}

func (s *Service) GetByID(ctx context.Context, inboxEventID int64) (*model.InboxEvent, error) {
	return s.stores.Inbox().GetByID(ctx, inboxEventID)
}

func (s *Service) Stats(ctx context.Context) (store.InboxStats, error) {
	return s.stores.Inbox().Stats(ctx)
}

// Sweep re-admits valid events that were stored but never made it onto the
// queue, e.g. because the enqueue after ingestion failed. Invalid events
// are skipped; they need payload changes, not retries.
func (s *Service) Sweep(ctx context.Context, limit int32) (int, error) {
	events, err := s.stores.Inbox().ListUnprocessed(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("listing unqueued inbox events: %w", err)
	}

	admitted := 0
	for i := range events {
		event := &events[i]
		if !event.IsValid {
			continue
		}
		if _, err := s.enqueueEvent(ctx, event, ""); err != nil {
			s.logger.ErrorContext(ctx, "sweep failed to enqueue inbox event",
				"inbox_event_id", event.ID, "error", err)
			continue
		}
		admitted++
	}

	if admitted > 0 {
		s.logger.InfoContext(ctx, "sweep re-admitted inbox events", "count", admitted)
	}
	return admitted, nil
}

func (s *Service) enqueueEvent(ctx context.Context, event *model.InboxEvent, traceID string) (*model.QueueEntry, error) {
	entry, err := s.queue.Enqueue(ctx, queue.EnqueueRequest{
		InboxEventID:   event.ID,
		EntityType:     event.EntityType,
		SourceEntityID: event.SourceEntityID,
		OperationType:  event.Operation,
		Payload:        event.RawPayload,
		TraceID:        traceID,
	})
	if err != nil {
		return nil, err
	}
	if err := s.stores.Inbox().MarkQueued(ctx, event.ID); err != nil {
		return nil, fmt.Errorf("marking inbox event queued: %w", err)
	}
	event.MovedToQueue = true
	return entry, nil
}
