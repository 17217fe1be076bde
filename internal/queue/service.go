package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"driftsync.app/core/common/id"
	"driftsync.app/core/core/config"
	"driftsync.app/core/internal/bus"
	"driftsync.app/core/internal/metrics"
	"driftsync.app/core/internal/model"
	"driftsync.app/core/internal/store"
)

// Health thresholds. Crossing a warn threshold degrades the report,
// crossing a crit threshold marks the core unhealthy.
const (
	pendingWarnThreshold    = 500
	pendingCritThreshold    = 1000
	deadLetterWarnThreshold = 50
	deadLetterCritThreshold = 100
	retryWarnThreshold      = 200
	staleProcessingAge      = time.Hour
)

type EnqueueRequest struct {
	InboxEventID   int64
	EntityType     string
	SourceEntityID string
	OperationType  string
	Payload        json.RawMessage
	TraceID        string

	// PriorityOverride bypasses the entity rule's priority when set.
	PriorityOverride *int
}

type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// HealthIssue is one threshold breach found during a health sweep.
type HealthIssue struct {
	Check     string
	Severity  model.AlertSeverity
	Message   string
	Value     int64
	Threshold int64
}

type HealthReport struct {
	Status                HealthStatus
	Issues                []HealthIssue
	Depth                 map[model.EntryStatus]int64
	UnresolvedDeadLetters int64
	StaleProcessing       int64
	CheckedAt             time.Time
}

// Service owns the sync queue lifecycle: admission, claiming, completion,
// retry scheduling, and dead-letter escalation.
type Service struct {
	stores   store.StoreProvider
	txRunner store.TxRunner
	bus      *bus.Bus
	rules    *config.Rules
	producer Producer
	logger   *slog.Logger
}

func NewService(stores store.StoreProvider, txRunner store.TxRunner, eventBus *bus.Bus, rules *config.Rules, producer Producer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		stores:   stores,
		txRunner: txRunner,
		bus:      eventBus,
		rules:    rules,
		producer: producer,
		logger:   logger,
	}
}

// Enqueue admits a validated inbox event onto the queue. Priority and retry
// budget come from the entity rule unless overridden.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*model.QueueEntry, error) {
	if req.InboxEventID == 0 || req.EntityType == "" || req.SourceEntityID == "" || req.OperationType == "" {
		return nil, fmt.Errorf("inbox_event_id, entity_type, source_entity_id, and operation_type are required")
	}

	rule, _ := s.rules.ForEntity(req.EntityType)
	priority := rule.Priority
	if req.PriorityOverride != nil {
		priority = *req.PriorityOverride
		if priority < model.PriorityHighest {
			priority = model.PriorityHighest
		}
		if priority > model.PriorityLowest {
			priority = model.PriorityLowest
		}
	}

	entry := &model.QueueEntry{
		ID:               id.New(),
		InboxEventID:     req.InboxEventID,
		EntityType:       req.EntityType,
		SourceEntityID:   req.SourceEntityID,
		OperationType:    req.OperationType,
		ValidatedPayload: req.Payload,
		Status:           model.StatusPending,
		Priority:         priority,
		MaxRetryAttempts: rule.MaxRetryAttempts,
	}

	if err := s.stores.Queue().Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("inserting queue entry: %w", err)
	}

	metrics.EntriesEnqueued.WithLabelValues(req.EntityType).Inc()

	// The announcement is best effort. Workers poll Postgres on an interval,
	// so a failed nudge only delays pickup.
	if s.producer != nil {
		if err := s.producer.Announce(ctx, entry.ID, req.TraceID); err != nil {
			s.logger.WarnContext(ctx, "failed to announce queue entry, worker poll will pick it up",
				"entry_id", entry.ID, "error", err)
		}
	}

	s.logger.InfoContext(ctx, "enqueued sync entry",
		"entry_id", entry.ID,
		"entity_type", req.EntityType,
		"operation", req.OperationType,
		"priority", priority)
	return entry, nil
}

func (s *Service) GetByID(ctx context.Context, entryID int64) (*model.QueueEntry, error) {
	return s.stores.Queue().GetByID(ctx, entryID)
}

// GetPending returns claimable pending entries, most urgent first.
func (s *Service) GetPending(ctx context.Context, limit int32, priority *int) ([]model.QueueEntry, error) {
	return s.stores.Queue().ListPending(ctx, limit, priority)
}

// GetRetryReady returns retry entries whose backoff has elapsed.
func (s *Service) GetRetryReady(ctx context.Context, limit int32) ([]model.QueueEntry, error) {
	return s.stores.Queue().ListRetryReady(ctx, limit, time.Now().UTC())
}

// Claim attempts to take exclusive ownership of an entry. The claim is a
// single conditional update, so two workers racing for the same entry see
// exactly one winner.
func (s *Service) Claim(ctx context.Context, entryID int64, workerID string, lockTTL time.Duration) (*model.QueueEntry, bool, error) {
	claimed, entry, err := s.stores.Queue().Claim(ctx, entryID, workerID, lockTTL)
	if err != nil {
		return nil, false, fmt.Errorf("claiming entry %d: %w", entryID, err)
	}
	if !claimed {
		return nil, false, nil
	}
	return entry, true, nil
}

// MarkCompleted finishes a claimed entry and records the processing outcome.
func (s *Service) MarkCompleted(ctx context.Context, entry *model.QueueEntry, targetEntityID *string, result map[string]any) error {
	if err := s.stores.Queue().MarkCompleted(ctx, entry.ID, targetEntityID, result); err != nil {
		return fmt.Errorf("marking entry %d completed: %w", entry.ID, err)
	}
	metrics.EntriesProcessed.WithLabelValues(entry.EntityType, "completed").Inc()
	return nil
}

// MarkFailed routes a failed entry to retry or the dead-letter store.
// Retry applies exponential backoff; a non-retryable failure or an
// exhausted budget escalates in one transaction and publishes a
// dead-letter event once the transaction commits.
func (s *Service) MarkFailed(ctx context.Context, entry *model.QueueEntry, errMsg string, errCode *string, retryable bool) error {
	if retryable && !entry.Exhausted() {
		nextRetryAt := time.Now().UTC().Add(backoffDelay(entry.AttemptCount))
		if err := s.stores.Queue().MarkRetry(ctx, entry.ID, errMsg, errCode, nextRetryAt); err != nil {
			return fmt.Errorf("scheduling retry for entry %d: %w", entry.ID, err)
		}
		metrics.EntriesProcessed.WithLabelValues(entry.EntityType, "retry").Inc()
		s.logger.WarnContext(ctx, "entry scheduled for retry",
			"entry_id", entry.ID,
			"attempt", entry.AttemptCount,
			"max_attempts", entry.MaxRetryAttempts,
			"next_retry_at", nextRetryAt,
			"error", errMsg)
		return nil
	}

	deadLetter := &model.DeadLetterEntry{
		ID:             id.New(),
		QueueEntryID:   entry.ID,
		EntityType:     entry.EntityType,
		SourceEntityID: entry.SourceEntityID,
		FailureReason:  errMsg,
		TotalAttempts:  entry.AttemptCount,
		LastPayload:    entry.ValidatedPayload,
	}

	if err := s.txRunner.WithTx(ctx, func(sp store.StoreProvider) error {
		if err := sp.Queue().MarkDeadLetter(ctx, entry.ID, errMsg, errCode); err != nil {
			return fmt.Errorf("marking entry dead-lettered: %w", err)
		}
		if err := sp.DeadLetters().Insert(ctx, deadLetter); err != nil {
			return fmt.Errorf("inserting dead letter: %w", err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("dead-lettering entry %d: %w", entry.ID, err)
	}

	metrics.EntriesProcessed.WithLabelValues(entry.EntityType, "dead_letter").Inc()
	metrics.EntriesDeadLettered.WithLabelValues(entry.EntityType).Inc()

	s.logger.ErrorContext(ctx, "entry moved to dead letter store",
		"entry_id", entry.ID,
		"entity_type", entry.EntityType,
		"total_attempts", entry.AttemptCount,
		"error", errMsg)

	if s.bus != nil {
		evt := bus.NewEvent(bus.EventDeadLetterAdded, "queue", map[string]any{
			"queue_entry_id":   entry.ID,
			"dead_letter_id":   deadLetter.ID,
			"entity_type":      entry.EntityType,
			"source_entity_id": entry.SourceEntityID,
			"failure_reason":   errMsg,
			"total_attempts":   entry.AttemptCount,
		}).WithAggregate("queue_entry", fmt.Sprint(entry.ID))
		s.bus.Publish(ctx, evt)
	}
	return nil
}

// Depth reports entry counts per status and refreshes the depth gauges.
func (s *Service) Depth(ctx context.Context) (map[model.EntryStatus]int64, error) {
	depth, err := s.stores.Queue().Depth(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading queue depth: %w", err)
	}
	for _, status := range []model.EntryStatus{
		model.StatusPending, model.StatusProcessing, model.StatusCompleted,
		model.StatusRetry, model.StatusDeadLetter,
	} {
		metrics.QueueDepth.WithLabelValues(string(status)).Set(float64(depth[status]))
	}
	return depth, nil
}

// ReleaseExpiredLocks returns entries whose worker lock lapsed back to
// pending so another worker can claim them.
func (s *Service) ReleaseExpiredLocks(ctx context.Context) (int64, error) {
	released, err := s.stores.Queue().ReleaseExpiredLocks(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("releasing expired locks: %w", err)
	}
	if released > 0 {
		s.logger.WarnContext(ctx, "released expired worker locks", "count", released)
	}
	return released, nil
}

// CleanupOld deletes completed entries older than the retention window.
// Dead-lettered entries are never deleted here.
func (s *Service) CleanupOld(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	deleted, err := s.stores.Queue().DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning up completed entries: %w", err)
	}
	if deleted > 0 {
		s.logger.InfoContext(ctx, "cleaned up completed entries", "count", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}

// CheckHealth evaluates queue depth, dead-letter backlog, retry backlog,
// and stuck processing entries against the alert thresholds.
func (s *Service) CheckHealth(ctx context.Context) (HealthReport, error) {
	report := HealthReport{
		Status:    HealthOK,
		CheckedAt: time.Now().UTC(),
	}

	depth, err := s.Depth(ctx)
	if err != nil {
		return report, err
	}
	report.Depth = depth

	unresolved, err := s.stores.DeadLetters().CountUnresolved(ctx)
	if err != nil {
		return report, fmt.Errorf("counting unresolved dead letters: %w", err)
	}
	report.UnresolvedDeadLetters = unresolved

	stale, err := s.stores.Queue().CountStaleProcessing(ctx, time.Now().UTC().Add(-staleProcessingAge))
	if err != nil {
		return report, fmt.Errorf("counting stale processing entries: %w", err)
	}
	report.StaleProcessing = stale

	pending := depth[model.StatusPending]
	switch {
	case pending > pendingCritThreshold:
		report.addIssue("queue_depth", model.SeverityCritical,
			fmt.Sprintf("pending queue depth %d exceeds critical threshold", pending),
			pending, pendingCritThreshold)
	case pending > pendingWarnThreshold:
		report.addIssue("queue_depth", model.SeverityWarning,
			fmt.Sprintf("pending queue depth %d exceeds warning threshold", pending),
			pending, pendingWarnThreshold)
	}

	switch {
	case unresolved > deadLetterCritThreshold:
		report.addIssue("dead_letter_backlog", model.SeverityCritical,
			fmt.Sprintf("%d unresolved dead letters exceed critical threshold", unresolved),
			unresolved, deadLetterCritThreshold)
	case unresolved > deadLetterWarnThreshold:
		report.addIssue("dead_letter_backlog", model.SeverityWarning,
			fmt.Sprintf("%d unresolved dead letters exceed warning threshold", unresolved),
			unresolved, deadLetterWarnThreshold)
	}

	if retryDepth := depth[model.StatusRetry]; retryDepth > retryWarnThreshold {
		report.addIssue("retry_backlog", model.SeverityWarning,
			fmt.Sprintf("%d entries awaiting retry exceed warning threshold", retryDepth),
			retryDepth, retryWarnThreshold)
	}

	if stale > 0 {
		report.addIssue("stale_processing", model.SeverityWarning,
			fmt.Sprintf("%d entries stuck in processing for over an hour", stale),
			stale, 0)
	}

	return report, nil
}

func (r *HealthReport) addIssue(check string, severity model.AlertSeverity, message string, value, threshold int64) {
	r.Issues = append(r.Issues, HealthIssue{
		Check:     check,
		Severity:  severity,
		Message:   message,
		Value:     value,
		Threshold: threshold,
	})
	if severity == model.SeverityCritical {
		r.Status = HealthCritical
	} else if r.Status == HealthOK {
		r.Status = HealthWarning
	}
}

// backoffDelay doubles per attempt: 2, 4, 8 minutes and so on.
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		attempt = 16
	}
	return time.Duration(1<<uint(attempt)) * time.Minute
}
