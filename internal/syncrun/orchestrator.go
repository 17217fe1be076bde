package syncrun

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"driftsync.app/core/common/id"
	"driftsync.app/core/internal/bus"
	"driftsync.app/core/internal/metrics"
	"driftsync.app/core/internal/model"
	"driftsync.app/core/internal/store"
)

// Orchestrator groups queue activity into auditable sync runs and narrates
// progress on the event bus. It never touches the queue itself; workers
// report outcomes to it.
type Orchestrator struct {
	stores store.StoreProvider
	bus    *bus.Bus
	logger *slog.Logger
}

func NewOrchestrator(stores store.StoreProvider, eventBus *bus.Bus, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		stores: stores,
		bus:    eventBus,
		logger: logger,
	}
}

// CreateRun opens a pending sync run and announces it. EntityType is nil
// for runs spanning all entity types.
func (o *Orchestrator) CreateRun(ctx context.Context, runType string, entityType *string, totalEvents int, configSnapshot map[string]any) (*model.SyncRun, error) {
	if runType == "" {
		return nil, fmt.Errorf("run_type is required")
	}

	run := &model.SyncRun{
		ID:                    id.New(),
		RunType:               runType,
		EntityType:            entityType,
		Status:                model.RunStatusPending,
		TotalEvents:           totalEvents,
		ConfigurationSnapshot: configSnapshot,
		StartedAt:             time.Now().UTC(),
	}

	if err := o.stores.Runs().Insert(ctx, run); err != nil {
		return nil, fmt.Errorf("creating sync run: %w", err)
	}

	o.logger.InfoContext(ctx, "sync run started",
		"run_id", run.ID, "run_type", runType, "total_events", totalEvents)

	o.publish(ctx, bus.NewEvent(bus.EventSyncStarted, "syncrun", map[string]any{
		"run_id":       run.ID,
		"run_type":     runType,
		"total_events": totalEvents,
	}), run)
	return run, nil
}

// StartRun moves a pending run to running once its batch begins.
func (o *Orchestrator) StartRun(ctx context.Context, run *model.SyncRun) error {
	if err := o.stores.Runs().MarkRunning(ctx, run.ID); err != nil {
		return fmt.Errorf("starting sync run %d: %w", run.ID, err)
	}
	run.Status = model.RunStatusRunning
	return nil
}

// CompleteRun finishes a run exactly once and publishes its outcome with
// the measured duration. Completing an already finished run is a no-op.
func (o *Orchestrator) CompleteRun(ctx context.Context, run *model.SyncRun, processed, failed, skipped int) error {
	now := time.Now().UTC()
	duration := now.Sub(run.StartedAt).Seconds()

	run.Status = model.RunStatusCompleted
	run.ProcessedEvents = processed
	run.FailedEvents = failed
	run.SkippedEvents = skipped
	run.DurationSeconds = &duration
	run.FinishedAt = &now

	if err := o.stores.Runs().Finish(ctx, run); err != nil {
		return fmt.Errorf("completing sync run %d: %w", run.ID, err)
	}

	o.logger.InfoContext(ctx, "sync run completed",
		"run_id", run.ID,
		"processed", processed,
		"failed", failed,
		"skipped", skipped,
		"duration_seconds", duration)

	o.publish(ctx, bus.NewEvent(bus.EventSyncCompleted, "syncrun", map[string]any{
		"run_id":           run.ID,
		"run_type":         run.RunType,
		"processed_events": processed,
		"failed_events":    failed,
		"skipped_events":   skipped,
		"duration_seconds": duration,
	}), run)
	return nil
}

// FailRun marks a run failed with a summary of what went wrong.
func (o *Orchestrator) FailRun(ctx context.Context, run *model.SyncRun, summary string, errCode *string) error {
	now := time.Now().UTC()
	duration := now.Sub(run.StartedAt).Seconds()

	run.Status = model.RunStatusFailed
	run.DurationSeconds = &duration
	run.ErrorSummary = &summary
	run.ErrorCode = errCode
	run.FinishedAt = &now

	if err := o.stores.Runs().Finish(ctx, run); err != nil {
		return fmt.Errorf("failing sync run %d: %w", run.ID, err)
	}

	o.logger.ErrorContext(ctx, "sync run failed",
		"run_id", run.ID, "error_summary", summary, "duration_seconds", duration)

	o.publish(ctx, bus.NewEvent(bus.EventSyncFailed, "syncrun", map[string]any{
		"run_id":           run.ID,
		"run_type":         run.RunType,
		"error_summary":    summary,
		"duration_seconds": duration,
	}), run)
	return nil
}

// RecordEntitySync reports one successfully applied entity and feeds the
// rolling failure-rate window.
func (o *Orchestrator) RecordEntitySync(ctx context.Context, entityType, sourceEntityID string, targetEntityID *string, durationMS float64) error {
	metrics.ProcessingDuration.Observe(durationMS)

	if err := o.RecordMetric(ctx, model.MetricEntitySynced, 1, map[string]string{
		"entity_type": entityType,
	}); err != nil {
		return err
	}

	data := map[string]any{
		"entity_type":      entityType,
		"source_entity_id": sourceEntityID,
		"duration_ms":      durationMS,
	}
	if targetEntityID != nil {
		data["target_entity_id"] = *targetEntityID
	}
	evt := bus.NewEvent(bus.EventEntitySynced, "syncrun", data).
		WithAggregate(entityType, sourceEntityID)
	o.bus.Publish(ctx, evt)
	return nil
}

// RecordEntitySyncFailure reports one failed entity application.
func (o *Orchestrator) RecordEntitySyncFailure(ctx context.Context, entityType, sourceEntityID, reason string, willRetry bool) error {
	if err := o.RecordMetric(ctx, model.MetricEntitySyncFailed, 1, map[string]string{
		"entity_type": entityType,
	}); err != nil {
		return err
	}

	evt := bus.NewEvent(bus.EventEntitySyncFailed, "syncrun", map[string]any{
		"entity_type":      entityType,
		"source_entity_id": sourceEntityID,
		"reason":           reason,
		"will_retry":       willRetry,
	}).WithAggregate(entityType, sourceEntityID)
	o.bus.Publish(ctx, evt)
	return nil
}

// RecordMetric writes one datapoint for dashboards and the health monitor's
// failure-rate window.
func (o *Orchestrator) RecordMetric(ctx context.Context, name string, value float64, tags map[string]string) error {
	metric := &model.SyncMetric{
		ID:         id.New(),
		Name:       name,
		Value:      value,
		Tags:       tags,
		RecordedAt: time.Now().UTC(),
	}
	if err := o.stores.Metrics().Insert(ctx, metric); err != nil {
		return fmt.Errorf("recording metric %q: %w", name, err)
	}
	return nil
}

func (o *Orchestrator) GetRun(ctx context.Context, runID int64) (*model.SyncRun, error) {
	return o.stores.Runs().GetByID(ctx, runID)
}

func (o *Orchestrator) publish(ctx context.Context, evt bus.Event, run *model.SyncRun) {
	o.bus.Publish(ctx, evt.WithAggregate("sync_run", fmt.Sprint(run.ID)))
}
