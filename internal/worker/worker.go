package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"driftsync.app/core/common/logger"
	"driftsync.app/core/core/config"
	"driftsync.app/core/internal/inbox"
	"driftsync.app/core/internal/model"
	"driftsync.app/core/internal/queue"
	"driftsync.app/core/internal/syncrun"
)

// Worker drains the sync queue. It wakes on dispatch notices from the
// stream and falls back to polling Postgres, so work is processed even
// when Redis is down or a notice is lost. Ownership is decided solely by
// the conditional claim in Postgres; a notice is just a hint.
type Worker struct {
	consumer     *queue.RedisConsumer
	queue        *queue.Service
	inbox        *inbox.Service
	orchestrator *syncrun.Orchestrator
	registry     *Registry
	cfg          config.WorkerConfig

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer *queue.RedisConsumer, queueSvc *queue.Service, inboxSvc *inbox.Service, orchestrator *syncrun.Orchestrator, registry *Registry, cfg config.WorkerConfig) *Worker {
	return &Worker{
		consumer:     consumer,
		queue:        queueSvc,
		inbox:        inboxSvc,
		orchestrator: orchestrator,
		registry:     registry,
		cfg:          cfg,
		stopCh:       make(chan struct{}),
		stoppedCh:    make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		WorkerID:  &w.cfg.ID,
		Component: "driftsync.worker",
	})

	slog.InfoContext(ctx, "worker started",
		"worker_id", w.cfg.ID,
		"entity_types", w.registry.EntityTypes(),
		"poll_interval", w.cfg.PollInterval)

	var lastPoll time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
		}

		worked := false
		if w.consumer != nil {
			// Read blocks up to the consumer's Block duration, so this
			// doubles as the idle wait.
			notices, err := w.consumer.Read(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "reading dispatch notices failed", "error", err)
				time.Sleep(time.Second)
			}
			if len(notices) > 0 {
				w.withRun(ctx, "dispatch", len(notices), func(ctx context.Context) (batchStats, error) {
					var stats batchStats
					for _, notice := range notices {
						claimed, ok := w.handleNotice(ctx, notice)
						switch {
						case !claimed:
							stats.skipped++
						case ok:
							stats.processed++
						default:
							stats.failed++
						}
					}
					return stats, nil
				})
			}
			worked = len(notices) > 0
		}

		if time.Since(lastPoll) >= w.cfg.PollInterval {
			n, err := w.PollOnce(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "queue poll failed", "error", err)
			}
			worked = worked || n > 0
			lastPoll = time.Now()
		}

		if w.consumer == nil && !worked {
			time.Sleep(w.cfg.IdleBackoff)
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

// handleNotice claims and processes the entry a dispatch notice points at.
// The notice is acknowledged in every case but a claim error: losing the
// claim race means another worker owns the entry, and a processing failure
// is recorded in Postgres, where retry scheduling lives. Redelivering the
// notice would change nothing. Returns whether the entry was claimed and,
// if so, whether it completed.
func (w *Worker) handleNotice(ctx context.Context, notice queue.Notice) (claimed, succeeded bool) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		MessageID:    &notice.ID,
		QueueEntryID: &notice.EntryID,
	})

	entry, claimed, err := w.queue.Claim(ctx, notice.EntryID, w.cfg.ID, w.cfg.LockTTL)
	if err != nil {
		slog.ErrorContext(ctx, "claim failed for dispatched entry", "error", err)
		// Leave the notice pending; the reclaimer retries it once idle.
		return false, false
	}

	if claimed {
		succeeded = w.processEntry(ctx, entry)
	} else {
		slog.DebugContext(ctx, "entry not claimable, skipping", "entry_id", notice.EntryID)
	}

	if err := w.consumer.Ack(ctx, notice); err != nil {
		slog.WarnContext(ctx, "failed to ack dispatch notice", "error", err, "message_id", notice.ID)
	}
	return claimed, succeeded
}

// batchStats tallies a batch of queue activity for its sync run. Skipped
// covers entries lost to a claim race or a claim error.
type batchStats struct {
	processed int
	failed    int
	skipped   int
}

// withRun groups a batch of queue work into a sync run. Run bookkeeping
// never blocks the work itself: if opening the run fails, the batch still
// executes, just unrecorded.
func (w *Worker) withRun(ctx context.Context, runType string, total int, batch func(context.Context) (batchStats, error)) batchStats {
	run, err := w.orchestrator.CreateRun(ctx, runType, nil, total, nil)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open sync run", "run_type", runType, "error", err)
		stats, _ := batch(ctx)
		return stats
	}
	if err := w.orchestrator.StartRun(ctx, run); err != nil {
		slog.ErrorContext(ctx, "failed to start sync run", "run_id", run.ID, "error", err)
	}

	stats, batchErr := batch(ctx)
	if batchErr != nil {
		if err := w.orchestrator.FailRun(ctx, run, batchErr.Error(), nil); err != nil {
			slog.ErrorContext(ctx, "failed to record failed sync run", "run_id", run.ID, "error", err)
		}
		return stats
	}
	if err := w.orchestrator.CompleteRun(ctx, run, stats.processed, stats.failed, stats.skipped); err != nil {
		slog.ErrorContext(ctx, "failed to complete sync run", "run_id", run.ID, "error", err)
	}
	return stats
}

// PollOnce claims and processes a batch of due work straight from
// Postgres: pending entries first, then retries whose backoff elapsed.
// A non-empty batch is recorded as a sync run.
func (w *Worker) PollOnce(ctx context.Context) (int, error) {
	pending, err := w.queue.GetPending(ctx, w.cfg.BatchSize, nil)
	if err != nil {
		return 0, fmt.Errorf("listing pending entries: %w", err)
	}
	retryReady, err := w.queue.GetRetryReady(ctx, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("listing retry-ready entries: %w", err)
	}
	candidates := append(pending, retryReady...)
	if len(candidates) == 0 {
		return 0, nil
	}

	var loopErr error
	stats := w.withRun(ctx, "poll", len(candidates), func(ctx context.Context) (batchStats, error) {
		var stats batchStats
		for _, candidate := range candidates {
			select {
			case <-ctx.Done():
				loopErr = ctx.Err()
				return stats, ctx.Err()
			case <-w.stopCh:
				return stats, nil
			default:
			}

			entry, claimed, err := w.queue.Claim(ctx, candidate.ID, w.cfg.ID, w.cfg.LockTTL)
			if err != nil {
				slog.ErrorContext(ctx, "claim failed during poll", "entry_id", candidate.ID, "error", err)
				stats.skipped++
				continue
			}
			if !claimed {
				stats.skipped++
				continue
			}
			if w.processEntry(ctx, entry) {
				stats.processed++
			} else {
				stats.failed++
			}
		}
		return stats, nil
	})
	return stats.processed, loopErr
}

// ProcessEntry runs the domain handler for a claimed entry and settles the
// outcome. Exported so the reclaimer can reuse it.
func (w *Worker) ProcessEntry(ctx context.Context, entry *model.QueueEntry) {
	w.processEntry(ctx, entry)
}

// processEntry reports whether the entry completed successfully.
func (w *Worker) processEntry(ctx context.Context, entry *model.QueueEntry) bool {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		QueueEntryID: &entry.ID,
		InboxEventID: &entry.InboxEventID,
		EntityType:   &entry.EntityType,
	})

	slog.InfoContext(ctx, "processing queue entry",
		"entry_id", entry.ID,
		"entity_type", entry.EntityType,
		"operation", entry.OperationType,
		"attempt", entry.AttemptCount)

	start := time.Now()
	result, err := w.applySafe(ctx, entry)
	durationMS := float64(time.Since(start).Milliseconds())

	if err == nil {
		if err := w.queue.MarkCompleted(ctx, entry, result.TargetEntityID, result.Details); err != nil {
			slog.ErrorContext(ctx, "failed to mark entry completed", "error", err)
			return false
		}
		if err := w.inbox.MarkProcessed(ctx, entry.InboxEventID); err != nil {
			slog.ErrorContext(ctx, "failed to mark inbox event processed", "error", err)
		}
		if err := w.orchestrator.RecordEntitySync(ctx, entry.EntityType, entry.SourceEntityID, result.TargetEntityID, durationMS); err != nil {
			slog.ErrorContext(ctx, "failed to record entity sync", "error", err)
		}
		slog.InfoContext(ctx, "entry completed", "entry_id", entry.ID, "duration_ms", durationMS)
		return true
	}

	retryable, code := classifyFailure(err)
	willRetry := retryable && !entry.Exhausted()

	if markErr := w.queue.MarkFailed(ctx, entry, err.Error(), code, retryable); markErr != nil {
		slog.ErrorContext(ctx, "failed to settle failed entry", "error", markErr)
		return false
	}
	if !willRetry {
		// Terminal failure closes the inbox record too; the dead letter
		// carries the payload forward for manual resolution.
		if err := w.inbox.MarkProcessed(ctx, entry.InboxEventID); err != nil {
			slog.ErrorContext(ctx, "failed to mark inbox event processed", "error", err)
		}
	}
	if err := w.orchestrator.RecordEntitySyncFailure(ctx, entry.EntityType, entry.SourceEntityID, err.Error(), willRetry); err != nil {
		slog.ErrorContext(ctx, "failed to record entity sync failure", "error", err)
	}
	return false
}

func (w *Worker) applySafe(ctx context.Context, entry *model.QueueEntry) (result ApplyResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in handler",
				"panic", r,
				"entry_id", entry.ID,
				"entity_type", entry.EntityType)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	handler, ok := w.registry.Get(entry.EntityType)
	if !ok {
		return ApplyResult{}, Permanent("unknown_entity_type",
			fmt.Errorf("no handler registered for entity type %q", entry.EntityType))
	}
	return handler(ctx, entry)
}
