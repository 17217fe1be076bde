package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"driftsync.app/core/internal/model"
)

type syncRunStore struct {
	q Querier
}

const syncRunColumns = `id, run_type, entity_type, status, total_events,
	processed_events, failed_events, skipped_events, duration_seconds,
	configuration_snapshot, error_summary, error_code, started_at, finished_at`

func (s *syncRunStore) Insert(ctx context.Context, run *model.SyncRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = model.RunStatusPending
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO sync_runs (
			id, run_type, entity_type, status, total_events, processed_events,
			failed_events, skipped_events, configuration_snapshot, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.RunType, run.EntityType, run.Status,
		run.TotalEvents, run.ProcessedEvents, run.FailedEvents,
		run.SkippedEvents, run.ConfigurationSnapshot, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting sync run: %w", err)
	}
	return nil
}

// MarkRunning moves a pending run to running. Idempotent: marking a run
// that already left pending is a no-op as long as the run exists.
func (s *syncRunStore) MarkRunning(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE sync_runs
		SET status = 'running'
		WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("marking sync run running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetByID(ctx, id); getErr != nil {
			return getErr
		}
	}
	return nil
}

func (s *syncRunStore) GetByID(ctx context.Context, id int64) (*model.SyncRun, error) {
	row := s.q.QueryRow(ctx, `SELECT `+syncRunColumns+` FROM sync_runs WHERE id = $1`, id)
	return scanSyncRun(row)
}

// Finish records the terminal state of a run. A run is completed or failed
// exactly once; re-finishing an already finished run is rejected.
func (s *syncRunStore) Finish(ctx context.Context, run *model.SyncRun) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE sync_runs
		SET status = $2,
		    total_events = $3,
		    processed_events = $4,
		    failed_events = $5,
		    skipped_events = $6,
		    duration_seconds = $7,
		    error_summary = $8,
		    error_code = $9,
		    finished_at = $10
		WHERE id = $1 AND finished_at IS NULL`,
		run.ID, run.Status, run.TotalEvents, run.ProcessedEvents,
		run.FailedEvents, run.SkippedEvents, run.DurationSeconds,
		run.ErrorSummary, run.ErrorCode, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("finishing sync run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sync run %d already finished or missing: %w", run.ID, ErrNotFound)
	}
	return nil
}

func scanSyncRun(row pgx.Row) (*model.SyncRun, error) {
	var run model.SyncRun
	err := row.Scan(
		&run.ID, &run.RunType, &run.EntityType, &run.Status, &run.TotalEvents,
		&run.ProcessedEvents, &run.FailedEvents, &run.SkippedEvents,
		&run.DurationSeconds, &run.ConfigurationSnapshot, &run.ErrorSummary,
		&run.ErrorCode, &run.StartedAt, &run.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning sync run: %w", err)
	}
	return &run, nil
}
