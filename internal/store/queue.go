package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"driftsync.app/core/internal/model"
)

type queueStore struct {
	q Querier
}

const queueColumns = `id, inbox_event_id, entity_type, source_entity_id, operation_type,
	validated_payload, status, priority, attempt_count, max_retry_attempts,
	locked_by, lock_expires_at, next_retry_at, started_at, completed_at,
	error_message, error_code, target_entity_id, processing_result, created_at`

func (s *queueStore) Insert(ctx context.Context, entry *model.QueueEntry) error {
	if entry.Status == "" {
		entry.Status = model.StatusPending
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO sync_queue (
			id, inbox_event_id, entity_type, source_entity_id, operation_type,
			validated_payload, status, priority, attempt_count, max_retry_attempts,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10)`,
		entry.ID, entry.InboxEventID, entry.EntityType, entry.SourceEntityID,
		entry.OperationType, entry.ValidatedPayload, entry.Status, entry.Priority,
		entry.MaxRetryAttempts, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting queue entry: %w", err)
	}
	return nil
}

func (s *queueStore) GetByID(ctx context.Context, id int64) (*model.QueueEntry, error) {
	row := s.q.QueryRow(ctx, `SELECT `+queueColumns+` FROM sync_queue WHERE id = $1`, id)
	return scanQueueEntry(row)
}

func (s *queueStore) ListPending(ctx context.Context, limit int32, priority *int) ([]model.QueueEntry, error) {
	// Most urgent first (priority 1 beats 5), FIFO within a priority band.
	rows, err := s.q.Query(ctx, `
		SELECT `+queueColumns+`
		FROM sync_queue
		WHERE status = 'pending'
		  AND locked_by IS NULL
		  AND ($2::int IS NULL OR priority = $2)
		ORDER BY priority ASC, created_at ASC
		LIMIT $1`, limit, priority)
	if err != nil {
		return nil, fmt.Errorf("listing pending entries: %w", err)
	}
	defer rows.Close()
	return collectQueueEntries(rows)
}

func (s *queueStore) ListRetryReady(ctx context.Context, limit int32, now time.Time) ([]model.QueueEntry, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+queueColumns+`
		FROM sync_queue
		WHERE status = 'retry'
		  AND locked_by IS NULL
		  AND next_retry_at <= $2
		ORDER BY priority ASC, created_at ASC
		LIMIT $1`, limit, now)
	if err != nil {
		return nil, fmt.Errorf("listing retry-ready entries: %w", err)
	}
	defer rows.Close()
	return collectQueueEntries(rows)
}

// Claim is the atomic guard against two workers taking the same entry: the
// update only succeeds while locked_by is still NULL and the entry is in a
// claimable status.
func (s *queueStore) Claim(ctx context.Context, id int64, workerID string, lockTTL time.Duration) (bool, *model.QueueEntry, error) {
	row := s.q.QueryRow(ctx, `
		UPDATE sync_queue
		SET status = 'processing',
		    locked_by = $2,
		    lock_expires_at = now() + $3,
		    started_at = now(),
		    attempt_count = attempt_count + 1
		WHERE id = $1
		  AND locked_by IS NULL
		  AND status IN ('pending', 'retry')
		RETURNING `+queueColumns,
		id, workerID, lockTTL,
	)
	entry, err := scanQueueEntry(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil, nil
		}
		return false, nil, err
	}
	return true, entry, nil
}

func (s *queueStore) MarkCompleted(ctx context.Context, id int64, targetEntityID *string, result map[string]any) error {
	_, err := s.q.Exec(ctx, `
		UPDATE sync_queue
		SET status = 'completed',
		    completed_at = now(),
		    locked_by = NULL,
		    lock_expires_at = NULL,
		    target_entity_id = $2,
		    processing_result = coalesce($3, processing_result)
		WHERE id = $1`,
		id, targetEntityID, result,
	)
	if err != nil {
		return fmt.Errorf("marking entry completed: %w", err)
	}
	return nil
}

func (s *queueStore) MarkRetry(ctx context.Context, id int64, errMsg string, errCode *string, nextRetryAt time.Time) error {
	_, err := s.q.Exec(ctx, `
		UPDATE sync_queue
		SET status = 'retry',
		    next_retry_at = $4,
		    error_message = $2,
		    error_code = $3,
		    locked_by = NULL,
		    lock_expires_at = NULL
		WHERE id = $1`,
		id, errMsg, errCode, nextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("marking entry for retry: %w", err)
	}
	return nil
}

func (s *queueStore) MarkDeadLetter(ctx context.Context, id int64, errMsg string, errCode *string) error {
	_, err := s.q.Exec(ctx, `
		UPDATE sync_queue
		SET status = 'dead_letter',
		    error_message = $2,
		    error_code = $3,
		    locked_by = NULL,
		    lock_expires_at = NULL
		WHERE id = $1`,
		id, errMsg, errCode,
	)
	if err != nil {
		return fmt.Errorf("marking entry dead-lettered: %w", err)
	}
	return nil
}

func (s *queueStore) Depth(ctx context.Context) (map[model.EntryStatus]int64, error) {
	rows, err := s.q.Query(ctx, `
		SELECT status, count(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("reading queue depth: %w", err)
	}
	defer rows.Close()

	depth := make(map[model.EntryStatus]int64)
	for rows.Next() {
		var status model.EntryStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning queue depth: %w", err)
		}
		depth[status] = count
	}
	return depth, rows.Err()
}

func (s *queueStore) CountStaleProcessing(ctx context.Context, startedBefore time.Time) (int64, error) {
	var count int64
	err := s.q.QueryRow(ctx, `
		SELECT count(*) FROM sync_queue
		WHERE status = 'processing' AND started_at < $1`, startedBefore,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting stale processing entries: %w", err)
	}
	return count, nil
}

func (s *queueStore) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	// Retention only touches completed entries; dead_letter and in-flight
	// entries are never cleaned up here.
	tag, err := s.q.Exec(ctx, `
		DELETE FROM sync_queue
		WHERE status = 'completed' AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting old completed entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *queueStore) ReleaseExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	// Crashed workers leave processing entries behind with an expired
	// lock; return them to pending so another worker can pick them up.
	tag, err := s.q.Exec(ctx, `
		UPDATE sync_queue
		SET status = 'pending',
		    locked_by = NULL,
		    lock_expires_at = NULL,
		    started_at = NULL
		WHERE status = 'processing' AND lock_expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("releasing expired locks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectQueueEntries(rows pgx.Rows) ([]model.QueueEntry, error) {
	var entries []model.QueueEntry
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func scanQueueEntry(row pgx.Row) (*model.QueueEntry, error) {
	var entry model.QueueEntry
	err := row.Scan(
		&entry.ID, &entry.InboxEventID, &entry.EntityType, &entry.SourceEntityID,
		&entry.OperationType, &entry.ValidatedPayload, &entry.Status, &entry.Priority,
		&entry.AttemptCount, &entry.MaxRetryAttempts, &entry.LockedBy,
		&entry.LockExpiresAt, &entry.NextRetryAt, &entry.StartedAt, &entry.CompletedAt,
		&entry.ErrorMessage, &entry.ErrorCode, &entry.TargetEntityID,
		&entry.ProcessingResult, &entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning queue entry: %w", err)
	}
	return &entry, nil
}
