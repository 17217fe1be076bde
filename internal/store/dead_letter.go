package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"driftsync.app/core/internal/model"
)

type deadLetterStore struct {
	q Querier
}

const deadLetterColumns = `id, queue_entry_id, entity_type, source_entity_id,
	failure_reason, total_attempts, last_payload, resolved, resolved_at, created_at`

func (s *deadLetterStore) Insert(ctx context.Context, entry *model.DeadLetterEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO dead_letters (
			id, queue_entry_id, entity_type, source_entity_id,
			failure_reason, total_attempts, last_payload, resolved, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8)`,
		entry.ID, entry.QueueEntryID, entry.EntityType, entry.SourceEntityID,
		entry.FailureReason, entry.TotalAttempts, entry.LastPayload, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting dead-letter entry: %w", err)
	}
	return nil
}

func (s *deadLetterStore) GetByQueueEntryID(ctx context.Context, queueEntryID int64) (*model.DeadLetterEntry, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+deadLetterColumns+` FROM dead_letters WHERE queue_entry_id = $1`, queueEntryID)
	return scanDeadLetter(row)
}

func (s *deadLetterStore) ListUnresolved(ctx context.Context, limit int32) ([]model.DeadLetterEntry, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+deadLetterColumns+`
		FROM dead_letters
		WHERE NOT resolved
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unresolved dead letters: %w", err)
	}
	defer rows.Close()

	var entries []model.DeadLetterEntry
	for rows.Next() {
		entry, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func (s *deadLetterStore) CountUnresolved(ctx context.Context) (int64, error) {
	var count int64
	err := s.q.QueryRow(ctx, `SELECT count(*) FROM dead_letters WHERE NOT resolved`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unresolved dead letters: %w", err)
	}
	return count, nil
}

func (s *deadLetterStore) Resolve(ctx context.Context, id int64) error {
	_, err := s.q.Exec(ctx, `
		UPDATE dead_letters
		SET resolved = true, resolved_at = now()
		WHERE id = $1 AND NOT resolved`, id)
	if err != nil {
		return fmt.Errorf("resolving dead-letter entry: %w", err)
	}
	return nil
}

func scanDeadLetter(row pgx.Row) (*model.DeadLetterEntry, error) {
	var entry model.DeadLetterEntry
	err := row.Scan(
		&entry.ID, &entry.QueueEntryID, &entry.EntityType, &entry.SourceEntityID,
		&entry.FailureReason, &entry.TotalAttempts, &entry.LastPayload,
		&entry.Resolved, &entry.ResolvedAt, &entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning dead-letter entry: %w", err)
	}
	return &entry, nil
}
