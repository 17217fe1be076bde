package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"driftsync.app/core/internal/model"
)

const uniqueViolation = "23505"

type inboxStore struct {
	q Querier
}

const inboxColumns = `id, idempotency_key, content_hash, source_type, entity_type,
	source_entity_id, operation, raw_payload, headers, client_ip,
	signature_verified, received_at, is_valid, validation_errors,
	moved_to_queue, processed_at`

func (s *inboxStore) Insert(ctx context.Context, evt *model.InboxEvent) error {
	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = time.Now().UTC()
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO inbox_events (
			id, idempotency_key, content_hash, source_type, entity_type,
			source_entity_id, operation, raw_payload, headers, client_ip,
			signature_verified, received_at, is_valid, moved_to_queue
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, false, false)`,
		evt.ID, evt.IdempotencyKey, evt.ContentHash, evt.SourceType, evt.EntityType,
		evt.SourceEntityID, evt.Operation, evt.RawPayload, evt.Headers, evt.ClientIP,
		evt.SignatureVerified, evt.ReceivedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateKey
		}
		return fmt.Errorf("inserting inbox event: %w", err)
	}
	return nil
}

func (s *inboxStore) GetByID(ctx context.Context, id int64) (*model.InboxEvent, error) {
	row := s.q.QueryRow(ctx, `SELECT `+inboxColumns+` FROM inbox_events WHERE id = $1`, id)
	return scanInboxEvent(row)
}

func (s *inboxStore) GetByIdempotencyKey(ctx context.Context, key string) (*model.InboxEvent, error) {
	row := s.q.QueryRow(ctx, `SELECT `+inboxColumns+` FROM inbox_events WHERE idempotency_key = $1`, key)
	return scanInboxEvent(row)
}

func (s *inboxStore) SetValidity(ctx context.Context, id int64, valid bool, fieldErrors []model.FieldError) error {
	if fieldErrors == nil {
		fieldErrors = []model.FieldError{}
	}
	_, err := s.q.Exec(ctx, `
		UPDATE inbox_events
		SET is_valid = $2, validation_errors = $3
		WHERE id = $1`,
		id, valid, fieldErrors,
	)
	if err != nil {
		return fmt.Errorf("setting inbox event validity: %w", err)
	}
	return nil
}

func (s *inboxStore) MarkQueued(ctx context.Context, id int64) error {
	// Idempotent: re-marking an already queued event has no extra effect.
	_, err := s.q.Exec(ctx, `
		UPDATE inbox_events SET moved_to_queue = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("marking inbox event queued: %w", err)
	}
	return nil
}

func (s *inboxStore) MarkProcessed(ctx context.Context, id int64) error {
	// Idempotent: processed_at is only set the first time.
	_, err := s.q.Exec(ctx, `
		UPDATE inbox_events
		SET processed_at = now()
		WHERE id = $1 AND processed_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("marking inbox event processed: %w", err)
	}
	return nil
}

func (s *inboxStore) ListUnprocessed(ctx context.Context, limit int32) ([]model.InboxEvent, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+inboxColumns+`
		FROM inbox_events
		WHERE processed_at IS NULL AND moved_to_queue = false
		ORDER BY received_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unprocessed inbox events: %w", err)
	}
	defer rows.Close()

	var events []model.InboxEvent
	for rows.Next() {
		evt, err := scanInboxEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *evt)
	}
	return events, rows.Err()
}

func (s *inboxStore) Stats(ctx context.Context) (InboxStats, error) {
	var stats InboxStats
	err := s.q.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE is_valid),
			count(*) FILTER (WHERE NOT is_valid AND validation_errors <> '[]'::jsonb),
			count(*) FILTER (WHERE processed_at IS NULL AND moved_to_queue = false),
			count(*) FILTER (WHERE processed_at IS NOT NULL)
		FROM inbox_events`,
	).Scan(&stats.Total, &stats.Valid, &stats.Invalid, &stats.AwaitingQueue, &stats.Processed)
	if err != nil {
		return InboxStats{}, fmt.Errorf("reading inbox stats: %w", err)
	}
	return stats, nil
}

func scanInboxEvent(row pgx.Row) (*model.InboxEvent, error) {
	var evt model.InboxEvent
	err := row.Scan(
		&evt.ID, &evt.IdempotencyKey, &evt.ContentHash, &evt.SourceType, &evt.EntityType,
		&evt.SourceEntityID, &evt.Operation, &evt.RawPayload, &evt.Headers, &evt.ClientIP,
		&evt.SignatureVerified, &evt.ReceivedAt, &evt.IsValid, &evt.ValidationErrors,
		&evt.MovedToQueue, &evt.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning inbox event: %w", err)
	}
	return &evt, nil
}
