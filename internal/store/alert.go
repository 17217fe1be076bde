package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"driftsync.app/core/internal/model"
)

type alertStore struct {
	q Querier
}

const alertColumns = `id, alert_type, severity, title, message, metadata,
	queue_entry_id, acknowledged, acknowledged_at, resolved, resolved_at, created_at`

func (s *alertStore) Insert(ctx context.Context, alert *model.Alert) error {
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO alerts (
			id, alert_type, severity, title, message, metadata,
			queue_entry_id, acknowledged, resolved, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, false, false, $8)`,
		alert.ID, alert.AlertType, alert.Severity, alert.Title, alert.Message,
		alert.Metadata, alert.QueueEntryID, alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}
	return nil
}

func (s *alertStore) GetByID(ctx context.Context, id int64) (*model.Alert, error) {
	row := s.q.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
	return scanAlert(row)
}

func (s *alertStore) List(ctx context.Context, limit int32, openOnly bool) ([]model.Alert, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE NOT $2::bool OR NOT resolved
		ORDER BY created_at DESC
		LIMIT $1`, limit, openOnly)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *alert)
	}
	return alerts, rows.Err()
}

// HasOpen reports whether an unresolved alert of the given type exists.
// Used to suppress re-raising the same condition. Acknowledgment does not
// lift the suppression; only resolving does, so an ongoing breach raises
// one alert, not one per sweep.
func (s *alertStore) HasOpen(ctx context.Context, alertType string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM alerts
			WHERE alert_type = $1 AND NOT resolved
		)`, alertType).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking open alerts: %w", err)
	}
	return exists, nil
}

func (s *alertStore) Acknowledge(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE alerts
		SET acknowledged = true, acknowledged_at = now()
		WHERE id = $1 AND NOT acknowledged`, id)
	if err != nil {
		return fmt.Errorf("acknowledging alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already acknowledged or missing: check which.
		if _, getErr := s.GetByID(ctx, id); getErr != nil {
			return getErr
		}
	}
	return nil
}

func (s *alertStore) Resolve(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE alerts
		SET resolved = true, resolved_at = now()
		WHERE id = $1 AND NOT resolved`, id)
	if err != nil {
		return fmt.Errorf("resolving alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetByID(ctx, id); getErr != nil {
			return getErr
		}
	}
	return nil
}

func scanAlert(row pgx.Row) (*model.Alert, error) {
	var alert model.Alert
	err := row.Scan(
		&alert.ID, &alert.AlertType, &alert.Severity, &alert.Title, &alert.Message,
		&alert.Metadata, &alert.QueueEntryID, &alert.Acknowledged, &alert.AcknowledgedAt,
		&alert.Resolved, &alert.ResolvedAt, &alert.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning alert: %w", err)
	}
	return &alert, nil
}
