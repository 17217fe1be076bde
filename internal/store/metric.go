package store

import (
	"context"
	"fmt"
	"time"

	"driftsync.app/core/internal/model"
)

type metricStore struct {
	q Querier
}

func (s *metricStore) Insert(ctx context.Context, metric *model.SyncMetric) error {
	if metric.RecordedAt.IsZero() {
		metric.RecordedAt = time.Now().UTC()
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO sync_metrics (id, name, value, tags, recorded_at)
		VALUES ($1, $2, $3, $4, $5)`,
		metric.ID, metric.Name, metric.Value, metric.Tags, metric.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting sync metric: %w", err)
	}
	return nil
}

func (s *metricStore) CountSince(ctx context.Context, name string, since time.Time) (int64, error) {
	var count int64
	err := s.q.QueryRow(ctx, `
		SELECT count(*) FROM sync_metrics
		WHERE name = $1 AND recorded_at >= $2`, name, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting metrics: %w", err)
	}
	return count, nil
}
