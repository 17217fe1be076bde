package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx shared by pgxpool.Pool and pgx.Tx, letting
// the same store code run inside and outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Stores struct {
	q Querier
}

func NewStores(q Querier) *Stores {
	return &Stores{q: q}
}

func (s *Stores) Inbox() InboxStore {
	return &inboxStore{q: s.q}
}

func (s *Stores) Queue() QueueStore {
	return &queueStore{q: s.q}
}

func (s *Stores) DeadLetters() DeadLetterStore {
	return &deadLetterStore{q: s.q}
}

func (s *Stores) Runs() SyncRunStore {
	return &syncRunStore{q: s.q}
}

func (s *Stores) Alerts() AlertStore {
	return &alertStore{q: s.q}
}

func (s *Stores) Metrics() MetricStore {
	return &metricStore{q: s.q}
}
