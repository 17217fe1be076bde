package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"driftsync.app/core/core/db"
)

// StoreProvider exposes the stores available to a transactional operation.
type StoreProvider interface {
	Inbox() InboxStore
	Queue() QueueStore
	DeadLetters() DeadLetterStore
	Runs() SyncRunStore
	Alerts() AlertStore
	Metrics() MetricStore
}

// TxRunner runs functions within a transaction and provides stores bound to
// that transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(sp StoreProvider) error) error
}

type dbTxRunner struct {
	db *db.DB
}

// NewTxRunner builds a TxRunner backed by the core DB.
func NewTxRunner(database *db.DB) TxRunner {
	return &dbTxRunner{db: database}
}

func (r *dbTxRunner) WithTx(ctx context.Context, fn func(sp StoreProvider) error) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(NewStores(tx))
	})
}
