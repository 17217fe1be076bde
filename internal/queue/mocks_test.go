package queue_test

import (
	"context"
	"time"

	"driftsync.app/core/internal/model"
	"driftsync.app/core/internal/store"
)

type mockQueueStore struct {
	insertFn                func(ctx context.Context, entry *model.QueueEntry) error
	getByIDFn               func(ctx context.Context, id int64) (*model.QueueEntry, error)
	listPendingFn           func(ctx context.Context, limit int32, priority *int) ([]model.QueueEntry, error)
	listRetryReadyFn        func(ctx context.Context, limit int32, now time.Time) ([]model.QueueEntry, error)
	claimFn                 func(ctx context.Context, id int64, workerID string, lockTTL time.Duration) (bool, *model.QueueEntry, error)
	markCompletedFn         func(ctx context.Context, id int64, targetEntityID *string, result map[string]any) error
	markRetryFn             func(ctx context.Context, id int64, errMsg string, errCode *string, nextRetryAt time.Time) error
	markDeadLetterFn        func(ctx context.Context, id int64, errMsg string, errCode *string) error
	depthFn                 func(ctx context.Context) (map[model.EntryStatus]int64, error)
	countStaleProcessingFn  func(ctx context.Context, startedBefore time.Time) (int64, error)
	deleteCompletedBeforeFn func(ctx context.Context, cutoff time.Time) (int64, error)
	releaseExpiredLocksFn   func(ctx context.Context, now time.Time) (int64, error)

	capturedEntry *model.QueueEntry
}

func (m *mockQueueStore) Insert(ctx context.Context, entry *model.QueueEntry) error {
	m.capturedEntry = entry
	if m.insertFn != nil {
		return m.insertFn(ctx, entry)
	}
	return nil
}

func (m *mockQueueStore) GetByID(ctx context.Context, id int64) (*model.QueueEntry, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockQueueStore) ListPending(ctx context.Context, limit int32, priority *int) ([]model.QueueEntry, error) {
	if m.listPendingFn != nil {
		return m.listPendingFn(ctx, limit, priority)
	}
	return nil, nil
}

func (m *mockQueueStore) ListRetryReady(ctx context.Context, limit int32, now time.Time) ([]model.QueueEntry, error) {
	if m.listRetryReadyFn != nil {
		return m.listRetryReadyFn(ctx, limit, now)
	}
	return nil, nil
}

func (m *mockQueueStore) Claim(ctx context.Context, id int64, workerID string, lockTTL time.Duration) (bool, *model.QueueEntry, error) {
	if m.claimFn != nil {
		return m.claimFn(ctx, id, workerID, lockTTL)
	}
	return false, nil, nil
}

func (m *mockQueueStore) MarkCompleted(ctx context.Context, id int64, targetEntityID *string, result map[string]any) error {
	if m.markCompletedFn != nil {
		return m.markCompletedFn(ctx, id, targetEntityID, result)
	}
	return nil
}

func (m *mockQueueStore) MarkRetry(ctx context.Context, id int64, errMsg string, errCode *string, nextRetryAt time.Time) error {
	if m.markRetryFn != nil {
		return m.markRetryFn(ctx, id, errMsg, errCode, nextRetryAt)
	}
	return nil
}

func (m *mockQueueStore) MarkDeadLetter(ctx context.Context, id int64, errMsg string, errCode *string) error {
	if m.markDeadLetterFn != nil {
		return m.markDeadLetterFn(ctx, id, errMsg, errCode)
	}
	return nil
}

func (m *mockQueueStore) Depth(ctx context.Context) (map[model.EntryStatus]int64, error) {
	if m.depthFn != nil {
		return m.depthFn(ctx)
	}
	return map[model.EntryStatus]int64{}, nil
}

func (m *mockQueueStore) CountStaleProcessing(ctx context.Context, startedBefore time.Time) (int64, error) {
	if m.countStaleProcessingFn != nil {
		return m.countStaleProcessingFn(ctx, startedBefore)
	}
	return 0, nil
}

func (m *mockQueueStore) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.deleteCompletedBeforeFn != nil {
		return m.deleteCompletedBeforeFn(ctx, cutoff)
	}
	return 0, nil
}

func (m *mockQueueStore) ReleaseExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	if m.releaseExpiredLocksFn != nil {
		return m.releaseExpiredLocksFn(ctx, now)
	}
	return 0, nil
}

type mockDeadLetterStore struct {
	insertFn          func(ctx context.Context, entry *model.DeadLetterEntry) error
	countUnresolvedFn func(ctx context.Context) (int64, error)

	capturedDeadLetter *model.DeadLetterEntry
}

func (m *mockDeadLetterStore) Insert(ctx context.Context, entry *model.DeadLetterEntry) error {
	m.capturedDeadLetter = entry
	if m.insertFn != nil {
		return m.insertFn(ctx, entry)
	}
	return nil
}

func (m *mockDeadLetterStore) GetByQueueEntryID(ctx context.Context, queueEntryID int64) (*model.DeadLetterEntry, error) {
	return nil, store.ErrNotFound
}

func (m *mockDeadLetterStore) ListUnresolved(ctx context.Context, limit int32) ([]model.DeadLetterEntry, error) {
	return nil, nil
}

func (m *mockDeadLetterStore) CountUnresolved(ctx context.Context) (int64, error) {
	if m.countUnresolvedFn != nil {
		return m.countUnresolvedFn(ctx)
	}
	return 0, nil
}

func (m *mockDeadLetterStore) Resolve(ctx context.Context, id int64) error {
	return nil
}

type mockStoreProvider struct {
	queue       *mockQueueStore
	deadLetters *mockDeadLetterStore
}

func (m *mockStoreProvider) Inbox() store.InboxStore            { return nil }
func (m *mockStoreProvider) Queue() store.QueueStore            { return m.queue }
func (m *mockStoreProvider) DeadLetters() store.DeadLetterStore { return m.deadLetters }
func (m *mockStoreProvider) Runs() store.SyncRunStore           { return nil }
func (m *mockStoreProvider) Alerts() store.AlertStore           { return nil }
func (m *mockStoreProvider) Metrics() store.MetricStore         { return nil }

type mockTxRunner struct {
	withTxFn func(ctx context.Context, fn func(sp store.StoreProvider) error) error
}

func (m *mockTxRunner) WithTx(ctx context.Context, fn func(sp store.StoreProvider) error) error {
	if m.withTxFn != nil {
		return m.withTxFn(ctx, fn)
	}
	return nil
}

type mockProducer struct {
	announceFn    func(ctx context.Context, entryID int64, traceID string) error
	announceCalls int
}

func (m *mockProducer) Announce(ctx context.Context, entryID int64, traceID string) error {
	m.announceCalls++
	if m.announceFn != nil {
		return m.announceFn(ctx, entryID, traceID)
	}
	return nil
}

func (m *mockProducer) Close() error {
	return nil
}
