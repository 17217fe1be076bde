package worker_test

import (
	"context"
	"time"

	"driftsync.app/core/internal/model"
	"driftsync.app/core/internal/store"
)

type mockQueueStore struct {
	listPendingFn    func(ctx context.Context, limit int32, priority *int) ([]model.QueueEntry, error)
	listRetryReadyFn func(ctx context.Context, limit int32, now time.Time) ([]model.QueueEntry, error)
	claimFn          func(ctx context.Context, id int64, workerID string, lockTTL time.Duration) (bool, *model.QueueEntry, error)
	markCompletedFn  func(ctx context.Context, id int64, targetEntityID *string, result map[string]any) error
	markRetryFn      func(ctx context.Context, id int64, errMsg string, errCode *string, nextRetryAt time.Time) error
	markDeadLetterFn func(ctx context.Context, id int64, errMsg string, errCode *string) error

	completedCalls  int
	retryCalls      int
	deadLetterCalls int
}

func (m *mockQueueStore) Insert(ctx context.Context, entry *model.QueueEntry) error {
	return nil
}

func (m *mockQueueStore) GetByID(ctx context.Context, id int64) (*model.QueueEntry, error) {
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
	m.completedCalls++
	if m.markCompletedFn != nil {
		return m.markCompletedFn(ctx, id, targetEntityID, result)
	}
	return nil
}

func (m *mockQueueStore) MarkRetry(ctx context.Context, id int64, errMsg string, errCode *string, nextRetryAt time.Time) error {
	m.retryCalls++
	if m.markRetryFn != nil {
		return m.markRetryFn(ctx, id, errMsg, errCode, nextRetryAt)
	}
	return nil
}

func (m *mockQueueStore) MarkDeadLetter(ctx context.Context, id int64, errMsg string, errCode *string) error {
	m.deadLetterCalls++
	if m.markDeadLetterFn != nil {
		return m.markDeadLetterFn(ctx, id, errMsg, errCode)
	}
	return nil
}

func (m *mockQueueStore) Depth(ctx context.Context) (map[model.EntryStatus]int64, error) {
	return map[model.EntryStatus]int64{}, nil
}

func (m *mockQueueStore) CountStaleProcessing(ctx context.Context, startedBefore time.Time) (int64, error) {
	return 0, nil
}

func (m *mockQueueStore) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (m *mockQueueStore) ReleaseExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type mockInboxStore struct {
	markProcessedFn func(ctx context.Context, id int64) error

	processedCalls int
}

func (m *mockInboxStore) Insert(ctx context.Context, evt *model.InboxEvent) error {
	return nil
}

func (m *mockInboxStore) GetByID(ctx context.Context, id int64) (*model.InboxEvent, error) {
	return nil, store.ErrNotFound
}

func (m *mockInboxStore) GetByIdempotencyKey(ctx context.Context, key string) (*model.InboxEvent, error) {
	return nil, store.ErrNotFound
}

func (m *mockInboxStore) SetValidity(ctx context.Context, id int64, valid bool, fieldErrors []model.FieldError) error {
	return nil
}

func (m *mockInboxStore) MarkQueued(ctx context.Context, id int64) error {
	return nil
}

func (m *mockInboxStore) MarkProcessed(ctx context.Context, id int64) error {
	m.processedCalls++
	if m.markProcessedFn != nil {
		return m.markProcessedFn(ctx, id)
	}
	return nil
}

func (m *mockInboxStore) ListUnprocessed(ctx context.Context, limit int32) ([]model.InboxEvent, error) {
	return nil, nil
}

func (m *mockInboxStore) Stats(ctx context.Context) (store.InboxStats, error) {
	return store.InboxStats{}, nil
}

type mockDeadLetterStore struct {
	capturedDeadLetter *model.DeadLetterEntry
}

func (m *mockDeadLetterStore) Insert(ctx context.Context, entry *model.DeadLetterEntry) error {
	m.capturedDeadLetter = entry
	return nil
}

func (m *mockDeadLetterStore) GetByQueueEntryID(ctx context.Context, queueEntryID int64) (*model.DeadLetterEntry, error) {
	return nil, store.ErrNotFound
}

func (m *mockDeadLetterStore) ListUnresolved(ctx context.Context, limit int32) ([]model.DeadLetterEntry, error) {
	return nil, nil
}

func (m *mockDeadLetterStore) CountUnresolved(ctx context.Context) (int64, error) {
	return 0, nil
}

func (m *mockDeadLetterStore) Resolve(ctx context.Context, id int64) error {
	return nil
}

type mockMetricStore struct {
	capturedMetrics []*model.SyncMetric
}

func (m *mockMetricStore) Insert(ctx context.Context, metric *model.SyncMetric) error {
	m.capturedMetrics = append(m.capturedMetrics, metric)
	return nil
}

func (m *mockMetricStore) CountSince(ctx context.Context, name string, since time.Time) (int64, error) {
	return 0, nil
}

type mockSyncRunStore struct {
	insertFn func(ctx context.Context, run *model.SyncRun) error

	capturedRun      *model.SyncRun
	insertCalls      int
	markRunningCalls int
	finishCalls      int
}

func (m *mockSyncRunStore) Insert(ctx context.Context, run *model.SyncRun) error {
	m.insertCalls++
	m.capturedRun = run
	if m.insertFn != nil {
		return m.insertFn(ctx, run)
	}
	return nil
}

func (m *mockSyncRunStore) GetByID(ctx context.Context, id int64) (*model.SyncRun, error) {
	return nil, store.ErrNotFound
}

func (m *mockSyncRunStore) MarkRunning(ctx context.Context, id int64) error {
	m.markRunningCalls++
	return nil
}

func (m *mockSyncRunStore) Finish(ctx context.Context, run *model.SyncRun) error {
	m.finishCalls++
	m.capturedRun = run
	return nil
}

type mockStoreProvider struct {
	inbox       *mockInboxStore
	queue       *mockQueueStore
	deadLetters *mockDeadLetterStore
	runs        *mockSyncRunStore
	metrics     *mockMetricStore
}

func (m *mockStoreProvider) Inbox() store.InboxStore            { return m.inbox }
func (m *mockStoreProvider) Queue() store.QueueStore            { return m.queue }
func (m *mockStoreProvider) DeadLetters() store.DeadLetterStore { return m.deadLetters }
func (m *mockStoreProvider) Runs() store.SyncRunStore           { return m.runs }
func (m *mockStoreProvider) Alerts() store.AlertStore           { return nil }
func (m *mockStoreProvider) Metrics() store.MetricStore         { return m.metrics }

type mockTxRunner struct {
	provider *mockStoreProvider
}

func (m *mockTxRunner) WithTx(ctx context.Context, fn func(sp store.StoreProvider) error) error {
	return fn(m.provider)
}
