package health_test

import (
	"context"
	"time"

	"driftsync.app/core/internal/model"
	"driftsync.app/core/internal/store"
)

type mockAlertStore struct {
	insertFn      func(ctx context.Context, alert *model.Alert) error
	hasOpenFn     func(ctx context.Context, alertType string) (bool, error)
	listFn        func(ctx context.Context, limit int32, openOnly bool) ([]model.Alert, error)
	acknowledgeFn func(ctx context.Context, id int64) error
	resolveFn     func(ctx context.Context, id int64) error

	capturedAlerts []*model.Alert
}

func (m *mockAlertStore) Insert(ctx context.Context, alert *model.Alert) error {
	m.capturedAlerts = append(m.capturedAlerts, alert)
	if m.insertFn != nil {
		return m.insertFn(ctx, alert)
	}
	return nil
}

func (m *mockAlertStore) GetByID(ctx context.Context, id int64) (*model.Alert, error) {
	return nil, store.ErrNotFound
}

func (m *mockAlertStore) List(ctx context.Context, limit int32, openOnly bool) ([]model.Alert, error) {
	if m.listFn != nil {
		return m.listFn(ctx, limit, openOnly)
	}
	return nil, nil
}

func (m *mockAlertStore) HasOpen(ctx context.Context, alertType string) (bool, error) {
	if m.hasOpenFn != nil {
		return m.hasOpenFn(ctx, alertType)
	}
	return false, nil
}

func (m *mockAlertStore) Acknowledge(ctx context.Context, id int64) error {
	if m.acknowledgeFn != nil {
		return m.acknowledgeFn(ctx, id)
	}
	return nil
}

func (m *mockAlertStore) Resolve(ctx context.Context, id int64) error {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, id)
	}
	return nil
}

type mockMetricStore struct {
	countSinceFn func(ctx context.Context, name string, since time.Time) (int64, error)
}

func (m *mockMetricStore) Insert(ctx context.Context, metric *model.SyncMetric) error {
	return nil
}

func (m *mockMetricStore) CountSince(ctx context.Context, name string, since time.Time) (int64, error) {
	if m.countSinceFn != nil {
		return m.countSinceFn(ctx, name, since)
	}
	return 0, nil
}

type mockQueueStore struct {
	depthFn                func(ctx context.Context) (map[model.EntryStatus]int64, error)
	countStaleProcessingFn func(ctx context.Context, startedBefore time.Time) (int64, error)
}

func (m *mockQueueStore) Insert(ctx context.Context, entry *model.QueueEntry) error {
	return nil
}

func (m *mockQueueStore) GetByID(ctx context.Context, id int64) (*model.QueueEntry, error) {
	return nil, store.ErrNotFound
}

func (m *mockQueueStore) ListPending(ctx context.Context, limit int32, priority *int) ([]model.QueueEntry, error) {
	return nil, nil
}

func (m *mockQueueStore) ListRetryReady(ctx context.Context, limit int32, now time.Time) ([]model.QueueEntry, error) {
	return nil, nil
}

func (m *mockQueueStore) Claim(ctx context.Context, id int64, workerID string, lockTTL time.Duration) (bool, *model.QueueEntry, error) {
	return false, nil, nil
}

func (m *mockQueueStore) MarkCompleted(ctx context.Context, id int64, targetEntityID *string, result map[string]any) error {
	return nil
}

func (m *mockQueueStore) MarkRetry(ctx context.Context, id int64, errMsg string, errCode *string, nextRetryAt time.Time) error {
	return nil
}

func (m *mockQueueStore) MarkDeadLetter(ctx context.Context, id int64, errMsg string, errCode *string) error {
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
	return 0, nil
}

func (m *mockQueueStore) ReleaseExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type mockDeadLetterStore struct {
	countUnresolvedFn func(ctx context.Context) (int64, error)
}

func (m *mockDeadLetterStore) Insert(ctx context.Context, entry *model.DeadLetterEntry) error {
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
	alerts      *mockAlertStore
	metrics     *mockMetricStore
}

func (m *mockStoreProvider) Inbox() store.InboxStore            { return nil }
func (m *mockStoreProvider) Queue() store.QueueStore            { return m.queue }
func (m *mockStoreProvider) DeadLetters() store.DeadLetterStore { return m.deadLetters }
func (m *mockStoreProvider) Runs() store.SyncRunStore           { return nil }
func (m *mockStoreProvider) Alerts() store.AlertStore           { return m.alerts }
func (m *mockStoreProvider) Metrics() store.MetricStore         { return m.metrics }

type mockTxRunner struct{}

func (m *mockTxRunner) WithTx(ctx context.Context, fn func(sp store.StoreProvider) error) error {
	return nil
}

type mockNotifier struct {
	notifyFn func(ctx context.Context, title, message string, severity model.AlertSeverity, metadata map[string]any) bool

	notifyCalls int
	lastTitle   string
}

func (m *mockNotifier) Notify(ctx context.Context, title, message string, severity model.AlertSeverity, metadata map[string]any) bool {
	m.notifyCalls++
	m.lastTitle = title
	if m.notifyFn != nil {
		return m.notifyFn(ctx, title, message, severity, metadata)
	}
	return true
}
