package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"driftsync.app/core/common/id"
	"driftsync.app/core/internal/bus"
	"driftsync.app/core/internal/metrics"
	"driftsync.app/core/internal/model"
	"driftsync.app/core/internal/queue"
	"driftsync.app/core/internal/store"
)

// Failure-rate window. The check stays silent until it has enough samples
// to mean something.
const (
	failureRateWindow     = time.Hour
	failureRateMinSamples = 10
	failureRateWarn       = 0.05
	failureRateCrit       = 0.10
)

const alertTypeFailureRate = "sync_failure_rate"

// Monitor periodically sweeps queue health and the rolling sync failure
// rate, persisting an alert per detected anomaly. An open alert of the
// same type suppresses re-raising until it is acknowledged or resolved.
type Monitor struct {
	stores   store.StoreProvider
	queue    *queue.Service
	bus      *bus.Bus
	notifier Notifier
	interval time.Duration
	logger   *slog.Logger
}

func NewMonitor(stores store.StoreProvider, queueSvc *queue.Service, eventBus *bus.Bus, notifier Notifier, interval time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Monitor{
		stores:   stores,
		queue:    queueSvc,
		bus:      eventBus,
		notifier: notifier,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps on the configured interval until the context is canceled.
// One sweep runs immediately on start.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.InfoContext(ctx, "health monitor started", "interval", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.InfoContext(ctx, "health monitor stopped")
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Monitor) sweep(ctx context.Context) {
	report, err := m.queue.CheckHealth(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "queue health check failed", "error", err)
	} else {
		for _, issue := range report.Issues {
			m.raiseAlert(ctx, issue.Check, issue.Severity, queueIssueTitle(issue), issue.Message, map[string]any{
				"check":     issue.Check,
				"value":     issue.Value,
				"threshold": issue.Threshold,
			}, nil)
		}
	}

	if issue, ok, err := m.checkFailureRate(ctx); err != nil {
		m.logger.ErrorContext(ctx, "failure rate check failed", "error", err)
	} else if ok {
		m.raiseAlert(ctx, alertTypeFailureRate, issue.Severity,
			"Sync failure rate elevated", issue.Message, issue.Metadata, nil)
	}
}

type failureRateIssue struct {
	Severity model.AlertSeverity
	Message  string
	Metadata map[string]any
}

// checkFailureRate computes failed/(failed+succeeded) over the rolling
// window from recorded sync metrics.
func (m *Monitor) checkFailureRate(ctx context.Context) (failureRateIssue, bool, error) {
	since := time.Now().UTC().Add(-failureRateWindow)

	succeeded, err := m.stores.Metrics().CountSince(ctx, model.MetricEntitySynced, since)
	if err != nil {
		return failureRateIssue{}, false, fmt.Errorf("counting synced entities: %w", err)
	}
	failed, err := m.stores.Metrics().CountSince(ctx, model.MetricEntitySyncFailed, since)
	if err != nil {
		return failureRateIssue{}, false, fmt.Errorf("counting failed entities: %w", err)
	}

	total := succeeded + failed
	if total < failureRateMinSamples {
		return failureRateIssue{}, false, nil
	}

	rate := float64(failed) / float64(total)
	if rate <= failureRateWarn {
		return failureRateIssue{}, false, nil
	}

	severity := model.SeverityWarning
	if rate > failureRateCrit {
		severity = model.SeverityCritical
	}

	return failureRateIssue{
		Severity: severity,
		Message: fmt.Sprintf("%.1f%% of entity syncs failed in the last hour (%d of %d)",
			rate*100, failed, total),
		Metadata: map[string]any{
			"failure_rate": rate,
			"failed":       failed,
			"succeeded":    succeeded,
			"window":       failureRateWindow.String(),
		},
	}, true, nil
}

// RaiseAlert persists an alert, publishes it, and notifies on critical.
// Exposed so other modules (e.g. the dead-letter escalation subscriber)
// can raise alerts through the same suppression and delivery path.
func (m *Monitor) RaiseAlert(ctx context.Context, alertType string, severity model.AlertSeverity, title, message string, metadata map[string]any, queueEntryID *int64) {
	m.raiseAlert(ctx, alertType, severity, title, message, metadata, queueEntryID)
}

func (m *Monitor) raiseAlert(ctx context.Context, alertType string, severity model.AlertSeverity, title, message string, metadata map[string]any, queueEntryID *int64) {
	open, err := m.stores.Alerts().HasOpen(ctx, alertType)
	if err != nil {
		m.logger.ErrorContext(ctx, "checking open alerts failed", "alert_type", alertType, "error", err)
		return
	}
	if open {
		m.logger.DebugContext(ctx, "suppressing alert, same type already open", "alert_type", alertType)
		return
	}

	alert := &model.Alert{
		ID:           id.New(),
		AlertType:    alertType,
		Severity:     severity,
		Title:        title,
		Message:      message,
		Metadata:     metadata,
		QueueEntryID: queueEntryID,
	}
	if err := m.stores.Alerts().Insert(ctx, alert); err != nil {
		m.logger.ErrorContext(ctx, "persisting alert failed", "alert_type", alertType, "error", err)
		return
	}

	metrics.AlertsRaised.WithLabelValues(string(severity)).Inc()
	m.logger.WarnContext(ctx, "alert raised",
		"alert_id", alert.ID,
		"alert_type", alertType,
		"severity", severity,
		"title", title)

	if m.bus != nil {
		evt := bus.NewEvent(bus.EventAlertRaised, "health", map[string]any{
			"alert_id":   alert.ID,
			"alert_type": alertType,
			"severity":   string(severity),
			"title":      title,
			"message":    message,
		}).WithAggregate("alert", fmt.Sprint(alert.ID))
		m.bus.Publish(ctx, evt)
	}

	if severity == model.SeverityCritical {
		if delivered := m.notifier.Notify(ctx, title, message, severity, metadata); !delivered {
			m.logger.ErrorContext(ctx, "critical alert notification failed", "alert_id", alert.ID)
		}
	}
}

// SubscribeDeadLetters raises a warning alert whenever the queue escalates
// an entry to the dead-letter store.
func (m *Monitor) SubscribeDeadLetters() {
	m.bus.Subscribe(bus.Subscription{
		EventType: bus.EventDeadLetterAdded,
		Name:      "health.dead_letter_alert",
		Handler: func(ctx context.Context, evt bus.Event) error {
			entityType, _ := evt.Data["entity_type"].(string)
			reason, _ := evt.Data["failure_reason"].(string)
			var queueEntryID *int64
			if v, ok := evt.Data["queue_entry_id"].(int64); ok {
				queueEntryID = &v
			}
			m.raiseAlert(ctx, "dead_letter_added", model.SeverityWarning,
				"Entry moved to dead letter store",
				fmt.Sprintf("%s sync exhausted its retries: %s", entityType, reason),
				evt.Data, queueEntryID)
			return nil
		},
	})
}

func (m *Monitor) ListAlerts(ctx context.Context, limit int32, openOnly bool) ([]model.Alert, error) {
	return m.stores.Alerts().List(ctx, limit, openOnly)
}

// Acknowledge marks an alert as seen. Acknowledged alerts no longer
// suppress new alerts of the same type.
func (m *Monitor) Acknowledge(ctx context.Context, alertID int64) error {
	return m.stores.Alerts().Acknowledge(ctx, alertID)
}

func (m *Monitor) Resolve(ctx context.Context, alertID int64) error {
	return m.stores.Alerts().Resolve(ctx, alertID)
}

func queueIssueTitle(issue queue.HealthIssue) string {
	switch issue.Check {
	case "queue_depth":
		return "Sync queue backlog"
	case "dead_letter_backlog":
		return "Dead letter backlog growing"
	case "retry_backlog":
		return "Retry backlog growing"
	case "stale_processing":
		return "Entries stuck in processing"
	default:
		return "Queue health degraded"
	}
}
