package health_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"driftsync.app/core/common/id"
	"driftsync.app/core/internal/bus"
	"driftsync.app/core/internal/health"
	"driftsync.app/core/internal/model"
	"driftsync.app/core/internal/queue"
)

var _ = Describe("Monitor", func() {
	var (
		monitor     *health.Monitor
		mockAlerts  *mockAlertStore
		mockMetrics *mockMetricStore
		mockEntries *mockQueueStore
		mockDeads   *mockDeadLetterStore
		notifier    *mockNotifier
		eventBus    *bus.Bus
		ctx         context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockAlerts = &mockAlertStore{}
		mockMetrics = &mockMetricStore{}
		mockEntries = &mockQueueStore{}
		mockDeads = &mockDeadLetterStore{}
		notifier = &mockNotifier{}
		eventBus = bus.New()

		err := id.Init(1)
		Expect(err).NotTo(HaveOccurred())

		provider := &mockStoreProvider{
			queue:       mockEntries,
			deadLetters: mockDeads,
			alerts:      mockAlerts,
			metrics:     mockMetrics,
		}
		queueSvc := queue.NewService(provider, &mockTxRunner{}, eventBus, nil, nil, nil)
		monitor = health.NewMonitor(provider, queueSvc, eventBus, notifier, time.Minute, nil)
	})

	// sweepOnce drives one full monitor sweep: Run always sweeps once
	// before it starts waiting, and a canceled context stops it there.
	sweepOnce := func() {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		monitor.Run(canceled)
	}

	Describe("RaiseAlert", func() {
		It("persists the alert and publishes it on the bus", func() {
			var published bus.Event
			eventBus.Subscribe(bus.Subscription{
				EventType: bus.EventAlertRaised,
				Name:      "test-listener",
				Handler: func(ctx context.Context, evt bus.Event) error {
					published = evt
					return nil
				},
			})

			monitor.RaiseAlert(ctx, "queue_depth", model.SeverityWarning,
				"Sync queue backlog", "pending depth 600", map[string]any{"value": int64(600)}, nil)

			Expect(mockAlerts.capturedAlerts).To(HaveLen(1))
			alert := mockAlerts.capturedAlerts[0]
			Expect(alert.AlertType).To(Equal("queue_depth"))
			Expect(alert.Severity).To(Equal(model.SeverityWarning))
			Expect(alert.ID).NotTo(BeZero())

			Expect(published.EventType).To(Equal(bus.EventAlertRaised))
			Expect(published.Data).To(HaveKeyWithValue("alert_type", "queue_depth"))
			Expect(published.AggregateType).To(Equal("alert"))
		})

		It("suppresses a duplicate while the same alert type stays open", func() {
			mockAlerts.hasOpenFn = func(ctx context.Context, alertType string) (bool, error) {
				return true, nil
			}

			monitor.RaiseAlert(ctx, "queue_depth", model.SeverityWarning,
				"Sync queue backlog", "pending depth 600", nil, nil)

			Expect(mockAlerts.capturedAlerts).To(BeEmpty())
			Expect(notifier.notifyCalls).To(BeZero())
		})

		It("stays suppressed after the open alert is acknowledged", func() {
			// An acknowledged alert is still open; the condition has not
			// cleared, so the same breach raises nothing new.
			acked := model.Alert{AlertType: "queue_depth", Acknowledged: true, Resolved: false}
			mockAlerts.hasOpenFn = func(ctx context.Context, alertType string) (bool, error) {
				return alertType == acked.AlertType && !acked.Resolved, nil
			}

			monitor.RaiseAlert(ctx, "queue_depth", model.SeverityWarning,
				"Sync queue backlog", "pending depth 600", nil, nil)

			Expect(mockAlerts.capturedAlerts).To(BeEmpty())
			Expect(notifier.notifyCalls).To(BeZero())
		})

		It("notifies on critical alerts only", func() {
			monitor.RaiseAlert(ctx, "queue_depth", model.SeverityWarning,
				"Sync queue backlog", "pending depth 600", nil, nil)
			Expect(notifier.notifyCalls).To(BeZero())

			monitor.RaiseAlert(ctx, "dead_letter_backlog", model.SeverityCritical,
				"Dead letter backlog growing", "101 unresolved", nil, nil)
			Expect(notifier.notifyCalls).To(Equal(1))
			Expect(notifier.lastTitle).To(Equal("Dead letter backlog growing"))
		})

		It("swallows persistence failures", func() {
			mockAlerts.insertFn = func(ctx context.Context, alert *model.Alert) error {
				return errors.New("disk full")
			}

			Expect(func() {
				monitor.RaiseAlert(ctx, "queue_depth", model.SeverityCritical,
					"Sync queue backlog", "pending depth 1200", nil, nil)
			}).NotTo(Panic())
			Expect(notifier.notifyCalls).To(BeZero())
		})
	})

	Describe("sweeping queue health", func() {
		It("raises an alert per detected queue issue", func() {
			mockEntries.depthFn = func(ctx context.Context) (map[model.EntryStatus]int64, error) {
				return map[model.EntryStatus]int64{model.StatusPending: 1001}, nil
			}

			sweepOnce()

			Expect(mockAlerts.capturedAlerts).To(HaveLen(1))
			alert := mockAlerts.capturedAlerts[0]
			Expect(alert.AlertType).To(Equal("queue_depth"))
			Expect(alert.Severity).To(Equal(model.SeverityCritical))
			Expect(alert.Title).To(Equal("Sync queue backlog"))
			Expect(notifier.notifyCalls).To(Equal(1))
		})

		It("raises nothing when the queue is healthy", func() {
			sweepOnce()

			Expect(mockAlerts.capturedAlerts).To(BeEmpty())
		})
	})

	Describe("failure rate check", func() {
		setCounts := func(succeeded, failed int64) {
			mockMetrics.countSinceFn = func(ctx context.Context, name string, since time.Time) (int64, error) {
				if name == model.MetricEntitySynced {
					return succeeded, nil
				}
				return failed, nil
			}
		}

		It("stays silent below the minimum sample count", func() {
			setCounts(4, 5)

			sweepOnce()

			Expect(mockAlerts.capturedAlerts).To(BeEmpty())
		})

		It("warns when the failure rate crosses the warning threshold", func() {
			setCounts(92, 8)

			sweepOnce()

			Expect(mockAlerts.capturedAlerts).To(HaveLen(1))
			alert := mockAlerts.capturedAlerts[0]
			Expect(alert.AlertType).To(Equal("sync_failure_rate"))
			Expect(alert.Severity).To(Equal(model.SeverityWarning))
			Expect(alert.Metadata).To(HaveKeyWithValue("failed", int64(8)))
		})

		It("escalates to critical past the critical threshold", func() {
			setCounts(80, 20)

			sweepOnce()

			Expect(mockAlerts.capturedAlerts).To(HaveLen(1))
			Expect(mockAlerts.capturedAlerts[0].Severity).To(Equal(model.SeverityCritical))
			Expect(notifier.notifyCalls).To(Equal(1))
		})

		It("stays silent at a tolerable failure rate", func() {
			setCounts(97, 3)

			sweepOnce()

			Expect(mockAlerts.capturedAlerts).To(BeEmpty())
		})
	})

	Describe("SubscribeDeadLetters", func() {
		It("raises a warning when an entry is dead-lettered", func() {
			monitor.SubscribeDeadLetters()

			eventBus.Publish(ctx, bus.NewEvent(bus.EventDeadLetterAdded, "queue", map[string]any{
				"queue_entry_id":   int64(42),
				"entity_type":      "order",
				"failure_reason":   "handler timeout",
				"total_attempts":   5,
				"source_entity_id": "SO-1",
			}))

			Expect(mockAlerts.capturedAlerts).To(HaveLen(1))
			alert := mockAlerts.capturedAlerts[0]
			Expect(alert.AlertType).To(Equal("dead_letter_added"))
			Expect(alert.Severity).To(Equal(model.SeverityWarning))
			Expect(alert.Message).To(ContainSubstring("order"))
			Expect(alert.QueueEntryID).NotTo(BeNil())
			Expect(*alert.QueueEntryID).To(Equal(int64(42)))
		})
	})

	Describe("alert lifecycle", func() {
		It("acknowledges through the store", func() {
			var acked int64
			mockAlerts.acknowledgeFn = func(ctx context.Context, alertID int64) error {
				acked = alertID
				return nil
			}

			Expect(monitor.Acknowledge(ctx, 9)).To(Succeed())
			Expect(acked).To(Equal(int64(9)))
		})

		It("resolves through the store", func() {
			var resolved int64
			mockAlerts.resolveFn = func(ctx context.Context, alertID int64) error {
				resolved = alertID
				return nil
			}

			Expect(monitor.Resolve(ctx, 9)).To(Succeed())
			Expect(resolved).To(Equal(int64(9)))
		})
	})
})
