package bus_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"driftsync.app/core/internal/bus"
)

var _ = Describe("Bus", func() {
	var (
		b   *bus.Bus
		ctx context.Context
	)

	BeforeEach(func() {
		b = bus.New()
		ctx = context.Background()
	})

	Describe("Publish", func() {
		It("delivers to a subscribed handler", func() {
			var got bus.Event
			b.Subscribe(bus.Subscription{
				EventType: bus.EventSyncCompleted,
				Name:      "recorder",
				Handler: func(ctx context.Context, evt bus.Event) error {
					got = evt
					return nil
				},
			})

			evt := bus.NewEvent(bus.EventSyncCompleted, "syncrun", map[string]any{"run_id": int64(7)})
			b.Publish(ctx, evt)

			Expect(got.EventID).To(Equal(evt.EventID))
			Expect(got.Data).To(HaveKeyWithValue("run_id", int64(7)))
		})

		It("runs synchronous handlers in descending priority order", func() {
			var order []string
			record := func(name string) bus.Handler {
				return func(ctx context.Context, evt bus.Event) error {
					order = append(order, name)
					return nil
				}
			}

			b.Subscribe(bus.Subscription{EventType: "t", Name: "low", Priority: 1, Handler: record("low")})
			b.Subscribe(bus.Subscription{EventType: "t", Name: "high", Priority: 10, Handler: record("high")})
			b.Subscribe(bus.Subscription{EventType: "t", Name: "mid", Priority: 5, Handler: record("mid")})

			b.Publish(ctx, bus.NewEvent("t", "test", nil))

			Expect(order).To(Equal([]string{"high", "mid", "low"}))
		})

		It("keeps registration order for equal priorities", func() {
			var order []string
			record := func(name string) bus.Handler {
				return func(ctx context.Context, evt bus.Event) error {
					order = append(order, name)
					return nil
				}
			}

			b.Subscribe(bus.Subscription{EventType: "t", Name: "first", Priority: 3, Handler: record("first")})
			b.Subscribe(bus.Subscription{EventType: "t", Name: "second", Priority: 3, Handler: record("second")})

			b.Publish(ctx, bus.NewEvent("t", "test", nil))

			Expect(order).To(Equal([]string{"first", "second"}))
		})

		It("isolates a failing handler from its siblings", func() {
			var delivered bool
			b.Subscribe(bus.Subscription{
				EventType: "t",
				Name:      "broken",
				Priority:  10,
				Handler: func(ctx context.Context, evt bus.Event) error {
					return errors.New("boom")
				},
			})
			b.Subscribe(bus.Subscription{
				EventType: "t",
				Name:      "healthy",
				Handler: func(ctx context.Context, evt bus.Event) error {
					delivered = true
					return nil
				},
			})

			b.Publish(ctx, bus.NewEvent("t", "test", nil))

			Expect(delivered).To(BeTrue())
			Expect(b.Stats().HandlerFailures).To(Equal(uint64(1)))
		})

		It("recovers a panicking handler", func() {
			var delivered bool
			b.Subscribe(bus.Subscription{
				EventType: "t",
				Name:      "panicky",
				Priority:  10,
				Handler: func(ctx context.Context, evt bus.Event) error {
					panic("handler exploded")
				},
			})
			b.Subscribe(bus.Subscription{
				EventType: "t",
				Name:      "healthy",
				Handler: func(ctx context.Context, evt bus.Event) error {
					delivered = true
					return nil
				},
			})

			Expect(func() {
				b.Publish(ctx, bus.NewEvent("t", "test", nil))
			}).NotTo(Panic())
			Expect(delivered).To(BeTrue())
			Expect(b.Stats().HandlerFailures).To(Equal(uint64(1)))
		})

		It("joins async handlers before returning", func() {
			var mu sync.Mutex
			count := 0
			for i := 0; i < 5; i++ {
				b.Subscribe(bus.Subscription{
					EventType: "t",
					Name:      fmt.Sprintf("async-%d", i),
					Async:     true,
					Handler: func(ctx context.Context, evt bus.Event) error {
						mu.Lock()
						count++
						mu.Unlock()
						return nil
					},
				})
			}

			b.Publish(ctx, bus.NewEvent("t", "test", nil))

			mu.Lock()
			defer mu.Unlock()
			Expect(count).To(Equal(5))
		})

		It("delivers every event type to wildcard subscribers", func() {
			var mu sync.Mutex
			var types []string
			b.Subscribe(bus.Subscription{
				EventType: bus.Wildcard,
				Name:      "audit",
				Handler: func(ctx context.Context, evt bus.Event) error {
					mu.Lock()
					types = append(types, evt.EventType)
					mu.Unlock()
					return nil
				},
			})

			b.Publish(ctx, bus.NewEvent(bus.EventSyncStarted, "syncrun", nil))
			b.Publish(ctx, bus.NewEvent(bus.EventAlertRaised, "health", nil))

			mu.Lock()
			defer mu.Unlock()
			Expect(types).To(ConsistOf(bus.EventSyncStarted, bus.EventAlertRaised))
		})

		It("runs middleware before delivery and tolerates its failure", func() {
			var seen []string
			b.Use(func(ctx context.Context, evt bus.Event) error {
				seen = append(seen, "middleware")
				return errors.New("middleware failure")
			})
			b.Subscribe(bus.Subscription{
				EventType: "t",
				Name:      "handler",
				Handler: func(ctx context.Context, evt bus.Event) error {
					seen = append(seen, "handler")
					return nil
				},
			})

			b.Publish(ctx, bus.NewEvent("t", "test", nil))

			Expect(seen).To(Equal([]string{"middleware", "handler"}))
		})
	})

	Describe("Unsubscribe", func() {
		It("stops delivery to the removed handler", func() {
			calls := 0
			b.Subscribe(bus.Subscription{
				EventType: "t",
				Name:      "temp",
				Handler: func(ctx context.Context, evt bus.Event) error {
					calls++
					return nil
				},
			})

			b.Publish(ctx, bus.NewEvent("t", "test", nil))
			b.Unsubscribe("t", "temp")
			b.Publish(ctx, bus.NewEvent("t", "test", nil))

			Expect(calls).To(Equal(1))
		})

		It("is a no-op for unknown handlers", func() {
			Expect(func() {
				b.Unsubscribe("t", "nobody")
			}).NotTo(Panic())
		})
	})

	Describe("History", func() {
		It("returns recent events newest first", func() {
			for i := 0; i < 5; i++ {
				b.Publish(ctx, bus.NewEvent("t", "test", map[string]any{"seq": i}))
			}

			recent := b.History(3)

			Expect(recent).To(HaveLen(3))
			Expect(recent[0].Data).To(HaveKeyWithValue("seq", 4))
			Expect(recent[1].Data).To(HaveKeyWithValue("seq", 3))
			Expect(recent[2].Data).To(HaveKeyWithValue("seq", 2))
		})

		It("returns everything when the limit exceeds the history", func() {
			b.Publish(ctx, bus.NewEvent("t", "test", nil))
			Expect(b.History(100)).To(HaveLen(1))
		})
	})

	Describe("Stats", func() {
		It("counts publishes per event type", func() {
			b.Publish(ctx, bus.NewEvent(bus.EventSyncStarted, "syncrun", nil))
			b.Publish(ctx, bus.NewEvent(bus.EventSyncStarted, "syncrun", nil))
			b.Publish(ctx, bus.NewEvent(bus.EventSyncCompleted, "syncrun", nil))

			stats := b.Stats()

			Expect(stats.TotalPublished).To(Equal(uint64(3)))
			Expect(stats.PerType).To(HaveKeyWithValue(bus.EventSyncStarted, uint64(2)))
			Expect(stats.PerType).To(HaveKeyWithValue(bus.EventSyncCompleted, uint64(1)))
			Expect(stats.HistorySize).To(Equal(3))
		})

		It("counts subscriptions across event types", func() {
			noop := func(ctx context.Context, evt bus.Event) error { return nil }
			b.Subscribe(bus.Subscription{EventType: "a", Name: "one", Handler: noop})
			b.Subscribe(bus.Subscription{EventType: "b", Name: "two", Handler: noop})

			Expect(b.Stats().Subscriptions).To(Equal(2))
		})
	})

	Describe("Handlers", func() {
		It("lists subscriptions in delivery order", func() {
			noop := func(ctx context.Context, evt bus.Event) error { return nil }
			b.Subscribe(bus.Subscription{EventType: "t", Name: "low", Priority: 1, Handler: noop})
			b.Subscribe(bus.Subscription{EventType: "t", Name: "high", Priority: 9, Handler: noop})

			handlers := b.Handlers("t")

			Expect(handlers).To(HaveLen(2))
			Expect(handlers[0].Name).To(Equal("high"))
			Expect(handlers[1].Name).To(Equal("low"))
		})
	})
})

var _ = Describe("Event", func() {
	It("defaults correlation to the event ID", func() {
		evt := bus.NewEvent(bus.EventSyncStarted, "syncrun", nil)
		Expect(evt.CorrelationID).To(Equal(evt.EventID))
		Expect(evt.Version).To(Equal(1))
	})

	It("carries correlation from an upstream event", func() {
		parent := bus.NewEvent(bus.EventSyncStarted, "syncrun", nil)
		child := bus.NewEvent(bus.EventEntitySynced, "syncrun", nil).
			WithCorrelation(parent.CorrelationID, parent.EventID)

		Expect(child.CorrelationID).To(Equal(parent.CorrelationID))
		Expect(child.CausationID).To(Equal(parent.EventID))
	})

	It("keeps its own correlation when the upstream ID is empty", func() {
		evt := bus.NewEvent(bus.EventSyncStarted, "syncrun", nil)
		updated := evt.WithCorrelation("", "cause-1")

		Expect(updated.CorrelationID).To(Equal(evt.EventID))
		Expect(updated.CausationID).To(Equal("cause-1"))
	})

	It("tags the aggregate it concerns", func() {
		evt := bus.NewEvent(bus.EventDeadLetterAdded, "queue", nil).
			WithAggregate("queue_entry", "42")

		Expect(evt.AggregateType).To(Equal("queue_entry"))
		Expect(evt.AggregateID).To(Equal("42"))
	})
})
