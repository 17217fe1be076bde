package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"driftsync.app/core/common/logger"
)

// Wildcard subscribes a handler to every published event regardless of type.
const Wildcard = "*"

// historyCapacity bounds the introspection ring buffer. Oldest events are
// evicted first.
const historyCapacity = 1000

// Handler processes one event. Handler errors are logged and isolated; they
// never propagate to the publisher or to sibling handlers.
type Handler func(ctx context.Context, evt Event) error

// Middleware observes every event before delivery. Middleware failures are
// logged and do not stop delivery.
type Middleware func(ctx context.Context, evt Event) error

// Subscription registers a named handler for an event type.
//
// Synchronous handlers run to completion inline on the publishing call
// stack, ordered by descending priority (ties keep registration order).
// Asynchronous handlers and all wildcard handlers run concurrently in a
// fan-out that the publisher joins on. Handlers are expected to be
// short-lived; long work belongs on the queue.
type Subscription struct {
	EventType string
	Name      string
	Priority  int
	Async     bool
	Handler   Handler
}

// Stats is a point-in-time snapshot of bus activity for dashboards and
// test assertions.
type Stats struct {
	TotalPublished  uint64
	HandlerFailures uint64
	PerType         map[string]uint64
	Subscriptions   int
	HistorySize     int
}

// Bus is an in-process publish/subscribe register. Create one at process
// start and pass it explicitly to every component that publishes or
// subscribes; there is no package-level instance.
type Bus struct {
	mu         sync.RWMutex
	subs       map[string][]Subscription
	middleware []Middleware

	history historyRing

	published       uint64
	handlerFailures uint64
	perType         map[string]uint64
}

func New() *Bus {
	return &Bus{
		subs:    make(map[string][]Subscription),
		perType: make(map[string]uint64),
		history: historyRing{buf: make([]Event, 0, historyCapacity)},
	}
}

// Subscribe registers a handler. Within an event type, handlers are kept
// ordered by descending priority; ties keep registration order.
func (b *Bus) Subscribe(sub Subscription) {
	if sub.EventType == "" || sub.Handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.Name == "" {
		sub.Name = fmt.Sprintf("handler-%d", len(b.subs[sub.EventType]))
	}

	list := append(b.subs[sub.EventType], sub)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Priority > list[j].Priority
	})
	b.subs[sub.EventType] = list
}

// Unsubscribe removes the handler registered under name for the event type.
// No-op if not present.
func (b *Bus) Unsubscribe(eventType, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[eventType]
	for i, sub := range list {
		if sub.Name == name {
			b.subs[eventType] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Use appends a pre-delivery observer run in registration order on every
// publish.
func (b *Bus) Use(mw Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, mw)
}

// Publish delivers the event. It blocks only to run synchronous handlers
// and to join the async fan-out; delivery failures never surface as errors
// to the publisher.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		EventType: logger.Ptr(evt.EventType),
		Component: "driftsync.bus",
	})

	b.mu.Lock()
	b.history.push(evt)
	b.published++
	b.perType[evt.EventType]++
	middleware := append([]Middleware(nil), b.middleware...)
	exact := append([]Subscription(nil), b.subs[evt.EventType]...)
	wildcard := append([]Subscription(nil), b.subs[Wildcard]...)
	b.mu.Unlock()

	for _, mw := range middleware {
		if err := runIsolated(ctx, evt, "middleware", mw); err != nil {
			slog.WarnContext(ctx, "bus middleware failed", "error", err)
		}
	}

	var async []Subscription
	for _, sub := range exact {
		if sub.Async {
			async = append(async, sub)
			continue
		}
		if err := runIsolated(ctx, evt, sub.Name, sub.Handler); err != nil {
			b.recordFailure()
			slog.ErrorContext(ctx, "bus handler failed",
				"handler", sub.Name,
				"error", err)
		}
	}

	// Wildcard handlers always join the concurrent fan-out, regardless of
	// how they were registered.
	async = append(async, wildcard...)
	if len(async) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, sub := range async {
		wg.Add(1)
		go func(sub Subscription) {
			defer wg.Done()
			if err := runIsolated(ctx, evt, sub.Name, sub.Handler); err != nil {
				b.recordFailure()
				slog.ErrorContext(ctx, "bus handler failed",
					"handler", sub.Name,
					"error", err)
			}
		}(sub)
	}
	wg.Wait()
}

// Handlers returns the subscriptions registered for an event type, in
// delivery order.
func (b *Bus) Handlers(eventType string) []Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Subscription(nil), b.subs[eventType]...)
}

// History returns up to limit most recent events, newest first.
func (b *Bus) History(limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.history.recent(limit)
}

func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	perType := make(map[string]uint64, len(b.perType))
	for k, v := range b.perType {
		perType[k] = v
	}
	subs := 0
	for _, list := range b.subs {
		subs += len(list)
	}
	return Stats{
		TotalPublished:  b.published,
		HandlerFailures: b.handlerFailures,
		PerType:         perType,
		Subscriptions:   subs,
		HistorySize:     b.history.len(),
	}
}

func (b *Bus) recordFailure() {
	b.mu.Lock()
	b.handlerFailures++
	b.mu.Unlock()
}

// runIsolated invokes fn with panic recovery so one misbehaving handler
// cannot take down the publisher or its siblings.
func runIsolated(ctx context.Context, evt Event, name string, fn func(context.Context, Event) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", name, r)
		}
	}()
	return fn(ctx, evt)
}

// historyRing is a fixed-capacity ring of recently published events.
type historyRing struct {
	buf  []Event
	next int
	full bool
}

func (r *historyRing) push(evt Event) {
	if len(r.buf) < historyCapacity && !r.full {
		r.buf = append(r.buf, evt)
		if len(r.buf) == historyCapacity {
			r.full = true
		}
		return
	}
	r.buf[r.next] = evt
	r.next = (r.next + 1) % historyCapacity
}

func (r *historyRing) len() int {
	return len(r.buf)
}

func (r *historyRing) recent(limit int) []Event {
	n := len(r.buf)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Event, 0, limit)
	// Newest element sits just before next when the ring has wrapped.
	start := n
	if r.full {
		start = r.next + n
	}
	for i := 1; i <= limit; i++ {
		out = append(out, r.buf[(start-i)%n])
	}
	return out
}
