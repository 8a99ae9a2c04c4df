// Package hub fans events out to every registered subscription in a single
// total order.
//
// Publish never blocks on a slow receiver. Each subscription owns a bounded
// queue; when that queue is full the oldest undelivered event is discarded to
// make room for the new one.
package hub

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Tyrowin/gochat-relay/internal/event"
)

// DefaultQueueSize is the per-subscription queue depth used when none is set.
const DefaultQueueSize = 64

// Hub manages the set of live subscriptions and dispatches published events
// to them. The registry lock is held only for register, unregister and the
// non-blocking dispatch loop.
type Hub struct {
	mu        sync.Mutex
	subs      map[*Subscription]struct{}
	closed    bool
	queueSize int
	logger    *slog.Logger

	published atomic.Uint64
	dropped   atomic.Uint64
}

// Option customizes a Hub.
type Option func(*Hub)

// WithQueueSize sets the per-subscription queue depth. Values below 1 are ignored.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithLogger sets the logger used for drop warnings.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// New creates an empty Hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		subs:      make(map[*Subscription]struct{}),
		queueSize: DefaultQueueSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Subscription is a receiver handle returned by Subscribe.
type Subscription struct {
	hub     *Hub
	ch      chan event.Event
	dropped atomic.Uint64
}

// Events returns the channel events are delivered on. It is closed when the
// subscription is closed or the hub shuts down.
func (s *Subscription) Events() <-chan event.Event {
	return s.ch
}

// Dropped returns how many events were discarded for this subscription
// because its queue was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.unregister(s)
}

// Subscribe registers a new receiver. It observes every event published after
// this call returns. Subscribing to a closed hub yields an already-closed
// subscription.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{hub: h, ch: make(chan event.Event, h.queueSize)}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(s.ch)
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

func (h *Hub) unregister(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
}

// Publish delivers ev to every registered subscription. The registry lock
// makes Publish the single serialization point for event order.
func (h *Hub) Publish(ev event.Event) {
	if ev == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.published.Add(1)
	for s := range h.subs {
		h.deliver(s, ev)
	}
}

// deliver enqueues ev on s, evicting the oldest pending events until it fits.
// Only the subscriber drains s.ch concurrently, so the loop terminates.
func (h *Hub) deliver(s *Subscription, ev event.Event) {
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}

		select {
		case old := <-s.ch:
			s.dropped.Add(1)
			h.dropped.Add(1)
			h.logger.Warn("hub: event dropped, subscriber queue full",
				"dropped_event", event.Describe(old),
				"queue_size", cap(s.ch),
			)
		default:
		}
	}
}

// Close unregisters every subscription and closes their channels. Later
// publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		close(s.ch)
	}
}

// Stats is a point-in-time view of hub counters.
type Stats struct {
	Published   uint64
	Dropped     uint64
	Subscribers int
}

// Stats returns the current counters.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	n := len(h.subs)
	h.mu.Unlock()

	return Stats{
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
		Subscribers: n,
	}
}
