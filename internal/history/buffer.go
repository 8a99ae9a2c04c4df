// Package history keeps a bounded, ordered record of recent events and
// couples it with the hub so that newly joined connections can be backfilled
// without gaps or duplicates.
package history

import (
	"errors"
	"sync"

	"github.com/Tyrowin/gochat-relay/internal/event"
	"github.com/Tyrowin/gochat-relay/internal/hub"
)

// DefaultCapacity is the number of events retained for replay.
const DefaultCapacity = 100

// ErrInvalidCapacity is returned by New for a non-positive capacity.
var ErrInvalidCapacity = errors.New("history: capacity must be greater than 0")

// Buffer is a fixed-capacity FIFO of events. When full, appending evicts the
// oldest entry. The same lock guards appends, publishes and snapshots; it is
// never held across network I/O.
type Buffer struct {
	mu    sync.Mutex
	ring  []event.Event
	start int
	size  int
	hub   *hub.Hub
}

// New creates a Buffer of the given capacity bound to h. Publish and
// SnapshotAndSubscribe go through h.
func New(capacity int, h *hub.Hub) (*Buffer, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	if h == nil {
		return nil, errors.New("history: hub is nil")
	}
	return &Buffer{ring: make([]event.Event, capacity), hub: h}, nil
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int {
	return len(b.ring)
}

// Len returns the number of retained events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Append records ev, evicting the oldest entry when at capacity.
func (b *Buffer) Append(ev event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appendLocked(ev)
}

func (b *Buffer) appendLocked(ev event.Event) {
	capacity := len(b.ring)
	if b.size < capacity {
		b.ring[(b.start+b.size)%capacity] = ev
		b.size++
		return
	}
	b.ring[b.start] = ev
	b.start = (b.start + 1) % capacity
}

// Publish records ev and hands it to the hub inside one critical section.
// Every event goes through here so that snapshot order and live order agree.
func (b *Buffer) Publish(ev event.Event) {
	if ev == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appendLocked(ev)
	b.hub.Publish(ev)
}

// Snapshot returns a copy of the retained events, oldest first.
func (b *Buffer) Snapshot() []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Buffer) snapshotLocked() []event.Event {
	out := make([]event.Event, b.size)
	capacity := len(b.ring)
	for i := range b.size {
		out[i] = b.ring[(b.start+i)%capacity]
	}
	return out
}

// SnapshotAndSubscribe copies the buffer and registers a hub subscription
// atomically with respect to Publish: every event is either in the returned
// snapshot or delivered on the subscription, never both and never neither.
func (b *Buffer) SnapshotAndSubscribe() ([]event.Event, *hub.Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked(), b.hub.Subscribe()
}
