package hub_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/gochat-relay/internal/event"
	"github.com/Tyrowin/gochat-relay/internal/hub"
)

func chat(i int) event.Event {
	return event.Chat{UserID: "u", Content: fmt.Sprintf("m%d", i)}
}

// drain reads n events from sub, failing the test on timeout.
func drain(t *testing.T, sub *hub.Subscription, n int) []event.Event {
	t.Helper()
	out := make([]event.Event, 0, n)
	for len(out) < n {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatalf("subscription closed after %d of %d events", len(out), n)
			}
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

// TestNewHub verifies that a fresh hub has no subscribers and zero counters.
func TestNewHub(t *testing.T) {
	h := hub.New()
	if h == nil {
		t.Fatal("New() returned nil")
	}
	if st := h.Stats(); st != (hub.Stats{}) {
		t.Errorf("stats: got %+v, want zero", st)
	}
}

// TestPublishOrder checks that a receiver subscribed before the first publish
// observes exactly N events in publish order.
func TestPublishOrder(t *testing.T) {
	const n = 50
	h := hub.New(hub.WithQueueSize(n))
	sub := h.Subscribe()
	defer sub.Close()

	for i := range n {
		h.Publish(chat(i))
	}

	got := drain(t, sub, n)
	for i, ev := range got {
		want := fmt.Sprintf("m%d", i)
		if c := ev.(event.Chat); c.Content != want {
			t.Fatalf("event %d: got %q, want %q", i, c.Content, want)
		}
	}
	select {
	case ev := <-sub.Events():
		t.Errorf("unexpected extra event %v", event.Describe(ev))
	default:
	}
}

// TestSharedOrderAcrossReceivers publishes from several goroutines and checks
// that two receivers observe the same sequence.
func TestSharedOrderAcrossReceivers(t *testing.T) {
	const publishers, perPublisher = 4, 25
	total := publishers * perPublisher

	h := hub.New(hub.WithQueueSize(total))
	a, b := h.Subscribe(), h.Subscribe()
	defer a.Close()
	defer b.Close()

	var wg sync.WaitGroup
	for p := range publishers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perPublisher {
				h.Publish(chat(p*perPublisher + i))
			}
		}()
	}
	wg.Wait()

	gotA, gotB := drain(t, a, total), drain(t, b, total)
	for i := range gotA {
		if gotA[i] != gotB[i] {
			t.Fatalf("position %d: receivers disagree: %v vs %v",
				i, event.Describe(gotA[i]), event.Describe(gotB[i]))
		}
	}
}

// TestMissesEarlierEvents checks that a late subscriber does not see events
// published before it registered.
func TestMissesEarlierEvents(t *testing.T) {
	h := hub.New()
	h.Publish(chat(0))
	sub := h.Subscribe()
	defer sub.Close()
	h.Publish(chat(1))

	got := drain(t, sub, 1)
	if c := got[0].(event.Chat); c.Content != "m1" {
		t.Errorf("got %q, want m1", c.Content)
	}
}

// TestDropOldestWhenFull verifies the lossy policy: a stalled subscriber keeps
// the newest events and never blocks the publisher.
func TestDropOldestWhenFull(t *testing.T) {
	h := hub.New(hub.WithQueueSize(3))
	slow := h.Subscribe()
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		for i := range 10 {
			h.Publish(chat(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	got := drain(t, slow, 3)
	for i, want := range []string{"m7", "m8", "m9"} {
		if c := got[i].(event.Chat); c.Content != want {
			t.Errorf("event %d: got %q, want %q", i, c.Content, want)
		}
	}
	if slow.Dropped() != 7 {
		t.Errorf("subscription dropped: got %d, want 7", slow.Dropped())
	}
	if st := h.Stats(); st.Dropped != 7 || st.Published != 10 {
		t.Errorf("stats: got %+v", st)
	}
}

// TestSlowReceiverDoesNotAffectOthers ensures a full queue on one subscription
// leaves another subscription's stream intact.
func TestSlowReceiverDoesNotAffectOthers(t *testing.T) {
	h := hub.New(hub.WithQueueSize(2))
	slow := h.Subscribe()
	fast := h.Subscribe()
	defer slow.Close()
	defer fast.Close()

	for i := range 6 {
		h.Publish(chat(i))
		drain(t, fast, 1)
	}
	if fast.Dropped() != 0 {
		t.Errorf("fast subscriber dropped %d events", fast.Dropped())
	}
	if slow.Dropped() != 4 {
		t.Errorf("slow subscriber dropped: got %d, want 4", slow.Dropped())
	}
}

// TestSubscriptionClose checks that Close is idempotent and closes the channel.
func TestSubscriptionClose(t *testing.T) {
	h := hub.New()
	sub := h.Subscribe()
	if h.Stats().Subscribers != 1 {
		t.Fatalf("subscribers: got %d, want 1", h.Stats().Subscribers)
	}

	sub.Close()
	sub.Close()

	if _, ok := <-sub.Events(); ok {
		t.Error("events channel still open after Close")
	}
	if h.Stats().Subscribers != 0 {
		t.Errorf("subscribers: got %d, want 0", h.Stats().Subscribers)
	}
	h.Publish(chat(1))
}

// TestHubClose verifies shutdown closes all subscriptions and rejects new ones.
func TestHubClose(t *testing.T) {
	h := hub.New()
	sub := h.Subscribe()
	h.Close()
	h.Close()

	if _, ok := <-sub.Events(); ok {
		t.Error("subscription still open after hub Close")
	}
	late := h.Subscribe()
	if _, ok := <-late.Events(); ok {
		t.Error("subscription on closed hub should be closed")
	}
	late.Close()
	h.Publish(chat(1))
}
