package event_test

import (
	"testing"
	"time"

	"github.com/Tyrowin/gochat-relay/internal/event"
)

// TestKinds verifies that every variant reports its kind and origin.
func TestKinds(t *testing.T) {
	cases := []struct {
		ev     event.Event
		kind   event.Kind
		origin string
		name   string
	}{
		{event.Joined{UserID: "alice"}, event.KindJoined, "alice", "joined"},
		{event.Left{UserID: "bob"}, event.KindLeft, "bob", "left"},
		{event.NewChat("carol", "hi"), event.KindChat, "carol", "chat"},
	}

	for _, c := range cases {
		if c.ev.Kind() != c.kind {
			t.Errorf("%T: kind got %v, want %v", c.ev, c.ev.Kind(), c.kind)
		}
		if c.ev.Origin() != c.origin {
			t.Errorf("%T: origin got %q, want %q", c.ev, c.ev.Origin(), c.origin)
		}
		if c.kind.String() != c.name {
			t.Errorf("kind string got %q, want %q", c.kind.String(), c.name)
		}
	}
}

// TestNewChatTimestamp checks that chat events are stamped in UTC at creation.
func TestNewChatTimestamp(t *testing.T) {
	before := time.Now().UTC()
	c := event.NewChat("alice", "hi")
	after := time.Now().UTC()

	if c.Timestamp.Before(before) || c.Timestamp.After(after) {
		t.Errorf("timestamp %v outside [%v, %v]", c.Timestamp, before, after)
	}
	if c.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp location got %v, want UTC", c.Timestamp.Location())
	}
}

// TestFromSelf covers the echo filter predicate.
func TestFromSelf(t *testing.T) {
	if !event.FromSelf(event.Joined{UserID: "alice"}, "alice") {
		t.Error("own joined event not detected")
	}
	if event.FromSelf(event.NewChat("bob", "x"), "alice") {
		t.Error("foreign chat event reported as own")
	}
	if event.FromSelf(nil, "alice") {
		t.Error("nil event reported as own")
	}
}

func TestDescribe(t *testing.T) {
	if got := event.Describe(event.Left{UserID: "bob"}); got != "left(bob)" {
		t.Errorf("got %q", got)
	}
	if got := event.Describe(nil); got != "<nil>" {
		t.Errorf("got %q", got)
	}
}
