// Package event defines the closed set of events the relay exchanges between
// connections: a user joined, a user left, or a user sent a chat message.
//
// Event is sealed: only the types declared here implement it. Consumers switch
// over the concrete types and treat anything else as an error.
package event

import (
	"fmt"
	"time"
)

// Kind identifies an Event variant.
type Kind int

const (
	// KindJoined marks a Joined event.
	KindJoined Kind = iota + 1
	// KindLeft marks a Left event.
	KindLeft
	// KindChat marks a Chat event.
	KindChat
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindJoined:
		return "joined"
	case KindLeft:
		return "left"
	case KindChat:
		return "chat"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is a value published through the hub and retained by the history
// buffer. Events are immutable once constructed.
type Event interface {
	// Kind reports the variant.
	Kind() Kind
	// Origin is the user id that caused the event.
	Origin() string

	sealed()
}

// Joined is published once a connection completes its handshake.
type Joined struct {
	UserID string
}

// Left is published when a connection is torn down.
type Left struct {
	UserID string
}

// Chat carries one text message sent by a user.
type Chat struct {
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewChat builds a Chat stamped with the current UTC time.
func NewChat(userID, content string) Chat {
	return Chat{UserID: userID, Content: content, Timestamp: time.Now().UTC()}
}

func (Joined) Kind() Kind { return KindJoined }
func (Left) Kind() Kind   { return KindLeft }
func (Chat) Kind() Kind   { return KindChat }

func (e Joined) Origin() string { return e.UserID }
func (e Left) Origin() string   { return e.UserID }
func (e Chat) Origin() string   { return e.UserID }

func (Joined) sealed() {}
func (Left) sealed()   {}
func (Chat) sealed()   {}

// FromSelf reports whether ev originated from userID. Connections use it to
// suppress echoes of their own events.
func FromSelf(ev Event, userID string) bool {
	return ev != nil && ev.Origin() == userID
}

// Describe renders ev for logs.
func Describe(ev Event) string {
	switch e := ev.(type) {
	case Joined:
		return fmt.Sprintf("joined(%s)", e.UserID)
	case Left:
		return fmt.Sprintf("left(%s)", e.UserID)
	case Chat:
		return fmt.Sprintf("chat(%s, %q)", e.UserID, e.Content)
	case nil:
		return "<nil>"
	default:
		return fmt.Sprintf("unknown(%T)", ev)
	}
}
