// Package archive stores direct messages between two users, keyed by the
// unordered pair of their ids.
package archive

import (
	"sync"
	"time"
)

// PairKey identifies a conversation. Low is never greater than High.
type PairKey struct {
	Low, High int
}

// Key returns the conversation key for a and b in either order.
func Key(a, b int) PairKey {
	return PairKey{Low: min(a, b), High: max(a, b)}
}

// Message is one archived direct message.
type Message struct {
	SenderID   int       `json:"sender_id"`
	ReceiverID int       `json:"receiver_id"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// Archive is an in-memory message store, safe for concurrent use.
type Archive struct {
	mu            sync.RWMutex
	conversations map[PairKey][]Message
	now           func() time.Time
}

// New returns an empty Archive.
func New() *Archive {
	return &Archive{
		conversations: make(map[PairKey][]Message),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Append stores a message from sender to receiver and returns it stamped.
func (a *Archive) Append(senderID, receiverID int, content string) Message {
	msg := Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Timestamp:  a.now(),
	}
	k := Key(senderID, receiverID)

	a.mu.Lock()
	a.conversations[k] = append(a.conversations[k], msg)
	a.mu.Unlock()
	return msg
}

// Query returns the conversation between x and y in append order. The result
// is a copy and never nil.
func (a *Archive) Query(x, y int) []Message {
	a.mu.RLock()
	defer a.mu.RUnlock()

	msgs := a.conversations[Key(x, y)]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Conversations returns the number of distinct conversations.
func (a *Archive) Conversations() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.conversations)
}
