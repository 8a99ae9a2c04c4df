package codec

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Tyrowin/gochat-relay/internal/event"
)

// Line is the newline-delimited TCP protocol. Presence changes are sent as
// system records and chat messages as tagged ChatMessage records:
//
//	{"type":"system","content":"User alice joined the chat"}
//	{"type":"ChatMessage","data":{"user_id":"alice","content":"hi","timestamp":"2024-01-01T00:00:00Z"}}
//
// Inbound records are raw UTF-8 text.
type Line struct{}

type systemRecord struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type chatRecord struct {
	Type string   `json:"type"`
	Data chatData `json:"data"`
}

type chatData struct {
	UserID    string `json:"user_id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

func newChatData(c event.Chat) chatData {
	return chatData{
		UserID:    c.UserID,
		Content:   c.Content,
		Timestamp: c.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// Name implements Codec.
func (Line) Name() string { return "line" }

// Encode implements Codec.
func (Line) Encode(ev event.Event) ([]byte, error) {
	switch e := ev.(type) {
	case event.Joined:
		return marshal(systemRecord{Type: "system", Content: fmt.Sprintf("User %s joined the chat", e.UserID)})
	case event.Left:
		return marshal(systemRecord{Type: "system", Content: fmt.Sprintf("User %s left the chat", e.UserID)})
	case event.Chat:
		return marshal(chatRecord{Type: "ChatMessage", Data: newChatData(e)})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
}

// DecodeUsername implements Codec. Invalid UTF-8 is replaced rather than
// rejected so a peer always gets an identity.
func (Line) DecodeUsername(record []byte) (string, error) {
	name := strings.ToValidUTF8(string(record), "�")
	return strings.TrimSpace(name), nil
}

// DecodeChat implements Codec.
func (Line) DecodeChat(record []byte) (string, error) {
	if !utf8.Valid(record) {
		return "", fmt.Errorf("%w: invalid utf-8", ErrMalformed)
	}
	text := strings.TrimSpace(string(record))
	if text == "" {
		return "", ErrEmpty
	}
	return text, nil
}
