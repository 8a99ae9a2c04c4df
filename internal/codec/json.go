package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Tyrowin/gochat-relay/internal/event"
)

// JSON is the structured protocol used over WebSocket frames. Outbound
// records are envelopes:
//
//	{"type":"joined","data":{"user_id":"alice"}}
//	{"type":"left","data":{"user_id":"alice"}}
//	{"type":"message","data":{"user_id":"alice","content":"hi","timestamp":"..."}}
//
// Inbound chat records are {"content":"..."}. The handshake record is either
// {"username":"..."} or a bare name.
type JSON struct{}

// Envelope is the outbound JSON record shape.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Inbound is the client to server chat record.
type Inbound struct {
	Content string `json:"content"`
}

// Hello is the structured handshake record.
type Hello struct {
	Username string `json:"username"`
}

type presenceData struct {
	UserID string `json:"user_id"`
}

// Name implements Codec.
func (JSON) Name() string { return "json" }

// Encode implements Codec.
func (JSON) Encode(ev event.Event) ([]byte, error) {
	var (
		kind string
		data any
	)
	switch e := ev.(type) {
	case event.Joined:
		kind, data = "joined", presenceData{UserID: e.UserID}
	case event.Left:
		kind, data = "left", presenceData{UserID: e.UserID}
	case event.Chat:
		kind, data = "message", newChatData(e)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}

	raw, err := marshal(data)
	if err != nil {
		return nil, err
	}
	return marshal(Envelope{Type: kind, Data: raw})
}

// DecodeUsername implements Codec.
func (JSON) DecodeUsername(record []byte) (string, error) {
	trimmed := bytes.TrimSpace(record)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var h Hello
		if err := json.Unmarshal(trimmed, &h); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return strings.TrimSpace(h.Username), nil
	}
	return Line{}.DecodeUsername(trimmed)
}

// DecodeChat implements Codec.
func (JSON) DecodeChat(record []byte) (string, error) {
	var in Inbound
	if err := json.Unmarshal(record, &in); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	text := strings.TrimSpace(in.Content)
	if text == "" {
		return "", ErrEmpty
	}
	return text, nil
}
