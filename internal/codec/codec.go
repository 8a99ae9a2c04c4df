// Package codec converts relay events to and from wire records.
//
// A Codec deals with one record at a time; splitting a byte stream into
// records is the job of the transport (see Framer for newline-delimited
// streams). Two codecs exist: Line for the plain TCP protocol and JSON for the
// WebSocket endpoint.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Tyrowin/gochat-relay/internal/event"
)

var (
	// ErrMalformed reports a record that could not be decoded.
	ErrMalformed = errors.New("codec: malformed record")
	// ErrEmpty reports a record that decoded to no content.
	ErrEmpty = errors.New("codec: empty record")
	// ErrUnknownEvent reports an event outside the closed event set.
	ErrUnknownEvent = errors.New("codec: unknown event")
)

// Codec encodes outbound events and decodes inbound records.
type Codec interface {
	// Name identifies the codec in logs.
	Name() string
	// Encode serializes ev into a single record without any delimiter.
	Encode(ev event.Event) ([]byte, error)
	// DecodeUsername extracts the display name from the handshake record.
	// An empty result means the peer did not provide one.
	DecodeUsername(record []byte) (string, error)
	// DecodeChat extracts chat text from an inbound record.
	DecodeChat(record []byte) (string, error)
}

// marshal encodes v as compact JSON without HTML escaping so names such as
// "<bob>" reach clients verbatim.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("codec: encode: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
