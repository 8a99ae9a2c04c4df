package relay

import (
	"errors"
	"fmt"

	"github.com/Tyrowin/gochat-relay/internal/codec"
)

// ErrorKind classifies relay failures by how far their effect reaches.
type ErrorKind int

const (
	// KindUnknown is the zero kind.
	KindUnknown ErrorKind = iota
	// KindConnection covers socket I/O failures and peer closes. It ends one
	// connection and never the process.
	KindConnection
	// KindProtocol covers undecodable or oversized records. The record is
	// dropped and the connection stays active.
	KindProtocol
	// KindStartup covers listener bind failures. It is fatal.
	KindStartup
)

// String returns the string representation of an ErrorKind.
func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindProtocol:
		return "protocol"
	case KindStartup:
		return "startup"
	default:
		return "unknown"
	}
}

// Error is a classified relay error.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("relay: %s error", e.Kind)
	}
	if e.Op == "" {
		return fmt.Sprintf("relay: %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("relay: %s error: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so the sentinel
// values below match any error of their kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is.
var (
	ErrConnection = &Error{Kind: KindConnection}
	ErrProtocol   = &Error{Kind: KindProtocol}
	ErrStartup    = &Error{Kind: KindStartup}
)

func connectionError(op string, err error) error {
	return &Error{Kind: KindConnection, Op: op, Err: err}
}

func protocolError(op string, err error) error {
	return &Error{Kind: KindProtocol, Op: op, Err: err}
}

func startupError(op string, err error) error {
	return &Error{Kind: KindStartup, Op: op, Err: err}
}

// IsConnectionError reports whether err ends a single connection.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnection)
}

// IsProtocolError reports whether err is a droppable protocol error.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrProtocol)
}

// IsStartupError reports whether err is a fatal startup error.
func IsStartupError(err error) bool {
	return errors.Is(err, ErrStartup)
}

// classifyRead maps a transport read failure onto the error model. Codec
// framing and decoding failures are protocol errors; everything else ends
// the connection.
func classifyRead(err error) error {
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	if errors.Is(err, codec.ErrRecordTooLong) || errors.Is(err, codec.ErrMalformed) || errors.Is(err, codec.ErrEmpty) {
		return protocolError("read", err)
	}
	return connectionError("read", err)
}
