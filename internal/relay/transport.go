package relay

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/Tyrowin/gochat-relay/internal/codec"
)

// ErrInterrupted is returned by ReadRecord after Interrupt.
var ErrInterrupted = errors.New("relay: read interrupted")

// Transport moves whole records over one client connection. Implementations
// own framing; payload encoding is left to a codec.Codec.
//
// ReadRecord is called from a single reader goroutine and WriteRecord from a
// single writer goroutine. Interrupt may be called from any goroutine.
type Transport interface {
	// ReadRecord blocks until a full record arrives. A positive idle bounds
	// the wait.
	ReadRecord(idle time.Duration) ([]byte, error)
	// WriteRecord writes one record. A positive timeout bounds the write.
	WriteRecord(record []byte, timeout time.Duration) error
	// Interrupt unblocks a pending ReadRecord and makes later reads fail
	// with ErrInterrupted. In-flight writes are not affected.
	Interrupt()
	// RemoteAddr describes the peer for logs.
	RemoteAddr() string
	// Close releases the connection.
	Close() error
}

// StreamTransport carries newline-delimited records over a net.Conn.
type StreamTransport struct {
	conn   net.Conn
	framer *codec.Framer

	mu          sync.Mutex
	interrupted bool
	wbuf        []byte
}

// NewStreamTransport wraps conn. maxRecord bounds a single inbound record.
func NewStreamTransport(conn net.Conn, maxRecord int) *StreamTransport {
	return &StreamTransport{conn: conn, framer: codec.NewFramer(conn, maxRecord)}
}

// ReadRecord implements Transport.
func (t *StreamTransport) ReadRecord(idle time.Duration) ([]byte, error) {
	t.mu.Lock()
	if t.interrupted {
		t.mu.Unlock()
		return nil, ErrInterrupted
	}
	var deadline time.Time
	if idle > 0 {
		deadline = time.Now().Add(idle)
	}
	err := t.conn.SetReadDeadline(deadline)
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}

	rec, err := t.framer.Next()
	if err != nil && t.isInterrupted() {
		return nil, ErrInterrupted
	}
	return rec, err
}

func (t *StreamTransport) isInterrupted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interrupted
}

// WriteRecord implements Transport. The record and its newline go out in a
// single Write.
func (t *StreamTransport) WriteRecord(record []byte, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	t.wbuf = append(append(t.wbuf[:0], record...), '\n')
	_, err := t.conn.Write(t.wbuf)
	return err
}

// Interrupt implements Transport.
func (t *StreamTransport) Interrupt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.interrupted {
		return
	}
	t.interrupted = true
	_ = t.conn.SetReadDeadline(time.Unix(1, 0))
}

// RemoteAddr implements Transport.
func (t *StreamTransport) RemoteAddr() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Close implements Transport.
func (t *StreamTransport) Close() error {
	return t.conn.Close()
}
