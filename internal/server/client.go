package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat-relay/internal/codec"
	"github.com/Tyrowin/gochat-relay/internal/relay"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	closeGrace = time.Second
)

// Client adapts a WebSocket connection to relay.Transport. Each text frame
// carries one record. The first read is bounded by the handshake timeout the
// session passes in. After that, liveness is driven by ping/pong: the read
// deadline is pongWait and every pong extends it.
type Client struct {
	conn           *websocket.Conn
	addr           string
	maxMessageSize int64
	logger         *slog.Logger

	mu          sync.Mutex
	interrupted bool
	greeted     bool

	done      chan struct{}
	closeOnce sync.Once
}

var _ relay.Transport = (*Client)(nil)

// NewClient wraps conn and starts its keepalive pinger. The read limit comes
// from the active configuration.
func NewClient(conn *websocket.Conn, addr string) *Client {
	cfg := currentConfig()
	c := &Client{
		conn:           conn,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		logger:         slog.Default().With("remote", addr, "transport", "websocket"),
		done:           make(chan struct{}),
	}
	conn.SetReadLimit(cfg.MaxMessageSize)
	c.setupReadConnection()
	go c.pingLoop()
	return c
}

// setupReadConnection installs the pong handler that extends the read
// deadline once the first record has arrived, unless the client has been
// interrupted.
func (c *Client) setupReadConnection() {
	c.conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.interrupted || !c.greeted {
			return nil
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Debug("set read deadline in pong handler", "err", err)
		}
		return nil
	})
}

// ReadRecord implements relay.Transport. The timeout applies to the first
// record only; later reads use the ping/pong keepalive instead. Binary frames
// are reported as malformed records.
func (c *Client) ReadRecord(timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	if c.interrupted {
		c.mu.Unlock()
		return nil, relay.ErrInterrupted
	}
	first := !c.greeted
	wait := pongWait
	if first && timeout > 0 {
		wait = timeout
	}
	err := c.conn.SetReadDeadline(time.Now().Add(wait))
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	messageType, data, err := c.conn.ReadMessage()
	if first {
		c.mu.Lock()
		c.greeted = true
		c.mu.Unlock()
	}
	if err != nil {
		c.handleReadError(err)
		return nil, err
	}
	if messageType != websocket.TextMessage {
		return nil, fmt.Errorf("%w: binary frame", codec.ErrMalformed)
	}
	return data, nil
}

// handleReadError logs the read failure at a level matching how expected it is.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Info("message exceeded maximum size", "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Debug("client disconnected", "err", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Debug("connection closed", "err", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Warn("unexpected WebSocket close", "err", err)
	default:
		c.logger.Debug("WebSocket read error", "err", err)
	}
}

// WriteRecord implements relay.Transport.
func (c *Client) WriteRecord(record []byte, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, record)
}

// Interrupt implements relay.Transport.
func (c *Client) Interrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interrupted {
		return
	}
	c.interrupted = true
	_ = c.conn.SetReadDeadline(time.Unix(1, 0))
}

// RemoteAddr implements relay.Transport.
func (c *Client) RemoteAddr() string {
	return c.addr
}

// Close implements relay.Transport. It stops the pinger, sends a normal close
// frame and closes the socket.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace)); werr != nil && !isExpectedCloseError(werr) {
			c.logger.Debug("write close message", "err", werr)
		}
		err = c.conn.Close()
		if isExpectedCloseError(err) {
			err = nil
		}
	})
	return err
}

// pingLoop sends keepalive pings until the client is closed. WriteControl is
// safe to call alongside the session's writer.
func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(closeGrace*10)); err != nil {
				if !isExpectedCloseError(err) {
					c.logger.Debug("write ping", "err", err)
				}
				return
			}
		}
	}
}
