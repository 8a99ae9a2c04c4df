// Package testhelpers provides common utilities for the end-to-end tests.
//
// NewStack assembles the same components cmd/server wires together, with
// both the TCP relay listener and the HTTP surface bound to loopback ports.
package testhelpers

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat-relay/internal/archive"
	"github.com/Tyrowin/gochat-relay/internal/codec"
	"github.com/Tyrowin/gochat-relay/internal/directory"
	"github.com/Tyrowin/gochat-relay/internal/event"
	"github.com/Tyrowin/gochat-relay/internal/history"
	"github.com/Tyrowin/gochat-relay/internal/hub"
	"github.com/Tyrowin/gochat-relay/internal/metrics"
	"github.com/Tyrowin/gochat-relay/internal/relay"
	"github.com/Tyrowin/gochat-relay/internal/server"
)

// ReadTimeout bounds every blocking read in the helpers.
const ReadTimeout = 3 * time.Second

// Stack is a fully wired relay.
type Stack struct {
	Hub       *hub.Hub
	History   *history.Buffer
	Relay     *relay.Server
	Directory *directory.Directory
	Archive   *archive.Archive
	HTTP      *httptest.Server
	TCPAddr   string

	cancel   context.CancelFunc
	served   chan error
	stopOnce sync.Once
}

// NewStack starts a relay on loopback. customize may adjust the config
// before it is applied; the HTTP test server's origin is always allowed.
func NewStack(t *testing.T, customize func(*server.Config)) *Stack {
	t.Helper()

	cfg := server.NewConfig()
	cfg.RateLimit.Burst = 1000
	if customize != nil {
		customize(cfg)
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := hub.New(hub.WithQueueSize(cfg.Hub.QueueSize), hub.WithLogger(quiet))
	buf, err := history.New(cfg.History.Capacity, h)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	rs := relay.NewServer(buf, cfg.RelayOptions(), quiet)

	s := &Stack{
		Hub:       h,
		History:   buf,
		Relay:     rs,
		Directory: directory.New(),
		Archive:   archive.New(),
		served:    make(chan error, 1),
	}

	mux := server.SetupRoutes(server.Dependencies{
		Relay:     rs,
		Directory: s.Directory,
		Archive:   s.Archive,
		Metrics:   metrics.New(h, rs, buf),
	})
	s.HTTP = httptest.NewServer(server.WithCORS(mux))

	cfg.AllowedOrigins = append(cfg.AllowedOrigins, s.HTTP.URL)
	server.SetConfig(cfg)

	ln, err := relay.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s.TCPAddr = ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() { s.served <- rs.Serve(ctx, ln) }()

	t.Cleanup(func() {
		s.Stop(t)
		s.HTTP.Close()
		h.Close()
		server.SetConfig(nil)
	})
	return s
}

// Stop closes the TCP listener and shuts every session down. It is safe to
// call more than once.
func (s *Stack) Stop(t *testing.T) {
	t.Helper()
	s.stopOnce.Do(func() {
		s.cancel()
		if err := s.Relay.Shutdown(ReadTimeout); err != nil {
			t.Errorf("relay shutdown: %v", err)
		}
		select {
		case err := <-s.served:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(ReadTimeout):
			t.Error("Serve did not return after cancel")
		}
	})
}

// WebSocketURL returns the ws:// URL of the chat endpoint.
func (s *Stack) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(s.HTTP.URL, "http") + "/ws"
}

// WaitForJoin blocks until user's Joined event is in history. A blank user
// waits for the anonymous identity.
func (s *Stack) WaitForJoin(t *testing.T, user string) {
	t.Helper()
	user = strings.TrimSpace(user)
	if user == "" {
		user = relay.AnonymousUser
	}
	WaitFor(t, func() bool {
		for _, ev := range s.History.Snapshot() {
			if ev.Kind() == event.KindJoined && ev.Origin() == user {
				return true
			}
		}
		return false
	})
}

// WaitFor polls cond until it holds or ReadTimeout elapses.
func WaitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(ReadTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// The body is closed at test cleanup.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

// ConnectWebSocket dials url with the given Origin header.
func ConnectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	return dialer.Dial(url, headers)
}

// WSClient is a chat participant over WebSocket.
type WSClient struct {
	t    *testing.T
	Conn *websocket.Conn
}

// JoinWebSocket connects to s and completes the username handshake.
func (s *Stack) JoinWebSocket(t *testing.T, user string) *WSClient {
	t.Helper()
	conn, resp, err := ConnectWebSocket(s.WebSocketURL(), s.HTTP.URL)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("connect %s: %v", user, err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if err := conn.WriteJSON(codec.Hello{Username: user}); err != nil {
		t.Fatalf("hello %s: %v", user, err)
	}
	s.WaitForJoin(t, user)
	return &WSClient{t: t, Conn: conn}
}

// Send writes one chat message. It may be called from any goroutine.
func (c *WSClient) Send(content string) {
	c.t.Helper()
	if err := c.Conn.WriteJSON(codec.Inbound{Content: content}); err != nil {
		c.t.Errorf("send: %v", err)
	}
}

// Event is a decoded outbound record from either transport.
type Event struct {
	Type    string
	UserID  string
	Content string
}

// Next reads the next event.
func (c *WSClient) Next() Event {
	c.t.Helper()
	_ = c.Conn.SetReadDeadline(time.Now().Add(ReadTimeout))
	var env codec.Envelope
	if err := c.Conn.ReadJSON(&env); err != nil {
		c.t.Fatalf("read: %v", err)
	}
	var data struct {
		UserID  string `json:"user_id"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		c.t.Fatalf("decode %s: %v", env.Data, err)
	}
	return Event{Type: env.Type, UserID: data.UserID, Content: data.Content}
}

// Close sends a normal close frame and closes the connection.
func (c *WSClient) Close() {
	_ = c.Conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.Conn.Close()
}

// TCPClient is a chat participant over the line protocol.
type TCPClient struct {
	t    *testing.T
	Conn net.Conn
	r    *bufio.Reader
}

// JoinTCP connects to the relay listener and sends the username line.
func (s *Stack) JoinTCP(t *testing.T, user string) *TCPClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", s.TCPAddr, ReadTimeout)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	c := &TCPClient{t: t, Conn: conn, r: bufio.NewReader(conn)}
	c.Send(user)
	s.WaitForJoin(t, user)
	return c
}

// Send writes one line. It may be called from any goroutine.
func (c *TCPClient) Send(line string) {
	c.t.Helper()
	if _, err := c.Conn.Write([]byte(line + "\n")); err != nil {
		c.t.Errorf("write: %v", err)
	}
}

// Next reads and decodes the next line. System records are reported with
// Type "system" and the announcement in Content.
func (c *TCPClient) Next() Event {
	c.t.Helper()
	_ = c.Conn.SetReadDeadline(time.Now().Add(ReadTimeout))
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	var rec struct {
		Type    string `json:"type"`
		Content string `json:"content"`
		Data    struct {
			UserID  string `json:"user_id"`
			Content string `json:"content"`
		} `json:"data"`
	}
	if err := json.Unmarshal(line, &rec); err != nil {
		c.t.Fatalf("decode %q: %v", line, err)
	}
	if rec.Type == "system" {
		return Event{Type: rec.Type, Content: rec.Content}
	}
	return Event{Type: rec.Type, UserID: rec.Data.UserID, Content: rec.Data.Content}
}

// ExpectClosed drains the connection and fails if it stays open.
func (c *TCPClient) ExpectClosed() {
	c.t.Helper()
	_ = c.Conn.SetReadDeadline(time.Now().Add(ReadTimeout))
	if _, err := io.Copy(io.Discard, c.r); err != nil {
		c.t.Fatalf("connection not closed by server: %v", err)
	}
}
