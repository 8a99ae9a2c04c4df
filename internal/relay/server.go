package relay

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/gochat-relay/internal/codec"
	"github.com/Tyrowin/gochat-relay/internal/history"
)

// Options tunes per-connection behaviour. Zero durations disable the
// corresponding deadline.
type Options struct {
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxRecordSize    int
	RateLimit        RateLimit
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		IdleTimeout:      5 * time.Minute,
		WriteTimeout:     10 * time.Second,
		MaxRecordSize:    codec.DefaultMaxRecord,
		RateLimit: RateLimit{
			Burst:          5,
			RefillInterval: time.Second,
		},
	}
}

// Stats is a point-in-time view of connection counters.
type Stats struct {
	Accepted      uint64
	Active        int64
	Closed        uint64
	ProtocolDrops uint64
	RateLimited   uint64
}

type counters struct {
	accepted      atomic.Uint64
	active        atomic.Int64
	closed        atomic.Uint64
	protocolDrops atomic.Uint64
	rateLimited   atomic.Uint64
}

// ErrServerClosed is returned by Handle after Shutdown.
var ErrServerClosed = errors.New("relay: server closed")

const (
	minAcceptBackoff = 10 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Server accepts stream connections and runs one Session per connection.
// WebSocket handlers hand their connections in through Handle so every
// session shares the same lifecycle and counters.
type Server struct {
	history *history.Buffer
	logger  *slog.Logger
	opts    atomic.Pointer[Options]

	// mu orders session registration against Shutdown.
	mu       sync.Mutex
	base     context.Context
	cancel   context.CancelFunc
	sessions sync.WaitGroup
	counters counters
}

// NewServer creates a Server publishing into buf.
func NewServer(buf *history.Buffer, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		history: buf,
		logger:  logger,
		base:    base,
		cancel:  cancel,
	}
	s.SetOptions(opts)
	return s
}

// SetOptions replaces the options used by sessions started after the call.
func (s *Server) SetOptions(opts Options) {
	if opts.MaxRecordSize <= 0 {
		opts.MaxRecordSize = codec.DefaultMaxRecord
	}
	s.opts.Store(&opts)
}

// Options returns the options new sessions are started with.
func (s *Server) Options() Options {
	return *s.opts.Load()
}

// Listen binds the TCP listener. Bind failures are startup errors.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, startupError("listen "+addr, err)
	}
	return ln, nil
}

// Serve accepts connections on ln until ctx is cancelled or ln is closed.
// Transient accept errors are logged and retried with backoff. Serve closes
// ln before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	s.logger.Info("relay listening", "addr", ln.Addr().String())

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Info("relay listener stopped", "addr", ln.Addr().String())
				return nil
			}
			backoff = nextBackoff(backoff)
			s.logger.Warn("accept failed; retrying", "err", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
			}
			continue
		}
		backoff = 0

		opts := s.Options()
		t := NewStreamTransport(conn, opts.MaxRecordSize)
		go func() {
			_ = s.Handle(ctx, t, codec.Line{})
		}()
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptBackoff
	}
	return min(d*2, maxAcceptBackoff)
}

// Handle runs a session for t until it ends. It returns the session's stop
// cause. Sessions stop when ctx is cancelled or the server shuts down.
func (s *Server) Handle(ctx context.Context, t Transport, c codec.Codec) error {
	s.mu.Lock()
	if s.base.Err() != nil {
		s.mu.Unlock()
		t.Close()
		return ErrServerClosed
	}
	s.sessions.Add(1)
	s.mu.Unlock()
	defer s.sessions.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.base, cancel)
	defer stop()

	s.counters.accepted.Add(1)
	s.counters.active.Add(1)
	defer s.counters.active.Add(-1)

	sess := newSession(t, c, s.history, s.Options(), s.logger, &s.counters)
	sess.logger.Debug("connection accepted")
	return sess.Run(ctx)
}

// Shutdown cancels every session and waits for them to finish, up to
// timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}

// Stats returns the current connection counters.
func (s *Server) Stats() Stats {
	return Stats{
		Accepted:      s.counters.accepted.Load(),
		Active:        s.counters.active.Load(),
		Closed:        s.counters.closed.Load(),
		ProtocolDrops: s.counters.protocolDrops.Load(),
		RateLimited:   s.counters.rateLimited.Load(),
	}
}

func isClosedConnError(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
