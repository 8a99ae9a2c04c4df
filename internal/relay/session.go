package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Tyrowin/gochat-relay/internal/codec"
	"github.com/Tyrowin/gochat-relay/internal/event"
	"github.com/Tyrowin/gochat-relay/internal/history"
	"github.com/Tyrowin/gochat-relay/internal/hub"
)

// AnonymousUser is the identity given to a client that sends an empty
// username.
const AnonymousUser = "anonymous"

// MaxUsernameSize bounds the handshake record.
const MaxUsernameSize = 1024

var (
	errUsernameTooLong  = errors.New("username too long")
	errHubClosed        = errors.New("hub closed")
	errSessionCancelled = errors.New("session cancelled")
)

// Session drives one client connection through its lifecycle: read the
// username, replay history, then relay events in both directions until
// either side stops.
type Session struct {
	id        uuid.UUID
	transport Transport
	codec     codec.Codec
	history   *history.Buffer
	opts      Options
	logger    *slog.Logger
	limiter   *rateLimiter
	counters  *counters

	state atomic.Int32
	user  string

	stopOnce sync.Once
	cause    error
}

// NewSession binds a transport and codec to the shared history buffer.
func NewSession(t Transport, c codec.Codec, buf *history.Buffer, opts Options, logger *slog.Logger) *Session {
	return newSession(t, c, buf, opts, logger, &counters{})
}

func newSession(t Transport, c codec.Codec, buf *history.Buffer, opts Options, logger *slog.Logger, ctr *counters) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New()
	return &Session{
		id:        id,
		transport: t,
		codec:     c,
		history:   buf,
		opts:      opts,
		logger:    logger.With("session", id.String(), "remote", t.RemoteAddr(), "codec", c.Name()),
		limiter:   newRateLimiter(opts.RateLimit),
		counters:  ctr,
	}
}

// ID returns the session identifier used in logs.
func (s *Session) ID() uuid.UUID { return s.id }

// User returns the username once the handshake has completed.
func (s *Session) User() string { return s.user }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.logger.Debug("session state", "state", st.String())
}

// Run blocks until the connection ends or ctx is cancelled. The transport is
// always closed on return. The returned error is the first cause that stopped
// the session, or nil on a clean cancellation.
func (s *Session) Run(ctx context.Context) error {
	s.setState(StateAwaitingUsername)
	stopWatch := context.AfterFunc(ctx, s.transport.Interrupt)
	user, err := s.handshake()
	stopWatch()
	if err == nil && ctx.Err() != nil {
		err = errSessionCancelled
	}
	if err != nil {
		s.logger.Info("handshake failed", "err", err)
		s.finish(nil)
		return err
	}
	s.user = user
	s.logger = s.logger.With("user", user)

	snapshot, sub := s.history.SnapshotAndSubscribe()
	s.setState(StateActive)
	if err := s.replay(snapshot); err != nil {
		s.logger.Info("replay failed", "err", err)
		s.finish(sub)
		return err
	}
	s.history.Publish(event.Joined{UserID: user})
	s.logger.Info("user joined", "replayed", len(snapshot))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.stop(cancel, s.readLoop(ctx))
	}()
	go func() {
		defer wg.Done()
		s.stop(cancel, s.writeLoop(ctx, sub))
	}()

	<-ctx.Done()
	s.stop(cancel, errSessionCancelled)
	s.transport.Interrupt()
	wg.Wait()

	// Left follows every chat the reader managed to publish.
	s.history.Publish(event.Left{UserID: s.user})
	s.finish(sub)
	if errors.Is(s.cause, errSessionCancelled) {
		return nil
	}
	return s.cause
}

// handshake reads the first record and resolves it to a username.
func (s *Session) handshake() (string, error) {
	rec, err := s.transport.ReadRecord(s.opts.HandshakeTimeout)
	if err != nil {
		return "", classifyRead(err)
	}
	if len(rec) > MaxUsernameSize {
		return "", protocolError("handshake", errUsernameTooLong)
	}
	name, err := s.codec.DecodeUsername(rec)
	if err != nil {
		return "", protocolError("handshake", err)
	}
	if name == "" {
		name = AnonymousUser
	}
	return name, nil
}

// replay writes the history snapshot oldest first, skipping the user's own
// events.
func (s *Session) replay(snapshot []event.Event) error {
	for _, ev := range snapshot {
		if event.FromSelf(ev, s.user) {
			continue
		}
		if err := s.send(ev); err != nil {
			return err
		}
	}
	return nil
}

// stop records the first cause and cancels the session. Only the first call
// has any effect.
func (s *Session) stop(cancel context.CancelFunc, cause error) {
	s.stopOnce.Do(func() {
		s.cause = cause
		s.setState(StateDisconnecting)
		s.logStop(cause)
		cancel()
	})
}

func (s *Session) logStop(cause error) {
	switch {
	case errors.Is(cause, errSessionCancelled), errors.Is(cause, context.Canceled):
		s.logger.Info("session cancelled")
	case errors.Is(cause, io.EOF):
		s.logger.Info("client disconnected")
	case errors.Is(cause, errHubClosed):
		s.logger.Info("hub closed")
	default:
		s.logger.Info("connection error", "err", cause)
	}
}

// finish releases the subscription and the transport.
func (s *Session) finish(sub *hub.Subscription) {
	if sub != nil {
		sub.Close()
	}
	if err := s.transport.Close(); err != nil && !isClosedConnError(err) {
		s.logger.Debug("close transport", "err", err)
	}
	s.setState(StateClosed)
	s.counters.closed.Add(1)
}

// readLoop turns inbound records into chat events. A record that was read is
// always handled, even if the session is stopping. Protocol errors drop the
// record; anything else ends the loop.
func (s *Session) readLoop(ctx context.Context) error {
	for {
		rec, err := s.transport.ReadRecord(s.opts.IdleTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return errSessionCancelled
			}
			err = classifyRead(err)
			if IsProtocolError(err) {
				s.dropRecord(err)
				continue
			}
			return err
		}
		s.handleRecord(rec)
	}
}

// handleRecord decodes, rate limits and publishes one chat record.
func (s *Session) handleRecord(rec []byte) {
	content, err := s.codec.DecodeChat(rec)
	if err != nil {
		s.dropRecord(protocolError("decode", err))
		return
	}
	if !s.limiter.allow() {
		s.counters.rateLimited.Add(1)
		s.logger.Warn("rate limit exceeded; discarding message",
			"burst", s.opts.RateLimit.Burst, "interval", s.opts.RateLimit.RefillInterval)
		return
	}
	s.history.Publish(event.NewChat(s.user, content))
}

func (s *Session) dropRecord(err error) {
	s.counters.protocolDrops.Add(1)
	s.logger.Debug("dropping record", "err", err)
}

// writeLoop forwards hub events to the client, skipping the user's own.
func (s *Session) writeLoop(ctx context.Context, sub *hub.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return errSessionCancelled
		case ev, ok := <-sub.Events():
			if !ok {
				return errHubClosed
			}
			if event.FromSelf(ev, s.user) {
				continue
			}
			if err := s.send(ev); err != nil {
				return err
			}
		}
	}
}

// send encodes and writes one event.
func (s *Session) send(ev event.Event) error {
	rec, err := s.codec.Encode(ev)
	if err != nil {
		s.logger.Error("encode event", "event", event.Describe(ev), "err", err)
		return nil
	}
	if err := s.transport.WriteRecord(rec, s.opts.WriteTimeout); err != nil {
		return connectionError("write", err)
	}
	return nil
}
