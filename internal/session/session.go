// Package session establishes the link to the other device and runs the
// protocol on top of it: pose exchange, latency pings and heading updates.
// A session holds at most one connection at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/OCAP2/arrowlink/internal/channel"
	"github.com/OCAP2/arrowlink/internal/connection"
	"github.com/OCAP2/arrowlink/internal/dispatcher"
	"github.com/OCAP2/arrowlink/internal/geometry"
	"github.com/OCAP2/arrowlink/internal/protocol"
	"github.com/OCAP2/arrowlink/internal/registry"
	"github.com/OCAP2/arrowlink/internal/transport"
	"github.com/OCAP2/arrowlink/pkg/core"
)

var (
	// ErrEstablishFailed wraps every failed Host or Join attempt.
	ErrEstablishFailed = errors.New("link establishment failed")
	// ErrAttemptInFlight is returned when Host or Join is called while
	// another attempt is still running.
	ErrAttemptInFlight = errors.New("establishment attempt in flight")
	// ErrNotConnected is returned by operations that need a live link.
	ErrNotConnected = errors.New("not connected")
	// ErrSessionClosed is returned after Close.
	ErrSessionClosed = errors.New("session closed")
)

const defaultInboundSize = 64

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the wall clock used for ping timestamps and event times.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithInboundSize sets the capacity of the reader-to-dispatcher channel.
func WithInboundSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.inboundSize = n
		}
	}
}

// WithDispatchLogger routes the dispatcher's message logs to l instead of the
// session logger.
func WithDispatchLogger(l dispatcher.Logger) Option {
	return func(s *Session) {
		s.dispLogger = l
	}
}

type linkInfo struct {
	id     string
	remote string
}

// Session is one device's side of the link.
type Session struct {
	reg         *registry.Registry
	logger      *slog.Logger
	now         func() time.Time
	disp        *dispatcher.Dispatcher
	inboundSize int
	dispLogger  dispatcher.Logger

	state      atomic.Uint32
	attempting atomic.Bool
	closed     atomic.Bool
	info       atomic.Pointer[linkInfo]

	mu        sync.Mutex
	conn      *connection.Connection
	cancelRun context.CancelFunc
	runDone   chan struct{}
}

// New creates a disconnected session and installs it in reg.
func New(reg *registry.Registry, logger *slog.Logger, opts ...Option) (*Session, error) {
	if reg == nil {
		return nil, errors.New("session: registry is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		reg:         reg,
		logger:      logger,
		now:         time.Now,
		inboundSize: defaultInboundSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.info.Store(&linkInfo{})

	if s.dispLogger == nil {
		s.dispLogger = logger
	}
	disp, err := dispatcher.New(s.dispLogger)
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}
	disp.Register(protocol.KindPositionUpdate, s.handlePositionUpdate)
	disp.Register(protocol.KindTimingPing, s.handleTimingPing, dispatcher.Logged())
	s.disp = disp

	reg.SetSession(s)
	return s, nil
}

// ID identifies the current link. It is empty until the first establishment.
func (s *Session) ID() string {
	return s.info.Load().id
}

// Remote describes the peer of the current link.
func (s *Session) Remote() string {
	return s.info.Load().remote
}

// State returns the establishment state.
func (s *Session) State() core.LinkState {
	return core.LinkState(s.state.Load())
}

// Role returns the role taken by the last establishment.
func (s *Session) Role() core.Role {
	return s.reg.Role()
}

func (s *Session) setState(st core.LinkState) {
	s.state.Store(uint32(st))
}

// Host waits for the peer to connect through acceptor. ctx bounds the wait.
func (s *Session) Host(ctx context.Context, acceptor transport.Acceptor) error {
	return s.establish(ctx, core.RoleHost, acceptor.Accept)
}

// Join connects to the hosting peer through dialer. ctx bounds the attempt.
func (s *Session) Join(ctx context.Context, dialer transport.Dialer) error {
	return s.establish(ctx, core.RolePeer, dialer.Dial)
}

type attemptResult struct {
	stream transport.Stream
	err    error
}

func (s *Session) establish(ctx context.Context, role core.Role, open func(context.Context) (transport.Stream, error)) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if !s.attempting.CompareAndSwap(false, true) {
		return ErrAttemptInFlight
	}
	defer s.attempting.Store(false)

	s.teardown()
	s.setState(core.StateConnecting)
	s.logger.Info("Establishing link", "role", role.String())

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := make(chan attemptResult, 1)
	go func() {
		st, err := open(attemptCtx)
		result <- attemptResult{stream: st, err: err}
	}()

	var res attemptResult
	select {
	case res = <-result:
	case <-ctx.Done():
		cancel()
		go func() {
			if late := <-result; late.stream != nil {
				_ = late.stream.Close()
			}
		}()
		s.setState(core.StateDisconnected)
		s.logger.Warn("Link establishment timed out", "role", role.String(), "error", ctx.Err())
		return fmt.Errorf("%w: %w", ErrEstablishFailed, ctx.Err())
	}

	if res.err != nil {
		if res.stream != nil {
			_ = res.stream.Close()
		}
		s.setState(core.StateDisconnected)
		s.logger.Warn("Link establishment failed", "role", role.String(), "error", res.err)
		return fmt.Errorf("%w: %w", ErrEstablishFailed, res.err)
	}

	if err := s.attach(role, res.stream); err != nil {
		_ = res.stream.Close()
		s.setState(core.StateDisconnected)
		return fmt.Errorf("%w: %w", ErrEstablishFailed, err)
	}
	return nil
}

// attach wires a fresh stream into a connection and starts the actors.
func (s *Session) attach(role core.Role, stream transport.Stream) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	id := uuid.NewString()
	inbound := channel.New[protocol.Message](s.inboundSize)

	var conn *connection.Connection
	conn, err := connection.New(stream, inbound, s.logger,
		connection.WithID(id),
		connection.WithOnDisconnect(func(cause error) {
			s.handleDisconnect(conn, cause)
		}),
	)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})

	s.mu.Lock()
	s.conn = conn
	s.cancelRun = cancel
	s.runDone = runDone
	s.mu.Unlock()

	s.info.Store(&linkInfo{id: id, remote: stream.Remote()})
	s.reg.SetRole(role)
	s.reg.ResetLink()

	go func() {
		defer close(runDone)
		_ = s.disp.Run(runCtx, inbound)
	}()

	s.setState(core.StateConnected)
	conn.Start()

	s.logger.Info("Link established", "role", role.String(), "remote", stream.Remote(), "session", id)
	s.reg.Emit(core.Connected{At: s.now(), Role: role, Remote: stream.Remote()})

	// Let the peer see our latest pose without waiting for the next sample.
	_ = conn.Send(protocol.PositionUpdate{Pose: s.reg.OwnPose()})
	return nil
}

// handleDisconnect runs once per connection after both actors stopped.
func (s *Session) handleDisconnect(conn *connection.Connection, cause error) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	cancel := s.cancelRun
	s.cancelRun = nil
	s.setState(core.StateDisconnected)
	s.reg.ResetLink()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if errors.Is(cause, connection.ErrClosed) {
		return
	}
	s.logger.Warn("Peer disconnected", "error", cause)
	s.reg.Emit(core.PeerDisconnected{At: s.now(), Reason: cause.Error()})
}

// teardown closes the current connection without reporting a disconnect.
func (s *Session) teardown() {
	s.mu.Lock()
	conn := s.conn
	cancel := s.cancelRun
	runDone := s.runDone
	s.conn = nil
	s.cancelRun = nil
	s.runDone = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
		s.logger.Info("Link closed", "session", s.ID())
	}
	if runDone != nil {
		<-runDone
	}
	s.setState(core.StateDisconnected)
}

func (s *Session) send(m protocol.Message) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Send(m); err != nil {
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return nil
}

// PublishOwnPose records a freshly sampled local pose and forwards it to the
// peer when connected. Not-found poses are forwarded too.
func (s *Session) PublishOwnPose(p core.Pose) {
	s.reg.SetOwnPose(p)
	s.reg.Emit(core.OwnPoseChanged{At: s.now(), Pose: p})
	s.recomputeHeading()

	if s.State() != core.StateConnected {
		return
	}
	if err := s.send(protocol.PositionUpdate{Pose: p}); err != nil {
		s.logger.Debug("Position update not sent", "error", err)
	}
}

// MeasureLatency sends one timing ping stamped with the local clock. The
// result arrives later as a LatencyMeasured event.
func (s *Session) MeasureLatency() error {
	if s.State() != core.StateConnected {
		return ErrNotConnected
	}
	return s.send(protocol.TimingPing{Origin: s.Role(), SentAtMillis: s.now().UnixMilli()})
}

func (s *Session) handlePositionUpdate(m protocol.Message) error {
	update, ok := m.(protocol.PositionUpdate)
	if !ok {
		return fmt.Errorf("unexpected message %T", m)
	}
	s.reg.SetPeerPose(update.Pose)
	s.reg.Emit(core.PeerPoseChanged{At: s.now(), Pose: update.Pose})
	s.recomputeHeading()
	return nil
}

func (s *Session) handleTimingPing(m protocol.Message) error {
	ping, ok := m.(protocol.TimingPing)
	if !ok {
		return fmt.Errorf("unexpected message %T", m)
	}

	if ping.Origin != s.Role() {
		// The other side's ping: hand it back untouched.
		return s.send(ping)
	}

	ms := s.now().UnixMilli() - ping.SentAtMillis
	s.reg.SetLatency(ms)
	s.reg.Emit(core.LatencyMeasured{At: s.now(), Millis: ms})
	return nil
}

func (s *Session) recomputeHeading() {
	heading, ok := geometry.Heading(s.reg.OwnPose(), s.reg.PeerPose())
	if !ok {
		return
	}
	s.reg.SetHeading(heading)
	s.reg.Emit(core.BearingChanged{At: s.now(), Degrees: heading})
}

// Close tears down the link. The session cannot be reused afterwards.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.teardown()
	return nil
}

// WaitState blocks until the session reaches want or ctx is done.
func (s *Session) WaitState(ctx context.Context, want core.LinkState) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for s.State() != want {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
