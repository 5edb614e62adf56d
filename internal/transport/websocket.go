package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	ws "github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// wsStream presents a WebSocket as a plain byte stream. Every Write becomes one
// binary message; Read concatenates incoming binary messages, so frame
// boundaries on the socket carry no meaning.
type wsStream struct {
	conn *ws.Conn

	// gorilla allows one concurrent writer; the close frame races the writer actor.
	writeMu sync.Mutex
	reader  io.Reader

	closeOnce sync.Once
	closeErr  error
}

func newWSStream(conn *ws.Conn) *wsStream {
	return &wsStream{conn: conn}
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.reader == nil {
			mt, r, err := s.conn.NextReader()
			if err != nil {
				if ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if mt != ws.BinaryMessage {
				continue
			}
			s.reader = r
		}
		n, err := s.reader.Read(p)
		if errors.Is(err, io.EOF) {
			s.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return 0, err
	}
	if err := s.conn.WriteMessage(ws.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close frame and shuts the socket down.
func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *wsStream) Remote() string {
	return s.conn.RemoteAddr().String()
}

// WebSocketDialer joins a host that serves a WebSocketAcceptor.
type WebSocketDialer struct {
	URL string
}

// Dial implements Dialer.
func (d WebSocketDialer) Dial(ctx context.Context) (Stream, error) {
	conn, _, err := ws.DefaultDialer.DialContext(ctx, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return newWSStream(conn), nil
}

// WebSocketAcceptor upgrades incoming HTTP requests on its path to streams.
// Only requests that arrive while Accept is waiting are upgraded; others are
// turned away so at most one peer attaches per attempt.
type WebSocketAcceptor struct {
	path     string
	upgrader ws.Upgrader
	logger   *slog.Logger

	accepting atomic.Bool
	pending   chan Stream
	done      chan struct{}
	closeOnce sync.Once
}

// NewWebSocketAcceptor creates an acceptor serving path.
func NewWebSocketAcceptor(path string, logger *slog.Logger) *WebSocketAcceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketAcceptor{
		path: path,
		upgrader: ws.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logger,
		pending: make(chan Stream, 1),
		done:    make(chan struct{}),
	}
}

// Register mounts the upgrade handler on r.
func (a *WebSocketAcceptor) Register(r *mux.Router) {
	r.Handle(a.path, a).Methods(http.MethodGet)
}

// ServeHTTP upgrades the request if an Accept is waiting.
func (a *WebSocketAcceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !a.accepting.Load() {
		http.Error(w, "not accepting peers", http.StatusServiceUnavailable)
		return
	}
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("WebSocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	stream := newWSStream(conn)
	select {
	case a.pending <- stream:
	default:
		a.logger.Debug("WebSocket peer rejected, attempt already satisfied", "remote", r.RemoteAddr)
		_ = stream.Close()
	}
}

// Accept waits for one peer to upgrade, or ctx.
func (a *WebSocketAcceptor) Accept(ctx context.Context) (Stream, error) {
	select {
	case <-a.done:
		return nil, ErrAcceptorClosed
	default:
	}

	a.drain()
	a.accepting.Store(true)
	defer a.accepting.Store(false)

	select {
	case s := <-a.pending:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.done:
		return nil, ErrAcceptorClosed
	}
}

// drain releases a stream left over from an abandoned attempt.
func (a *WebSocketAcceptor) drain() {
	select {
	case s := <-a.pending:
		_ = s.Close()
	default:
	}
}

// Close stops accepting.
func (a *WebSocketAcceptor) Close() error {
	a.closeOnce.Do(func() {
		close(a.done)
		a.accepting.Store(false)
		a.drain()
	})
	return nil
}
