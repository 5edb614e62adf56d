// Package transport provides the reliable, ordered byte streams the link runs
// over. The radio technology does not matter to the rest of the module: any
// duplex stream with connect/accept, read, write and close will do.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
)

// ErrAcceptorClosed is returned by Accept after Close.
var ErrAcceptorClosed = errors.New("acceptor closed")

// Stream is an established duplex byte stream.
type Stream interface {
	io.ReadWriteCloser
	// Remote describes the other end, for logs and UI.
	Remote() string
}

// Dialer opens one outgoing stream (the joining side).
type Dialer interface {
	Dial(ctx context.Context) (Stream, error)
}

// Acceptor waits for one incoming stream (the hosting side).
type Acceptor interface {
	Accept(ctx context.Context) (Stream, error)
	Close() error
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Stream, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context) (Stream, error) {
	return f(ctx)
}

// netStream wraps a net.Conn as a Stream.
type netStream struct {
	net.Conn
}

// WrapConn exposes an established net.Conn as a Stream.
func WrapConn(c net.Conn) Stream {
	return netStream{Conn: c}
}

func (s netStream) Remote() string {
	if addr := s.Conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Pipe returns two connected in-memory streams.
func Pipe() (Stream, Stream) {
	a, b := net.Pipe()
	return WrapConn(a), WrapConn(b)
}
