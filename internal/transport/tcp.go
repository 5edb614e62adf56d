package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// TCPDialer connects to a hosting peer over TCP.
type TCPDialer struct {
	Addr string
}

// Dial implements Dialer.
func (d TCPDialer) Dial(ctx context.Context) (Stream, error) {
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", d.Addr)
	if err != nil {
		return nil, fmt.Errorf("tcp dial %s: %w", d.Addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return WrapConn(conn), nil
}

// TCPAcceptor accepts a joining peer on a TCP listener.
type TCPAcceptor struct {
	ln *net.TCPListener

	mu     sync.Mutex
	closed bool
}

// ListenTCP starts listening on addr. Use ":0" for an ephemeral port.
func ListenTCP(addr string) (*TCPAcceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp listen %s: %w", addr, err)
	}
	return &TCPAcceptor{ln: ln.(*net.TCPListener)}, nil
}

// Addr returns the bound listener address.
func (a *TCPAcceptor) Addr() string {
	return a.ln.Addr().String()
}

// Accept waits for exactly one incoming connection or ctx.
func (a *TCPAcceptor) Accept(ctx context.Context) (Stream, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := a.ln.Accept()
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		return a.finish(r.conn, r.err)
	case <-ctx.Done():
		// Unblock the pending Accept, then release anything it returned.
		_ = a.ln.SetDeadline(time.Now())
		r := <-done
		_ = a.ln.SetDeadline(time.Time{})
		if r.conn != nil {
			_ = r.conn.Close()
		}
		return nil, ctx.Err()
	}
}

func (a *TCPAcceptor) finish(conn net.Conn, err error) (Stream, error) {
	if err != nil {
		a.mu.Lock()
		closed := a.closed
		a.mu.Unlock()
		if closed || errors.Is(err, net.ErrClosed) {
			return nil, ErrAcceptorClosed
		}
		return nil, fmt.Errorf("tcp accept: %w", err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return WrapConn(conn), nil
}

// Close stops listening.
func (a *TCPAcceptor) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return a.ln.Close()
}
