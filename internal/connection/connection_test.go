package connection

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/arrowlink/internal/channel"
	"github.com/OCAP2/arrowlink/internal/protocol"
	"github.com/OCAP2/arrowlink/internal/transport"
	"github.com/OCAP2/arrowlink/pkg/core"
)

type endpoint struct {
	conn    *Connection
	inbound *channel.Buffered[protocol.Message]
	causes  chan error
	calls   atomic.Int32
}

func newEndpoint(t *testing.T, s transport.Stream) *endpoint {
	t.Helper()
	ep := &endpoint{
		inbound: channel.NewBuffered[protocol.Message](16),
		causes:  make(chan error, 4),
	}
	conn, err := New(s, ep.inbound, nil, WithID(t.Name()), WithOnDisconnect(func(err error) {
		ep.calls.Add(1)
		ep.causes <- err
	}))
	require.NoError(t, err)
	ep.conn = conn
	conn.Start()
	t.Cleanup(func() { _ = conn.Close() })
	return ep
}

func receive(t *testing.T, ep *endpoint) protocol.Message {
	t.Helper()
	select {
	case m := <-ep.inbound.Receive():
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for inbound message")
		return nil
	}
}

func waitCause(t *testing.T, ep *endpoint) error {
	t.Helper()
	select {
	case err := <-ep.causes:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for disconnect")
		return nil
	}
}

func TestConnection_DeliversInOrder(t *testing.T) {
	a, b := transport.Pipe()
	left := newEndpoint(t, a)
	right := newEndpoint(t, b)

	for i := int64(0); i < 20; i++ {
		require.NoError(t, left.conn.Send(protocol.TimingPing{Origin: core.RoleHost, SentAtMillis: i}))
	}
	require.NoError(t, left.conn.Send(protocol.PositionUpdate{Pose: core.Pose{X: 4, Found: true}}))

	for i := int64(0); i < 20; i++ {
		m := receive(t, right)
		assert.Equal(t, protocol.TimingPing{Origin: core.RoleHost, SentAtMillis: i}, m)
	}
	assert.Equal(t, protocol.PositionUpdate{Pose: core.Pose{X: 4, Found: true}}, receive(t, right))

	// And the other direction.
	require.NoError(t, right.conn.Send(protocol.TimingPing{Origin: core.RolePeer, SentAtMillis: 99}))
	assert.Equal(t, protocol.TimingPing{Origin: core.RolePeer, SentAtMillis: 99}, receive(t, left))
}

func TestConnection_TransportLossDisconnectsOnce(t *testing.T) {
	a, b := transport.Pipe()
	ep := newEndpoint(t, a)

	// Close the transport underneath the connection.
	require.NoError(t, b.Close())

	err := waitCause(t, ep)
	assert.ErrorIs(t, err, ErrStream)

	select {
	case <-ep.conn.Done():
	case <-time.After(time.Second):
		t.Fatal("actors did not stop")
	}

	assert.ErrorIs(t, ep.conn.Send(protocol.TimingPing{Origin: core.RoleHost}), ErrClosed)

	// Closing afterwards does not report a second disconnect.
	require.NoError(t, ep.conn.Close())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), ep.calls.Load())
}

func TestConnection_DecodeErrorIsFatal(t *testing.T) {
	a, b := transport.Pipe()
	ep := newEndpoint(t, a)

	go func() { _, _ = b.Write([]byte{0x7f}) }()

	err := waitCause(t, ep)
	assert.ErrorIs(t, err, ErrStream)
	assert.ErrorIs(t, err, protocol.ErrUnknownTag)
	_ = b.Close()
}

func TestConnection_PeerCleanClose(t *testing.T) {
	a, b := transport.Pipe()
	left := newEndpoint(t, a)
	right := newEndpoint(t, b)

	require.NoError(t, right.conn.Close())

	err := waitCause(t, left)
	assert.ErrorIs(t, err, ErrStream)
	assert.ErrorIs(t, waitCause(t, right), ErrClosed)
}

func TestConnection_CloseDiscardsQueued(t *testing.T) {
	a, b := transport.Pipe()
	defer b.Close()

	inbound := channel.NewBuffered[protocol.Message](1)
	conn, err := New(a, inbound, nil)
	require.NoError(t, err)

	// Not started: nothing drains the queue.
	for i := 0; i < 5; i++ {
		require.NoError(t, conn.Send(protocol.TimingPing{Origin: core.RolePeer, SentAtMillis: int64(i)}))
	}
	assert.Equal(t, 5, conn.Pending())

	require.NoError(t, conn.Close())
	assert.Equal(t, 0, conn.Pending())
	assert.ErrorIs(t, conn.Err(), ErrClosed)
	assert.ErrorIs(t, conn.Send(protocol.TimingPing{Origin: core.RolePeer}), ErrClosed)
	require.NoError(t, conn.Close())
}
