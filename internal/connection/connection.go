// Package connection runs the two actors that own an established stream: a
// reader that decodes frames and hands them to the dispatcher, and a writer
// that drains the outbound queue onto the wire.
package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/OCAP2/arrowlink/internal/channel"
	"github.com/OCAP2/arrowlink/internal/protocol"
	"github.com/OCAP2/arrowlink/internal/queue"
	"github.com/OCAP2/arrowlink/internal/transport"
)

var (
	// ErrClosed is returned by Send once the connection is shut down, and is
	// the recorded cause when the local side closed it.
	ErrClosed = errors.New("connection closed")
	// ErrStream wraps read, write and decode failures. Every one of them is
	// fatal to the connection.
	ErrStream = errors.New("stream failure")
	// ErrPeerClosed is the cause when the peer ended the stream cleanly.
	ErrPeerClosed = errors.New("peer closed the stream")
)

// Option configures a Connection.
type Option func(*Connection)

// WithOnDisconnect registers fn to run exactly once, after both actors have
// stopped, with the cause of the shutdown.
func WithOnDisconnect(fn func(error)) Option {
	return func(c *Connection) {
		c.onDisconnect = fn
	}
}

// WithID tags log records and metrics with id.
func WithID(id string) Option {
	return func(c *Connection) {
		c.id = id
	}
}

// Connection owns one stream and its reader and writer actors.
type Connection struct {
	id       string
	stream   transport.Stream
	inbound  channel.Sender[protocol.Message]
	outbound *queue.Queue[protocol.Message]
	logger   *slog.Logger

	onDisconnect func(error)

	stop      chan struct{} // closed on shutdown, before the stream is closed
	done      chan struct{} // closed once both actors returned
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu  sync.Mutex
	err error

	sent     metric.Int64Counter
	received metric.Int64Counter
	dropped  metric.Int64Counter
}

// New wraps stream. Decoded frames are delivered to inbound. Call Start to
// launch the actors.
func New(stream transport.Stream, inbound channel.Sender[protocol.Message], logger *slog.Logger, opts ...Option) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{
		stream:   stream,
		inbound:  inbound,
		outbound: queue.New[protocol.Message](),
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.id != "" {
		c.logger = c.logger.With("connection", c.id)
	}

	m := meter()
	var err error
	c.sent, err = m.Int64Counter("connection.frames.sent",
		metric.WithDescription("Frames written to the peer"))
	if err != nil {
		return nil, fmt.Errorf("creating sent counter: %w", err)
	}
	c.received, err = m.Int64Counter("connection.frames.received",
		metric.WithDescription("Frames decoded from the peer"))
	if err != nil {
		return nil, fmt.Errorf("creating received counter: %w", err)
	}
	c.dropped, err = m.Int64Counter("connection.frames.discarded",
		metric.WithDescription("Outbound frames discarded on shutdown"))
	if err != nil {
		return nil, fmt.Errorf("creating discarded counter: %w", err)
	}
	return c, nil
}

// Start launches the reader and writer. Calling it more than once has no effect.
func (c *Connection) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(2)
		go c.readLoop()
		go c.writeLoop()
		go func() {
			c.wg.Wait()
			close(c.done)
			if c.onDisconnect != nil {
				c.onDisconnect(c.Err())
			}
		}()
	})
}

// Send queues m for the writer and returns immediately.
func (c *Connection) Send(m protocol.Message) error {
	if !c.outbound.Push(m) {
		return ErrClosed
	}
	return nil
}

// Pending returns the number of queued outbound messages.
func (c *Connection) Pending() int {
	return c.outbound.Len()
}

// Close stops both actors, releases the stream and discards queued sends.
// It waits for the actors to exit and is safe to call more than once.
func (c *Connection) Close() error {
	c.shutdown(ErrClosed)
	c.startOnce.Do(func() { close(c.done) })
	<-c.done
	return nil
}

// Done is closed once both actors have stopped.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err returns the cause of the shutdown, or nil while running.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Remote describes the peer end of the stream.
func (c *Connection) Remote() string {
	return c.stream.Remote()
}

// shutdown records cause (first one wins) and tears the connection down.
func (c *Connection) shutdown(cause error) {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.err = cause
		c.mu.Unlock()

		close(c.stop)
		if n := c.outbound.Close(); n > 0 {
			c.dropped.Add(context.Background(), int64(n), c.attrs())
			c.logger.Debug("Discarded queued frames", "count", n)
		}
		if err := c.stream.Close(); err != nil {
			c.logger.Debug("Stream close error", "error", err)
		}
	})
}

// readLoop decodes frames until the stream fails or the connection stops.
func (c *Connection) readLoop() {
	defer c.wg.Done()

	dec := protocol.NewDecoder(c.stream)
	for {
		msg, err := dec.Decode()
		if err != nil {
			select {
			case <-c.stop:
				return
			default:
			}
			if errors.Is(err, io.EOF) {
				err = ErrPeerClosed
			}
			c.logger.Warn("Link read error", "error", err)
			c.shutdown(fmt.Errorf("%w: read: %w", ErrStream, err))
			return
		}

		c.received.Add(context.Background(), 1, c.attrs(attribute.String("kind", msg.Kind().String())))
		if !c.inbound.SendUntil(msg, c.stop) {
			return
		}
	}
}

// writeLoop drains the outbound queue in FIFO order.
func (c *Connection) writeLoop() {
	defer c.wg.Done()

	enc := protocol.NewEncoder(c.stream)
	for {
		select {
		case <-c.stop:
			return
		case <-c.outbound.Ready():
		}

		for {
			select {
			case <-c.stop:
				return
			default:
			}

			msg, ok := c.outbound.TryPop()
			if !ok {
				break
			}
			if err := enc.Encode(msg); err != nil {
				select {
				case <-c.stop:
					return
				default:
				}
				c.logger.Warn("Link write error", "error", err)
				c.shutdown(fmt.Errorf("%w: write: %w", ErrStream, err))
				return
			}
			c.sent.Add(context.Background(), 1, c.attrs(attribute.String("kind", msg.Kind().String())))
		}
	}
}

func (c *Connection) attrs(extra ...attribute.KeyValue) metric.MeasurementOption {
	if c.id != "" {
		extra = append(extra, attribute.String("connection", c.id))
	}
	return metric.WithAttributes(extra...)
}
