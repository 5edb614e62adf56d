// Package dispatcher routes inbound link messages to handlers registered per
// message kind. A single consumer drains the inbound channel so handlers never
// run concurrently with each other and always see messages in arrival order.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/OCAP2/arrowlink/internal/channel"
	"github.com/OCAP2/arrowlink/internal/protocol"
)

// ErrUnhandled is returned by Dispatch when no handler is registered for the
// message kind.
var ErrUnhandled = errors.New("no handler registered")

// HandlerFunc processes one inbound message.
type HandlerFunc func(protocol.Message) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	logged bool
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Dispatcher routes messages to registered handlers.
type Dispatcher struct {
	handlers map[protocol.Kind]HandlerFunc
	logger   Logger

	// OTEL metrics
	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	unhandled metric.Int64Counter
	failed    metric.Int64Counter

	// Source observed by the queue gauge while Run is active.
	mu     sync.RWMutex
	source channel.Receiver[protocol.Message]
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[protocol.Kind]HandlerFunc),
		logger:   logger,
	}

	m := meter()

	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Current number of inbound messages waiting for dispatch"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			d.mu.RLock()
			defer d.mu.RUnlock()
			if d.source != nil {
				o.ObserveInt64(d.queueSize, int64(d.source.Len()))
			}
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.processed, err = m.Int64Counter(
		"dispatcher.messages.processed",
		metric.WithDescription("Total messages handled"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.unhandled, err = m.Int64Counter(
		"dispatcher.messages.unhandled",
		metric.WithDescription("Total messages with no registered handler"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating unhandled counter: %w", err)
	}

	d.failed, err = m.Int64Counter(
		"dispatcher.messages.failed",
		metric.WithDescription("Total messages whose handler returned an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given kind with optional configuration.
// Register before Run; the handler table is not guarded.
func (d *Dispatcher) Register(kind protocol.Kind, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h

	if cfg.logged {
		handler = d.withLogging(kind, handler)
	}

	d.handlers[kind] = handler
}

// Dispatch routes a message to its registered handler on the calling goroutine.
func (d *Dispatcher) Dispatch(m protocol.Message) error {
	kindAttr := metric.WithAttributes(attribute.String("kind", m.Kind().String()))

	h, ok := d.handlers[m.Kind()]
	if !ok {
		d.unhandled.Add(context.Background(), 1, kindAttr)
		return fmt.Errorf("%w: %s", ErrUnhandled, m.Kind())
	}

	err := h(m)
	d.processed.Add(context.Background(), 1, kindAttr)
	if err != nil {
		d.failed.Add(context.Background(), 1, kindAttr)
	}
	return err
}

// Run consumes in until ctx is cancelled or in is closed, dispatching one
// message at a time. Handler errors are logged and do not stop the loop.
func (d *Dispatcher) Run(ctx context.Context, in channel.Receiver[protocol.Message]) error {
	d.mu.Lock()
	d.source = in
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.source = nil
		d.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-in.Receive():
			if !ok {
				return nil
			}
			if err := d.Dispatch(m); err != nil {
				d.logger.Error("dispatch failed", "kind", m.Kind().String(), "error", err)
			}
		}
	}
}

func (d *Dispatcher) withLogging(kind protocol.Kind, h HandlerFunc) HandlerFunc {
	return func(m protocol.Message) error {
		start := time.Now()
		d.logger.Debug("handling message", "kind", kind.String())

		err := h(m)

		if err != nil {
			d.logger.Error("message failed", "kind", kind.String(), "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("message complete", "kind", kind.String(), "duration", time.Since(start))
		}

		return err
	}
}
