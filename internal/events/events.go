// Package events delivers core.Event values from the link actors to whatever
// presents them. Emit never blocks the caller.
package events

import (
	"context"
	"log/slog"

	"github.com/OCAP2/arrowlink/internal/queue"
	"github.com/OCAP2/arrowlink/pkg/core"
)

// Sink receives events. Implementations must return promptly.
type Sink interface {
	Emit(core.Event)
}

// Func adapts a function to Sink.
type Func func(core.Event)

// Emit calls f(e).
func (f Func) Emit(e core.Event) { f(e) }

// Discard drops every event.
var Discard Sink = Func(func(core.Event) {})

// Fanout emits every event to each sink in order.
type Fanout []Sink

// Emit forwards e to every sink.
func (f Fanout) Emit(e core.Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(e)
		}
	}
}

// LogSink writes each event as a structured log record.
type LogSink struct {
	Logger *slog.Logger
	Level  slog.Level
}

// NewLogSink returns a LogSink at info level.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{Logger: logger, Level: slog.LevelInfo}
}

// Emit logs e with its payload fields.
func (s *LogSink) Emit(e core.Event) {
	s.Logger.LogAttrs(context.Background(), s.Level, "Link event", Attrs(e)...)
}

// Attrs flattens e into log attributes.
func Attrs(e core.Event) []slog.Attr {
	attrs := []slog.Attr{slog.String("event", e.EventName())}
	switch ev := e.(type) {
	case core.OwnPoseChanged:
		attrs = append(attrs, slog.String("pose", ev.Pose.String()))
	case core.PeerPoseChanged:
		attrs = append(attrs, slog.String("pose", ev.Pose.String()))
	case core.BearingChanged:
		attrs = append(attrs, slog.Float64("degrees", ev.Degrees))
	case core.LatencyMeasured:
		attrs = append(attrs, slog.Int64("millis", ev.Millis))
	case core.PeerDisconnected:
		attrs = append(attrs, slog.String("reason", ev.Reason))
	case core.Connected:
		attrs = append(attrs, slog.String("role", ev.Role.String()), slog.String("remote", ev.Remote))
	}
	return attrs
}

// Mailbox is an unbounded FIFO sink with exactly one consumer. Emit only
// enqueues; Pump hands events to the consumer one at a time.
type Mailbox struct {
	q *queue.Queue[core.Event]
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{q: queue.New[core.Event]()}
}

// Emit enqueues e. Events emitted after Close are dropped.
func (m *Mailbox) Emit(e core.Event) {
	m.q.Push(e)
}

// Len returns the number of undelivered events.
func (m *Mailbox) Len() int {
	return m.q.Len()
}

// Close stops delivery and drops anything still queued.
func (m *Mailbox) Close() {
	m.q.Close()
}

// Pump delivers events to fn in arrival order until ctx is done or the
// mailbox is closed. Only one Pump may run at a time.
func (m *Mailbox) Pump(ctx context.Context, fn func(core.Event)) error {
	for {
		for {
			e, ok := m.q.TryPop()
			if !ok {
				break
			}
			fn(e)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		if m.q.Closed() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.q.Ready():
		}
	}
}
