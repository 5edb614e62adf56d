package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/OCAP2/arrowlink/internal/channel"
	"github.com/OCAP2/arrowlink/internal/protocol"
	"github.com/OCAP2/arrowlink/pkg/core"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("DEBUG: %s %v", msg, keysAndValues))
}

func (l *testLogger) Info(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("INFO: %s %v", msg, keysAndValues))
}

func (l *testLogger) Error(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("ERROR: %s %v", msg, keysAndValues))
}

func (l *testLogger) count(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, msg := range l.messages {
		if len(msg) >= len(prefix) && msg[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	logger := &testLogger{}

	d, err := New(logger)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}

	return d, logger
}

func ping(at int64) protocol.TimingPing {
	return protocol.TimingPing{Origin: core.RoleHost, SentAtMillis: at}
}

func TestDispatcher_SyncHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got protocol.Message
	d.Register(protocol.KindTimingPing, func(m protocol.Message) error {
		got = m
		return nil
	})

	if err := d.Dispatch(ping(7)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if got != ping(7) {
		t.Errorf("handler saw %v", got)
	}
}

func TestDispatcher_UnknownKind(t *testing.T) {
	d, _ := newTestDispatcher(t)

	err := d.Dispatch(protocol.PositionUpdate{})

	if !errors.Is(err, ErrUnhandled) {
		t.Errorf("expected ErrUnhandled, got %v", err)
	}
}

func TestDispatcher_LoggedHandler(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(protocol.KindTimingPing, func(protocol.Message) error { return nil }, Logged())
	_ = d.Dispatch(ping(1))

	if n := logger.count("DEBUG"); n < 2 {
		t.Errorf("expected at least 2 debug messages, got %d", n)
	}
}

func TestDispatcher_LoggedHandlerError(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(protocol.KindTimingPing, func(protocol.Message) error {
		return fmt.Errorf("test error")
	}, Logged())

	if err := d.Dispatch(ping(1)); err == nil {
		t.Error("expected handler error to be returned")
	}
	if logger.count("ERROR") == 0 {
		t.Error("expected error log message")
	}
}

func TestDispatcher_RunPreservesOrder(t *testing.T) {
	d, _ := newTestDispatcher(t)
	in := channel.NewBuffered[protocol.Message](64)

	var (
		mu       sync.Mutex
		seen     []int64
		inFlight int
		overlap  bool
	)
	done := make(chan struct{})
	d.Register(protocol.KindTimingPing, func(m protocol.Message) error {
		mu.Lock()
		inFlight++
		if inFlight > 1 {
			overlap = true
		}
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		inFlight--
		seen = append(seen, m.(protocol.TimingPing).SentAtMillis)
		if len(seen) == 50 {
			close(done)
		}
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx, in) }()

	for i := int64(0); i < 50; i++ {
		in.Send(ping(i))
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for dispatch")
	}

	mu.Lock()
	for i, v := range seen {
		if v != int64(i) {
			t.Fatalf("message %d out of order: %d", i, v)
		}
	}
	if overlap {
		t.Error("handlers ran concurrently")
	}
	mu.Unlock()

	cancel()
	if err := <-runErr; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDispatcher_RunSurvivesErrors(t *testing.T) {
	d, logger := newTestDispatcher(t)
	in := channel.NewBuffered[protocol.Message](4)

	handled := make(chan struct{}, 1)
	d.Register(protocol.KindTimingPing, func(protocol.Message) error {
		handled <- struct{}{}
		return nil
	})

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(context.Background(), in) }()

	in.Send(protocol.PositionUpdate{}) // no handler
	in.Send(ping(3))

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not reached after unhandled message")
	}

	in.Close()
	if err := <-runErr; err != nil {
		t.Errorf("expected nil on closed channel, got %v", err)
	}
	if logger.count("ERROR") != 1 {
		t.Errorf("expected one error log for the unhandled message")
	}
}
