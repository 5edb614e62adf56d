package linkstats

import (
	"context"
	"time"

	"github.com/OCAP2/arrowlink/internal/events"
	"github.com/OCAP2/arrowlink/pkg/core"
)

// LinkInfo reports the identity of the current link.
type LinkInfo interface {
	SessionID() string
	Role() core.Role
}

// LinkInfoFunc adapts two functions to LinkInfo.
type LinkInfoFunc struct {
	ID      func() string
	RoleFor func() core.Role
}

// SessionID implements LinkInfo.
func (f LinkInfoFunc) SessionID() string { return f.ID() }

// Role implements LinkInfo.
func (f LinkInfoFunc) Role() core.Role { return f.RoleFor() }

// Recorder is an events.Sink that persists latency and link events. Emit only
// enqueues; Run performs the writes.
type Recorder struct {
	store   *Store
	info    LinkInfo
	mailbox *events.Mailbox
	timeout time.Duration
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store *Store, info LinkInfo) *Recorder {
	return &Recorder{
		store:   store,
		info:    info,
		mailbox: events.NewMailbox(),
		timeout: 5 * time.Second,
	}
}

// stamped pins the link identity at emit time.
type stamped struct {
	core.Event
	sessionID string
	role      string
}

// Emit queues e when it is one the store keeps. Poses are dropped here.
func (r *Recorder) Emit(e core.Event) {
	switch e.(type) {
	case core.LatencyMeasured, core.Connected, core.PeerDisconnected:
		r.mailbox.Emit(stamped{Event: e, sessionID: r.info.SessionID(), role: r.info.Role().String()})
	}
}

// Pending returns the number of events not yet written.
func (r *Recorder) Pending() int {
	return r.mailbox.Len()
}

// Run writes queued events until ctx is done.
func (r *Recorder) Run(ctx context.Context) error {
	return r.mailbox.Pump(ctx, func(e core.Event) {
		wctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.write(wctx, e); err != nil {
			r.store.logger.Warn("Link statistics write failed", "event", e.EventName(), "error", err)
		}
	})
}

func (r *Recorder) write(ctx context.Context, e core.Event) error {
	st, ok := e.(stamped)
	if !ok {
		return nil
	}
	id, role := st.sessionID, st.role

	switch ev := st.Event.(type) {
	case core.LatencyMeasured:
		return r.store.RecordLatency(ctx, id, role, ev.Millis, ev.At)
	case core.Connected:
		return r.store.RecordEvent(ctx, id, role, KindConnected, map[string]string{"remote": ev.Remote}, ev.At)
	case core.PeerDisconnected:
		return r.store.RecordEvent(ctx, id, role, KindDisconnected, map[string]string{"reason": ev.Reason}, ev.At)
	}
	return nil
}

var _ events.Sink = (*Recorder)(nil)
