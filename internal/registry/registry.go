// Package registry is the shared context object for one running device: role,
// active session, latest poses, sampler and UI sink. Every field is replaced
// atomically, so readers always observe a fully formed value and no operation
// holds a lock across components.
package registry

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/OCAP2/arrowlink/internal/events"
	"github.com/OCAP2/arrowlink/internal/sampler"
	"github.com/OCAP2/arrowlink/pkg/core"
)

// Session is the view of the active link the registry exposes.
type Session interface {
	ID() string
	State() core.LinkState
	Remote() string
	MeasureLatency() error
}

// StatsSource reports sampler counters.
type StatsSource interface {
	Stats() sampler.Stats
}

// Snapshot is a consistent-per-field copy of the registry.
type Snapshot struct {
	At            time.Time      `json:"at"`
	Role          string         `json:"role"`
	SessionID     string         `json:"sessionId,omitempty"`
	State         string         `json:"state"`
	Remote        string         `json:"remote,omitempty"`
	OwnPose       core.Pose      `json:"ownPose"`
	PeerPose      core.Pose      `json:"peerPose"`
	Heading       *float64       `json:"heading,omitempty"`
	LatencyMillis *int64         `json:"latencyMillis,omitempty"`
	Sampler       *sampler.Stats `json:"sampler,omitempty"`
}

type sessionBox struct{ s Session }
type samplerBox struct{ s StatsSource }
type sinkBox struct{ s events.Sink }

// Registry holds the current device state.
type Registry struct {
	role     atomic.Uint32
	session  atomic.Pointer[sessionBox]
	ownPose  atomic.Pointer[core.Pose]
	peerPose atomic.Pointer[core.Pose]
	heading  atomic.Pointer[float64]
	latency  atomic.Pointer[int64]
	sampler  atomic.Pointer[samplerBox]
	sink     atomic.Pointer[sinkBox]
}

// New creates a registry for the given role with both poses not found and a
// sink that discards.
func New(role core.Role) *Registry {
	r := &Registry{}
	r.SetRole(role)
	nf := core.NotFound()
	r.ownPose.Store(&nf)
	peer := core.NotFound()
	r.peerPose.Store(&peer)
	r.sink.Store(&sinkBox{s: events.Discard})
	return r
}

// Role returns the device role.
func (r *Registry) Role() core.Role {
	return core.Role(r.role.Load())
}

// SetRole replaces the device role.
func (r *Registry) SetRole(role core.Role) {
	r.role.Store(uint32(role))
}

// Session returns the active session, or nil.
func (r *Registry) Session() Session {
	if b := r.session.Load(); b != nil {
		return b.s
	}
	return nil
}

// SetSession replaces the active session. nil clears it.
func (r *Registry) SetSession(s Session) {
	if s == nil {
		r.session.Store(nil)
		return
	}
	r.session.Store(&sessionBox{s: s})
}

// OwnPose returns the latest local pose.
func (r *Registry) OwnPose() core.Pose {
	return *r.ownPose.Load()
}

// SetOwnPose replaces the local pose.
func (r *Registry) SetOwnPose(p core.Pose) {
	r.ownPose.Store(&p)
}

// PeerPose returns the latest pose received from the peer.
func (r *Registry) PeerPose() core.Pose {
	return *r.peerPose.Load()
}

// SetPeerPose replaces the peer pose.
func (r *Registry) SetPeerPose(p core.Pose) {
	r.peerPose.Store(&p)
}

// Heading returns the last indicator heading and whether one was computed.
func (r *Registry) Heading() (float64, bool) {
	if h := r.heading.Load(); h != nil {
		return *h, true
	}
	return 0, false
}

// SetHeading records the indicator heading.
func (r *Registry) SetHeading(deg float64) {
	r.heading.Store(&deg)
}

// ClearHeading forgets the heading, e.g. once either marker is lost.
func (r *Registry) ClearHeading() {
	r.heading.Store(nil)
}

// Latency returns the last measured round trip in milliseconds.
func (r *Registry) Latency() (int64, bool) {
	if l := r.latency.Load(); l != nil {
		return *l, true
	}
	return 0, false
}

// SetLatency records a round trip measurement.
func (r *Registry) SetLatency(ms int64) {
	r.latency.Store(&ms)
}

// Sampler returns the sampler handle, or nil.
func (r *Registry) Sampler() StatsSource {
	if b := r.sampler.Load(); b != nil {
		return b.s
	}
	return nil
}

// SetSampler replaces the sampler handle.
func (r *Registry) SetSampler(s StatsSource) {
	if s == nil {
		r.sampler.Store(nil)
		return
	}
	r.sampler.Store(&samplerBox{s: s})
}

// Sink returns the UI sink. It is never nil.
func (r *Registry) Sink() events.Sink {
	return r.sink.Load().s
}

// SetSink replaces the UI sink. nil installs a discarding sink.
func (r *Registry) SetSink(s events.Sink) {
	if s == nil {
		s = events.Discard
	}
	r.sink.Store(&sinkBox{s: s})
}

// Emit forwards e to the current sink.
func (r *Registry) Emit(e core.Event) {
	r.Sink().Emit(e)
}

// ResetLink clears per-link state after a disconnect.
func (r *Registry) ResetLink() {
	peer := core.NotFound()
	r.peerPose.Store(&peer)
	r.ClearHeading()
}

// Snapshot copies every field.
func (r *Registry) Snapshot() Snapshot {
	snap := Snapshot{
		At:       time.Now().UTC(),
		Role:     r.Role().String(),
		State:    core.StateDisconnected.String(),
		OwnPose:  r.OwnPose(),
		PeerPose: r.PeerPose(),
	}
	if s := r.Session(); s != nil {
		snap.SessionID = s.ID()
		snap.State = s.State().String()
		snap.Remote = s.Remote()
	}
	if h, ok := r.Heading(); ok {
		snap.Heading = &h
	}
	if l, ok := r.Latency(); ok {
		snap.LatencyMillis = &l
	}
	if src := r.Sampler(); src != nil {
		st := src.Stats()
		snap.Sampler = &st
	}
	return snap
}

// LogAttrs returns the link attributes injected into every log record.
func (r *Registry) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{slog.String("role", r.Role().String())}
	if s := r.Session(); s != nil {
		attrs = append(attrs,
			slog.String("session", s.ID()),
			slog.String("link", s.State().String()),
		)
	}
	return attrs
}

// SessionID returns the id of the current link, or "".
func (r *Registry) SessionID() string {
	if s := r.Session(); s != nil {
		return s.ID()
	}
	return ""
}
