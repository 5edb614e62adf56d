// pkg/core/events.go
package core

import (
	"time"
)

// Event is a discrete notification delivered to the UI sink.
type Event interface {
	EventName() string
	EventTime() time.Time
}

// OwnPoseChanged is emitted every time the local sampler publishes a pose.
type OwnPoseChanged struct {
	At   time.Time
	Pose Pose
}

// PeerPoseChanged is emitted when a position update arrives from the peer.
type PeerPoseChanged struct {
	At   time.Time
	Pose Pose
}

// BearingChanged carries the indicator heading in degrees, [0, 360).
type BearingChanged struct {
	At      time.Time
	Degrees float64
}

// LatencyMeasured is the round trip of a timing ping this side originated.
type LatencyMeasured struct {
	At     time.Time
	Millis int64
}

// PeerDisconnected is emitted once per lost connection.
type PeerDisconnected struct {
	At     time.Time
	Reason string
}

// Connected is emitted once the link is established.
type Connected struct {
	At     time.Time
	Role   Role
	Remote string
}

func (e OwnPoseChanged) EventName() string   { return "own_pose_changed" }
func (e PeerPoseChanged) EventName() string  { return "peer_pose_changed" }
func (e BearingChanged) EventName() string   { return "bearing_changed" }
func (e LatencyMeasured) EventName() string  { return "latency_measured" }
func (e PeerDisconnected) EventName() string { return "peer_disconnected" }
func (e Connected) EventName() string        { return "connected" }

func (e OwnPoseChanged) EventTime() time.Time   { return e.At }
func (e PeerPoseChanged) EventTime() time.Time  { return e.At }
func (e BearingChanged) EventTime() time.Time   { return e.At }
func (e LatencyMeasured) EventTime() time.Time  { return e.At }
func (e PeerDisconnected) EventTime() time.Time { return e.At }
func (e Connected) EventTime() time.Time        { return e.At }
