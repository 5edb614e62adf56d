// Package protocol implements the binary frame format exchanged between the
// two peers. A frame is a one-byte tag followed by a payload whose size is
// fixed by the tag, so the stream needs no length prefix or delimiter.
package protocol

import (
	"fmt"

	"github.com/OCAP2/arrowlink/pkg/core"
)

// Kind is the frame tag.
type Kind uint8

const (
	KindPositionUpdate Kind = 0x00
	KindTimingPing     Kind = 0x01
)

// Payload sizes per tag, excluding the tag byte.
const (
	positionPayloadSize = 4*8 + 1
	pingPayloadSize     = 1 + 8
)

func (k Kind) String() string {
	switch k {
	case KindPositionUpdate:
		return "position_update"
	case KindTimingPing:
		return "timing_ping"
	default:
		return fmt.Sprintf("kind(0x%02x)", uint8(k))
	}
}

// payloadSize returns the fixed payload length for k, or false if k is unknown.
func (k Kind) payloadSize() (int, bool) {
	switch k {
	case KindPositionUpdate:
		return positionPayloadSize, true
	case KindTimingPing:
		return pingPayloadSize, true
	default:
		return 0, false
	}
}

// Message is one decoded frame.
type Message interface {
	Kind() Kind
}

// PositionUpdate carries the sender's latest pose.
type PositionUpdate struct {
	Pose core.Pose
}

// TimingPing measures the link round trip. The side whose role matches
// Origin started it; the other side echoes it back unchanged.
type TimingPing struct {
	Origin       core.Role
	SentAtMillis int64
}

func (PositionUpdate) Kind() Kind { return KindPositionUpdate }
func (TimingPing) Kind() Kind     { return KindTimingPing }
