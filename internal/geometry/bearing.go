package geometry

import (
	"math"

	"github.com/OCAP2/arrowlink/pkg/core"
)

// Bearing returns the angle from the peer to the local device in degrees,
// normalised to [0, 360). ok is false unless both poses were found.
func Bearing(own, peer core.Pose) (deg float64, ok bool) {
	if !own.Found || !peer.Found {
		return 0, false
	}
	deg = toDegrees(math.Atan2(own.Y-peer.Y, own.X-peer.X))
	if deg < 0 {
		deg += 360
	}
	return deg, true
}

// Heading returns the direction the local indicator must point to face the
// peer, compensated for the device's own rotation.
func Heading(own, peer core.Pose) (deg float64, ok bool) {
	bearing, ok := Bearing(own, peer)
	if !ok {
		return 0, false
	}
	return core.NormalizeDegrees(bearing + 180 + own.RotationDeg), true
}
