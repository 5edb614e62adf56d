package geometry

import (
	"testing"

	"github.com/OCAP2/arrowlink/pkg/core"
	"github.com/stretchr/testify/assert"
)

func found(x, y, rot float64) core.Pose {
	return core.Pose{X: x, Y: y, RotationDeg: rot, Found: true}
}

func TestBearing_Example(t *testing.T) {
	own := found(0, 0, 0)
	peer := found(10, 0, 0)

	bearing, ok := Bearing(own, peer)
	assert.True(t, ok)
	assert.InDelta(t, 180, bearing, 1e-9)

	heading, ok := Heading(own, peer)
	assert.True(t, ok)
	assert.InDelta(t, 0, heading, 1e-9)
}

func TestBearing_NormalizesNegative(t *testing.T) {
	bearing, ok := Bearing(found(0, 0, 0), found(0, 10, 0))
	assert.True(t, ok)
	assert.InDelta(t, 270, bearing, 1e-9)
}

func TestHeading_AddsOwnRotation(t *testing.T) {
	heading, ok := Heading(found(0, 0, 90), found(-10, 0, 0))
	assert.True(t, ok)
	// bearing 0 + 180 + 90
	assert.InDelta(t, 270, heading, 1e-9)
}

func TestBearing_RequiresBothFound(t *testing.T) {
	_, ok := Bearing(core.NotFound(), found(1, 1, 0))
	assert.False(t, ok)
	_, ok = Bearing(found(1, 1, 0), core.NotFound())
	assert.False(t, ok)
	_, ok = Heading(core.NotFound(), core.NotFound())
	assert.False(t, ok)
}
