// pkg/core/pose.go
package core

import (
	"fmt"
	"math"
)

// Point is a pixel coordinate in the camera image. Y grows downward.
type Point struct {
	X float64
	Y float64
}

// MarkerCorners holds the four detected marker corners, ordered clockwise and
// starting at the corner nearest the marker's inner white square.
type MarkerCorners [4]Point

// Pose is the position and in-plane rotation of a device relative to the marker.
// When Found is false the remaining fields carry no meaning.
type Pose struct {
	X           float64
	Y           float64
	Z           float64
	RotationDeg float64
	Found       bool
}

// NotFound returns the pose reported when no marker was detected.
func NotFound() Pose {
	return Pose{}
}

// Equal compares two poses. Two not-found poses are always equal.
func (p Pose) Equal(o Pose) bool {
	if !p.Found || !o.Found {
		return p.Found == o.Found
	}
	return p.X == o.X && p.Y == o.Y && p.Z == o.Z && p.RotationDeg == o.RotationDeg
}

func (p Pose) String() string {
	if !p.Found {
		return "not found"
	}
	return fmt.Sprintf("(%.2f, %.2f, %.2f) %.1f°", p.X, p.Y, p.Z, p.RotationDeg)
}

// NormalizeDegrees maps any angle into [0, 360).
func NormalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}
