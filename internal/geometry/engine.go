// Package geometry turns detected marker corners into a device pose and
// computes the bearing between two poses. Everything here is pure: no I/O and
// no state beyond the calibration fixed at construction.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/OCAP2/arrowlink/pkg/core"
)

// ErrDegenerate is returned for corner sets that cannot be measured, such as
// collapsed or zero-area quadrilaterals.
var ErrDegenerate = errors.New("degenerate marker geometry")

// ErrInvalidCalibration is returned by New for unusable calibration values.
var ErrInvalidCalibration = errors.New("invalid calibration")

// Calibration holds the camera and marker constants the engine is built with.
// Lengths are in the unit of MarkerSide (centimetres in the shipped config).
type Calibration struct {
	MarkerSide     float64 // real-world side of the square marker
	ImageWidth     float64 // pixels
	ImageHeight    float64 // pixels
	VerticalFOVDeg float64 // camera angle of view along the image width axis

	// Lens offset correction; the applied offset is (LensOffset / ReferenceHeight) * z.
	LensOffsetX     float64
	LensOffsetY     float64
	ReferenceHeight float64

	// Distance between the lens and the screen centre, removed from the centroid.
	ScreenOffsetX float64
	ScreenOffsetY float64
}

// Validate checks that every divisor in the pipeline is usable.
func (c Calibration) Validate() error {
	switch {
	case c.MarkerSide <= 0:
		return fmt.Errorf("%w: marker side must be positive, got %v", ErrInvalidCalibration, c.MarkerSide)
	case c.ImageWidth <= 0 || c.ImageHeight <= 0:
		return fmt.Errorf("%w: image size must be positive, got %vx%v", ErrInvalidCalibration, c.ImageWidth, c.ImageHeight)
	case c.VerticalFOVDeg <= 0 || c.VerticalFOVDeg >= 180:
		return fmt.Errorf("%w: field of view must be in (0, 180), got %v", ErrInvalidCalibration, c.VerticalFOVDeg)
	case c.ReferenceHeight <= 0:
		return fmt.Errorf("%w: reference height must be positive, got %v", ErrInvalidCalibration, c.ReferenceHeight)
	}
	return nil
}

// Engine computes device poses from marker corners.
type Engine struct {
	cal      Calibration
	tanHalfV float64
}

// New creates an Engine for the given calibration.
func New(cal Calibration) (*Engine, error) {
	if err := cal.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cal:      cal,
		tanHalfV: math.Tan(toRadians(cal.VerticalFOVDeg / 2)),
	}, nil
}

// Calibration returns the constants the engine was built with.
func (e *Engine) Calibration() Calibration {
	return e.cal
}

// Compute returns the pose of the device that observed c. The marker plane is
// assumed perpendicular to the optical axis (pinhole approximation).
func (e *Engine) Compute(c core.MarkerCorners) (core.Pose, error) {
	if Degenerate(c) {
		return core.NotFound(), ErrDegenerate
	}

	scale := e.cal.MarkerSide / MeanSide(c)
	fovX := scale * e.cal.ImageWidth
	z := fovX / (2 * e.tanHalfV)

	// Centroid relative to the image centre, y pointing up.
	center := centroid(c)
	cx := center.X - e.cal.ImageWidth/2
	cy := -(center.Y - e.cal.ImageHeight/2)

	cx -= e.cal.ScreenOffsetX / scale
	cy -= e.cal.ScreenOffsetY / scale

	// Parallax of the lens grows with distance.
	cx += (e.cal.LensOffsetX / e.cal.ReferenceHeight) * z
	cy += (e.cal.LensOffsetY / e.cal.ReferenceHeight) * z

	rotation := Rotation(c)
	sin, cos := math.Sincos(toRadians(rotation))
	rx := cx*cos + cy*sin
	ry := -cx*sin + cy*cos

	return core.Pose{
		X:           -rx * scale,
		Y:           -ry * scale,
		Z:           z,
		RotationDeg: rotation,
		Found:       true,
	}, nil
}

// Rotation returns the in-plane rotation of the marker in [0, 360).
//
// Edges 1→4 and 2→3 are compared against the image x axis, edges 1→2 and 4→3
// against the flipped image y axis. The averaged cosine only yields [0, 180];
// the half is chosen by whether corner 4 sits lower in the image than corner 1.
// That choice depends on the detector's corner ordering and is kept as is.
func Rotation(c core.MarkerCorners) float64 {
	xAxis := vec{1, 0}
	yAxis := vec{0, -1}

	side14 := sub(c[3], c[0])
	side23 := sub(c[2], c[1])
	side12 := sub(c[1], c[0])
	side43 := sub(c[2], c[3])

	cos := (cosBetween(side14, xAxis) +
		cosBetween(side23, xAxis) +
		cosBetween(side12, yAxis) +
		cosBetween(side43, yAxis)) / 4

	angle := toDegrees(math.Acos(clamp(cos, -1, 1)))
	if c[3].Y > c[0].Y {
		angle = 360 - angle
	}
	return core.NormalizeDegrees(angle)
}

// MeanSide returns the average length of the four marker edges in pixels.
func MeanSide(c core.MarkerCorners) float64 {
	var sum float64
	for i := range c {
		sum += dist(c[i], c[(i+1)%len(c)])
	}
	return sum / float64(len(c))
}

func centroid(c core.MarkerCorners) core.Point {
	var p core.Point
	for _, corner := range c {
		p.X += corner.X
		p.Y += corner.Y
	}
	p.X /= float64(len(c))
	p.Y /= float64(len(c))
	return p
}

type vec struct{ x, y float64 }

func sub(a, b core.Point) vec {
	return vec{a.X - b.X, a.Y - b.Y}
}

func (v vec) length() float64 {
	return math.Hypot(v.x, v.y)
}

func cosBetween(a, b vec) float64 {
	la, lb := a.length(), b.length()
	if la == 0 || lb == 0 {
		return 0
	}
	return (a.x*b.x + a.y*b.y) / (la * lb)
}

func dist(a, b core.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
