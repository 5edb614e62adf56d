package vision

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/OCAP2/arrowlink/internal/geometry"
	"github.com/OCAP2/arrowlink/pkg/core"
)

// Synthetic renders the corners a camera would see for a device held at a
// known pose above the marker. It is the exact inverse of geometry.Engine for a
// marker plane perpendicular to the optical axis, which makes it usable both as
// a demo backend and as a test fixture.
type Synthetic struct {
	cal geometry.Calibration

	mu      sync.Mutex
	pose    core.Pose
	drift   Drift
	started time.Time
	now     func() time.Time
}

// Drift moves the synthetic device along a circle so the demo has motion.
type Drift struct {
	Radius    float64       // in marker units
	Period    time.Duration // time for one full circle
	SpinDegPS float64       // rotation change per second
}

// NewSynthetic creates a backend for cal, initially seeing the device at pose.
func NewSynthetic(cal geometry.Calibration, pose core.Pose) *Synthetic {
	return &Synthetic{
		cal:     cal,
		pose:    pose,
		started: time.Now(),
		now:     time.Now,
	}
}

// SetPose replaces the pose the backend renders.
func (s *Synthetic) SetPose(p core.Pose) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pose = p
}

// SetDrift enables circular motion around the current pose.
func (s *Synthetic) SetDrift(d Drift) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drift = d
	s.started = s.now()
}

// Capture implements Detector.
func (s *Synthetic) Capture(ctx context.Context) (core.MarkerCorners, bool, error) {
	if err := ctx.Err(); err != nil {
		return core.MarkerCorners{}, false, err
	}

	s.mu.Lock()
	pose := s.pose
	drift := s.drift
	elapsed := s.now().Sub(s.started)
	s.mu.Unlock()

	if !pose.Found {
		return core.MarkerCorners{}, false, nil
	}
	if drift.Period > 0 {
		phase := 2 * math.Pi * elapsed.Seconds() / drift.Period.Seconds()
		pose.X += drift.Radius * math.Cos(phase)
		pose.Y += drift.Radius * math.Sin(phase)
	}
	pose.RotationDeg = core.NormalizeDegrees(pose.RotationDeg + drift.SpinDegPS*elapsed.Seconds())

	return Render(s.cal, pose), true, nil
}

// Render returns the marker corners observed by a device at p.
func Render(cal geometry.Calibration, p core.Pose) core.MarkerCorners {
	tanHalf := math.Tan(cal.VerticalFOVDeg / 2 * math.Pi / 180)
	scale := p.Z * 2 * tanHalf / cal.ImageWidth
	sidePx := cal.MarkerSide / scale

	sin, cos := math.Sincos(p.RotationDeg * math.Pi / 180)
	rx, ry := -p.X/scale, -p.Y/scale
	cx := rx*cos - ry*sin
	cy := rx*sin + ry*cos

	cx -= (cal.LensOffsetX / cal.ReferenceHeight) * p.Z
	cy -= (cal.LensOffsetY / cal.ReferenceHeight) * p.Z
	cx += cal.ScreenOffsetX / scale
	cy += cal.ScreenOffsetY / scale

	px := cx + cal.ImageWidth/2
	py := cal.ImageHeight/2 - cy

	// Corner 1 first, clockwise on screen; the square is turned by -rotation
	// in pixel space.
	h := sidePx / 2
	offsets := [4][2]float64{{-h, h}, {-h, -h}, {h, -h}, {h, h}}
	psin, pcos := math.Sincos(-p.RotationDeg * math.Pi / 180)

	var c core.MarkerCorners
	for i, o := range offsets {
		c[i] = core.Point{
			X: px + o[0]*pcos - o[1]*psin,
			Y: py + o[0]*psin + o[1]*pcos,
		}
	}
	return c
}
