// Package vision defines the contract between the pose sampler and a marker
// detector. Detection algorithms live outside this module; anything that
// honors Detector can be plugged in.
package vision

import (
	"context"
	"errors"

	"github.com/OCAP2/arrowlink/pkg/core"
)

// ErrUnavailable means the camera could not produce a frame right now. The
// sampler skips the tick and tries again on the next one.
var ErrUnavailable = errors.New("vision unavailable")

// Detector captures one frame and returns the marker corners found in it.
// found is false when no marker is visible.
type Detector interface {
	Capture(ctx context.Context) (corners core.MarkerCorners, found bool, err error)
}

// DetectorFunc adapts a plain function to Detector.
type DetectorFunc func(ctx context.Context) (core.MarkerCorners, bool, error)

// Capture calls f.
func (f DetectorFunc) Capture(ctx context.Context) (core.MarkerCorners, bool, error) {
	return f(ctx)
}
