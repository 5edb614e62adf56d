package geometry

import (
	"math"

	"github.com/OCAP2/arrowlink/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

const (
	// MinSidePx is the smallest mean edge length accepted as a real detection.
	MinSidePx = 1.0
	// MinAreaPx2 is the smallest enclosed area accepted as a real detection.
	MinAreaPx2 = 1.0
)

// Degenerate reports whether c is too small or too flat to measure. Such a
// sample must be treated as not found.
func Degenerate(c core.MarkerCorners) bool {
	for _, p := range c {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return true
		}
	}
	if MeanSide(c) < MinSidePx {
		return true
	}
	return QuadArea(c) < MinAreaPx2
}

// QuadArea returns the area enclosed by the four corners in square pixels.
func QuadArea(c core.MarkerCorners) float64 {
	flat := make([]float64, 0, 2*(len(c)+1))
	for _, p := range c {
		flat = append(flat, p.X, p.Y)
	}
	// close the ring
	flat = append(flat, c[0].X, c[0].Y)

	ring := geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
	return geom.NewPolygon([]geom.LineString{ring}).Area()
}
