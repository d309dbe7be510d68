// Package geometry holds the planar primitives used to describe a pushing
// path: line and quadratic Bezier segments, and the SegmentPath built from
// them, plus the small angle helpers the controller needs.
package geometry

import (
	"math"

	"github.com/golang/geo/r2"
)

// Rotate returns v rotated counter-clockwise by angle radians.
func Rotate(v r2.Point, angle float64) r2.Point {
	s, c := math.Sincos(angle)
	return r2.Point{X: c*v.X - s*v.Y, Y: s*v.X + c*v.Y}
}

// Unit returns v scaled to unit length. The second return is false when v
// has zero length, in which case the zero vector is returned.
func Unit(v r2.Point) (r2.Point, bool) {
	n := v.Norm()
	if n == 0 {
		return r2.Point{}, false
	}
	return v.Mul(1 / n), true
}

// SignedAngle returns the angle that rotates a onto b, in (-pi, pi].
func SignedAngle(a, b r2.Point) float64 {
	return WrapToPi(math.Atan2(a.Cross(b), a.Dot(b)))
}

// WrapToPi wraps an angle into (-pi, pi].
func WrapToPi(angle float64) float64 {
	wrapped := math.Mod(angle+math.Pi, 2*math.Pi)
	if wrapped <= 0 {
		wrapped += 2 * math.Pi
	}
	return wrapped - math.Pi
}

// Sign returns -1, 0 or 1. Zero maps to zero.
func Sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

// Heading is the angle of v measured from the +x axis.
func Heading(v r2.Point) float64 {
	return math.Atan2(v.Y, v.X)
}

// IsFinite reports whether both coordinates of v are finite.
func IsFinite(v r2.Point) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0)
}
