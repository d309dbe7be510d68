package geometry

import (
	"math"

	"github.com/golang/geo/r2"
)

const (
	bezierSamples    = 32
	bezierIterations = 40
)

// invPhi is 1/phi, the golden-section step ratio.
var invPhi = (math.Sqrt(5) - 1) / 2

// QuadBezierSegment is a quadratic Bezier curve starting at V1, ending at V2
// and shaped by the control point VC.
type QuadBezierSegment struct {
	V1, VC, V2 r2.Point
}

// NewQuadBezierSegment returns the curve through v1 and v2 with control vc.
func NewQuadBezierSegment(v1, vc, v2 r2.Point) QuadBezierSegment {
	return QuadBezierSegment{V1: v1, VC: vc, V2: v2}
}

// Eval returns the point on the curve at parameter t in [0, 1].
func (s QuadBezierSegment) Eval(t float64) r2.Point {
	u := 1 - t
	return s.V1.Mul(u * u).Add(s.VC.Mul(2 * u * t)).Add(s.V2.Mul(t * t))
}

// ClosestPointAndDistance samples the curve uniformly and refines the best
// sample with a golden-section search on the neighbouring interval.
func (s QuadBezierSegment) ClosestPointAndDistance(p r2.Point) (r2.Point, float64) {
	dist2 := func(t float64) float64 {
		d := s.Eval(t).Sub(p)
		return d.Dot(d)
	}

	best, bestD := 0, math.Inf(1)
	for i := 0; i <= bezierSamples; i++ {
		if d := dist2(float64(i) / bezierSamples); d < bestD {
			best, bestD = i, d
		}
	}

	lo := math.Max(0, float64(best-1)/bezierSamples)
	hi := math.Min(1, float64(best+1)/bezierSamples)
	a := hi - invPhi*(hi-lo)
	b := lo + invPhi*(hi-lo)
	fa, fb := dist2(a), dist2(b)
	for i := 0; i < bezierIterations; i++ {
		if fa < fb {
			hi, b, fb = b, a, fa
			a = hi - invPhi*(hi-lo)
			fa = dist2(a)
		} else {
			lo, a, fa = a, b, fb
			b = lo + invPhi*(hi-lo)
			fb = dist2(b)
		}
	}

	t := (lo + hi) / 2
	if d := dist2(t); d > bestD {
		t = float64(best) / bezierSamples
	}
	closest := s.Eval(t)
	return closest, closest.Sub(p).Norm()
}

// Direction is the unit tangent at the end of the curve.
func (s QuadBezierSegment) Direction() r2.Point {
	if dir, ok := Unit(s.V2.Sub(s.VC).Mul(2)); ok {
		return dir
	}
	dir, _ := Unit(s.V2.Sub(s.V1))
	return dir
}

func (s QuadBezierSegment) Start() r2.Point { return s.V1 }

func (s QuadBezierSegment) End() r2.Point { return s.V2 }

func (s QuadBezierSegment) Translate(offset r2.Point) Segment {
	return QuadBezierSegment{V1: s.V1.Add(offset), VC: s.VC.Add(offset), V2: s.V2.Add(offset)}
}
