package geometry

import (
	"math"

	"github.com/golang/geo/r2"
)

// Segment is a piece of a path that can be queried against a point.
type Segment interface {
	// ClosestPointAndDistance returns the point on the segment closest to p
	// and the distance between them.
	ClosestPointAndDistance(p r2.Point) (r2.Point, float64)
	// Direction is the unit tangent used for path-direction queries.
	Direction() r2.Point
	Start() r2.Point
	End() r2.Point
	// Translate returns a copy of the segment shifted by offset.
	Translate(offset r2.Point) Segment
}

// LineSegment is a straight segment from V1 to V2. If Infinite is set the
// segment continues indefinitely past V2.
type LineSegment struct {
	V1, V2   r2.Point
	Infinite bool
}

// NewLineSegment returns the finite segment from v1 to v2.
func NewLineSegment(v1, v2 r2.Point) LineSegment {
	return LineSegment{V1: v1, V2: v2}
}

// NewRay returns a segment that starts at v1, passes through v2 and does
// not end.
func NewRay(v1, v2 r2.Point) LineSegment {
	return LineSegment{V1: v1, V2: v2, Infinite: true}
}

// ClosestPointAndDistance projects p onto the line through V1 and V2. A
// zero-length segment behaves as the single point V1.
func (s LineSegment) ClosestPointAndDistance(p r2.Point) (r2.Point, float64) {
	d := s.V2.Sub(s.V1)
	length2 := d.Dot(d)
	if length2 == 0 {
		return s.V1, p.Sub(s.V1).Norm()
	}

	t := p.Sub(s.V1).Dot(d) / length2
	if t < 0 {
		t = 0
	} else if t > 1 && !s.Infinite {
		t = 1
	}
	closest := s.V1.Add(d.Mul(t))
	return closest, p.Sub(closest).Norm()
}

// Direction is the unit vector from V1 to V2, or the zero vector when the
// segment has no length.
func (s LineSegment) Direction() r2.Point {
	dir, _ := Unit(s.V2.Sub(s.V1))
	return dir
}

// Normal is Direction rotated a quarter turn counter-clockwise.
func (s LineSegment) Normal() r2.Point {
	return s.Direction().Ortho()
}

// Length of the segment; +Inf when the segment is infinite and non-degenerate.
func (s LineSegment) Length() float64 {
	l := s.V2.Sub(s.V1).Norm()
	if s.Infinite && l > 0 {
		return math.Inf(1)
	}
	return l
}

func (s LineSegment) Start() r2.Point { return s.V1 }

func (s LineSegment) End() r2.Point { return s.V2 }

func (s LineSegment) Translate(offset r2.Point) Segment {
	return LineSegment{V1: s.V1.Add(offset), V2: s.V2.Add(offset), Infinite: s.Infinite}
}

// TranslateSegments shifts every segment by offset, e.g. to place walls
// relative to the start of a run.
func TranslateSegments(segments []Segment, offset r2.Point) []Segment {
	out := make([]Segment, len(segments))
	for i, s := range segments {
		out[i] = s.Translate(offset)
	}
	return out
}
