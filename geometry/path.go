package geometry

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// Path construction errors.
var (
	ErrEmptyPath       = errors.New("path must have at least one segment")
	ErrInfiniteNotLast = errors.New("only the last segment of a path may be infinite")
	ErrZeroDirection   = errors.New("path direction must be non-zero")
)

// SegmentPath is an ordered sequence of segments, expressed relative to
// Origin. Consecutive segments are expected to share endpoints; see
// Contiguous.
type SegmentPath struct {
	segments []Segment
	origin   r2.Point
}

// NewSegmentPath builds a path from segments relative to origin.
func NewSegmentPath(segments []Segment, origin r2.Point) (*SegmentPath, error) {
	if len(segments) == 0 {
		return nil, ErrEmptyPath
	}
	for i, s := range segments[:len(segments)-1] {
		if l, ok := s.(LineSegment); ok && l.Infinite {
			return nil, errors.Wrapf(ErrInfiniteNotLast, "segment %d", i)
		}
	}
	return &SegmentPath{
		segments: append([]Segment(nil), segments...),
		origin:   origin,
	}, nil
}

// LinePath returns a path that is a single infinite line through origin
// along direction.
func LinePath(direction, origin r2.Point) (*SegmentPath, error) {
	dir, ok := Unit(direction)
	if !ok {
		return nil, ErrZeroDirection
	}
	return NewSegmentPath([]Segment{NewRay(r2.Point{}, dir)}, origin)
}

// Segments returns a copy of the path's segments.
func (p *SegmentPath) Segments() []Segment {
	return append([]Segment(nil), p.segments...)
}

func (p *SegmentPath) Origin() r2.Point {
	return p.origin
}

// ComputeDirectionAndOffset finds the segment closest to point and returns
// its direction along with the signed lateral offset of point from it.
// The offset is positive to the left of the direction of travel. Ties go to
// the earlier segment.
func (p *SegmentPath) ComputeDirectionAndOffset(point r2.Point) (r2.Point, float64) {
	local := point.Sub(p.origin)

	bestIdx := 0
	bestDist := math.Inf(1)
	var bestClosest r2.Point
	for i, s := range p.segments {
		closest, dist := s.ClosestPointAndDistance(local)
		if dist < bestDist {
			bestIdx, bestDist, bestClosest = i, dist, closest
		}
	}

	direction := p.segments[bestIdx].Direction()
	offset := Sign(direction.Cross(local.Sub(bestClosest))) * bestDist
	return direction, offset
}

// Contiguous reports whether every segment starts within tol of where the
// previous one ends.
func (p *SegmentPath) Contiguous(tol float64) bool {
	for i := 1; i < len(p.segments); i++ {
		if p.segments[i].Start().Sub(p.segments[i-1].End()).Norm() > tol {
			return false
		}
	}
	return true
}
