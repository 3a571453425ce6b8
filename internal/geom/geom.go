package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Rect is an axis-aligned rectangle with inclusive edges.
type Rect struct {
	Min mgl64.Vec2
	Max mgl64.Vec2
}

// RectFrom builds a rectangle from an origin and a size.
func RectFrom(min, size mgl64.Vec2) Rect {
	return Rect{Min: min, Max: min.Add(size)}
}

// Width returns the horizontal extent.
func (r Rect) Width() float64 { return r.Max.X() - r.Min.X() }

// Height returns the vertical extent.
func (r Rect) Height() float64 { return r.Max.Y() - r.Min.Y() }

// Center returns the midpoint of the rectangle.
func (r Rect) Center() mgl64.Vec2 {
	return mgl64.Vec2{(r.Min.X() + r.Max.X()) / 2, (r.Min.Y() + r.Max.Y()) / 2}
}

// Contains reports whether the point lies inside or on the boundary.
func (r Rect) Contains(p mgl64.Vec2) bool {
	return p.X() >= r.Min.X() && p.X() <= r.Max.X() &&
		p.Y() >= r.Min.Y() && p.Y() <= r.Max.Y()
}

// ContainsStrict reports whether the point lies strictly inside the rectangle.
func (r Rect) ContainsStrict(p mgl64.Vec2) bool {
	return p.X() > r.Min.X() && p.X() < r.Max.X() &&
		p.Y() > r.Min.Y() && p.Y() < r.Max.Y()
}

// Edges returns the four boundary segments in clockwise order starting from
// the top edge.
func (r Rect) Edges() [4]Segment {
	tl := r.Min
	tr := mgl64.Vec2{r.Max.X(), r.Min.Y()}
	br := r.Max
	bl := mgl64.Vec2{r.Min.X(), r.Max.Y()}
	return [4]Segment{
		{A: tl, B: tr},
		{A: tr, B: br},
		{A: br, B: bl},
		{A: bl, B: tl},
	}
}

// Overlaps checks for AABB overlap with optional padding.
func (r Rect) Overlaps(o Rect, padding float64) bool {
	return r.Min.X()-padding < o.Max.X()+padding &&
		r.Max.X()+padding > o.Min.X()-padding &&
		r.Min.Y()-padding < o.Max.Y()+padding &&
		r.Max.Y()+padding > o.Min.Y()-padding
}

// OverlapsCircle reports whether a circle intersects the rectangle.
func (r Rect) OverlapsCircle(c mgl64.Vec2, radius float64) bool {
	closest := mgl64.Vec2{
		Clamp(c.X(), r.Min.X(), r.Max.X()),
		Clamp(c.Y(), r.Min.Y(), r.Max.Y()),
	}
	d := c.Sub(closest)
	return d.Dot(d) < radius*radius
}

// Segment is a line segment between two points.
type Segment struct {
	A mgl64.Vec2
	B mgl64.Vec2
}

// Length returns the segment length.
func (s Segment) Length() float64 { return s.B.Sub(s.A).Len() }

const parallelEpsilon = 1e-10

// RayIntersection solves the ray origin+t*dir against the segment. Segment
// endpoints are inclusive so rays grazing a corner still register a hit.
func (s Segment) RayIntersection(origin, dir mgl64.Vec2) (float64, bool) {
	segD := s.B.Sub(s.A)

	denom := dir.X()*segD.Y() - dir.Y()*segD.X()
	if math.Abs(denom) < parallelEpsilon {
		return 0, false
	}

	diff := s.A.Sub(origin)
	u := (diff.X()*dir.Y() - diff.Y()*dir.X()) / denom
	t := (diff.X()*segD.Y() - diff.Y()*segD.X()) / denom

	if u >= 0 && u <= 1 && t >= 0 {
		return t, true
	}
	return 0, false
}

// Clamp limits value to the range [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// NormalizeAngle wraps an angle into [0, 2π).
func NormalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}
