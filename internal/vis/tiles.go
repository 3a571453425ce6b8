package vis

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"breach-and-hold/server/internal/geom"
)

// Grid describes the fixed deployment grid used by the legacy tile wire
// mode. Producer and consumer must agree on it out of band.
type Grid struct {
	CellSize float64
	Width    int
	Height   int
}

// Contains reports whether a cell coordinate is on the grid.
func (g Grid) Contains(row, col int) bool {
	return row >= 0 && row < g.Height && col >= 0 && col < g.Width
}

// Index flattens a cell coordinate.
func (g Grid) Index(row, col int) int { return row*g.Width + col }

// Quantize compresses a region to the sparse set of grid cells whose
// centers it covers, in ascending index order. The result is lossy by one
// cell at the boundary and is never the source of truth.
func Quantize(r Region, g Grid) []int {
	if g.CellSize <= 0 || g.Width <= 0 || g.Height <= 0 {
		return nil
	}
	if r.Degenerate || len(r.Polygon) < 3 && len(r.Cones) == 0 {
		return nil
	}

	min, max := regionBounds(r)
	colMin := clampCell(int(math.Floor(min.X()/g.CellSize)), g.Width)
	colMax := clampCell(int(math.Floor(max.X()/g.CellSize)), g.Width)
	rowMin := clampCell(int(math.Floor(min.Y()/g.CellSize)), g.Height)
	rowMax := clampCell(int(math.Floor(max.Y()/g.CellSize)), g.Height)

	var indices []int
	for row := rowMin; row <= rowMax; row++ {
		for col := colMin; col <= colMax; col++ {
			center := mgl64.Vec2{
				(float64(col) + 0.5) * g.CellSize,
				(float64(row) + 0.5) * g.CellSize,
			}
			if regionContains(r, center) {
				indices = append(indices, g.Index(row, col))
			}
		}
	}
	return indices
}

func clampCell(v, n int) int {
	if v < 0 {
		return 0
	}
	if v > n-1 {
		return n - 1
	}
	return v
}

func regionBounds(r Region) (mgl64.Vec2, mgl64.Vec2) {
	min := mgl64.Vec2{math.Inf(1), math.Inf(1)}
	max := mgl64.Vec2{math.Inf(-1), math.Inf(-1)}
	extend := func(p mgl64.Vec2) {
		min = mgl64.Vec2{math.Min(min.X(), p.X()), math.Min(min.Y(), p.Y())}
		max = mgl64.Vec2{math.Max(max.X(), p.X()), math.Max(max.Y(), p.Y())}
	}
	for _, p := range r.Polygon {
		extend(p)
	}
	for _, c := range r.Cones {
		extend(mgl64.Vec2{c.Apex.X() - c.Length, c.Apex.Y() - c.Length})
		extend(mgl64.Vec2{c.Apex.X() + c.Length, c.Apex.Y() + c.Length})
	}
	return min, max
}

func regionContains(r Region, p mgl64.Vec2) bool {
	if pointInPolygon(r.Polygon, p) {
		return true
	}
	for _, c := range r.Cones {
		if coneContains(c, p) {
			return true
		}
	}
	return false
}

// pointInPolygon is the even-odd crossing test.
func pointInPolygon(poly []mgl64.Vec2, p mgl64.Vec2) bool {
	if len(poly) < 3 {
		return false
	}
	inside := false
	j := len(poly) - 1
	for i := 0; i < len(poly); i++ {
		a, b := poly[i], poly[j]
		if (a.Y() > p.Y()) != (b.Y() > p.Y()) {
			x := a.X() + (p.Y()-a.Y())/(b.Y()-a.Y())*(b.X()-a.X())
			if p.X() < x {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

func coneContains(c Cone, p mgl64.Vec2) bool {
	d := p.Sub(c.Apex)
	dist := d.Len()
	if dist > c.Length {
		return false
	}
	if dist < 1e-9 {
		return true
	}
	diff := geom.NormalizeAngle(math.Atan2(d.Y(), d.X()) - c.Dir)
	if diff > math.Pi {
		diff = 2*math.Pi - diff
	}
	return diff <= c.Aperture/2
}
