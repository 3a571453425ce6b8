package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// DefaultSliceCount is the number of destructible partitions per wall. The
// count is fixed for the duration of a match.
const DefaultSliceCount = 5

// Wall is an axis-aligned collidable rectangle subdivided into equal-width
// slices along its run. Geometry is immutable after load; the destruction
// ledger owns all mutable occlusion state.
type Wall struct {
	ID       string
	Min      mgl64.Vec2
	Size     mgl64.Vec2
	Material string
}

// Horizontal reports whether the wall runs along the X axis.
func (w Wall) Horizontal() bool { return w.Size.X() >= w.Size.Y() }

// Length returns the wall's extent along its run.
func (w Wall) Length() float64 {
	if w.Horizontal() {
		return w.Size.X()
	}
	return w.Size.Y()
}

// Thickness returns the wall's extent across its run.
func (w Wall) Thickness() float64 {
	if w.Horizontal() {
		return w.Size.Y()
	}
	return w.Size.X()
}

// Rect returns the wall's bounding rectangle.
func (w Wall) Rect() Rect { return RectFrom(w.Min, w.Size) }

// SliceWidth returns the width of one of n equal partitions along the run.
func (w Wall) SliceWidth(n int) float64 {
	if n < 1 {
		n = 1
	}
	return w.Length() / float64(n)
}

// ClampOffset limits a run-local offset to [0, Length]. Non-finite offsets
// collapse to 0 so malformed input cannot poison downstream math.
func (w Wall) ClampOffset(offset float64) float64 {
	if math.IsNaN(offset) || math.IsInf(offset, 0) {
		return 0
	}
	return Clamp(offset, 0, w.Length())
}

// SliceIndex maps a run-local offset to its containing slice, clamped to
// [0, n-1]. An offset exactly at the far end belongs to the last slice.
func (w Wall) SliceIndex(offset float64, n int) int {
	if n < 1 {
		return 0
	}
	idx := int(math.Floor(w.ClampOffset(offset) / w.SliceWidth(n)))
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return idx
}

// SliceSpan returns the run-local [lo, hi) interval covered by slice i.
func (w Wall) SliceSpan(i, n int) (float64, float64) {
	width := w.SliceWidth(n)
	return float64(i) * width, float64(i+1) * width
}

// SliceRect returns the world-space rectangle of slice i.
func (w Wall) SliceRect(i, n int) Rect {
	lo, hi := w.SliceSpan(i, n)
	return w.RunRect(lo, hi)
}

// RunRect returns the world-space rectangle covering the run interval
// [lo, hi], spanning the wall's full thickness.
func (w Wall) RunRect(lo, hi float64) Rect {
	if w.Horizontal() {
		return Rect{
			Min: mgl64.Vec2{w.Min.X() + lo, w.Min.Y()},
			Max: mgl64.Vec2{w.Min.X() + hi, w.Min.Y() + w.Size.Y()},
		}
	}
	return Rect{
		Min: mgl64.Vec2{w.Min.X(), w.Min.Y() + lo},
		Max: mgl64.Vec2{w.Min.X() + w.Size.X(), w.Min.Y() + hi},
	}
}

// At returns the world-space point at a run-local offset and a cross-run
// distance measured from the wall's min cross edge.
func (w Wall) At(offset, cross float64) mgl64.Vec2 {
	if w.Horizontal() {
		return mgl64.Vec2{w.Min.X() + offset, w.Min.Y() + cross}
	}
	return mgl64.Vec2{w.Min.X() + cross, w.Min.Y() + offset}
}

// OffsetOf projects a world-space point onto the wall's run axis and returns
// the clamped run-local offset.
func (w Wall) OffsetOf(p mgl64.Vec2) float64 {
	if w.Horizontal() {
		return w.ClampOffset(p.X() - w.Min.X())
	}
	return w.ClampOffset(p.Y() - w.Min.Y())
}
