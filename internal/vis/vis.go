// Package vis computes per-viewer visibility regions against the current
// occlusion state. Compute is a pure function of a ledger snapshot, so the
// broadcast path can fan out one goroutine per viewer over the same
// snapshot without locks.
package vis

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"breach-and-hold/server/internal/geom"
	"breach-and-hold/server/internal/ledger"
)

const (
	// DefaultRayStep is the fan resolution: one ray per 2 degrees.
	DefaultRayStep = math.Pi / 90

	// cornerEpsilon offsets the extra rays cast at occluder corners so
	// the fan lands on both sides of every silhouette edge.
	cornerEpsilon = 0.0001

	// reachEpsilon tolerates float dust when checking that a direct ray
	// reaches a puncture point lying exactly on an occluder face.
	reachEpsilon = 1e-6

	// weldEpsilon collapses polygon vertices produced by coincident rays.
	weldEpsilon = 1e-6
)

// Viewer is one observer's eye state.
type Viewer struct {
	ID     string
	Pos    mgl64.Vec2
	Facing float64 // radians
	FOV    float64 // radians, full opening
	Radius float64 // sight radius, world units
}

// Cone is a narrow secondary view through a puncture. Apex sits on the
// viewer-side wall face; Length bounds how deep sight extends past it.
type Cone struct {
	Apex     mgl64.Vec2
	Dir      float64 // radians
	Aperture float64 // radians, full opening
	Length   float64
}

// Region is the visibility result for one viewer at one instant. The
// polygon is star-shaped about Pos; Cones are unioned on top of it.
// Regions are rebuilt every broadcast interval and never persisted.
type Region struct {
	Polygon    []mgl64.Vec2
	Cones      []Cone
	Pos        mgl64.Vec2
	Facing     float64
	FOV        float64
	Radius     float64
	Degenerate bool
}

// liveRun is a maximal stretch of contiguous non-destroyed slices. Runs are
// the occluders: seams between live slices are interior and cast no edges,
// and destroyed slices split a wall into separate runs, leaving a gap rays
// pass through.
type liveRun struct {
	wall   *geom.Wall
	lo, hi int // inclusive slice range
	rect   geom.Rect
	states []ledger.SliceState
}

type runEdge struct {
	seg geom.Segment
	run int
}

type occluderSet struct {
	sliceCount int
	runs       []liveRun
	edges      []runEdge
	corners    []mgl64.Vec2
}

// buildOccluders collects the live runs within sight radius. Walls with no
// ledger entry occlude fully; a ledger id with no matching wall is simply
// never visited, so stale references cannot abort a frame.
func buildOccluders(store *geom.Store, snap ledger.Snapshot, pos mgl64.Vec2, radius float64) occluderSet {
	occ := occluderSet{sliceCount: store.SliceCount()}
	for _, wall := range store.WallsNear(pos, radius) {
		var states []ledger.SliceState
		if ws, ok := snap[wall.ID]; ok {
			states = ws.Slices
		}
		live := func(i int) bool {
			if states == nil || i >= len(states) {
				return true
			}
			return !states[i].Destroyed
		}
		n := occ.sliceCount
		for i := 0; i < n; {
			if !live(i) {
				i++
				continue
			}
			j := i
			for j+1 < n && live(j+1) {
				j++
			}
			lo, _ := wall.SliceSpan(i, n)
			_, hi := wall.SliceSpan(j, n)
			rect := wall.RunRect(lo, hi)
			runIdx := len(occ.runs)
			occ.runs = append(occ.runs, liveRun{wall: wall, lo: i, hi: j, rect: rect, states: states})
			for _, seg := range rect.Edges() {
				occ.edges = append(occ.edges, runEdge{seg: seg, run: runIdx})
			}
			occ.corners = append(occ.corners,
				rect.Min,
				mgl64.Vec2{rect.Max.X(), rect.Min.Y()},
				rect.Max,
				mgl64.Vec2{rect.Min.X(), rect.Max.Y()},
			)
			i = j + 1
		}
	}
	return occ
}

// cast finds the nearest occluder hit along dir, capped at the sight
// radius. It returns the hit point, the run index (-1 for the radius arc),
// and the hit distance.
func (o *occluderSet) cast(pos, dir mgl64.Vec2, radius float64) (mgl64.Vec2, int, float64) {
	best := radius
	bestRun := -1
	for _, e := range o.edges {
		if t, ok := e.seg.RayIntersection(pos, dir); ok && t < best {
			best = t
			bestRun = e.run
		}
	}
	return pos.Add(dir.Mul(best)), bestRun, best
}

// Compute builds the visibility region for one viewer against an immutable
// snapshot at the default fan resolution. A viewer standing inside or
// against a wall yields a degenerate empty region rather than a panic.
func Compute(v Viewer, store *geom.Store, snap ledger.Snapshot) Region {
	return ComputeWithStep(v, store, snap, DefaultRayStep)
}

// ComputeWithStep is Compute with an explicit angular step between fan rays,
// in radians. Non-positive steps fall back to DefaultRayStep.
func ComputeWithStep(v Viewer, store *geom.Store, snap ledger.Snapshot, step float64) Region {
	if step <= 0 {
		step = DefaultRayStep
	}
	region := Region{Pos: v.Pos, Facing: v.Facing, FOV: v.FOV, Radius: v.Radius}
	if v.Radius <= 0 || v.FOV <= 0 {
		return region
	}
	fov := v.FOV
	if fov > 2*math.Pi {
		fov = 2 * math.Pi
		region.FOV = fov
	}

	occ := buildOccluders(store, snap, v.Pos, v.Radius)
	for _, run := range occ.runs {
		if run.rect.Contains(v.Pos) {
			region.Degenerate = true
			return region
		}
	}

	full := fov >= 2*math.Pi-1e-9
	start := v.Facing - fov/2

	type rayPoint struct {
		rel float64
		p   mgl64.Vec2
	}
	var points []rayPoint
	hitSlices := make(map[int]map[int]struct{})

	castAt := func(rel float64) {
		angle := start + rel
		dir := mgl64.Vec2{math.Cos(angle), math.Sin(angle)}
		p, runIdx, _ := occ.cast(v.Pos, dir, v.Radius)
		points = append(points, rayPoint{rel: rel, p: p})
		if runIdx < 0 {
			return
		}
		run := occ.runs[runIdx]
		idx := run.wall.SliceIndex(run.wall.OffsetOf(p), occ.sliceCount)
		// A hit on a run end cap lands on a seam offset; resolve it to
		// the nearer live slice inside the run.
		if idx < run.lo {
			idx = run.lo
		}
		if idx > run.hi {
			idx = run.hi
		}
		set := hitSlices[runIdx]
		if set == nil {
			set = make(map[int]struct{})
			hitSlices[runIdx] = set
		}
		set[idx] = struct{}{}
	}

	steps := int(math.Ceil(fov / step))
	if steps < 1 {
		steps = 1
	}
	last := steps
	if full {
		// The 2π ray would duplicate the 0 ray.
		last = steps - 1
	}
	for k := 0; k <= last; k++ {
		castAt(fov * float64(k) / float64(steps))
	}

	for _, c := range occ.corners {
		d := c.Sub(v.Pos)
		if d.Len() < 1e-12 {
			continue
		}
		a := math.Atan2(d.Y(), d.X())
		for _, ca := range [3]float64{a - cornerEpsilon, a, a + cornerEpsilon} {
			rel := geom.NormalizeAngle(ca - start)
			if !full && rel > fov {
				if rel < 2*math.Pi-2*cornerEpsilon {
					continue
				}
				rel = 0
			}
			castAt(rel)
		}
	}

	sort.Slice(points, func(i, j int) bool { return points[i].rel < points[j].rel })

	polygon := make([]mgl64.Vec2, 0, len(points)+1)
	if !full {
		polygon = append(polygon, v.Pos)
	}
	for _, rp := range points {
		if len(polygon) > 0 && polygon[len(polygon)-1].Sub(rp.p).Len() < weldEpsilon {
			continue
		}
		polygon = append(polygon, rp.p)
	}
	region.Polygon = polygon

	// Secondary cones: one per puncture whose slice terminated a primary
	// ray, runs and slices in deterministic order.
	for runIdx := range occ.runs {
		run := occ.runs[runIdx]
		slices := hitSlices[runIdx]
		if slices == nil || run.states == nil {
			continue
		}
		for idx := run.lo; idx <= run.hi && idx < len(run.states); idx++ {
			if _, hit := slices[idx]; !hit {
				continue
			}
			st := run.states[idx]
			if st.Destroyed || st.Puncture == nil {
				continue
			}
			if cone, ok := punctureCone(v, fov, full, &occ, run, *st.Puncture); ok {
				region.Cones = append(region.Cones, cone)
			}
		}
	}
	return region
}

// punctureCone validates that the viewer's line toward the puncture point
// actually reaches it, then builds the leak cone with its apex on the
// viewer-side wall face.
func punctureCone(v Viewer, fov float64, full bool, occ *occluderSet, run liveRun, p ledger.Puncture) (Cone, bool) {
	wall := run.wall
	cross := 0.0
	if !nearMinFace(wall, v.Pos) {
		cross = wall.Thickness()
	}
	apex := wall.At(wall.ClampOffset(p.Offset), cross)

	d := apex.Sub(v.Pos)
	dist := d.Len()
	if dist < 1e-9 || dist > v.Radius {
		return Cone{}, false
	}
	angle := math.Atan2(d.Y(), d.X())
	if !full && !sectorContains(v.Facing, fov/2, angle) {
		return Cone{}, false
	}

	dir := d.Mul(1 / dist)
	if _, _, hit := occ.cast(v.Pos, dir, v.Radius); hit < dist-reachEpsilon {
		return Cone{}, false
	}

	return Cone{Apex: apex, Dir: angle, Aperture: p.Aperture, Length: p.Depth}, true
}

// nearMinFace reports whether the viewer is on the wall's min-cross side.
func nearMinFace(w *geom.Wall, pos mgl64.Vec2) bool {
	if w.Horizontal() {
		return pos.Y() < w.Min.Y()+w.Size.Y()/2
	}
	return pos.X() < w.Min.X()+w.Size.X()/2
}

// sectorContains reports whether an angle falls within ±half of facing.
func sectorContains(facing, half, angle float64) bool {
	d := geom.NormalizeAngle(angle - facing)
	if d > math.Pi {
		d = 2*math.Pi - d
	}
	return d <= half+1e-9
}
