// Package damage converts weapon hits into slice transitions on the
// destruction ledger. The resolver owns targeting math (slice selection,
// falloff, rounding) while the ledger owns state transitions, so every
// mutation still flows through the ledger's single choke point.
package damage

import (
	"math"

	"breach-and-hold/server/internal/geom"
	"breach-and-hold/server/internal/ledger"
)

// Kind selects the damage shape applied to a wall.
type Kind string

const (
	// KindPoint damages only the slice containing the impact offset.
	KindPoint Kind = "point"
	// KindArea damages every slice within Radius of the impact slice,
	// attenuated by the falloff curve.
	KindArea Kind = "area"
)

// DefaultPunctureDepth bounds how far sight extends past a punctured wall
// face, in world units.
const DefaultPunctureDepth = 30.0

// Request describes one damage application against one wall.
type Request struct {
	WallID string
	Offset float64 // run-local impact offset, world units
	Amount int
	Kind   Kind
	Radius float64 // blast radius in slices, area only
}

// Tuning supplies the script-adjustable damage curves. scripting.Engine
// satisfies it; a nil Tuning falls back to the built-in reference curves.
type Tuning interface {
	Falloff(distance, radius float64) float64
	MaterialModifier(material, kind string) float64
	PunctureAperture(kind string) float64
}

// referenceTuning mirrors the built-in script fallbacks so the resolver
// works without a VM attached.
type referenceTuning struct{}

func (referenceTuning) Falloff(distance, radius float64) float64 {
	f := 1 - distance*0.3
	if f < 0 {
		return 0
	}
	return f
}

func (referenceTuning) MaterialModifier(material, kind string) float64 { return 1 }

func (referenceTuning) PunctureAperture(kind string) float64 { return 15 * math.Pi / 180 }

// Config wires a resolver to its match state.
type Config struct {
	Store         *geom.Store
	Ledger        *ledger.Ledger
	Tuning        Tuning
	PunctureDepth float64
}

// Resolver applies damage requests. Like the ledger it is owned by the
// simulation tick and is not safe for concurrent use.
type Resolver struct {
	store  *geom.Store
	ledger *ledger.Ledger
	tuning Tuning
	depth  float64
}

// NewResolver builds a resolver. Zero-value config fields fall back to the
// reference tuning and default puncture depth.
func NewResolver(cfg Config) *Resolver {
	tuning := cfg.Tuning
	if tuning == nil {
		tuning = referenceTuning{}
	}
	depth := cfg.PunctureDepth
	if depth <= 0 {
		depth = DefaultPunctureDepth
	}
	return &Resolver{
		store:  cfg.Store,
		ledger: cfg.Ledger,
		tuning: tuning,
		depth:  depth,
	}
}

// Apply resolves one request into zero or more slice deltas, in ascending
// slice order. Unknown walls, non-positive amounts, and hits that round to
// zero damage produce no deltas. An unrecognized kind degrades to a point
// hit rather than dropping the damage.
func (r *Resolver) Apply(req Request, tick uint64) []ledger.SliceDelta {
	if r == nil || req.Amount <= 0 {
		return nil
	}
	wall, ok := r.store.Wall(req.WallID)
	if !ok {
		return nil
	}
	if req.Kind == KindArea {
		return r.applyArea(wall, req, tick)
	}
	return r.applyPoint(wall, req, tick)
}

func (r *Resolver) applyPoint(wall *geom.Wall, req Request, tick uint64) []ledger.SliceDelta {
	n := r.store.SliceCount()
	offset := wall.ClampOffset(req.Offset)
	idx := wall.SliceIndex(offset, n)

	amount := scaleDamage(req.Amount, 1, r.tuning.MaterialModifier(wall.Material, string(KindPoint)))
	if amount <= 0 {
		return nil
	}

	punc := ledger.Puncture{
		Offset:   offset,
		Aperture: r.tuning.PunctureAperture(string(KindPoint)),
		Depth:    r.depth,
	}
	delta, ok := r.ledger.DamageSlice(wall.ID, idx, amount, punc, tick)
	if !ok {
		return nil
	}
	return []ledger.SliceDelta{delta}
}

func (r *Resolver) applyArea(wall *geom.Wall, req Request, tick uint64) []ledger.SliceDelta {
	n := r.store.SliceCount()
	offset := wall.ClampOffset(req.Offset)
	center := wall.SliceIndex(offset, n)
	radius := req.Radius
	if radius < 0 {
		radius = 0
	}
	aperture := r.tuning.PunctureAperture(string(KindArea))
	modifier := r.tuning.MaterialModifier(wall.Material, string(KindArea))

	var deltas []ledger.SliceDelta
	for idx := 0; idx < n; idx++ {
		distance := math.Abs(float64(idx - center))
		if distance > radius {
			continue
		}
		amount := scaleDamage(req.Amount, r.tuning.Falloff(distance, radius), modifier)
		if amount <= 0 {
			continue
		}

		// The puncture sits where the blast meets this slice: the
		// impact offset clamped into the slice's span.
		lo, hi := wall.SliceSpan(idx, n)
		punc := ledger.Puncture{
			Offset:   geom.Clamp(offset, lo, hi),
			Aperture: aperture,
			Depth:    r.depth,
		}
		if delta, ok := r.ledger.DamageSlice(wall.ID, idx, amount, punc, tick); ok {
			deltas = append(deltas, delta)
		}
	}
	return deltas
}

// scaleDamage applies the tuning factors and floors to an integer. Floor
// keeps attenuated damage from ever exceeding the scripted curve.
func scaleDamage(amount int, falloff, modifier float64) int {
	return int(math.Floor(float64(amount) * falloff * modifier))
}
