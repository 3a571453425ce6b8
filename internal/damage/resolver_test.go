package damage

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"breach-and-hold/server/internal/geom"
	"breach-and-hold/server/internal/ledger"
)

func newTestResolver(t *testing.T) (*Resolver, *ledger.Ledger) {
	t.Helper()
	store, err := geom.NewStore([]geom.Wall{
		{ID: "wall-1", Min: mgl64.Vec2{100, 200}, Size: mgl64.Vec2{75, 15}, Material: "concrete"},
	}, 5)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	led := ledger.New(ledger.Config{
		SliceCount: 5,
		Walls:      []ledger.WallInit{{ID: "wall-1", MaxHealth: 100}},
	})
	return NewResolver(Config{Store: store, Ledger: led}), led
}

func TestPointHitDamagesContainingSlice(t *testing.T) {
	r, _ := newTestResolver(t)

	deltas := r.Apply(Request{WallID: "wall-1", Offset: 7, Amount: 40, Kind: KindPoint}, 5)
	if len(deltas) != 1 {
		t.Fatalf("expected exactly one delta, got %d", len(deltas))
	}
	d := deltas[0]
	if d.Slice != 0 {
		t.Fatalf("expected offset 7 to land in slice 0 at width 15, got %d", d.Slice)
	}
	if d.NewHealth != 60 || d.Destroyed {
		t.Fatalf("expected health 60 intact, got %d destroyed=%v", d.NewHealth, d.Destroyed)
	}
	if d.Seq != 1 || d.Tick != 5 {
		t.Fatalf("expected seq 1 tick 5, got seq %d tick %d", d.Seq, d.Tick)
	}
	if d.Puncture == nil {
		t.Fatalf("expected surviving slice to record a puncture")
	}
	if d.Puncture.Offset != 7 {
		t.Fatalf("expected puncture at impact offset 7, got %v", d.Puncture.Offset)
	}
	wantAperture := 15 * math.Pi / 180
	if math.Abs(d.Puncture.Aperture-wantAperture) > 1e-9 {
		t.Fatalf("expected 15 degree aperture, got %v", d.Puncture.Aperture)
	}
	if d.Puncture.Depth != DefaultPunctureDepth {
		t.Fatalf("expected depth %v, got %v", DefaultPunctureDepth, d.Puncture.Depth)
	}
}

func TestConfiguredPunctureDepth(t *testing.T) {
	store, err := geom.NewStore([]geom.Wall{
		{ID: "wall-1", Min: mgl64.Vec2{100, 200}, Size: mgl64.Vec2{75, 15}, Material: "concrete"},
	}, 5)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	led := ledger.New(ledger.Config{
		SliceCount: 5,
		Walls:      []ledger.WallInit{{ID: "wall-1", MaxHealth: 100}},
	})
	r := NewResolver(Config{Store: store, Ledger: led, PunctureDepth: 12})

	deltas := r.Apply(Request{WallID: "wall-1", Offset: 7, Amount: 40, Kind: KindPoint}, 1)
	if len(deltas) != 1 || deltas[0].Puncture == nil {
		t.Fatalf("expected one puncturing delta, got %+v", deltas)
	}
	if deltas[0].Puncture.Depth != 12 {
		t.Fatalf("expected configured depth 12, got %v", deltas[0].Puncture.Depth)
	}
}

func TestRepeatedPointHitsDestroySlice(t *testing.T) {
	r, led := newTestResolver(t)
	req := Request{WallID: "wall-1", Offset: 7, Amount: 40, Kind: KindPoint}

	healths := []int{60, 20, 0}
	for i, want := range healths {
		deltas := r.Apply(req, uint64(i))
		if len(deltas) != 1 {
			t.Fatalf("hit %d: expected one delta, got %d", i, len(deltas))
		}
		if deltas[0].NewHealth != want {
			t.Fatalf("hit %d: expected health %d, got %d", i, want, deltas[0].NewHealth)
		}
	}

	state, _ := led.Slice("wall-1", 0)
	if !state.Destroyed || state.Puncture != nil {
		t.Fatalf("expected destroyed slice with no puncture, got %+v", state)
	}

	if deltas := r.Apply(req, 9); deltas != nil {
		t.Fatalf("expected destroyed slice to absorb further hits, got %+v", deltas)
	}
}

func TestAreaBlastFalloff(t *testing.T) {
	r, _ := newTestResolver(t)

	deltas := r.Apply(Request{WallID: "wall-1", Offset: 37.5, Amount: 100, Kind: KindArea, Radius: 2}, 1)
	if len(deltas) != 5 {
		t.Fatalf("expected five deltas, got %d", len(deltas))
	}

	wantHealth := []int{60, 30, 0, 30, 60}
	for i, d := range deltas {
		if d.Slice != i {
			t.Fatalf("expected deltas in ascending slice order, got slice %d at position %d", d.Slice, i)
		}
		if d.NewHealth != wantHealth[i] {
			t.Fatalf("slice %d: expected health %d, got %d", i, wantHealth[i], d.NewHealth)
		}
		if i > 0 && d.Seq <= deltas[i-1].Seq {
			t.Fatalf("expected strictly increasing seq, got %d after %d", d.Seq, deltas[i-1].Seq)
		}
	}

	center := deltas[2]
	if !center.Destroyed || center.Puncture != nil {
		t.Fatalf("expected destroyed center with no puncture, got %+v", center)
	}

	wantPuncture := map[int]float64{0: 15, 1: 30, 3: 45, 4: 60}
	for _, d := range deltas {
		if d.Slice == 2 {
			continue
		}
		if d.Puncture == nil {
			t.Fatalf("slice %d: expected survivor puncture", d.Slice)
		}
		if got, want := d.Puncture.Offset, wantPuncture[d.Slice]; got != want {
			t.Fatalf("slice %d: expected puncture clamped to %v, got %v", d.Slice, want, got)
		}
	}
}

func TestAreaRadiusLimitsReach(t *testing.T) {
	r, _ := newTestResolver(t)

	deltas := r.Apply(Request{WallID: "wall-1", Offset: 37.5, Amount: 100, Kind: KindArea, Radius: 1}, 1)
	if len(deltas) != 3 {
		t.Fatalf("expected three deltas at radius 1, got %d", len(deltas))
	}
	for i, want := range []int{1, 2, 3} {
		if deltas[i].Slice != want {
			t.Fatalf("expected slices 1..3, got %d at position %d", deltas[i].Slice, i)
		}
	}
}

func TestAreaSkipsZeroRoundedDamage(t *testing.T) {
	r, _ := newTestResolver(t)

	deltas := r.Apply(Request{WallID: "wall-1", Offset: 37.5, Amount: 1, Kind: KindArea, Radius: 2}, 1)
	if len(deltas) != 1 {
		t.Fatalf("expected only the center slice to take damage, got %d deltas", len(deltas))
	}
	if deltas[0].Slice != 2 || deltas[0].NewHealth != 99 {
		t.Fatalf("expected center at health 99, got %+v", deltas[0])
	}
}

func TestAreaClampsCenterToWallEnd(t *testing.T) {
	r, _ := newTestResolver(t)

	deltas := r.Apply(Request{WallID: "wall-1", Offset: 500, Amount: 100, Kind: KindArea, Radius: 1}, 1)
	if len(deltas) != 2 {
		t.Fatalf("expected two deltas at the wall end, got %d", len(deltas))
	}
	if deltas[0].Slice != 3 || deltas[1].Slice != 4 {
		t.Fatalf("expected slices 3 and 4, got %d and %d", deltas[0].Slice, deltas[1].Slice)
	}
	if deltas[1].NewHealth != 0 || !deltas[1].Destroyed {
		t.Fatalf("expected full damage on clamped center, got %+v", deltas[1])
	}
}

func TestAreaSkipsDestroyedSlices(t *testing.T) {
	r, _ := newTestResolver(t)

	if deltas := r.Apply(Request{WallID: "wall-1", Offset: 37.5, Amount: 100, Kind: KindPoint}, 1); len(deltas) != 1 {
		t.Fatalf("expected setup hit to destroy center, got %+v", deltas)
	}

	deltas := r.Apply(Request{WallID: "wall-1", Offset: 37.5, Amount: 100, Kind: KindArea, Radius: 1}, 2)
	if len(deltas) != 2 {
		t.Fatalf("expected destroyed center to emit nothing, got %d deltas", len(deltas))
	}
	for _, d := range deltas {
		if d.Slice == 2 {
			t.Fatalf("expected no delta for destroyed center, got %+v", d)
		}
	}
}

func TestPointHitAtSeamBelongsToHigherSlice(t *testing.T) {
	r, _ := newTestResolver(t)

	deltas := r.Apply(Request{WallID: "wall-1", Offset: 15, Amount: 10, Kind: KindPoint}, 1)
	if len(deltas) != 1 || deltas[0].Slice != 1 {
		t.Fatalf("expected seam offset 15 to land in slice 1, got %+v", deltas)
	}
}

func TestPointOffsetClamping(t *testing.T) {
	r, _ := newTestResolver(t)

	deltas := r.Apply(Request{WallID: "wall-1", Offset: -25, Amount: 10, Kind: KindPoint}, 1)
	if len(deltas) != 1 || deltas[0].Slice != 0 {
		t.Fatalf("expected negative offset clamped into slice 0, got %+v", deltas)
	}
	if deltas[0].Puncture == nil || deltas[0].Puncture.Offset != 0 {
		t.Fatalf("expected puncture clamped to offset 0, got %+v", deltas[0].Puncture)
	}

	deltas = r.Apply(Request{WallID: "wall-1", Offset: 500, Amount: 10, Kind: KindPoint}, 2)
	if len(deltas) != 1 || deltas[0].Slice != 4 {
		t.Fatalf("expected overlong offset clamped into slice 4, got %+v", deltas)
	}
	if deltas[0].Puncture == nil || deltas[0].Puncture.Offset != 75 {
		t.Fatalf("expected puncture clamped to wall length, got %+v", deltas[0].Puncture)
	}
}

func TestUnknownWallIsNoOp(t *testing.T) {
	r, _ := newTestResolver(t)
	if deltas := r.Apply(Request{WallID: "wall-9", Offset: 7, Amount: 40, Kind: KindPoint}, 1); deltas != nil {
		t.Fatalf("expected unknown wall to produce nothing, got %+v", deltas)
	}
}

func TestNonPositiveAmountIsNoOp(t *testing.T) {
	r, _ := newTestResolver(t)
	if deltas := r.Apply(Request{WallID: "wall-1", Offset: 7, Amount: 0, Kind: KindPoint}, 1); deltas != nil {
		t.Fatalf("expected zero amount to produce nothing, got %+v", deltas)
	}
	if deltas := r.Apply(Request{WallID: "wall-1", Offset: 7, Amount: -40, Kind: KindArea, Radius: 2}, 1); deltas != nil {
		t.Fatalf("expected negative amount to produce nothing, got %+v", deltas)
	}
}

func TestUnknownKindDegradesToPoint(t *testing.T) {
	r, _ := newTestResolver(t)
	deltas := r.Apply(Request{WallID: "wall-1", Offset: 7, Amount: 40, Kind: Kind("railgun")}, 1)
	if len(deltas) != 1 || deltas[0].Slice != 0 || deltas[0].NewHealth != 60 {
		t.Fatalf("expected unrecognized kind to behave as a point hit, got %+v", deltas)
	}
}

type halfDamageTuning struct{}

func (halfDamageTuning) Falloff(distance, radius float64) float64 {
	f := 1 - distance*0.3
	if f < 0 {
		return 0
	}
	return f
}

func (halfDamageTuning) MaterialModifier(material, kind string) float64 { return 0.5 }

func (halfDamageTuning) PunctureAperture(kind string) float64 { return 0.3 }

func TestMaterialModifierScalesDamage(t *testing.T) {
	store, err := geom.NewStore([]geom.Wall{
		{ID: "wall-1", Min: mgl64.Vec2{100, 200}, Size: mgl64.Vec2{75, 15}, Material: "reinforced"},
	}, 5)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	led := ledger.New(ledger.Config{
		SliceCount: 5,
		Walls:      []ledger.WallInit{{ID: "wall-1", MaxHealth: 100}},
	})
	r := NewResolver(Config{Store: store, Ledger: led, Tuning: halfDamageTuning{}})

	deltas := r.Apply(Request{WallID: "wall-1", Offset: 7, Amount: 40, Kind: KindPoint}, 1)
	if len(deltas) != 1 || deltas[0].NewHealth != 80 {
		t.Fatalf("expected half modifier to deal 20 damage, got %+v", deltas)
	}
	if deltas[0].Puncture == nil || deltas[0].Puncture.Aperture != 0.3 {
		t.Fatalf("expected tuning aperture 0.3, got %+v", deltas[0].Puncture)
	}
}
