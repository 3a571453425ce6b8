package ledger

import "testing"

func newTestShadow() *Shadow {
	s := NewShadow()
	s.ApplyKeyframe(Snapshot{
		"wall-1": {
			MaxHealth: 100,
			Slices: []SliceState{
				{Health: 100}, {Health: 100}, {Health: 100}, {Health: 100}, {Health: 100},
			},
		},
	})
	return s
}

func TestShadowAppliesDelta(t *testing.T) {
	s := newTestShadow()

	ok := s.Apply(SliceDelta{
		WallID:    "wall-1",
		Slice:     0,
		NewHealth: 60,
		Puncture:  &Puncture{Offset: 7, Aperture: 0.26, Depth: 30},
		Seq:       1,
	})
	if !ok {
		t.Fatalf("expected delta to apply")
	}
	state, _ := s.Slice("wall-1", 0)
	if state.Health != 60 || state.Destroyed {
		t.Fatalf("expected health 60 intact, got %+v", state)
	}
	if state.Puncture == nil || state.Puncture.Offset != 7 {
		t.Fatalf("expected puncture recorded, got %+v", state.Puncture)
	}
}

func TestShadowReplayIsIdempotent(t *testing.T) {
	s := newTestShadow()
	d := SliceDelta{WallID: "wall-1", Slice: 0, NewHealth: 60, Seq: 1}

	if !s.Apply(d) {
		t.Fatalf("expected first apply to succeed")
	}
	if s.Apply(d) {
		t.Fatalf("expected replayed delta to be discarded")
	}
	state, _ := s.Slice("wall-1", 0)
	if state.Health != 60 {
		t.Fatalf("expected health unchanged at 60, got %d", state.Health)
	}
}

func TestShadowDiscardsStaleSeq(t *testing.T) {
	s := newTestShadow()

	s.Apply(SliceDelta{WallID: "wall-1", Slice: 0, NewHealth: 20, Seq: 2})
	if s.Apply(SliceDelta{WallID: "wall-1", Slice: 0, NewHealth: 60, Seq: 1}) {
		t.Fatalf("expected older generation to be discarded")
	}
	state, _ := s.Slice("wall-1", 0)
	if state.Health != 20 {
		t.Fatalf("expected health to stay 20, got %d", state.Health)
	}
}

func TestShadowMostDestroyedWins(t *testing.T) {
	s := newTestShadow()

	s.Apply(SliceDelta{WallID: "wall-1", Slice: 1, NewHealth: 20, Seq: 1})
	if s.Apply(SliceDelta{WallID: "wall-1", Slice: 1, NewHealth: 60, Seq: 2}) {
		t.Fatalf("expected less-destroyed delta to be discarded")
	}
	state, _ := s.Slice("wall-1", 1)
	if state.Health != 20 {
		t.Fatalf("expected health to stay 20, got %d", state.Health)
	}
}

func TestShadowDestroyedIsTerminal(t *testing.T) {
	s := newTestShadow()

	s.Apply(SliceDelta{WallID: "wall-1", Slice: 2, NewHealth: 0, Destroyed: true, Seq: 1})
	if s.Apply(SliceDelta{WallID: "wall-1", Slice: 2, NewHealth: 40, Seq: 2}) {
		t.Fatalf("expected destroyed slice to reject resurrection")
	}
	state, _ := s.Slice("wall-1", 2)
	if !state.Destroyed || state.Health != 0 {
		t.Fatalf("expected slice to stay destroyed, got %+v", state)
	}
}

func TestShadowDestructionClearsPuncture(t *testing.T) {
	s := newTestShadow()

	s.Apply(SliceDelta{WallID: "wall-1", Slice: 0, NewHealth: 40, Puncture: &Puncture{Offset: 7}, Seq: 1})
	s.Apply(SliceDelta{WallID: "wall-1", Slice: 0, NewHealth: 0, Destroyed: true, Seq: 2})

	state, _ := s.Slice("wall-1", 0)
	if state.Puncture != nil {
		t.Fatalf("expected puncture discarded on destruction, got %+v", state.Puncture)
	}
}

func TestShadowNonDestroyingDeltaKeepsPuncture(t *testing.T) {
	s := newTestShadow()

	s.Apply(SliceDelta{WallID: "wall-1", Slice: 0, NewHealth: 60, Puncture: &Puncture{Offset: 7}, Seq: 1})
	s.Apply(SliceDelta{WallID: "wall-1", Slice: 0, NewHealth: 20, Seq: 2})

	state, _ := s.Slice("wall-1", 0)
	if state.Puncture == nil || state.Puncture.Offset != 7 {
		t.Fatalf("expected earlier puncture kept, got %+v", state.Puncture)
	}
}

func TestShadowRejectsUnknownWall(t *testing.T) {
	s := NewShadow()
	if s.Apply(SliceDelta{WallID: "wall-1", Slice: 0, NewHealth: 60, Seq: 1}) {
		t.Fatalf("expected delta for unregistered wall to be discarded")
	}
}

func TestShadowKeyframeRebasesSeq(t *testing.T) {
	s := NewShadow()
	s.ApplyKeyframe(Snapshot{
		"wall-1": {
			Seq:       10,
			MaxHealth: 100,
			Slices:    []SliceState{{Health: 40}, {Health: 100}, {Health: 100}, {Health: 100}, {Health: 100}},
		},
	})

	if s.Apply(SliceDelta{WallID: "wall-1", Slice: 1, NewHealth: 60, Seq: 5}) {
		t.Fatalf("expected pre-keyframe delta to be discarded")
	}
	if !s.Apply(SliceDelta{WallID: "wall-1", Slice: 1, NewHealth: 60, Seq: 11}) {
		t.Fatalf("expected post-keyframe delta to apply")
	}
}

func TestShadowConvergesWithLedger(t *testing.T) {
	l := newTestLedger()
	s := NewShadow()
	s.ApplyKeyframe(l.Snapshot())

	hits := []struct {
		wall   string
		slice  int
		amount int
		offset float64
	}{
		{"wall-1", 0, 40, 7},
		{"wall-1", 0, 40, 3},
		{"wall-1", 2, 100, 37},
		{"wall-2", 4, 250, 70},
		{"wall-1", 0, 40, 9},
	}
	var deltas []SliceDelta
	for i, h := range hits {
		d, ok := l.DamageSlice(h.wall, h.slice, h.amount, Puncture{Offset: h.offset, Aperture: 0.26, Depth: 30}, uint64(i))
		if !ok {
			t.Fatalf("hit %d unexpectedly rejected", i)
		}
		deltas = append(deltas, d)
	}

	// Deliver every delta twice; the replay must change nothing.
	for _, d := range deltas {
		s.Apply(d)
		s.Apply(d)
	}

	want := l.Snapshot()
	got := s.Snapshot()
	for id, w := range want {
		g, ok := got[id]
		if !ok {
			t.Fatalf("wall %s missing from shadow", id)
		}
		if g.Seq != w.Seq {
			t.Fatalf("wall %s: expected seq %d, got %d", id, w.Seq, g.Seq)
		}
		for i := range w.Slices {
			ws, gs := w.Slices[i], g.Slices[i]
			if ws.Health != gs.Health || ws.Destroyed != gs.Destroyed {
				t.Fatalf("wall %s slice %d: expected %+v, got %+v", id, i, ws, gs)
			}
			if (ws.Puncture == nil) != (gs.Puncture == nil) {
				t.Fatalf("wall %s slice %d: puncture mismatch %+v vs %+v", id, i, ws.Puncture, gs.Puncture)
			}
			if ws.Puncture != nil && ws.Puncture.Offset != gs.Puncture.Offset {
				t.Fatalf("wall %s slice %d: puncture offset %v vs %v", id, i, ws.Puncture.Offset, gs.Puncture.Offset)
			}
		}
	}
}
