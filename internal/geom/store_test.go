package geom

import (
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestNewStoreRejectsDuplicateID(t *testing.T) {
	walls := []Wall{
		{ID: "W1", Min: mgl64.Vec2{0, 0}, Size: mgl64.Vec2{60, 10}},
		{ID: "W1", Min: mgl64.Vec2{0, 100}, Size: mgl64.Vec2{60, 10}},
	}
	if _, err := NewStore(walls, 5); err == nil {
		t.Fatalf("expected duplicate id to be rejected")
	}
}

func TestNewStoreRejectsDegenerateWall(t *testing.T) {
	walls := []Wall{{ID: "W1", Min: mgl64.Vec2{0, 0}, Size: mgl64.Vec2{60, 0}}}
	if _, err := NewStore(walls, 5); err == nil {
		t.Fatalf("expected degenerate wall to be rejected")
	}
}

func TestNewStoreRejectsOverlap(t *testing.T) {
	walls := []Wall{
		{ID: "W1", Min: mgl64.Vec2{0, 0}, Size: mgl64.Vec2{60, 10}},
		{ID: "W2", Min: mgl64.Vec2{30, 5}, Size: mgl64.Vec2{60, 10}},
	}
	if _, err := NewStore(walls, 5); err == nil {
		t.Fatalf("expected overlapping walls to be rejected")
	}
}

func TestStoreWallsNear(t *testing.T) {
	walls := []Wall{
		{ID: "near", Min: mgl64.Vec2{100, 100}, Size: mgl64.Vec2{60, 10}},
		{ID: "far", Min: mgl64.Vec2{500, 500}, Size: mgl64.Vec2{60, 10}},
	}
	store, err := NewStore(walls, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := store.WallsNear(mgl64.Vec2{110, 90}, 30)
	if len(got) != 1 || got[0].ID != "near" {
		t.Fatalf("expected only the near wall, got %d walls", len(got))
	}

	if got := store.WallsNear(mgl64.Vec2{110, 90}, 0); got != nil {
		t.Fatalf("expected no walls for zero radius, got %d", len(got))
	}
}

func TestStoreIterationOrderStable(t *testing.T) {
	walls := []Wall{
		{ID: "b", Min: mgl64.Vec2{0, 0}, Size: mgl64.Vec2{30, 10}},
		{ID: "a", Min: mgl64.Vec2{0, 50}, Size: mgl64.Vec2{30, 10}},
		{ID: "c", Min: mgl64.Vec2{0, 100}, Size: mgl64.Vec2{30, 10}},
	}
	store, err := NewStore(walls, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	order := store.Walls()
	want := []string{"b", "a", "c"}
	for i, w := range order {
		if w.ID != want[i] {
			t.Fatalf("expected wall %q at position %d, got %q", want[i], i, w.ID)
		}
	}
}

func TestGenerateArenaDeterministic(t *testing.T) {
	cfg := ArenaConfig{
		Width:           960,
		Height:          540,
		WallCount:       12,
		SpawnPoint:      mgl64.Vec2{80, 80},
		SpawnSafeRadius: 60,
	}

	first := GenerateArena(cfg, rand.New(rand.NewSource(7)))
	second := GenerateArena(cfg, rand.New(rand.NewSource(7)))

	if len(first) == 0 {
		t.Fatalf("expected at least one wall to be placed")
	}
	if len(first) != len(second) {
		t.Fatalf("expected identical wall counts, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("wall %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestGenerateArenaRespectsSpawnAndSpacing(t *testing.T) {
	cfg := ArenaConfig{
		Width:           960,
		Height:          540,
		WallCount:       16,
		SpawnPoint:      mgl64.Vec2{80, 80},
		SpawnSafeRadius: 60,
	}
	walls := GenerateArena(cfg, rand.New(rand.NewSource(3)))

	for i, w := range walls {
		if w.Rect().OverlapsCircle(cfg.SpawnPoint, cfg.SpawnSafeRadius) {
			t.Fatalf("wall %d intrudes on the spawn area", i)
		}
		for j := i + 1; j < len(walls); j++ {
			if w.Rect().Overlaps(walls[j].Rect(), 0) {
				t.Fatalf("walls %d and %d overlap", i, j)
			}
		}
	}

	store, err := NewStore(walls, 5)
	if err != nil {
		t.Fatalf("generated arena failed store validation: %v", err)
	}
	if store.Len() != len(walls) {
		t.Fatalf("expected %d walls in store, got %d", len(walls), store.Len())
	}
}
