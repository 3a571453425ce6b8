package geom

import (
	"fmt"
	"math/rand"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	wallMinLength    = 60.0
	wallMaxLength    = 180.0
	wallMinThickness = 10.0
	wallMaxThickness = 20.0
	wallSpawnMargin  = 24.0
	wallSpacing      = 16.0
)

// ArenaConfig tunes procedural wall placement for matches without an
// authored arena file.
type ArenaConfig struct {
	Width           float64
	Height          float64
	WallCount       int
	SpawnPoint      mgl64.Vec2
	SpawnSafeRadius float64

	// Material is applied to every wall. Materials, when non-empty, takes
	// precedence and draws one entry per wall from the rng stream.
	Material  string
	Materials []string
}

// GenerateArena scatters non-overlapping axis-aligned walls around the
// play field, keeping the spawn area clear. Placement is deterministic for a
// given rng seed.
func GenerateArena(cfg ArenaConfig, rng *rand.Rand) []Wall {
	count := cfg.WallCount
	if count < 0 {
		count = 0
	}
	material := cfg.Material
	if material == "" {
		material = "concrete"
	}

	walls := make([]Wall, 0, count)
	if rng == nil || count == 0 {
		return walls
	}

	attempts := 0
	maxAttempts := count * 20

	for len(walls) < count && attempts < maxAttempts {
		attempts++

		length := wallMinLength + rng.Float64()*(wallMaxLength-wallMinLength)
		thickness := wallMinThickness + rng.Float64()*(wallMaxThickness-wallMinThickness)

		size := mgl64.Vec2{length, thickness}
		if rng.Intn(2) == 1 {
			size = mgl64.Vec2{thickness, length}
		}

		maxX := cfg.Width - wallSpawnMargin - size.X()
		maxY := cfg.Height - wallSpawnMargin - size.Y()
		if maxX <= wallSpawnMargin || maxY <= wallSpawnMargin {
			break
		}

		min := mgl64.Vec2{
			wallSpawnMargin + rng.Float64()*(maxX-wallSpawnMargin),
			wallSpawnMargin + rng.Float64()*(maxY-wallSpawnMargin),
		}

		m := material
		if len(cfg.Materials) > 0 {
			m = cfg.Materials[rng.Intn(len(cfg.Materials))]
		}

		candidate := Wall{
			ID:       fmt.Sprintf("wall-%d", len(walls)+1),
			Min:      min,
			Size:     size,
			Material: m,
		}

		if cfg.SpawnSafeRadius > 0 && candidate.Rect().OverlapsCircle(cfg.SpawnPoint, cfg.SpawnSafeRadius) {
			continue
		}

		overlaps := false
		for _, existing := range walls {
			if candidate.Rect().Overlaps(existing.Rect(), wallSpacing) {
				overlaps = true
				break
			}
		}
		if overlaps {
			continue
		}

		walls = append(walls, candidate)
	}

	return walls
}
