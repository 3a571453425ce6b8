package data

import (
	"hash/fnv"
	"math/rand"

	"github.com/go-gl/mathgl/mgl64"

	"breach-and-hold/server/internal/geom"
)

// spawnSafeRadius keeps the arena centre clear so spawning viewers never
// start inside a wall.
const spawnSafeRadius = 45.0

// DeterministicSeedValue hashes a root seed and subsystem label into a
// stable RNG seed.
func DeterministicSeedValue(rootSeed, label string) int64 {
	hasher := fnv.New64a()
	hasher.Write([]byte(rootSeed))
	hasher.Write([]byte{0})
	hasher.Write([]byte(label))
	sum := hasher.Sum64()
	if sum == 0 {
		sum = 1
	}
	return int64(sum)
}

// NewDeterministicRNG builds the RNG for a named subsystem so repeated runs
// with the same root seed reproduce the same arena.
func NewDeterministicRNG(rootSeed, label string) *rand.Rand {
	return rand.New(rand.NewSource(DeterministicSeedValue(rootSeed, label)))
}

// GenerateArena scatters non-overlapping walls across an empty arena, each
// assigned a material from the table. Placement is rejection-sampled, so
// crowded arenas come up short rather than loop forever.
func GenerateArena(width, height float64, wallCount int, seed string, materials *MaterialTable) *Arena {
	walls := geom.GenerateArena(geom.ArenaConfig{
		Width:           width,
		Height:          height,
		WallCount:       wallCount,
		SpawnPoint:      mgl64.Vec2{width / 2, height / 2},
		SpawnSafeRadius: spawnSafeRadius,
		Materials:       materials.Names(),
	}, NewDeterministicRNG(seed, "arena.walls"))
	return GeneratedArena(width, height, walls)
}
