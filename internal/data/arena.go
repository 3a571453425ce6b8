// Package data loads the YAML tables a match is built from: the arena
// layout and the material table. Loaders validate eagerly so a bad file
// fails at startup instead of mid-match.
package data

import (
	"os"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"breach-and-hold/server/internal/geom"
	"breach-and-hold/server/internal/ledger"
)

// DefaultMaxHealth is the per-slice health used when neither the wall nor
// its material specifies one.
const DefaultMaxHealth = 100

type arenaFile struct {
	Width  float64     `yaml:"width"`
	Height float64     `yaml:"height"`
	Walls  []arenaWall `yaml:"walls"`
}

type arenaWall struct {
	ID        string  `yaml:"id"`
	X         float64 `yaml:"x"`
	Y         float64 `yaml:"y"`
	Width     float64 `yaml:"width"`
	Height    float64 `yaml:"height"`
	Material  string  `yaml:"material"`
	MaxHealth int     `yaml:"max_health"`
}

// Arena is a validated arena layout.
type Arena struct {
	Width  float64
	Height float64
	Walls  []geom.Wall

	// healthOverrides holds per-wall max health from the arena file,
	// taking precedence over the material table.
	healthOverrides map[string]int
}

// LoadArena reads and validates an arena YAML file. Validation reuses the
// store constructor, so overlapping or degenerate walls are rejected here
// rather than at match start.
func LoadArena(path string) (*Arena, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read arena file")
	}
	var file arenaFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, errors.Wrap(err, "parse arena yaml")
	}
	if file.Width <= 0 || file.Height <= 0 {
		return nil, errors.Errorf("arena dimensions %vx%v must be positive", file.Width, file.Height)
	}

	a := &Arena{
		Width:           file.Width,
		Height:          file.Height,
		Walls:           make([]geom.Wall, 0, len(file.Walls)),
		healthOverrides: make(map[string]int),
	}
	for i, w := range file.Walls {
		if w.ID == "" {
			return nil, errors.Errorf("wall %d: missing id", i)
		}
		a.Walls = append(a.Walls, geom.Wall{
			ID:       w.ID,
			Min:      mgl64.Vec2{w.X, w.Y},
			Size:     mgl64.Vec2{w.Width, w.Height},
			Material: w.Material,
		})
		if w.MaxHealth > 0 {
			a.healthOverrides[w.ID] = w.MaxHealth
		}
	}

	if _, err := geom.NewStore(a.Walls, geom.DefaultSliceCount); err != nil {
		return nil, errors.Wrap(err, "validate arena walls")
	}
	return a, nil
}

// GeneratedArena wraps a procedurally generated wall set in the same shape
// the YAML loader produces, for servers running without an arena file.
func GeneratedArena(width, height float64, walls []geom.Wall) *Arena {
	return &Arena{
		Width:           width,
		Height:          height,
		Walls:           walls,
		healthOverrides: make(map[string]int),
	}
}

// WallInits resolves per-slice max health for every wall: the arena file
// override first, then the wall's material, then the package default.
func (a *Arena) WallInits(materials *MaterialTable) []ledger.WallInit {
	if a == nil {
		return nil
	}
	inits := make([]ledger.WallInit, 0, len(a.Walls))
	for _, w := range a.Walls {
		health := DefaultMaxHealth
		if m, ok := materials.Get(w.Material); ok {
			health = m.MaxHealth
		}
		if override, ok := a.healthOverrides[w.ID]; ok {
			health = override
		}
		inits = append(inits, ledger.WallInit{ID: w.ID, MaxHealth: health})
	}
	return inits
}
