package geom

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// Store holds the immutable wall set for a match and answers spatial queries
// against it. It is safe for concurrent readers because nothing mutates after
// construction.
type Store struct {
	walls  map[string]*Wall
	order  []string
	slices int
}

// NewStore validates and indexes the provided walls. Duplicate ids and
// degenerate rectangles are rejected; overlapping walls are rejected because
// slice offsets would become ambiguous for damage attribution.
func NewStore(walls []Wall, sliceCount int) (*Store, error) {
	if sliceCount < 1 {
		sliceCount = DefaultSliceCount
	}
	s := &Store{
		walls:  make(map[string]*Wall, len(walls)),
		order:  make([]string, 0, len(walls)),
		slices: sliceCount,
	}
	for i := range walls {
		w := walls[i]
		if w.ID == "" {
			return nil, fmt.Errorf("wall %d: missing id", i)
		}
		if w.Size.X() <= 0 || w.Size.Y() <= 0 {
			return nil, fmt.Errorf("wall %s: degenerate size %vx%v", w.ID, w.Size.X(), w.Size.Y())
		}
		if _, exists := s.walls[w.ID]; exists {
			return nil, fmt.Errorf("wall %s: duplicate id", w.ID)
		}
		for _, id := range s.order {
			if s.walls[id].Rect().Overlaps(w.Rect(), 0) {
				return nil, fmt.Errorf("wall %s overlaps wall %s", w.ID, id)
			}
		}
		s.walls[w.ID] = &w
		s.order = append(s.order, w.ID)
	}
	return s, nil
}

// SliceCount returns the per-wall partition count for this match.
func (s *Store) SliceCount() int {
	if s == nil {
		return DefaultSliceCount
	}
	return s.slices
}

// Wall looks up a wall by id.
func (s *Store) Wall(id string) (*Wall, bool) {
	if s == nil {
		return nil, false
	}
	w, ok := s.walls[id]
	return w, ok
}

// Walls returns every wall in insertion order.
func (s *Store) Walls() []*Wall {
	if s == nil {
		return nil
	}
	out := make([]*Wall, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.walls[id])
	}
	return out
}

// Len reports the number of walls.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// WallsNear returns the walls whose bounding box intersects the given circle,
// in insertion order.
func (s *Store) WallsNear(center mgl64.Vec2, radius float64) []*Wall {
	if s == nil || radius <= 0 {
		return nil
	}
	var out []*Wall
	for _, id := range s.order {
		w := s.walls[id]
		if w.Rect().OverlapsCircle(center, radius) {
			out = append(out, w)
		}
	}
	return out
}
