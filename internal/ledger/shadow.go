package ledger

// Shadow is an observer-side replica of the destruction ledger, built from
// keyframes and SliceDelta broadcasts. Its merge is idempotent and
// monotonic: the most destroyed state always wins, so duplicated or
// replayed deltas cannot resurrect health or reopen a destroyed slice.
type Shadow struct {
	walls map[string]*shadowWall
}

type shadowWall struct {
	lastSeq   uint64
	maxHealth int
	slices    []SliceState
}

// NewShadow returns an empty replica. Walls appear once a keyframe
// registers them.
func NewShadow() *Shadow {
	return &Shadow{walls: make(map[string]*shadowWall)}
}

// ApplyKeyframe replaces the replica's view of every wall in the snapshot.
// Keyframes carry the wall generation, so the replica re-bases its stale
// detection on them.
func (s *Shadow) ApplyKeyframe(snap Snapshot) {
	if s == nil {
		return
	}
	for id, state := range snap {
		s.walls[id] = &shadowWall{
			lastSeq:   state.Seq,
			maxHealth: state.MaxHealth,
			slices:    copySlices(state.Slices),
		}
	}
}

// Apply merges one delta into the replica. It reports false when the delta
// was discarded: unknown wall, out-of-range slice, stale generation, or a
// state less destroyed than what is already held.
func (s *Shadow) Apply(d SliceDelta) bool {
	if s == nil {
		return false
	}
	wall, ok := s.walls[d.WallID]
	if !ok {
		return false
	}
	if d.Slice < 0 || d.Slice >= len(wall.slices) {
		return false
	}
	if d.Seq <= wall.lastSeq {
		return false
	}

	slice := &wall.slices[d.Slice]
	if slice.Destroyed {
		// Terminal locally; the generation still advances so later
		// deltas for other slices are not misjudged as stale.
		wall.lastSeq = d.Seq
		return false
	}

	health := d.NewHealth
	if health < 0 {
		health = 0
	}
	destroyed := d.Destroyed || health == 0
	if !destroyed && health >= slice.Health {
		// Less destroyed than what we already hold.
		wall.lastSeq = d.Seq
		return false
	}

	slice.Health = health
	slice.Destroyed = destroyed
	switch {
	case destroyed:
		slice.Health = 0
		slice.Puncture = nil
	case d.Puncture != nil:
		p := *d.Puncture
		slice.Puncture = &p
	}
	wall.lastSeq = d.Seq
	return true
}

// Slice returns a copy of the replica's state for one slice.
func (s *Shadow) Slice(wallID string, idx int) (SliceState, bool) {
	if s == nil {
		return SliceState{}, false
	}
	wall, ok := s.walls[wallID]
	if !ok || idx < 0 || idx >= len(wall.slices) {
		return SliceState{}, false
	}
	return copySlice(wall.slices[idx]), true
}

// SliceStates returns a copy of every slice the replica holds for a wall.
func (s *Shadow) SliceStates(wallID string) ([]SliceState, bool) {
	if s == nil {
		return nil, false
	}
	wall, ok := s.walls[wallID]
	if !ok {
		return nil, false
	}
	return copySlices(wall.slices), true
}

// Seq returns the replica's last observed generation for a wall.
func (s *Shadow) Seq(wallID string) uint64 {
	if s == nil {
		return 0
	}
	wall, ok := s.walls[wallID]
	if !ok {
		return 0
	}
	return wall.lastSeq
}

// Snapshot deep-copies the replica in the same shape the authoritative
// ledger exports, which lets tests diff the two directly.
func (s *Shadow) Snapshot() Snapshot {
	if s == nil {
		return nil
	}
	snap := make(Snapshot, len(s.walls))
	for id, wall := range s.walls {
		snap[id] = WallState{
			Seq:       wall.lastSeq,
			MaxHealth: wall.maxHealth,
			Slices:    copySlices(wall.slices),
		}
	}
	return snap
}
