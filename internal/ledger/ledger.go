// Package ledger tracks per-slice destruction state for every wall in a
// match. The authoritative Ledger is owned exclusively by the simulation
// tick; observers hold Shadow copies fed by SliceDelta broadcasts.
package ledger

// Puncture is a localized opening in a slice that still has health. It
// affects visibility only, never collision, and is discarded the moment its
// slice is destroyed.
type Puncture struct {
	Offset   float64 // run-local distance along the wall
	Aperture float64 // radians
	Depth    float64 // world units beyond the wall face
}

// SliceState is the mutable destruction state of one wall slice.
// Invariant: Destroyed == (Health == 0), and a destroyed slice carries no
// puncture.
type SliceState struct {
	Health    int
	Destroyed bool
	Puncture  *Puncture
}

// Phase classifies a slice within the INTACT → DAMAGED → DESTROYED state
// machine. DESTROYED is terminal.
type Phase string

const (
	PhaseIntact    Phase = "INTACT"
	PhaseDamaged   Phase = "DAMAGED"
	PhaseDestroyed Phase = "DESTROYED"
)

// Phase returns the slice's position in the destruction state machine.
func (s SliceState) Phase(maxHealth int) Phase {
	switch {
	case s.Destroyed:
		return PhaseDestroyed
	case s.Health >= maxHealth:
		return PhaseIntact
	default:
		return PhaseDamaged
	}
}

// SliceDelta is the unit of synchronization: exactly one is emitted per
// slice transition. Seq is a per-wall monotonic generation so observers can
// discard stale or duplicated deltas.
type SliceDelta struct {
	WallID    string
	Slice     int
	NewHealth int
	Destroyed bool
	Puncture  *Puncture
	Seq       uint64
	Tick      uint64
}

// WallInit seeds a wall record at match start.
type WallInit struct {
	ID        string
	MaxHealth int
}

// Config describes the ledger layout for one match.
type Config struct {
	SliceCount int
	Walls      []WallInit
}

type wallRecord struct {
	maxHealth int
	seq       uint64
	slices    []SliceState
}

// Ledger is the authoritative destruction state. It is not safe for
// concurrent use: all mutation happens on the simulation tick, and readers
// work from Snapshot copies.
type Ledger struct {
	sliceCount int
	walls      map[string]*wallRecord
	order      []string
}

// New builds a fresh all-INTACT ledger.
func New(cfg Config) *Ledger {
	count := cfg.SliceCount
	if count < 1 {
		count = 1
	}
	l := &Ledger{
		sliceCount: count,
		walls:      make(map[string]*wallRecord, len(cfg.Walls)),
		order:      make([]string, 0, len(cfg.Walls)),
	}
	for _, w := range cfg.Walls {
		if w.ID == "" {
			continue
		}
		if _, exists := l.walls[w.ID]; exists {
			continue
		}
		max := w.MaxHealth
		if max < 1 {
			max = 1
		}
		l.walls[w.ID] = newWallRecord(max, count)
		l.order = append(l.order, w.ID)
	}
	return l
}

func newWallRecord(maxHealth, sliceCount int) *wallRecord {
	rec := &wallRecord{
		maxHealth: maxHealth,
		slices:    make([]SliceState, sliceCount),
	}
	for i := range rec.slices {
		rec.slices[i] = SliceState{Health: maxHealth}
	}
	return rec
}

// SliceCount returns the per-wall partition count.
func (l *Ledger) SliceCount() int {
	if l == nil {
		return 0
	}
	return l.sliceCount
}

// MaxHealth returns the per-slice health cap for a wall.
func (l *Ledger) MaxHealth(wallID string) (int, bool) {
	if l == nil {
		return 0, false
	}
	rec, ok := l.walls[wallID]
	if !ok {
		return 0, false
	}
	return rec.maxHealth, true
}

// Seq returns the wall's current generation counter.
func (l *Ledger) Seq(wallID string) uint64 {
	if l == nil {
		return 0
	}
	rec, ok := l.walls[wallID]
	if !ok {
		return 0
	}
	return rec.seq
}

// Slice returns a copy of one slice's state.
func (l *Ledger) Slice(wallID string, idx int) (SliceState, bool) {
	if l == nil {
		return SliceState{}, false
	}
	rec, ok := l.walls[wallID]
	if !ok || idx < 0 || idx >= len(rec.slices) {
		return SliceState{}, false
	}
	return copySlice(rec.slices[idx]), true
}

// SliceStates returns a copy of every slice state for a wall.
func (l *Ledger) SliceStates(wallID string) ([]SliceState, bool) {
	if l == nil {
		return nil, false
	}
	rec, ok := l.walls[wallID]
	if !ok {
		return nil, false
	}
	return copySlices(rec.slices), true
}

// DamageSlice is the single mutation choke point. It clamps health at zero,
// enforces the terminal DESTROYED phase, records or replaces the puncture on
// survivors, discards punctures on destruction, bumps the wall generation,
// and stamps exactly one delta for the transition. A no-op (unknown wall,
// out-of-range slice, non-positive amount, already-destroyed slice) returns
// ok=false and emits nothing.
func (l *Ledger) DamageSlice(wallID string, idx, amount int, punc Puncture, tick uint64) (SliceDelta, bool) {
	if l == nil || amount <= 0 {
		return SliceDelta{}, false
	}
	rec, ok := l.walls[wallID]
	if !ok || idx < 0 || idx >= len(rec.slices) {
		return SliceDelta{}, false
	}

	slice := &rec.slices[idx]
	if slice.Destroyed {
		return SliceDelta{}, false
	}

	health := slice.Health - amount
	if health < 0 {
		health = 0
	}

	slice.Health = health
	if health == 0 {
		slice.Destroyed = true
		slice.Puncture = nil
	} else {
		p := punc
		slice.Puncture = &p
	}
	rec.seq++

	delta := SliceDelta{
		WallID:    wallID,
		Slice:     idx,
		NewHealth: health,
		Destroyed: slice.Destroyed,
		Seq:       rec.seq,
		Tick:      tick,
	}
	if slice.Puncture != nil {
		p := *slice.Puncture
		delta.Puncture = &p
	}
	return delta, true
}

// Reset restores every slice to full health for a new match.
func (l *Ledger) Reset() {
	if l == nil {
		return
	}
	for _, id := range l.order {
		rec := l.walls[id]
		l.walls[id] = newWallRecord(rec.maxHealth, l.sliceCount)
	}
}

// WallState is a read-only copy of one wall's destruction state.
type WallState struct {
	Seq       uint64
	MaxHealth int
	Slices    []SliceState
}

// Snapshot maps wall id to a deep copy of its state. Snapshots are safe to
// share across goroutines.
type Snapshot map[string]WallState

// Snapshot deep-copies the full ledger for readers outside the tick.
func (l *Ledger) Snapshot() Snapshot {
	if l == nil {
		return nil
	}
	snap := make(Snapshot, len(l.walls))
	for _, id := range l.order {
		rec := l.walls[id]
		snap[id] = WallState{
			Seq:       rec.seq,
			MaxHealth: rec.maxHealth,
			Slices:    copySlices(rec.slices),
		}
	}
	return snap
}

func copySlice(s SliceState) SliceState {
	out := s
	if s.Puncture != nil {
		p := *s.Puncture
		out.Puncture = &p
	}
	return out
}

func copySlices(slices []SliceState) []SliceState {
	out := make([]SliceState, len(slices))
	for i := range slices {
		out[i] = copySlice(slices[i])
	}
	return out
}
