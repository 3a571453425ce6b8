package sim

import "breach-and-hold/server/internal/ledger"

// Engine defines the minimal surface area exposed to non-simulation callers.
type Engine interface {
	Apply([]Command) error
	Step()
	Snapshot() Snapshot
	DrainDeltas() []ledger.SliceDelta
	SnapshotDeltas() []ledger.SliceDelta
	RestoreDeltas([]ledger.SliceDelta)
	RecordKeyframe() (Keyframe, KeyframeRecordResult)
	KeyframeBySequence(uint64) (Keyframe, bool)
	KeyframeWindow() (int, uint64, uint64)
}

// EngineCore extends the engine surface with the dependency accessor the
// loop needs for queue metrics and logging.
type EngineCore interface {
	Engine
	Deps() Deps
}
