package sim

import (
	"breach-and-hold/server/internal/ledger"
	"breach-and-hold/server/internal/vis"
)

// Snapshot captures the state exposed to non-simulation callers. Wall and
// viewer data are copies; callers may keep them across ticks.
type Snapshot struct {
	Tick    uint64          `json:"tick"`
	Walls   ledger.Snapshot `json:"walls"`
	Viewers []vis.Viewer    `json:"viewers,omitempty"`
}
