package sim

import (
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"breach-and-hold/server/internal/damage"
	"breach-and-hold/server/internal/geom"
	"breach-and-hold/server/internal/ledger"
	"breach-and-hold/server/internal/vis"
)

// DefaultViewerTimeout prunes viewers whose connection stopped heartbeating.
const DefaultViewerTimeout = 30 * time.Second

const (
	metricDamageDeltas      = "sim_damage_deltas_total"
	metricDamageAbsorbed    = "sim_damage_absorbed_total"
	metricDamageUnknownWall = "sim_damage_unknown_wall_total"
	metricMatchResets       = "sim_match_resets_total"
	metricViewersPruned     = "sim_viewers_pruned_total"
	metricInvalidCommands   = "sim_commands_invalid_total"
)

var (
	// ErrMissingStore indicates NewCore was invoked without a geometry store.
	ErrMissingStore = errors.New("sim: geometry store is nil")
	// ErrMissingLedger indicates NewCore was invoked without a ledger.
	ErrMissingLedger = errors.New("sim: ledger is nil")
	// ErrMissingResolver indicates NewCore was invoked without a damage resolver.
	ErrMissingResolver = errors.New("sim: damage resolver is nil")
)

// CoreConfig assembles the collaborators for a match core.
type CoreConfig struct {
	Store         *geom.Store
	Ledger        *ledger.Ledger
	Resolver      *damage.Resolver
	Journal       *Journal
	ViewerTimeout time.Duration
	Deps          Deps
}

// Core owns the authoritative match state: the wall ledger, the damage
// resolver, and the last reported viewer states. Apart from the
// journal-backed keyframe queries, methods must run on the simulation
// goroutine.
type Core struct {
	deps     Deps
	store    *geom.Store
	led      *ledger.Ledger
	resolver *damage.Resolver
	journal  *Journal

	viewerTimeout time.Duration

	tick        uint64
	now         time.Time
	keyframeSeq uint64

	viewers  map[string]vis.Viewer
	lastSeen map[string]time.Time
	removed  []string
}

// NewCore validates the collaborators and builds a match core.
func NewCore(cfg CoreConfig) (*Core, error) {
	if cfg.Store == nil {
		return nil, ErrMissingStore
	}
	if cfg.Ledger == nil {
		return nil, ErrMissingLedger
	}
	if cfg.Resolver == nil {
		return nil, ErrMissingResolver
	}
	journal := cfg.Journal
	if journal == nil {
		journal = NewJournal(DefaultKeyframeCapacity, DefaultKeyframeMaxAge, cfg.Deps.Metrics)
	}
	timeout := cfg.ViewerTimeout
	if timeout <= 0 {
		timeout = DefaultViewerTimeout
	}
	return &Core{
		deps:          cfg.Deps,
		store:         cfg.Store,
		led:           cfg.Ledger,
		resolver:      cfg.Resolver,
		journal:       journal,
		viewerTimeout: timeout,
		viewers:       make(map[string]vis.Viewer),
		lastSeen:      make(map[string]time.Time),
	}, nil
}

// Deps returns the injected infrastructure dependencies.
func (c *Core) Deps() Deps {
	if c == nil {
		return Deps{}
	}
	return c.deps
}

// PrepareStep installs the timing context for the next Apply/Step pair.
func (c *Core) PrepareStep(tick uint64, now time.Time, delta float64) {
	if c == nil {
		return
	}
	c.tick = tick
	c.now = now
	_ = delta
}

// Apply processes staged commands in arrival order.
func (c *Core) Apply(cmds []Command) error {
	if c == nil {
		return nil
	}
	for _, cmd := range cmds {
		switch cmd.Type {
		case CommandDamage:
			c.applyDamage(cmd)
		case CommandViewer:
			c.applyViewer(cmd)
		case CommandViewerRemove:
			if cmd.ActorID == "" {
				c.countInvalid(cmd)
				continue
			}
			c.dropViewer(cmd.ActorID)
		case CommandHeartbeat:
			c.applyHeartbeat(cmd)
		case CommandReset:
			c.applyReset()
		default:
			c.countInvalid(cmd)
		}
	}
	return nil
}

func (c *Core) applyDamage(cmd Command) {
	if cmd.Damage == nil {
		c.countInvalid(cmd)
		return
	}
	deltas := c.resolver.Apply(*cmd.Damage, c.tick)
	if len(deltas) == 0 {
		if _, known := c.store.Wall(cmd.Damage.WallID); !known {
			if c.deps.Logger != nil {
				c.deps.Logger.Debug("damage for unknown wall",
					zap.String("actor", cmd.ActorID),
					zap.String("wall", cmd.Damage.WallID),
				)
			}
			if c.deps.Metrics != nil {
				c.deps.Metrics.Add(metricDamageUnknownWall, 1)
			}
			return
		}
		if c.deps.Metrics != nil {
			c.deps.Metrics.Add(metricDamageAbsorbed, 1)
		}
		return
	}
	for _, d := range deltas {
		c.journal.AppendDelta(d)
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.Add(metricDamageDeltas, uint64(len(deltas)))
	}
}

func (c *Core) applyViewer(cmd Command) {
	if cmd.Viewer == nil || cmd.Viewer.ID == "" {
		c.countInvalid(cmd)
		return
	}
	c.viewers[cmd.Viewer.ID] = *cmd.Viewer
	when := cmd.IssuedAt
	if when.IsZero() {
		when = c.now
	}
	c.lastSeen[cmd.Viewer.ID] = when
}

func (c *Core) applyHeartbeat(cmd Command) {
	if cmd.ActorID == "" {
		c.countInvalid(cmd)
		return
	}
	if _, ok := c.viewers[cmd.ActorID]; !ok {
		return
	}
	when := c.now
	if cmd.Heartbeat != nil && !cmd.Heartbeat.ReceivedAt.IsZero() {
		when = cmd.Heartbeat.ReceivedAt
	}
	c.lastSeen[cmd.ActorID] = when
}

func (c *Core) applyReset() {
	c.led.Reset()
	c.journal.Reset()
	if c.deps.Metrics != nil {
		c.deps.Metrics.Add(metricMatchResets, 1)
	}
	if c.deps.Logger != nil {
		c.deps.Logger.Info("match reset", zap.Uint64("tick", c.tick))
	}
}

func (c *Core) countInvalid(cmd Command) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.Add(metricInvalidCommands, 1)
	}
	if c.deps.Logger != nil {
		c.deps.Logger.Debug("invalid command",
			zap.String("type", string(cmd.Type)),
			zap.String("actor", cmd.ActorID),
		)
	}
}

// Step advances per-tick housekeeping. Wall state only changes through
// damage commands, so the step itself just expires silent viewers.
func (c *Core) Step() {
	if c == nil || c.viewerTimeout <= 0 || c.now.IsZero() {
		return
	}
	var stale []string
	for id, seen := range c.lastSeen {
		if c.now.Sub(seen) > c.viewerTimeout {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return
	}
	sort.Strings(stale)
	for _, id := range stale {
		c.dropViewer(id)
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.Add(metricViewersPruned, uint64(len(stale)))
	}
	if c.deps.Logger != nil {
		c.deps.Logger.Debug("pruned silent viewers",
			zap.Strings("viewers", stale),
			zap.Uint64("tick", c.tick),
		)
	}
}

func (c *Core) dropViewer(id string) {
	if _, ok := c.viewers[id]; !ok {
		delete(c.lastSeen, id)
		return
	}
	delete(c.viewers, id)
	delete(c.lastSeen, id)
	c.removed = append(c.removed, id)
}

// Snapshot captures the current tick, wall states, and viewer states.
func (c *Core) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	viewers := make([]vis.Viewer, 0, len(c.viewers))
	for _, v := range c.viewers {
		viewers = append(viewers, v)
	}
	sort.Slice(viewers, func(i, j int) bool { return viewers[i].ID < viewers[j].ID })
	return Snapshot{
		Tick:    c.tick,
		Walls:   c.led.Snapshot(),
		Viewers: viewers,
	}
}

// DrainDeltas returns the staged slice deltas and clears the journal.
func (c *Core) DrainDeltas() []ledger.SliceDelta {
	if c == nil {
		return nil
	}
	return c.journal.DrainDeltas()
}

// SnapshotDeltas returns the staged slice deltas without clearing them.
func (c *Core) SnapshotDeltas() []ledger.SliceDelta {
	if c == nil {
		return nil
	}
	return c.journal.SnapshotDeltas()
}

// RestoreDeltas reinserts drained deltas after a failed broadcast.
func (c *Core) RestoreDeltas(d []ledger.SliceDelta) {
	if c == nil {
		return
	}
	c.journal.RestoreDeltas(d)
}

// RecordKeyframe snapshots the ledger into the journal under the next
// keyframe sequence.
func (c *Core) RecordKeyframe() (Keyframe, KeyframeRecordResult) {
	if c == nil {
		return Keyframe{}, KeyframeRecordResult{}
	}
	c.keyframeSeq++
	frame := Keyframe{
		Tick:     c.tick,
		Sequence: c.keyframeSeq,
		Walls:    c.led.Snapshot(),
	}
	result := c.journal.RecordKeyframe(frame)
	return frame, result
}

// KeyframeBySequence returns the buffered keyframe with the given sequence.
func (c *Core) KeyframeBySequence(sequence uint64) (Keyframe, bool) {
	if c == nil {
		return Keyframe{}, false
	}
	return c.journal.KeyframeBySequence(sequence)
}

// KeyframeWindow reports the journal's current keyframe retention window.
func (c *Core) KeyframeWindow() (int, uint64, uint64) {
	if c == nil {
		return 0, 0, 0
	}
	return c.journal.KeyframeWindow()
}

// RemovedViewers reports viewers dropped since the last call.
func (c *Core) RemovedViewers() []string {
	if c == nil || len(c.removed) == 0 {
		return nil
	}
	removed := c.removed
	c.removed = nil
	sort.Strings(removed)
	return removed
}

// Tick reports the tick installed by the last PrepareStep.
func (c *Core) Tick() uint64 {
	if c == nil {
		return 0
	}
	return c.tick
}

// Viewer returns the last reported state for one viewer.
func (c *Core) Viewer(id string) (vis.Viewer, bool) {
	if c == nil {
		return vis.Viewer{}, false
	}
	v, ok := c.viewers[id]
	return v, ok
}

// Ensure Core satisfies the loop contract.
var _ EngineCore = (*Core)(nil)
