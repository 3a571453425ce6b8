// Package server wires the destruction simulation to its transports. The
// hub owns player sessions and websocket subscribers, stages validated
// commands onto the simulation loop, and fans simulation output back out as
// delta, keyframe, and visibility broadcasts.
package server

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"breach-and-hold/server/internal/config"
	"breach-and-hold/server/internal/damage"
	"breach-and-hold/server/internal/data"
	"breach-and-hold/server/internal/geom"
	"breach-and-hold/server/internal/ledger"
	"breach-and-hold/server/internal/net/intake"
	"breach-and-hold/server/internal/net/proto"
	"breach-and-hold/server/internal/sim"
	"breach-and-hold/server/internal/telemetry"
	"breach-and-hold/server/internal/vis"
)

// hubEngine is the slice of the simulation loop the hub drives. Tests
// substitute stubs to pin hub behaviour without running a tick loop.
type hubEngine interface {
	Enqueue(sim.Command) (bool, string)
	Run(stop <-chan struct{})
	Deps() sim.Deps
	Snapshot() sim.Snapshot
	DrainDeltas() []ledger.SliceDelta
	RestoreDeltas([]ledger.SliceDelta)
	RecordKeyframe() (sim.Keyframe, sim.KeyframeRecordResult)
	KeyframeBySequence(uint64) (sim.Keyframe, bool)
	KeyframeWindow() (int, uint64, uint64)
}

// HubConfig assembles the collaborators for a hub. Zero fields fall back to
// built-in defaults, so tests can construct hubs from an empty config.
type HubConfig struct {
	Config    *config.Config
	Arena     *data.Arena
	Materials *data.MaterialTable
	Tuning    damage.Tuning
	Logger    *zap.Logger
	Metrics   telemetry.Metrics
	Clock     sim.Clock
}

// DefaultHubConfig returns a config that resolves every collaborator to its
// built-in fallback.
func DefaultHubConfig() HubConfig {
	return HubConfig{}
}

// playerSession tracks connectivity metadata for one joined player. The
// authoritative viewer state lives in the simulation; the session only backs
// liveness pruning and diagnostics.
type playerSession struct {
	joinedAt      time.Time
	lastHeartbeat time.Time
	lastRTT       time.Duration
}

// Hub owns the server side of every client connection: join bookkeeping,
// command intake, and the broadcast fan-out driven by the simulation loop.
type Hub struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetryCounters

	arena          *data.Arena
	store          *geom.Store
	grid           vis.Grid
	defaultMode    string
	materialsHash  string
	interestMargin float64
	rayStep        float64
	defaultFOV     float64
	defaultRadius  float64
	broadcastEvery uint64
	keyframeEvery  uint64

	engine hubEngine

	mu          sync.Mutex
	players     map[string]*playerSession
	subscribers map[string]*subscriber

	nextID        atomic.Uint64
	currentTick   atomic.Uint64
	broadcastSeq  atomic.Uint64
	lastKeyframe  atomic.Uint64
	forceKeyframe atomic.Bool

	// broadcasts counts completed broadcast intervals. Only the simulation
	// goroutine touches it.
	broadcasts uint64

	// bootKeyframe is the frame recorded at construction, served to joiners
	// when the journal window has moved past the last recorded sequence.
	bootKeyframe proto.KeyframeSnapshotV1
}

// NewHub builds the full match stack: wall store, ledger, damage resolver,
// journal, and the simulation engine with the hub's broadcast hooks attached.
func NewHub(hubCfg HubConfig) (*Hub, error) {
	cfg := hubCfg.Config
	if cfg == nil {
		loaded, err := config.LoadOrDefault("")
		if err != nil {
			return nil, errors.Wrap(err, "load default config")
		}
		cfg = loaded
	}
	logger := hubCfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := hubCfg.Clock
	if clock == nil {
		clock = sim.SystemClock{}
	}
	materials := hubCfg.Materials
	if materials == nil {
		materials = data.DefaultMaterialTable()
	}
	arena := hubCfg.Arena
	if arena == nil {
		arena = data.GenerateArena(cfg.Arena.Width, cfg.Arena.Height, cfg.Arena.WallCount, cfg.Arena.Seed, materials)
	}

	store, err := geom.NewStore(arena.Walls, cfg.Arena.SliceCount)
	if err != nil {
		return nil, errors.Wrap(err, "build wall store")
	}
	led := ledger.New(ledger.Config{
		SliceCount: store.SliceCount(),
		Walls:      arena.WallInits(materials),
	})
	resolver := damage.NewResolver(damage.Config{
		Store:         store,
		Ledger:        led,
		Tuning:        hubCfg.Tuning,
		PunctureDepth: cfg.Visibility.PunctureDepth,
	})
	journal := sim.NewJournal(cfg.Journal.KeyframeCapacity, cfg.Journal.KeyframeMaxAge.Std(), hubCfg.Metrics)

	core, err := sim.NewCore(sim.CoreConfig{
		Store:         store,
		Ledger:        led,
		Resolver:      resolver,
		Journal:       journal,
		ViewerTimeout: disconnectAfter,
		Deps: sim.Deps{
			Logger:  logger,
			Metrics: hubCfg.Metrics,
			Clock:   clock,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "build engine core")
	}

	hub := &Hub{
		cfg:            cfg,
		logger:         logger,
		telemetry:      newTelemetryCounters(hubCfg.Metrics),
		arena:          arena,
		store:          store,
		grid:           vis.Grid{CellSize: cfg.Grid.CellSize, Width: cfg.Grid.Width, Height: cfg.Grid.Height},
		defaultMode:    normalizeMode(cfg.Visibility.Mode),
		materialsHash:  materials.Hash(),
		interestMargin: cfg.Visibility.InterestMargin,
		rayStep:        rayStepRadians(cfg.Visibility.RayStepDegrees),
		defaultFOV:     cfg.Visibility.DefaultFOVDegrees * math.Pi / 180,
		defaultRadius:  cfg.Visibility.DefaultRadius,
		broadcastEvery: positiveInterval(cfg.Simulation.BroadcastInterval),
		keyframeEvery:  positiveInterval(cfg.Simulation.KeyframeInterval),
		players:        make(map[string]*playerSession),
		subscribers:    make(map[string]*subscriber),
	}

	engine, err := sim.NewEngine(core,
		sim.WithLoopConfig(sim.LoopConfig{
			TickRate:        cfg.Simulation.TickRate,
			CatchupMaxTicks: cfg.Simulation.CatchupMaxTicks,
			CommandCapacity: cfg.Simulation.CommandCapacity,
			PerActorLimit:   cfg.Simulation.PerActorLimit,
			WarningStep:     cfg.Simulation.QueueWarningStep,
		}),
		sim.WithLoopHooks(sim.LoopHooks{
			AfterStep: hub.afterStep,
			OnQueueWarning: func(depth int) {
				logger.Warn("command queue backlog", zap.Int("depth", depth))
			},
		}),
		sim.WithJournalHooks(sim.JournalHooks{OnRecord: hub.onKeyframeRecorded}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "build engine")
	}
	hub.engine = engine

	// Record the boot keyframe before the loop starts so the first joiner
	// always has a frame to rehydrate from.
	frame, _ := engine.RecordKeyframe()
	hub.bootKeyframe = keyframeMessage(frame)

	logger.Info("hub ready",
		zap.Int("walls", store.Len()),
		zap.Int("sliceCount", store.SliceCount()),
		zap.String("mode", hub.defaultMode),
		zap.Int("tickRate", cfg.Simulation.TickRate),
	)
	return hub, nil
}

// RunSimulation drives the tick loop until stop closes. It blocks, so
// callers run it on a dedicated goroutine.
func (h *Hub) RunSimulation(stop <-chan struct{}) {
	h.engine.Run(stop)
}

// onKeyframeRecorded publishes the journal window whenever the engine
// persists a keyframe, on whichever goroutine recorded it.
func (h *Hub) onKeyframeRecorded(frame sim.Keyframe, result sim.KeyframeRecordResult) {
	h.lastKeyframe.Store(frame.Sequence)
	h.telemetry.RecordKeyframeJournal(result.Size, result.OldestSequence, result.NewestSequence)
}

// Join admits a new player and returns the static geometry plus the latest
// keyframe so the client renders from authoritative state immediately.
func (h *Hub) Join() proto.JoinResponseV1 {
	id := fmt.Sprintf("player-%d", h.nextID.Add(1))
	now := h.now()

	h.mu.Lock()
	h.players[id] = &playerSession{joinedAt: now, lastHeartbeat: now}
	h.mu.Unlock()

	h.logger.Info("player joined", zap.String("player", id))
	return proto.JoinResponseV1{
		ID:               id,
		Walls:            proto.WallSpecs(h.store.Walls()),
		MaterialsHash:    h.materialsHash,
		Keyframe:         h.latestKeyframe(),
		Config:           h.ConfigEcho(),
		KeyframeInterval: int(h.keyframeEvery),
		Resync:           true,
	}
}

// Subscribe attaches a websocket connection as the player's broadcast sink
// and returns the keyframe the session writes before entering its read loop.
// The player must have joined first. A second subscription replaces the
// first, closing the stale socket.
func (h *Hub) Subscribe(playerID string, conn *websocket.Conn, mode string) (*subscriber, proto.KeyframeSnapshotV1, bool) {
	return h.subscribe(playerID, wsSubscriberConn{conn: conn}, mode)
}

func (h *Hub) subscribe(playerID string, conn subscriberConn, mode string) (*subscriber, proto.KeyframeSnapshotV1, bool) {
	h.mu.Lock()
	if _, joined := h.players[playerID]; !joined {
		h.mu.Unlock()
		return nil, proto.KeyframeSnapshotV1{}, false
	}
	if existing, ok := h.subscribers[playerID]; ok {
		existing.Close()
	}
	sub := newSubscriber(conn, h.telemetry)
	sub.mode = h.resolveMode(mode)
	h.subscribers[playerID] = sub
	h.mu.Unlock()

	h.logger.Info("subscriber attached",
		zap.String("player", playerID),
		zap.String("mode", sub.mode),
	)
	return sub, h.latestKeyframe(), true
}

// Disconnect tears down a player's subscription and session and schedules
// the viewer removal on the next tick.
func (h *Hub) Disconnect(playerID string) bool {
	h.mu.Lock()
	sub := h.subscribers[playerID]
	_, joined := h.players[playerID]
	delete(h.subscribers, playerID)
	delete(h.players, playerID)
	h.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	if !joined && sub == nil {
		return false
	}
	h.engine.Enqueue(sim.Command{
		Type:     sim.CommandViewerRemove,
		ActorID:  playerID,
		IssuedAt: h.now(),
	})
	h.logger.Info("player disconnected", zap.String("player", playerID))
	return true
}

// StageCommand validates a damage or viewer message and stages it for the
// next tick. A staged command refreshes the sender's liveness.
func (h *Hub) StageCommand(playerID string, msg proto.ClientMessage) (sim.Command, bool, string) {
	cmd, ok, reason := intake.StageClientCommand(h.commandContext(), playerID, msg)
	if ok {
		h.touchPlayer(playerID, cmd.IssuedAt)
	}
	return cmd, ok, reason
}

func (h *Hub) commandContext() intake.CommandContext {
	return intake.CommandContext{
		Engine:        h.engine,
		HasPlayer:     h.hasPlayer,
		Tick:          h.currentTick.Load,
		Now:           h.now,
		DefaultFOV:    h.defaultFOV,
		DefaultRadius: h.defaultRadius,
	}
}

// UpdateHeartbeat refreshes a player's liveness and computes the round trip
// time from the client-reported send timestamp. Client clocks more than five
// seconds ahead of the server are treated as unusable.
func (h *Hub) UpdateHeartbeat(playerID string, receivedAt time.Time, clientSent int64) (time.Duration, bool) {
	h.mu.Lock()
	player, ok := h.players[playerID]
	if !ok {
		h.mu.Unlock()
		return 0, false
	}
	var rtt time.Duration
	if clientSent > 0 {
		clientTime := time.UnixMilli(clientSent)
		if clientTime.Before(receivedAt.Add(5 * time.Second)) {
			rtt = receivedAt.Sub(clientTime)
			if rtt < 0 {
				rtt = 0
			}
		}
	}
	player.lastHeartbeat = receivedAt
	player.lastRTT = rtt
	h.mu.Unlock()

	h.engine.Enqueue(sim.Command{
		Type:     sim.CommandHeartbeat,
		ActorID:  playerID,
		IssuedAt: receivedAt,
		Heartbeat: &sim.HeartbeatCommand{
			ReceivedAt: receivedAt,
			ClientSent: clientSent,
			RTT:        rtt,
		},
	})
	return rtt, true
}

// RecordAck stores the latest broadcast sequence a client confirmed.
func (h *Hub) RecordAck(playerID string, seq uint64) {
	h.mu.Lock()
	sub := h.subscribers[playerID]
	h.mu.Unlock()
	if sub != nil {
		sub.RecordAck(seq)
	}
}

// HandleKeyframeRequest serves a journal recovery request. The bool reports
// whether the player holds a live subscription; rate-limited and expired
// requests produce a nack instead of a snapshot. An expired sequence forces
// a fresh keyframe on the next broadcast so the client can converge.
func (h *Hub) HandleKeyframeRequest(playerID string, sequence uint64) (*proto.KeyframeSnapshotV1, *proto.KeyframeNackV1, bool) {
	h.mu.Lock()
	sub := h.subscribers[playerID]
	h.mu.Unlock()
	if sub == nil {
		return nil, nil, false
	}

	start := h.now()
	if !sub.AllowKeyframeRequest(start) {
		h.telemetry.IncrementKeyframeRateLimited()
		return nil, &proto.KeyframeNackV1{Sequence: sequence, Reason: "rate_limited"}, true
	}

	frame, ok := h.engine.KeyframeBySequence(sequence)
	if !ok {
		h.telemetry.IncrementKeyframeExpired()
		h.telemetry.RecordKeyframeRequest(h.now().Sub(start), false)
		h.ForceKeyframe()
		return nil, &proto.KeyframeNackV1{Sequence: sequence, Reason: "expired", Resync: true}, true
	}

	snapshot := keyframeMessage(frame)
	h.telemetry.RecordKeyframeRequest(h.now().Sub(start), true)
	return &snapshot, nil, true
}

// ForceKeyframe schedules a keyframe on the next broadcast interval.
func (h *Hub) ForceKeyframe() {
	h.forceKeyframe.Store(true)
}

// ResetMatch stages a match reset. The reset applies on the tick it drains,
// and the same tick broadcasts a keyframe of the restored walls.
func (h *Hub) ResetMatch() (sim.Command, bool, string) {
	cmd := sim.Command{Type: sim.CommandReset, IssuedAt: h.now()}
	if ok, reason := h.engine.Enqueue(cmd); !ok {
		return sim.Command{}, false, reason
	}
	return cmd, true, ""
}

// SubmitDamage stages a damage request from an in-process caller such as a
// collision adapter, bypassing the websocket intake. It applies on the next
// tick alongside client damage.
func (h *Hub) SubmitDamage(actorID string, req damage.Request) (bool, string) {
	return h.engine.Enqueue(sim.Command{
		OriginTick: h.currentTick.Load(),
		ActorID:    actorID,
		Type:       sim.CommandDamage,
		IssuedAt:   h.now(),
		Damage:     &req,
	})
}

// UpdateViewer stages a viewer state replacement from an in-process caller.
func (h *Hub) UpdateViewer(viewer vis.Viewer) (bool, string) {
	return h.engine.Enqueue(sim.Command{
		OriginTick: h.currentTick.Load(),
		ActorID:    viewer.ID,
		Type:       sim.CommandViewer,
		IssuedAt:   h.now(),
		Viewer:     &viewer,
	})
}

// Snapshot returns the authoritative wall and viewer state as of the last
// completed tick.
func (h *Hub) Snapshot() sim.Snapshot {
	return h.engine.Snapshot()
}

// PlayerDiagnostics reports one joined player's connection state.
type PlayerDiagnostics struct {
	ID            string `json:"id"`
	LastHeartbeat int64  `json:"lastHeartbeat"`
	RTTMillis     int64  `json:"rtt"`
	LastAck       uint64 `json:"lastAck"`
	Connected     bool   `json:"connected"`
}

// DiagnosticsSnapshot lists every joined player sorted by id.
func (h *Hub) DiagnosticsSnapshot() []PlayerDiagnostics {
	h.mu.Lock()
	out := make([]PlayerDiagnostics, 0, len(h.players))
	for id, p := range h.players {
		d := PlayerDiagnostics{
			ID:            id,
			LastHeartbeat: p.lastHeartbeat.UnixMilli(),
			RTTMillis:     p.lastRTT.Milliseconds(),
		}
		if sub, ok := h.subscribers[id]; ok {
			d.LastAck = sub.LastAck()
			d.Connected = !sub.Failed()
		}
		out = append(out, d)
	}
	h.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TelemetrySnapshot exposes the hub counters for the diagnostics endpoint.
func (h *Hub) TelemetrySnapshot() telemetrySnapshot {
	return h.telemetry.Snapshot()
}

// RecordTelemetryBroadcast counts an externally produced broadcast, used by
// transports that encode payloads themselves.
func (h *Hub) RecordTelemetryBroadcast(bytes, deltas int) {
	h.telemetry.RecordBroadcast(bytes, deltas)
}

// KeyframeWindow reports the journal's current retention window.
func (h *Hub) KeyframeWindow() (int, uint64, uint64) {
	return h.engine.KeyframeWindow()
}

// ConfigEcho returns the deployment constants clients must mirror.
func (h *Hub) ConfigEcho() proto.ConfigEcho {
	return proto.ConfigEcho{
		TickRate:          h.cfg.Simulation.TickRate,
		BroadcastInterval: int(h.broadcastEvery),
		KeyframeInterval:  int(h.keyframeEvery),
		SliceCount:        h.store.SliceCount(),
		GridCellSize:      h.grid.CellSize,
		GridWidth:         h.grid.Width,
		GridHeight:        h.grid.Height,
	}
}

// TickRate reports the configured simulation rate.
func (h *Hub) TickRate() int {
	return h.cfg.Simulation.TickRate
}

// CurrentTick reports the last completed simulation tick.
func (h *Hub) CurrentTick() uint64 {
	return h.currentTick.Load()
}

// Arena returns the immutable arena layout.
func (h *Hub) Arena() *data.Arena {
	return h.arena
}

// PlayerCount reports the number of joined players.
func (h *Hub) PlayerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.players)
}

// SubscriberCount reports the number of attached broadcast sinks.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (h *Hub) hasPlayer(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.players[id]
	return ok
}

func (h *Hub) touchPlayer(id string, when time.Time) {
	h.mu.Lock()
	if p, ok := h.players[id]; ok && when.After(p.lastHeartbeat) {
		p.lastHeartbeat = when
	}
	h.mu.Unlock()
}

// now reads the engine clock so tests driving a manual clock see consistent
// timestamps across the hub and the loop.
func (h *Hub) now() time.Time {
	if h.engine != nil {
		if clock := h.engine.Deps().Clock; clock != nil {
			return clock.Now()
		}
	}
	return time.Now()
}

// latestKeyframe fetches the most recently recorded keyframe, falling back
// to the boot frame if the journal window has already moved past it.
func (h *Hub) latestKeyframe() proto.KeyframeSnapshotV1 {
	if seq := h.lastKeyframe.Load(); seq > 0 {
		if frame, ok := h.engine.KeyframeBySequence(seq); ok {
			return keyframeMessage(frame)
		}
	}
	return h.bootKeyframe
}

func (h *Hub) resolveMode(mode string) string {
	if mode == "" {
		return h.defaultMode
	}
	return normalizeMode(mode)
}

func normalizeMode(mode string) string {
	if mode == proto.ModeTiles {
		return proto.ModeTiles
	}
	return proto.ModePolygon
}

func keyframeMessage(frame sim.Keyframe) proto.KeyframeSnapshotV1 {
	return proto.KeyframeSnapshotV1{
		Ver:      proto.Version,
		Type:     proto.TypeKeyframe,
		Sequence: frame.Sequence,
		Tick:     frame.Tick,
		Walls:    proto.WireWalls(frame.Walls),
	}
}

func positiveInterval(v int) uint64 {
	if v < 1 {
		return 1
	}
	return uint64(v)
}

func rayStepRadians(degrees float64) float64 {
	if degrees <= 0 {
		return vis.DefaultRayStep
	}
	return degrees * math.Pi / 180
}
