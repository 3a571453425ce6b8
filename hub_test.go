package server

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"breach-and-hold/server/internal/config"
	"breach-and-hold/server/internal/damage"
	"breach-and-hold/server/internal/data"
	"breach-and-hold/server/internal/geom"
	"breach-and-hold/server/internal/ledger"
	"breach-and-hold/server/internal/net/proto"
	"breach-and-hold/server/internal/sim"
	"breach-and-hold/server/internal/vis"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

// stepClock lets tests advance hub time manually.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// stubHubEngine records hub-engine traffic so tests can pin the hub's
// behaviour without running a tick loop.
type stubHubEngine struct {
	deps         sim.Deps
	rejectReason string
	commands     []sim.Command
	deltas       []ledger.SliceDelta
	drains       int
	restored     [][]ledger.SliceDelta
	keyframeSeq  uint64
	keyframes    map[uint64]sim.Keyframe
	walls        ledger.Snapshot
}

func (s *stubHubEngine) Enqueue(cmd sim.Command) (bool, string) {
	if s.rejectReason != "" {
		return false, s.rejectReason
	}
	s.commands = append(s.commands, cmd)
	return true, ""
}

func (s *stubHubEngine) Run(<-chan struct{}) {}

func (s *stubHubEngine) Deps() sim.Deps { return s.deps }

func (s *stubHubEngine) Snapshot() sim.Snapshot {
	return sim.Snapshot{Walls: s.walls}
}

func (s *stubHubEngine) DrainDeltas() []ledger.SliceDelta {
	s.drains++
	drained := s.deltas
	s.deltas = nil
	return drained
}

func (s *stubHubEngine) RestoreDeltas(d []ledger.SliceDelta) {
	s.restored = append(s.restored, d)
}

func (s *stubHubEngine) RecordKeyframe() (sim.Keyframe, sim.KeyframeRecordResult) {
	s.keyframeSeq++
	frame := sim.Keyframe{Sequence: s.keyframeSeq, Walls: s.walls}
	if s.keyframes == nil {
		s.keyframes = make(map[uint64]sim.Keyframe)
	}
	s.keyframes[frame.Sequence] = frame
	return frame, sim.KeyframeRecordResult{Size: len(s.keyframes), OldestSequence: 1, NewestSequence: frame.Sequence}
}

func (s *stubHubEngine) KeyframeBySequence(seq uint64) (sim.Keyframe, bool) {
	frame, ok := s.keyframes[seq]
	return frame, ok
}

func (s *stubHubEngine) KeyframeWindow() (int, uint64, uint64) {
	return len(s.keyframes), 1, s.keyframeSeq
}

func (s *stubHubEngine) commandTypes() []sim.CommandType {
	types := make([]sim.CommandType, 0, len(s.commands))
	for _, cmd := range s.commands {
		types = append(types, cmd.Type)
	}
	return types
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadOrDefault("")
	if err != nil {
		t.Fatalf("load default config: %v", err)
	}
	return cfg
}

func testArena() *data.Arena {
	return data.GeneratedArena(480, 270, []geom.Wall{
		{ID: "wall-a", Min: mgl64.Vec2{40, 40}, Size: mgl64.Vec2{75, 15}, Material: "concrete"},
		{ID: "wall-b", Min: mgl64.Vec2{300, 200}, Size: mgl64.Vec2{75, 15}, Material: "brick"},
	})
}

func newTestHub(t *testing.T, clock sim.Clock) *Hub {
	t.Helper()
	hub, err := NewHub(HubConfig{
		Config: testConfig(t),
		Arena:  testArena(),
		Clock:  clock,
	})
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	return hub
}

func TestNewHubRecordsBootKeyframe(t *testing.T) {
	hub := newTestHub(t, nil)

	if got := hub.bootKeyframe.Sequence; got != 1 {
		t.Fatalf("expected boot keyframe sequence 1, got %d", got)
	}
	if got := hub.lastKeyframe.Load(); got != 1 {
		t.Fatalf("expected last keyframe sequence 1, got %d", got)
	}
	size, oldest, newest := hub.KeyframeWindow()
	if size != 1 || oldest != 1 || newest != 1 {
		t.Fatalf("expected journal window of the boot frame, got size=%d oldest=%d newest=%d", size, oldest, newest)
	}
	if len(hub.bootKeyframe.Walls) != 2 {
		t.Fatalf("expected boot keyframe to carry both walls, got %d", len(hub.bootKeyframe.Walls))
	}
}

func TestJoinReturnsGeometryAndKeyframe(t *testing.T) {
	hub := newTestHub(t, nil)

	resp := hub.Join()
	if resp.ID != "player-1" {
		t.Fatalf("expected first player id player-1, got %q", resp.ID)
	}
	if !resp.Resync {
		t.Fatalf("expected join response to request a resync")
	}
	if len(resp.Walls) != 2 {
		t.Fatalf("expected 2 wall specs, got %d", len(resp.Walls))
	}
	if resp.MaterialsHash == "" {
		t.Fatalf("expected a materials hash")
	}
	if resp.Keyframe.Sequence != 1 {
		t.Fatalf("expected boot keyframe in join response, got sequence %d", resp.Keyframe.Sequence)
	}
	if resp.Config.TickRate != 60 || resp.Config.SliceCount != 5 {
		t.Fatalf("unexpected config echo: %+v", resp.Config)
	}
	if resp.Keyframe.Walls[0].WallID != "wall-a" || resp.Keyframe.Walls[0].MaxHealth != 100 {
		t.Fatalf("expected concrete wall-a first in keyframe, got %+v", resp.Keyframe.Walls[0])
	}

	if second := hub.Join(); second.ID != "player-2" {
		t.Fatalf("expected second player id player-2, got %q", second.ID)
	}
	if got := hub.PlayerCount(); got != 2 {
		t.Fatalf("expected 2 players, got %d", got)
	}
}

func TestSubscribeRequiresJoin(t *testing.T) {
	hub := newTestHub(t, nil)

	if _, _, ok := hub.subscribe("ghost", newFakeConn(), ""); ok {
		t.Fatalf("expected subscribe without join to fail")
	}
}

func TestSubscribeReplacesExistingConnection(t *testing.T) {
	hub := newTestHub(t, nil)
	resp := hub.Join()

	first := newFakeConn()
	subA, frame, ok := hub.subscribe(resp.ID, first, "")
	if !ok {
		t.Fatalf("expected first subscribe to succeed")
	}
	if frame.Sequence != 1 {
		t.Fatalf("expected subscribe to return the boot keyframe, got sequence %d", frame.Sequence)
	}
	if got := subA.Mode(); got != proto.ModePolygon {
		t.Fatalf("expected default mode polygon, got %q", got)
	}

	subB, _, ok := hub.subscribe(resp.ID, newFakeConn(), proto.ModeTiles)
	if !ok {
		t.Fatalf("expected replacement subscribe to succeed")
	}
	if got := subB.Mode(); got != proto.ModeTiles {
		t.Fatalf("expected tiles mode, got %q", got)
	}
	if !subA.Failed() {
		t.Fatalf("expected replaced subscriber to be closed")
	}
	first.mu.Lock()
	closed := first.closed
	first.mu.Unlock()
	if closed != 1 {
		t.Fatalf("expected stale connection to close once, got %d", closed)
	}
	if got := hub.SubscriberCount(); got != 1 {
		t.Fatalf("expected a single live subscription, got %d", got)
	}
}

func TestDisconnectStagesViewerRemove(t *testing.T) {
	hub := newTestHub(t, nil)
	resp := hub.Join()
	hub.subscribe(resp.ID, newFakeConn(), "")

	stub := &stubHubEngine{}
	hub.engine = stub

	if !hub.Disconnect(resp.ID) {
		t.Fatalf("expected disconnect to report the player existed")
	}
	if hub.PlayerCount() != 0 || hub.SubscriberCount() != 0 {
		t.Fatalf("expected player and subscription to be removed")
	}
	if len(stub.commands) != 1 || stub.commands[0].Type != sim.CommandViewerRemove {
		t.Fatalf("expected a staged viewer removal, got %v", stub.commandTypes())
	}
	if stub.commands[0].ActorID != resp.ID {
		t.Fatalf("expected removal for %q, got %q", resp.ID, stub.commands[0].ActorID)
	}

	if hub.Disconnect(resp.ID) {
		t.Fatalf("expected second disconnect to report a missing player")
	}
}

func TestStageCommandStampsOriginAndLiveness(t *testing.T) {
	clock := &stepClock{now: time.Unix(5000, 0)}
	hub := newTestHub(t, clock)
	resp := hub.Join()

	stub := &stubHubEngine{deps: sim.Deps{Clock: clock}}
	hub.engine = stub
	hub.currentTick.Store(42)
	clock.Advance(10 * time.Second)

	msg := proto.ClientMessage{Type: proto.TypeDamage, Wall: "wall-a", HitOffset: 10, Amount: 25}
	cmd, ok, reason := hub.StageCommand(resp.ID, msg)
	if !ok {
		t.Fatalf("expected command to stage, got reason %q", reason)
	}
	if cmd.ActorID != resp.ID {
		t.Fatalf("expected actor %q, got %q", resp.ID, cmd.ActorID)
	}
	if cmd.OriginTick != 42 {
		t.Fatalf("expected origin tick 42, got %d", cmd.OriginTick)
	}
	if !cmd.IssuedAt.Equal(clock.Now()) {
		t.Fatalf("expected IssuedAt from the engine clock, got %v", cmd.IssuedAt)
	}

	hub.mu.Lock()
	last := hub.players[resp.ID].lastHeartbeat
	hub.mu.Unlock()
	if !last.Equal(clock.Now()) {
		t.Fatalf("expected staged command to refresh liveness, got %v", last)
	}

	if _, ok, reason := hub.StageCommand("ghost", msg); ok || reason != sim.CommandRejectUnknownActor {
		t.Fatalf("expected unknown actor rejection, got ok=%v reason=%q", ok, reason)
	}
}

func TestNewHubWiresVisibilityTunables(t *testing.T) {
	cfg := testConfig(t)
	cfg.Visibility.RayStepDegrees = 45
	cfg.Visibility.DefaultFOVDegrees = 90
	cfg.Visibility.DefaultRadius = 120
	cfg.Visibility.PunctureDepth = 12

	hub, err := NewHub(HubConfig{Config: cfg, Arena: testArena()})
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	if math.Abs(hub.rayStep-math.Pi/4) > 1e-12 {
		t.Fatalf("expected configured ray step pi/4, got %v", hub.rayStep)
	}

	resp := hub.Join()
	msg := proto.ClientMessage{Type: proto.TypeViewer, Position: &proto.Point{X: 60, Y: 80}}
	cmd, ok, reason := hub.StageCommand(resp.ID, msg)
	if !ok {
		t.Fatalf("expected bare viewer message to stage with config defaults, got %q", reason)
	}
	if math.Abs(cmd.Viewer.FOV-math.Pi/2) > 1e-12 || cmd.Viewer.Radius != 120 {
		t.Fatalf("expected config defaults stamped on the viewer, got %+v", cmd.Viewer)
	}

	// The configured puncture depth flows through the resolver into deltas.
	if ok, reason := hub.SubmitDamage("adapter", damage.Request{
		WallID: "wall-a", Offset: 10, Amount: 40, Kind: damage.KindPoint,
	}); !ok {
		t.Fatalf("expected damage to stage, got %q", reason)
	}
	hub.engine.(*sim.Loop).Advance(sim.LoopTickContext{Tick: 1, Now: time.Unix(1000, 0), Delta: 1.0 / 60})
	deltas := hub.engine.DrainDeltas()
	if len(deltas) != 1 || deltas[0].Puncture == nil {
		t.Fatalf("expected one puncturing delta, got %+v", deltas)
	}
	if deltas[0].Puncture.Depth != 12 {
		t.Fatalf("expected configured puncture depth 12, got %v", deltas[0].Puncture.Depth)
	}
}

func TestUpdateHeartbeatComputesRTT(t *testing.T) {
	hub := newTestHub(t, nil)
	resp := hub.Join()

	received := time.UnixMilli(1_700_000_000_000)
	rtt, ok := hub.UpdateHeartbeat(resp.ID, received, received.Add(-40*time.Millisecond).UnixMilli())
	if !ok {
		t.Fatalf("expected heartbeat for joined player to succeed")
	}
	if rtt != 40*time.Millisecond {
		t.Fatalf("expected rtt 40ms, got %v", rtt)
	}

	rtt, ok = hub.UpdateHeartbeat(resp.ID, received, received.Add(6*time.Second).UnixMilli())
	if !ok || rtt != 0 {
		t.Fatalf("expected far-future client clock to yield zero rtt, got %v", rtt)
	}

	if _, ok := hub.UpdateHeartbeat("ghost", received, 0); ok {
		t.Fatalf("expected heartbeat for unknown player to fail")
	}
}

func TestHandleKeyframeRequestFlow(t *testing.T) {
	clock := &stepClock{now: time.Unix(8000, 0)}
	hub := newTestHub(t, clock)
	resp := hub.Join()
	hub.subscribe(resp.ID, newFakeConn(), "")

	if _, _, ok := hub.HandleKeyframeRequest("ghost", 1); ok {
		t.Fatalf("expected request without a subscription to fail")
	}

	snapshot, nack, ok := hub.HandleKeyframeRequest(resp.ID, 1)
	if !ok || nack != nil {
		t.Fatalf("expected boot keyframe to resolve, got nack %+v", nack)
	}
	if snapshot == nil || snapshot.Sequence != 1 {
		t.Fatalf("expected keyframe sequence 1, got %+v", snapshot)
	}

	if _, nack, ok = hub.HandleKeyframeRequest(resp.ID, 1); !ok || nack == nil || nack.Reason != "rate_limited" {
		t.Fatalf("expected back-to-back request to be rate limited, got %+v", nack)
	}

	clock.Advance(minKeyframeRequestInterval + time.Millisecond)
	snapshot, nack, ok = hub.HandleKeyframeRequest(resp.ID, 99)
	if !ok || snapshot != nil {
		t.Fatalf("expected unknown sequence to produce a nack")
	}
	if nack == nil || nack.Reason != "expired" || !nack.Resync {
		t.Fatalf("expected an expired nack requesting resync, got %+v", nack)
	}
	if !hub.forceKeyframe.Load() {
		t.Fatalf("expected expired request to force a keyframe")
	}

	snap := hub.TelemetrySnapshot()
	if snap.KeyframeRequests != 2 || snap.KeyframeNacksExpired != 1 || snap.KeyframeNacksRateLimited != 1 {
		t.Fatalf("unexpected keyframe telemetry: %+v", snap)
	}
}

func TestHubNowUsesEngineClock(t *testing.T) {
	hub := newTestHub(t, nil)
	ts := time.Unix(123, 456)
	hub.engine = &stubHubEngine{deps: sim.Deps{Clock: fixedClock{now: ts}}}

	if got := hub.now(); !got.Equal(ts) {
		t.Fatalf("expected hub.now() to use engine clock, got %v", got)
	}
}

func TestResetMatchStagesReset(t *testing.T) {
	hub := newTestHub(t, nil)
	stub := &stubHubEngine{}
	hub.engine = stub

	cmd, ok, reason := hub.ResetMatch()
	if !ok {
		t.Fatalf("expected reset to stage, got reason %q", reason)
	}
	if cmd.Type != sim.CommandReset {
		t.Fatalf("expected reset command, got %q", cmd.Type)
	}
	if len(stub.commands) != 1 || stub.commands[0].Type != sim.CommandReset {
		t.Fatalf("expected reset on the engine, got %v", stub.commandTypes())
	}

	stub.rejectReason = sim.CommandRejectQueueFull
	if _, ok, reason := hub.ResetMatch(); ok || reason != sim.CommandRejectQueueFull {
		t.Fatalf("expected saturated queue rejection, got ok=%v reason=%q", ok, reason)
	}
}

func TestInProcessCommandSurface(t *testing.T) {
	hub := newTestHub(t, nil)
	stub := &stubHubEngine{walls: ledger.Snapshot{"wall-a": {}}}
	hub.engine = stub
	hub.currentTick.Store(7)

	if ok, reason := hub.SubmitDamage("adapter", damage.Request{WallID: "wall-a", Offset: 10, Amount: 25, Kind: damage.KindPoint}); !ok {
		t.Fatalf("expected damage to stage, got reason %q", reason)
	}
	if ok, reason := hub.UpdateViewer(vis.Viewer{ID: "npc-1", Pos: mgl64.Vec2{60, 80}, Radius: 50}); !ok {
		t.Fatalf("expected viewer update to stage, got reason %q", reason)
	}

	if got := stub.commandTypes(); len(got) != 2 || got[0] != sim.CommandDamage || got[1] != sim.CommandViewer {
		t.Fatalf("expected staged damage then viewer, got %v", got)
	}
	if stub.commands[0].Damage == nil || stub.commands[0].Damage.WallID != "wall-a" {
		t.Fatalf("expected damage payload for wall-a, got %+v", stub.commands[0].Damage)
	}
	if stub.commands[0].OriginTick != 7 {
		t.Fatalf("expected origin tick 7, got %d", stub.commands[0].OriginTick)
	}
	if stub.commands[1].ActorID != "npc-1" {
		t.Fatalf("expected viewer actor npc-1, got %q", stub.commands[1].ActorID)
	}

	snap := hub.Snapshot()
	if _, ok := snap.Walls["wall-a"]; !ok {
		t.Fatalf("expected snapshot to expose engine walls, got %+v", snap.Walls)
	}
}
