package server

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"breach-and-hold/server/internal/ledger"
	"breach-and-hold/server/internal/net/proto"
	"breach-and-hold/server/internal/sim"
	"breach-and-hold/server/internal/vis"
)

// afterStep runs on the simulation goroutine after every tick. It prunes
// dead sessions, flushes staged deltas on the broadcast interval, records
// and fans out keyframes on their cadence, and rebuilds per-viewer
// visibility.
func (h *Hub) afterStep(result sim.LoopStepResult) {
	h.currentTick.Store(result.Tick)
	h.telemetry.RecordTickDuration(result.Duration)

	if result.Budget > 0 && result.Duration > result.Budget {
		h.logger.Warn("tick budget exceeded",
			zap.Uint64("tick", result.Tick),
			zap.Duration("duration", result.Duration),
			zap.Duration("budget", result.Budget),
		)
	}
	if result.ClampedDelta {
		h.logger.Debug("clamped catchup delta",
			zap.Uint64("tick", result.Tick),
			zap.Float64("maxDelta", result.MaxDelta),
		)
	}

	h.dropPlayers(result.RemovedViewers)
	h.prunePlayers(result.Now)

	resetSeen := false
	for _, cmd := range result.Commands {
		if cmd.Type == sim.CommandReset {
			resetSeen = true
			break
		}
	}

	// A reset broadcasts immediately so no client renders the old walls for
	// a full interval.
	if result.Tick%h.broadcastEvery != 0 && !resetSeen {
		return
	}
	h.broadcasts++

	forced := h.forceKeyframe.Swap(false)
	keyframeDue := resetSeen || forced || h.broadcasts%h.keyframeEvery == 0

	subs := h.liveSubscribers()
	now := result.Now

	h.broadcastDeltas(result, subs, now)
	if keyframeDue {
		h.broadcastKeyframe(subs, now)
	}
	h.broadcastVisibility(result, subs, now)
}

// broadcastDeltas drains the tick's slice transitions and sends each
// subscriber the subset within its interest circle. Subscribers that never
// reported a viewer receive the full batch.
func (h *Hub) broadcastDeltas(result sim.LoopStepResult, subs map[string]*subscriber, now time.Time) {
	deltas := h.engine.DrainDeltas()
	if len(deltas) == 0 {
		return
	}

	batch := proto.DeltaBatchV1{
		Type:        proto.TypeDelta,
		Tick:        result.Tick,
		Sequence:    h.broadcastSeq.Add(1),
		KeyframeSeq: h.lastKeyframe.Load(),
		ServerTime:  now.UnixMilli(),
		Deltas:      proto.WireDeltas(deltas),
	}
	full, err := proto.EncodeDeltaBatchV1(batch)
	if err != nil {
		h.engine.RestoreDeltas(deltas)
		h.logger.Error("encode delta batch", zap.Error(err), zap.Uint64("tick", result.Tick))
		return
	}
	if len(subs) == 0 {
		return
	}

	viewers := viewersByID(result.Snapshot.Viewers)
	for id, sub := range subs {
		payload := full
		if v, ok := viewers[id]; ok {
			subset := h.filterDeltas(deltas, v)
			if len(subset) == 0 {
				continue
			}
			if len(subset) < len(deltas) {
				filtered := batch
				filtered.Deltas = proto.WireDeltas(subset)
				encoded, err := proto.EncodeDeltaBatchV1(filtered)
				if err != nil {
					h.logger.Error("encode filtered batch", zap.Error(err), zap.String("player", id))
					continue
				}
				payload = encoded
			}
		}
		sub.EnqueueBroadcast(now, payload)
	}
	h.telemetry.RecordBroadcast(len(full), len(deltas))
}

// filterDeltas keeps the transitions on walls within the viewer's interest
// circle: sight radius plus the configured margin. Deltas for walls missing
// from the store pass through so the client shadow stays authoritative.
func (h *Hub) filterDeltas(deltas []ledger.SliceDelta, v vis.Viewer) []ledger.SliceDelta {
	reach := v.Radius + h.interestMargin
	out := make([]ledger.SliceDelta, 0, len(deltas))
	for _, d := range deltas {
		wall, ok := h.store.Wall(d.WallID)
		if !ok || wall.Rect().OverlapsCircle(v.Pos, reach) {
			out = append(out, d)
		}
	}
	return out
}

// broadcastKeyframe records a fresh keyframe and sends it to every
// subscriber. Deltas already sent for the same state are harmless: the
// per-wall sequence makes replays idempotent on the client.
func (h *Hub) broadcastKeyframe(subs map[string]*subscriber, now time.Time) {
	frame, _ := h.engine.RecordKeyframe()
	data, err := proto.EncodeKeyframeSnapshotV1(keyframeMessage(frame))
	if err != nil {
		h.logger.Error("encode keyframe", zap.Error(err), zap.Uint64("sequence", frame.Sequence))
		return
	}
	for _, sub := range subs {
		sub.EnqueueBroadcast(now, data)
	}
	if len(subs) > 0 {
		h.telemetry.RecordBroadcast(len(data), 0)
	}
}

// broadcastVisibility recomputes each subscribed viewer's region against the
// tick snapshot. Compute is pure over the snapshot, so the fan-out runs one
// goroutine per viewer.
func (h *Hub) broadcastVisibility(result sim.LoopStepResult, subs map[string]*subscriber, now time.Time) {
	viewers := viewersByID(result.Snapshot.Viewers)

	type visJob struct {
		id     string
		sub    *subscriber
		viewer vis.Viewer
	}
	jobs := make([]visJob, 0, len(subs))
	for id, sub := range subs {
		if v, ok := viewers[id]; ok {
			jobs = append(jobs, visJob{id: id, sub: sub, viewer: v})
		}
	}
	if len(jobs) == 0 {
		return
	}

	start := h.now()
	var wg sync.WaitGroup
	for i := range jobs {
		job := jobs[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			region := vis.ComputeWithStep(job.viewer, h.store, result.Snapshot.Walls, h.rayStep)
			var msg proto.VisibilityV1
			if job.sub.Mode() == proto.ModeTiles {
				msg = proto.VisibilityTilesFromRegion(region, h.grid, result.Tick)
			} else {
				msg = proto.VisibilityFromRegion(region, result.Tick)
			}
			data, err := proto.EncodeVisibilityV1(msg)
			if err != nil {
				h.logger.Error("encode visibility", zap.Error(err), zap.String("player", job.id))
				return
			}
			job.sub.EnqueueBroadcast(now, data)
		}()
	}
	wg.Wait()
	h.telemetry.RecordVisibilityCompute(h.now().Sub(start), len(jobs))
}

// liveSubscribers snapshots the subscriber map, evicting any whose writer
// goroutine reported a connection failure since the last tick.
func (h *Hub) liveSubscribers() map[string]*subscriber {
	var failed []string
	h.mu.Lock()
	subs := make(map[string]*subscriber, len(h.subscribers))
	for id, sub := range h.subscribers {
		if sub.Failed() {
			failed = append(failed, id)
			continue
		}
		subs[id] = sub
	}
	h.mu.Unlock()

	if len(failed) > 0 {
		sort.Strings(failed)
		h.dropPlayers(failed)
		now := h.now()
		for _, id := range failed {
			h.engine.Enqueue(sim.Command{
				Type:     sim.CommandViewerRemove,
				ActorID:  id,
				IssuedAt: now,
			})
		}
	}
	return subs
}

// dropPlayers removes sessions and subscriptions for players the simulation
// or transport already gave up on.
func (h *Hub) dropPlayers(ids []string) {
	for _, id := range ids {
		h.mu.Lock()
		sub := h.subscribers[id]
		_, joined := h.players[id]
		delete(h.subscribers, id)
		delete(h.players, id)
		h.mu.Unlock()

		if sub != nil {
			sub.Close()
		}
		if joined || sub != nil {
			h.logger.Info("player dropped", zap.String("player", id))
		}
	}
}

// prunePlayers expires sessions whose heartbeats stopped. The simulation
// prunes viewers on the same timeout; this pass covers players that joined
// but never reported a viewer state.
func (h *Hub) prunePlayers(now time.Time) {
	var stale []string
	h.mu.Lock()
	for id, p := range h.players {
		if now.Sub(p.lastHeartbeat) > disconnectAfter {
			stale = append(stale, id)
		}
	}
	h.mu.Unlock()

	if len(stale) == 0 {
		return
	}
	sort.Strings(stale)
	h.dropPlayers(stale)
	for _, id := range stale {
		h.engine.Enqueue(sim.Command{
			Type:     sim.CommandViewerRemove,
			ActorID:  id,
			IssuedAt: now,
		})
	}
}

func viewersByID(viewers []vis.Viewer) map[string]vis.Viewer {
	if len(viewers) == 0 {
		return nil
	}
	byID := make(map[string]vis.Viewer, len(viewers))
	for _, v := range viewers {
		byID[v.ID] = v
	}
	return byID
}
