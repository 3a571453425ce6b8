package sim

import (
	"sync"
	"time"

	"breach-and-hold/server/internal/ledger"
	"breach-and-hold/server/internal/telemetry"
)

const (
	metricJournalNonMonotonicSeq = "journal_nonmonotonic_seq"

	// DefaultKeyframeCapacity bounds the keyframe ring when no config is given.
	DefaultKeyframeCapacity = 8
	// DefaultKeyframeMaxAge expires keyframes the recovery window no longer needs.
	DefaultKeyframeMaxAge = 5 * time.Second
)

// Keyframe captures a full ledger snapshot recorded in the journal.
type Keyframe struct {
	Tick       uint64          `json:"tick"`
	Sequence   uint64          `json:"sequence"`
	Walls      ledger.Snapshot `json:"walls"`
	RecordedAt time.Time       `json:"recordedAt"`
}

// KeyframeEviction describes a keyframe removed from the buffer and why it was dropped.
type KeyframeEviction struct {
	Sequence uint64 `json:"sequence"`
	Tick     uint64 `json:"tick"`
	Reason   string `json:"reason,omitempty"`
}

// KeyframeRecordResult reports journal state after storing a keyframe.
type KeyframeRecordResult struct {
	Size           int                `json:"size"`
	OldestSequence uint64             `json:"oldestSequence"`
	NewestSequence uint64             `json:"newestSequence"`
	Evicted        []KeyframeEviction `json:"evicted,omitempty"`
}

// Journal accumulates slice deltas generated during a tick and keeps a
// rolling buffer of recent keyframes so late or gapped clients can
// rehydrate state.
type Journal struct {
	mu        sync.RWMutex
	deltas    []ledger.SliceDelta
	lastSeq   map[string]uint64
	keyframes []Keyframe
	maxFrames int
	maxAge    time.Duration
	metrics   telemetry.Metrics
}

// NewJournal constructs a journal with storage for the configured number of
// keyframes and retention window.
func NewJournal(keyframeCapacity int, maxAge time.Duration, metrics telemetry.Metrics) *Journal {
	if keyframeCapacity < 0 {
		keyframeCapacity = 0
	}
	if maxAge < 0 {
		maxAge = 0
	}
	return &Journal{
		deltas:    make([]ledger.SliceDelta, 0),
		lastSeq:   make(map[string]uint64),
		keyframes: make([]Keyframe, 0, keyframeCapacity),
		maxFrames: keyframeCapacity,
		maxAge:    maxAge,
		metrics:   metrics,
	}
}

// AppendDelta records a slice delta for the current tick. Records whose
// per-wall sequence does not advance are dropped and counted.
func (j *Journal) AppendDelta(d ledger.SliceDelta) bool {
	if j == nil || d.WallID == "" {
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if d.Seq <= j.lastSeq[d.WallID] {
		if j.metrics != nil {
			j.metrics.Add(metricJournalNonMonotonicSeq, 1)
		}
		return false
	}
	j.lastSeq[d.WallID] = d.Seq
	j.deltas = append(j.deltas, d)
	return true
}

// DrainDeltas returns all staged deltas and clears the in-memory slice.
func (j *Journal) DrainDeltas() []ledger.SliceDelta {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.deltas) == 0 {
		return nil
	}
	drained := make([]ledger.SliceDelta, len(j.deltas))
	copy(drained, j.deltas)
	j.deltas = j.deltas[:0]
	return drained
}

// SnapshotDeltas returns a copy of the staged deltas without clearing the
// journal.
func (j *Journal) SnapshotDeltas() []ledger.SliceDelta {
	if j == nil {
		return nil
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.deltas) == 0 {
		return nil
	}
	snapshot := make([]ledger.SliceDelta, len(j.deltas))
	copy(snapshot, j.deltas)
	return snapshot
}

// RestoreDeltas prepends the provided deltas back into the journal. It is
// used when a caller drains the journal but later needs to roll the
// operation back, for example when encoding fails and the delta message
// cannot be sent.
func (j *Journal) RestoreDeltas(d []ledger.SliceDelta) {
	if j == nil || len(d) == 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	restored := make([]ledger.SliceDelta, 0, len(d)+len(j.deltas))
	restored = append(restored, d...)
	restored = append(restored, j.deltas...)
	j.deltas = restored
}

// PendingDeltas reports the number of staged deltas.
func (j *Journal) PendingDeltas() int {
	if j == nil {
		return 0
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.deltas)
}

// RecordKeyframe stores a keyframe in the buffer enforcing retention limits
// by count and age.
func (j *Journal) RecordKeyframe(frame Keyframe) KeyframeRecordResult {
	if j == nil {
		return KeyframeRecordResult{}
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.maxFrames == 0 {
		j.keyframes = j.keyframes[:0]
		return KeyframeRecordResult{}
	}

	frame.RecordedAt = time.Now()
	j.keyframes = append(j.keyframes, frame)

	cutoff := time.Time{}
	if j.maxAge > 0 {
		cutoff = frame.RecordedAt.Add(-j.maxAge)
	}

	evicted := make([]KeyframeEviction, 0)
	if !cutoff.IsZero() {
		idx := 0
		for idx < len(j.keyframes) {
			if !j.keyframes[idx].RecordedAt.Before(cutoff) {
				break
			}
			evicted = append(evicted, KeyframeEviction{
				Sequence: j.keyframes[idx].Sequence,
				Tick:     j.keyframes[idx].Tick,
				Reason:   "expired",
			})
			idx++
		}
		if idx > 0 {
			copy(j.keyframes, j.keyframes[idx:])
			j.keyframes = j.keyframes[:len(j.keyframes)-idx]
		}
	}

	if j.maxFrames > 0 && len(j.keyframes) > j.maxFrames {
		overflow := len(j.keyframes) - j.maxFrames
		for i := 0; i < overflow; i++ {
			frame := j.keyframes[i]
			evicted = append(evicted, KeyframeEviction{
				Sequence: frame.Sequence,
				Tick:     frame.Tick,
				Reason:   "count",
			})
		}
		copy(j.keyframes, j.keyframes[overflow:])
		j.keyframes = j.keyframes[:len(j.keyframes)-overflow]
	}

	size := len(j.keyframes)
	result := KeyframeRecordResult{Size: size}
	if size > 0 {
		result.OldestSequence = j.keyframes[0].Sequence
		result.NewestSequence = j.keyframes[size-1].Sequence
	}
	result.Evicted = evicted
	return result
}

// Keyframes exposes the current keyframe buffer contents in chronological
// order. Callers receive a copy to avoid holding references into the buffer.
func (j *Journal) Keyframes() []Keyframe {
	if j == nil {
		return nil
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.keyframes) == 0 {
		return nil
	}
	frames := make([]Keyframe, len(j.keyframes))
	copy(frames, j.keyframes)
	return frames
}

// KeyframeBySequence returns the keyframe matching the provided sequence.
func (j *Journal) KeyframeBySequence(sequence uint64) (Keyframe, bool) {
	if j == nil || sequence == 0 {
		return Keyframe{}, false
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, frame := range j.keyframes {
		if frame.Sequence == sequence {
			return frame, true
		}
	}
	return Keyframe{}, false
}

// KeyframeWindow reports the current retention window.
func (j *Journal) KeyframeWindow() (size int, oldest, newest uint64) {
	if j == nil {
		return 0, 0, 0
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	size = len(j.keyframes)
	if size == 0 {
		return size, 0, 0
	}
	oldest = j.keyframes[0].Sequence
	newest = j.keyframes[size-1].Sequence
	return size, oldest, newest
}

// Reset clears staged deltas, sequence cursors, and buffered keyframes.
// A fresh ledger restarts per-wall sequences at one, so the cursors from
// the previous match must not survive into the next.
func (j *Journal) Reset() {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.deltas = j.deltas[:0]
	j.keyframes = j.keyframes[:0]
	j.lastSeq = make(map[string]uint64)
}
