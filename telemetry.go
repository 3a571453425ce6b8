package server

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"breach-and-hold/server/internal/telemetry"
)

const (
	metricKeyBroadcastTotal   = "hub_broadcast_total"
	metricKeyBroadcastBytes   = "hub_broadcast_bytes_total"
	metricKeyVisibilityMillis = "hub_visibility_compute_millis"
	metricKeyQueueDrops       = "hub_subscriber_queue_drops_total"
)

type telemetryCounters struct {
	metrics telemetry.Metrics

	bytesSent             atomic.Uint64
	deltasSent            atomic.Uint64
	lastBroadcastBytes    atomic.Uint64
	lastBroadcastDeltas   atomic.Uint64
	tickDurationMillis    atomic.Int64
	visibilityMillis      atomic.Int64
	visibilityRegions     atomic.Uint64
	subscriberQueueDepth  atomic.Int64
	subscriberQueueDrops  atomic.Uint64
	debug                 bool
	keyframeJournalSize   atomic.Uint64
	keyframeOldestSeq     atomic.Uint64
	keyframeNewestSeq     atomic.Uint64
	keyframeRequests      atomic.Uint64
	keyframeNacksExpired  atomic.Uint64
	keyframeNacksLimited  atomic.Uint64
	keyframeRequestMillis atomic.Uint64
}

type telemetrySnapshot struct {
	BytesSent                uint64 `json:"bytesSent"`
	DeltasSent               uint64 `json:"deltasSent"`
	TickDuration             int64  `json:"tickDurationMillis"`
	VisibilityCompute        int64  `json:"visibilityComputeMillis"`
	VisibilityRegions        uint64 `json:"visibilityRegions"`
	SubscriberQueueDepth     int64  `json:"subscriberQueueDepth"`
	SubscriberQueueDrops     uint64 `json:"subscriberQueueDrops"`
	KeyframeJournalSize      uint64 `json:"keyframeJournalSize"`
	KeyframeOldestSequence   uint64 `json:"keyframeOldestSequence"`
	KeyframeNewestSequence   uint64 `json:"keyframeNewestSequence"`
	KeyframeRequests         uint64 `json:"keyframeRequests"`
	KeyframeNacksExpired     uint64 `json:"keyframeNacksExpired"`
	KeyframeNacksRateLimited uint64 `json:"keyframeNacksRateLimited"`
	KeyframeRequestLatencyMs uint64 `json:"keyframeRequestLatencyMs"`
}

func newTelemetryCounters(metrics telemetry.Metrics) *telemetryCounters {
	t := &telemetryCounters{metrics: metrics}
	if os.Getenv("DEBUG_TELEMETRY") == "1" {
		t.debug = true
	}
	return t
}

func (t *telemetryCounters) RecordBroadcast(bytes, deltas int) {
	if bytes < 0 {
		bytes = 0
	}
	if deltas < 0 {
		deltas = 0
	}
	t.bytesSent.Add(uint64(bytes))
	t.deltasSent.Add(uint64(deltas))
	t.lastBroadcastBytes.Store(uint64(bytes))
	t.lastBroadcastDeltas.Store(uint64(deltas))
	if t.metrics != nil {
		t.metrics.Add(metricKeyBroadcastTotal, 1)
		t.metrics.Add(metricKeyBroadcastBytes, uint64(bytes))
	}
}

func (t *telemetryCounters) RecordTickDuration(duration time.Duration) {
	millis := duration.Milliseconds()
	if millis < 0 {
		millis = 0
	}
	t.tickDurationMillis.Store(millis)
	if t.debug {
		fmt.Printf(
			"[telemetry] tick=%dms bytes=%d totalBytes=%d deltas=%d totalDeltas=%d\n",
			millis,
			t.lastBroadcastBytes.Load(),
			t.bytesSent.Load(),
			t.lastBroadcastDeltas.Load(),
			t.deltasSent.Load(),
		)
	}
}

func (t *telemetryCounters) RecordVisibilityCompute(duration time.Duration, regions int) {
	millis := duration.Milliseconds()
	if millis < 0 {
		millis = 0
	}
	t.visibilityMillis.Store(millis)
	if regions > 0 {
		t.visibilityRegions.Add(uint64(regions))
	}
	if t.metrics != nil {
		t.metrics.Store(metricKeyVisibilityMillis, uint64(millis))
	}
}

func (t *telemetryCounters) RecordKeyframeJournal(size int, oldest, newest uint64) {
	if size < 0 {
		size = 0
	}
	t.keyframeJournalSize.Store(uint64(size))
	t.keyframeOldestSeq.Store(oldest)
	t.keyframeNewestSeq.Store(newest)
}

func (t *telemetryCounters) RecordKeyframeRequest(latency time.Duration, success bool) {
	t.keyframeRequests.Add(1)
	if success {
		millis := latency.Milliseconds()
		if millis < 0 {
			millis = 0
		}
		t.keyframeRequestMillis.Store(uint64(millis))
	}
}

func (t *telemetryCounters) IncrementKeyframeExpired() {
	t.keyframeNacksExpired.Add(1)
}

func (t *telemetryCounters) IncrementKeyframeRateLimited() {
	t.keyframeNacksLimited.Add(1)
}

func (t *telemetryCounters) RecordSubscriberQueueDepth(depth int) {
	if depth < 0 {
		depth = 0
	}
	t.subscriberQueueDepth.Store(int64(depth))
}

func (t *telemetryCounters) RecordSubscriberQueueDrop(depth int) {
	t.subscriberQueueDrops.Add(1)
	if depth >= 0 {
		t.subscriberQueueDepth.Store(int64(depth))
	}
	if t.metrics != nil {
		t.metrics.Add(metricKeyQueueDrops, 1)
	}
}

func (t *telemetryCounters) DebugEnabled() bool {
	return t.debug
}

func (t *telemetryCounters) Snapshot() telemetrySnapshot {
	return telemetrySnapshot{
		BytesSent:                t.bytesSent.Load(),
		DeltasSent:               t.deltasSent.Load(),
		TickDuration:             t.tickDurationMillis.Load(),
		VisibilityCompute:        t.visibilityMillis.Load(),
		VisibilityRegions:        t.visibilityRegions.Load(),
		SubscriberQueueDepth:     t.subscriberQueueDepth.Load(),
		SubscriberQueueDrops:     t.subscriberQueueDrops.Load(),
		KeyframeJournalSize:      t.keyframeJournalSize.Load(),
		KeyframeOldestSequence:   t.keyframeOldestSeq.Load(),
		KeyframeNewestSequence:   t.keyframeNewestSeq.Load(),
		KeyframeRequests:         t.keyframeRequests.Load(),
		KeyframeNacksExpired:     t.keyframeNacksExpired.Load(),
		KeyframeNacksRateLimited: t.keyframeNacksLimited.Load(),
		KeyframeRequestLatencyMs: t.keyframeRequestMillis.Load(),
	}
}
