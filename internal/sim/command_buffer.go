package sim

import (
	"sync"

	"breach-and-hold/server/internal/telemetry"
)

const (
	metricCommandQueueDepth    = "sim_command_queue_depth"
	metricCommandQueueRejected = "sim_command_queue_rejected_total"
)

// CommandBuffer is the staging queue between sessions and the simulation
// goroutine: a fixed ring that rejects pushes at capacity rather than
// blocking a producer. Concurrent producers, single consumer.
type CommandBuffer struct {
	mu      sync.Mutex
	ring    []Command
	head    int
	count   int
	metrics telemetry.Metrics
}

// NewCommandBuffer constructs a ring buffer with the provided capacity.
// Capacities below one are clamped so the buffer can always hold a command.
func NewCommandBuffer(capacity int, metrics telemetry.Metrics) *CommandBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &CommandBuffer{
		ring:    make([]Command, capacity),
		metrics: metrics,
	}
}

// Capacity reports the maximum number of commands the buffer can hold.
func (b *CommandBuffer) Capacity() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ring)
}

// Push stages a command, returning false if the buffer is full.
func (b *CommandBuffer) Push(cmd Command) bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == len(b.ring) {
		if b.metrics != nil {
			b.metrics.Add(metricCommandQueueRejected, 1)
		}
		return false
	}
	b.ring[(b.head+b.count)%len(b.ring)] = cmd
	b.count++
	b.publishDepthLocked()
	return true
}

// Drain returns all staged commands in FIFO order and clears the buffer.
func (b *CommandBuffer) Drain() []Command {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return nil
	}
	out := make([]Command, 0, b.count)
	tail := b.head + b.count
	if wrap := tail - len(b.ring); wrap > 0 {
		out = append(out, b.ring[b.head:]...)
		out = append(out, b.ring[:wrap]...)
	} else {
		out = append(out, b.ring[b.head:tail]...)
	}
	b.head = 0
	b.count = 0
	b.publishDepthLocked()
	return out
}

// Len reports the number of staged commands.
func (b *CommandBuffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *CommandBuffer) publishDepthLocked() {
	if b.metrics == nil {
		return
	}
	b.metrics.Store(metricCommandQueueDepth, uint64(b.count))
}
