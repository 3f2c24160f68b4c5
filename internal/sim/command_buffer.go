package sim

import "sync"

const (
	commandQueueDepthMetricKey    = "world_command_queue_depth"
	commandQueueOverflowMetricKey = "world_command_queue_overflow_total"
)

// CommandBuffer is the bounded staging area between network handlers and
// the tick loop. Writers race freely; the loop drains it once per tick.
// The backing array is reused across ticks.
type CommandBuffer struct {
	mu      sync.Mutex
	slots   []Command
	size    int
	metrics telemetryMetrics
}

type telemetryMetrics interface {
	Add(string, uint64)
	Store(string, uint64)
}

// NewCommandBuffer constructs a buffer holding at most capacity commands.
func NewCommandBuffer(capacity int, metrics telemetryMetrics) *CommandBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &CommandBuffer{
		slots:   make([]Command, capacity),
		metrics: metrics,
	}
}

// Capacity reports how many commands fit before Push starts refusing.
func (b *CommandBuffer) Capacity() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.slots)
}

// Push stages a command. A full buffer refuses it and counts the overflow.
func (b *CommandBuffer) Push(cmd Command) bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == len(b.slots) {
		if b.metrics != nil {
			b.metrics.Add(commandQueueOverflowMetricKey, 1)
		}
		return false
	}
	b.slots[b.size] = cmd
	b.size++
	b.publishDepthLocked()
	return true
}

// Drain hands back every staged command in arrival order and empties the
// buffer. Vacated slots are zeroed; queued payload pointers must not
// outlive the tick that consumed them.
func (b *CommandBuffer) Drain() []Command {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		return nil
	}
	out := make([]Command, b.size)
	copy(out, b.slots[:b.size])
	clear(b.slots[:b.size])
	b.size = 0
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
	return b.size
}

func (b *CommandBuffer) publishDepthLocked() {
	if b.metrics == nil {
		return
	}
	b.metrics.Store(commandQueueDepthMetricKey, uint64(b.size))
}
