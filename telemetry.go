package server

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Metric keys the simulation loop and command buffer publish through the
// telemetry.Metrics interface.
const (
	metricTicksTotal    = "sim_ticks_total"
	metricTicksClamped  = "sim_ticks_clamped_total"
	metricCommands      = "sim_commands_applied_total"
	metricQueueDepth    = "world_command_queue_depth"
	metricQueueOverflow = "world_command_queue_overflow_total"
)

type telemetryCounters struct {
	bytesSent             atomic.Uint64
	entitiesSent          atomic.Uint64
	tickDurationMillis    atomic.Int64
	lastBroadcastBytes    atomic.Uint64
	lastBroadcastEntities atomic.Uint64
	debug                 bool

	ticksTotal      atomic.Uint64
	ticksClamped    atomic.Uint64
	commandsApplied atomic.Uint64
	queueDepth      atomic.Uint64
	queueOverflow   atomic.Uint64

	budgetMu          sync.Mutex
	budgetMillis      int64
	currentStreak     uint64
	maxStreak         uint64
	lastOverrunMillis int64
	overrunBuckets    map[string]uint64
	alarmCount        uint64
	lastAlarmTick     uint64
	lastAlarmRatio    float64
}

type tickBudgetSnapshot struct {
	BudgetMillis      int64             `json:"budgetMillis"`
	CurrentStreak     uint64            `json:"currentStreak"`
	MaxStreak         uint64            `json:"maxStreak"`
	LastOverrunMillis int64             `json:"lastOverrunMillis"`
	Overruns          map[string]uint64 `json:"overruns"`
	AlarmCount        uint64            `json:"alarmCount"`
	LastAlarmTick     uint64            `json:"lastAlarmTick"`
	LastAlarmRatio    float64           `json:"lastAlarmRatio"`
}

type telemetrySnapshot struct {
	BytesSent            uint64             `json:"bytesSent"`
	EntitiesSent         uint64             `json:"entitiesSent"`
	TickDuration         int64              `json:"tickDurationMillis"`
	TicksTotal           uint64             `json:"ticksTotal"`
	TicksClamped         uint64             `json:"ticksClamped"`
	CommandsApplied      uint64             `json:"commandsApplied"`
	CommandQueueDepth    uint64             `json:"commandQueueDepth"`
	CommandQueueOverflow uint64             `json:"commandQueueOverflow"`
	TickBudget           tickBudgetSnapshot `json:"tickBudget"`
}

func newTelemetryCounters() *telemetryCounters {
	t := &telemetryCounters{}
	if os.Getenv("DEBUG_TELEMETRY") == "1" {
		t.debug = true
	}
	return t
}

// Add satisfies telemetry.Metrics for the counter-style keys the simulation
// publishes. Unknown keys are dropped.
func (t *telemetryCounters) Add(key string, delta uint64) {
	switch key {
	case metricTicksTotal:
		t.ticksTotal.Add(delta)
	case metricTicksClamped:
		t.ticksClamped.Add(delta)
	case metricCommands:
		t.commandsApplied.Add(delta)
	case metricQueueOverflow:
		t.queueOverflow.Add(delta)
	}
}

// Store satisfies telemetry.Metrics for gauge-style keys.
func (t *telemetryCounters) Store(key string, value uint64) {
	switch key {
	case metricQueueDepth:
		t.queueDepth.Store(value)
	}
}

func (t *telemetryCounters) RecordBroadcast(bytes, entities int) {
	if bytes < 0 {
		bytes = 0
	}
	if entities < 0 {
		entities = 0
	}
	t.bytesSent.Add(uint64(bytes))
	t.entitiesSent.Add(uint64(entities))
	t.lastBroadcastBytes.Store(uint64(bytes))
	t.lastBroadcastEntities.Store(uint64(entities))
}

func (t *telemetryCounters) RecordTickDuration(duration time.Duration) {
	millis := duration.Milliseconds()
	if millis < 0 {
		millis = 0
	}
	t.tickDurationMillis.Store(millis)
	if t.debug {
		fmt.Printf(
			"[telemetry] tick=%dms bytes=%d totalBytes=%d entities=%d totalEntities=%d\n",
			millis,
			t.lastBroadcastBytes.Load(),
			t.bytesSent.Load(),
			t.lastBroadcastEntities.Load(),
			t.entitiesSent.Load(),
		)
	}
}

// RecordTickBudgetOverrun notes a tick that ran past its budget and returns
// the current consecutive-overrun streak.
func (t *telemetryCounters) RecordTickBudgetOverrun(duration, budget time.Duration) uint64 {
	t.budgetMu.Lock()
	defer t.budgetMu.Unlock()

	t.budgetMillis = budget.Milliseconds()
	t.lastOverrunMillis = duration.Milliseconds()
	t.currentStreak++
	if t.currentStreak > t.maxStreak {
		t.maxStreak = t.currentStreak
	}
	if t.overrunBuckets == nil {
		t.overrunBuckets = make(map[string]uint64)
	}
	t.overrunBuckets[overrunBucket(duration, budget)]++
	return t.currentStreak
}

// ResetTickBudgetOverrunStreak clears the streak after a healthy tick. Bucket
// counts and the max streak persist.
func (t *telemetryCounters) ResetTickBudgetOverrunStreak() {
	t.budgetMu.Lock()
	t.currentStreak = 0
	t.budgetMu.Unlock()
}

// RecordTickBudgetAlarm notes an escalated overrun streak.
func (t *telemetryCounters) RecordTickBudgetAlarm(tick uint64, ratio float64) {
	t.budgetMu.Lock()
	t.alarmCount++
	t.lastAlarmTick = tick
	t.lastAlarmRatio = ratio
	t.budgetMu.Unlock()
}

func overrunBucket(duration, budget time.Duration) string {
	if budget <= 0 {
		return "over_gt3x"
	}
	ratio := float64(duration) / float64(budget)
	switch {
	case ratio <= 1.5:
		return "over_1_5x"
	case ratio <= 2:
		return "over_2x"
	case ratio < 3:
		return "over_3x"
	default:
		return "over_gt3x"
	}
}

func (t *telemetryCounters) DebugEnabled() bool {
	return t.debug
}

func (t *telemetryCounters) Snapshot() telemetrySnapshot {
	snapshot := telemetrySnapshot{
		BytesSent:            t.bytesSent.Load(),
		EntitiesSent:         t.entitiesSent.Load(),
		TickDuration:         t.tickDurationMillis.Load(),
		TicksTotal:           t.ticksTotal.Load(),
		TicksClamped:         t.ticksClamped.Load(),
		CommandsApplied:      t.commandsApplied.Load(),
		CommandQueueDepth:    t.queueDepth.Load(),
		CommandQueueOverflow: t.queueOverflow.Load(),
	}

	t.budgetMu.Lock()
	budget := tickBudgetSnapshot{
		BudgetMillis:      t.budgetMillis,
		CurrentStreak:     t.currentStreak,
		MaxStreak:         t.maxStreak,
		LastOverrunMillis: t.lastOverrunMillis,
		AlarmCount:        t.alarmCount,
		LastAlarmTick:     t.lastAlarmTick,
		LastAlarmRatio:    t.lastAlarmRatio,
	}
	if len(t.overrunBuckets) > 0 {
		budget.Overruns = make(map[string]uint64, len(t.overrunBuckets))
		for bucket, count := range t.overrunBuckets {
			budget.Overruns[bucket] = count
		}
	}
	t.budgetMu.Unlock()

	snapshot.TickBudget = budget
	return snapshot
}
