package sim

import (
	"sync"
	"time"

	"echo-maze/server/internal/telemetry"
	"echo-maze/server/logging"
)

const (
	// CommandRejectQueueLimit indicates a command was dropped due to per-actor
	// queue throttling.
	CommandRejectQueueLimit = "queue_limit"
	// CommandRejectQueueFull indicates the global command buffer is saturated.
	CommandRejectQueueFull = "queue_full"
)

const (
	ticksMetricKey        = "sim_ticks_total"
	ticksClampedMetricKey = "sim_ticks_clamped_total"
	commandsMetricKey     = "sim_commands_applied_total"
)

// LoopConfig tunes the command buffer and tick cadence.
type LoopConfig struct {
	TickRate        int
	CommandCapacity int
	PerActorLimit   int
	WarningStep     int
}

// LoopTickContext carries per-tick timing into Advance.
type LoopTickContext struct {
	Tick  uint64
	Now   time.Time
	Delta float64
}

// LoopStepResult is handed to the AfterStep hook once per tick.
type LoopStepResult struct {
	Tick         uint64
	Now          time.Time
	Delta        float64
	Duration     time.Duration
	Budget       time.Duration
	ClampedDelta bool
	Snapshot     Snapshot
	Commands     []Command
	Intent       Intent
}

// LoopHooks let the owner observe the loop without the loop knowing about it.
type LoopHooks struct {
	AfterStep      func(LoopStepResult)
	OnQueueWarning func(length int)
	OnCommandDrop  func(reason string, cmd Command)
}

// Loop owns the world, the staged command queue, and the latest-wins intent
// register. Commands queue up between ticks; intent is a level, not an
// event, and is sampled exactly once per tick.
type Loop struct {
	world   *World
	buffer  *CommandBuffer
	hooks   LoopHooks
	config  LoopConfig
	logger  telemetry.Logger
	metrics telemetry.Metrics
	clock   logging.Clock

	queueMu       sync.Mutex
	perActorCount map[string]int
	dropCounts    map[string]uint64

	intentMu sync.Mutex
	intent   Intent
}

// NewLoop wraps the world with a bounded command queue and a fixed-rate
// runner. A nil metrics sink is replaced with a discarding one.
func NewLoop(world *World, cfg LoopConfig, hooks LoopHooks, logger telemetry.Logger, metrics telemetry.Metrics, clock logging.Clock) *Loop {
	if world == nil {
		return nil
	}
	if clock == nil {
		clock = logging.SystemClock{}
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Loop{
		world:         world,
		buffer:        NewCommandBuffer(cfg.CommandCapacity, metrics),
		hooks:         hooks,
		config:        cfg,
		logger:        logger,
		metrics:       metrics,
		clock:         clock,
		perActorCount: make(map[string]int),
		dropCounts:    make(map[string]uint64),
	}
}

// SetIntent replaces the control state sampled on the next tick. Later
// writes win; axes are clamped into [-1, 1].
func (l *Loop) SetIntent(intent Intent) {
	if l == nil {
		return
	}
	l.intentMu.Lock()
	l.intent = intent.Clamped()
	l.intentMu.Unlock()
}

// CurrentIntent reads the intent register without consuming it.
func (l *Loop) CurrentIntent() Intent {
	if l == nil {
		return Intent{}
	}
	l.intentMu.Lock()
	defer l.intentMu.Unlock()
	return l.intent
}

// Pending reports the number of staged commands.
func (l *Loop) Pending() int {
	if l == nil {
		return 0
	}
	return l.buffer.Len()
}

// Enqueue stages a command, enforcing per-actor throttling and capacity.
func (l *Loop) Enqueue(cmd Command) (bool, string) {
	if l == nil {
		return false, CommandRejectQueueFull
	}
	reason := ""
	var dropCount uint64
	l.queueMu.Lock()
	if l.config.PerActorLimit > 0 && cmd.ActorID != "" {
		count := l.perActorCount[cmd.ActorID]
		if count >= l.config.PerActorLimit {
			reason = CommandRejectQueueLimit
			dropCount = l.incrementDropLocked(cmd.ActorID)
		} else {
			l.perActorCount[cmd.ActorID] = count + 1
		}
	}
	if reason == "" {
		if !l.buffer.Push(cmd) {
			reason = CommandRejectQueueFull
			dropCount = l.incrementDropLocked(cmd.ActorID)
		} else if l.config.WarningStep > 0 {
			length := l.buffer.Len()
			if length >= l.config.WarningStep && length%l.config.WarningStep == 0 {
				l.queueMu.Unlock()
				l.warnQueue(length)
				return true, ""
			}
		}
	}
	l.queueMu.Unlock()
	if reason != "" {
		l.reportDrop(reason, cmd, dropCount)
		return false, reason
	}
	return true, ""
}

// Advance executes a single tick: drain staged commands, sample intent once,
// step the world, snapshot.
func (l *Loop) Advance(ctx LoopTickContext) LoopStepResult {
	if l == nil {
		return LoopStepResult{}
	}
	commands := l.drainCommands()
	intent := l.CurrentIntent()
	l.world.ApplyCommands(ctx.Tick, commands)
	l.world.Step(ctx.Tick, ctx.Delta, intent)
	if len(commands) > 0 {
		l.metrics.Add(commandsMetricKey, uint64(len(commands)))
	}
	return LoopStepResult{
		Tick:     ctx.Tick,
		Now:      ctx.Now,
		Delta:    ctx.Delta,
		Snapshot: l.world.Snapshot(),
		Commands: commands,
		Intent:   intent,
	}
}

// Run drives the fixed-timestep loop until the stop channel closes. Wall
// clock dt is clamped at MaxTickSeconds so a stalled process never teleports
// anything.
func (l *Loop) Run(stop <-chan struct{}) {
	if l == nil {
		return
	}
	tickRate := l.config.TickRate
	if tickRate <= 0 {
		tickRate = 60
	}
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()

	last := l.clock.Now()
	budgetSeconds := 1.0 / float64(tickRate)
	budgetDuration := time.Second / time.Duration(tickRate)
	var tick uint64

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := l.clock.Now()
			dt := now.Sub(last).Seconds()
			clamped := false
			if dt <= 0 {
				dt = budgetSeconds
			} else if dt > MaxTickSeconds {
				dt = MaxTickSeconds
				clamped = true
			}
			last = now
			tick++

			start := l.clock.Now()
			result := l.Advance(LoopTickContext{Tick: tick, Now: now, Delta: dt})
			result.Duration = l.clock.Now().Sub(start)
			result.Budget = budgetDuration
			result.ClampedDelta = clamped

			l.metrics.Add(ticksMetricKey, 1)
			if clamped {
				l.metrics.Add(ticksClampedMetricKey, 1)
			}
			if l.hooks.AfterStep != nil {
				l.hooks.AfterStep(result)
			}
		}
	}
}

func (l *Loop) drainCommands() []Command {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	commands := l.buffer.Drain()
	if len(l.perActorCount) > 0 {
		l.perActorCount = make(map[string]int)
	}
	return commands
}

func (l *Loop) incrementDropLocked(actorID string) uint64 {
	if actorID == "" {
		return 0
	}
	count := l.dropCounts[actorID] + 1
	l.dropCounts[actorID] = count
	return count
}

func (l *Loop) warnQueue(length int) {
	if l.hooks.OnQueueWarning != nil {
		l.hooks.OnQueueWarning(length)
	}
}

func (l *Loop) reportDrop(reason string, cmd Command, count uint64) {
	if l.hooks.OnCommandDrop != nil {
		l.hooks.OnCommandDrop(reason, cmd)
	}
	if count > 0 && count&(count-1) == 0 {
		if l.logger != nil {
			l.logger.Printf(
				"[backpressure] dropping command actor=%s type=%s reason=%s count=%d",
				cmd.ActorID,
				cmd.Type,
				reason,
				count,
			)
		}
	}
}
