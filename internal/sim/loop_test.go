package sim

import (
	"sync"
	"testing"
	"time"
)

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]uint64
	stored map[string]uint64
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{counts: make(map[string]uint64), stored: make(map[string]uint64)}
}

func (m *countingMetrics) Add(key string, delta uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key] += delta
}

func (m *countingMetrics) Store(key string, value uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored[key] = value
}

func (m *countingMetrics) count(key string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func addZoneCommand(actor string) Command {
	return Command{
		ActorID: actor,
		Type:    CommandAdd,
		Add:     &AddCommand{Kind: EntityZone, X: fptr(3), Z: fptr(0)},
	}
}

func TestLoopEnqueuePerActorLimit(t *testing.T) {
	var drops []string
	loop := NewLoop(NewWorld(Seed{}, nil), LoopConfig{
		CommandCapacity: 8,
		PerActorLimit:   2,
	}, LoopHooks{
		OnCommandDrop: func(reason string, _ Command) {
			drops = append(drops, reason)
		},
	}, nil, nil, nil)

	for i := 0; i < 2; i++ {
		if ok, reason := loop.Enqueue(addZoneCommand("client-1")); !ok {
			t.Fatalf("expected enqueue %d to succeed, got %q", i, reason)
		}
	}
	ok, reason := loop.Enqueue(addZoneCommand("client-1"))
	if ok || reason != CommandRejectQueueLimit {
		t.Fatalf("expected per-actor rejection, got ok=%v reason=%q", ok, reason)
	}
	if len(drops) != 1 || drops[0] != CommandRejectQueueLimit {
		t.Fatalf("expected drop hook with queue_limit, got %v", drops)
	}

	loop.Advance(LoopTickContext{Tick: 1, Now: time.Now(), Delta: 0.016})
	if ok, reason := loop.Enqueue(addZoneCommand("client-1")); !ok {
		t.Fatalf("expected throttle to reset after drain, got %q", reason)
	}
}

func TestLoopEnqueueQueueFull(t *testing.T) {
	loop := NewLoop(NewWorld(Seed{}, nil), LoopConfig{
		CommandCapacity: 2,
	}, LoopHooks{}, nil, nil, nil)

	if ok, _ := loop.Enqueue(addZoneCommand("client-1")); !ok {
		t.Fatalf("expected first enqueue to succeed")
	}
	if ok, _ := loop.Enqueue(addZoneCommand("client-2")); !ok {
		t.Fatalf("expected second enqueue to succeed")
	}
	ok, reason := loop.Enqueue(addZoneCommand("client-3"))
	if ok || reason != CommandRejectQueueFull {
		t.Fatalf("expected saturation rejection, got ok=%v reason=%q", ok, reason)
	}
	if loop.Pending() != 2 {
		t.Fatalf("expected 2 staged commands, got %d", loop.Pending())
	}
}

func TestLoopQueueWarning(t *testing.T) {
	var warned []int
	loop := NewLoop(NewWorld(Seed{}, nil), LoopConfig{
		CommandCapacity: 8,
		WarningStep:     2,
	}, LoopHooks{
		OnQueueWarning: func(length int) {
			warned = append(warned, length)
		},
	}, nil, nil, nil)

	loop.Enqueue(addZoneCommand("client-1"))
	loop.Enqueue(addZoneCommand("client-2"))
	if len(warned) != 1 || warned[0] != 2 {
		t.Fatalf("expected one warning at depth 2, got %v", warned)
	}
}

func TestLoopAdvance(t *testing.T) {
	metrics := newCountingMetrics()
	world := NewWorld(Seed{Modes: Modes{ListenerMotion: true}}, nil)
	loop := NewLoop(world, LoopConfig{CommandCapacity: 8}, LoopHooks{}, nil, metrics, nil)

	loop.SetIntent(Intent{Forward: 1})
	loop.Enqueue(addZoneCommand("client-1"))

	result := loop.Advance(LoopTickContext{Tick: 1, Now: time.Now(), Delta: 0.1})
	if result.Tick != 1 {
		t.Fatalf("expected tick 1, got %d", result.Tick)
	}
	if len(result.Commands) != 1 {
		t.Fatalf("expected one drained command, got %d", len(result.Commands))
	}
	if result.Intent.Forward != 1 {
		t.Fatalf("expected sampled forward intent, got %+v", result.Intent)
	}
	if len(result.Snapshot.Zones) != 1 {
		t.Fatalf("expected the staged zone applied, got %d zones", len(result.Snapshot.Zones))
	}
	if !almostEqual(result.Snapshot.Listener.Z, -0.275) {
		t.Fatalf("expected listener at z=-0.275, got %v", result.Snapshot.Listener.Z)
	}
	if loop.Pending() != 0 {
		t.Fatalf("expected queue drained, got %d pending", loop.Pending())
	}
	if metrics.count("sim_commands_applied_total") != 1 {
		t.Fatalf("expected command metric incremented, got %d", metrics.count("sim_commands_applied_total"))
	}
}

func TestLoopIntentLatestWins(t *testing.T) {
	loop := NewLoop(NewWorld(Seed{}, nil), LoopConfig{CommandCapacity: 4}, LoopHooks{}, nil, nil, nil)
	loop.SetIntent(Intent{Forward: -1})
	loop.SetIntent(Intent{Forward: 3, Turn: -7})
	intent := loop.CurrentIntent()
	if intent.Forward != 1 || intent.Turn != -1 {
		t.Fatalf("expected clamped latest intent, got %+v", intent)
	}
}

func TestLoopRunClampsDelta(t *testing.T) {
	world := NewWorld(Seed{Modes: Modes{ListenerMotion: true}}, nil)
	clock := &steppingClock{now: time.Unix(0, 0), step: 50 * time.Millisecond}
	metrics := newCountingMetrics()
	results := make(chan LoopStepResult, 1)
	loop := NewLoop(world, LoopConfig{
		TickRate:        200,
		CommandCapacity: 4,
	}, LoopHooks{
		AfterStep: func(result LoopStepResult) {
			select {
			case results <- result:
			default:
			}
		},
	}, nil, metrics, clock)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		loop.Run(stop)
		close(done)
	}()

	select {
	case result := <-results:
		if !result.ClampedDelta {
			t.Fatalf("expected a 50ms wall-clock gap to be clamped")
		}
		if result.Delta != MaxTickSeconds {
			t.Fatalf("expected delta clamped to %v, got %v", MaxTickSeconds, result.Delta)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a tick within 2s")
	}
	close(stop)
	<-done

	if metrics.count("sim_ticks_total") == 0 {
		t.Fatalf("expected tick metric incremented")
	}
	if metrics.count("sim_ticks_clamped_total") == 0 {
		t.Fatalf("expected clamp metric incremented")
	}
}
