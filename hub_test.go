package server

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"echo-maze/server/internal/acoustics"
	"echo-maze/server/internal/audio"
	"echo-maze/server/internal/sim"
	"echo-maze/server/logging"
	"echo-maze/server/logging/lifecycle"
	"echo-maze/server/logging/network"
)

func testSeed() sim.Seed {
	return sim.Seed{
		Zones: []sim.Zone{{ID: "pillar", Label: "pillar", X: 4, Z: -3, Radius: 2}},
		Walls: []sim.Wall{{ID: "screen", X: 0, Z: -6, Width: 6, Height: 1}},
		Emitters: []sim.Emitter{
			{ID: "beacon", Name: "beacon", X: 0, Z: -10, Y: 1.2, Frequency: 440, Gain: 0.8, Waveform: sim.WaveformSine},
		},
		Modes: sim.Modes{ListenerMotion: true, EmitterMotion: true},
	}
}

type recordingConn struct {
	mu        sync.Mutex
	writes    [][]byte
	deadlines []time.Time
	closed    int
	writeErr  error
}

func (c *recordingConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	cloned := make([]byte, len(data))
	copy(cloned, data)
	c.writes = append(c.writes, cloned)
	return nil
}

func (c *recordingConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadlines = append(c.deadlines, t)
	return nil
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *recordingConn) snapshot() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes), c.closed
}

type stubUnit struct {
	retunes int
}

func (u *stubUnit) SetTarget(acoustics.Source, acoustics.Pose) { u.retunes++ }
func (u *stubUnit) Close()                                     {}

type stubSink struct {
	startErr error
	starts   int
	stops    int
	added    int
}

func (s *stubSink) Start() error {
	s.starts++
	return s.startErr
}

func (s *stubSink) AddUnit(acoustics.Source, acoustics.Pose) (audio.Unit, error) {
	s.added++
	return &stubUnit{}, nil
}

func (s *stubSink) Stop() { s.stops++ }

func collectLifecycleEvents(events *[]logging.Event, mu *sync.Mutex) logging.Publisher {
	return logging.PublisherFunc(func(_ context.Context, event logging.Event) {
		mu.Lock()
		*events = append(*events, event)
		mu.Unlock()
	})
}

func TestNewHubPrimesState(t *testing.T) {
	hub := NewHub(DefaultConfig(), testSeed(), nil, nil)

	state := hub.CurrentState()
	if state.Ver != ProtocolVersion {
		t.Fatalf("expected ver %d, got %d", ProtocolVersion, state.Ver)
	}
	if state.Type != "state" {
		t.Fatalf("expected type state, got %q", state.Type)
	}
	if state.Tick != 0 {
		t.Fatalf("expected primed tick 0, got %d", state.Tick)
	}
	if len(state.Zones) != 1 || len(state.Walls) != 1 || len(state.Emitters) != 1 {
		t.Fatalf("expected 1/1/1 entities, got %d/%d/%d", len(state.Zones), len(state.Walls), len(state.Emitters))
	}
	if len(state.Acoustics) != 1 {
		t.Fatalf("expected one acoustic source, got %d", len(state.Acoustics))
	}
	if state.Audio.Status != audio.StatusIdle {
		t.Fatalf("expected audio idle before start, got %q", state.Audio.Status)
	}
	if !state.Modes.ListenerMotion || !state.Modes.EmitterMotion {
		t.Fatalf("expected motion modes on, got %+v", state.Modes)
	}
}

func TestHubJoinMintsSequentialIDs(t *testing.T) {
	hub := NewHub(DefaultConfig(), testSeed(), nil, nil)

	first := hub.Join()
	second := hub.Join()

	if first.ID != "client-1" || second.ID != "client-2" {
		t.Fatalf("expected client-1 and client-2, got %q and %q", first.ID, second.ID)
	}
	if first.Ver != ProtocolVersion {
		t.Fatalf("expected ver %d, got %d", ProtocolVersion, first.Ver)
	}
	if first.TickRate != defaultTickRate {
		t.Fatalf("expected tick rate %d, got %d", defaultTickRate, first.TickRate)
	}
	if first.WorldRadius != sim.WorldRadius {
		t.Fatalf("expected world radius %v, got %v", sim.WorldRadius, first.WorldRadius)
	}
	if first.HeartbeatMillis != heartbeatInterval.Milliseconds() {
		t.Fatalf("expected heartbeat %dms, got %d", heartbeatInterval.Milliseconds(), first.HeartbeatMillis)
	}
	if len(first.State.Emitters) != 1 {
		t.Fatalf("expected join state to carry the seed, got %d emitters", len(first.State.Emitters))
	}
}

func TestHubJoinPublishesLifecycleEvent(t *testing.T) {
	var mu sync.Mutex
	var events []logging.Event
	hub := NewHub(DefaultConfig(), testSeed(), nil, collectLifecycleEvents(&events, &mu))

	join := hub.Join()

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, event := range events {
		if event.Type == lifecycle.EventClientJoined && event.Actor.ID == join.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a client_joined event for %s, got %d events", join.ID, len(events))
	}
}

func TestHubUpdateIntentMovesListener(t *testing.T) {
	hub := NewHub(DefaultConfig(), testSeed(), nil, nil)

	if hub.UpdateIntent("stranger", 1, 0, 0) {
		t.Fatalf("expected unknown client to be rejected")
	}

	join := hub.Join()
	if !hub.UpdateIntent(join.ID, 1, 0, 0) {
		t.Fatalf("expected known client intent to apply")
	}

	hub.Advance(1, time.Now(), 0.1)

	state := hub.CurrentState()
	if state.Tick != 1 {
		t.Fatalf("expected tick 1, got %d", state.Tick)
	}
	wantZ := -sim.MoveSpeed * 0.1
	if diff := state.Listener.Z - wantZ; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected listener z %v, got %v", wantZ, state.Listener.Z)
	}
	if state.Listener.X != 0 {
		t.Fatalf("expected listener x 0, got %v", state.Listener.X)
	}
}

func TestHubEnqueueCommandUnknownActor(t *testing.T) {
	hub := NewHub(DefaultConfig(), testSeed(), nil, nil)

	ok, reason := hub.EnqueueCommand("stranger", sim.Command{Type: sim.CommandRemove, Remove: &sim.RemoveCommand{ID: "pillar"}})
	if ok {
		t.Fatalf("expected unknown actor to be rejected")
	}
	if reason != CommandRejectUnknownActor {
		t.Fatalf("expected reason %q, got %q", CommandRejectUnknownActor, reason)
	}
}

func TestHubEnqueueCommandAppliesOnAdvance(t *testing.T) {
	hub := NewHub(DefaultConfig(), testSeed(), nil, nil)
	join := hub.Join()

	x, z := 2.0, 2.0
	ok, reason := hub.EnqueueCommand(join.ID, sim.Command{
		Type: sim.CommandAdd,
		Add:  &sim.AddCommand{Kind: sim.EntityZone, X: &x, Z: &z},
	})
	if !ok {
		t.Fatalf("expected enqueue to succeed, got %q", reason)
	}

	hub.Advance(1, time.Now(), 0.016)

	state := hub.CurrentState()
	if len(state.Zones) != 2 {
		t.Fatalf("expected 2 zones after add, got %d", len(state.Zones))
	}
	added := state.Zones[1]
	if added.X != 2 || added.Z != 2 {
		t.Fatalf("expected new zone at (2, 2), got (%v, %v)", added.X, added.Z)
	}
}

func TestHubUpdateHeartbeatComputesRTT(t *testing.T) {
	hub := NewHub(DefaultConfig(), testSeed(), nil, nil)
	join := hub.Join()

	now := time.Now()
	sent := now.Add(-40 * time.Millisecond).UnixMilli()
	rtt, ok := hub.UpdateHeartbeat(join.ID, now, sent)
	if !ok {
		t.Fatalf("expected heartbeat to be accepted")
	}
	if rtt < 39*time.Millisecond || rtt > 41*time.Millisecond {
		t.Fatalf("expected rtt near 40ms, got %v", rtt)
	}

	if _, ok := hub.UpdateHeartbeat("stranger", now, sent); ok {
		t.Fatalf("expected unknown client heartbeat to be rejected")
	}
}

func TestHubDisconnectRemovesClient(t *testing.T) {
	var mu sync.Mutex
	var events []logging.Event
	hub := NewHub(DefaultConfig(), testSeed(), nil, collectLifecycleEvents(&events, &mu))
	join := hub.Join()

	conn := &recordingConn{}
	if _, _, ok := hub.Subscribe(join.ID, conn); !ok {
		t.Fatalf("expected subscribe to succeed")
	}

	if !hub.Disconnect(join.ID, "test") {
		t.Fatalf("expected first disconnect to report removal")
	}
	if hub.Disconnect(join.ID, "test") {
		t.Fatalf("expected second disconnect to be a no-op")
	}
	if _, closed := conn.snapshot(); closed != 1 {
		t.Fatalf("expected connection closed once, got %d", closed)
	}
	if hub.UpdateIntent(join.ID, 1, 0, 0) {
		t.Fatalf("expected intent after disconnect to be rejected")
	}

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, event := range events {
		if event.Type == lifecycle.EventClientDisconnected {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a client_disconnected event")
	}
}

func TestHubSubscribeDisplacesExistingConnection(t *testing.T) {
	hub := NewHub(DefaultConfig(), testSeed(), nil, nil)
	join := hub.Join()

	first := &recordingConn{}
	if _, _, ok := hub.Subscribe(join.ID, first); !ok {
		t.Fatalf("expected first subscribe to succeed")
	}
	second := &recordingConn{}
	if _, _, ok := hub.Subscribe(join.ID, second); !ok {
		t.Fatalf("expected second subscribe to succeed")
	}

	if _, closed := first.snapshot(); closed != 1 {
		t.Fatalf("expected displaced connection to be closed, got %d closes", closed)
	}
}

func TestHubBroadcastWritesToSubscribers(t *testing.T) {
	hub := NewHub(DefaultConfig(), testSeed(), nil, nil)
	join := hub.Join()

	conn := &recordingConn{}
	if _, _, ok := hub.Subscribe(join.ID, conn); !ok {
		t.Fatalf("expected subscribe to succeed")
	}

	hub.Advance(1, time.Now(), 0.016)

	writes, _ := conn.snapshot()
	if writes != 1 {
		t.Fatalf("expected one broadcast write, got %d", writes)
	}
	conn.mu.Lock()
	payload := string(conn.writes[0])
	conn.mu.Unlock()
	if !strings.Contains(payload, `"type":"state"`) {
		t.Fatalf("expected a state payload, got %s", payload)
	}
	if len(conn.deadlines) == 0 {
		t.Fatalf("expected a write deadline to be set")
	}
}

func TestHubBroadcastDropsFailingSubscriber(t *testing.T) {
	hub := NewHub(DefaultConfig(), testSeed(), nil, nil)
	join := hub.Join()

	conn := &recordingConn{writeErr: errors.New("pipe broken")}
	if _, _, ok := hub.Subscribe(join.ID, conn); !ok {
		t.Fatalf("expected subscribe to succeed")
	}

	hub.Advance(1, time.Now(), 0.016)

	if _, closed := conn.snapshot(); closed != 1 {
		t.Fatalf("expected failing connection to be closed, got %d", closed)
	}
	if hub.UpdateIntent(join.ID, 1, 0, 0) {
		t.Fatalf("expected failed subscriber to be fully disconnected")
	}
}

func TestHubStaleClientDropped(t *testing.T) {
	var events []logging.Event
	var mu sync.Mutex
	hub := NewHub(DefaultConfig(), testSeed(), nil, collectLifecycleEvents(&events, &mu))
	join := hub.Join()

	hub.mu.Lock()
	hub.clients[join.ID].lastHeartbeat = time.Now().Add(-disconnectAfter - time.Second)
	hub.mu.Unlock()

	hub.Advance(1, time.Now(), 0.016)

	if hub.UpdateIntent(join.ID, 1, 0, 0) {
		t.Fatalf("expected stale client to be dropped")
	}

	mu.Lock()
	defer mu.Unlock()
	var timeout *logging.Event
	for i := range events {
		if events[i].Type == network.EventHeartbeatTimeout {
			timeout = &events[i]
		}
	}
	if timeout == nil {
		t.Fatalf("expected a heartbeat timeout event, got %d events", len(events))
	}
	if timeout.Actor.ID != join.ID {
		t.Fatalf("expected timeout actor %q, got %q", join.ID, timeout.Actor.ID)
	}
	payload, ok := timeout.Payload.(network.HeartbeatTimeoutPayload)
	if !ok {
		t.Fatalf("expected heartbeat timeout payload, got %T", timeout.Payload)
	}
	if payload.LimitMillis != disconnectAfter.Milliseconds() {
		t.Fatalf("expected limit %dms, got %d", disconnectAfter.Milliseconds(), payload.LimitMillis)
	}
	if payload.SilentMillis <= payload.LimitMillis {
		t.Fatalf("expected silence beyond the limit, got %dms", payload.SilentMillis)
	}
}

func TestHubStartAudioFailureKeepsTicking(t *testing.T) {
	sink := &stubSink{startErr: audio.ErrUnavailable}
	hub := NewHub(DefaultConfig(), testSeed(), sink, nil)

	err := hub.StartAudio()
	if !errors.Is(err, audio.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if status := hub.AudioState().Status; !strings.HasPrefix(status, "error") {
		t.Fatalf("expected error status, got %q", status)
	}

	hub.Advance(1, time.Now(), 0.016)
	if hub.CurrentState().Tick != 1 {
		t.Fatalf("expected simulation to keep ticking after audio failure")
	}

	sink.startErr = nil
	if err := hub.StartAudio(); err != nil {
		t.Fatalf("expected recovery start to succeed, got %v", err)
	}
	if status := hub.AudioState().Status; status != audio.StatusActive {
		t.Fatalf("expected active status after recovery, got %q", status)
	}

	hub.Advance(2, time.Now(), 0.016)
	if units := hub.AudioState().Units; units != 1 {
		t.Fatalf("expected one audio unit after advance, got %d", units)
	}
}

func TestHubStopAudioIdempotent(t *testing.T) {
	sink := &stubSink{}
	hub := NewHub(DefaultConfig(), testSeed(), sink, nil)

	if err := hub.StartAudio(); err != nil {
		t.Fatalf("expected start to succeed, got %v", err)
	}
	hub.StopAudio()
	hub.StopAudio()

	if sink.stops != 1 {
		t.Fatalf("expected one sink stop, got %d", sink.stops)
	}
	if status := hub.AudioState().Status; status != audio.StatusIdle {
		t.Fatalf("expected idle status after stop, got %q", status)
	}
}

func TestHubTrackBudgetStreakAndAlarm(t *testing.T) {
	hub := NewHub(DefaultConfig(), testSeed(), nil, nil)

	budget := 16 * time.Millisecond
	for i := 0; i < tickAlarmStreak; i++ {
		hub.trackBudget(sim.LoopStepResult{Tick: uint64(i + 1), Duration: 2 * budget, Budget: budget})
	}

	snapshot := hub.TelemetrySnapshot()
	if snapshot.TickBudget.CurrentStreak != tickAlarmStreak {
		t.Fatalf("expected streak %d, got %d", tickAlarmStreak, snapshot.TickBudget.CurrentStreak)
	}
	if snapshot.TickBudget.AlarmCount != 1 {
		t.Fatalf("expected one alarm, got %d", snapshot.TickBudget.AlarmCount)
	}

	hub.trackBudget(sim.LoopStepResult{Tick: tickAlarmStreak + 1, Duration: budget / 2, Budget: budget})

	snapshot = hub.TelemetrySnapshot()
	if snapshot.TickBudget.CurrentStreak != 0 {
		t.Fatalf("expected streak reset, got %d", snapshot.TickBudget.CurrentStreak)
	}
	if snapshot.TickBudget.MaxStreak != tickAlarmStreak {
		t.Fatalf("expected max streak %d, got %d", tickAlarmStreak, snapshot.TickBudget.MaxStreak)
	}
}

func TestHubMarshalStateCountsEntities(t *testing.T) {
	hub := NewHub(DefaultConfig(), testSeed(), nil, nil)

	data, entities, err := hub.MarshalState(hub.CurrentState())
	if err != nil {
		t.Fatalf("expected marshal to succeed, got %v", err)
	}
	if entities != 4 {
		t.Fatalf("expected 4 entities (listener + 1/1/1), got %d", entities)
	}
	if !strings.Contains(string(data), `"listener"`) {
		t.Fatalf("expected listener in payload, got %s", data)
	}

	snapshot := hub.TelemetrySnapshot()
	if snapshot.BytesSent != 0 {
		t.Fatalf("expected MarshalState alone not to record a broadcast, got %d bytes", snapshot.BytesSent)
	}

	hub.RecordTelemetryBroadcast(len(data), entities)
	snapshot = hub.TelemetrySnapshot()
	if snapshot.BytesSent != uint64(len(data)) {
		t.Fatalf("expected %d bytes recorded, got %d", len(data), snapshot.BytesSent)
	}
	if snapshot.EntitiesSent != 4 {
		t.Fatalf("expected 4 entities recorded, got %d", snapshot.EntitiesSent)
	}
}

func TestHubDiagnosticsSnapshot(t *testing.T) {
	hub := NewHub(DefaultConfig(), testSeed(), nil, nil)
	join := hub.Join()

	now := time.Now()
	hub.UpdateHeartbeat(join.ID, now, now.Add(-20*time.Millisecond).UnixMilli())

	clients := hub.DiagnosticsSnapshot()
	if len(clients) != 1 {
		t.Fatalf("expected one diagnostics entry, got %d", len(clients))
	}
	entry := clients[0]
	if entry.ID != join.ID {
		t.Fatalf("expected entry for %s, got %s", join.ID, entry.ID)
	}
	if entry.Ver != ProtocolVersion {
		t.Fatalf("expected ver %d, got %d", ProtocolVersion, entry.Ver)
	}
	if entry.RTTMillis < 19 || entry.RTTMillis > 21 {
		t.Fatalf("expected rtt near 20ms, got %d", entry.RTTMillis)
	}
}
