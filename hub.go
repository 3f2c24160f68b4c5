package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"echo-maze/server/internal/acoustics"
	"echo-maze/server/internal/audio"
	"echo-maze/server/internal/sim"
	"echo-maze/server/internal/telemetry"
	"echo-maze/server/logging"
	"echo-maze/server/logging/lifecycle"
	"echo-maze/server/logging/network"
	loggingsim "echo-maze/server/logging/simulation"
)

// Config tunes the hub. Zero values fall back to defaults.
type Config struct {
	TickRate         int
	CommandCapacity  int
	PerActorLimit    int
	QueueWarningStep int
	Logger           telemetry.Logger
}

// DefaultConfig returns the stock hub tuning.
func DefaultConfig() Config {
	return Config{
		TickRate:         defaultTickRate,
		CommandCapacity:  defaultCommandCapacity,
		PerActorLimit:    defaultPerActorLimit,
		QueueWarningStep: defaultQueueWarningStep,
	}
}

func (c Config) normalized() Config {
	if c.TickRate <= 0 {
		c.TickRate = defaultTickRate
	}
	if c.CommandCapacity <= 0 {
		c.CommandCapacity = defaultCommandCapacity
	}
	if c.PerActorLimit <= 0 {
		c.PerActorLimit = defaultPerActorLimit
	}
	if c.QueueWarningStep < 0 {
		c.QueueWarningStep = 0
	}
	return c
}

// subscriberConn is the slice of *websocket.Conn the hub touches; tests plug
// in recorders.
type subscriberConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// subscriber serializes writes to one websocket connection.
type subscriber struct {
	conn subscriberConn
	mu   sync.Mutex
}

func newSubscriber(conn subscriberConn) *subscriber {
	return &subscriber{conn: conn}
}

// WriteMessage writes a frame under the write deadline.
func (s *subscriber) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}

type clientState struct {
	id            string
	lastHeartbeat time.Time
	lastRTT       time.Duration
}

// Hub owns the simulation loop, the acoustic render path, the audio
// reconciler, and every live client connection.
type Hub struct {
	cfg       Config
	logger    telemetry.Logger
	counters  *telemetryCounters
	publisher logging.Publisher
	loop      *sim.Loop
	recon     *audio.Reconciler

	mu          sync.Mutex
	clients     map[string]*clientState
	subscribers map[string]*subscriber
	lastState   stateMessage

	nextID      atomic.Uint64
	currentTick atomic.Uint64
}

// NewHub wires the world, loop, and audio reconciler together. A nil sink
// runs the session silently.
func NewHub(cfg Config, seed sim.Seed, sink audio.Sink, publisher logging.Publisher) *Hub {
	cfg = cfg.normalized()
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}

	hub := &Hub{
		cfg:         cfg,
		logger:      logger,
		counters:    newTelemetryCounters(),
		publisher:   publisher,
		recon:       audio.NewReconciler(sink),
		clients:     make(map[string]*clientState),
		subscribers: make(map[string]*subscriber),
	}

	world := sim.NewWorld(seed, publisher)
	hub.loop = sim.NewLoop(world, sim.LoopConfig{
		TickRate:        cfg.TickRate,
		CommandCapacity: cfg.CommandCapacity,
		PerActorLimit:   cfg.PerActorLimit,
		WarningStep:     cfg.QueueWarningStep,
	}, sim.LoopHooks{
		AfterStep:      hub.afterStep,
		OnQueueWarning: hub.onQueueWarning,
	}, logger, hub.counters, logging.SystemClock{})

	snapshot := world.Snapshot()
	hub.lastState = hub.buildState(snapshot, acoustics.Render(snapshot), time.Now())
	return hub
}

// Join registers a new client and returns its identity plus the latest
// state so the first paint never waits for a tick.
func (h *Hub) Join() joinResponse {
	id := h.nextID.Add(1)
	clientID := fmt.Sprintf("client-%d", id)
	now := time.Now()

	h.mu.Lock()
	h.clients[clientID] = &clientState{id: clientID, lastHeartbeat: now}
	state := h.lastState
	h.mu.Unlock()

	lifecycle.ClientJoined(context.Background(), h.publisher, state.Tick,
		logging.EntityRef{ID: clientID, Kind: logging.EntityKindClient},
		lifecycle.ClientJoinedPayload{}, nil)

	return joinResponse{
		Ver:             ProtocolVersion,
		ID:              clientID,
		TickRate:        h.cfg.TickRate,
		WorldRadius:     sim.WorldRadius,
		HeartbeatMillis: heartbeatInterval.Milliseconds(),
		State:           state,
	}
}

// Subscribe attaches a websocket connection to a joined client. An existing
// connection for the same id is displaced.
func (h *Hub) Subscribe(clientID string, conn subscriberConn) (*subscriber, stateMessage, bool) {
	h.mu.Lock()
	state, ok := h.clients[clientID]
	if !ok {
		h.mu.Unlock()
		return nil, stateMessage{}, false
	}
	state.lastHeartbeat = time.Now()

	if existing, ok := h.subscribers[clientID]; ok {
		existing.conn.Close()
	}

	sub := newSubscriber(conn)
	h.subscribers[clientID] = sub
	snapshot := h.lastState
	h.mu.Unlock()
	return sub, snapshot, true
}

// Disconnect removes a client and closes any live connection. Returns false
// when the id was already gone.
func (h *Hub) Disconnect(clientID, reason string) bool {
	h.mu.Lock()
	sub, subOK := h.subscribers[clientID]
	if subOK {
		delete(h.subscribers, clientID)
	}
	_, clientOK := h.clients[clientID]
	if clientOK {
		delete(h.clients, clientID)
	}
	tick := h.lastState.Tick
	h.mu.Unlock()

	if subOK {
		sub.conn.Close()
	}
	if clientOK {
		lifecycle.ClientDisconnected(context.Background(), h.publisher, tick,
			logging.EntityRef{ID: clientID, Kind: logging.EntityKindClient},
			lifecycle.ClientDisconnectedPayload{Reason: reason}, nil)
	}
	return clientOK
}

// UpdateIntent replaces the control axes sampled on the next tick. The
// listener is shared, so the latest writer wins regardless of client.
func (h *Hub) UpdateIntent(clientID string, forward, strafe, turn float64) bool {
	h.mu.Lock()
	_, ok := h.clients[clientID]
	h.mu.Unlock()
	if !ok {
		return false
	}
	h.loop.SetIntent(sim.Intent{Forward: forward, Strafe: strafe, Turn: turn})
	return true
}

// EnqueueCommand stages a world command for the next tick.
func (h *Hub) EnqueueCommand(clientID string, cmd sim.Command) (bool, string) {
	h.mu.Lock()
	_, ok := h.clients[clientID]
	h.mu.Unlock()
	if !ok {
		return false, CommandRejectUnknownActor
	}
	cmd.ActorID = clientID
	cmd.OriginTick = h.currentTick.Load()
	cmd.IssuedAt = time.Now()
	return h.loop.Enqueue(cmd)
}

// UpdateHeartbeat records the latest heartbeat and derives an RTT estimate
// from the client timestamp.
func (h *Hub) UpdateHeartbeat(clientID string, receivedAt time.Time, clientSent int64) (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	state, ok := h.clients[clientID]
	if !ok {
		return 0, false
	}

	state.lastHeartbeat = receivedAt

	if clientSent > 0 {
		clientTime := time.UnixMilli(clientSent)
		if clientTime.Before(receivedAt.Add(5 * time.Second)) {
			rtt := receivedAt.Sub(clientTime)
			if rtt < 0 {
				rtt = 0
			}
			state.lastRTT = rtt
		}
	}

	return state.lastRTT, true
}

// StartAudio brings the output device online. A failed device leaves the
// simulation running silently; the error surfaces through the audio status
// and the returned error, never through the tick.
func (h *Hub) StartAudio() error {
	if h.recon.Running() {
		return nil
	}
	tick := h.currentTick.Load()
	if err := h.recon.Start(); err != nil {
		lifecycle.AudioStartFailed(context.Background(), h.publisher, tick,
			lifecycle.AudioStartFailedPayload{Error: err.Error()}, nil)
		return err
	}
	lifecycle.AudioStarted(context.Background(), h.publisher, tick, nil)
	return nil
}

// StopAudio tears the audio graph down synchronously. Safe to call twice.
func (h *Hub) StopAudio() {
	if !h.recon.Running() {
		return
	}
	h.recon.Stop()
	lifecycle.AudioStopped(context.Background(), h.publisher, h.currentTick.Load(), nil)
}

// RunSimulation drives the fixed-rate loop until the stop channel closes.
func (h *Hub) RunSimulation(stop <-chan struct{}) {
	h.loop.Run(stop)
}

// afterStep runs on the loop goroutine once per tick: render acoustics,
// retune the audio graph, refresh the broadcast payload, drop stale clients,
// fan out.
func (h *Hub) afterStep(result sim.LoopStepResult) {
	h.currentTick.Store(result.Tick)

	frame := acoustics.Render(result.Snapshot)
	h.recon.Apply(frame)

	h.counters.RecordTickDuration(result.Duration)
	h.trackBudget(result)

	state := h.buildState(result.Snapshot, frame, result.Now)

	h.mu.Lock()
	h.lastState = state
	stale := h.staleClientsLocked(result.Now)
	h.mu.Unlock()

	for _, client := range stale {
		h.logger.Printf("disconnecting %s due to heartbeat timeout", client.id)
		network.HeartbeatTimeout(context.Background(), h.publisher, result.Tick,
			logging.EntityRef{ID: client.id, Kind: logging.EntityKindClient},
			network.HeartbeatTimeoutPayload{
				SilentMillis: client.silent.Milliseconds(),
				LimitMillis:  disconnectAfter.Milliseconds(),
			}, nil)
		h.Disconnect(client.id, "heartbeat_timeout")
	}

	h.BroadcastState(state)
}

type staleClient struct {
	id     string
	silent time.Duration
}

func (h *Hub) staleClientsLocked(now time.Time) []staleClient {
	var stale []staleClient
	for id, client := range h.clients {
		if silent := now.Sub(client.lastHeartbeat); silent > disconnectAfter {
			stale = append(stale, staleClient{id: id, silent: silent})
		}
	}
	return stale
}

func (h *Hub) trackBudget(result sim.LoopStepResult) {
	if result.Budget <= 0 {
		return
	}
	if result.Duration <= result.Budget {
		h.counters.ResetTickBudgetOverrunStreak()
		return
	}

	streak := h.counters.RecordTickBudgetOverrun(result.Duration, result.Budget)
	ratio := float64(result.Duration) / float64(result.Budget)
	loggingsim.TickBudgetOverrun(context.Background(), h.publisher, result.Tick,
		loggingsim.TickBudgetOverrunPayload{
			DurationMillis: result.Duration.Milliseconds(),
			BudgetMillis:   result.Budget.Milliseconds(),
			Ratio:          ratio,
		}, nil)

	if streak >= tickAlarmStreak && streak%tickAlarmStreak == 0 {
		h.counters.RecordTickBudgetAlarm(result.Tick, ratio)
		h.logger.Printf("[tick] budget alarm tick=%d ratio=%.2f streak=%d", result.Tick, ratio, streak)
	}
}

func (h *Hub) onQueueWarning(length int) {
	h.logger.Printf("[backpressure] command queue depth=%d", length)
}

func (h *Hub) buildState(snap sim.Snapshot, frame acoustics.Frame, now time.Time) stateMessage {
	return stateMessage{
		Ver:        ProtocolVersion,
		Type:       "state",
		Tick:       snap.Tick,
		ServerTime: now.UnixMilli(),
		Listener:   snap.Listener,
		Zones:      snap.Zones,
		Walls:      snap.Walls,
		Emitters:   snap.Emitters,
		Acoustics:  frame.Sources,
		Audio:      h.audioState(),
		Modes:      snap.Modes,
	}
}

func (h *Hub) audioState() audioStatus {
	return audioStatus{Status: h.recon.Status(), Units: h.recon.UnitCount()}
}

// BroadcastState fans a tick payload out to every subscriber. Dead
// connections are disconnected rather than allowed to stall the loop.
func (h *Hub) BroadcastState(state stateMessage) {
	data, entities, err := h.MarshalState(state)
	if err != nil {
		h.logger.Printf("failed to marshal state message: %v", err)
		return
	}
	h.counters.RecordBroadcast(len(data), entities)

	h.mu.Lock()
	subs := make(map[string]*subscriber, len(h.subscribers))
	for id, sub := range h.subscribers {
		subs[id] = sub
	}
	h.mu.Unlock()

	for id, sub := range subs {
		if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Printf("failed to send update to %s: %v", id, err)
			network.WriteFailed(context.Background(), h.publisher, state.Tick,
				logging.EntityRef{ID: id, Kind: logging.EntityKindClient},
				network.WriteFailedPayload{Error: err.Error()}, nil)
			h.Disconnect(id, "write_failed")
		}
	}
}

// MarshalState encodes a state payload and counts the entities it carries.
func (h *Hub) MarshalState(state stateMessage) ([]byte, int, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, 0, err
	}
	entities := 1 + len(state.Zones) + len(state.Walls) + len(state.Emitters)
	return data, entities, nil
}

// RecordTelemetryBroadcast feeds handler-initiated writes into the broadcast
// counters.
func (h *Hub) RecordTelemetryBroadcast(bytes, entities int) {
	h.counters.RecordBroadcast(bytes, entities)
}

// DiagnosticsSnapshot exposes per-client heartbeat data.
func (h *Hub) DiagnosticsSnapshot() []diagnosticsClient {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]diagnosticsClient, 0, len(h.clients))
	for _, state := range h.clients {
		clients = append(clients, diagnosticsClient{
			Ver:           ProtocolVersion,
			ID:            state.id,
			LastHeartbeat: state.lastHeartbeat.UnixMilli(),
			RTTMillis:     state.lastRTT.Milliseconds(),
		})
	}
	return clients
}

// TelemetrySnapshot exposes counters for the diagnostics endpoint.
func (h *Hub) TelemetrySnapshot() telemetrySnapshot {
	return h.counters.Snapshot()
}

// CurrentState returns the most recent tick payload.
func (h *Hub) CurrentState() stateMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastState
}

// AudioState reports the reconciler status for diagnostics.
func (h *Hub) AudioState() audioStatus {
	return h.audioState()
}

// TickRate reports the configured simulation cadence.
func (h *Hub) TickRate() int {
	return h.cfg.TickRate
}

// Advance runs one synchronous tick. Tests and headless tools use it to step
// the session without the ticker.
func (h *Hub) Advance(tick uint64, now time.Time, delta float64) {
	result := h.loop.Advance(sim.LoopTickContext{Tick: tick, Now: now, Delta: delta})
	result.Budget = time.Second / time.Duration(h.cfg.TickRate)
	h.afterStep(result)
}
