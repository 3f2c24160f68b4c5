package server

import "time"

const (
	// ProtocolVersion tags every payload the server emits so clients can
	// reject incompatible peers.
	ProtocolVersion = 1

	writeWait         = 10 * time.Second
	heartbeatInterval = 2 * time.Second
	disconnectAfter   = 3 * heartbeatInterval

	defaultTickRate         = 60
	defaultCommandCapacity  = 256
	defaultPerActorLimit    = 16
	defaultQueueWarningStep = 64

	// tickAlarmStreak is how many consecutive budget overruns escalate from
	// per-tick warnings to an alarm.
	tickAlarmStreak = 5
)

// CommandRejectUnknownActor is returned when a command names a client the
// hub has never seen or has already dropped.
const CommandRejectUnknownActor = "unknown_actor"

// HeartbeatInterval exposes the heartbeat cadence to transport handlers.
func HeartbeatInterval() time.Duration {
	return heartbeatInterval
}
