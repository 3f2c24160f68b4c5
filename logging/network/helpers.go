package network

import (
	"context"

	"echo-maze/server/logging"
)

const (
	// EventHeartbeatTimeout is emitted when a client goes silent past the
	// heartbeat limit and is dropped.
	EventHeartbeatTimeout logging.EventType = "network.heartbeat_timeout"
	// EventWriteFailed is emitted when a state broadcast cannot be written
	// to a subscriber.
	EventWriteFailed logging.EventType = "network.write_failed"
)

// HeartbeatTimeoutPayload captures how long the client had been silent.
type HeartbeatTimeoutPayload struct {
	SilentMillis int64 `json:"silentMillis"`
	LimitMillis  int64 `json:"limitMillis"`
}

// WriteFailedPayload carries the write error text.
type WriteFailedPayload struct {
	Error string `json:"error"`
}

// HeartbeatTimeout publishes a warning event before a stale client is dropped.
func HeartbeatTimeout(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload HeartbeatTimeoutPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventHeartbeatTimeout,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// WriteFailed publishes a warning event when a broadcast write errors out.
func WriteFailed(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload WriteFailedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventWriteFailed,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}
