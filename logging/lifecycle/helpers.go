package lifecycle

import (
	"context"

	"echo-maze/server/logging"
)

const (
	// EventClientJoined is emitted when a client joins the session.
	EventClientJoined logging.EventType = "lifecycle.client_joined"
	// EventClientDisconnected is emitted when a client leaves.
	EventClientDisconnected logging.EventType = "lifecycle.client_disconnected"
	// EventAudioStarted is emitted when the audio subsystem activates.
	EventAudioStarted logging.EventType = "lifecycle.audio_started"
	// EventAudioStartFailed is emitted when activation fails; the session
	// keeps running without sound.
	EventAudioStartFailed logging.EventType = "lifecycle.audio_start_failed"
	// EventAudioStopped is emitted when the audio subsystem tears down.
	EventAudioStopped logging.EventType = "lifecycle.audio_stopped"
)

// ClientJoinedPayload captures join metadata for a new client.
type ClientJoinedPayload struct {
	RemoteAddr string `json:"remoteAddr,omitempty"`
}

// ClientDisconnectedPayload captures the reason a client left.
type ClientDisconnectedPayload struct {
	Reason string `json:"reason"`
}

// AudioStartFailedPayload carries the activation error text.
type AudioStartFailedPayload struct {
	Error string `json:"error"`
}

// ClientJoined publishes a client join event.
func ClientJoined(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ClientJoinedPayload, extra map[string]any) {
	publish(ctx, pub, tick, actor, EventClientJoined, logging.SeverityInfo, logging.CategoryNetwork, payload, extra)
}

// ClientDisconnected publishes a client disconnect event.
func ClientDisconnected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ClientDisconnectedPayload, extra map[string]any) {
	publish(ctx, pub, tick, actor, EventClientDisconnected, logging.SeverityInfo, logging.CategoryNetwork, payload, extra)
}

// AudioStarted publishes an audio activation event.
func AudioStarted(ctx context.Context, pub logging.Publisher, tick uint64, extra map[string]any) {
	publish(ctx, pub, tick, logging.EntityRef{Kind: logging.EntityKindWorld}, EventAudioStarted, logging.SeverityInfo, logging.CategoryAudio, nil, extra)
}

// AudioStartFailed publishes a failed activation event.
func AudioStartFailed(ctx context.Context, pub logging.Publisher, tick uint64, payload AudioStartFailedPayload, extra map[string]any) {
	publish(ctx, pub, tick, logging.EntityRef{Kind: logging.EntityKindWorld}, EventAudioStartFailed, logging.SeverityWarn, logging.CategoryAudio, payload, extra)
}

// AudioStopped publishes an audio teardown event.
func AudioStopped(ctx context.Context, pub logging.Publisher, tick uint64, extra map[string]any) {
	publish(ctx, pub, tick, logging.EntityRef{Kind: logging.EntityKindWorld}, EventAudioStopped, logging.SeverityInfo, logging.CategoryAudio, nil, extra)
}

func publish(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, eventType logging.EventType, severity logging.Severity, category string, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     eventType,
		Tick:     tick,
		Actor:    actor,
		Severity: severity,
		Category: category,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}
