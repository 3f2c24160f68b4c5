package logging

import (
	"context"
	"maps"
	"slices"
	"time"
)

// EventType names a structured event, namespaced as "category.event".
type EventType string

// Severity orders events from chatty to critical.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

// String returns the lowercase label human-facing sinks print.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// EntityKind tags which kind of world object an EntityRef points at.
type EntityKind string

const (
	EntityKindUnknown  EntityKind = "unknown"
	EntityKindListener EntityKind = "listener"
	EntityKindEmitter  EntityKind = "emitter"
	EntityKindZone     EntityKind = "zone"
	EntityKindWall     EntityKind = "wall"
	EntityKindClient   EntityKind = "client"
	EntityKindWorld    EntityKind = "world"
)

// EntityRef identifies the entity an event is about.
type EntityRef struct {
	ID   string     `json:"id"`
	Kind EntityKind `json:"kind"`
}

// Event is the unit of work every sink receives. Extra carries ambient
// fields merged in by the router; keys set on the event itself win.
type Event struct {
	Type     EventType      `json:"type"`
	Tick     uint64         `json:"tick"`
	Time     time.Time      `json:"time"`
	Actor    EntityRef      `json:"actor"`
	Targets  []EntityRef    `json:"targets,omitempty"`
	Severity Severity       `json:"severity"`
	Category string         `json:"category,omitempty"`
	Payload  any            `json:"payload,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

const (
	CategorySimulation = "simulation"
	CategoryAudio      = "audio"
	CategoryNetwork    = "network"
	CategorySystem     = "system"
)

// WithExtra returns the event with one more extra field set.
func (e Event) WithExtra(key string, value any) Event {
	if e.Extra == nil {
		e.Extra = make(map[string]any, 1)
	}
	e.Extra[key] = value
	return e
}

// Publisher accepts events for delivery. Implementations must not block;
// the tick loop publishes inline.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// PublisherFunc adapts a plain function to the Publisher interface.
type PublisherFunc func(ctx context.Context, event Event)

func (f PublisherFunc) Publish(ctx context.Context, event Event) {
	if f == nil {
		return
	}
	f(ctx, event)
}

// NopPublisher returns a publisher that discards everything.
func NopPublisher() Publisher {
	return nopPublisher{}
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}

// WithFields wraps a publisher so every event carries the given fields in
// Extra. Keys already present on an event are left untouched.
func WithFields(p Publisher, fields map[string]any) Publisher {
	if p == nil {
		return NopPublisher()
	}
	if len(fields) == 0 {
		return p
	}
	return &fieldPublisher{next: p, fields: maps.Clone(fields)}
}

type fieldPublisher struct {
	next   Publisher
	fields map[string]any
}

func (p *fieldPublisher) Publish(ctx context.Context, event Event) {
	if p.next == nil {
		return
	}
	p.next.Publish(ctx, stampFields(event, p.fields))
}

// cloneEvent copies the mutable members so fan-out cannot alias maps or
// slices between sinks.
func cloneEvent(event Event) Event {
	event.Targets = slices.Clone(event.Targets)
	event.Extra = maps.Clone(event.Extra)
	return event
}

// stampFields merges ambient fields into a copy of the event, keeping any
// values the event already set.
func stampFields(event Event, fields map[string]any) Event {
	if len(fields) == 0 {
		return event
	}
	event = cloneEvent(event)
	if event.Extra == nil {
		event.Extra = make(map[string]any, len(fields))
	}
	for key, value := range fields {
		if _, taken := event.Extra[key]; !taken {
			event.Extra[key] = value
		}
	}
	return event
}
