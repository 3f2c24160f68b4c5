package simulation

import (
	"context"

	"echo-maze/server/logging"
)

const (
	// EventEntityAdded is emitted when an entity joins the world.
	EventEntityAdded logging.EventType = "simulation.entity_added"
	// EventEntityRemoved is emitted when an entity leaves the world.
	EventEntityRemoved logging.EventType = "simulation.entity_removed"
	// EventPatchClamped is emitted when a patch value was pinned into its range.
	EventPatchClamped logging.EventType = "simulation.patch_clamped"
	// EventPatchIgnored is emitted when a patch named an unknown id or field.
	EventPatchIgnored logging.EventType = "simulation.patch_ignored"
	// EventModeToggled is emitted when a world motion mode flips.
	EventModeToggled logging.EventType = "simulation.mode_toggled"
	// EventTickBudgetOverrun is emitted when a tick exceeds its time budget.
	EventTickBudgetOverrun logging.EventType = "simulation.tick_budget_overrun"
)

// EntityAddedPayload captures spawn placement for a new entity.
type EntityAddedPayload struct {
	Kind string  `json:"kind"`
	X    float64 `json:"x"`
	Z    float64 `json:"z"`
}

// EntityRemovedPayload captures the kind of a removed entity.
type EntityRemovedPayload struct {
	Kind string `json:"kind"`
}

// PatchClampedPayload records a patch value before and after clamping.
type PatchClampedPayload struct {
	Field     string  `json:"field"`
	Requested float64 `json:"requested"`
	Applied   float64 `json:"applied"`
}

// PatchIgnoredPayload records why a patch had no effect.
type PatchIgnoredPayload struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ModeToggledPayload records a motion mode change.
type ModeToggledPayload struct {
	Target  string `json:"target"`
	Enabled bool   `json:"enabled"`
}

// TickBudgetOverrunPayload captures timing details for a budget breach.
type TickBudgetOverrunPayload struct {
	DurationMillis int64   `json:"durationMillis"`
	BudgetMillis   int64   `json:"budgetMillis"`
	Ratio          float64 `json:"ratio"`
}

// EntityAdded publishes an entity spawn event.
func EntityAdded(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload EntityAddedPayload, extra map[string]any) {
	publish(ctx, pub, tick, actor, EventEntityAdded, logging.SeverityInfo, payload, extra)
}

// EntityRemoved publishes an entity removal event.
func EntityRemoved(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload EntityRemovedPayload, extra map[string]any) {
	publish(ctx, pub, tick, actor, EventEntityRemoved, logging.SeverityInfo, payload, extra)
}

// PatchClamped publishes a clamped patch event.
func PatchClamped(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PatchClampedPayload, extra map[string]any) {
	publish(ctx, pub, tick, actor, EventPatchClamped, logging.SeverityDebug, payload, extra)
}

// PatchIgnored publishes an ignored patch event.
func PatchIgnored(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PatchIgnoredPayload, extra map[string]any) {
	publish(ctx, pub, tick, actor, EventPatchIgnored, logging.SeverityDebug, payload, extra)
}

// ModeToggled publishes a motion mode change event.
func ModeToggled(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ModeToggledPayload, extra map[string]any) {
	publish(ctx, pub, tick, actor, EventModeToggled, logging.SeverityInfo, payload, extra)
}

// TickBudgetOverrun publishes a slow-tick warning event.
func TickBudgetOverrun(ctx context.Context, pub logging.Publisher, tick uint64, payload TickBudgetOverrunPayload, extra map[string]any) {
	publish(ctx, pub, tick, logging.EntityRef{Kind: logging.EntityKindWorld}, EventTickBudgetOverrun, logging.SeverityWarn, payload, extra)
}

func publish(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, eventType logging.EventType, severity logging.Severity, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     eventType,
		Tick:     tick,
		Actor:    actor,
		Severity: severity,
		Category: logging.CategorySimulation,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}
