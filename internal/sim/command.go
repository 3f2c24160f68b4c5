package sim

import "time"

// CommandType enumerates the supported world commands.
type CommandType string

const (
	CommandAdd    CommandType = "Add"
	CommandPatch  CommandType = "Patch"
	CommandRemove CommandType = "Remove"
	CommandToggle CommandType = "Toggle"
)

// EntityKind names the three editable entity families.
type EntityKind string

const (
	EntityZone    EntityKind = "zone"
	EntityWall    EntityKind = "wall"
	EntityEmitter EntityKind = "emitter"
)

// Toggle targets handled by the world. The audio toggle never reaches the
// world; the hub routes it straight to the reconciler.
const (
	ToggleListener = "listener"
	ToggleEmitters = "emitters"
)

// AddCommand spawns an entity. Nil fields fall back to declared defaults and
// an omitted position lands a short step in front of the listener.
type AddCommand struct {
	Kind      EntityKind `json:"kind"`
	X         *float64   `json:"x,omitempty"`
	Z         *float64   `json:"z,omitempty"`
	Y         *float64   `json:"y,omitempty"`
	Label     string     `json:"label,omitempty"`
	Name      string     `json:"name,omitempty"`
	Radius    *float64   `json:"radius,omitempty"`
	Width     *float64   `json:"width,omitempty"`
	Height    *float64   `json:"height,omitempty"`
	Frequency *float64   `json:"frequency,omitempty"`
	Gain      *float64   `json:"gain,omitempty"`
	Waveform  string     `json:"waveform,omitempty"`
	Moving    *bool      `json:"moving,omitempty"`
	VX        *float64   `json:"vx,omitempty"`
	VZ        *float64   `json:"vz,omitempty"`
}

// PatchCommand updates one named field of an existing entity. Numeric values
// ride in Value, strings in Text, booleans in Flag; out-of-range values are
// clamped, unknown ids and fields ignored.
type PatchCommand struct {
	ID    string  `json:"id"`
	Field string  `json:"field"`
	Value float64 `json:"value,omitempty"`
	Text  string  `json:"text,omitempty"`
	Flag  bool    `json:"flag,omitempty"`
}

// RemoveCommand deletes an entity by id. Removing an absent id is a no-op.
type RemoveCommand struct {
	ID string `json:"id"`
}

// ToggleCommand flips a world motion mode.
type ToggleCommand struct {
	Target  string `json:"target"`
	Enabled bool   `json:"enabled"`
}

// Command is a queued world mutation captured for the next tick.
type Command struct {
	OriginTick uint64         `json:"originTick"`
	ActorID    string         `json:"actorId"`
	Type       CommandType    `json:"type"`
	IssuedAt   time.Time      `json:"issuedAt"`
	Add        *AddCommand    `json:"add,omitempty"`
	Patch      *PatchCommand  `json:"patch,omitempty"`
	Remove     *RemoveCommand `json:"remove,omitempty"`
	Toggle     *ToggleCommand `json:"toggle,omitempty"`
}
