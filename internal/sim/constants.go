package sim

const (
	// WorldRadius bounds the playable disk. Everything lives inside it.
	WorldRadius = 16.0 // meters

	MoveSpeed = 2.75  // meters per second
	TurnSpeed = 120.0 // degrees per second

	// ListenerRadius and EmitterRadius are the collision footprints used by
	// the integrator.
	ListenerRadius = 0.35 // meters
	EmitterRadius  = 0.5  // meters

	// MaxTickSeconds caps the dt handed to the integrator after a stall.
	MaxTickSeconds = 0.040
)

// Declared value ranges for entity fields. Live patches and scenario files
// are clamped into these silently.
const (
	MinFrequencyHz = 20.0
	MaxFrequencyHz = 10000.0

	MinGain = 0.0
	MaxGain = 1.0

	MinZoneRadius = 0.1
	MaxZoneRadius = 8.0

	MinWallSide = 0.1
	MaxWallSide = 24.0

	MinElevation = -2.0
	MaxElevation = 6.0

	// MaxEmitterSpeed caps each velocity component of a bouncer.
	MaxEmitterSpeed = 8.0 // meters per second
)

// Defaults applied when an add command omits a field.
const (
	DefaultZoneRadius  = 1.5
	DefaultWallSide    = 2.0
	DefaultFrequencyHz = 440.0
	DefaultGain        = 0.8
	DefaultElevation   = 1.2
	// defaultSpawnAhead places new entities a short step in front of the
	// listener when the command carries no position.
	defaultSpawnAhead = 2.0
)
