package sim

import (
	"math"

	"echo-maze/server/internal/geom"
)

// Waveform names the oscillator shape of an emitter.
type Waveform string

const (
	WaveformSine     Waveform = "sine"
	WaveformTriangle Waveform = "triangle"
	WaveformSquare   Waveform = "square"
	WaveformSawtooth Waveform = "sawtooth"
)

// ParseWaveform maps a raw string onto a known waveform.
func ParseWaveform(raw string) (Waveform, bool) {
	switch Waveform(raw) {
	case WaveformSine, WaveformTriangle, WaveformSquare, WaveformSawtooth:
		return Waveform(raw), true
	}
	return "", false
}

// Listener is the single controllable pose in the world. Heading 0 faces -Z
// and grows clockwise when viewed from above.
type Listener struct {
	X          float64 `json:"x"`
	Z          float64 `json:"z"`
	HeadingDeg float64 `json:"headingDeg"`
}

// Forward returns the unit vector the listener faces.
func (l Listener) Forward() geom.Vec2 {
	rad := l.HeadingDeg * math.Pi / 180
	return geom.Vec2{X: math.Sin(rad), Z: -math.Cos(rad)}
}

// Right returns the unit vector 90 degrees clockwise of Forward.
func (l Listener) Right() geom.Vec2 {
	rad := l.HeadingDeg * math.Pi / 180
	return geom.Vec2{X: math.Cos(rad), Z: math.Sin(rad)}
}

// Zone is a circular obstacle.
type Zone struct {
	ID     string  `json:"id"`
	Label  string  `json:"label"`
	X      float64 `json:"x"`
	Z      float64 `json:"z"`
	Radius float64 `json:"radius"`
}

// Wall is an axis-aligned rectangular obstacle centered on (X, Z).
type Wall struct {
	ID     string  `json:"id"`
	X      float64 `json:"x"`
	Z      float64 `json:"z"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Emitter is a positional sound source. Y is elevation above the ground
// plane; VX and VZ only matter while Moving is set.
type Emitter struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	Z         float64  `json:"z"`
	Frequency float64  `json:"frequency"`
	Gain      float64  `json:"gain"`
	Waveform  Waveform `json:"waveform"`
	Moving    bool     `json:"moving"`
	VX        float64  `json:"vx"`
	VZ        float64  `json:"vz"`
}

// Intent is the latest sampled control state. Axes sit in [-1, 1]; the loop
// reads it exactly once per tick.
type Intent struct {
	Forward float64 `json:"forward"`
	Strafe  float64 `json:"strafe"`
	Turn    float64 `json:"turn"`
}

// Clamped returns the intent with every axis pinned into [-1, 1].
func (i Intent) Clamped() Intent {
	return Intent{
		Forward: geom.Clamp(i.Forward, -1, 1),
		Strafe:  geom.Clamp(i.Strafe, -1, 1),
		Turn:    geom.Clamp(i.Turn, -1, 1),
	}
}

// Modes are the world-level motion toggles.
type Modes struct {
	ListenerMotion bool `json:"listenerMotion"`
	EmitterMotion  bool `json:"emitterMotion"`
}

// Snapshot is an immutable copy of the world published after each tick.
// Collections keep insertion order.
type Snapshot struct {
	Tick     uint64    `json:"tick"`
	Listener Listener  `json:"listener"`
	Zones    []Zone    `json:"zones"`
	Walls    []Wall    `json:"walls"`
	Emitters []Emitter `json:"emitters"`
	Modes    Modes     `json:"modes"`
}

// Field assembles the collision geometry described by the snapshot.
func (s Snapshot) Field() geom.Field {
	return buildField(s.Zones, s.Walls)
}

func buildField(zones []Zone, walls []Wall) geom.Field {
	field := geom.Field{
		Radius:  WorldRadius,
		Circles: make([]geom.Circle, 0, len(zones)),
		Rects:   make([]geom.Rect, 0, len(walls)),
	}
	for _, zone := range zones {
		field.Circles = append(field.Circles, geom.Circle{X: zone.X, Z: zone.Z, Radius: zone.Radius})
	}
	for _, wall := range walls {
		field.Rects = append(field.Rects, geom.Rect{X: wall.X, Z: wall.Z, Width: wall.Width, Height: wall.Height})
	}
	return field
}

// Seed is the initial world contents. Entities with empty IDs get minted
// ones; positions run through the same clamping as live adds.
type Seed struct {
	Listener Listener
	Zones    []Zone
	Walls    []Wall
	Emitters []Emitter
	Modes    Modes
}
