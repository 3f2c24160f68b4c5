package scenario

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"echo-maze/server/internal/sim"
)

// Scenario is a world description as it appears on disk. The struct is
// exported so tooling (e.g. the schema generator) can reflect over the
// configuration contract shared with scenario authors. Omitted fields fall
// back to the same defaults live add commands use.
type Scenario struct {
	Name           string    `json:"name,omitempty" jsonschema:"title=Scenario name,description=Display name for the scenario"`
	Listener       *Listener `json:"listener,omitempty" jsonschema:"title=Listener,description=Starting pose; the origin facing north when omitted"`
	Zones          []Zone    `json:"zones,omitempty" jsonschema:"title=Zones,description=Circular obstacles"`
	Walls          []Wall    `json:"walls,omitempty" jsonschema:"title=Walls,description=Axis-aligned rectangular obstacles"`
	Emitters       []Emitter `json:"emitters,omitempty" jsonschema:"title=Emitters,description=Positional sound sources"`
	ListenerMotion *bool     `json:"listenerMotion,omitempty" jsonschema:"title=Listener motion,description=Whether movement intents act on the listener; on when omitted"`
	EmitterMotion  *bool     `json:"emitterMotion,omitempty" jsonschema:"title=Emitter motion,description=Whether moving emitters advance; on when omitted"`
}

// Listener is the starting pose. Heading 0 faces north (-Z) and grows
// clockwise.
type Listener struct {
	X          float64 `json:"x"`
	Z          float64 `json:"z"`
	HeadingDeg float64 `json:"headingDeg"`
}

// Zone is a circular obstacle entry.
type Zone struct {
	ID     string   `json:"id,omitempty" jsonschema:"pattern=^[a-z0-9-]*$,description=Stable identifier; minted when omitted"`
	Label  string   `json:"label,omitempty"`
	X      float64  `json:"x"`
	Z      float64  `json:"z"`
	Radius *float64 `json:"radius,omitempty" jsonschema:"minimum=0.1,maximum=8,description=Meters; 1.5 when omitted"`
}

// Wall is an axis-aligned rectangular obstacle entry centered on (X, Z).
type Wall struct {
	ID     string   `json:"id,omitempty" jsonschema:"pattern=^[a-z0-9-]*$,description=Stable identifier; minted when omitted"`
	X      float64  `json:"x"`
	Z      float64  `json:"z"`
	Width  *float64 `json:"width,omitempty" jsonschema:"minimum=0.1,maximum=24,description=Meters; 2 when omitted"`
	Height *float64 `json:"height,omitempty" jsonschema:"minimum=0.1,maximum=24,description=Meters; 2 when omitted"`
}

// Emitter is a sound source entry.
type Emitter struct {
	ID        string   `json:"id,omitempty" jsonschema:"pattern=^[a-z0-9-]*$,description=Stable identifier; minted when omitted"`
	Name      string   `json:"name,omitempty"`
	X         float64  `json:"x"`
	Z         float64  `json:"z"`
	Y         *float64 `json:"y,omitempty" jsonschema:"minimum=-2,maximum=6,description=Elevation in meters; 1.2 when omitted"`
	Frequency *float64 `json:"frequency,omitempty" jsonschema:"minimum=20,maximum=10000,description=Base tone in hertz; 440 when omitted"`
	Gain      *float64 `json:"gain,omitempty" jsonschema:"minimum=0,maximum=1,description=Linear gain; 0.8 when omitted"`
	Waveform  string   `json:"waveform,omitempty" jsonschema:"enum=sine,enum=triangle,enum=square,enum=sawtooth,description=Oscillator shape; sine when omitted"`
	Moving    bool     `json:"moving,omitempty"`
	VX        float64  `json:"vx,omitempty" jsonschema:"minimum=-8,maximum=8"`
	VZ        float64  `json:"vz,omitempty" jsonschema:"minimum=-8,maximum=8"`
}

// DefaultPaths returns the canonical scenario locations relative to the
// server module root.
func DefaultPaths() []string {
	return []string{
		filepath.Join("config", "scenario.json"),
		filepath.Join("..", "config", "scenario.json"),
	}
}

// Default is the built-in world used when no scenario file is supplied: a
// few landmarks to navigate between, one wall to hide behind, and a bouncer
// for Doppler.
func Default() Scenario {
	return Scenario{
		Name:     "echo-maze-default",
		Listener: &Listener{X: 0, Z: 0, HeadingDeg: 0},
		Zones: []Zone{
			{ID: "pillar", Label: "stone pillar", X: 4, Z: -3, Radius: fptr(2)},
			{ID: "hedge", Label: "hedge ring", X: -6, Z: 6, Radius: fptr(1.5)},
		},
		Walls: []Wall{
			{ID: "long-wall", X: 0, Z: -6, Width: fptr(6), Height: fptr(1)},
			{ID: "cross-wall", X: -5, Z: 1, Width: fptr(1), Height: fptr(6)},
		},
		Emitters: []Emitter{
			{ID: "beacon", Name: "beacon", X: 0, Z: -10, Frequency: fptr(440)},
			{ID: "chime", Name: "chime", X: 8, Z: 4, Frequency: fptr(880), Gain: fptr(0.5), Waveform: "triangle"},
			{ID: "drone", Name: "drone", X: -9, Z: -5, Frequency: fptr(110), Gain: fptr(0.7), Waveform: "sawtooth"},
			{ID: "wanderer", Name: "wanderer", X: 5, Z: 8, Frequency: fptr(330), Gain: fptr(0.6), Waveform: "square", Moving: true, VX: 1.5, VZ: -0.9},
		},
	}
}

// Load reads and validates a scenario file.
func Load(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("scenario: failed loading %s: %w", path, err)
	}
	var sc Scenario
	if err := json.Unmarshal(data, &sc); err != nil {
		return Scenario{}, fmt.Errorf("scenario: failed parsing %s: %w", path, err)
	}
	if err := sc.Validate(); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}

// Validate rejects structural mistakes a clamp cannot repair: duplicate
// ids, unknown waveforms, and non-positive frequencies. Out-of-range numeric
// values are left for the world to clamp on seeding.
func (s Scenario) Validate() error {
	seen := make(map[string]struct{})
	claim := func(id string) error {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("scenario: duplicate id %q", id)
		}
		seen[id] = struct{}{}
		return nil
	}
	for _, zone := range s.Zones {
		if err := claim(zone.ID); err != nil {
			return err
		}
	}
	for _, wall := range s.Walls {
		if err := claim(wall.ID); err != nil {
			return err
		}
	}
	for _, emitter := range s.Emitters {
		if err := claim(emitter.ID); err != nil {
			return err
		}
		if emitter.Waveform != "" {
			if _, ok := sim.ParseWaveform(emitter.Waveform); !ok {
				return fmt.Errorf("scenario: emitter %q has unknown waveform %q", emitter.ID, emitter.Waveform)
			}
		}
		if emitter.Frequency != nil && *emitter.Frequency <= 0 {
			return fmt.Errorf("scenario: emitter %q needs a positive frequency, got %v", emitter.ID, *emitter.Frequency)
		}
	}
	return nil
}

// Seed converts the scenario into initial world contents. Defaults are
// applied here; range clamping happens when the world ingests the seed.
func (s Scenario) Seed() sim.Seed {
	seed := sim.Seed{
		Modes: sim.Modes{
			ListenerMotion: boolOr(s.ListenerMotion, true),
			EmitterMotion:  boolOr(s.EmitterMotion, true),
		},
	}
	if s.Listener != nil {
		seed.Listener = sim.Listener{X: s.Listener.X, Z: s.Listener.Z, HeadingDeg: s.Listener.HeadingDeg}
	}
	for _, zone := range s.Zones {
		seed.Zones = append(seed.Zones, sim.Zone{
			ID:     strings.TrimSpace(zone.ID),
			Label:  zone.Label,
			X:      zone.X,
			Z:      zone.Z,
			Radius: floatOr(zone.Radius, sim.DefaultZoneRadius),
		})
	}
	for _, wall := range s.Walls {
		seed.Walls = append(seed.Walls, sim.Wall{
			ID:     strings.TrimSpace(wall.ID),
			X:      wall.X,
			Z:      wall.Z,
			Width:  floatOr(wall.Width, sim.DefaultWallSide),
			Height: floatOr(wall.Height, sim.DefaultWallSide),
		})
	}
	for _, emitter := range s.Emitters {
		waveform, ok := sim.ParseWaveform(emitter.Waveform)
		if !ok {
			waveform = sim.WaveformSine
		}
		seed.Emitters = append(seed.Emitters, sim.Emitter{
			ID:        strings.TrimSpace(emitter.ID),
			Name:      emitter.Name,
			X:         emitter.X,
			Y:         floatOr(emitter.Y, sim.DefaultElevation),
			Z:         emitter.Z,
			Frequency: floatOr(emitter.Frequency, sim.DefaultFrequencyHz),
			Gain:      floatOr(emitter.Gain, sim.DefaultGain),
			Waveform:  waveform,
			Moving:    emitter.Moving,
			VX:        emitter.VX,
			VZ:        emitter.VZ,
		})
	}
	return seed
}

func fptr(v float64) *float64 {
	return &v
}

func floatOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
