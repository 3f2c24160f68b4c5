package acoustics

import (
	"echo-maze/server/internal/geom"
	"echo-maze/server/internal/sim"
)

const (
	// SoundSpeed is the propagation speed used by the Doppler model.
	SoundSpeed = 343.0 // meters per second

	// DopplerMinRatio and DopplerMaxRatio bound the observed frequency as a
	// multiple of the emitter's base frequency.
	DopplerMinRatio = 0.6
	DopplerMaxRatio = 1.8

	// OcclusionAttenuation scales the gain of a source whose line of sight to
	// the listener crosses an obstacle.
	OcclusionAttenuation = 0.25

	// CutoffOpenHz leaves the voice filter effectively transparent;
	// CutoffOccludedHz muffles an occluded source.
	CutoffOpenHz     = 20000.0
	CutoffOccludedHz = 800.0

	// EarHeight places the listener's ears above the ground plane.
	EarHeight = 1.4 // meters

	distanceEpsilon = 1e-4
)

// Pose is the listener as the audio layer sees it: ear position plus the
// facing direction on the ground plane.
type Pose struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	ForwardX float64 `json:"forwardX"`
	ForwardZ float64 `json:"forwardZ"`
}

// Source is one emitter rendered against the listener: the frequency already
// carries Doppler, the gain and cutoff already carry occlusion.
type Source struct {
	ID        string       `json:"id"`
	Name      string       `json:"name,omitempty"`
	X         float64      `json:"x"`
	Y         float64      `json:"y"`
	Z         float64      `json:"z"`
	Frequency float64      `json:"frequency"`
	Gain      float64      `json:"gain"`
	CutoffHz  float64      `json:"cutoffHz"`
	Waveform  sim.Waveform `json:"waveform"`
	Occluded  bool         `json:"occluded"`
}

// Frame is the acoustic view of one snapshot. It is what the audio graph
// reconciles against and what state broadcasts carry to clients.
type Frame struct {
	Tick     uint64   `json:"tick"`
	Listener Pose     `json:"listener"`
	Sources  []Source `json:"sources"`
}

// Render derives the acoustic frame for a snapshot. Source order follows
// emitter insertion order.
func Render(snap sim.Snapshot) Frame {
	forward := snap.Listener.Forward()
	frame := Frame{
		Tick: snap.Tick,
		Listener: Pose{
			X:        snap.Listener.X,
			Y:        EarHeight,
			Z:        snap.Listener.Z,
			ForwardX: forward.X,
			ForwardZ: forward.Z,
		},
		Sources: make([]Source, 0, len(snap.Emitters)),
	}
	for _, emitter := range snap.Emitters {
		source := Source{
			ID:        emitter.ID,
			Name:      emitter.Name,
			X:         emitter.X,
			Y:         emitter.Y,
			Z:         emitter.Z,
			Frequency: observedFrequency(emitter, snap.Listener, snap.Modes.EmitterMotion),
			Gain:      emitter.Gain,
			CutoffHz:  CutoffOpenHz,
			Waveform:  emitter.Waveform,
		}
		if occludedFrom(snap, emitter) {
			source.Occluded = true
			source.Gain = emitter.Gain * OcclusionAttenuation
			source.CutoffHz = CutoffOccludedHz
		}
		frame.Sources = append(frame.Sources, source)
	}
	return frame
}

// observedFrequency applies the source-motion Doppler shift. A parked emitter
// or a world with emitter motion disabled hears the base frequency exactly.
func observedFrequency(emitter sim.Emitter, listener sim.Listener, motionEnabled bool) float64 {
	if !motionEnabled || !emitter.Moving {
		return emitter.Frequency
	}
	toListener := geom.Vec2{X: listener.X - emitter.X, Z: listener.Z - emitter.Z}
	dist := toListener.Len()
	if dist < distanceEpsilon {
		dist = distanceEpsilon
	}
	closing := (emitter.VX*toListener.X + emitter.VZ*toListener.Z) / dist
	denom := SoundSpeed - closing
	if denom <= 0 {
		return emitter.Frequency * DopplerMaxRatio
	}
	observed := emitter.Frequency * SoundSpeed / denom
	return geom.Clamp(observed, emitter.Frequency*DopplerMinRatio, emitter.Frequency*DopplerMaxRatio)
}

// occludedFrom probes the sight line from the emitter to the listener, zones
// first, walls second, stopping at the first hit. The world rim never
// occludes; both endpoints sit inside it.
func occludedFrom(snap sim.Snapshot, emitter sim.Emitter) bool {
	ax, az := emitter.X, emitter.Z
	bx, bz := snap.Listener.X, snap.Listener.Z
	for _, zone := range snap.Zones {
		if geom.SegmentHitsCircle(ax, az, bx, bz, geom.Circle{X: zone.X, Z: zone.Z, Radius: zone.Radius}) {
			return true
		}
	}
	for _, wall := range snap.Walls {
		if geom.SegmentHitsRect(ax, az, bx, bz, geom.Rect{X: wall.X, Z: wall.Z, Width: wall.Width, Height: wall.Height}) {
			return true
		}
	}
	return false
}
