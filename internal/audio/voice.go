package audio

import (
	"math"

	"github.com/gopxl/beep"

	"echo-maze/server/internal/acoustics"
	"echo-maze/server/internal/geom"
	"echo-maze/server/internal/sim"
)

const (
	sampleRate   = beep.SampleRate(48000)
	bufferLength = 50 // milliseconds handed to the device per write

	// rampSeconds is the glide time constant for parameter updates. Voices
	// are created already sitting on their target; only later retunes ramp.
	rampSeconds = 0.045

	// fadeSeconds shapes the release after Close; fadeFloor is where the
	// voice reports itself drained.
	fadeSeconds = 0.010
	fadeFloor   = 1e-3
)

// voiceParams is one tuning of a voice: oscillator frequency, post-filter
// amplitude, stereo pan in [-1, 1], and the one-pole lowpass coefficient.
type voiceParams struct {
	frequency float64
	amplitude float64
	pan       float64
	lowpass   float64
}

// voice synthesizes a single emitter. All fields belong to the streaming
// goroutine; writers must hold the speaker lock.
type voice struct {
	waveform sim.Waveform
	rate     beep.SampleRate

	cur voiceParams
	tgt voiceParams

	phase    float64
	filtered float64
	glide    float64

	closing  bool
	done     bool
	fade     float64
	fadeStep float64
}

func newVoice(source acoustics.Source, listener acoustics.Pose, rate beep.SampleRate) *voice {
	params := deriveParams(source, listener)
	return &voice{
		waveform: source.Waveform,
		rate:     rate,
		cur:      params,
		tgt:      params,
		glide:    glideCoeff(rate),
		fade:     1,
		fadeStep: math.Exp(-1 / (fadeSeconds * float64(rate))),
	}
}

// retarget points the glide at a new tuning. Waveform switches take effect
// on the next sample; numeric parameters ramp.
func (v *voice) retarget(source acoustics.Source, listener acoustics.Pose) {
	v.waveform = source.Waveform
	v.tgt = deriveParams(source, listener)
}

// beginClose starts the release fade. The mixer drops the voice once the
// fade reaches the floor.
func (v *voice) beginClose() {
	v.closing = true
}

func (v *voice) Stream(samples [][2]float64) (n int, ok bool) {
	if v.done {
		return 0, false
	}
	for i := range samples {
		if v.closing && v.fade < fadeFloor {
			v.done = true
			return i, false
		}

		v.cur.frequency += (v.tgt.frequency - v.cur.frequency) * v.glide
		v.cur.amplitude += (v.tgt.amplitude - v.cur.amplitude) * v.glide
		v.cur.pan += (v.tgt.pan - v.cur.pan) * v.glide
		v.cur.lowpass += (v.tgt.lowpass - v.cur.lowpass) * v.glide

		v.phase += v.cur.frequency / float64(v.rate)
		v.phase -= math.Floor(v.phase)

		v.filtered += (waveSample(v.waveform, v.phase) - v.filtered) * v.cur.lowpass

		sample := v.filtered * v.cur.amplitude
		if v.closing {
			v.fade *= v.fadeStep
			sample *= v.fade
		}

		left, right := panGains(v.cur.pan)
		samples[i][0] = sample * left
		samples[i][1] = sample * right
	}
	return len(samples), true
}

func (v *voice) Err() error {
	return nil
}

// waveSample evaluates one oscillator shape at a phase in [0, 1).
func waveSample(waveform sim.Waveform, phase float64) float64 {
	switch waveform {
	case sim.WaveformTriangle:
		return 1 - 4*math.Abs(phase-0.5)
	case sim.WaveformSquare:
		if phase < 0.5 {
			return 1
		}
		return -1
	case sim.WaveformSawtooth:
		return 2 * (phase - 0.5)
	default:
		return math.Sin(2 * math.Pi * phase)
	}
}

// panGains maps a pan position onto equal-power stereo gains.
func panGains(pan float64) (left, right float64) {
	angle := (geom.Clamp(pan, -1, 1) + 1) * math.Pi / 4
	return math.Cos(angle), math.Sin(angle)
}

// deriveParams folds a rendered source and the listener pose into voice
// parameters. Distance rolls the gain off as 1/d beyond one meter; pan
// projects the offset onto the listener's right axis.
func deriveParams(source acoustics.Source, listener acoustics.Pose) voiceParams {
	dx := source.X - listener.X
	dy := source.Y - listener.Y
	dz := source.Z - listener.Z
	dist := math.Sqrt(dx*dx + dy*dy + dz*dz)

	distGain := 1.0
	if dist > 1 {
		distGain = 1 / dist
	}

	pan := 0.0
	if ground := math.Hypot(dx, dz); ground > 1e-6 {
		rightX, rightZ := -listener.ForwardZ, listener.ForwardX
		pan = geom.Clamp((dx*rightX+dz*rightZ)/ground, -1, 1)
	}

	return voiceParams{
		frequency: source.Frequency,
		amplitude: source.Gain * distGain,
		pan:       pan,
		lowpass:   lowpassCoeff(source.CutoffHz, sampleRate),
	}
}

// lowpassCoeff converts a cutoff frequency into the one-pole smoothing
// coefficient used per sample.
func lowpassCoeff(cutoffHz float64, rate beep.SampleRate) float64 {
	if cutoffHz <= 0 {
		return 1
	}
	coeff := 1 - math.Exp(-2*math.Pi*cutoffHz/float64(rate))
	if coeff > 1 {
		coeff = 1
	}
	return coeff
}

func glideCoeff(rate beep.SampleRate) float64 {
	return 1 - math.Exp(-1/(rampSeconds*float64(rate)))
}
