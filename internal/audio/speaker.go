package audio

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/speaker"

	"echo-maze/server/internal/acoustics"
	"echo-maze/server/internal/telemetry"
)

// speakerSink plays voices through the system output device. Every voice
// feeds one shared mixer behind a master volume stage.
type speakerSink struct {
	mu          sync.Mutex
	mixer       *beep.Mixer
	master      *effects.Volume
	logger      telemetry.Logger
	initialized bool
	running     bool
}

// NewSpeakerSink builds the device-backed sink. The device opens lazily on
// the first Start; later Starts resume a suspended device instead.
func NewSpeakerSink(masterGain float64, logger telemetry.Logger) Sink {
	mixer := &beep.Mixer{}
	return &speakerSink{
		mixer:  mixer,
		master: masterVolume(mixer, masterGain),
		logger: logger,
	}
}

// masterVolume wraps the mixer in a logarithmic gain stage.
// math.Log2(0) is -Inf, so zero gain switches to Silent instead.
func masterVolume(mixer *beep.Mixer, gain float64) *effects.Volume {
	if gain <= 0 {
		return &effects.Volume{Streamer: mixer, Base: 2, Volume: 0, Silent: true}
	}
	return &effects.Volume{Streamer: mixer, Base: 2, Volume: math.Log2(gain), Silent: false}
}

func (s *speakerSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if !s.initialized {
		if err := speaker.Init(sampleRate, sampleRate.N(bufferLength*time.Millisecond)); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		speaker.Play(s.master)
		s.initialized = true
	} else if err := speaker.Resume(); err != nil {
		return fmt.Errorf("resume playback: %w", err)
	}
	s.running = true
	return nil
}

func (s *speakerSink) AddUnit(source acoustics.Source, listener acoustics.Pose) (Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil, ErrUnavailable
	}
	v := newVoice(source, listener, sampleRate)
	speaker.Lock()
	s.mixer.Add(v)
	speaker.Unlock()
	return &speakerUnit{voice: v}, nil
}

// Stop drops every voice and suspends the device. The speaker stays
// initialized so a later Start resumes instead of reopening it.
func (s *speakerSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	speaker.Lock()
	s.mixer.Clear()
	speaker.Unlock()
	if err := speaker.Suspend(); err != nil && s.logger != nil {
		s.logger.Printf("audio: suspend failed: %v", err)
	}
	s.running = false
}

// speakerUnit guards voice mutation with the speaker lock, which keeps
// writers out of the streaming callback.
type speakerUnit struct {
	voice *voice
}

func (u *speakerUnit) SetTarget(source acoustics.Source, listener acoustics.Pose) {
	speaker.Lock()
	u.voice.retarget(source, listener)
	speaker.Unlock()
}

func (u *speakerUnit) Close() {
	speaker.Lock()
	u.voice.beginClose()
	speaker.Unlock()
}
