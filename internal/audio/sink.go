package audio

import (
	"errors"

	"echo-maze/server/internal/acoustics"
)

// ErrUnavailable reports that no output device can be opened. Starting a
// disabled sink always returns it.
var ErrUnavailable = errors.New("audio output unavailable")

// A Unit is one playing voice owned by the graph. SetTarget retunes it
// toward a freshly rendered source; Close begins its fade-out and is safe to
// call more than once.
type Unit interface {
	SetTarget(source acoustics.Source, listener acoustics.Pose)
	Close()
}

// A Sink owns the output device. Start and Stop bracket playback; AddUnit
// creates a voice already tuned to its target.
type Sink interface {
	Start() error
	AddUnit(source acoustics.Source, listener acoustics.Pose) (Unit, error)
	Stop()
}

type disabledSink struct{}

// Disabled returns a sink for headless runs. It refuses to start and never
// produces units.
func Disabled() Sink {
	return disabledSink{}
}

func (disabledSink) Start() error {
	return ErrUnavailable
}

func (disabledSink) AddUnit(acoustics.Source, acoustics.Pose) (Unit, error) {
	return nil, ErrUnavailable
}

func (disabledSink) Stop() {}
