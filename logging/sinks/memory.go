package sinks

import (
	"context"
	"maps"
	"slices"
	"sync"

	"echo-maze/server/logging"
)

// Memory keeps every delivered event in arrival order so tests can read
// the stream back.
type Memory struct {
	mu     sync.RWMutex
	events []logging.Event
}

func NewMemory() *Memory {
	return &Memory{}
}

func (s *Memory) Write(event logging.Event) error {
	event.Targets = slices.Clone(event.Targets)
	event.Extra = maps.Clone(event.Extra)
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	return nil
}

// Events returns a copy of everything written so far.
func (s *Memory) Events() []logging.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}

// Reset forgets all retained events.
func (s *Memory) Reset() {
	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}

func (s *Memory) Close(context.Context) error {
	return nil
}
