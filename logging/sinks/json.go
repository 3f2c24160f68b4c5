package sinks

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"echo-maze/server/logging"
)

// JSON appends newline-delimited events to a writer, buffering between
// flushes when a flush interval is set.
type JSON struct {
	mu       sync.Mutex
	buf      *bufio.Writer
	enc      *json.Encoder
	eager    bool
	stop     chan struct{}
	stopOnce sync.Once
}

// jsonLine is the wire shape of one log line. Severity is written as its
// label rather than the internal ordinal.
type jsonLine struct {
	Time     string              `json:"time"`
	Level    string              `json:"level"`
	Type     logging.EventType   `json:"type"`
	Tick     uint64              `json:"tick"`
	Category string              `json:"category,omitempty"`
	Actor    logging.EntityRef   `json:"actor"`
	Targets  []logging.EntityRef `json:"targets,omitempty"`
	Payload  any                 `json:"payload,omitempty"`
	Extra    map[string]any      `json:"extra,omitempty"`
}

// NewJSON constructs a sink writing to w. A positive flushInterval batches
// writes and flushes on a timer; otherwise every write flushes.
func NewJSON(w io.Writer, flushInterval time.Duration) *JSON {
	if w == nil {
		w = io.Discard
	}
	buf := bufio.NewWriter(w)
	sink := &JSON{
		buf:   buf,
		enc:   json.NewEncoder(buf),
		eager: flushInterval <= 0,
		stop:  make(chan struct{}),
	}
	if flushInterval > 0 {
		go sink.flushLoop(flushInterval)
	}
	return sink
}

func (s *JSON) Write(event logging.Event) error {
	line := jsonLine{
		Time:     event.Time.Format(time.RFC3339Nano),
		Level:    event.Severity.String(),
		Type:     event.Type,
		Tick:     event.Tick,
		Category: event.Category,
		Actor:    event.Actor,
		Targets:  event.Targets,
		Payload:  event.Payload,
		Extra:    event.Extra,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(line); err != nil {
		return err
	}
	if s.eager {
		return s.buf.Flush()
	}
	return nil
}

// Close stops the flusher and writes out whatever is still buffered.
func (s *JSON) Close(context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Flush()
}

func (s *JSON) flushLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.buf.Flush()
			s.mu.Unlock()
		}
	}
}
