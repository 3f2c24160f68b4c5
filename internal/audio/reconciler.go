package audio

import (
	"sync"

	"echo-maze/server/internal/acoustics"
)

const (
	StatusIdle   = "idle"
	StatusActive = "active"
)

// Reconciler keeps the set of playing voices aligned with rendered frames.
// Sources are matched by id: new ids get a voice created at its target,
// surviving ids are retuned, vanished ids fade out. While stopped, frames
// are discarded.
type Reconciler struct {
	mu      sync.Mutex
	sink    Sink
	units   map[string]Unit
	running bool
	status  string
}

func NewReconciler(sink Sink) *Reconciler {
	if sink == nil {
		sink = Disabled()
	}
	return &Reconciler{
		sink:   sink,
		units:  make(map[string]Unit),
		status: StatusIdle,
	}
}

// Start opens the sink. A failure parks the reconciler in an error status
// that the next successful Start clears; it never panics the caller's tick.
func (r *Reconciler) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	if err := r.sink.Start(); err != nil {
		r.status = "error: " + err.Error()
		return err
	}
	r.running = true
	r.status = StatusActive
	return nil
}

// Stop tears the graph down synchronously: every unit closes, the sink
// stops, and the status returns to idle. Stopping twice is a no-op.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	for id, unit := range r.units {
		unit.Close()
		delete(r.units, id)
	}
	r.sink.Stop()
	r.running = false
	r.status = StatusIdle
}

// Apply diffs one rendered frame against the playing units.
func (r *Reconciler) Apply(frame acoustics.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	seen := make(map[string]struct{}, len(frame.Sources))
	for _, source := range frame.Sources {
		seen[source.ID] = struct{}{}
		if unit, ok := r.units[source.ID]; ok {
			unit.SetTarget(source, frame.Listener)
			continue
		}
		unit, err := r.sink.AddUnit(source, frame.Listener)
		if err != nil {
			continue
		}
		r.units[source.ID] = unit
	}
	for id, unit := range r.units {
		if _, ok := seen[id]; !ok {
			unit.Close()
			delete(r.units, id)
		}
	}
}

// Running reports whether the graph is live.
func (r *Reconciler) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Status is "idle", "active", or "error: ..." after a failed start.
func (r *Reconciler) Status() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// UnitCount reports the number of live voices.
func (r *Reconciler) UnitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.units)
}
