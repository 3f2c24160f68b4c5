package logging

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Clock supplies timestamps for events that arrive without one.
type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// Sink receives routed events one at a time. Write is never invoked
// concurrently for the same sink.
type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

// NamedSink pairs a sink with the name used for lookup and config matching.
type NamedSink struct {
	Name string
	Sink Sink
}

const (
	laneQueueMin  = 32
	laneQueueMax  = 1024
	retryBase     = 500 * time.Millisecond
	maxRetryShift = 4
)

// Router fans events out to sinks without blocking publishers. Each sink
// drains its own queue on a dedicated goroutine.
type Router struct {
	queue    chan Event
	lanes    []*sinkLane
	clock    Clock
	fallback *log.Logger

	minSeverity Severity
	fields      map[string]any
	warnEvery   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	wg     sync.WaitGroup

	eventsTotal  atomic.Uint64
	droppedTotal atomic.Uint64
	dropWarnMu   sync.Mutex
	nextDropWarn time.Time
}

// RouterStats is a point-in-time view of router throughput.
type RouterStats struct {
	EventsTotal  uint64
	DroppedTotal uint64
}

func NewRouter(clock Clock, cfg Config, namedSinks []NamedSink) (*Router, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	queueSize := cfg.BufferSize
	if queueSize <= 0 {
		queueSize = 512
	}
	warnEvery := cfg.DropWarnInterval
	if warnEvery <= 0 {
		warnEvery = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		queue:       make(chan Event, queueSize),
		clock:       clock,
		fallback:    log.New(os.Stderr, "[logging] ", log.LstdFlags),
		minSeverity: cfg.MinimumSeverity,
		fields:      cfg.CloneFields(),
		warnEvery:   warnEvery,
		ctx:         ctx,
		cancel:      cancel,
	}

	laneSize := min(max(queueSize, laneQueueMin), laneQueueMax)
	for _, named := range namedSinks {
		if named.Sink == nil {
			continue
		}
		r.lanes = append(r.lanes, newSinkLane(named.Name, named.Sink, laneSize, r.fallback))
	}

	r.wg.Add(1)
	go r.dispatch()
	for _, lane := range r.lanes {
		r.wg.Add(1)
		go func(l *sinkLane) {
			defer r.wg.Done()
			l.run()
		}(lane)
	}
	return r, nil
}

// Publish stages an event for delivery. A full queue drops rather than
// blocks. Events without a type are discarded.
func (r *Router) Publish(ctx context.Context, event Event) {
	if event.Type == "" || r.closed.Load() {
		return
	}
	select {
	case r.queue <- event:
	default:
		r.noteDrop(event)
	}
}

// dispatch is the single consumer of the staging queue. On shutdown it
// routes whatever is still queued, then closes every lane.
func (r *Router) dispatch() {
	defer func() {
		for _, lane := range r.lanes {
			close(lane.queue)
		}
		r.wg.Done()
	}()
	for {
		select {
		case <-r.ctx.Done():
			for {
				select {
				case event := <-r.queue:
					r.route(event)
				default:
					return
				}
			}
		case event := <-r.queue:
			r.route(event)
		}
	}
}

func (r *Router) route(event Event) {
	if event.Severity < r.minSeverity {
		return
	}
	if event.Time.IsZero() {
		event.Time = r.clock.Now()
	}
	event = stampFields(event, r.fields)
	r.eventsTotal.Add(1)
	for _, lane := range r.lanes {
		lane.offer(cloneEvent(event))
	}
}

func (r *Router) noteDrop(event Event) {
	r.droppedTotal.Add(1)
	now := time.Now()
	r.dropWarnMu.Lock()
	warn := now.After(r.nextDropWarn)
	if warn {
		r.nextDropWarn = now.Add(r.warnEvery)
	}
	r.dropWarnMu.Unlock()
	if warn {
		r.fallback.Printf("queue full, dropping event type=%s tick=%d", event.Type, event.Tick)
	}
}

// Close stops the dispatcher, lets every lane work off its backlog, then
// closes the sinks. The context bounds how long the drain may take.
func (r *Router) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.cancel()
	drained := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		return ctx.Err()
	}
	var firstErr error
	for _, lane := range r.lanes {
		if err := lane.sink.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) Stats() RouterStats {
	return RouterStats{
		EventsTotal:  r.eventsTotal.Load(),
		DroppedTotal: r.droppedTotal.Load(),
	}
}

// Sink returns the registered sink with the given name, or nil.
func (r *Router) Sink(name string) Sink {
	for _, lane := range r.lanes {
		if lane.label == name {
			return lane.sink
		}
	}
	return nil
}

// sinkLane owns delivery for one sink, including its bounded queue and
// retry state. offer runs on the dispatch goroutine; everything else on
// the lane's own goroutine.
type sinkLane struct {
	label     string
	sink      Sink
	queue     chan Event
	errLog    *log.Logger
	strikes   int
	holdUntil time.Time
	dropped   uint64
}

func newSinkLane(label string, sink Sink, size int, errLog *log.Logger) *sinkLane {
	return &sinkLane{
		label:  label,
		sink:   sink,
		queue:  make(chan Event, size),
		errLog: errLog,
	}
}

func (l *sinkLane) offer(event Event) {
	select {
	case l.queue <- event:
	default:
		l.dropped++
		if l.dropped&(l.dropped-1) == 0 {
			l.errLog.Printf("sink %s backlog full, dropped=%d last type=%s", l.label, l.dropped, event.Type)
		}
	}
}

func (l *sinkLane) run() {
	for event := range l.queue {
		l.holdOff()
		if err := l.sink.Write(event); err != nil {
			l.strike(err)
			continue
		}
		l.strikes = 0
		l.holdUntil = time.Time{}
	}
}

// holdOff sleeps out the remainder of the current retry delay.
func (l *sinkLane) holdOff() {
	if l.strikes == 0 {
		return
	}
	if wait := time.Until(l.holdUntil); wait > 0 {
		time.Sleep(wait)
	}
}

// strike doubles the retry delay per consecutive failure, capped at 8s.
func (l *sinkLane) strike(err error) {
	l.strikes++
	delay := retryBase << min(l.strikes-1, maxRetryShift)
	l.holdUntil = time.Now().Add(delay)
	l.errLog.Printf("sink %s write failed: %v (next attempt in %s)", l.label, err, delay)
}
