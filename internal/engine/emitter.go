package engine

import (
	"sync"
	"time"

	"github.com/soochol/nodeflow/internal/nodeflow"
	"github.com/soochol/nodeflow/internal/nodeflow/ports"
)

// Emitter is a bounded progress channel drained by a single consumer. Emit
// never blocks: events are dropped when the buffer is full or after Close.
type Emitter struct {
	mu      sync.Mutex
	ch      chan nodeflow.Event
	closed  bool
	dropped int
}

func NewEmitter(bufSize int) *Emitter {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Emitter{ch: make(chan nodeflow.Event, bufSize)}
}

func (e *Emitter) Emit(ev nodeflow.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		e.dropped++
		return
	}
	select {
	case e.ch <- ev:
	default:
		e.dropped++
	}
}

// Events is the consumer side. It is closed by Close.
func (e *Emitter) Events() <-chan nodeflow.Event { return e.ch }

// Close ends the stream. Safe to call more than once.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}

// Dropped reports how many events were discarded.
func (e *Emitter) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// SinkFunc adapts a function to ports.ProgressSink.
type SinkFunc func(nodeflow.Event)

func (f SinkFunc) Emit(ev nodeflow.Event) { f(ev) }

// Discard drops every event.
var Discard ports.ProgressSink = SinkFunc(func(nodeflow.Event) {})

// progress stamps events for one invocation with the execution id, a
// sequence number and a timestamp.
type progress struct {
	sink        ports.ProgressSink
	executionID string
	seq         int
	now         func() time.Time
}

func newProgress(sink ports.ProgressSink, executionID string, now func() time.Time) *progress {
	if sink == nil {
		sink = Discard
	}
	return &progress{sink: sink, executionID: executionID, now: now}
}

func (p *progress) emit(typ nodeflow.EventType, nodeID string, payload map[string]any) {
	p.seq++
	p.sink.Emit(nodeflow.Event{
		Seq:         p.seq,
		Type:        typ,
		ExecutionID: p.executionID,
		NodeID:      nodeID,
		Payload:     payload,
		Time:        p.now().UTC(),
	})
}
