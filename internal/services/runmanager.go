package services

import (
	"sync"
	"time"

	"github.com/soochol/nodeflow/internal/nodeflow"
	"github.com/soochol/nodeflow/internal/nodeflow/ports"
)

// EventRecord is an event as buffered for replay. Seq is the position in
// the execution's buffer and is stable across invocations, unlike the
// per-invocation Event.Seq.
type EventRecord struct {
	Seq   int            `json:"seq"`
	Event nodeflow.Event `json:"event"`
}

// runEntry holds the buffered events of one execution. idle is set by a
// terminal event and cleared when a resumed invocation appends again.
type runEntry struct {
	mu        sync.Mutex
	events    []EventRecord
	idle      bool
	subs      []chan struct{} // closed on each append (fan-out wakeup)
	idleSince time.Time
}

func (e *runEntry) snapshot(startSeq int) (events []EventRecord, notify <-chan struct{}, idle bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if startSeq < 0 {
		startSeq = 0
	}
	if startSeq < len(e.events) {
		events = make([]EventRecord, len(e.events)-startSeq)
		copy(events, e.events[startSeq:])
	}
	ch := make(chan struct{})
	e.subs = append(e.subs, ch)
	return events, ch, e.idle
}

// RunManager buffers progress events per execution so that observers can
// attach late or reconnect with Last-Event-ID. Buffers of executions that
// have been idle longer than the TTL are dropped.
type RunManager struct {
	mu   sync.Mutex
	runs map[string]*runEntry
	ttl  time.Duration
	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

func NewRunManager(ttl time.Duration) *RunManager {
	rm := &RunManager{
		runs: make(map[string]*runEntry),
		ttl:  ttl,
		now:  time.Now,
		stop: make(chan struct{}),
	}
	go rm.gc()
	return rm
}

// Stop terminates the GC goroutine. Safe to call more than once.
func (rm *RunManager) Stop() {
	rm.once.Do(func() { close(rm.stop) })
}

// Sink returns a progress sink that appends to the buffer of whichever
// execution each event belongs to.
func (rm *RunManager) Sink() ports.ProgressSink { return managerSink{rm} }

type managerSink struct{ rm *RunManager }

func (s managerSink) Emit(ev nodeflow.Event) { s.rm.Append(ev) }

// Append buffers ev and wakes subscribers. It never blocks on observers.
func (rm *RunManager) Append(ev nodeflow.Event) {
	if ev.ExecutionID == "" {
		return
	}
	rm.mu.Lock()
	entry, ok := rm.runs[ev.ExecutionID]
	if !ok {
		entry = &runEntry{}
		rm.runs[ev.ExecutionID] = entry
	}
	rm.mu.Unlock()

	entry.mu.Lock()
	entry.events = append(entry.events, EventRecord{Seq: len(entry.events), Event: ev})
	entry.idle = ev.Terminal()
	if entry.idle {
		entry.idleSince = rm.now()
	}
	subs := entry.subs
	entry.subs = nil
	entry.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

// Subscribe returns buffered events from startSeq on, a channel closed on
// the next append, and whether the last buffered event was terminal.
// found is false when nothing was ever buffered for executionID.
func (rm *RunManager) Subscribe(executionID string, startSeq int) (events []EventRecord, notify <-chan struct{}, idle bool, found bool) {
	rm.mu.Lock()
	entry, ok := rm.runs[executionID]
	rm.mu.Unlock()
	if !ok {
		return nil, nil, false, false
	}
	events, notify, idle = entry.snapshot(startSeq)
	return events, notify, idle, true
}

func (rm *RunManager) gc() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-rm.stop:
			return
		case <-ticker.C:
			rm.collectExpired()
		}
	}
}

func (rm *RunManager) collectExpired() {
	now := rm.now()
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for id, entry := range rm.runs {
		entry.mu.Lock()
		expired := entry.idle && now.Sub(entry.idleSince) > rm.ttl
		entry.mu.Unlock()
		if expired {
			delete(rm.runs, id)
		}
	}
}
