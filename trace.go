package vidfx

import (
	"sync"
	"time"
)

// TraceEvent is one recorded pipeline event.
type TraceEvent struct {
	// Name identifies the event, e.g. "QueueFrame" or "RenderedToOutput".
	Name string

	// PresentationTimeUs is the frame timestamp the event relates to, or
	// TimeUnset when the event is not tied to a frame.
	PresentationTimeUs int64

	// Wallclock is when the event was recorded.
	Wallclock time.Time
}

// TraceSink receives pipeline trace events. Implementations must be safe
// for concurrent use; events are emitted from application threads and from
// the GPU goroutine alike.
type TraceSink interface {
	TraceEvent(ev TraceEvent)
}

// tracer is an attachable event recorder. The zero value is detached and
// records nothing. A tracer is injected into the components that emit
// events rather than accessed through package state.
type tracer struct {
	mu   sync.Mutex
	sink TraceSink
}

// Attach directs subsequent events to sink. A nil sink detaches.
func (t *tracer) Attach(sink TraceSink) {
	t.mu.Lock()
	t.sink = sink
	t.mu.Unlock()
}

// Detach stops event delivery.
func (t *tracer) Detach() { t.Attach(nil) }

// Reset notifies the sink, if attached, that recording starts over.
func (t *tracer) Reset() {
	t.event("TraceReset", TimeUnset)
}

// event records a named event if a sink is attached.
func (t *tracer) event(name string, presentationTimeUs int64) {
	t.mu.Lock()
	sink := t.sink
	t.mu.Unlock()
	if sink == nil {
		return
	}
	sink.TraceEvent(TraceEvent{
		Name:               name,
		PresentationTimeUs: presentationTimeUs,
		Wallclock:          time.Now(),
	})
}

// BufferTraceSink is a TraceSink that accumulates events in memory, for
// tests and interactive debugging.
type BufferTraceSink struct {
	mu     sync.Mutex
	events []TraceEvent
}

// TraceEvent implements TraceSink.
func (b *BufferTraceSink) TraceEvent(ev TraceEvent) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (b *BufferTraceSink) Events() []TraceEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]TraceEvent, len(b.events))
	copy(out, b.events)
	return out
}
