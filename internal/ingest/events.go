package ingest

import "time"

// EventType names the progress notifications emitted during a run.
type EventType string

const (
	EventStart     EventType = "start"
	EventProgress  EventType = "progress"
	EventWarning   EventType = "warning"
	EventCompleted EventType = "completed"
	EventError     EventType = "error"
)

// Event is one step-by-step progress notification. A run that emits events
// always ends with a completed or error event.
type Event struct {
	Type      EventType      `json:"-"`
	Step      string         `json:"step,omitempty"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventSink receives progress events. Emit must not block for long; slow
// consumers stall the run.
type EventSink interface {
	Emit(Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// discardSink swallows events for triggers that do not stream progress.
type discardSink struct{}

func (discardSink) Emit(Event) {}

func orDiscard(sink EventSink) EventSink {
	if sink == nil {
		return discardSink{}
	}
	return sink
}

func emit(sink EventSink, t EventType, step, msg string, data map[string]any) {
	sink.Emit(Event{Type: t, Step: step, Message: msg, Data: data, Timestamp: time.Now()})
}
