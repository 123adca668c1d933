package orchestrator

import (
	"sync"
	"time"
)

// EventType classifies a scheduler lifecycle event.
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow_started"
	EventWorkflowFinished  EventType = "workflow_finished"
	EventSubtaskDispatched EventType = "subtask_dispatched"
	EventSubtaskSucceeded  EventType = "subtask_succeeded"
	EventSubtaskFailed     EventType = "subtask_failed"
	EventSubtaskVetoed     EventType = "subtask_vetoed"
	EventSubtaskRetrying   EventType = "subtask_retrying"
	EventSubtaskSkipped    EventType = "subtask_skipped"
	EventDispatchHalted    EventType = "dispatch_halted"
)

// Event is a scheduler lifecycle notification.
type Event struct {
	Type       EventType `json:"type"`
	WorkflowID string    `json:"workflow_id"`
	SubtaskID  string    `json:"subtask_id,omitempty"`
	AgentID    string    `json:"agent_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Time       time.Time `json:"time"`
}

// Emitter fans scheduler events out to subscribers. Slow subscribers
// lose events rather than stall the scheduler.
type Emitter struct {
	mu   sync.Mutex
	subs []chan Event
}

// NewEmitter creates an event emitter.
func NewEmitter() *Emitter {
	return &Emitter{}
}

// Subscribe returns a channel receiving future events.
func (e *Emitter) Subscribe() <-chan Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan Event, 64)
	e.subs = append(e.subs, ch)
	return ch
}

// Emit delivers an event to every subscriber, dropping it for any whose
// buffer is full.
func (e *Emitter) Emit(ev Event) {
	if e == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
