// internal/run/run.go
package run

import (
	"context"
	"sync"
	"time"

	"github.com/sachiniyer/meal-finder/internal/types"
)

// State is the lifecycle state of a run.
type State string

const (
	// StateSubmitted means the run is queued or the engine is thinking.
	StateSubmitted State = "submitted"
	// StateAwaitingToolResults means requested tool calls are executing.
	StateAwaitingToolResults State = "awaiting_tool_results"
	// StateCompleted means the run produced a final assistant message.
	StateCompleted State = "completed"
	// StateFailed means the run hit an unrecoverable error.
	StateFailed State = "failed"
	// StateCancelled means the run was cancelled before finishing.
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// EventType classifies run events delivered to the session layer.
type EventType string

const (
	// EventAssistantMessage carries the run's final answer.
	EventAssistantMessage EventType = "message"
	// EventToolCall announces a tool starting, with its progress notice.
	EventToolCall EventType = "tool_call"
	// EventError carries a run failure.
	EventError EventType = "error"
)

// Event is a run progress notification. The event stream for a run is
// closed when the run reaches a terminal state.
type Event struct {
	Type           EventType
	ConversationID types.ConversationID
	RunID          types.RunID
	Message        *types.Message
	ToolName       string
	Notice         string
	Err            string
}

// Run is one request/response cycle of a conversation, from user
// message to final assistant answer.
type Run struct {
	ID             types.RunID
	ConversationID types.ConversationID
	StartedAt      time.Time

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	events chan Event
}

func newRun(conversationID types.ConversationID, cancel context.CancelFunc) *Run {
	return &Run{
		ID:             types.NewRunID(),
		ConversationID: conversationID,
		StartedAt:      time.Now(),
		state:          StateSubmitted,
		cancel:         cancel,
		events:         make(chan Event, 64),
	}
}

// State returns the run's current state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Run) setState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() {
		return
	}
	r.state = s
}

// Events returns the run's event stream. The channel is closed when the
// run terminates.
func (r *Run) Events() <-chan Event {
	return r.events
}

// emit delivers an event without blocking. A slow or absent consumer
// loses events; the durable record is the conversation store.
func (r *Run) emit(ev Event) {
	ev.ConversationID = r.ConversationID
	ev.RunID = r.ID
	select {
	case r.events <- ev:
	default:
	}
}
