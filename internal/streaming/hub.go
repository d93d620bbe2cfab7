package streaming

import "context"

// Lifecycle event types published by the router and timer sweep.
const (
	EventEntrySubmitted = "entry_submitted"
	EventEntryAdvanced  = "entry_advanced"
	EventEntryCompleted = "entry_completed"
	EventEntryFailed    = "entry_failed"
	EventEntrySuspended = "entry_suspended"
	EventEntryResumed   = "entry_resumed"

	EventTimerCreated   = "timer_created"
	EventTimerFired     = "timer_fired"
	EventTimerCancelled = "timer_cancelled"

	EventNodeSubmitted = "node_submitted"
	EventNodeCompleted = "node_completed"
	EventNodeFailed    = "node_failed"
	EventNodeSkipped   = "node_skipped"

	EventWorkflowRegistered = "workflow_registered"
	EventWorkflowStarted    = "workflow_started"
	EventWorkflowCompleted  = "workflow_completed"
	EventWorkflowFailed     = "workflow_failed"
)

// StreamEvent is a real-time lifecycle event emitted while entries move
// through routing.
type StreamEvent struct {
	WorkflowID uint64 `json:"workflow_id"`
	EventID    uint64 `json:"event_id,omitempty"`
	Deck       uint8  `json:"deck,omitempty"`
	EventType  string `json:"event_type"`
	Payload    any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	WorkflowID uint64   `json:"workflow_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time lifecycle events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
