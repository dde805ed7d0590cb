package events

import (
	"time"

	"github.com/Morlock52/psscript-sub005/internal/types"
)

// EventType identifies the kind of progress notification emitted during an
// analysis workflow.
type EventType string

const (
	// EventConnected is sent to a subscriber immediately after attaching to a
	// thread's stream.
	EventConnected EventType = "connected"

	// EventStageChange signals a workflow stage transition.
	EventStageChange EventType = "stage_change"

	// EventToolStarted signals that a tool invocation has been dispatched.
	EventToolStarted EventType = "tool_started"

	// EventToolCompleted signals that a tool invocation reached a terminal
	// status, successful or not.
	EventToolCompleted EventType = "tool_completed"

	// EventReasoning carries model reasoning text or orchestrator warnings.
	EventReasoning EventType = "reasoning"

	// EventFinding carries a single security finding as it is discovered.
	EventFinding EventType = "finding"

	// EventHumanReviewRequired signals that the workflow paused awaiting
	// feedback.
	EventHumanReviewRequired EventType = "human_review_required"

	// EventCompleted is the successful terminal event for a workflow.
	EventCompleted EventType = "completed"

	// EventError is the failure terminal event for a workflow.
	EventError EventType = "error"
)

// Terminal reports whether this event type ends a workflow's stream. The bus
// closes the thread's channel after delivering a terminal event.
func (t EventType) Terminal() bool {
	return t == EventCompleted || t == EventError
}

// AnalysisEvent is a best-effort progress notification. Events are never
// persisted; the checkpoint is the durable record of outcome.
type AnalysisEvent struct {
	Type       EventType      `json:"type"`
	ThreadID   string         `json:"thread_id"`
	WorkflowID types.ID       `json:"workflow_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(eventType EventType, threadID string, workflowID types.ID, payload map[string]any) AnalysisEvent {
	return AnalysisEvent{
		Type:       eventType,
		ThreadID:   threadID,
		WorkflowID: workflowID,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	}
}

// Terminal reports whether the event ends its workflow's stream.
func (e AnalysisEvent) Terminal() bool {
	return e.Type.Terminal()
}
