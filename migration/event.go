package migration

import "time"

// EventType identifies a progress event on the job bus.
type EventType string

// Progress event types pushed over the WebSocket channel.
const (
	EventConnection       EventType = "connection"
	EventWorkflowStart    EventType = "workflow_start"
	EventWorkflowStatus   EventType = "workflow_status"
	EventAgentThinking    EventType = "agent_thinking"
	EventAgentThinkingEnd EventType = "agent_thinking_complete"
	EventToolUse          EventType = "tool_use"
	EventToolComplete     EventType = "tool_complete"
	EventAgentCompletion  EventType = "agent_completion"
	EventWorkflowComplete EventType = "workflow_complete"
	EventWorkflowError    EventType = "workflow_error"
)

// Event is one progress message for a migration job. Timestamps within
// a job are monotonically non-decreasing because the emit site is
// single-threaded per job.
type Event struct {
	Type        EventType `json:"type"`
	MigrationID string    `json:"migration_id"`
	Agent       string    `json:"agent,omitempty"`
	Status      Status    `json:"status,omitempty"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`

	// Payload carries event-specific extra fields.
	Payload map[string]any `json:"payload,omitempty"`
}

// NewEvent builds an event stamped with the current UTC time.
func NewEvent(typ EventType, migrationID string) Event {
	return Event{
		Type:        typ,
		MigrationID: migrationID,
		Timestamp:   time.Now().UTC(),
	}
}
