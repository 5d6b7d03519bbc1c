// Package session provides durable session persistence for multica.
//
// Each session lives in its own directory under the store's base dir,
// holding a metadata.json document and an append-only events.jsonl log.
// The session ID assigned here is the durable identity of a conversation;
// the agent-assigned ACP session ID is recorded in metadata and may change
// when a conversation is resumed against a fresh agent process.
package session

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewSessionID returns a new durable session identifier. ULIDs sort
// lexicographically by creation time, which keeps session directories
// listable in chronological order.
func NewSessionID() string {
	return ulid.Make().String()
}

// EventType represents the type of event in a session log.
type EventType string

const (
	EventTypeUserPrompt     EventType = "user_prompt"
	EventTypeAgentMessage   EventType = "agent_message"
	EventTypeAgentThought   EventType = "agent_thought"
	EventTypeToolCall       EventType = "tool_call"
	EventTypeToolCallUpdate EventType = "tool_call_update"
	EventTypePlan           EventType = "plan"
	EventTypePermission     EventType = "permission"
	EventTypeError          EventType = "error"
	EventTypeSessionStart   EventType = "session_start"
	EventTypeSessionEnd     EventType = "session_end"
)

// Status represents the lifecycle state of a session.
type Status string

const (
	// StatusActive indicates the session can receive prompts.
	StatusActive Status = "active"
	// StatusCompleted indicates the session ended normally.
	StatusCompleted Status = "completed"
	// StatusError indicates the session ended with an error.
	StatusError Status = "error"
)

// Event represents a single entry in the session's event log.
type Event struct {
	Seq       int64     `json:"seq"` // 1-based, monotonically increasing per session
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// UserPromptData contains data for a user prompt event.
type UserPromptData struct {
	Message string `json:"message"`
	// Internal marks prompts synthesized by the orchestrator (hang guard
	// re-prompts, answer delivery) rather than typed by the user.
	Internal bool `json:"internal,omitempty"`
}

// AgentMessageData contains data for an agent message event.
type AgentMessageData struct {
	Text string `json:"text"`
}

// AgentThoughtData contains data for an agent thought event.
type AgentThoughtData struct {
	Text string `json:"text"`
}

// ToolCallData contains data for a tool call event.
type ToolCallData struct {
	ToolCallID string `json:"tool_call_id"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	Kind       string `json:"kind,omitempty"`
	RawInput   any    `json:"raw_input,omitempty"`
}

// ToolCallUpdateData contains data for a tool call update event.
type ToolCallUpdateData struct {
	ToolCallID string  `json:"tool_call_id"`
	Status     *string `json:"status,omitempty"`
	Title      *string `json:"title,omitempty"`
}

// PlanEntry mirrors the ACP protocol's plan entry structure.
type PlanEntry struct {
	Content  string `json:"content"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
}

// PlanData contains data for a plan event.
type PlanData struct {
	Entries []PlanEntry `json:"entries"`
}

// PermissionData records the resolution of a permission request.
type PermissionData struct {
	RequestID      string `json:"request_id"`
	Title          string `json:"title"`
	SelectedOption string `json:"selected_option,omitempty"`
	Outcome        string `json:"outcome"` // "selected", "timeout", "cancelled"
}

// ErrorData contains data for an error event.
type ErrorData struct {
	Message string `json:"message"`
}

// SessionStartData contains data for a session start event.
type SessionStartData struct {
	SessionID  string `json:"session_id"`
	Agent      string `json:"agent"`
	WorkingDir string `json:"working_dir"`
}

// SessionEndData contains data for a session end event.
type SessionEndData struct {
	Reason string `json:"reason"`
}

// PendingAnswer is a user answer captured while the agent was stuck inside
// a broken question tool. It is persisted so the answer survives the turn
// cancellation and can be delivered in the recovery re-prompt.
type PendingAnswer struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	AddedAt  time.Time `json:"added_at"`
}

// Metadata contains session metadata stored separately from the event log.
type Metadata struct {
	SessionID         string          `json:"session_id"`
	Name              string          `json:"name,omitempty"`
	Agent             string          `json:"agent"`
	ACPSessionID      string          `json:"acp_session_id,omitempty"` // agent-assigned ID, for resumption
	WorkingDir        string          `json:"working_dir"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	LastUserMessageAt time.Time       `json:"last_user_message_at,omitempty"`
	EventCount        int             `json:"event_count"`
	Status            Status          `json:"status"`
	PendingAnswers    []PendingAnswer `json:"pending_answers,omitempty"`
}
