// Package web exposes the conductor to browsers: a WebSocket channel for
// streaming session activity and permission requests, plus a small REST API
// for session management.
package web

import (
	"encoding/json"

	"github.com/stillfox-lee/multica-sub001/internal/conductor"
)

// WSMessage is the envelope for every WebSocket message in both directions.
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message types (frontend -> backend)
const (
	WSMsgTypePrompt             = "prompt"
	WSMsgTypeCancel             = "cancel"
	WSMsgTypePermissionDecision = "permission_decision"
)

// Message types (backend -> frontend)
const (
	WSMsgTypeConnected         = "connected"
	WSMsgTypePermissionRequest = "permission_request"
	WSMsgTypeAgentMessage      = "agent_message"
	WSMsgTypeAgentThought      = "agent_thought"
	WSMsgTypeToolCall          = "tool_call"
	WSMsgTypeToolCallUpdate    = "tool_call_update"
	WSMsgTypePlan              = "plan"
	WSMsgTypeError             = "error"
)

// PromptData asks the conductor to send a user prompt to a session.
type PromptData struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// CancelData asks the conductor to cancel a session's current turn.
type CancelData struct {
	SessionID string `json:"session_id"`
}

// PermissionDecisionData reports the operator's answer to a permission
// request. The structured answer fields mirror the decision shapes the
// correlator understands.
type PermissionDecisionData struct {
	RequestID       string                     `json:"request_id"`
	OptionID        string                     `json:"option_id"`
	Answers         []conductor.QuestionAnswer `json:"answers,omitempty"`
	SelectedOptions []string                   `json:"selected_options,omitempty"`
	SelectedOption  string                     `json:"selected_option,omitempty"`
	CustomInput     string                     `json:"custom_input,omitempty"`
}

// Decision converts the wire payload into a correlator decision.
func (d PermissionDecisionData) Decision() conductor.PermissionDecision {
	return conductor.PermissionDecision{
		RequestID:       d.RequestID,
		OptionID:        d.OptionID,
		Answers:         d.Answers,
		SelectedOptions: d.SelectedOptions,
		SelectedOption:  d.SelectedOption,
		CustomInput:     d.CustomInput,
	}
}

// AgentTextData carries a streamed agent message or thought chunk.
type AgentTextData struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// ToolCallData carries a tool-call start event.
type ToolCallData struct {
	SessionID  string `json:"session_id"`
	ToolCallID string `json:"tool_call_id"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	Kind       string `json:"kind,omitempty"`
}

// ToolCallUpdateData carries a tool-call status change.
type ToolCallUpdateData struct {
	SessionID  string  `json:"session_id"`
	ToolCallID string  `json:"tool_call_id"`
	Status     *string `json:"status,omitempty"`
	Title      *string `json:"title,omitempty"`
}

// ErrorData carries an error surfaced to the frontend.
type ErrorData struct {
	Message string `json:"message"`
}

// newWSMessage marshals data into a message envelope.
func newWSMessage(msgType string, data any) (WSMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return WSMessage{}, err
	}
	return WSMessage{Type: msgType, Data: raw}, nil
}
