// Package conductor orchestrates agent sessions over ACP. It owns one
// protocol connection per running agent subprocess, correlates asynchronous
// permission requests with decisions supplied out-of-band by the operator,
// and compensates for two protocol defects around the structured question
// tool: a turn that hangs forever waiting for an answer channel that does
// not exist, and an answer whose content never reaches the agent.
package conductor

import (
	"context"
	"strings"
	"time"

	"github.com/coder/acp-go-sdk"

	"github.com/stillfox-lee/multica-sub001/internal/session"
)

// Answer type tags carried in a permission outcome's _meta block.
const (
	AnswerTypeMultiQuestion = "multi-question"
	AnswerTypeMultiSelected = "multi-selected"
	AnswerTypeSelected      = "selected"
	AnswerTypeCustom        = "custom"
)

// QuestionAnswer is one {question, answer} pair from a structured decision.
type QuestionAnswer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// PermissionDecision is the operator's answer to a permission request.
// Beyond the chosen option, a decision may carry a structured answer
// payload in one of four shapes; at most one of the payload fields is
// expected to be set.
type PermissionDecision struct {
	RequestID string
	OptionID  string

	Answers         []QuestionAnswer // multi-question form
	SelectedOptions []string         // multiple selected option labels
	SelectedOption  string           // single selected option label
	CustomInput     string           // free-form text
}

// HasAnswer reports whether the decision carries any usable answer content.
func (d PermissionDecision) HasAnswer() bool {
	return len(d.Answers) > 0 || len(d.SelectedOptions) > 0 ||
		d.SelectedOption != "" || d.CustomInput != ""
}

// answerMeta builds the _meta block summarizing the decision's answer
// payload, or nil when the decision carries none.
func (d PermissionDecision) answerMeta() map[string]any {
	switch {
	case len(d.Answers) > 0:
		pairs := make([]map[string]string, 0, len(d.Answers))
		for _, qa := range d.Answers {
			pairs = append(pairs, map[string]string{
				"question": qa.Question,
				"answer":   qa.Answer,
			})
		}
		return map[string]any{
			"answerType":  AnswerTypeMultiQuestion,
			"userAnswers": pairs,
		}
	case len(d.SelectedOptions) > 0:
		return map[string]any{
			"answerType":      AnswerTypeMultiSelected,
			"selectedOptions": d.SelectedOptions,
		}
	case d.SelectedOption != "":
		return map[string]any{
			"answerType":     AnswerTypeSelected,
			"selectedOption": d.SelectedOption,
		}
	case d.CustomInput != "":
		return map[string]any{
			"answerType":  AnswerTypeCustom,
			"customInput": d.CustomInput,
		}
	}
	return nil
}

// answerText computes the single answer string for the legacy
// single-answer decision form, or "" when no answer field is present.
func (d PermissionDecision) answerText() string {
	switch {
	case len(d.SelectedOptions) > 0:
		return strings.Join(d.SelectedOptions, ", ")
	case d.SelectedOption != "":
		return d.SelectedOption
	case d.CustomInput != "":
		return d.CustomInput
	}
	return ""
}

// PermissionOptionView is a display-ready permission option.
type PermissionOptionView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind,omitempty"`
}

// PermissionRequestView is the display-ready projection of a permission
// request forwarded to the interface collaborator.
type PermissionRequestView struct {
	RequestID  string                 `json:"request_id"`
	SessionID  string                 `json:"session_id"` // durable session ID
	ToolCallID string                 `json:"tool_call_id"`
	Title      string                 `json:"title"`
	Kind       string                 `json:"kind,omitempty"`
	RawInput   any                    `json:"raw_input,omitempty"`
	Options    []PermissionOptionView `json:"options"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Notifier is the interface collaborator that renders requests and session
// activity for the operator. Implementations must not block; the conductor
// calls these from event-handling paths.
type Notifier interface {
	// NotifyPermissionRequest surfaces a pending permission request. The
	// collaborator eventually reports a decision through
	// Conductor.HandlePermissionResponse, or lets the request time out.
	NotifyPermissionRequest(req PermissionRequestView)

	// NotifySessionUpdate surfaces a streaming session update.
	NotifySessionUpdate(durableID string, update acp.SessionUpdate)
}

// sessionControl is the narrow facade surface the workaround components
// call back into. *Conductor implements it; tests substitute fakes.
type sessionControl interface {
	// ResolveSessionID maps a protocol session ID to its durable session ID.
	ResolveSessionID(protocolSessionID string) (string, bool)

	// CancelRequest asks the session's agent to stop the current turn.
	CancelRequest(ctx context.Context, durableID string) error

	// SendPrompt delivers content to the session's agent and blocks until
	// the turn ends. Internal prompts are delivered to the agent but
	// suppressed from the user-facing transcript.
	SendPrompt(ctx context.Context, durableID string, content []acp.ContentBlock, internal bool) error

	// IsSessionProcessing reports whether the session has a prompt in flight.
	IsSessionProcessing(durableID string) bool

	// AddPendingAnswer persists a question/answer pair for delivery to the
	// agent on its next turn.
	AddPendingAnswer(durableID, question, answer string) error

	// TakePendingAnswers returns and clears the session's persisted
	// question/answer pairs.
	TakePendingAnswers(durableID string) ([]session.PendingAnswer, error)
}
