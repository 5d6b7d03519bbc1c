package conductor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/acp-go-sdk"
	"github.com/google/uuid"

	acpclient "github.com/stillfox-lee/multica-sub001/internal/acp"
	"github.com/stillfox-lee/multica-sub001/internal/session"
)

// DefaultPermissionTimeout is how long a permission request waits for an
// operator decision before resolving to the safest option.
const DefaultPermissionTimeout = 5 * time.Minute

// Correlator matches asynchronous permission decisions to the blocked
// protocol call that raised the request. One resolver is registered per
// outstanding request ID; whichever of decision-arrival or timeout fires
// first settles it, exactly once.
type Correlator struct {
	control  sessionControl
	recovery *Recovery
	notify   func(PermissionRequestView)
	record   func(protocolSessionID string, data session.PermissionData)
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingPermission
}

type pendingPermission struct {
	protocolSessionID string
	title             string
	rawInput          any
	decided           chan PermissionDecision // buffered, capacity 1
}

// NewCorrelator creates a permission correlator. notify forwards the
// display-ready request to the interface collaborator; recovery may be nil
// to disable the answer-recovery side effect.
func NewCorrelator(control sessionControl, recovery *Recovery, notify func(PermissionRequestView), logger *slog.Logger) *Correlator {
	return &Correlator{
		control:  control,
		recovery: recovery,
		notify:   notify,
		timeout:  DefaultPermissionTimeout,
		logger:   logger,
		pending:  make(map[string]*pendingPermission),
	}
}

// SetTimeout overrides the decision timeout. Intended for tests.
func (c *Correlator) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Request registers a permission request, forwards it to the interface
// collaborator, and blocks until an operator decision arrives, the timeout
// fires, or ctx is cancelled. Exactly one outcome is produced per request.
func (c *Correlator) Request(ctx context.Context, params acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	// The request ID is generated here, never derived from agent data.
	requestID := uuid.NewString()

	title := ""
	if params.ToolCall.Title != nil {
		title = *params.ToolCall.Title
	}

	entry := &pendingPermission{
		protocolSessionID: string(params.SessionId),
		title:             title,
		rawInput:          params.ToolCall.RawInput,
		decided:           make(chan PermissionDecision, 1),
	}

	c.mu.Lock()
	c.pending[requestID] = entry
	c.mu.Unlock()

	durableID, _ := c.control.ResolveSessionID(string(params.SessionId))

	view := PermissionRequestView{
		RequestID:  requestID,
		SessionID:  durableID,
		ToolCallID: string(params.ToolCall.ToolCallId),
		Title:      title,
		RawInput:   params.ToolCall.RawInput,
		CreatedAt:  time.Now(),
	}
	if params.ToolCall.Kind != nil {
		view.Kind = string(*params.ToolCall.Kind)
	}
	for _, opt := range params.Options {
		view.Options = append(view.Options, PermissionOptionView{
			ID:   string(opt.OptionId),
			Name: opt.Name,
			Kind: string(opt.Kind),
		})
	}

	c.logger.Info("permission requested",
		"request_id", requestID,
		"session_id", durableID,
		"tool_call_id", view.ToolCallID,
		"title", title,
		"options", len(params.Options))

	if c.notify != nil {
		c.notify(view)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case decision := <-entry.decided:
		return c.buildOutcome(entry, decision), nil

	case <-timer.C:
		c.remove(requestID)
		c.logger.Warn("permission request timed out, selecting default",
			"request_id", requestID,
			"session_id", durableID,
			"timeout", c.timeout)
		resp := acpclient.DenyPermission(params.Options)
		selected := ""
		if resp.Outcome.Selected != nil {
			selected = string(resp.Outcome.Selected.OptionId)
		}
		c.recordResolution(entry, session.PermissionData{
			RequestID:      requestID,
			Title:          title,
			SelectedOption: selected,
			Outcome:        "timeout",
		})
		return resp, nil

	case <-ctx.Done():
		c.remove(requestID)
		c.logger.Debug("permission request cancelled",
			"request_id", requestID,
			"session_id", durableID)
		c.recordResolution(entry, session.PermissionData{
			RequestID: requestID,
			Title:     title,
			Outcome:   "cancelled",
		})
		return acpclient.CancelledPermissionResponse(), nil
	}
}

// Resolve applies an operator decision. A decision for an unknown or
// already-resolved request ID is logged and dropped.
func (c *Correlator) Resolve(decision PermissionDecision) {
	c.mu.Lock()
	entry, ok := c.pending[decision.RequestID]
	if ok {
		delete(c.pending, decision.RequestID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("permission decision for unknown or resolved request, dropping",
			"request_id", decision.RequestID)
		return
	}

	entry.decided <- decision
}

// PendingCount returns the number of outstanding permission requests.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// recordResolution reports a settled request to the transcript recorder,
// when one is attached.
func (c *Correlator) recordResolution(entry *pendingPermission, data session.PermissionData) {
	if c.record != nil {
		c.record(entry.protocolSessionID, data)
	}
}

func (c *Correlator) remove(requestID string) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
}

// buildOutcome converts a decision into the protocol response, attaching
// the _meta answer summary and, for question-class tools with answer
// content, firing the answer-recovery workaround. The outcome is returned
// regardless of what the side effect does.
func (c *Correlator) buildOutcome(entry *pendingPermission, decision PermissionDecision) acp.RequestPermissionResponse {
	resp := acpclient.SelectedPermissionResponse(acp.PermissionOptionId(decision.OptionID))
	if meta := decision.answerMeta(); meta != nil {
		resp.Meta = meta
	}

	c.recordResolution(entry, session.PermissionData{
		RequestID:      decision.RequestID,
		Title:          entry.title,
		SelectedOption: decision.OptionID,
		Outcome:        "selected",
	})

	if c.recovery != nil && decision.HasAnswer() && IsQuestionTool(entry.title) {
		c.recovery.Handle(entry.protocolSessionID, entry.title, entry.rawInput, decision)
	}

	return resp
}
