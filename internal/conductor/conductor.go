package conductor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/coder/acp-go-sdk"

	acpclient "github.com/stillfox-lee/multica-sub001/internal/acp"
	"github.com/stillfox-lee/multica-sub001/internal/config"
	"github.com/stillfox-lee/multica-sub001/internal/logging"
	"github.com/stillfox-lee/multica-sub001/internal/session"
)

// ErrSessionNotRunning is returned for operations on a durable session that
// has no live agent connection.
var ErrSessionNotRunning = errors.New("session has no running agent")

// Conductor is the single point through which sessions, the permission
// correlator, and the protocol workarounds interact. It owns the per-session
// agent connections and the durable-to-protocol identity map; everything
// else reads through it.
type Conductor struct {
	store    session.SessionStore
	identity *IdentityMap
	notifier Notifier
	logger   *slog.Logger

	correlator *Correlator
	hangGuard  *HangGuard
	recovery   *Recovery

	mu       sync.RWMutex
	sessions map[string]*AgentSession // keyed by durable session ID
}

// Ensure Conductor satisfies the surface its components call back into.
var _ sessionControl = (*Conductor)(nil)

// New creates a conductor over the given store. notifier receives
// permission requests and session updates for rendering; it may be nil.
func New(store session.SessionStore, notifier Notifier) *Conductor {
	logger := logging.Conductor()

	c := &Conductor{
		store:    store,
		identity: NewIdentityMap(),
		notifier: notifier,
		logger:   logger,
		sessions: make(map[string]*AgentSession),
	}
	c.recovery = NewRecovery(c, logger)
	c.correlator = NewCorrelator(c, c.recovery, c.notifyPermission, logger)
	c.correlator.record = c.recordPermission
	c.hangGuard = NewHangGuard(c, logger)
	return c
}

// Correlator exposes the permission correlator, mainly so callers can
// inspect pending counts and tests can tune the timeout.
func (c *Conductor) Correlator() *Correlator {
	return c.correlator
}

// HangGuard exposes the hang guard for test tuning.
func (c *Conductor) HangGuard() *HangGuard {
	return c.hangGuard
}

// Recovery exposes the answer-recovery workaround for test tuning.
func (c *Conductor) Recovery() *Recovery {
	return c.recovery
}

func (c *Conductor) notifyPermission(req PermissionRequestView) {
	if c.notifier != nil {
		c.notifier.NotifyPermissionRequest(req)
	}
}

// recordPermission appends a settled permission request to the durable
// session's transcript. Recording failures are absorbed into the log.
func (c *Conductor) recordPermission(protocolSessionID string, data session.PermissionData) {
	durableID, ok := c.ResolveSessionID(protocolSessionID)
	if !ok {
		return
	}
	err := c.store.AppendEvent(durableID, session.Event{
		Type: session.EventTypePermission,
		Data: data,
	})
	if err != nil {
		c.logger.Warn("failed to record permission resolution",
			"session_id", durableID, "request_id", data.RequestID, "error", err)
	}
}

// StartSession creates a durable session and starts an agent for it.
// Returns the new durable session ID.
func (c *Conductor) StartSession(ctx context.Context, agent config.Agent, workingDir string) (string, error) {
	durableID := session.NewSessionID()
	err := c.store.Create(session.Metadata{
		SessionID:  durableID,
		Agent:      agent.Name,
		WorkingDir: workingDir,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	if err := c.startAgent(ctx, durableID, agent, workingDir); err != nil {
		return "", err
	}
	return durableID, nil
}

// ResumeSession starts an agent for an existing durable session, resuming
// the protocol session when the agent supports it.
func (c *Conductor) ResumeSession(ctx context.Context, durableID string, agent config.Agent) error {
	meta, err := c.store.GetMetadata(durableID)
	if err != nil {
		return err
	}

	c.mu.RLock()
	_, running := c.sessions[durableID]
	c.mu.RUnlock()
	if running {
		return fmt.Errorf("session %s already has a running agent", durableID)
	}

	return c.startAgent(ctx, durableID, agent, meta.WorkingDir)
}

func (c *Conductor) startAgent(ctx context.Context, durableID string, agent config.Agent, workingDir string) error {
	sess := NewAgentSession(durableID, agent, workingDir,
		c.store, logging.WithSessionContext(c.logger, durableID, agent.Name))

	handlers := acpclient.Handlers{
		OnPermission: func(ctx context.Context, params acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
			return c.HandlePermissionRequest(ctx, params)
		},
		OnSessionUpdate: func(ctx context.Context, params acp.SessionNotification) error {
			return c.HandleSessionUpdate(ctx, params)
		},
	}

	protocolID, err := sess.Start(ctx, handlers)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.sessions[durableID] = sess
	c.mu.Unlock()
	c.identity.Bind(durableID, protocolID)

	return nil
}

// CloseSession shuts down a session's agent and removes its identity
// binding. The durable session remains in the store.
func (c *Conductor) CloseSession(durableID string) error {
	c.mu.Lock()
	sess, ok := c.sessions[durableID]
	if ok {
		delete(c.sessions, durableID)
	}
	c.mu.Unlock()

	if !ok {
		return ErrSessionNotRunning
	}

	c.identity.Unbind(durableID)
	return sess.Close()
}

// Close shuts down all running sessions.
func (c *Conductor) Close() {
	c.mu.Lock()
	sessions := make([]*AgentSession, 0, len(c.sessions))
	for _, sess := range c.sessions {
		sessions = append(sessions, sess)
	}
	c.sessions = make(map[string]*AgentSession)
	c.mu.Unlock()

	for _, sess := range sessions {
		c.identity.Unbind(sess.DurableID())
		if err := sess.Close(); err != nil {
			c.logger.Warn("failed to close session",
				"session_id", sess.DurableID(), "error", err)
		}
	}
}

// lookup returns the running session for a durable ID.
func (c *Conductor) lookup(durableID string) (*AgentSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sess, ok := c.sessions[durableID]
	return sess, ok
}

// ResolveSessionID maps a protocol session ID to its durable session ID.
func (c *Conductor) ResolveSessionID(protocolSessionID string) (string, bool) {
	return c.identity.DurableFor(protocolSessionID)
}

// CancelRequest asks the session's agent to stop the current turn.
func (c *Conductor) CancelRequest(ctx context.Context, durableID string) error {
	sess, ok := c.lookup(durableID)
	if !ok {
		return ErrSessionNotRunning
	}
	return sess.Cancel(ctx)
}

// SendPrompt delivers content to the session's agent and blocks until the
// turn ends. Internal prompts are delivered to the agent but flagged for
// suppression in the user-facing transcript. User prompts pick up any
// question answers still pending from an earlier turn.
func (c *Conductor) SendPrompt(ctx context.Context, durableID string, content []acp.ContentBlock, internal bool) error {
	sess, ok := c.lookup(durableID)
	if !ok {
		return ErrSessionNotRunning
	}
	if !internal {
		content = c.foldPendingAnswers(durableID, content)
	}
	return sess.Prompt(ctx, content, internal)
}

// foldPendingAnswers drains answers left over when the recovery re-prompt
// failed, or when the process restarted in between, and prepends them so the
// agent still learns what the user answered.
func (c *Conductor) foldPendingAnswers(durableID string, content []acp.ContentBlock) []acp.ContentBlock {
	answers, err := c.TakePendingAnswers(durableID)
	if err != nil {
		c.logger.Warn("failed to drain pending answers, sending prompt without them",
			"session_id", durableID, "error", err)
		return content
	}
	if len(answers) == 0 {
		return content
	}
	c.logger.Info("delivering leftover question answers with prompt",
		"session_id", durableID, "answers", len(answers))
	return append([]acp.ContentBlock{acp.TextBlock(pendingAnswerPreamble(answers))}, content...)
}

// pendingAnswerPreamble renders drained answers as a numbered Q/A transcript
// the agent can read ahead of the user's new message.
func pendingAnswerPreamble(answers []session.PendingAnswer) string {
	var b strings.Builder
	b.WriteString("Answers to your earlier questions:\n")
	for i, qa := range answers {
		fmt.Fprintf(&b, "%d. Q: %s\n   A: %s\n", i+1, qa.Question, qa.Answer)
	}
	return b.String()
}

// IsSessionProcessing reports whether the session has a prompt in flight.
func (c *Conductor) IsSessionProcessing(durableID string) bool {
	sess, ok := c.lookup(durableID)
	if !ok {
		return false
	}
	return sess.IsProcessing()
}

// AddPendingAnswer persists a question/answer pair for the agent's next turn.
func (c *Conductor) AddPendingAnswer(durableID, question, answer string) error {
	return c.store.AddPendingAnswer(durableID, session.PendingAnswer{
		Question: question,
		Answer:   answer,
	})
}

// HandlePermissionRequest is called by the protocol layer when an agent
// asks to run a tool. It blocks until the operator decides or the timeout
// default fires.
func (c *Conductor) HandlePermissionRequest(ctx context.Context, params acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	return c.correlator.Request(ctx, params)
}

// HandlePermissionResponse is called by the interface collaborator when the
// operator reports a decision. Unknown request IDs are dropped.
func (c *Conductor) HandlePermissionResponse(decision PermissionDecision) {
	c.correlator.Resolve(decision)
}

// HandleSessionUpdate routes a raw session update: it is persisted to the
// durable session's event log, inspected by the hang guard, and forwarded
// to the interface collaborator.
func (c *Conductor) HandleSessionUpdate(ctx context.Context, params acp.SessionNotification) error {
	durableID, ok := c.ResolveSessionID(string(params.SessionId))
	if ok {
		if sess, running := c.lookup(durableID); running {
			sess.RecordUpdate(params.Update)
		}
		if c.notifier != nil {
			c.notifier.NotifySessionUpdate(durableID, params.Update)
		}
	}

	c.hangGuard.HandleSessionUpdate(params)
	return nil
}

// ListSessions returns metadata for all stored sessions.
func (c *Conductor) ListSessions() ([]session.Metadata, error) {
	return c.store.List()
}

// DeleteSession removes a stored session. A running session is closed first.
func (c *Conductor) DeleteSession(durableID string) error {
	if _, running := c.lookup(durableID); running {
		if err := c.CloseSession(durableID); err != nil {
			c.logger.Warn("failed to close session before delete",
				"session_id", durableID, "error", err)
		}
	}
	return c.store.Delete(durableID)
}

// TakePendingAnswers returns and clears a session's pending answers so the
// caller can fold them into the next user prompt.
func (c *Conductor) TakePendingAnswers(durableID string) ([]session.PendingAnswer, error) {
	return c.store.TakePendingAnswers(durableID)
}
