package conductor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/acp-go-sdk"

	acpclient "github.com/stillfox-lee/multica-sub001/internal/acp"
	"github.com/stillfox-lee/multica-sub001/internal/config"
	"github.com/stillfox-lee/multica-sub001/internal/logging"
	"github.com/stillfox-lee/multica-sub001/internal/session"
)

// ErrSessionBusy is returned when a prompt is submitted while the agent is
// still processing the previous one.
var ErrSessionBusy = errors.New("session is processing a prompt")

// AgentSession pairs a durable session with a live agent connection. It
// serializes prompts (one turn in flight at a time), persists the
// conversation to the store, and tracks the processing state the recovery
// workaround polls.
type AgentSession struct {
	durableID  string
	agent      config.Agent
	workingDir string
	store      session.SessionStore
	logger     *slog.Logger

	conn *acpclient.Connection

	mu         sync.Mutex
	processing bool
	closed     bool
}

// NewAgentSession creates a session wrapper. Start must be called before
// any prompt.
func NewAgentSession(durableID string, agent config.Agent, workingDir string, store session.SessionStore, logger *slog.Logger) *AgentSession {
	return &AgentSession{
		durableID:  durableID,
		agent:      agent,
		workingDir: workingDir,
		store:      store,
		logger:     logger,
	}
}

// DurableID returns the durable session ID.
func (s *AgentSession) DurableID() string {
	return s.durableID
}

// Start spawns the agent subprocess, performs the protocol handshake, and
// creates or resumes the protocol session. Returns the protocol session ID
// assigned by the agent.
func (s *AgentSession) Start(ctx context.Context, handlers acpclient.Handlers) (string, error) {
	// Protocol traffic logs under the acp component so it can be silenced
	// independently of session lifecycle logging.
	connLogger := logging.WithSessionContext(logging.ACP(), s.durableID, s.agent.Name)
	conn, err := acpclient.NewConnection(ctx, s.agent.Command, s.workingDir, handlers, connLogger)
	if err != nil {
		return "", fmt.Errorf("failed to start agent connection: %w", err)
	}

	if err := conn.Initialize(ctx); err != nil {
		conn.Close()
		return "", err
	}

	meta, err := s.store.GetMetadata(s.durableID)
	if err != nil {
		conn.Close()
		return "", err
	}

	var protocolID acp.SessionId
	if meta.ACPSessionID != "" && conn.SupportsLoadSession() {
		if err := conn.LoadSession(ctx, acp.SessionId(meta.ACPSessionID), s.workingDir); err != nil {
			s.logger.Warn("failed to resume protocol session, creating a new one",
				"session_id", s.durableID,
				"acp_session_id", meta.ACPSessionID,
				"error", err)
		} else {
			protocolID = acp.SessionId(meta.ACPSessionID)
		}
	}
	if protocolID == "" {
		protocolID, err = conn.NewSession(ctx, s.workingDir)
		if err != nil {
			conn.Close()
			return "", err
		}
	}

	if err := s.store.UpdateMetadata(s.durableID, func(meta *session.Metadata) {
		meta.ACPSessionID = string(protocolID)
		meta.Status = session.StatusActive
	}); err != nil {
		s.logger.Warn("failed to record protocol session ID",
			"session_id", s.durableID, "error", err)
	}

	s.appendEvent(session.Event{
		Type: session.EventTypeSessionStart,
		Data: session.SessionStartData{
			SessionID:  s.durableID,
			Agent:      s.agent.Name,
			WorkingDir: s.workingDir,
		},
	})

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.logger.Info("agent session started",
		"session_id", s.durableID,
		"agent", s.agent.Name,
		"protocol_session_id", protocolID)
	return string(protocolID), nil
}

// Prompt delivers content to the agent and blocks until the turn ends.
// Only one prompt may be in flight; a second concurrent call returns
// ErrSessionBusy. Internal prompts reach the agent but are flagged so the
// user-facing transcript suppresses them.
func (s *AgentSession) Prompt(ctx context.Context, content []acp.ContentBlock, internal bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("session is closed")
	}
	if s.conn == nil {
		s.mu.Unlock()
		return errors.New("session not started")
	}
	if s.processing {
		s.mu.Unlock()
		return ErrSessionBusy
	}
	s.processing = true
	conn := s.conn
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.processing = false
		s.mu.Unlock()
	}()

	s.appendEvent(session.Event{
		Type: session.EventTypeUserPrompt,
		Data: session.UserPromptData{
			Message:  contentText(content),
			Internal: internal,
		},
	})

	resp, err := conn.PromptWithContent(ctx, content)
	if err != nil {
		s.appendEvent(session.Event{
			Type: session.EventTypeError,
			Data: session.ErrorData{Message: err.Error()},
		})
		return err
	}

	s.logger.Debug("prompt turn completed",
		"session_id", s.durableID,
		"stop_reason", resp.StopReason,
		"internal", internal)
	return nil
}

// IsProcessing reports whether a prompt turn is in flight.
func (s *AgentSession) IsProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// Cancel asks the agent to stop the current turn. The turn's Prompt call
// returns with a "cancelled" stop reason once the agent complies.
func (s *AgentSession) Cancel(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Cancel(ctx)
}

// RecordUpdate persists a session update to the event log.
func (s *AgentSession) RecordUpdate(update acp.SessionUpdate) {
	switch {
	case update.AgentMessageChunk != nil:
		if text := update.AgentMessageChunk.Content.Text; text != nil {
			s.appendEvent(session.Event{
				Type: session.EventTypeAgentMessage,
				Data: session.AgentMessageData{Text: text.Text},
			})
		}

	case update.AgentThoughtChunk != nil:
		if text := update.AgentThoughtChunk.Content.Text; text != nil {
			s.appendEvent(session.Event{
				Type: session.EventTypeAgentThought,
				Data: session.AgentThoughtData{Text: text.Text},
			})
		}

	case update.ToolCall != nil:
		tc := update.ToolCall
		s.appendEvent(session.Event{Type: session.EventTypeToolCall, Data: session.ToolCallData{
			ToolCallID: string(tc.ToolCallId),
			Title:      tc.Title,
			Status:     string(tc.Status),
			Kind:       string(tc.Kind),
			RawInput:   tc.RawInput,
		}})

	case update.ToolCallUpdate != nil:
		tcu := update.ToolCallUpdate
		data := session.ToolCallUpdateData{
			ToolCallID: string(tcu.ToolCallId),
			Title:      tcu.Title,
		}
		if tcu.Status != nil {
			status := string(*tcu.Status)
			data.Status = &status
		}
		s.appendEvent(session.Event{Type: session.EventTypeToolCallUpdate, Data: data})

	case update.Plan != nil:
		data := session.PlanData{}
		for _, entry := range update.Plan.Entries {
			data.Entries = append(data.Entries, session.PlanEntry{
				Content:  entry.Content,
				Priority: string(entry.Priority),
				Status:   string(entry.Status),
			})
		}
		s.appendEvent(session.Event{Type: session.EventTypePlan, Data: data})
	}
}

// Close shuts down the agent process and marks the session completed.
func (s *AgentSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	s.appendEvent(session.Event{
		Type: session.EventTypeSessionEnd,
		Data: session.SessionEndData{Reason: "closed"},
	})
	if err := s.store.UpdateMetadata(s.durableID, func(meta *session.Metadata) {
		meta.Status = session.StatusCompleted
	}); err != nil {
		s.logger.Warn("failed to mark session completed",
			"session_id", s.durableID, "error", err)
	}

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// appendEvent persists an event, absorbing store errors into the log.
func (s *AgentSession) appendEvent(event session.Event) {
	if err := s.store.AppendEvent(s.durableID, event); err != nil {
		s.logger.Warn("failed to persist session event",
			"session_id", s.durableID,
			"event_type", event.Type,
			"error", err)
	}
}

// contentText concatenates the text portions of the content blocks.
func contentText(content []acp.ContentBlock) string {
	var out string
	for _, block := range content {
		if block.Text != nil {
			out += block.Text.Text
		}
	}
	return out
}
