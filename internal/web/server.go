package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/acp-go-sdk"
	"github.com/gorilla/websocket"

	"github.com/stillfox-lee/multica-sub001/internal/conductor"
	"github.com/stillfox-lee/multica-sub001/internal/config"
	"github.com/stillfox-lee/multica-sub001/internal/logging"
	"github.com/stillfox-lee/multica-sub001/internal/session"
)

// Server serves the REST API and the WebSocket channel.
type Server struct {
	cfg       *config.Config
	conductor *conductor.Conductor
	store     session.SessionStore
	hub       *Hub
	limiter   *RateLimiter
	upgrader  websocket.Upgrader
	logger    *slog.Logger

	httpServer *http.Server
}

// NewServer wires the HTTP layer over a conductor and its store. The hub
// passed here must be the same one registered as the conductor's notifier.
func NewServer(cfg *config.Config, cond *conductor.Conductor, store session.SessionStore, hub *Hub) *Server {
	s := &Server{
		cfg:       cfg,
		conductor: cond,
		store:     store,
		hub:       hub,
		limiter:   NewRateLimiter(DefaultRateLimitConfig()),
		logger:    logging.Web(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The server binds to localhost by default; same-host pages only.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	hub.OnMessage = s.handleWSMessage
	return s
}

// Handler builds the routing table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/resume", s.handleResumeSession)
	mux.HandleFunc("GET /api/sessions/{id}/events", s.handleSessionEvents)
	mux.HandleFunc("POST /api/sessions/{id}/prompt", s.handlePrompt)
	mux.HandleFunc("POST /api/sessions/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return s.limiter.Middleware(mux)
}

// ListenAndServe starts the server and blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Web.Host, s.cfg.Web.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web server listening", "addr", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.httpServer.Shutdown(shutdownCtx)
		s.hub.Close()
		s.limiter.Close()
		return err
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.conductor.ListSessions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if sessions == nil {
		sessions = []session.Metadata{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

type createSessionRequest struct {
	Agent      string `json:"agent,omitempty"`
	WorkingDir string `json:"working_dir"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	var agent *config.Agent
	if req.Agent != "" {
		agent = s.cfg.FindAgent(req.Agent)
	} else {
		agent = s.cfg.DefaultAgent()
	}
	if agent == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown agent %q", req.Agent))
		return
	}

	durableID, err := s.conductor.StartSession(r.Context(), *agent, req.WorkingDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"session_id": durableID})
}

// handleResumeSession starts a fresh agent process for a stored session.
// When the agent supports session loading the old protocol session is
// replayed; otherwise a new one is bound to the durable ID.
func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	meta, err := s.store.GetMetadata(id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	agent := s.cfg.FindAgent(meta.Agent)
	if agent == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("agent %q is no longer configured", meta.Agent))
		return
	}

	if err := s.conductor.ResumeSession(r.Context(), id, *agent); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.conductor.DeleteSession(id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var afterSeq int64
	if v := r.URL.Query().Get("after_seq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid after_seq: %w", err))
			return
		}
		afterSeq = n
	}

	events, err := s.store.ReadEventsFrom(id, afterSeq)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, filterTranscript(events))
}

type promptRequest struct {
	Message string `json:"message"`
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, errors.New("message is required"))
		return
	}

	// The prompt turn can run for minutes; accept it and stream the results
	// over the WebSocket channel instead of holding the HTTP request open.
	go func() {
		content := []acp.ContentBlock{acp.TextBlock(req.Message)}
		if err := s.conductor.SendPrompt(context.Background(), id, content, false); err != nil {
			s.logger.Warn("prompt failed", "session_id", id, "error", err)
			s.broadcastError(err)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.conductor.CancelRequest(r.Context(), id); err != nil {
		if errors.Is(err, conductor.ErrSessionNotRunning) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.hub.Register(conn)
}

// handleWSMessage routes an inbound WebSocket message to the conductor.
func (s *Server) handleWSMessage(msg WSMessage) {
	switch msg.Type {
	case WSMsgTypePermissionDecision:
		var data PermissionDecisionData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			s.logger.Debug("malformed permission decision", "error", err)
			return
		}
		s.conductor.HandlePermissionResponse(data.Decision())

	case WSMsgTypePrompt:
		var data PromptData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			s.logger.Debug("malformed prompt message", "error", err)
			return
		}
		go func() {
			content := []acp.ContentBlock{acp.TextBlock(data.Message)}
			if err := s.conductor.SendPrompt(context.Background(), data.SessionID, content, false); err != nil {
				s.logger.Warn("prompt failed", "session_id", data.SessionID, "error", err)
				s.broadcastError(err)
			}
		}()

	case WSMsgTypeCancel:
		var data CancelData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			s.logger.Debug("malformed cancel message", "error", err)
			return
		}
		if err := s.conductor.CancelRequest(context.Background(), data.SessionID); err != nil {
			s.logger.Warn("cancel failed", "session_id", data.SessionID, "error", err)
		}

	default:
		s.logger.Debug("unknown websocket message type", "type", msg.Type)
	}
}

func (s *Server) broadcastError(err error) {
	msg, encErr := newWSMessage(WSMsgTypeError, ErrorData{Message: err.Error()})
	if encErr != nil {
		return
	}
	s.hub.Broadcast(msg)
}

// filterTranscript drops internal prompts from the user-facing transcript.
func filterTranscript(events []session.Event) []session.Event {
	out := make([]session.Event, 0, len(events))
	for _, e := range events {
		if e.Type == session.EventTypeUserPrompt {
			if internalPrompt(e.Data) {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

// internalPrompt checks the internal flag on a user prompt event. Events
// read back from disk carry map data rather than typed structs.
func internalPrompt(data any) bool {
	switch d := data.(type) {
	case session.UserPromptData:
		return d.Internal
	case map[string]any:
		internal, _ := d["internal"].(bool)
		return internal
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
