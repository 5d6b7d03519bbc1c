package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stillfox-lee/multica-sub001/internal/conductor"
	"github.com/stillfox-lee/multica-sub001/internal/config"
	"github.com/stillfox-lee/multica-sub001/internal/logging"
	"github.com/stillfox-lee/multica-sub001/internal/session"
)

func newTestServer(t *testing.T) (*Server, *session.Store) {
	t.Helper()
	store, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	hub := NewHub(logging.Web())
	cond := conductor.New(store, hub)
	cfg := &config.Config{
		Agents: []config.Agent{{Name: "test", Command: "true"}},
		Web:    config.WebConfig{Host: "127.0.0.1", Port: 0},
	}
	srv := NewServer(cfg, cond, store, hub)
	t.Cleanup(func() { srv.limiter.Close() })
	return srv, store
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestHandleListSessionsEmpty(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestHandleListSessions(t *testing.T) {
	srv, store := newTestServer(t)

	id := session.NewSessionID()
	if err := store.Create(session.Metadata{SessionID: id, Agent: "test"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var sessions []session.Metadata
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != id {
		t.Errorf("sessions = %+v", sessions)
	}
}

func TestHandleSessionEventsFiltersInternalPrompts(t *testing.T) {
	srv, store := newTestServer(t)

	id := session.NewSessionID()
	if err := store.Create(session.Metadata{SessionID: id, Agent: "test"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.AppendEvent(id, session.Event{
		Type: session.EventTypeUserPrompt,
		Data: session.UserPromptData{Message: "visible"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendEvent(id, session.Event{
		Type: session.EventTypeUserPrompt,
		Data: session.UserPromptData{Message: "hidden recovery prompt", Internal: true},
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendEvent(id, session.Event{
		Type: session.EventTypeAgentMessage,
		Data: session.AgentMessageData{Text: "reply"},
	}); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/events", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var events []session.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2 (internal prompt filtered)", len(events))
	}
	if events[0].Type != session.EventTypeUserPrompt || events[1].Type != session.EventTypeAgentMessage {
		t.Errorf("event types = %s, %s", events[0].Type, events[1].Type)
	}
}

func TestHandleSessionEventsAfterSeq(t *testing.T) {
	srv, store := newTestServer(t)

	id := session.NewSessionID()
	if err := store.Create(session.Metadata{SessionID: id, Agent: "test"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := store.AppendEvent(id, session.Event{Type: session.EventTypeAgentMessage}); err != nil {
			t.Fatal(err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/events?after_seq=2", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var events []session.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(events) != 1 || events[0].Seq != 3 {
		t.Errorf("events = %+v, want only seq 3", events)
	}
}

func TestHandleSessionEventsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/nonexistent/events", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleDeleteSession(t *testing.T) {
	srv, store := newTestServer(t)

	id := session.NewSessionID()
	if err := store.Create(session.Metadata{SessionID: id, Agent: "test"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/"+id, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if store.Exists(id) {
		t.Error("session still exists after delete")
	}
}

func TestHandleDeleteSessionNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/nonexistent", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleCancelNotRunning(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/nope/cancel", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandlePromptRequiresMessage(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/x/prompt", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleCreateSessionUnknownAgent(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(`{"agent":"missing"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPermissionDecisionDataConversion(t *testing.T) {
	data := PermissionDecisionData{
		RequestID:      "req-1",
		OptionID:       "allow",
		SelectedOption: "Yes",
	}
	d := data.Decision()
	if d.RequestID != "req-1" || d.OptionID != "allow" || d.SelectedOption != "Yes" {
		t.Errorf("decision = %+v", d)
	}
	if !d.HasAnswer() {
		t.Error("decision with selected option should report an answer")
	}
}

func TestHandleResumeSessionNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/nope/resume", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleResumeSessionUnknownAgent(t *testing.T) {
	srv, store := newTestServer(t)

	id := session.NewSessionID()
	if err := store.Create(session.Metadata{SessionID: id, Agent: "retired"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/resume", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
