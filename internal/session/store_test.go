package session

import (
	"errors"
	"os"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func createTestSession(t *testing.T, store *Store) string {
	t.Helper()
	id := NewSessionID()
	err := store.Create(Metadata{
		SessionID:  id,
		Agent:      "test-agent",
		WorkingDir: "/tmp/work",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return id
}

func TestNewSessionID(t *testing.T) {
	a := NewSessionID()
	b := NewSessionID()
	if a == b {
		t.Error("expected distinct session IDs")
	}
	if len(a) != 26 {
		t.Errorf("ULID length = %d, want 26", len(a))
	}
}

func TestStoreCreateAndGetMetadata(t *testing.T) {
	store := newTestStore(t)
	id := createTestSession(t, store)

	meta, err := store.GetMetadata(id)
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if meta.SessionID != id {
		t.Errorf("SessionID = %q, want %q", meta.SessionID, id)
	}
	if meta.Agent != "test-agent" {
		t.Errorf("Agent = %q, want %q", meta.Agent, "test-agent")
	}
	if meta.Status != StatusActive {
		t.Errorf("Status = %q, want %q", meta.Status, StatusActive)
	}
	if meta.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
	if meta.EventCount != 0 {
		t.Errorf("EventCount = %d, want 0", meta.EventCount)
	}
}

func TestStoreGetMetadataNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetMetadata("nonexistent")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestStoreAppendEventAssignsSeq(t *testing.T) {
	store := newTestStore(t)
	id := createTestSession(t, store)

	for i := 0; i < 3; i++ {
		err := store.AppendEvent(id, Event{
			Type: EventTypeAgentMessage,
			Data: AgentMessageData{Text: "hello"},
		})
		if err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	events, err := store.ReadEvents(id)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	for i, e := range events {
		if e.Seq != int64(i+1) {
			t.Errorf("events[%d].Seq = %d, want %d", i, e.Seq, i+1)
		}
		if e.Timestamp.IsZero() {
			t.Errorf("events[%d].Timestamp not set", i)
		}
	}

	meta, err := store.GetMetadata(id)
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if meta.EventCount != 3 {
		t.Errorf("EventCount = %d, want 3", meta.EventCount)
	}
}

func TestStoreAppendEventTracksLastUserMessage(t *testing.T) {
	store := newTestStore(t)
	id := createTestSession(t, store)

	if err := store.AppendEvent(id, Event{
		Type: EventTypeUserPrompt,
		Data: UserPromptData{Message: "hi"},
	}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	meta, err := store.GetMetadata(id)
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if meta.LastUserMessageAt.IsZero() {
		t.Error("LastUserMessageAt not set after user prompt")
	}
}

func TestStoreReadEventsFrom(t *testing.T) {
	store := newTestStore(t)
	id := createTestSession(t, store)

	for i := 0; i < 5; i++ {
		if err := store.AppendEvent(id, Event{Type: EventTypeAgentMessage}); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	events, err := store.ReadEventsFrom(id, 3)
	if err != nil {
		t.Fatalf("ReadEventsFrom: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].Seq != 4 || events[1].Seq != 5 {
		t.Errorf("seqs = %d, %d; want 4, 5", events[0].Seq, events[1].Seq)
	}
}

func TestStoreUpdateMetadata(t *testing.T) {
	store := newTestStore(t)
	id := createTestSession(t, store)

	err := store.UpdateMetadata(id, func(meta *Metadata) {
		meta.ACPSessionID = "acp-42"
		meta.Name = "renamed"
	})
	if err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}

	meta, err := store.GetMetadata(id)
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if meta.ACPSessionID != "acp-42" {
		t.Errorf("ACPSessionID = %q, want %q", meta.ACPSessionID, "acp-42")
	}
	if meta.Name != "renamed" {
		t.Errorf("Name = %q, want %q", meta.Name, "renamed")
	}
}

func TestStoreMetadataWriteLeavesNoTempFile(t *testing.T) {
	store := newTestStore(t)
	id := createTestSession(t, store)

	// Exercise every path that rewrites metadata.json.
	if err := store.UpdateMetadata(id, func(meta *Metadata) { meta.Name = "renamed" }); err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}
	if err := store.AppendEvent(id, Event{Type: EventTypeAgentMessage}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := store.AddPendingAnswer(id, PendingAnswer{Question: "Q", Answer: "A"}); err != nil {
		t.Fatalf("AddPendingAnswer: %v", err)
	}

	entries, err := os.ReadDir(store.SessionDir(id))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			t.Errorf("temp file %s left in session dir", entry.Name())
		}
	}
	if len(entries) != 2 {
		t.Errorf("session dir has %d entries, want metadata.json and events.jsonl", len(entries))
	}

	meta, err := store.GetMetadata(id)
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if meta.Name != "renamed" || meta.EventCount != 1 || len(meta.PendingAnswers) != 1 {
		t.Errorf("metadata after rewrites = %+v", meta)
	}
}

func TestStorePendingAnswers(t *testing.T) {
	store := newTestStore(t)
	id := createTestSession(t, store)

	if err := store.AddPendingAnswer(id, PendingAnswer{Question: "Deploy?", Answer: "Yes"}); err != nil {
		t.Fatalf("AddPendingAnswer: %v", err)
	}
	if err := store.AddPendingAnswer(id, PendingAnswer{Question: "Which env?", Answer: "staging"}); err != nil {
		t.Fatalf("AddPendingAnswer: %v", err)
	}

	answers, err := store.TakePendingAnswers(id)
	if err != nil {
		t.Fatalf("TakePendingAnswers: %v", err)
	}
	if len(answers) != 2 {
		t.Fatalf("len(answers) = %d, want 2", len(answers))
	}
	if answers[0].Question != "Deploy?" || answers[0].Answer != "Yes" {
		t.Errorf("answers[0] = %+v", answers[0])
	}
	if answers[1].Question != "Which env?" || answers[1].Answer != "staging" {
		t.Errorf("answers[1] = %+v", answers[1])
	}
	if answers[0].AddedAt.IsZero() {
		t.Error("AddedAt not set")
	}

	// Answers are cleared after take
	again, err := store.TakePendingAnswers(id)
	if err != nil {
		t.Fatalf("TakePendingAnswers: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second take returned %d answers, want 0", len(again))
	}
}

func TestStorePendingAnswersSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	id := createTestSession(t, store)
	if err := store.AddPendingAnswer(id, PendingAnswer{Question: "Q", Answer: "A"}); err != nil {
		t.Fatalf("AddPendingAnswer: %v", err)
	}
	store.Close()

	reopened, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore (reopen): %v", err)
	}
	defer reopened.Close()

	answers, err := reopened.TakePendingAnswers(id)
	if err != nil {
		t.Fatalf("TakePendingAnswers: %v", err)
	}
	if len(answers) != 1 || answers[0].Answer != "A" {
		t.Errorf("answers = %+v, want one with Answer=A", answers)
	}
}

func TestStoreList(t *testing.T) {
	store := newTestStore(t)
	id1 := createTestSession(t, store)
	id2 := createTestSession(t, store)

	sessions, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("len(sessions) = %d, want 2", len(sessions))
	}
	ids := map[string]bool{sessions[0].SessionID: true, sessions[1].SessionID: true}
	if !ids[id1] || !ids[id2] {
		t.Errorf("sessions = %v, want %s and %s", ids, id1, id2)
	}
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t)
	id := createTestSession(t, store)

	if err := store.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if store.Exists(id) {
		t.Error("session still exists after delete")
	}
	if err := store.Delete(id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second delete err = %v, want ErrSessionNotFound", err)
	}
}

func TestStoreClosedErrors(t *testing.T) {
	store := newTestStore(t)
	id := createTestSession(t, store)
	store.Close()

	if err := store.AppendEvent(id, Event{Type: EventTypeAgentMessage}); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("AppendEvent err = %v, want ErrStoreClosed", err)
	}
	if _, err := store.GetMetadata(id); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("GetMetadata err = %v, want ErrStoreClosed", err)
	}
	if store.Exists(id) {
		t.Error("Exists should be false on a closed store")
	}
}
