package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/stillfox-lee/multica-sub001/internal/fileutil"
	"github.com/stillfox-lee/multica-sub001/internal/logging"
)

const (
	eventsFileName   = "events.jsonl"
	metadataFileName = "metadata.json"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrStoreClosed     = errors.New("store is closed")
)

// SessionStore defines the interface for session persistence operations.
type SessionStore interface {
	// Create creates a new session with the given metadata.
	Create(meta Metadata) error

	// AppendEvent appends an event to the session's event log. The event's
	// Seq field is assigned from the current event count.
	AppendEvent(sessionID string, event Event) error

	// GetMetadata retrieves the metadata for a session.
	GetMetadata(sessionID string) (Metadata, error)

	// UpdateMetadata updates the metadata for a session using the provided
	// update function.
	UpdateMetadata(sessionID string, updateFn func(*Metadata)) error

	// ReadEvents reads all events from a session's event log.
	ReadEvents(sessionID string) ([]Event, error)

	// ReadEventsFrom reads events with seq > afterSeq. An afterSeq of 0
	// returns all events.
	ReadEventsFrom(sessionID string, afterSeq int64) ([]Event, error)

	// List returns metadata for all sessions.
	List() ([]Metadata, error)

	// Delete removes a session and all its data.
	Delete(sessionID string) error

	// Exists checks if a session exists.
	Exists(sessionID string) bool

	// AddPendingAnswer persists a question/answer pair captured while the
	// agent was stuck in a broken question tool.
	AddPendingAnswer(sessionID string, answer PendingAnswer) error

	// TakePendingAnswers returns and clears the session's pending answers.
	TakePendingAnswers(sessionID string) ([]PendingAnswer, error)

	// Close closes the store and releases any resources.
	Close() error
}

// Verify Store implements SessionStore at compile time.
var _ SessionStore = (*Store)(nil)

// Store provides session persistence over a directory tree.
type Store struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewStore creates a new session store rooted at baseDir.
func NewStore(baseDir string) (*Store, error) {
	log := logging.Session()
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	log.Debug("session store initialized", "base_dir", baseDir)
	return &Store{baseDir: baseDir}, nil
}

// SessionDir returns the directory path for a session.
func (s *Store) SessionDir(sessionID string) string {
	return filepath.Join(s.baseDir, sessionID)
}

func (s *Store) eventsPath(sessionID string) string {
	return filepath.Join(s.SessionDir(sessionID), eventsFileName)
}

func (s *Store) metadataPath(sessionID string) string {
	return filepath.Join(s.SessionDir(sessionID), metadataFileName)
}

// Create creates a new session with the given metadata.
func (s *Store) Create(meta Metadata) error {
	log := logging.Session()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	sessionDir := s.SessionDir(meta.SessionID)
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	eventsFile, err := os.Create(s.eventsPath(meta.SessionID))
	if err != nil {
		return fmt.Errorf("failed to create events file: %w", err)
	}
	eventsFile.Close()

	meta.CreatedAt = time.Now()
	meta.UpdatedAt = meta.CreatedAt
	meta.EventCount = 0
	meta.Status = StatusActive

	if err := s.writeMetadata(meta); err != nil {
		return err
	}

	log.Debug("session created",
		"session_id", meta.SessionID,
		"agent", meta.Agent,
		"working_dir", meta.WorkingDir)
	return nil
}

// AppendEvent appends an event to the session's event log.
func (s *Store) AppendEvent(sessionID string, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	meta, err := s.readMetadata(sessionID)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(s.eventsPath(sessionID), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to open events file: %w", err)
	}
	defer f.Close()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Seq = int64(meta.EventCount + 1)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	logging.Session().Debug("event persisted",
		"session_id", sessionID,
		"seq", event.Seq,
		"event_type", event.Type)

	meta.EventCount++
	meta.UpdatedAt = time.Now()
	if event.Type == EventTypeUserPrompt {
		meta.LastUserMessageAt = event.Timestamp
	}
	return s.writeMetadata(meta)
}

// GetMetadata retrieves the metadata for a session.
func (s *Store) GetMetadata(sessionID string) (Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Metadata{}, ErrStoreClosed
	}
	return s.readMetadata(sessionID)
}

// readMetadata reads metadata from disk (must be called with lock held).
func (s *Store) readMetadata(sessionID string) (Metadata, error) {
	var meta Metadata
	if err := fileutil.ReadJSON(s.metadataPath(sessionID), &meta); err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, ErrSessionNotFound
		}
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}
	return meta, nil
}

// writeMetadata writes metadata to disk (must be called with lock held).
// The write goes through a temp file and rename so a crash mid-write never
// leaves a truncated metadata.json behind.
func (s *Store) writeMetadata(meta Metadata) error {
	if err := fileutil.WriteJSONAtomic(s.metadataPath(meta.SessionID), meta, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// UpdateMetadata updates the metadata for a session.
func (s *Store) UpdateMetadata(sessionID string, updateFn func(*Metadata)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	meta, err := s.readMetadata(sessionID)
	if err != nil {
		return err
	}

	updateFn(&meta)
	meta.UpdatedAt = time.Now()
	return s.writeMetadata(meta)
}

// AddPendingAnswer persists a question/answer pair on the session.
func (s *Store) AddPendingAnswer(sessionID string, answer PendingAnswer) error {
	if answer.AddedAt.IsZero() {
		answer.AddedAt = time.Now()
	}
	return s.UpdateMetadata(sessionID, func(meta *Metadata) {
		meta.PendingAnswers = append(meta.PendingAnswers, answer)
	})
}

// TakePendingAnswers returns and clears the session's pending answers.
// The answers are returned in the order they were added.
func (s *Store) TakePendingAnswers(sessionID string) ([]PendingAnswer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	meta, err := s.readMetadata(sessionID)
	if err != nil {
		return nil, err
	}

	answers := meta.PendingAnswers
	if len(answers) == 0 {
		return nil, nil
	}

	meta.PendingAnswers = nil
	meta.UpdatedAt = time.Now()
	if err := s.writeMetadata(meta); err != nil {
		return nil, err
	}
	return answers, nil
}

// ReadEvents reads all events from a session's event log.
func (s *Store) ReadEvents(sessionID string) ([]Event, error) {
	return s.ReadEventsFrom(sessionID, 0)
}

// ReadEventsFrom reads events with seq > afterSeq from a session's event log.
func (s *Store) ReadEventsFrom(sessionID string, afterSeq int64) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	f, err := os.Open(s.eventsPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to open events file: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	// Agent messages with large code blocks can exceed the default 64KB.
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		if event.Seq > afterSeq {
			events = append(events, event)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	return events, nil
}

// List returns metadata for all sessions.
func (s *Store) List() ([]Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var sessions []Metadata
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.readMetadata(entry.Name())
		if err != nil {
			// Skip sessions with invalid metadata
			continue
		}
		sessions = append(sessions, meta)
	}

	return sessions, nil
}

// Delete removes a session and all its data from local storage.
// The agent-side ACP session, if any, is not affected; the protocol has no
// deletion mechanism for server-side sessions.
func (s *Store) Delete(sessionID string) error {
	log := logging.Session()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	sessionDir := s.SessionDir(sessionID)
	if _, err := os.Stat(sessionDir); os.IsNotExist(err) {
		return ErrSessionNotFound
	}

	if err := os.RemoveAll(sessionDir); err != nil {
		return err
	}

	log.Debug("session deleted", "session_id", sessionID)
	return nil
}

// Exists checks if a session exists.
func (s *Store) Exists(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	_, err := os.Stat(s.metadataPath(sessionID))
	return err == nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
