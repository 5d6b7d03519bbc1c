package conductor

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/coder/acp-go-sdk"

	"github.com/stillfox-lee/multica-sub001/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentPrompt struct {
	durableID string
	text      string
	internal  bool
}

type answerPair struct {
	durableID string
	question  string
	answer    string
}

// fakeControl records every facade call the workaround components make.
type fakeControl struct {
	mu         sync.Mutex
	durableFor map[string]string // protocol ID -> durable ID
	cancelled  []string
	prompts    []sentPrompt
	answers    []answerPair
	takes      []string

	// processingFn drives IsSessionProcessing; nil means "not processing".
	processingFn func(durableID string) bool
}

func newFakeControl() *fakeControl {
	return &fakeControl{
		durableFor: map[string]string{"proto-1": "durable-1"},
	}
}

func (f *fakeControl) ResolveSessionID(protocolSessionID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.durableFor[protocolSessionID]
	return id, ok
}

func (f *fakeControl) CancelRequest(_ context.Context, durableID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, durableID)
	return nil
}

func (f *fakeControl) SendPrompt(_ context.Context, durableID string, content []acp.ContentBlock, internal bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, sentPrompt{
		durableID: durableID,
		text:      contentText(content),
		internal:  internal,
	})
	return nil
}

func (f *fakeControl) IsSessionProcessing(durableID string) bool {
	f.mu.Lock()
	fn := f.processingFn
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	return fn(durableID)
}

func (f *fakeControl) AddPendingAnswer(durableID, question, answer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, answerPair{durableID, question, answer})
	return nil
}

// TakePendingAnswers records the clear without touching the answers log, so
// tests can still assert what was added.
func (f *fakeControl) TakePendingAnswers(durableID string) ([]session.PendingAnswer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.takes = append(f.takes, durableID)
	return nil, nil
}

func (f *fakeControl) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancelled)
}

func (f *fakeControl) sentPrompts() []sentPrompt {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentPrompt, len(f.prompts))
	copy(out, f.prompts)
	return out
}

func (f *fakeControl) pendingAnswers() []answerPair {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]answerPair, len(f.answers))
	copy(out, f.answers)
	return out
}

func (f *fakeControl) takeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.takes)
}
