package conductor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/acp-go-sdk"
)

// Hang guard timing. The handled marker self-expires so the tool can be
// legitimately retried later in the same session without the guard going
// permanently deaf to it.
const (
	DefaultHangGuardRetention   = 60 * time.Second
	DefaultHangGuardSettleDelay = 1 * time.Second
)

// HangGuard watches the session-update stream for the broken question tool
// going "in progress". Over ACP that tool never receives an answer, so the
// turn would hang forever. On first sighting of a tool-call ID the guard
// cancels the turn and re-prompts the agent, telling it to ask its question
// as plain conversational text instead. Duplicate updates for the same
// tool-call ID are ignored until the handled marker expires.
type HangGuard struct {
	control     sessionControl
	retention   time.Duration
	settleDelay time.Duration
	nowFunc     func() time.Time
	logger      *slog.Logger

	mu      sync.Mutex
	handled map[string]time.Time // tool-call ID -> handled at
	starts  map[string]toolCallStart
	wg      sync.WaitGroup
}

// toolCallStart caches title and raw input from a tool-call start event;
// later status-only updates usually omit both.
type toolCallStart struct {
	title    string
	rawInput any
	seenAt   time.Time
}

// NewHangGuard creates a hang guard with default retention and settle delay.
func NewHangGuard(control sessionControl, logger *slog.Logger) *HangGuard {
	return &HangGuard{
		control:     control,
		retention:   DefaultHangGuardRetention,
		settleDelay: DefaultHangGuardSettleDelay,
		nowFunc:     time.Now,
		logger:      logger,
		handled:     make(map[string]time.Time),
		starts:      make(map[string]toolCallStart),
	}
}

// SetRetention overrides the handled-marker retention window. Intended for
// tests.
func (g *HangGuard) SetRetention(d time.Duration) {
	g.retention = d
}

// SetSettleDelay overrides the delay between cancel and re-prompt.
// Intended for tests.
func (g *HangGuard) SetSettleDelay(d time.Duration) {
	g.settleDelay = d
}

// SetNowFunc overrides the clock used for marker expiry. Intended for tests.
func (g *HangGuard) SetNowFunc(now func() time.Time) {
	g.nowFunc = now
}

// HandleSessionUpdate inspects a raw session update and triggers the
// workaround when the broken question tool transitions to "in progress".
// All other updates pass through untouched.
func (g *HangGuard) HandleSessionUpdate(notif acp.SessionNotification) {
	u := notif.Update
	switch {
	case u.ToolCall != nil:
		tc := u.ToolCall
		g.rememberStart(string(tc.ToolCallId), tc.Title, tc.RawInput)
		if tc.Status == acp.ToolCallStatusInProgress && IsQuestionTool(tc.Title) {
			g.trigger(string(notif.SessionId), string(tc.ToolCallId), tc.Title, tc.RawInput)
		}

	case u.ToolCallUpdate != nil:
		tcu := u.ToolCallUpdate
		if tcu.Status == nil || *tcu.Status != acp.ToolCallStatusInProgress {
			return
		}
		title, rawInput := g.lookupStart(string(tcu.ToolCallId))
		if tcu.Title != nil {
			title = *tcu.Title
		}
		if tcu.RawInput != nil {
			rawInput = tcu.RawInput
		}
		if IsQuestionTool(title) {
			g.trigger(string(notif.SessionId), string(tcu.ToolCallId), title, rawInput)
		}
	}
}

// Wait blocks until all in-flight workaround tails finish. Intended for
// tests.
func (g *HangGuard) Wait() {
	g.wg.Wait()
}

func (g *HangGuard) rememberStart(toolCallID, title string, rawInput any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweepLocked()
	g.starts[toolCallID] = toolCallStart{title: title, rawInput: rawInput, seenAt: g.nowFunc()}
}

func (g *HangGuard) lookupStart(toolCallID string) (string, any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	start, ok := g.starts[toolCallID]
	if !ok {
		return "", nil
	}
	return start.title, start.rawInput
}

// trigger performs the check-and-set on the handled marker synchronously,
// then schedules the cancel/settle/re-prompt tail in the background.
func (g *HangGuard) trigger(protocolSessionID, toolCallID, title string, rawInput any) {
	durableID, ok := g.control.ResolveSessionID(protocolSessionID)
	if !ok {
		g.logger.Debug("hang guard: no durable session for protocol session",
			"protocol_session_id", protocolSessionID)
		return
	}

	g.mu.Lock()
	g.sweepLocked()
	if _, seen := g.handled[toolCallID]; seen {
		g.mu.Unlock()
		return
	}
	g.handled[toolCallID] = g.nowFunc()
	g.mu.Unlock()

	questions := ParseQuestions(rawInput)
	g.logger.Warn("question tool went in_progress, breaking the hang",
		"session_id", durableID,
		"tool_call_id", toolCallID,
		"title", title,
		"questions", questionTexts(questions))

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.breakHang(durableID, questions)
	}()
}

// breakHang cancels the stuck turn and re-prompts the agent. Failures are
// absorbed and logged; the event-handling path that triggered this must
// never see them.
func (g *HangGuard) breakHang(durableID string, questions []Question) {
	ctx := context.Background()

	if err := g.control.CancelRequest(ctx, durableID); err != nil {
		g.logger.Warn("hang guard: cancel failed, continuing",
			"session_id", durableID, "error", err)
	}

	time.Sleep(g.settleDelay)

	prompt := rePromptBody(questions)
	if err := g.control.SendPrompt(ctx, durableID, []acp.ContentBlock{acp.TextBlock(prompt)}, true); err != nil {
		g.logger.Warn("hang guard: re-prompt failed",
			"session_id", durableID, "error", err)
		return
	}

	g.logger.Info("hang guard: re-prompt delivered", "session_id", durableID)
}

// sweepLocked drops expired handled markers and stale start records.
// Must be called with g.mu held.
func (g *HangGuard) sweepLocked() {
	cutoff := g.nowFunc().Add(-g.retention)
	for id, at := range g.handled {
		if at.Before(cutoff) {
			delete(g.handled, id)
		}
	}
	for id, start := range g.starts {
		if start.seenAt.Before(cutoff) {
			delete(g.starts, id)
		}
	}
}

// rePromptBody builds the internal prompt telling the agent to ask in
// plain text, quoting the original question(s) verbatim when available.
func rePromptBody(questions []Question) string {
	var b strings.Builder
	b.WriteString("The " + QuestionToolName + " tool is not available in this environment. ")
	b.WriteString("Please ask your question as plain text in the conversation instead, ")
	b.WriteString("listing the options if there are any.")

	if len(questions) == 1 {
		fmt.Fprintf(&b, "\n\nYour original question was: %q", questions[0].Text)
		if len(questions[0].Options) > 0 {
			fmt.Fprintf(&b, " (options: %s)", strings.Join(questions[0].Options, ", "))
		}
	} else if len(questions) > 1 {
		b.WriteString("\n\nYour original questions were:")
		for i, q := range questions {
			fmt.Fprintf(&b, "\n%d. %q", i+1, q.Text)
			if len(q.Options) > 0 {
				fmt.Fprintf(&b, " (options: %s)", strings.Join(q.Options, ", "))
			}
		}
	}

	return b.String()
}

func questionTexts(questions []Question) []string {
	texts := make([]string, 0, len(questions))
	for _, q := range questions {
		texts = append(texts, q.Text)
	}
	return texts
}
