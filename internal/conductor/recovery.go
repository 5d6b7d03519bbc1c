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

// Answer-recovery timing. Cancellation latency is agent-dependent, so the
// recovery polls the processing flag instead of sleeping a fixed amount,
// with a cap so a stuck agent cannot stall the workaround forever.
const (
	DefaultRecoveryPollInterval = 100 * time.Millisecond
	DefaultRecoveryMaxPollWait  = 2 * time.Second
	DefaultRecoverySettleDelay  = 200 * time.Millisecond
)

// Recovery resubmits a question-tool answer as a fresh turn. The question
// tool only reports "answered" to the agent, never the answer content, so
// without this the agent asks, the user answers, and the agent learns
// nothing. The recovery persists the {question, answer} pairs, cancels the
// in-flight turn, waits for the connection to unwind, and re-prompts the
// agent with the answer text as an internal-only message.
type Recovery struct {
	control      sessionControl
	pollInterval time.Duration
	maxPollWait  time.Duration
	settleDelay  time.Duration
	logger       *slog.Logger
	wg           sync.WaitGroup
}

// NewRecovery creates an answer-recovery workaround with default timing.
func NewRecovery(control sessionControl, logger *slog.Logger) *Recovery {
	return &Recovery{
		control:      control,
		pollInterval: DefaultRecoveryPollInterval,
		maxPollWait:  DefaultRecoveryMaxPollWait,
		settleDelay:  DefaultRecoverySettleDelay,
		logger:       logger,
	}
}

// SetTiming overrides the poll interval, poll cap, and settle delay.
// Intended for tests.
func (r *Recovery) SetTiming(pollInterval, maxPollWait, settleDelay time.Duration) {
	r.pollInterval = pollInterval
	r.maxPollWait = maxPollWait
	r.settleDelay = settleDelay
}

// Handle runs the workaround for a resolved question-tool decision.
// Persistence happens synchronously; the cancel/settle/re-prompt tail runs
// in the background and never surfaces errors to the caller.
func (r *Recovery) Handle(protocolSessionID, toolTitle string, rawInput any, decision PermissionDecision) {
	durableID, ok := r.control.ResolveSessionID(protocolSessionID)
	if !ok {
		r.logger.Debug("answer recovery skipped, no durable session for protocol session",
			"protocol_session_id", protocolSessionID)
		return
	}

	var body string
	if len(decision.Answers) > 0 {
		for _, qa := range decision.Answers {
			if err := r.control.AddPendingAnswer(durableID, qa.Question, qa.Answer); err != nil {
				r.logger.Warn("failed to persist pending answer",
					"session_id", durableID, "error", err)
			}
		}
		body = formatAnswers(decision.Answers)
	} else {
		answer := decision.answerText()
		if answer == "" {
			// Legacy decisions with no answer field are dropped silently;
			// the baseline outcome was already produced by the correlator.
			return
		}
		question := FirstQuestionText(rawInput)
		if err := r.control.AddPendingAnswer(durableID, question, answer); err != nil {
			r.logger.Warn("failed to persist pending answer",
				"session_id", durableID, "error", err)
		}
		body = answer
	}

	r.logger.Info("recovering question-tool answer",
		"session_id", durableID,
		"tool_title", toolTitle,
		"answers", len(decision.Answers))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.resubmit(durableID, body)
	}()
}

// Wait blocks until all in-flight recovery tails finish. Intended for tests.
func (r *Recovery) Wait() {
	r.wg.Wait()
}

// resubmit cancels the current turn, waits for the connection to unwind,
// and delivers the answer as an internal prompt. Every failure is absorbed
// and logged.
func (r *Recovery) resubmit(durableID, body string) {
	ctx := context.Background()

	if err := r.control.CancelRequest(ctx, durableID); err != nil {
		r.logger.Warn("answer recovery: cancel failed, continuing",
			"session_id", durableID, "error", err)
	}

	// Cancellation is asynchronous on the agent side; poll until the turn
	// unwinds or the cap elapses, then proceed either way.
	deadline := time.Now().Add(r.maxPollWait)
	for r.control.IsSessionProcessing(durableID) {
		if time.Now().After(deadline) {
			r.logger.Warn("answer recovery: session still processing after poll window, proceeding",
				"session_id", durableID, "waited", r.maxPollWait)
			break
		}
		time.Sleep(r.pollInterval)
	}

	time.Sleep(r.settleDelay)

	if err := r.control.SendPrompt(ctx, durableID, []acp.ContentBlock{acp.TextBlock(body)}, true); err != nil {
		r.logger.Warn("answer recovery: re-prompt failed",
			"session_id", durableID, "error", err)
		return
	}

	// The re-prompt carried the answers, so the persisted copies are spent.
	// On failure they stay put and ride along with the next user prompt.
	if _, err := r.control.TakePendingAnswers(durableID); err != nil {
		r.logger.Warn("answer recovery: failed to clear delivered answers",
			"session_id", durableID, "error", err)
	}

	r.logger.Debug("answer recovery: re-prompt delivered", "session_id", durableID)
}

// formatAnswers renders the re-prompt body: the bare answer when there is
// exactly one pair, otherwise a numbered Q/A transcript.
func formatAnswers(answers []QuestionAnswer) string {
	if len(answers) == 1 {
		return answers[0].Answer
	}

	var b strings.Builder
	for i, qa := range answers {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. Q: %s\n   A: %s", i+1, qa.Question, qa.Answer)
	}
	return b.String()
}
