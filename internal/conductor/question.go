package conductor

import (
	"encoding/json"
	"strings"
)

// QuestionToolName is the tool some agents invoke to ask the user a
// structured multi-choice question. The tool is broken over ACP: it hangs
// the turn waiting for an interactive answer channel that does not exist,
// and even when answered it reports only "answered" back to the agent,
// never the answer content. Both workarounds in this package key off it.
const QuestionToolName = "AskUserQuestion"

// Question is one structured question extracted from the tool's raw input.
type Question struct {
	Text    string
	Options []string
}

// IsQuestionTool reports whether a tool-call title identifies the broken
// question tool. Titles vary between agents ("AskUserQuestion",
// "askuserquestion: Deploy?") so the match is a case-insensitive substring.
func IsQuestionTool(title string) bool {
	return strings.Contains(strings.ToLower(title), strings.ToLower(QuestionToolName))
}

// questionInput mirrors the tool's raw input shape:
//
//	{"questions":[{"question":"...","options":[{"label":"..."}]}]}
//
// Some agents send a single bare {"question": "..."} instead.
type questionInput struct {
	Question  string          `json:"question"`
	Questions []questionEntry `json:"questions"`
}

type questionEntry struct {
	Question string           `json:"question"`
	Options  []questionOption `json:"options"`
}

type questionOption struct {
	Label string `json:"label"`
}

// ParseQuestions extracts the structured questions from a tool call's raw
// input. The input arrives as agent-opaque data (already-decoded JSON or a
// raw message), so it is round-tripped through JSON. Returns nil when the
// input carries no recognizable question.
func ParseQuestions(rawInput any) []Question {
	if rawInput == nil {
		return nil
	}

	data, err := json.Marshal(rawInput)
	if err != nil {
		return nil
	}

	var input questionInput
	if err := json.Unmarshal(data, &input); err != nil {
		return nil
	}

	var questions []Question
	for _, entry := range input.Questions {
		if entry.Question == "" {
			continue
		}
		q := Question{Text: entry.Question}
		for _, opt := range entry.Options {
			if opt.Label != "" {
				q.Options = append(q.Options, opt.Label)
			}
		}
		questions = append(questions, q)
	}

	if len(questions) == 0 && input.Question != "" {
		questions = append(questions, Question{Text: input.Question})
	}

	return questions
}

// FirstQuestionText returns the text of the first question in the raw
// input, or "" when none can be extracted.
func FirstQuestionText(rawInput any) string {
	questions := ParseQuestions(rawInput)
	if len(questions) == 0 {
		return ""
	}
	return questions[0].Text
}
