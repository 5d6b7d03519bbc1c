package acp

import (
	"bufio"
	"bytes"
	"io"
	"log/slog"
)

// LineFilterReader wraps an agent's stdout and passes through only lines
// that can be JSON-RPC messages (lines starting with '{'). Agents that
// crash or fall back to an interactive TUI write ANSI escape sequences and
// banner text to stdout; feeding those into the SDK connection would kill
// the session, so they are discarded here and logged at DEBUG.
type LineFilterReader struct {
	scanner *bufio.Scanner
	logger  *slog.Logger
	pending []byte // unread remainder of the current JSON line
}

// NewLineFilterReader returns a filtering reader over r. A nil logger
// discards non-JSON lines silently.
func NewLineFilterReader(r io.Reader, logger *slog.Logger) *LineFilterReader {
	scanner := bufio.NewScanner(r)
	// Match the SDK's line limits so large messages survive the filter.
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)
	return &LineFilterReader{scanner: scanner, logger: logger}
}

// Read implements io.Reader, returning only JSON lines (newline included).
func (f *LineFilterReader) Read(p []byte) (int, error) {
	for len(f.pending) == 0 {
		if !f.scanner.Scan() {
			if err := f.scanner.Err(); err != nil {
				return 0, err
			}
			return 0, io.EOF
		}

		line := bytes.TrimSpace(f.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if line[0] != '{' {
			f.logDiscarded(f.scanner.Bytes())
			continue
		}

		f.pending = append(append([]byte{}, f.scanner.Bytes()...), '\n')
	}

	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

func (f *LineFilterReader) logDiscarded(line []byte) {
	if f.logger == nil {
		return
	}
	// Truncate to keep the log readable when an agent dumps a screenful.
	msg := string(line)
	if len(msg) > 200 {
		msg = msg[:150] + "..."
	}
	f.logger.Debug("discarded non-JSON line from agent stdout",
		"line", msg,
		"length", len(line))
}
