// Package acp provides the client-side plumbing for talking to ACP
// (Agent Client Protocol) agent subprocesses.
package acp

import (
	"fmt"

	"github.com/google/shlex"
)

// ParseCommand tokenizes an agent command string with shell-aware quoting,
// e.g. `sh -c 'cd /dir && agent'` -> ["sh", "-c", "cd /dir && agent"].
// Returns an error for empty commands or unbalanced quotes.
func ParseCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command %q: %w", command, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return args, nil
}
