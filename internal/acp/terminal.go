package acp

import (
	"context"

	"github.com/coder/acp-go-sdk"
)

// StubTerminalHandler satisfies the terminal half of acp.Client for agents
// that probe for terminal support. multica runs agents headless, so every
// operation succeeds with an empty result and no terminal ever exists.
type StubTerminalHandler struct{}

// CreateTerminal returns a placeholder terminal ID.
func (StubTerminalHandler) CreateTerminal(ctx context.Context, params acp.CreateTerminalRequest) (acp.CreateTerminalResponse, error) {
	return acp.CreateTerminalResponse{TerminalId: "term-1"}, nil
}

// TerminalOutput returns an empty output response.
func (StubTerminalHandler) TerminalOutput(ctx context.Context, params acp.TerminalOutputRequest) (acp.TerminalOutputResponse, error) {
	return acp.TerminalOutputResponse{Output: "", Truncated: false}, nil
}

// ReleaseTerminal returns an empty response.
func (StubTerminalHandler) ReleaseTerminal(ctx context.Context, params acp.ReleaseTerminalRequest) (acp.ReleaseTerminalResponse, error) {
	return acp.ReleaseTerminalResponse{}, nil
}

// WaitForTerminalExit returns an empty response.
func (StubTerminalHandler) WaitForTerminalExit(ctx context.Context, params acp.WaitForTerminalExitRequest) (acp.WaitForTerminalExitResponse, error) {
	return acp.WaitForTerminalExitResponse{}, nil
}

// KillTerminalCommand returns an empty response.
func (StubTerminalHandler) KillTerminalCommand(ctx context.Context, params acp.KillTerminalCommandRequest) (acp.KillTerminalCommandResponse, error) {
	return acp.KillTerminalCommandResponse{}, nil
}
