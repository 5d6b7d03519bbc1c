package acp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/coder/acp-go-sdk"
)

// Handlers routes agent-initiated calls to whoever drives the session.
// A nil handler falls back to a safe default: permission requests are
// cancelled, session updates are dropped.
type Handlers struct {
	// OnPermission is called when the agent asks to run a tool.
	OnPermission func(ctx context.Context, params acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error)

	// OnSessionUpdate is called for every streaming update from the agent.
	OnSessionUpdate func(ctx context.Context, params acp.SessionNotification) error
}

// Client implements the acp.Client interface. It owns no session logic
// itself; everything interesting is delegated through Handlers. Terminal
// operations are stubbed out: agents run headless here.
type Client struct {
	StubTerminalHandler
	handlers Handlers
}

// Ensure Client implements acp.Client
var _ acp.Client = (*Client)(nil)

// NewClient creates a new ACP client with the given handlers.
func NewClient(handlers Handlers) *Client {
	return &Client{handlers: handlers}
}

// RequestPermission handles permission requests from the agent.
func (c *Client) RequestPermission(ctx context.Context, params acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	if c.handlers.OnPermission == nil {
		return CancelledPermissionResponse(), nil
	}
	return c.handlers.OnPermission(ctx, params)
}

// SessionUpdate handles session updates (streaming output) from the agent.
func (c *Client) SessionUpdate(ctx context.Context, params acp.SessionNotification) error {
	if c.handlers.OnSessionUpdate == nil {
		return nil
	}
	return c.handlers.OnSessionUpdate(ctx, params)
}

// WriteTextFile handles file write requests from the agent.
func (c *Client) WriteTextFile(ctx context.Context, params acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error) {
	if !filepath.IsAbs(params.Path) {
		return acp.WriteTextFileResponse{}, fmt.Errorf("path must be absolute: %s", params.Path)
	}
	dir := filepath.Dir(params.Path)
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return acp.WriteTextFileResponse{}, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(params.Path, []byte(params.Content), 0o644); err != nil {
		return acp.WriteTextFileResponse{}, fmt.Errorf("write %s: %w", params.Path, err)
	}
	return acp.WriteTextFileResponse{}, nil
}

// ReadTextFile handles file read requests from the agent.
func (c *Client) ReadTextFile(ctx context.Context, params acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error) {
	if !filepath.IsAbs(params.Path) {
		return acp.ReadTextFileResponse{}, fmt.Errorf("path must be absolute: %s", params.Path)
	}
	b, err := os.ReadFile(params.Path)
	if err != nil {
		return acp.ReadTextFileResponse{}, fmt.Errorf("read %s: %w", params.Path, err)
	}
	content := string(b)
	if params.Line != nil || params.Limit != nil {
		lines := strings.Split(content, "\n")
		start := 0
		if params.Line != nil && *params.Line > 0 {
			start = min(max(*params.Line-1, 0), len(lines))
		}
		end := len(lines)
		if params.Limit != nil && *params.Limit > 0 {
			if start+*params.Limit < end {
				end = start + *params.Limit
			}
		}
		content = strings.Join(lines[start:end], "\n")
	}
	return acp.ReadTextFileResponse{Content: content}, nil
}
