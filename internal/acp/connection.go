package acp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/coder/acp-go-sdk"

	"github.com/stillfox-lee/multica-sub001/internal/logging"
)

// Connection manages an ACP agent subprocess and its protocol channel.
type Connection struct {
	cmd          *exec.Cmd
	conn         *acp.ClientSideConnection
	logger       *slog.Logger
	capabilities *acp.AgentCapabilities

	mu        sync.Mutex
	sessionID acp.SessionId
}

// NewConnection starts an ACP agent subprocess and wires up the connection.
// The cwd parameter sets the working directory for the agent process; if
// empty, the process inherits the current working directory.
func NewConnection(ctx context.Context, command, cwd string, handlers Handlers, logger *slog.Logger) (*Connection, error) {
	args, err := ParseCommand(command)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stderr = os.Stderr
	if cwd != "" {
		cmd.Dir = cwd
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe error: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe error: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start agent process: %w", err)
	}
	if logger != nil {
		logger.Info("started agent process", "command", command, "pid", cmd.Process.Pid, "cwd", cwd)
	}

	client := NewClient(handlers)

	// Agents that crash into an interactive mode dump non-JSON text on
	// stdout; filter it out before it reaches the SDK.
	filteredStdout := NewLineFilterReader(stdout, logger)

	conn := acp.NewClientSideConnection(client, stdin, filteredStdout)
	if logger != nil {
		// The SDK logs routine connection events at INFO; downgrade them.
		conn.SetLogger(logging.DowngradeInfoToDebug(logger))
	}

	return &Connection{
		cmd:    cmd,
		conn:   conn,
		logger: logger,
	}, nil
}

// Initialize performs the ACP protocol handshake.
func (c *Connection) Initialize(ctx context.Context) error {
	initResp, err := c.conn.Initialize(ctx, acp.InitializeRequest{
		ProtocolVersion: acp.ProtocolVersionNumber,
		ClientCapabilities: acp.ClientCapabilities{
			Fs: acp.FileSystemCapability{
				ReadTextFile:  true,
				WriteTextFile: true,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("initialize error: %w", err)
	}

	c.capabilities = &initResp.AgentCapabilities
	return nil
}

// SupportsLoadSession reports whether the agent can resume sessions.
// Only valid after Initialize.
func (c *Connection) SupportsLoadSession() bool {
	return c.capabilities != nil && c.capabilities.LoadSession
}

// NewSession creates a new protocol session and returns its ID.
func (c *Connection) NewSession(ctx context.Context, cwd string) (acp.SessionId, error) {
	sess, err := c.conn.NewSession(ctx, acp.NewSessionRequest{
		Cwd:        cwd,
		McpServers: []acp.McpServer{},
	})
	if err != nil {
		return "", fmt.Errorf("new session error: %w", err)
	}

	c.mu.Lock()
	c.sessionID = sess.SessionId
	c.mu.Unlock()
	return sess.SessionId, nil
}

// LoadSession asks the agent to resume a previously created session.
func (c *Connection) LoadSession(ctx context.Context, sessionID acp.SessionId, cwd string) error {
	_, err := c.conn.LoadSession(ctx, acp.LoadSessionRequest{
		SessionId:  sessionID,
		Cwd:        cwd,
		McpServers: []acp.McpServer{},
	})
	if err != nil {
		return fmt.Errorf("load session error: %w", err)
	}

	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()
	return nil
}

// SessionID returns the current protocol session ID, or "" before
// NewSession/LoadSession.
func (c *Connection) SessionID() acp.SessionId {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Prompt sends a text message to the agent and blocks until the turn ends.
func (c *Connection) Prompt(ctx context.Context, message string) (acp.PromptResponse, error) {
	return c.PromptWithContent(ctx, []acp.ContentBlock{acp.TextBlock(message)})
}

// PromptWithContent sends content blocks to the agent and blocks until the
// turn ends.
func (c *Connection) PromptWithContent(ctx context.Context, content []acp.ContentBlock) (acp.PromptResponse, error) {
	sessionID := c.SessionID()
	if sessionID == "" {
		return acp.PromptResponse{}, fmt.Errorf("no active session")
	}

	return c.conn.Prompt(ctx, acp.PromptRequest{
		SessionId: sessionID,
		Prompt:    content,
	})
}

// Cancel asks the agent to stop the current turn.
func (c *Connection) Cancel(ctx context.Context) error {
	sessionID := c.SessionID()
	if sessionID == "" {
		return nil
	}
	return c.conn.Cancel(ctx, acp.CancelNotification{SessionId: sessionID})
}

// Close terminates the agent process and cleans up resources.
func (c *Connection) Close() error {
	if c.cmd != nil && c.cmd.Process != nil {
		c.cmd.Process.Kill()
		c.cmd.Wait()
	}
	return nil
}

// Done returns a channel that is closed when the connection shuts down.
func (c *Connection) Done() <-chan struct{} {
	return c.conn.Done()
}
