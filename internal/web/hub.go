package web

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/acp-go-sdk"
	"github.com/gorilla/websocket"

	"github.com/stillfox-lee/multica-sub001/internal/conductor"
)

const (
	// writeWait is how long a slow client gets before its connection drops.
	writeWait = 10 * time.Second

	// clientSendBuffer is the per-client outbound queue; a client that
	// falls this far behind is disconnected rather than blocking the hub.
	clientSendBuffer = 256
)

// Hub fans session activity out to every connected WebSocket client and
// routes their inbound messages. It implements conductor.Notifier, so the
// conductor pushes permission requests and session updates straight into it.
type Hub struct {
	logger *slog.Logger

	// OnMessage handles an inbound client message. Set once before the
	// first client registers.
	OnMessage func(msg WSMessage)

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

// Ensure the hub can stand in as the conductor's interface collaborator.
var _ conductor.Notifier = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// wsClient is one connected browser.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Register wires a freshly upgraded connection into the hub and starts its
// pumps. Blocks until the client disconnects.
func (h *Hub) Register(conn *websocket.Conn) {
	client := &wsClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	// The welcome is queued under the lock so Close cannot slip in between
	// registration and the first send and close the channel under us.
	if msg, err := newWSMessage(WSMsgTypeConnected, map[string]string{"status": "ok"}); err == nil {
		client.enqueue(msg)
	}
	h.mu.Unlock()

	h.logger.Debug("websocket client connected", "clients", h.ClientCount())

	go client.writePump()
	client.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		close(c.send)
	}
}

// Broadcast sends a message to every connected client.
func (h *Hub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("failed to marshal websocket message", "type", msg.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow; drop it rather than stall the hub.
			delete(h.clients, client)
			close(client.send)
		}
	}
}

// NotifyPermissionRequest broadcasts a pending permission request so any
// connected operator can answer it.
func (h *Hub) NotifyPermissionRequest(req conductor.PermissionRequestView) {
	msg, err := newWSMessage(WSMsgTypePermissionRequest, req)
	if err != nil {
		h.logger.Warn("failed to encode permission request", "error", err)
		return
	}
	h.Broadcast(msg)
}

// NotifySessionUpdate broadcasts a streaming session update.
func (h *Hub) NotifySessionUpdate(durableID string, update acp.SessionUpdate) {
	var (
		msg WSMessage
		err error
	)

	switch {
	case update.AgentMessageChunk != nil:
		text := update.AgentMessageChunk.Content.Text
		if text == nil {
			return
		}
		msg, err = newWSMessage(WSMsgTypeAgentMessage, AgentTextData{
			SessionID: durableID,
			Text:      text.Text,
		})

	case update.AgentThoughtChunk != nil:
		text := update.AgentThoughtChunk.Content.Text
		if text == nil {
			return
		}
		msg, err = newWSMessage(WSMsgTypeAgentThought, AgentTextData{
			SessionID: durableID,
			Text:      text.Text,
		})

	case update.ToolCall != nil:
		tc := update.ToolCall
		msg, err = newWSMessage(WSMsgTypeToolCall, ToolCallData{
			SessionID:  durableID,
			ToolCallID: string(tc.ToolCallId),
			Title:      tc.Title,
			Status:     string(tc.Status),
			Kind:       string(tc.Kind),
		})

	case update.ToolCallUpdate != nil:
		tcu := update.ToolCallUpdate
		data := ToolCallUpdateData{
			SessionID:  durableID,
			ToolCallID: string(tcu.ToolCallId),
			Title:      tcu.Title,
		}
		if tcu.Status != nil {
			status := string(*tcu.Status)
			data.Status = &status
		}
		msg, err = newWSMessage(WSMsgTypeToolCallUpdate, data)

	case update.Plan != nil:
		msg, err = newWSMessage(WSMsgTypePlan, map[string]string{"session_id": durableID})

	default:
		return
	}

	if err != nil {
		h.logger.Warn("failed to encode session update", "error", err)
		return
	}
	h.Broadcast(msg)
}

func (c *wsClient) enqueue(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// readPump parses inbound messages and hands them to the hub's handler.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read error", "error", err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.logger.Debug("discarding malformed websocket message", "error", err)
			continue
		}

		if c.hub.OnMessage != nil {
			c.hub.OnMessage(msg)
		}
	}
}

// writePump drains the send queue onto the connection.
func (c *wsClient) writePump() {
	defer c.conn.Close()

	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}
