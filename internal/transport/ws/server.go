// Package ws implements the C8 WebSocket adapter: GET /ws/chat/{session_id}.
// Each connection runs two cooperating tasks — a receiver that fans
// incoming frames into a queue (or routes tool_approval responses
// straight to the Approval Coordinator) and a processor that drains the
// queue and streams each request through the Conversation Service.
//
// Grounded on internal/gateway/ws_control_plane.go's wsSession
// (readLoop/writeLoop goroutine pair over a buffered send channel,
// context-cancel-on-close), narrowed from that file's general JSON-RPC-
// style frame protocol to the four server→client / two client→server
// message types this transport needs.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/goatbytes/consoul/internal/approval"
	"github.com/goatbytes/consoul/internal/consoullog"
	"github.com/goatbytes/consoul/internal/conversation"
)

const (
	sendBufferSize = 1000
	sendTimeout    = 5 * time.Second
	pongWait       = 45 * time.Second
	pingInterval   = 30 * time.Second
)

// clientFrame is one client→server message.
type clientFrame struct {
	Type string `json:"type"`

	// type=message
	Message string `json:"message,omitempty"`

	// type=tool_approval
	ToolCallID string `json:"tool_call_id,omitempty"`
	Approved   bool   `json:"approved,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// serverFrame is one server→client message.
type serverFrame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Config carries the Server's collaborators and auth settings.
type Config struct {
	Conversation *conversation.Service
	Approvals    *approval.Coordinator
	Logger       *consoullog.Logger

	// APIKeys, if non-empty, requires ?api_key= to match one of these
	// values or the connection is rejected with close code 1008.
	APIKeys []string
}

// Server upgrades and manages WebSocket chat connections.
type Server struct {
	config   Config
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*connection]struct{}
}

// NewServer builds a Server.
func NewServer(config Config) *Server {
	if config.Logger == nil {
		config.Logger = consoullog.New(consoullog.Config{})
	}
	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*connection]struct{}),
	}
}

// ActiveConnections reports how many WebSocket connections are open, for
// GET /health's active_websockets field.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// ServeHTTP handles GET /ws/chat/{session_id}.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	if !s.authenticate(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &connection{
		server:    s,
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan serverFrame, sendBufferSize),
		pending:   make(map[string]struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(r.Context())

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}()

	c.run()
}

func (s *Server) authenticate(r *http.Request) bool {
	if len(s.config.APIKeys) == 0 {
		return true
	}
	got := r.URL.Query().Get("api_key")
	for _, k := range s.config.APIKeys {
		if got == k {
			return true
		}
	}
	return false
}

// connection is one upgraded WebSocket's receiver+processor pair.
type connection struct {
	server    *Server
	conn      *websocket.Conn
	sessionID string

	ctx    context.Context
	cancel context.CancelFunc

	send    chan serverFrame
	queue   chan string // inbound user messages awaiting processing

	mu      sync.Mutex
	pending map[string]struct{} // tool_call_ids awaiting approval on this connection
}

func (c *connection) run() {
	c.queue = make(chan string, 16)
	defer c.shutdown()

	go c.writeLoop()
	go c.processLoop()
	c.readLoop()
}

func (c *connection) shutdown() {
	c.cancel()
	c.cancelPendingApprovals("connection closed")
	_ = c.conn.Close()
}

func (c *connection) cancelPendingApprovals(reason string) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.pending = make(map[string]struct{})
	c.mu.Unlock()

	for _, id := range ids {
		c.server.config.Approvals.Resolve(id, false, reason)
	}
}

func (c *connection) readLoop() {
	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			close(c.queue)
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.trySend(serverFrame{Type: "error", Data: "invalid frame"})
			continue
		}

		switch frame.Type {
		case "tool_approval":
			c.mu.Lock()
			_, isOurs := c.pending[frame.ToolCallID]
			if isOurs {
				delete(c.pending, frame.ToolCallID)
			}
			c.mu.Unlock()
			if isOurs {
				c.server.config.Approvals.Resolve(frame.ToolCallID, frame.Approved, frame.Reason)
			}
		case "message":
			select {
			case c.queue <- frame.Message:
			case <-c.ctx.Done():
				return
			}
		}
	}
}

// processLoop drains queued user messages one at a time and streams each
// through the Conversation Service, so two messages from the same
// connection never interleave on the wire.
func (c *connection) processLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-c.queue:
			if !ok {
				return
			}
			c.processTurn(msg)
		}
	}
}

func (c *connection) processTurn(userMessage string) {
	events, err := c.server.config.Conversation.SendMessage(c.ctx, c.sessionID, userMessage, nil, c.onToolRequest)
	if err != nil {
		c.trySend(serverFrame{Type: "error", Data: err.Error()})
		return
	}

	for ev := range events {
		switch ev.Kind {
		case conversation.EventToken:
			c.trySend(serverFrame{Type: "token", Data: ev.Text})
		case conversation.EventToolApprovalRequest:
			c.mu.Lock()
			c.pending[ev.ToolCall.ID] = struct{}{}
			c.mu.Unlock()
			c.trySend(serverFrame{Type: "tool_approval_request", Data: ev.ToolCall})
		case conversation.EventDone:
			c.trySend(serverFrame{Type: "done", Data: nil})
		case conversation.EventError:
			c.trySend(serverFrame{Type: "error", Data: ev.Err.Error()})
		}
	}
}

// onToolRequest is handed to the Conversation Service as the interactive
// approval callback; the actual wait for the client's response happens
// in the Approval Coordinator, not here.
func (c *connection) onToolRequest(req approval.ToolRequest) error {
	return nil
}

// writeLoop drains c.send and enforces the backpressure contract: a
// saturated buffer or a send exceeding sendTimeout closes the connection
// with code 1008 and cancels every pending approval this connection
// holds.
func (c *connection) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.writeFrame(frame); err != nil {
				c.closePolicyViolation()
				return
			}
		}
	}
}

func (c *connection) writeFrame(frame serverFrame) error {
	body, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, body)
}

func (c *connection) closePolicyViolation() {
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "client too slow"), deadline)
	c.cancel()
}

// trySend enqueues frame for delivery without blocking the caller
// beyond sendTimeout; a full buffer or a timed-out enqueue is the same
// backpressure violation as a timed-out write, so it closes the
// connection the same way.
func (c *connection) trySend(frame serverFrame) {
	select {
	case c.send <- frame:
	case <-time.After(sendTimeout):
		c.closePolicyViolation()
	case <-c.ctx.Done():
	}
}
