package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/goatbytes/consoul/internal/approval"
	"github.com/goatbytes/consoul/internal/conversation"
	"github.com/goatbytes/consoul/internal/locks"
	"github.com/goatbytes/consoul/internal/metrics"
	"github.com/goatbytes/consoul/internal/models"
	"github.com/goatbytes/consoul/internal/providers"
	"github.com/goatbytes/consoul/internal/sessions"
	"github.com/goatbytes/consoul/internal/tools"
)

type echoProvider struct{ name string }

func (p *echoProvider) Name() string { return p.name }

func (p *echoProvider) Models() []providers.ModelInfo { return nil }

func (p *echoProvider) SupportsTools() bool { return true }

func (p *echoProvider) StreamEvents(ctx context.Context, modelID string, history []models.Message, toolDefs []models.Tool) (<-chan providers.Event, error) {
	ch := make(chan providers.Event, 2)
	ch <- providers.Event{Kind: providers.EventToken, Text: "hi"}
	ch <- providers.Event{Kind: providers.EventDone, FinalMessage: &models.Message{Role: models.RoleAssistant, Content: "hi"}}
	close(ch)
	return ch, nil
}

type stubExecutor struct{}

func (stubExecutor) Execute(ctx context.Context, call models.ToolCall) (string, error) { return "", nil }

func newTestConversationService(t *testing.T) *conversation.Service {
	t.Helper()
	store := sessions.NewMemoryStore(time.Hour)
	registry := providers.NewRegistry("", 0)
	registry.Register(&echoProvider{name: "anthropic"})

	return conversation.New(
		store,
		locks.NewManager(time.Minute),
		tools.NewRegistry(),
		registry,
		approval.NewCoordinator(5*time.Second),
		stubExecutor{},
		nil,
		metrics.Noop{},
		nil,
		nil,
		conversation.Config{DefaultModel: "claude-sonnet-4-5"},
	)
}

func newTestMux(srv *Server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/chat/{session_id}", srv.ServeHTTP)
	return mux
}

func dialTestServer(t *testing.T, srv *Server, apiKey string) (*websocket.Conn, func()) {
	t.Helper()
	httpSrv := httptest.NewServer(newTestMux(srv))

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws/chat/s1"
	if apiKey != "" {
		wsURL += "?api_key=" + apiKey
	}

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dialing test server (status %d): %v", status, err)
	}
	return conn, func() {
		conn.Close()
		httpSrv.Close()
	}
}

func TestWebSocketStreamsTokensAndDone(t *testing.T) {
	srv := NewServer(Config{
		Conversation: newTestConversationService(t),
		Approvals:    approval.NewCoordinator(5 * time.Second),
	})
	conn, cleanup := dialTestServer(t, srv, "")
	defer cleanup()

	if err := conn.WriteJSON(clientFrame{Type: "message", Message: "hello"}); err != nil {
		t.Fatalf("writing message frame: %v", err)
	}

	var sawToken, sawDone bool
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var frame serverFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("decoding server frame: %v", err)
		}
		switch frame.Type {
		case "token":
			sawToken = true
		case "done":
			sawDone = true
		case "error":
			t.Fatalf("unexpected error frame: %v", frame.Data)
		}
		if sawToken && sawDone {
			break
		}
	}

	if !sawToken {
		t.Fatal("expected at least one token frame")
	}
	if !sawDone {
		t.Fatal("expected a done frame")
	}
}

func TestWebSocketRejectsMissingAPIKey(t *testing.T) {
	srv := NewServer(Config{
		Conversation: newTestConversationService(t),
		Approvals:    approval.NewCoordinator(5 * time.Second),
		APIKeys:      []string{"secret"},
	})
	httpSrv := httptest.NewServer(newTestMux(srv))
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws/chat/s1"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail without an api_key")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestWebSocketAcceptsValidAPIKey(t *testing.T) {
	srv := NewServer(Config{
		Conversation: newTestConversationService(t),
		Approvals:    approval.NewCoordinator(5 * time.Second),
		APIKeys:      []string{"secret"},
	})
	conn, cleanup := dialTestServer(t, srv, "secret")
	defer cleanup()

	if err := conn.WriteJSON(clientFrame{Type: "message", Message: "hello"}); err != nil {
		t.Fatalf("writing message frame: %v", err)
	}
}

func TestActiveConnectionsTracksOpenSockets(t *testing.T) {
	srv := NewServer(Config{
		Conversation: newTestConversationService(t),
		Approvals:    approval.NewCoordinator(5 * time.Second),
	})
	conn, cleanup := dialTestServer(t, srv, "")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && srv.ActiveConnections() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if srv.ActiveConnections() != 1 {
		t.Fatalf("expected 1 active connection, got %d", srv.ActiveConnections())
	}

	conn.Close()
	cleanup()
}
