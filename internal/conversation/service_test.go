package conversation

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/goatbytes/consoul/internal/approval"
	"github.com/goatbytes/consoul/internal/locks"
	"github.com/goatbytes/consoul/internal/metrics"
	"github.com/goatbytes/consoul/internal/models"
	"github.com/goatbytes/consoul/internal/providers"
	"github.com/goatbytes/consoul/internal/tools"
)

// memStore is a minimal in-memory sessions.Store for exercising the
// Conversation Service without pulling in a real backend.
type memStore struct {
	mu sync.Mutex
	m  map[string]*models.Session
}

func newMemStore() *memStore { return &memStore{m: make(map[string]*models.Session)} }

func (s *memStore) Save(ctx context.Context, state *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[state.SessionID] = state.Clone()
	return nil
}

func (s *memStore) Load(ctx context.Context, sessionID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[sessionID]
	if !ok {
		return nil, nil
	}
	return v.Clone(), nil
}

func (s *memStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, sessionID)
	return nil
}

func (s *memStore) List(ctx context.Context, namespace string, limit, offset int) ([]string, error) {
	return nil, nil
}

// scriptedProvider replays a fixed sequence of event batches, one batch
// per StreamEvents call, so a test can script a multi-iteration turn
// (e.g. a tool call followed by a final answer).
type scriptedProvider struct {
	name    string
	batches [][]providers.Event
	calls   int
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Models() []providers.ModelInfo { return nil }

func (p *scriptedProvider) SupportsTools() bool { return true }

func (p *scriptedProvider) StreamEvents(ctx context.Context, modelID string, history []models.Message, toolDefs []models.Tool) (<-chan providers.Event, error) {
	idx := p.calls
	p.calls++
	ch := make(chan providers.Event, len(p.batches[idx]))
	for _, ev := range p.batches[idx] {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

type stubExecutor struct {
	output string
	err    error
}

func (e *stubExecutor) Execute(ctx context.Context, call models.ToolCall) (string, error) {
	return e.output, e.err
}

func newTestService(t *testing.T, store *memStore, provider providers.Provider, executor ToolExecutor) *Service {
	t.Helper()
	providerRegistry := providers.NewRegistry("", 0)
	providerRegistry.Register(provider)

	toolRegistry := tools.NewRegistry()
	toolRegistry.Register(models.Tool{Name: "read_file", Enabled: true, RiskLevel: models.RiskSafe})

	return New(
		store,
		locks.NewManager(time.Minute),
		toolRegistry,
		providerRegistry,
		approval.NewCoordinator(5*time.Second),
		executor,
		nil,
		metrics.Noop{},
		nil,
		nil,
		Config{DefaultModel: "claude-sonnet-4-5"},
	)
}

func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestSendMessagePlainCompletion(t *testing.T) {
	store := newMemStore()
	provider := &scriptedProvider{
		name: "anthropic",
		batches: [][]providers.Event{
			{
				{Kind: providers.EventToken, Text: "hi "},
				{Kind: providers.EventToken, Text: "there"},
				{Kind: providers.EventDone, FinalMessage: &models.Message{Role: models.RoleAssistant, Content: "hi there"}},
			},
		},
	}
	svc := newTestService(t, store, provider, &stubExecutor{})

	events, err := svc.SendMessage(context.Background(), "sess-1", "hello", nil, nil)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	got := drain(t, events)

	var sawDone bool
	var tokens string
	for _, ev := range got {
		switch ev.Kind {
		case EventToken:
			tokens += ev.Text
		case EventDone:
			sawDone = true
		case EventError:
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}
	if !sawDone {
		t.Fatalf("expected a done event, got %+v", got)
	}
	if tokens != "hi there" {
		t.Fatalf("expected streamed tokens %q, got %q", "hi there", tokens)
	}

	saved, err := store.Load(context.Background(), "sess-1")
	if err != nil || saved == nil {
		t.Fatalf("expected session to be saved, err=%v saved=%v", err, saved)
	}
	var foundUser, foundAssistant bool
	for _, m := range saved.Messages {
		if m.Role == models.RoleUser && m.Content == "hello" {
			foundUser = true
		}
		if m.Role == models.RoleAssistant && m.Content == "hi there" {
			foundAssistant = true
		}
	}
	if !foundUser || !foundAssistant {
		t.Fatalf("expected saved history to contain the user and assistant turns, got %+v", saved.Messages)
	}
}

func TestSendMessageApprovedToolCall(t *testing.T) {
	store := newMemStore()
	args, _ := json.Marshal(map[string]string{"path": "a.txt"})
	provider := &scriptedProvider{
		name: "anthropic",
		batches: [][]providers.Event{
			{
				{Kind: providers.EventToolCall, ToolCallID: "call-1", ToolCallName: "read_file", ToolCallArgs: args},
			},
			{
				{Kind: providers.EventDone, FinalMessage: &models.Message{Role: models.RoleAssistant, Content: "done"}},
			},
		},
	}
	svc := newTestService(t, store, provider, &stubExecutor{output: "file contents"})

	events, err := svc.SendMessage(context.Background(), "sess-2", "read a.txt", nil, nil)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	got := drain(t, events)

	var sawDone bool
	for _, ev := range got {
		if ev.Kind == EventError {
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
		if ev.Kind == EventDone {
			sawDone = true
		}
	}
	if !sawDone {
		t.Fatalf("expected a done event, got %+v", got)
	}

	saved, _ := store.Load(context.Background(), "sess-2")
	var sawToolResult bool
	for _, m := range saved.Messages {
		if m.Role == models.RoleTool && m.Content == "file contents" {
			sawToolResult = true
		}
	}
	if !sawToolResult {
		t.Fatalf("expected a tool result message in history, got %+v", saved.Messages)
	}
}

func TestSendMessageDeniedToolCallStillProducesToolMessage(t *testing.T) {
	store := newMemStore()
	args, _ := json.Marshal(map[string]string{"command": "rm -rf /"})
	provider := &scriptedProvider{
		name: "anthropic",
		batches: [][]providers.Event{
			{
				{Kind: providers.EventToolCall, ToolCallID: "call-1", ToolCallName: "read_file", ToolCallArgs: args},
			},
			{
				{Kind: providers.EventDone, FinalMessage: &models.Message{Role: models.RoleAssistant, Content: "ok"}},
			},
		},
	}
	svc := newTestService(t, store, provider, &stubExecutor{output: "should not run"})
	svc.config.Policy = tools.PolicyStrict

	onRequest := func(req approval.ToolRequest) error { return nil }
	events, err := svc.SendMessage(context.Background(), "sess-3", "do something dangerous", nil, onRequest)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	got := drain(t, events)
	for _, ev := range got {
		if ev.Kind == EventError {
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}

	saved, _ := store.Load(context.Background(), "sess-3")
	var sawDenied bool
	for _, m := range saved.Messages {
		if m.Role == models.RoleTool && m.ToolCallID == "call-1" {
			sawDenied = true
			if m.Content == "should not run" {
				t.Fatalf("expected the tool NOT to execute once denied")
			}
		}
	}
	if !sawDenied {
		t.Fatalf("expected a tool message recording the denial, got %+v", saved.Messages)
	}
}

func TestSendMessageProviderErrorKeepsPartialText(t *testing.T) {
	store := newMemStore()
	provider := &scriptedProvider{
		name: "anthropic",
		batches: [][]providers.Event{
			{
				{Kind: providers.EventToken, Text: "partial answer"},
				{Kind: providers.EventError, PartialText: "partial answer", Err: context.DeadlineExceeded},
			},
		},
	}
	svc := newTestService(t, store, provider, &stubExecutor{})

	events, err := svc.SendMessage(context.Background(), "sess-4", "hello", nil, nil)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	got := drain(t, events)

	var sawError bool
	for _, ev := range got {
		if ev.Kind == EventError {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("expected an error event, got %+v", got)
	}

	saved, _ := store.Load(context.Background(), "sess-4")
	var sawInterrupted bool
	for _, m := range saved.Messages {
		if m.Role == models.RoleAssistant && m.Content == "partial answer" {
			sawInterrupted = true
		}
	}
	if !sawInterrupted {
		t.Fatalf("expected the partial assistant text to survive in saved history, got %+v", saved.Messages)
	}
}

func TestSendMessageSynthesizesSessionWhenMissing(t *testing.T) {
	store := newMemStore()
	provider := &scriptedProvider{
		name: "anthropic",
		batches: [][]providers.Event{
			{
				{Kind: providers.EventDone, FinalMessage: &models.Message{Role: models.RoleAssistant, Content: "hi"}},
			},
		},
	}
	svc := newTestService(t, store, provider, &stubExecutor{})

	events, err := svc.SendMessage(context.Background(), "brand-new-session", "hello", nil, nil)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	drain(t, events)

	saved, err := store.Load(context.Background(), "brand-new-session")
	if err != nil || saved == nil {
		t.Fatalf("expected a synthesized session to be saved, err=%v saved=%v", err, saved)
	}
	if saved.Model != "claude-sonnet-4-5" {
		t.Fatalf("expected the default model on a synthesized session, got %q", saved.Model)
	}
}
