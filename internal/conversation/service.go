// Package conversation implements the Conversation Service (C7): the
// orchestration core tying the Session Store, Session Lock Manager, Tool
// Registry, Command Analyzer, Approval Coordinator, and Provider Gateway
// together behind a single send_message operation. Grounded on
// internal/agent/loop.go's AgenticLoop.Run (same Init→Stream→ExecuteTools→
// Continue/Complete state machine, streamed through a channel of response
// chunks), narrowed to the event union and persistence contract this
// module's Session/Message types define and extended with the audit and
// metrics emission the source loop leaves to its caller.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/goatbytes/consoul/internal/approval"
	"github.com/goatbytes/consoul/internal/audit"
	"github.com/goatbytes/consoul/internal/consoulerr"
	"github.com/goatbytes/consoul/internal/consoullog"
	"github.com/goatbytes/consoul/internal/locks"
	"github.com/goatbytes/consoul/internal/metrics"
	"github.com/goatbytes/consoul/internal/models"
	"github.com/goatbytes/consoul/internal/providers"
	"github.com/goatbytes/consoul/internal/sessions"
	"github.com/goatbytes/consoul/internal/tools"
	"github.com/goatbytes/consoul/internal/tools/analyzer"
)

// EventKind is the kind of one outbound stream event, mirroring the
// WebSocket adapter's server→client message types so the transport layer
// can translate an Event directly into wire format.
type EventKind string

const (
	EventToken               EventKind = "token"
	EventToolApprovalRequest EventKind = "tool_approval_request"
	EventDone                EventKind = "done"
	EventError               EventKind = "error"
)

// Event is one unit of the async token sequence send_message returns.
type Event struct {
	Kind          EventKind
	Text          string
	ToolCall      *models.ToolCall
	Session       *models.Session
	Usage         *providers.Usage
	Err           error
	CorrelationID string
}

// Config carries the defaults synthesized into a new session and the
// trimming/execution bounds applied to every turn.
type Config struct {
	DefaultModel        string
	DefaultSystemPrompt string
	DefaultTemperature  float64
	DefaultToolFilter   models.ToolFilter

	MaxMessages int

	ContextWindow      int
	ReserveTokens      int
	Summarize          bool
	SummarizeThreshold int
	KeepRecent         int

	LockTimeout        time.Duration
	MaxToolConcurrency int
	ToolTimeout        time.Duration
	MaxIterations      int

	Policy    tools.PermissionPolicy
	Whitelist *analyzer.Whitelist
}

func (c Config) withDefaults() Config {
	if c.DefaultModel == "" {
		c.DefaultModel = "claude-sonnet-4-5"
	}
	if c.DefaultTemperature == 0 {
		c.DefaultTemperature = 0.7
	}
	if c.MaxMessages <= 0 {
		c.MaxMessages = 500
	}
	if c.ContextWindow <= 0 {
		c.ContextWindow = 200000
	}
	if c.ReserveTokens <= 0 {
		c.ReserveTokens = 4096
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 30 * time.Second
	}
	if c.MaxToolConcurrency <= 0 {
		c.MaxToolConcurrency = 5
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 30 * time.Second
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10
	}
	if c.Policy == "" {
		c.Policy = tools.PolicyBalanced
	}
	if c.Whitelist == nil {
		c.Whitelist = analyzer.NewWhitelist(nil)
	}
	return c
}

// Service is the C7 orchestration core.
type Service struct {
	store     sessions.Store
	locks     *locks.Manager
	registry  *tools.Registry
	providers *providers.Registry
	approvals *approval.Coordinator
	executor  *BoundedExecutor
	audit     *audit.Logger
	metrics   metrics.Collector
	logger    *consoullog.Logger
	summarize Summarizer

	config Config
}

// New builds a Service. Any of audit, metrics, or summarize may be nil;
// metrics defaults to the no-op collector and audit to a disabled logger.
func New(
	store sessions.Store,
	lockManager *locks.Manager,
	registry *tools.Registry,
	providerRegistry *providers.Registry,
	approvals *approval.Coordinator,
	executor ToolExecutor,
	auditLogger *audit.Logger,
	collector metrics.Collector,
	logger *consoullog.Logger,
	summarizer Summarizer,
	config Config,
) *Service {
	config = config.withDefaults()
	if auditLogger == nil {
		auditLogger, _ = audit.NewLogger(audit.Config{Enabled: false})
	}
	if collector == nil {
		collector = metrics.Noop{}
	}
	if logger == nil {
		logger = consoullog.New(consoullog.Config{})
	}
	return &Service{
		store:     store,
		locks:     lockManager,
		registry:  registry,
		providers: providerRegistry,
		approvals: approvals,
		executor:  NewBoundedExecutor(executor, config.MaxToolConcurrency, config.ToolTimeout),
		audit:     auditLogger,
		metrics:   collector,
		logger:    logger,
		summarize: summarizer,
		config:    config,
	}
}

// SendMessage is send_message(session_id, user_content, on_tool_request?,
// attachments?): it streams tokens and tool-approval requests through the
// returned channel and, on completion, has durably updated exactly one
// consistent session state. onToolRequest, if non-nil, is invoked for
// every tool call that needs interactive approval; the caller is expected
// to deliver the request to its client and eventually call the Approval
// Coordinator's Resolve.
func (s *Service) SendMessage(
	ctx context.Context,
	sessionID string,
	userContent string,
	attachments []models.Attachment,
	onToolRequest func(approval.ToolRequest) error,
) (<-chan Event, error) {
	if sessionID == "" {
		return nil, consoulerr.New(consoulerr.KindValidation, "session_id is required")
	}

	correlationID := consoullog.CorrelationID(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
		ctx = consoullog.WithCorrelationID(ctx, correlationID)
	}
	ctx = consoullog.WithSessionID(ctx, sessionID)

	events := make(chan Event, 64)

	go func() {
		defer close(events)
		start := time.Now()

		err := s.locks.WithLock(ctx, sessionID, s.config.LockTimeout, func() error {
			return s.runTurn(ctx, sessionID, userContent, attachments, onToolRequest, events, correlationID)
		})

		if err != nil {
			s.logger.Error(ctx, "conversation turn failed", "error", err.Error())
			s.audit.Error(ctx, correlationID, sessionID, "", err.Error())
			s.metrics.ErrorTotal("conversation.send_message", string(consoulerr.KindOf(err)))
			events <- Event{Kind: EventError, Err: err, CorrelationID: correlationID}
		}
		s.metrics.RequestLatency("conversation.send_message", "stream", time.Since(start).Seconds())
	}()

	return events, nil
}

func (s *Service) runTurn(
	ctx context.Context,
	sessionID string,
	userContent string,
	attachments []models.Attachment,
	onToolRequest func(approval.ToolRequest) error,
	events chan<- Event,
	correlationID string,
) error {
	turnStart := time.Now()

	session, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return consoulerr.Wrap(consoulerr.KindStorage, "loading session", err)
	}
	if session == nil {
		session = s.synthesizeSession(sessionID)
	}
	session = session.Clone()

	trimCfg := TrimConfig{
		ContextWindow:      s.config.ContextWindow,
		ReserveTokens:      s.config.ReserveTokens,
		Summarize:          s.config.Summarize,
		SummarizeThreshold: s.config.SummarizeThreshold,
		KeepRecent:         s.config.KeepRecent,
	}

	history := session.Messages
	if s.summarize != nil {
		history, err = ApplySummarization(ctx, history, trimCfg, s.summarize)
		if err != nil {
			return err
		}
	}
	history, err = Trim(history, trimCfg)
	if err != nil {
		return err
	}

	userMsg := models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   withAttachments(userContent, attachments),
		CreatedAt: time.Now(),
	}
	history = append(history, userMsg)
	if len(history) > s.config.MaxMessages {
		history, err = Trim(history, trimCfg)
		if err != nil {
			return err
		}
	}

	s.audit.Request(ctx, correlationID, sessionID, "", userMsg.Content)
	s.metrics.RequestTotal("conversation.send_message", "stream", "started", session.Model)

	effectiveTools := s.registry.FilterAllowed(session.Config.ToolFilter)

	provider, modelID, err := s.resolveProvider(session.Model)
	if err != nil {
		return err
	}

	interrupted := false
	var turnErr error

iterations:
	for iter := 0; iter < s.config.MaxIterations; iter++ {
		select {
		case <-ctx.Done():
			turnErr = ctx.Err()
			break iterations
		default:
		}

		providerEvents, err := provider.StreamEvents(ctx, modelID, history, effectiveTools)
		if err != nil {
			turnErr = consoulerr.Wrap(consoulerr.KindProvider, "starting provider stream", err)
			break iterations
		}

		var partial string
		sawToolCall := false
		var pendingDone bool

		for ev := range providerEvents {
			switch ev.Kind {
			case providers.EventToken:
				partial += ev.Text
				events <- Event{Kind: EventToken, Text: ev.Text, CorrelationID: correlationID}
				s.metrics.TokenUsage("output", session.Model, sessionID, len(ev.Text)/4+1)

			case providers.EventToolCall:
				sawToolCall = true
				call := models.ToolCall{ID: ev.ToolCallID, Name: ev.ToolCallName, Arguments: json.RawMessage(ev.ToolCallArgs)}
				toolMsg, err := s.handleToolCall(ctx, session, call, onToolRequest, correlationID, events)
				if err != nil {
					turnErr = err
					break iterations
				}
				history = append(history, toolMsg)

			case providers.EventDone:
				if ev.FinalMessage != nil {
					assistantMsg := *ev.FinalMessage
					if assistantMsg.ID == "" {
						assistantMsg.ID = uuid.NewString()
					}
					if assistantMsg.CreatedAt.IsZero() {
						assistantMsg.CreatedAt = time.Now()
					}
					history = append(history, assistantMsg)
				}
				if ev.Usage != nil {
					s.metrics.TokenUsage("input", session.Model, sessionID, ev.Usage.InputTokens)
					s.metrics.TokenUsage("output", session.Model, sessionID, ev.Usage.OutputTokens)
				}
				pendingDone = true

			case providers.EventError:
				if ev.PartialText != "" {
					history = append(history, models.Message{
						ID:        uuid.NewString(),
						Role:      models.RoleAssistant,
						Content:   ev.PartialText,
						CreatedAt: time.Now(),
						Metadata:  map[string]any{"interrupted": true},
					})
					interrupted = true
				}
				turnErr = consoulerr.Wrap(consoulerr.KindStreamingInterrupted, "provider stream error", ev.Err)
			}

			if turnErr != nil {
				break
			}
		}

		if turnErr != nil {
			break iterations
		}
		if !pendingDone {
			turnErr = consoulerr.New(consoulerr.KindProvider, "provider stream closed without a done event")
			break iterations
		}
		if !sawToolCall {
			break iterations
		}
	}

	session.Messages = history
	session.UpdatedAt = time.Now()

	if saveErr := s.store.Save(ctx, session); saveErr != nil {
		if turnErr == nil {
			turnErr = consoulerr.Wrap(consoulerr.KindStorage, "saving session", saveErr)
		}
	}

	duration := time.Since(turnStart)
	status := "success"
	if turnErr != nil {
		status = "error"
	} else if interrupted {
		status = "interrupted"
	}
	s.audit.Result(ctx, correlationID, sessionID, "", status, duration, status)
	s.metrics.RequestTotal("conversation.send_message", "stream", status, session.Model)

	if turnErr != nil {
		return turnErr
	}

	events <- Event{Kind: EventDone, Session: session, CorrelationID: correlationID}
	return nil
}

// handleToolCall runs needs_approval for one tool call, consults the
// Approval Coordinator, and — if approved — executes the tool. It always
// returns a synthetic tool message describing the outcome, since the
// provider's history must contain a tool response for every tool_use
// block it emitted.
func (s *Service) handleToolCall(
	ctx context.Context,
	session *models.Session,
	call models.ToolCall,
	onToolRequest func(approval.ToolRequest) error,
	correlationID string,
	events chan<- Event,
) (models.Message, error) {
	tool, ok := s.registry.Get(call.Name)
	if !ok {
		tool = models.Tool{Name: call.Name, Enabled: true, RiskLevel: models.RiskDangerous}
	}

	var analyzed *models.RiskLevel
	whitelisted := false
	if command, ok := extractCommand(call.Arguments); ok {
		verdict := analyzer.AnalyzeCommand(command)
		analyzed = &verdict.Level
		whitelisted = s.config.Whitelist.Matches(command)
	}
	effectiveRisk := tools.EffectiveRisk(tool.RiskLevel, analyzed)

	decision := tools.NeedsApproval(s.config.Policy, session.Config.ToolFilter, tool, effectiveRisk, whitelisted)

	var argMap map[string]any
	_ = json.Unmarshal(call.Arguments, &argMap)

	req := approval.ToolRequest{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Arguments:  argMap,
		SessionID:  session.SessionID,
		Decision:   decision,
	}

	requestApproval := onToolRequest
	if decision.Decision == tools.DecisionPrompt && requestApproval != nil {
		events <- Event{Kind: EventToolApprovalRequest, ToolCall: &call, CorrelationID: correlationID}
	}

	result := s.approvals.Decide(ctx, req, requestApproval)
	status := "approved"
	if !result.Approved {
		status = "denied"
	}
	s.audit.Approval(ctx, correlationID, session.SessionID, call.Name, status, result.Reason)

	if !result.Approved {
		s.metrics.ToolExecution(call.Name, "denied")
		return models.Message{
			ID:         uuid.NewString(),
			Role:       models.RoleTool,
			Content:    fmt.Sprintf("tool call denied: %s", result.Reason),
			ToolCallID: call.ID,
			CreatedAt:  time.Now(),
		}, nil
	}

	s.audit.Execution(ctx, correlationID, session.SessionID, call.Name)
	execStart := time.Now()
	output, err := s.executor.Execute(ctx, call)
	execDuration := time.Since(execStart)

	if err != nil {
		s.audit.Result(ctx, correlationID, session.SessionID, call.Name, err.Error(), execDuration, "error")
		s.metrics.ToolExecution(call.Name, "error")
		return models.Message{
			ID:         uuid.NewString(),
			Role:       models.RoleTool,
			Content:    fmt.Sprintf("tool execution failed: %v", err),
			ToolCallID: call.ID,
			CreatedAt:  time.Now(),
		}, nil
	}

	s.audit.Result(ctx, correlationID, session.SessionID, call.Name, output, execDuration, "success")
	s.metrics.ToolExecution(call.Name, "success")
	return models.Message{
		ID:         uuid.NewString(),
		Role:       models.RoleTool,
		Content:    output,
		ToolCallID: call.ID,
		CreatedAt:  time.Now(),
	}, nil
}

func (s *Service) synthesizeSession(sessionID string) *models.Session {
	now := time.Now()
	return &models.Session{
		SessionID:   sessionID,
		Model:       s.config.DefaultModel,
		Temperature: s.config.DefaultTemperature,
		Messages:    systemMessages(s.config.DefaultSystemPrompt),
		Config: models.SessionConfig{
			SystemPrompt: s.config.DefaultSystemPrompt,
			ToolsEnabled: true,
			ToolFilter:   s.config.DefaultToolFilter,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func systemMessages(prompt string) []models.Message {
	if prompt == "" {
		return nil
	}
	return []models.Message{{
		ID:        uuid.NewString(),
		Role:      models.RoleSystem,
		Content:   prompt,
		CreatedAt: time.Now(),
	}}
}

func withAttachments(content string, attachments []models.Attachment) string {
	if len(attachments) == 0 {
		return content
	}
	out := content
	for _, a := range attachments {
		out += fmt.Sprintf("\n[attachment: %s (%s)]", a.Filename, a.Type)
	}
	return out
}

func extractCommand(args json.RawMessage) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	var m map[string]any
	if err := json.Unmarshal(args, &m); err != nil {
		return "", false
	}
	v, ok := m["command"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// resolveProvider maps a session's model ID to its registered Provider
// via the model catalog, falling back to the configured default provider
// when the model is unknown to the catalog.
func (s *Service) resolveProvider(modelID string) (providers.Provider, string, error) {
	providerName := "anthropic"
	if m, ok := models.Get(modelID); ok {
		providerName = providerNameFor(m.Provider)
	}
	p, ok := s.providers.Get(providerName)
	if !ok {
		return nil, "", consoulerr.New(consoulerr.KindProvider, fmt.Sprintf("no provider registered for %q", providerName))
	}
	return p, modelID, nil
}

func providerNameFor(p models.Provider) string {
	switch p {
	case models.ProviderGoogle:
		return "gemini"
	case models.ProviderOllama:
		return "ollama"
	case models.ProviderOpenAI:
		return "openai"
	default:
		return "anthropic"
	}
}
