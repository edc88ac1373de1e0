package providers

import (
	"context"
	"encoding/json"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/goatbytes/consoul/internal/models"
)

// AnthropicProvider adapts anthropic-sdk-go's streaming Messages API to
// the Provider interface.
//
// Grounded on internal/agent/providers/anthropic.go's AnthropicProvider:
// same client construction, same streaming-loop shape, narrowed to the
// event union Provider.StreamEvents emits instead of a channel of
// provider-specific chunk structs.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicProvider builds a provider reading ANTHROPIC_API_KEY lazily
// (validated on first use rather than at startup).
func NewAnthropicProvider(defaultModel string) *AnthropicProvider {
	if defaultModel == "" {
		defaultModel = "claude-sonnet-4-20250514"
	}
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...), defaultModel: defaultModel}
}

func (p *AnthropicProvider) Name() string        { return "anthropic" }
func (p *AnthropicProvider) SupportsTools() bool { return true }

func (p *AnthropicProvider) Models() []ModelInfo {
	return []ModelInfo{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextWindow: 200000, SupportsVision: true, SupportsTools: true},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextWindow: 200000, SupportsVision: true, SupportsTools: true},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextWindow: 200000, SupportsVision: true, SupportsTools: true},
		{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", ContextWindow: 200000, SupportsVision: true, SupportsTools: true},
	}
}

func (p *AnthropicProvider) StreamEvents(ctx context.Context, modelID string, history []models.Message, tools []models.Tool) (<-chan Event, error) {
	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		return nil, &MissingAPIKeyError{Provider: "anthropic", EnvVar: "ANTHROPIC_API_KEY"}
	}
	if modelID == "" {
		modelID = p.defaultModel
	}

	var system string
	var msgs []anthropic.MessageParam
	for _, m := range history {
		switch m.Role {
		case models.RoleSystem:
			system = m.Content
		case models.RoleUser:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case models.RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		case models.RoleTool:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	var toolParams []anthropic.ToolUnionParam
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		_ = json.Unmarshal(t.Schema, &schema)
		toolParams = append(toolParams, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: schema,
			},
		})
	}

	stream := p.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		MaxTokens: 4096,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages:  msgs,
		Tools:     toolParams,
	})

	events := make(chan Event)
	go func() {
		defer close(events)

		var message anthropic.Message
		var partial string
		for stream.Next() {
			evt := stream.Current()
			if err := message.Accumulate(evt); err != nil {
				events <- Event{Kind: EventError, Err: err, PartialText: partial}
				return
			}
			switch delta := evt.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if textDelta, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok {
					partial += textDelta.Text
					events <- Event{Kind: EventToken, Text: textDelta.Text}
				}
			}
		}
		if err := stream.Err(); err != nil {
			events <- Event{Kind: EventError, Err: err, PartialText: partial}
			return
		}

		var finalText string
		for _, block := range message.Content {
			switch b := block.AsAny().(type) {
			case anthropic.TextBlock:
				finalText += b.Text
			case anthropic.ToolUseBlock:
				events <- Event{Kind: EventToolCall, ToolCallID: b.ID, ToolCallName: b.Name, ToolCallArgs: b.Input}
			}
		}

		events <- Event{
			Kind: EventDone,
			Usage: &Usage{
				InputTokens:  int(message.Usage.InputTokens),
				OutputTokens: int(message.Usage.OutputTokens),
			},
			FinalMessage: &models.Message{Role: models.RoleAssistant, Content: finalText},
		}
	}()

	return events, nil
}
