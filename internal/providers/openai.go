package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/goatbytes/consoul/internal/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider adapts go-openai's chat-completion streaming API.
//
// Grounded on internal/agent/providers/openai.go's OpenAIProvider: same
// client construction and CreateChatCompletionStream/Recv loop, narrowed
// to the Provider event union.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
}

func NewOpenAIProvider(defaultModel string) *OpenAIProvider {
	if defaultModel == "" {
		defaultModel = "gpt-4o"
	}
	apiKey := os.Getenv("OPENAI_API_KEY")
	var client *openai.Client
	if apiKey != "" {
		client = openai.NewClient(apiKey)
	}
	return &OpenAIProvider{client: client, defaultModel: defaultModel}
}

func (p *OpenAIProvider) Name() string        { return "openai" }
func (p *OpenAIProvider) SupportsTools() bool { return true }

func (p *OpenAIProvider) Models() []ModelInfo {
	return []ModelInfo{
		{ID: "gpt-4o", Name: "GPT-4o", ContextWindow: 128000, SupportsVision: true, SupportsTools: true},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextWindow: 128000, SupportsVision: true, SupportsTools: true},
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextWindow: 128000, SupportsVision: true, SupportsTools: true},
	}
}

func (p *OpenAIProvider) StreamEvents(ctx context.Context, modelID string, history []models.Message, tools []models.Tool) (<-chan Event, error) {
	if p.client == nil {
		return nil, &MissingAPIKeyError{Provider: "openai", EnvVar: "OPENAI_API_KEY"}
	}
	if modelID == "" {
		modelID = p.defaultModel
	}

	var msgs []openai.ChatCompletionMessage
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case models.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case models.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case models.RoleTool:
			role = openai.ChatMessageRoleTool
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content, ToolCallID: m.ToolCallID})
	}

	var oaiTools []openai.Tool
	for _, t := range tools {
		var params map[string]any
		_ = json.Unmarshal(t.Schema, &params)
		oaiTools = append(oaiTools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    modelID,
		Messages: msgs,
		Tools:    oaiTools,
		Stream:   true,
	})
	if err != nil {
		return nil, err
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer stream.Close()

		var full string
		toolCalls := map[int]*openai.ToolCall{}
		var usage *Usage

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				events <- Event{Kind: EventError, Err: err, PartialText: full}
				return
			}
			if resp.Usage != nil {
				usage = &Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta
			if delta.Content != "" {
				full += delta.Content
				events <- Event{Kind: EventToken, Text: delta.Content}
			}
			for _, tc := range delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				cur, ok := toolCalls[idx]
				if !ok {
					cp := tc
					toolCalls[idx] = &cp
					continue
				}
				cur.Function.Arguments += tc.Function.Arguments
			}
		}

		for _, tc := range toolCalls {
			events <- Event{Kind: EventToolCall, ToolCallID: tc.ID, ToolCallName: tc.Function.Name, ToolCallArgs: []byte(tc.Function.Arguments)}
		}

		events <- Event{
			Kind:         EventDone,
			Usage:        usage,
			FinalMessage: &models.Message{Role: models.RoleAssistant, Content: full},
		}
	}()

	return events, nil
}
