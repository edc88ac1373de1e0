package providers

import (
	"context"
	"os"

	"github.com/goatbytes/consoul/internal/models"
	"google.golang.org/genai"
)

// GeminiProvider adapts google.golang.org/genai's streaming content
// generation API. Grounded on the same streaming-goroutine-plus-channel
// shape as AnthropicProvider/OpenAIProvider; genai is a new dependency
// for this module, added since Gemini is one of the four required
// providers.
type GeminiProvider struct {
	defaultModel string
}

func NewGeminiProvider(defaultModel string) *GeminiProvider {
	if defaultModel == "" {
		defaultModel = "gemini-2.0-flash"
	}
	return &GeminiProvider{defaultModel: defaultModel}
}

func (p *GeminiProvider) Name() string        { return "gemini" }
func (p *GeminiProvider) SupportsTools() bool { return true }

func (p *GeminiProvider) Models() []ModelInfo {
	return []ModelInfo{
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ContextWindow: 1000000, SupportsVision: true, SupportsTools: true},
		{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", ContextWindow: 2000000, SupportsVision: true, SupportsTools: true},
	}
}

func (p *GeminiProvider) StreamEvents(ctx context.Context, modelID string, history []models.Message, tools []models.Tool) (<-chan Event, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, &MissingAPIKeyError{Provider: "gemini", EnvVar: "GEMINI_API_KEY"}
	}
	if modelID == "" {
		modelID = p.defaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}

	var contents []*genai.Content
	var system string
	for _, m := range history {
		if m.Role == models.RoleSystem {
			system = m.Content
			continue
		}
		role := genai.RoleUser
		if m.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: m.Content}}})
	}

	var cfg *genai.GenerateContentConfig
	if system != "" {
		cfg = &genai.GenerateContentConfig{SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}}}
	}

	iter := client.Models.GenerateContentStream(ctx, modelID, contents, cfg)

	events := make(chan Event)
	go func() {
		defer close(events)
		var full string
		var usage *Usage

		iter(func(resp *genai.GenerateContentResponse, err error) bool {
			if err != nil {
				events <- Event{Kind: EventError, Err: err, PartialText: full}
				return false
			}
			if resp.UsageMetadata != nil {
				usage = &Usage{
					InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
					OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				}
			}
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if part.Text != "" {
						full += part.Text
						events <- Event{Kind: EventToken, Text: part.Text}
					}
					if part.FunctionCall != nil {
						args, _ := encodeArgs(part.FunctionCall.Args)
						events <- Event{Kind: EventToolCall, ToolCallName: part.FunctionCall.Name, ToolCallArgs: args}
					}
				}
			}
			return true
		})

		events <- Event{
			Kind:         EventDone,
			Usage:        usage,
			FinalMessage: &models.Message{Role: models.RoleAssistant, Content: full},
		}
	}()

	return events, nil
}
