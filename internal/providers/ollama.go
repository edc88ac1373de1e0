package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/goatbytes/consoul/internal/models"
)

// OllamaProvider talks to a local Ollama daemon's /api/chat endpoint,
// which streams newline-delimited JSON objects rather than SSE. Grounded
// on internal/agent/providers/ollama.go's plain net/http + bufio.Scanner
// NDJSON loop (Ollama has no official Go SDK, so the client is hand-rolled
// directly against net/http, same as the code this is grounded on).
type OllamaProvider struct {
	baseURL      string
	httpClient   *http.Client
	defaultModel string
}

func NewOllamaProvider(defaultModel string) *OllamaProvider {
	if defaultModel == "" {
		defaultModel = "llama3.1"
	}
	baseURL := os.Getenv("OLLAMA_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{baseURL: baseURL, httpClient: http.DefaultClient, defaultModel: defaultModel}
}

func (p *OllamaProvider) Name() string        { return "ollama" }
func (p *OllamaProvider) SupportsTools() bool { return true }

func (p *OllamaProvider) Models() []ModelInfo {
	return []ModelInfo{
		{ID: "llama3.1", Name: "Llama 3.1", ContextWindow: 128000, SupportsVision: false, SupportsTools: true},
		{ID: "llava", Name: "LLaVA", ContextWindow: 8192, SupportsVision: true, SupportsTools: false},
	}
}

type ollamaMessage struct {
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	ToolCalls []ollamaToolUse `json:"tool_calls,omitempty"`
}

type ollamaToolUse struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaChunk struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`

	PromptEvalCount int `json:"prompt_eval_count,omitempty"`
	EvalCount       int `json:"eval_count,omitempty"`
}

func (p *OllamaProvider) StreamEvents(ctx context.Context, modelID string, history []models.Message, tools []models.Tool) (<-chan Event, error) {
	if modelID == "" {
		modelID = p.defaultModel
	}

	var msgs []ollamaMessage
	for _, m := range history {
		msgs = append(msgs, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(map[string]any{
		"model":    modelID,
		"messages": msgs,
		"stream":   true,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("providers: ollama returned status %d", resp.StatusCode)
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		var full string
		var usage *Usage
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var chunk ollamaChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				events <- Event{Kind: EventError, Err: err, PartialText: full}
				return
			}
			if chunk.Error != "" {
				events <- Event{Kind: EventError, Err: fmt.Errorf("ollama: %s", chunk.Error), PartialText: full}
				return
			}
			if chunk.Message.Content != "" {
				full += chunk.Message.Content
				events <- Event{Kind: EventToken, Text: chunk.Message.Content}
			}
			for _, tc := range chunk.Message.ToolCalls {
				args, _ := encodeArgs(tc.Function.Arguments)
				events <- Event{Kind: EventToolCall, ToolCallName: tc.Function.Name, ToolCallArgs: args}
			}
			if chunk.Done {
				usage = &Usage{InputTokens: chunk.PromptEvalCount, OutputTokens: chunk.EvalCount}
				break
			}
		}
		if err := scanner.Err(); err != nil {
			events <- Event{Kind: EventError, Err: err, PartialText: full}
			return
		}

		events <- Event{
			Kind:         EventDone,
			Usage:        usage,
			FinalMessage: &models.Message{Role: models.RoleAssistant, Content: full},
		}
	}()

	return events, nil
}
