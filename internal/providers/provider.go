// Package providers implements the Provider Gateway (C6): a uniform
// LLMProvider interface over Anthropic, OpenAI, Gemini, and Ollama, plus
// a disk-cached model registry used to discover context windows and
// vision support without hammering each vendor's API on every request.
//
// Grounded on internal/agent's LLMProvider interface and the
// internal/agent/providers adapters (AnthropicProvider, OpenAIProvider),
// generalized from a channel-of-chunks shape into the event-union shape
// {token, tool_call, done, error} the conversation service consumes.
package providers

import (
	"context"

	"github.com/goatbytes/consoul/internal/models"
)

// EventKind tags one streamed Event.
type EventKind string

const (
	EventToken    EventKind = "token"
	EventToolCall EventKind = "tool_call"
	EventDone     EventKind = "done"
	EventError    EventKind = "error"
)

// Usage reports token accounting for a completed turn.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Event is one item of a provider's streamed response.
type Event struct {
	Kind EventKind

	// EventToken
	Text string

	// EventToolCall
	ToolCallID   string
	ToolCallName string
	ToolCallArgs []byte

	// EventDone
	Usage        *Usage
	FinalMessage *models.Message

	// EventError
	Err         error
	PartialText string
}

// ModelInfo describes one model's capabilities.
type ModelInfo struct {
	ID             string
	Name           string
	ContextWindow  int
	SupportsVision bool
	SupportsTools  bool
}

// Provider is the uniform capability set every LLM backend implements.
type Provider interface {
	// Name is the stable provider identifier used for breaker keys,
	// metrics labels, and model-registry namespacing.
	Name() string

	// StreamEvents streams one assistant turn given the full message
	// history and the tool list currently available to the session.
	StreamEvents(ctx context.Context, modelID string, messages []models.Message, tools []models.Tool) (<-chan Event, error)

	// Models lists this provider's known models and their capabilities.
	Models() []ModelInfo

	SupportsTools() bool
}

// MissingAPIKeyError is returned when a provider is used without its
// required credential configured; callers surface this as 400 or 500
// depending on whether the caller or the deployment is at fault.
type MissingAPIKeyError struct {
	Provider string
	EnvVar   string
}

func (e *MissingAPIKeyError) Error() string {
	return "providers: missing API key for " + e.Provider + " (expected env var " + e.EnvVar + ")"
}

// IsUserError classifies errors that must never count against a
// provider's circuit breaker. Only *MissingAPIKeyError is recognised;
// vendor errors for invalid input or an unsupported model are not
// classified as user errors and do count against the breaker.
func IsUserError(err error) bool {
	if err == nil {
		return false
	}
	switch err.(type) {
	case *MissingAPIKeyError:
		return true
	default:
		return false
	}
}
