// Package llm provides completion clients for OpenAI-compatible and Anthropic providers.
package llm

import (
	"context"
)

// Message role constants.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of conversation history sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest describes one completion call.
type CompletionRequest struct {
	SystemPrompt string
	Messages     []Message
	Temperature  float64
	MaxTokens    int

	// JSONMode asks the provider for a single JSON object. Providers without
	// native support rely on the system prompt and ExtractJSON.
	JSONMode bool
}

// LLMClient defines the interface for completion operations.
// Use this interface for dependency injection to enable mocking in tests.
type LLMClient interface {
	// Complete returns the full response text.
	Complete(ctx context.Context, req *CompletionRequest) (string, error)

	// Stream returns a channel of events. The channel is closed after a done or
	// error event, or when ctx is cancelled.
	Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamEvent, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

// Ensure clients implement LLMClient at compile time.
var (
	_ LLMClient = (*Client)(nil)
	_ LLMClient = (*AnthropicClient)(nil)
)
