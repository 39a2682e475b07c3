package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

// defaultAnthropicMaxTokens is used when a request does not set MaxTokens;
// the Messages API requires the field.
const defaultAnthropicMaxTokens = 4096

// AnthropicClient provides access to the Anthropic Messages API.
type AnthropicClient struct {
	client   *anthropic.Client
	endpoint string
	model    string
	logger   *zap.Logger
}

// NewAnthropicClient creates a client. Endpoint may be empty for the public API.
func NewAnthropicClient(cfg *Config, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	opts := []anthropic.ClientOption{anthropic.WithHTTPClient(newHTTPClient())}
	if cfg.Endpoint != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.Endpoint))
	}

	return &AnthropicClient{
		client:   anthropic.NewClient(cfg.APIKey, opts...),
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		logger:   logger.Named("llm"),
	}, nil
}

func (c *AnthropicClient) buildRequest(req *CompletionRequest) anthropic.MessagesRequest {
	messages := make([]anthropic.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		text := m.Content
		role := anthropic.RoleUser
		if m.Role == RoleAssistant {
			role = anthropic.RoleAssistant
		}
		messages = append(messages, anthropic.Message{
			Role:    role,
			Content: []anthropic.MessageContent{{Type: "text", Text: &text}},
		})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	temperature := float32(req.Temperature)

	system := req.SystemPrompt
	if req.JSONMode {
		system += "\n\nRespond with a single JSON object and nothing else."
	}

	return anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		System:      system,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	}
}

// Complete generates a message and returns its text blocks concatenated.
func (c *AnthropicClient) Complete(ctx context.Context, req *CompletionRequest) (string, error) {
	c.logger.Debug("LLM request",
		zap.String("provider", "anthropic"),
		zap.String("model", c.model),
		zap.Int("message_count", len(req.Messages)))

	start := time.Now()
	resp, err := c.client.CreateMessages(ctx, c.buildRequest(req))
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", c.parseError(err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			text += *block.Text
		}
	}

	c.logger.Info("LLM request completed",
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))

	return text, nil
}

// Stream starts a streaming message. The SDK call blocks, so it runs in its own
// goroutine and forwards deltas from its callback.
func (c *AnthropicClient) Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamEvent, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	events := make(chan StreamEvent, streamBuffer)

	go func() {
		defer close(events)
		defer cancel()

		start := time.Now()
		_, err := c.client.CreateMessagesStream(streamCtx, anthropic.MessagesStreamRequest{
			MessagesRequest: c.buildRequest(req),
			OnContentBlockDelta: func(data anthropic.MessagesEventContentBlockDeltaData) {
				if data.Delta.Text == nil || *data.Delta.Text == "" {
					return
				}
				if !emit(streamCtx, events, StreamEvent{Type: StreamEventText, Content: *data.Delta.Text}) {
					cancel()
				}
			},
		})
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Error("Stream failed",
					zap.Duration("elapsed", time.Since(start)),
					zap.Error(err))
			}
			emit(ctx, events, StreamEvent{Type: StreamEventError, Err: c.parseError(err)})
			return
		}
		emit(ctx, events, StreamEvent{Type: StreamEventDone})
	}()

	return events, nil
}

// GetModel returns the configured model name.
func (c *AnthropicClient) GetModel() string {
	return c.model
}

// GetEndpoint returns the configured endpoint.
func (c *AnthropicClient) GetEndpoint() string {
	return c.endpoint
}

func (c *AnthropicClient) parseError(err error) error {
	llmErr := ClassifyError(err)
	llmErr.Model = c.model
	llmErr.Endpoint = c.endpoint
	return llmErr
}
