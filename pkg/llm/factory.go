package llm

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-agent/pkg/config"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
)

// Purpose selects the model and temperature defaults for a call.
type Purpose string

const (
	PurposeRouter    Purpose = "router"
	PurposeStatement Purpose = "statement"
	PurposeRewrite   Purpose = "rewrite"
	PurposeSynthesis Purpose = "synthesis"
)

// defaultAnthropicModel is used when a user picks anthropic without naming a model.
const defaultAnthropicModel = "claude-sonnet-4-5"

// UserAIConfig is a user's decrypted model preferences.
type UserAIConfig struct {
	Provider          models.AIProvider
	Model             string
	APIKey            string
	SystemInstruction string
	Temperature       *float32
}

// UserConfigProvider resolves a user's AI settings with the key decrypted.
// It returns nil, nil when the user has no settings.
// This interface breaks the import cycle between llm and services packages.
type UserConfigProvider interface {
	UserAIConfig(ctx context.Context, userID string) (*UserAIConfig, error)
}

// Binding is a client ready for one purpose, plus the parameters to call it with.
type Binding struct {
	Client            LLMClient
	Provider          models.AIProvider
	Temperature       float64
	SystemInstruction string
}

// LLMClientFactory is the interface for creating LLM clients.
type LLMClientFactory interface {
	ForUser(ctx context.Context, userID string, purpose Purpose) (*Binding, error)
}

// ClientFactory creates clients from user settings with server defaults as fallback.
type ClientFactory struct {
	cfg      *config.LLMConfig
	provider UserConfigProvider
	logger   *zap.Logger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewClientFactory creates a new factory.
func NewClientFactory(cfg *config.LLMConfig, provider UserConfigProvider, logger *zap.Logger) *ClientFactory {
	return &ClientFactory{
		cfg:      cfg,
		provider: provider,
		logger:   logger,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// ForUser resolves provider, model, key and temperature for purpose.
//
// A user's own key and provider take precedence. Without one, the server's
// OpenAI-compatible endpoint and key are used. Without either,
// apperrors.ErrAPIKeyNotConfigured is returned.
func (f *ClientFactory) ForUser(ctx context.Context, userID string, purpose Purpose) (*Binding, error) {
	var user *UserAIConfig
	if f.provider != nil && userID != "" {
		var err error
		user, err = f.provider.UserAIConfig(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("resolve user ai config: %w", err)
		}
	}

	binding := &Binding{Temperature: f.defaultTemperature(purpose)}
	if user != nil {
		binding.SystemInstruction = user.SystemInstruction
		if purpose == PurposeSynthesis && user.Temperature != nil {
			binding.Temperature = float64(*user.Temperature)
		}
	}

	var (
		client LLMClient
		err    error
	)
	switch {
	case user != nil && user.APIKey != "" && user.Provider == models.AIProviderAnthropic:
		model := user.Model
		if model == "" {
			model = defaultAnthropicModel
		}
		binding.Provider = models.AIProviderAnthropic
		client, err = NewAnthropicClient(&Config{
			Endpoint: f.cfg.AnthropicBaseURL,
			Model:    model,
			APIKey:   user.APIKey,
		}, f.logger)
	case user != nil && user.APIKey != "":
		model := f.defaultModel(purpose)
		if user.Model != "" && purpose == PurposeSynthesis {
			model = user.Model
		}
		binding.Provider = models.AIProviderOpenAI
		client, err = NewClient(&Config{
			Endpoint: f.cfg.Endpoint,
			Model:    model,
			APIKey:   user.APIKey,
		}, f.logger)
	case f.cfg.APIKey != "":
		binding.Provider = models.AIProviderOpenAI
		client, err = NewClient(&Config{
			Endpoint: f.cfg.Endpoint,
			Model:    f.defaultModel(purpose),
			APIKey:   f.cfg.APIKey,
		}, f.logger)
	default:
		return nil, apperrors.ErrAPIKeyNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", binding.Provider, err)
	}

	binding.Client = WithCircuitBreaker(client, f.breakerFor(string(binding.Provider)+"|"+client.GetEndpoint()))
	return binding, nil
}

func (f *ClientFactory) defaultModel(purpose Purpose) string {
	switch purpose {
	case PurposeRouter:
		return f.cfg.RouterModel
	case PurposeStatement, PurposeRewrite:
		return f.cfg.RewriteModel
	default:
		return f.cfg.SynthesisModel
	}
}

func (f *ClientFactory) defaultTemperature(purpose Purpose) float64 {
	switch purpose {
	case PurposeRouter:
		return f.cfg.RouterTemperature
	case PurposeStatement, PurposeRewrite:
		return f.cfg.RewriteTemperature
	default:
		return f.cfg.SynthesisTemperature
	}
}

// breakerFor returns the shared breaker for one provider endpoint.
func (f *ClientFactory) breakerFor(key string) *CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cb, ok := f.breakers[key]; ok {
		return cb
	}
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Threshold:  f.cfg.CircuitBreakerThreshold,
		ResetAfter: f.cfg.CircuitBreakerReset,
	})
	f.breakers[key] = cb
	return cb
}

// Ensure ClientFactory implements LLMClientFactory at compile time.
var _ LLMClientFactory = (*ClientFactory)(nil)
