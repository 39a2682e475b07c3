package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/ekaya-agent/pkg/llm"
	"github.com/ekaya-inc/ekaya-agent/pkg/retry"
)

// llm.Error declares its own retryability; retry must honor it over string matching.
func TestIsRetryable_WithLLMError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"retryable server error", llm.NewError(llm.ErrorTypeEndpoint, "server error", true, errors.New("HTTP 503")), true},
		{"retryable rate limit", llm.NewError(llm.ErrorTypeRateLimit, "rate limited", true, errors.New("HTTP 429")), true},
		{"auth failure mentioning timeout", llm.NewError(llm.ErrorTypeAuth, "authentication failed", false, errors.New("timed out validating key")), false},
		{"open circuit", llm.NewError(llm.ErrorTypeCircuit, "provider unavailable", false, nil), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, retry.IsRetryable(tt.err))
		})
	}
}

func TestDoIfRetryable_StopsOnNonRetryableLLMError(t *testing.T) {
	attempts := 0
	cfg := &retry.Config{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	err := retry.DoIfRetryable(context.Background(), cfg, func() error {
		attempts++
		return llm.NewError(llm.ErrorTypeModel, "model not found", false, nil)
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}
