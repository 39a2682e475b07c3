package websearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-agent/pkg/config"
	"github.com/ekaya-inc/ekaya-agent/pkg/retry"
)

func setupSearcher(t *testing.T, handler http.HandlerFunc) *GeminiSearcher {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	s, err := NewGeminiSearcher(context.Background(), &config.WebSearchConfig{
		Model:       "gemini-test",
		APIKey:      "test-key",
		Temperature: 0.3,
		BaseURL:     server.URL,
	}, server.Client(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestNewGeminiSearcher_RequiresKey(t *testing.T) {
	_, err := NewGeminiSearcher(context.Background(), &config.WebSearchConfig{Model: "gemini-test"}, nil, zap.NewNop())
	assert.ErrorIs(t, err, apperrors.ErrIntegrationNotConfigured)
}

func TestSearch_CollectsAnswerAndSources(t *testing.T) {
	s := setupSearcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-test:generateContent"), r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		tools, _ := body["tools"].([]any)
		require.Len(t, tools, 1)
		assert.Contains(t, tools[0], "googleSearch")

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"candidates": [{
				"content": {"role": "model", "parts": [{"text": "Go 1.25 was released in August 2025."}]},
				"groundingMetadata": {"groundingChunks": [
					{"web": {"uri": "https://go.dev/doc/go1.25", "title": "Go 1.25"}},
					{"web": {"uri": "https://go.dev/blog", "title": "Blog"}},
					{"web": {"uri": "https://go.dev/doc/go1.25", "title": "dup"}}
				]}
			}]
		}`)
	})

	result, err := s.Search(context.Background(), "  latest go release  ")
	require.NoError(t, err)
	assert.Equal(t, "latest go release", result.Query)
	assert.Equal(t, "Go 1.25 was released in August 2025.", result.Answer)
	assert.Equal(t, []string{"https://go.dev/doc/go1.25", "https://go.dev/blog"}, result.Sources)
}

func TestSearch_EmptyAnswerFails(t *testing.T) {
	s := setupSearcher(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates": []}`)
	})

	_, err := s.Search(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no answer")
}

func TestSearch_EmptyQueryFailsWithoutRequest(t *testing.T) {
	s := setupSearcher(t, func(http.ResponseWriter, *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := s.Search(context.Background(), "   ")
	assert.Error(t, err)
}

func TestSearch_ServerErrorIsRetryable(t *testing.T) {
	s := setupSearcher(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error": {"code": 503, "message": "overloaded", "status": "UNAVAILABLE"}}`)
	})

	_, err := s.Search(context.Background(), "anything")
	require.Error(t, err)
	assert.True(t, retry.IsRetryable(err))
}
