// Package websearch answers a query with a search-grounded Gemini completion.
package websearch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/ekaya-inc/ekaya-agent/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-agent/pkg/config"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
)

const systemInstruction = "Answer the query using Google Search. Be concise and factual. " +
	"Prefer recent, authoritative sources."

// Searcher runs one search-grounded query.
type Searcher interface {
	Search(ctx context.Context, query string) (*models.WebSearchResult, error)
}

// StatusError is a Gemini API failure with its HTTP status.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("web search returned %d: %s", e.Status, e.Message)
}

// HTTPStatus lets retry decide whether the failure is transient.
func (e *StatusError) HTTPStatus() int { return e.Status }

// GeminiSearcher implements Searcher with the Gemini API and its GoogleSearch tool.
type GeminiSearcher struct {
	client      *genai.Client
	model       string
	temperature float32
	logger      *zap.Logger
}

// NewGeminiSearcher creates a searcher. Without an API key it returns
// apperrors.ErrIntegrationNotConfigured.
func NewGeminiSearcher(ctx context.Context, cfg *config.WebSearchConfig, httpClient *http.Client, logger *zap.Logger) (*GeminiSearcher, error) {
	if !cfg.IsAvailable() {
		return nil, fmt.Errorf("%w: web search api key is not set", apperrors.ErrIntegrationNotConfigured)
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &GeminiSearcher{
		client:      client,
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		logger:      logger.Named("websearch"),
	}, nil
}

// Search issues the query and collects the answer text and grounding sources.
func (s *GeminiSearcher) Search(ctx context.Context, query string) (*models.WebSearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is empty")
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(query), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		Temperature:       genai.Ptr(s.temperature),
		Tools:             []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	})
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, &StatusError{Status: apiErr.Code, Message: apiErr.Message}
		}
		var apiErrPtr *genai.APIError
		if errors.As(err, &apiErrPtr) {
			return nil, &StatusError{Status: apiErrPtr.Code, Message: apiErrPtr.Message}
		}
		return nil, fmt.Errorf("web search: %w", err)
	}

	answer := strings.TrimSpace(resp.Text())
	if answer == "" {
		return nil, fmt.Errorf("web search returned no answer")
	}

	result := &models.WebSearchResult{Query: query, Answer: answer, Sources: groundingSources(resp)}
	s.logger.Debug("Web search completed",
		zap.Int("answer_length", len(answer)),
		zap.Int("sources", len(result.Sources)))
	return result, nil
}

// groundingSources returns the distinct web URIs of the first candidate, in order.
func groundingSources(resp *genai.GenerateContentResponse) []string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].GroundingMetadata == nil {
		return nil
	}

	seen := make(map[string]bool)
	var sources []string
	for _, chunk := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
		if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" || seen[chunk.Web.URI] {
			continue
		}
		seen[chunk.Web.URI] = true
		sources = append(sources, chunk.Web.URI)
	}
	return sources
}

var _ Searcher = (*GeminiSearcher)(nil)
