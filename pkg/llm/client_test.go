package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturedRequest struct {
	Model          string            `json:"model"`
	Stream         bool              `json:"stream"`
	Messages       []Message         `json:"messages"`
	ResponseFormat map[string]string `json:"response_format"`
}

func newFakeOpenAI(t *testing.T, handler func(w http.ResponseWriter, body capturedRequest, r *http.Request)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var body capturedRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		handler(w, body, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(&Config{Endpoint: server.URL + "/v1/", Model: "test-model", APIKey: "sk-test"}, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresEndpointAndModel(t *testing.T) {
	_, err := NewClient(&Config{Model: "m"}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewClient(&Config{Endpoint: "http://localhost"}, zap.NewNop())
	assert.Error(t, err)
}

func TestClient_Complete_JSONMode(t *testing.T) {
	var got capturedRequest
	var requestID string
	server := newFakeOpenAI(t, func(w http.ResponseWriter, body capturedRequest, r *http.Request) {
		got = body
		requestID = r.Header.Get(requestIDHeader)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"test-model",
			"choices":[{"index":0,"message":{"role":"assistant","content":"{\"tool\":\"none\"}"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}`))
	})
	client := newTestClient(t, server)

	ctx := WithRequestID(context.Background(), "turn-42")
	out, err := client.Complete(ctx, &CompletionRequest{
		SystemPrompt: "classify",
		Messages:     []Message{{Role: RoleUser, Content: "hi"}},
		JSONMode:     true,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"tool":"none"}`, out)
	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, "json_object", got.ResponseFormat["type"])
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "turn-42", requestID)
}

func TestClient_Complete_ClassifiesAuthError(t *testing.T) {
	server := newFakeOpenAI(t, func(w http.ResponseWriter, _ capturedRequest, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	})
	client := newTestClient(t, server)

	_, err := client.Complete(context.Background(), &CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.Error(t, err)

	var llmErr *Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, ErrorTypeAuth, llmErr.Type)
	assert.Equal(t, 401, llmErr.StatusCode)
	assert.Equal(t, "test-model", llmErr.Model)
	assert.False(t, llmErr.Retryable)
}

func TestClient_Stream_ForwardsChunksInOrder(t *testing.T) {
	server := newFakeOpenAI(t, func(w http.ResponseWriter, body capturedRequest, _ *http.Request) {
		assert.True(t, body.Stream)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"Hel", "lo", " world"} {
			fmt.Fprintf(w, "data: {\"id\":\"s1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"test-model\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", piece)
			w.(http.Flusher).Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	client := newTestClient(t, server)

	events, err := client.Stream(context.Background(), &CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)

	var chunks []string
	var sawDone bool
	for ev := range events {
		switch ev.Type {
		case StreamEventText:
			chunks = append(chunks, ev.Content)
		case StreamEventDone:
			sawDone = true
		case StreamEventError:
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}

	assert.Equal(t, []string{"Hel", "lo", " world"}, chunks)
	assert.True(t, sawDone)
}

func TestClient_Stream_StartFailure(t *testing.T) {
	server := newFakeOpenAI(t, func(w http.ResponseWriter, _ capturedRequest, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	})
	client := newTestClient(t, server)

	_, err := client.Stream(context.Background(), &CompletionRequest{})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, ErrorTypeEndpoint, GetErrorType(err))
}
