package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func serveMCP(t *testing.T, reqBody string, handler http.HandlerFunc) (*observer.ObservedLogs, *httptest.ResponseRecorder) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	wrapped := MCPRequestLogger(zap.New(core))(handler)

	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(reqBody))
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	return logs, rec
}

func TestMCPRequestLogger(t *testing.T) {
	t.Run("logs successful tool call", func(t *testing.T) {
		logs, _ := serveMCP(t,
			`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"list_repository_files","arguments":{"project_id":"p1"}}}`,
			func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"ok"}]}}`))
			})

		require.Equal(t, 2, logs.Len())
		requestLog := logs.All()[0]
		assert.Equal(t, "MCP request", requestLog.Message)
		assert.Equal(t, "tools/call", requestLog.ContextMap()["method"])
		assert.Equal(t, "list_repository_files", requestLog.ContextMap()["tool"])

		responseLog := logs.All()[1]
		assert.Equal(t, "MCP response success", responseLog.Message)
		assert.NotNil(t, responseLog.ContextMap()["duration"])
	})

	t.Run("logs json-rpc error", func(t *testing.T) {
		logs, _ := serveMCP(t,
			`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_database_schema"}}`,
			func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"bad params from postgres://u:pw@h/db"}}`))
			})

		require.Equal(t, 2, logs.Len())
		responseLog := logs.All()[1]
		assert.Equal(t, "MCP response error", responseLog.Message)
		assert.Equal(t, int64(-32602), responseLog.ContextMap()["error_code"])
		assert.NotContains(t, responseLog.ContextMap()["error_message"], "pw@")
	})

	t.Run("logs tool-level error result", func(t *testing.T) {
		logs, _ := serveMCP(t,
			`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"web_search"}}`,
			func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"isError":true,"content":[]}}`))
			})

		require.Equal(t, 2, logs.Len())
		assert.Equal(t, "MCP tool error", logs.All()[1].Message)
	})

	t.Run("does not parse streamed responses", func(t *testing.T) {
		logs, rec := serveMCP(t,
			`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"health"}}`,
			func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				_, _ = w.Write([]byte("data: {}\n\n"))
				w.(http.Flusher).Flush()
			})

		require.Equal(t, 2, logs.Len())
		assert.Equal(t, "MCP streamed response", logs.All()[1].Message)
		assert.True(t, rec.Flushed)
	})

	t.Run("passes body through to handler", func(t *testing.T) {
		body := `{"jsonrpc":"2.0","id":7,"method":"initialize"}`
		var seen string
		serveMCP(t, body, func(w http.ResponseWriter, r *http.Request) {
			buf := new(bytes.Buffer)
			_, _ = buf.ReadFrom(r.Body)
			seen = buf.String()
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":7,"result":{}}`))
		})
		assert.Equal(t, body, seen)
	})

	t.Run("nil logger passes through", func(t *testing.T) {
		called := false
		handler := MCPRequestLogger(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/mcp", nil))
		assert.True(t, called)
	})
}

func TestSanitizeArguments(t *testing.T) {
	assert.Nil(t, sanitizeArguments(nil))

	got := sanitizeArguments(map[string]any{
		"query":        "what is " + strings.Repeat("x", 300),
		"api_key":      "sk-live",
		"github_token": "ghp_x",
		"limit":        float64(10),
		"note":         "uses sk-proj-abcdefghijklmnop1234 internally",
	})

	assert.Equal(t, "[REDACTED]", got["api_key"])
	assert.Equal(t, "[REDACTED]", got["github_token"])
	assert.Equal(t, float64(10), got["limit"])
	assert.True(t, strings.HasSuffix(got["query"].(string), "..."))
	assert.LessOrEqual(t, len(got["query"].(string)), maxLoggedArgument+3)
	assert.NotContains(t, got["note"], "sk-proj-abcdefghijklmnop1234")
}
