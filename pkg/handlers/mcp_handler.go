package handlers

import (
	"net/http"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/mcp"
	mcpauth "github.com/ekaya-inc/ekaya-agent/pkg/mcp/auth"
	"github.com/ekaya-inc/ekaya-agent/pkg/middleware"
)

// MCPHandler serves the read-only MCP tools of one project over HTTP.
type MCPHandler struct {
	httpServer *server.StreamableHTTPServer
	logger     *zap.Logger
}

// NewMCPHandler creates a new MCP handler from an MCP server.
func NewMCPHandler(mcpServer *mcp.Server, logger *zap.Logger) *MCPHandler {
	return &MCPHandler{
		httpServer: mcpServer.NewStreamableHTTPServer(),
		logger:     logger,
	}
}

// RegisterRoutes registers POST /mcp/{pid}. The caller must own the project.
func (h *MCPHandler) RegisterRoutes(mux *http.ServeMux, mcpAuthMiddleware *mcpauth.Middleware, projectScope TenantMiddleware) {
	logged := middleware.MCPRequestLogger(h.logger)(h.httpServer)
	mux.HandleFunc("POST /mcp/{pid}", mcpAuthMiddleware.RequireAuth(projectScope(logged.ServeHTTP)))
	mux.HandleFunc("/mcp/{pid}", methodNotAllowed("POST"))
}

// methodNotAllowed answers 405 for any method other than allow.
// MCP over HTTP Streaming requires POST for JSON-RPC requests.
func methodNotAllowed(allow string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Allow", allow)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
