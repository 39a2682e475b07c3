// Package tools provides the MCP tools of ekaya-agent.
// Only read-only capabilities are exposed; proposals and confirmations stay
// behind the chat and confirmation endpoints.
package tools

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/auth"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
	"github.com/ekaya-inc/ekaya-agent/pkg/services"
)

// CapabilityToolDeps holds the dependencies of the capability tools.
type CapabilityToolDeps struct {
	Capabilities services.CapabilityService
	// WebSearchEnabled hides web_search when no search backend is configured.
	WebSearchEnabled bool
	Logger           *zap.Logger
}

// RegisterCapabilityTools adds list_repository_files, get_database_schema and,
// when enabled, web_search to the MCP server.
func RegisterCapabilityTools(s *server.MCPServer, deps *CapabilityToolDeps) {
	s.AddTool(mcp.NewTool(
		string(models.ToolListRepositoryFiles),
		mcp.WithDescription("Lists files in the project's linked repository"),
		mcp.WithString("path_prefix", mcp.Description("Only list files under this path")),
		mcp.WithReadOnlyHintAnnotation(true),
	), deps.handler(func(req mcp.CallToolRequest) models.ToolParams {
		return models.ListRepositoryFilesParams{PathPrefix: strings.TrimSpace(req.GetString("path_prefix", ""))}
	}))

	s.AddTool(mcp.NewTool(
		string(models.ToolGetDatabaseSchema),
		mcp.WithDescription("Returns tables and columns of the project's linked database"),
		mcp.WithString("table_filter", mcp.Description("Only include tables whose name contains this text")),
		mcp.WithReadOnlyHintAnnotation(true),
	), deps.handler(func(req mcp.CallToolRequest) models.ToolParams {
		return models.GetDatabaseSchemaParams{TableFilter: strings.TrimSpace(req.GetString("table_filter", ""))}
	}))

	if deps.WebSearchEnabled {
		s.AddTool(mcp.NewTool(
			string(models.ToolWebSearch),
			mcp.WithDescription("Answers a question from a grounded web search and lists its sources"),
			mcp.WithString("query", mcp.Required(), mcp.Description("The search query")),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithOpenWorldHintAnnotation(true),
		), deps.handler(func(req mcp.CallToolRequest) models.ToolParams {
			return models.WebSearchParams{Query: strings.TrimSpace(req.GetString("query", ""))}
		}))
	}
}

// handler adapts a parameter decoder to an MCP tool handler that runs the
// capability for the caller and the project bound to the request.
func (d *CapabilityToolDeps) handler(decode func(mcp.CallToolRequest) models.ToolParams) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID := auth.GetUserIDFromContext(ctx)
		if userID == "" {
			return NewErrorResult("authentication_required", "authentication required"), nil
		}
		projectID, ok := ProjectIDFromContext(ctx)
		if !ok {
			return NewErrorResult("invalid_project_id", "the MCP endpoint is not bound to a project"), nil
		}

		params := decode(req)
		if err := params.Validate(); err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		result := d.Capabilities.Invoke(ctx, userID, projectID, params)
		if !result.Success {
			d.Logger.Debug("MCP capability failed",
				zap.String("tool", string(params.Tool())),
				zap.String("project_id", projectID.String()),
				zap.String("error", result.Error))
			return NewErrorResult("tool_failed", result.Error), nil
		}
		return jsonResult(result.Data)
	}
}
