package mcp

import (
	"context"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/auth"
	"github.com/ekaya-inc/ekaya-agent/pkg/mcp/tools"
)

// CallLogger logs one line per MCP tool call with its duration and outcome.
// Arguments are not logged; the capability layer records sanitized
// invocations itself.
type CallLogger struct {
	logger *zap.Logger
	now    func() time.Time

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
}

// NewCallLogger creates a CallLogger on the "mcp-calls" logger.
func NewCallLogger(logger *zap.Logger) *CallLogger {
	return &CallLogger{
		logger: logger.Named("mcp-calls"),
		now:    time.Now,
	}
}

// Hooks returns mcp-go Hooks that capture tool call events.
func (c *CallLogger) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(c.beforeCallTool)
	hooks.AddAfterCallTool(c.afterCallTool)
	hooks.AddOnError(c.onError)
	return hooks
}

func (c *CallLogger) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	c.startTimes.Store(id, c.now())
}

func (c *CallLogger) afterCallTool(ctx context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	fields := c.fields(ctx, id, req.Params.Name)
	isError := result != nil && result.IsError
	fields = append(fields, zap.Bool("is_error", isError))

	if isError {
		c.logger.Warn("MCP tool call returned an error result", fields...)
		return
	}
	c.logger.Info("MCP tool call", fields...)
}

func (c *CallLogger) onError(ctx context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}
	name := ""
	if req, ok := message.(*mcplib.CallToolRequest); ok {
		name = req.Params.Name
	}
	c.logger.Error("MCP tool call failed", append(c.fields(ctx, id, name), zap.Error(err))...)
}

func (c *CallLogger) fields(ctx context.Context, id any, tool string) []zap.Field {
	fields := []zap.Field{
		zap.String("tool", tool),
		zap.String("user_id", auth.GetUserIDFromContext(ctx)),
	}
	if projectID, ok := tools.ProjectIDFromContext(ctx); ok {
		fields = append(fields, zap.String("project_id", projectID.String()))
	}
	if start, ok := c.startTimes.LoadAndDelete(id); ok {
		fields = append(fields, zap.Duration("duration", c.now().Sub(start.(time.Time))))
	}
	return fields
}
