package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/models"
	"github.com/ekaya-inc/ekaya-agent/pkg/repositories"
)

// invocationRecorder writes the audit trail of router and capability calls.
// Failures are logged and never reach the caller.
type invocationRecorder struct {
	repo   repositories.ToolInvocationRepository
	logger *zap.Logger
}

func newInvocationRecorder(repo repositories.ToolInvocationRepository, logger *zap.Logger) *invocationRecorder {
	return &invocationRecorder{repo: repo, logger: logger}
}

// record stores one entry. It runs on a context detached from the request so
// a client disconnect does not drop the audit entry.
func (r *invocationRecorder) record(ctx context.Context, actorID string, projectID uuid.UUID, tool string, input any, result models.ToolResult) {
	if r == nil || r.repo == nil {
		return
	}
	rec := models.NewToolInvocationRecord(actorID, projectID, tool, input, result)
	if err := r.repo.Record(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.Error("Failed to record tool invocation",
			zap.String("project_id", projectID.String()),
			zap.String("tool", tool),
			zap.Error(err))
	}
}
