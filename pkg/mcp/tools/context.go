package tools

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type projectIDKey struct{}

// WithProjectID stores the project a tool call is scoped to.
func WithProjectID(ctx context.Context, projectID uuid.UUID) context.Context {
	return context.WithValue(ctx, projectIDKey{}, projectID)
}

// ProjectIDFromContext returns the project stored by WithProjectID.
func ProjectIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(projectIDKey{}).(uuid.UUID)
	return id, ok
}

// ProjectContextFunc copies the {pid} path value of the MCP request into the
// tool call context. Requests with a malformed pid pass through unchanged and
// tools report the missing project.
func ProjectContextFunc(ctx context.Context, r *http.Request) context.Context {
	if id, err := uuid.Parse(r.PathValue("pid")); err == nil {
		return WithProjectID(ctx, id)
	}
	return ctx
}
