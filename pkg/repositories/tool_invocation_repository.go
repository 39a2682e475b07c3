package repositories

import (
	"context"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-agent/pkg/models"
)

// ToolInvocationRepository is the write-once audit log of router and capability calls.
type ToolInvocationRepository interface {
	Record(ctx context.Context, rec *models.ToolInvocationRecord) error
	ListRecent(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.ToolInvocationRecord, error)
}

type toolInvocationRepository struct{}

// NewToolInvocationRepository creates a new ToolInvocationRepository.
func NewToolInvocationRepository() ToolInvocationRepository {
	return &toolInvocationRepository{}
}

var _ ToolInvocationRepository = (*toolInvocationRepository)(nil)

func (r *toolInvocationRepository) Record(ctx context.Context, rec *models.ToolInvocationRecord) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	err = c.QueryRow(ctx, `
		INSERT INTO agent_tool_invocations (id, actor_id, project_id, tool_name, input, output, status, error)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7, $8)
		RETURNING created_at`,
		rec.ID, rec.ActorID, rec.ProjectID, rec.ToolName,
		rawJSON(rec.Input), rawJSON(rec.Output), rec.Status, rec.Error,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return wrap("record tool invocation", err)
	}
	return nil
}

func (r *toolInvocationRepository) ListRecent(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.ToolInvocationRecord, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit, 50, 500)

	rows, err := c.Query(ctx, `
		SELECT id, actor_id, project_id, tool_name, input, output, status, error, created_at
		FROM agent_tool_invocations
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, projectID, limit)
	if err != nil {
		return nil, wrap("list tool invocations", err)
	}
	defer rows.Close()

	var records []*models.ToolInvocationRecord
	for rows.Next() {
		var rec models.ToolInvocationRecord
		var input, output []byte
		if err := rows.Scan(&rec.ID, &rec.ActorID, &rec.ProjectID, &rec.ToolName,
			&input, &output, &rec.Status, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, wrap("scan tool invocation", err)
		}
		rec.Input, rec.Output = input, output
		records = append(records, &rec)
	}
	return records, rows.Err()
}
