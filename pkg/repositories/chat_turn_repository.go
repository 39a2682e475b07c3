package repositories

import (
	"context"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-agent/pkg/models"
)

// ChatTurnRepository is the append-only transcript store.
// There is intentionally no update or delete path.
type ChatTurnRepository interface {
	// Append inserts a turn and fills its ID and CreatedAt.
	Append(ctx context.Context, turn *models.ChatTurn) error
	// ListRecent returns up to limit of the newest turns, oldest first.
	ListRecent(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.ChatTurn, error)
}

type chatTurnRepository struct{}

// NewChatTurnRepository creates a new ChatTurnRepository.
func NewChatTurnRepository() ChatTurnRepository {
	return &chatTurnRepository{}
}

var _ ChatTurnRepository = (*chatTurnRepository)(nil)

func (r *chatTurnRepository) Append(ctx context.Context, turn *models.ChatTurn) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	metadata := turn.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	err = c.QueryRow(ctx, `
		INSERT INTO agent_chat_turns (project_id, user_id, role, content, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		turn.ProjectID, turn.UserID, string(turn.Role), turn.Content, metadata,
	).Scan(&turn.ID, &turn.CreatedAt)
	if err != nil {
		return wrap("append chat turn", err)
	}
	return nil
}

func (r *chatTurnRepository) ListRecent(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.ChatTurn, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit, 50, 500)

	rows, err := c.Query(ctx, `
		SELECT id, project_id, user_id, role, content, metadata, created_at FROM (
			SELECT id, project_id, user_id, role, content, metadata, created_at
			FROM agent_chat_turns
			WHERE project_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC`, projectID, limit)
	if err != nil {
		return nil, wrap("list chat turns", err)
	}
	defer rows.Close()

	var turns []*models.ChatTurn
	for rows.Next() {
		var t models.ChatTurn
		var role string
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.UserID, &role, &t.Content, &t.Metadata, &t.CreatedAt); err != nil {
			return nil, wrap("scan chat turn", err)
		}
		t.Role = models.ChatRole(role)
		turns = append(turns, &t)
	}
	return turns, rows.Err()
}
