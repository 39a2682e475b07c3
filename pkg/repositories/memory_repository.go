package repositories

import (
	"context"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-agent/pkg/models"
)

// MemoryRepository stores project memory entries.
type MemoryRepository interface {
	Add(ctx context.Context, entry *models.MemoryEntry) error
	// ListRecent returns up to limit of the newest entries, newest first.
	ListRecent(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.MemoryEntry, error)
}

type memoryRepository struct{}

// NewMemoryRepository creates a new MemoryRepository.
func NewMemoryRepository() MemoryRepository {
	return &memoryRepository{}
}

var _ MemoryRepository = (*memoryRepository)(nil)

func (r *memoryRepository) Add(ctx context.Context, entry *models.MemoryEntry) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	err = c.QueryRow(ctx, `
		INSERT INTO agent_memory_entries (id, project_id, user_id, content)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		entry.ID, entry.ProjectID, entry.UserID, entry.Content,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return wrap("add memory entry", err)
	}
	return nil
}

func (r *memoryRepository) ListRecent(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.MemoryEntry, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit, 10, 100)

	rows, err := c.Query(ctx, `
		SELECT id, project_id, user_id, content, created_at
		FROM agent_memory_entries
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, projectID, limit)
	if err != nil {
		return nil, wrap("list memory entries", err)
	}
	defer rows.Close()

	var entries []*models.MemoryEntry
	for rows.Next() {
		var e models.MemoryEntry
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.UserID, &e.Content, &e.CreatedAt); err != nil {
			return nil, wrap("scan memory entry", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
