package models

import (
	"time"

	"github.com/google/uuid"
)

// MemoryEntry is a short fact remembered for a project and fed back into synthesis.
type MemoryEntry struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
