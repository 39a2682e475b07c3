package services

import (
	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-agent/pkg/models"
)

// TurnContext is the request-scoped state of one chat turn. Each pipeline
// stage reads what earlier stages wrote. It is never shared between turns.
type TurnContext struct {
	ProjectID uuid.UUID
	UserID    string
	Message   string

	Project  *models.Project
	History  []*models.ChatTurn
	Memories []*models.MemoryEntry

	Selection  models.ToolSelection
	ToolResult *models.ToolResult

	// Set when the turn produced a proposal.
	Descriptor *models.ActionDescriptor
	Action     *models.PendingAction
}
