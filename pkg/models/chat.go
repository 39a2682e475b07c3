package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Chat Roles
// ============================================================================

// ChatRole represents the author of a chat turn.
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// IsValidChatRole checks if the given role is valid.
func IsValidChatRole(r ChatRole) bool {
	return r == ChatRoleUser || r == ChatRoleAssistant
}

// Metadata keys stored alongside assistant turns.
const (
	TurnMetaTool     = "tool"
	TurnMetaActionID = "action_id"
	TurnMetaPartial  = "partial"
	TurnMetaError    = "error"
)

// ============================================================================
// Chat Turn
// ============================================================================

// ChatTurn is one immutable message in a project's conversation.
// Turns are ordered by (CreatedAt, ID) and never updated or deleted.
type ChatTurn struct {
	ID        int64          `json:"id"`
	ProjectID uuid.UUID      `json:"project_id"`
	UserID    string         `json:"user_id"`
	Role      ChatRole       `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// IsFromUser returns true if the turn was authored by the user.
func (t *ChatTurn) IsFromUser() bool {
	return t.Role == ChatRoleUser
}

// IsFromAssistant returns true if the turn was authored by the assistant.
func (t *ChatTurn) IsFromAssistant() bool {
	return t.Role == ChatRoleAssistant
}
