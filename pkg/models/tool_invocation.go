package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Tool invocation statuses.
const (
	InvocationStatusSuccess = "success"
	InvocationStatusError   = "error"
)

// RouterToolName is recorded for intent classification calls.
const RouterToolName = "router"

// ToolInvocationRecord is one write-once audit entry for a router or capability call.
type ToolInvocationRecord struct {
	ID        uuid.UUID       `json:"id"`
	ActorID   string          `json:"actor_id"`
	ProjectID uuid.UUID       `json:"project_id"`
	ToolName  string          `json:"tool_name"`
	Input     json.RawMessage `json:"input"`
	Output    json.RawMessage `json:"output"`
	Status    string          `json:"status"`
	Error     *string         `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewToolInvocationRecord builds an audit record from an input value and result envelope.
// Marshal failures are recorded as null so auditing never blocks the caller.
func NewToolInvocationRecord(actorID string, projectID uuid.UUID, tool string, input any, result ToolResult) *ToolInvocationRecord {
	rec := &ToolInvocationRecord{
		ID:        uuid.New(),
		ActorID:   actorID,
		ProjectID: projectID,
		ToolName:  tool,
		Input:     marshalOrNull(input),
		Output:    marshalOrNull(result),
		Status:    InvocationStatusSuccess,
	}
	if !result.Success {
		rec.Status = InvocationStatusError
		msg := result.Error
		rec.Error = &msg
	}
	return rec
}

func marshalOrNull(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
