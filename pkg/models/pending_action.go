package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionKind identifies the side effect a pending action will perform.
type ActionKind string

const (
	ActionKindExecuteStatement ActionKind = "execute_statement"
	ActionKindEditFile         ActionKind = "edit_file"
)

// IsValid reports whether k is a known action kind.
func (k ActionKind) IsValid() bool {
	return k == ActionKindExecuteStatement || k == ActionKindEditFile
}

// ActionStatus is the lifecycle state of a pending action.
type ActionStatus string

const (
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusExecuting ActionStatus = "executing"
	ActionStatusExecuted  ActionStatus = "executed"
	ActionStatusFailed    ActionStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s ActionStatus) IsTerminal() bool {
	return s == ActionStatusExecuted || s == ActionStatusFailed
}

// CanTransitionTo is the single transition function of the action lifecycle:
// pending -> executing -> {executed, failed}. Nothing ever returns to pending.
func (s ActionStatus) CanTransitionTo(next ActionStatus) bool {
	switch s {
	case ActionStatusPending:
		return next == ActionStatusExecuting
	case ActionStatusExecuting:
		return next == ActionStatusExecuted || next == ActionStatusFailed
	default:
		return false
	}
}

// IsValidActionStatus checks if the given status is valid.
func IsValidActionStatus(s string) bool {
	switch ActionStatus(s) {
	case ActionStatusPending, ActionStatusExecuting, ActionStatusExecuted, ActionStatusFailed:
		return true
	}
	return false
}

// StatementPayload is the payload of an execute_statement action.
type StatementPayload struct {
	Statement           string   `json:"statement"`
	Request             string   `json:"request,omitempty"`
	Destructive         bool     `json:"destructive"`
	DestructiveKeywords []string `json:"destructive_keywords,omitempty"`
}

// FileEditPayload is the payload of an edit_file action.
// The new content is produced at execution time from the file's then-current content.
type FileEditPayload struct {
	Path        string `json:"path"`
	Description string `json:"description"`
	Branch      string `json:"branch,omitempty"`
}

// PendingAction is a proposed side effect awaiting explicit confirmation.
type PendingAction struct {
	ID          uuid.UUID       `json:"id"`
	ProjectID   uuid.UUID       `json:"project_id"`
	UserID      string          `json:"user_id"`
	Kind        ActionKind      `json:"action_type"`
	Payload     json.RawMessage `json:"payload"`
	Status      ActionStatus    `json:"status"`
	Result      map[string]any  `json:"result,omitempty"`
	Error       *string         `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ExecutingAt *time.Time      `json:"executing_at,omitempty"`
	ExecutedAt  *time.Time      `json:"executed_at,omitempty"`
}

// NewStatementAction builds a pending execute_statement action.
func NewStatementAction(projectID uuid.UUID, userID string, payload StatementPayload) (*PendingAction, error) {
	return newPendingAction(projectID, userID, ActionKindExecuteStatement, payload)
}

// NewFileEditAction builds a pending edit_file action.
func NewFileEditAction(projectID uuid.UUID, userID string, payload FileEditPayload) (*PendingAction, error) {
	return newPendingAction(projectID, userID, ActionKindEditFile, payload)
}

func newPendingAction(projectID uuid.UUID, userID string, kind ActionKind, payload any) (*PendingAction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return &PendingAction{
		ID:        uuid.New(),
		ProjectID: projectID,
		UserID:    userID,
		Kind:      kind,
		Payload:   raw,
		Status:    ActionStatusPending,
	}, nil
}

// StatementPayload decodes the payload of an execute_statement action.
func (a *PendingAction) StatementPayload() (StatementPayload, error) {
	var p StatementPayload
	if a.Kind != ActionKindExecuteStatement {
		return p, fmt.Errorf("action %s is %s, not %s", a.ID, a.Kind, ActionKindExecuteStatement)
	}
	if err := json.Unmarshal(a.Payload, &p); err != nil {
		return p, fmt.Errorf("decode statement payload: %w", err)
	}
	if p.Statement == "" {
		return p, fmt.Errorf("statement payload is empty")
	}
	return p, nil
}

// FileEditPayload decodes the payload of an edit_file action.
func (a *PendingAction) FileEditPayload() (FileEditPayload, error) {
	var p FileEditPayload
	if a.Kind != ActionKindEditFile {
		return p, fmt.Errorf("action %s is %s, not %s", a.ID, a.Kind, ActionKindEditFile)
	}
	if err := json.Unmarshal(a.Payload, &p); err != nil {
		return p, fmt.Errorf("decode file edit payload: %w", err)
	}
	if p.Path == "" || p.Description == "" {
		return p, fmt.Errorf("file edit payload is incomplete")
	}
	return p, nil
}

// DecodedPayload returns the typed payload as an any, for event and prompt rendering.
func (a *PendingAction) DecodedPayload() (any, error) {
	switch a.Kind {
	case ActionKindExecuteStatement:
		return a.StatementPayload()
	case ActionKindEditFile:
		return a.FileEditPayload()
	default:
		return nil, fmt.Errorf("unknown action kind %q", a.Kind)
	}
}

// ActionDescriptor is what the proposal builder hands to the synthesizer.
type ActionDescriptor struct {
	Success         bool       `json:"success"`
	ActionID        string     `json:"action_id,omitempty"`
	ActionType      ActionKind `json:"action_type,omitempty"`
	Payload         any        `json:"payload,omitempty"`
	IsPendingAction bool       `json:"isPendingAction"`
	Error           string     `json:"error,omitempty"`
	Warnings        []string   `json:"warnings,omitempty"`
}

// NewActionDescriptor describes a persisted proposal.
func NewActionDescriptor(action *PendingAction, payload any, warnings []string) *ActionDescriptor {
	return &ActionDescriptor{
		Success:         true,
		ActionID:        action.ID.String(),
		ActionType:      action.Kind,
		Payload:         payload,
		IsPendingAction: true,
		Warnings:        warnings,
	}
}

// FailedActionDescriptor describes a proposal that could not be built.
func FailedActionDescriptor(kind ActionKind, reason string) *ActionDescriptor {
	return &ActionDescriptor{
		Success:    false,
		ActionType: kind,
		Error:      reason,
	}
}
