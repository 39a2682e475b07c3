package models

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionStatus_CanTransitionTo(t *testing.T) {
	all := []ActionStatus{ActionStatusPending, ActionStatusExecuting, ActionStatusExecuted, ActionStatusFailed}
	allowed := map[ActionStatus][]ActionStatus{
		ActionStatusPending:   {ActionStatusExecuting},
		ActionStatusExecuting: {ActionStatusExecuted, ActionStatusFailed},
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestActionStatus_IsTerminal(t *testing.T) {
	assert.False(t, ActionStatusPending.IsTerminal())
	assert.False(t, ActionStatusExecuting.IsTerminal())
	assert.True(t, ActionStatusExecuted.IsTerminal())
	assert.True(t, ActionStatusFailed.IsTerminal())
}

func TestIsValidActionStatus(t *testing.T) {
	assert.True(t, IsValidActionStatus("pending"))
	assert.True(t, IsValidActionStatus("failed"))
	assert.False(t, IsValidActionStatus("approved"))
	assert.False(t, IsValidActionStatus(""))
}

func TestNewStatementAction(t *testing.T) {
	projectID := uuid.New()
	action, err := NewStatementAction(projectID, "user-1", StatementPayload{
		Statement:           "DELETE FROM sessions",
		Destructive:         true,
		DestructiveKeywords: []string{"DELETE"},
	})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, action.ID)
	assert.Equal(t, projectID, action.ProjectID)
	assert.Equal(t, ActionKindExecuteStatement, action.Kind)
	assert.Equal(t, ActionStatusPending, action.Status)

	payload, err := action.StatementPayload()
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM sessions", payload.Statement)
	assert.True(t, payload.Destructive)

	_, err = action.FileEditPayload()
	assert.Error(t, err, "statement action must not decode as file edit")
}

func TestNewFileEditAction(t *testing.T) {
	action, err := NewFileEditAction(uuid.New(), "user-1", FileEditPayload{
		Path:        "docs/setup.md",
		Description: "document the redis settings",
		Branch:      "main",
	})
	require.NoError(t, err)

	decoded, err := action.DecodedPayload()
	require.NoError(t, err)
	assert.Equal(t, FileEditPayload{Path: "docs/setup.md", Description: "document the redis settings", Branch: "main"}, decoded)
}

func TestPendingAction_EmptyPayloadNotExecutable(t *testing.T) {
	action := &PendingAction{Kind: ActionKindExecuteStatement, Payload: json.RawMessage(`{"statement":""}`)}
	_, err := action.StatementPayload()
	assert.Error(t, err)

	edit := &PendingAction{Kind: ActionKindEditFile, Payload: json.RawMessage(`{"path":"a.go"}`)}
	_, err = edit.FileEditPayload()
	assert.Error(t, err)
}

func TestNewActionDescriptor(t *testing.T) {
	action, err := NewStatementAction(uuid.New(), "user-1", StatementPayload{Statement: "UPDATE t SET a = 1 WHERE id = 2"})
	require.NoError(t, err)

	d := NewActionDescriptor(action, map[string]string{"statement": "x"}, nil)
	assert.True(t, d.Success)
	assert.True(t, d.IsPendingAction)
	assert.Equal(t, action.ID.String(), d.ActionID)

	raw, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"isPendingAction":true`)

	failed := FailedActionDescriptor(ActionKindEditFile, "no path")
	assert.False(t, failed.Success)
	assert.False(t, failed.IsPendingAction)
	assert.Equal(t, "no path", failed.Error)
}

func TestCompleteEvent_ReflectsTerminalState(t *testing.T) {
	action, _ := NewStatementAction(uuid.New(), "u", StatementPayload{Statement: "SELECT 1"})

	action.Status = ActionStatusExecuted
	ev := NewCompleteEvent(action)
	require.NotNil(t, ev.Success)
	assert.True(t, *ev.Success)
	assert.Empty(t, ev.Error)

	msg := "timeout"
	action.Status = ActionStatusFailed
	action.Error = &msg
	ev = NewCompleteEvent(action)
	assert.False(t, *ev.Success)
	assert.Equal(t, "timeout", ev.Error)
}
