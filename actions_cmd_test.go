package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-agent/pkg/models"
)

func TestRenderActions(t *testing.T) {
	interrupted := "interrupted"
	actions := []*models.PendingAction{
		{
			ID:        uuid.MustParse("6f1c1d52-3b8e-4f4c-9b53-1d2f1f0a9c11"),
			Kind:      models.ActionKindExecuteStatement,
			Status:    models.ActionStatusFailed,
			UserID:    "user-1",
			Error:     &interrupted,
			CreatedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		},
		{
			ID:        uuid.New(),
			Kind:      models.ActionKindEditFile,
			Status:    models.ActionStatusPending,
			UserID:    "user-1",
			CreatedAt: time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	renderActions(&buf, actions)
	out := buf.String()

	assert.Contains(t, out, "6f1c1d52-3b8e-4f4c-9b53-1d2f1f0a9c11")
	assert.Contains(t, out, "execute_statement")
	assert.Contains(t, out, "edit_file")
	assert.Contains(t, out, "interrupted")
	assert.Contains(t, out, "2026-03-02T10:00:00Z")
}

func TestRootCommand_HasOperatorSubcommands(t *testing.T) {
	root := newRootCmd()

	for _, path := range [][]string{{"serve"}, {"migrate"}, {"actions", "list"}} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, "command %v", path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	list, _, err := root.Find([]string{"actions", "list"})
	require.NoError(t, err)
	assert.NotNil(t, list.Flags().Lookup("project"))
	assert.Equal(t, "50", list.Flags().Lookup("limit").DefValue)
}
