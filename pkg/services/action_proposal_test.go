package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-agent/pkg/audit"
	"github.com/ekaya-inc/ekaya-agent/pkg/cache"
	"github.com/ekaya-inc/ekaya-agent/pkg/llm"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
)

type proposalFixture struct {
	pending     *memPendingRepo
	invocations *memInvocationRepo
	mock        *llm.MockCompleter
	cache       *mapCache
	logs        *observer.ObservedLogs
	builder     ActionProposalBuilder
	tc          *TurnContext
}

func newProposalFixture(draft string) *proposalFixture {
	core, logs := observer.New(zapcore.DebugLevel)
	f := &proposalFixture{
		pending:     newMemPendingRepo(),
		invocations: &memInvocationRepo{},
		mock:        llm.NewMockCompleter(draft),
		cache:       newMapCache(),
		logs:        logs,
	}
	f.builder = NewActionProposalBuilder(f.pending, f.invocations, llm.NewMockClientFactory(f.mock), f.cache,
		audit.NewSecurityAuditor(zap.New(core)), time.Second, "main", zap.NewNop())
	project := linkedProject()
	f.tc = &TurnContext{ProjectID: project.ID, UserID: testOwner, Project: project}
	return f
}

func TestProposeStatement_UsesGivenStatement(t *testing.T) {
	f := newProposalFixture("")

	desc, action := f.builder.Propose(context.Background(), f.tc, models.ProposeStatementParams{
		Request:   "delete all rows from sessions",
		Statement: "DELETE FROM sessions;",
	})

	require.NotNil(t, action)
	assert.True(t, desc.Success)
	assert.True(t, desc.IsPendingAction)
	assert.Equal(t, action.ID.String(), desc.ActionID)
	assert.Equal(t, models.ActionKindExecuteStatement, desc.ActionType)
	assert.Equal(t, models.ActionStatusPending, action.Status)
	assert.Zero(t, f.mock.Calls(), "no drafting when a statement is given")

	payload := desc.Payload.(models.StatementPayload)
	assert.Equal(t, "DELETE FROM sessions", payload.Statement)
	assert.True(t, payload.Destructive)
	assert.Equal(t, []string{"DELETE"}, payload.DestructiveKeywords)
	assert.Equal(t, 1, f.pending.created)
	assert.Equal(t, 1, f.logs.FilterMessage("Destructive action proposed").Len())

	records := f.invocations.all()
	require.Len(t, records, 1)
	assert.Equal(t, string(models.ToolProposeStatementExecution), records[0].ToolName)
	assert.Equal(t, models.InvocationStatusSuccess, records[0].Status)
	assert.Contains(t, string(records[0].Output), action.ID.String())
}

func TestProposeStatement_DraftsFromRequest(t *testing.T) {
	f := newProposalFixture("```sql\nUPDATE orders SET status = 'shipped' WHERE id = 7\n```")
	require.NoError(t, f.cache.Set(context.Background(), f.tc.ProjectID, cache.KindSchema, "", &models.DatabaseSchema{
		Tables: []models.SchemaTable{{Schema: "public", Name: "orders", Columns: []models.SchemaColumn{{Name: "status", Type: "text"}}}},
	}))

	desc, action := f.builder.Propose(context.Background(), f.tc, models.ProposeStatementParams{Request: "mark order 7 shipped"})

	require.NotNil(t, action)
	payload := desc.Payload.(models.StatementPayload)
	assert.Equal(t, "UPDATE orders SET status = 'shipped' WHERE id = 7", payload.Statement)
	assert.False(t, payload.Destructive)
	assert.Equal(t, "mark order 7 shipped", payload.Request)

	reqs := f.mock.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].SystemPrompt, "PostgreSQL")
	assert.Contains(t, reqs[0].SystemPrompt, "public.orders(status text)")

	records := f.invocations.all()
	require.Len(t, records, 2)
	assert.Equal(t, draftStatementTool, records[0].ToolName)
	assert.Equal(t, models.InvocationStatusSuccess, records[0].Status)
	assert.Contains(t, string(records[0].Input), "mark order 7 shipped")
	assert.Contains(t, string(records[0].Output), "WHERE id = 7")
	assert.Equal(t, string(models.ToolProposeStatementExecution), records[1].ToolName)
	assert.Equal(t, models.InvocationStatusSuccess, records[1].Status)
}

func TestProposeStatement_RejectsMultipleStatements(t *testing.T) {
	f := newProposalFixture("DELETE FROM a; DROP TABLE b;")

	desc, action := f.builder.Propose(context.Background(), f.tc, models.ProposeStatementParams{Request: "clean up"})

	assert.Nil(t, action)
	assert.False(t, desc.Success)
	assert.False(t, desc.IsPendingAction)
	assert.Contains(t, desc.Error, "multiple SQL statements")
	assert.Zero(t, f.pending.created)
}

func TestProposeStatement_DraftFailure(t *testing.T) {
	f := newProposalFixture("")
	f.mock.Err = errors.New("model unavailable")

	desc, action := f.builder.Propose(context.Background(), f.tc, models.ProposeStatementParams{Request: "remove old rows"})

	assert.Nil(t, action)
	assert.False(t, desc.Success)
	assert.NotEmpty(t, desc.Error)
	assert.Zero(t, f.pending.created)

	records := f.invocations.all()
	require.Len(t, records, 2)
	assert.Equal(t, draftStatementTool, records[0].ToolName)
	assert.Equal(t, models.InvocationStatusError, records[0].Status)
	require.NotNil(t, records[0].Error)
	assert.Contains(t, *records[0].Error, "model unavailable")
	assert.Equal(t, models.InvocationStatusError, records[1].Status)
	require.NotNil(t, records[1].Error)
	assert.Equal(t, desc.Error, *records[1].Error)
}

func TestProposeStatement_RequiresDatabase(t *testing.T) {
	f := newProposalFixture("")
	f.tc.Project.DatabaseURL = ""

	desc, action := f.builder.Propose(context.Background(), f.tc, models.ProposeStatementParams{Statement: "DELETE FROM x"})

	assert.Nil(t, action)
	assert.Equal(t, msgDatabaseNotConfigured, desc.Error)
}

func TestProposeStatement_FlagsInjectionLiteral(t *testing.T) {
	f := newProposalFixture("")

	desc, action := f.builder.Propose(context.Background(), f.tc, models.ProposeStatementParams{
		Statement: "UPDATE customers SET note = ''' OR ''1''=''1' WHERE id = 7",
	})

	require.NotNil(t, action)
	require.NotEmpty(t, desc.Warnings)
	assert.Equal(t, 1, f.logs.FilterMessage("Possible SQL injection in generated statement").Len())
}

func TestProposeFileEdit(t *testing.T) {
	f := newProposalFixture("")
	f.tc.Project.RepoBranch = "develop"

	desc, action := f.builder.Propose(context.Background(), f.tc, models.ProposeFileEditParams{
		Path:        "/docs//guide.md",
		Description: "fix the typo in the title",
	})

	require.NotNil(t, action)
	assert.Equal(t, models.ActionKindEditFile, action.Kind)
	payload := desc.Payload.(models.FileEditPayload)
	assert.Equal(t, "docs/guide.md", payload.Path)
	assert.Equal(t, "develop", payload.Branch)
	assert.Zero(t, f.mock.Calls(), "content is rewritten at execution time")
}

func TestProposeFileEdit_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(tc *TurnContext)
		path   string
		want   string
	}{
		{"no repository", func(tc *TurnContext) { tc.Project.RepoName = "" }, "README.md", msgRepoNotConfigured},
		{"escapes root", func(*TurnContext) {}, "../etc/passwd", "escapes the repository root"},
		{"directory only", func(*TurnContext) {}, "/", "path is empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newProposalFixture("")
			tt.mutate(f.tc)

			desc, action := f.builder.Propose(context.Background(), f.tc, models.ProposeFileEditParams{Path: tt.path, Description: "change"})

			assert.Nil(t, action)
			assert.Contains(t, desc.Error, tt.want)
			assert.Zero(t, f.pending.created)

			records := f.invocations.all()
			require.Len(t, records, 1)
			assert.Equal(t, string(models.ToolProposeFileEdit), records[0].ToolName)
			assert.Equal(t, models.InvocationStatusError, records[0].Status)
		})
	}
}

func TestNormalizeRepoPath(t *testing.T) {
	tests := map[string]string{
		"README.md":          "README.md",
		"/src/app/main.go":   "src/app/main.go",
		"src\\win\\file.txt": "src/win/file.txt",
		"a/./b/../c.txt":     "a/c.txt",
	}
	for in, want := range tests {
		got, err := normalizeRepoPath(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
