package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-agent/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-agent/pkg/adapters/repository"
	"github.com/ekaya-inc/ekaya-agent/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
	"github.com/ekaya-inc/ekaya-agent/pkg/retry"
)

type capabilityFixture struct {
	project     *models.Project
	vault       *fakeVault
	host        *fakeHost
	opener      *fakeOpener
	searcher    *fakeSearcher
	cache       *mapCache
	memory      *memMemoryRepo
	invocations *memInvocationRepo
}

func newCapabilityFixture() *capabilityFixture {
	project := linkedProject()
	return &capabilityFixture{
		project: project,
		vault: &fakeVault{creds: &models.ProjectCredentials{
			Project:     project,
			RepoToken:   "ghp_token",
			DatabaseKey: "db-pass",
		}},
		host: &fakeHost{listFn: func(repo repository.Repo, prefix string, limit int) (*models.RepositoryFileList, error) {
			return &models.RepositoryFileList{
				Repository: repo.FullName(),
				Branch:     repo.Branch,
				Files:      []models.RepositoryFile{{Path: "README.md", Size: 10}, {Path: "main.go", Size: 200}},
				TotalFiles: 2,
			}, nil
		}},
		opener: &fakeOpener{conn: &fakeConn{
			tables: []datasource.TableRef{{Schema: "public", Name: "orders"}},
			columns: map[string][]models.SchemaColumn{
				"public.orders": {{Name: "id", Type: "uuid"}, {Name: "total", Type: "numeric", Nullable: true}},
			},
			executed: new(atomic.Int32),
		}},
		searcher:    &fakeSearcher{result: &models.WebSearchResult{Answer: "Go 1.25", Sources: []string{"https://go.dev"}}},
		cache:       newMapCache(),
		memory:      &memMemoryRepo{},
		invocations: &memInvocationRepo{},
	}
}

func (f *capabilityFixture) service() *capabilityService {
	deps := CapabilityDeps{
		Vault:       f.vault,
		Host:        f.host,
		Opener:      f.opener,
		Cache:       f.cache,
		MemoryRepo:  f.memory,
		Invocations: f.invocations,
	}
	if f.searcher != nil {
		deps.Searcher = f.searcher
	}
	svc := NewCapabilityService(deps, testAgentConfig(), "main", zap.NewNop()).(*capabilityService)
	svc.retryConfig = &retry.Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	return svc
}

func TestCapabilities_ListRepositoryFiles(t *testing.T) {
	f := newCapabilityFixture()
	svc := f.service()

	result := svc.Invoke(context.Background(), testOwner, f.project.ID, models.ListRepositoryFilesParams{})

	require.True(t, result.Success, result.Error)
	list, ok := result.Data.(*models.RepositoryFileList)
	require.True(t, ok)
	assert.Equal(t, "acme/shop", list.Repository)
	assert.Equal(t, "main", list.Branch)
	assert.Len(t, list.Files, 2)

	records := f.invocations.all()
	require.Len(t, records, 1)
	assert.Equal(t, string(models.ToolListRepositoryFiles), records[0].ToolName)
	assert.Equal(t, models.InvocationStatusSuccess, records[0].Status)
}

func TestCapabilities_ListRepositoryFiles_ServedFromCache(t *testing.T) {
	f := newCapabilityFixture()
	svc := f.service()

	first := svc.Invoke(context.Background(), testOwner, f.project.ID, models.ListRepositoryFilesParams{PathPrefix: "src"})
	second := svc.Invoke(context.Background(), testOwner, f.project.ID, models.ListRepositoryFilesParams{PathPrefix: "src"})

	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.Equal(t, int32(1), f.host.lists.Load())
	assert.Equal(t, first.Data, second.Data)
}

func TestCapabilities_MissingIntegrationIsAnEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *capabilityFixture)
		params  models.ToolParams
		wantErr string
	}{
		{
			name:    "no repository",
			mutate:  func(f *capabilityFixture) { f.project.RepoOwner, f.project.RepoName = "", "" },
			params:  models.ListRepositoryFilesParams{},
			wantErr: "not configured",
		},
		{
			name:    "no repository token",
			mutate:  func(f *capabilityFixture) { f.vault.creds.RepoToken = "" },
			params:  models.ListRepositoryFilesParams{},
			wantErr: "token not configured",
		},
		{
			name:    "no database",
			mutate:  func(f *capabilityFixture) { f.project.DatabaseURL = "" },
			params:  models.GetDatabaseSchemaParams{},
			wantErr: "not configured",
		},
		{
			name:    "no web search",
			mutate:  func(f *capabilityFixture) { f.searcher = nil },
			params:  models.WebSearchParams{Query: "go release"},
			wantErr: "not configured",
		},
		{
			name:    "credentials unreadable",
			mutate:  func(f *capabilityFixture) { f.vault.err = apperrors.ErrCredentialsKeyMismatch },
			params:  models.GetDatabaseSchemaParams{},
			wantErr: "re-enter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCapabilityFixture()
			tt.mutate(f)
			svc := f.service()

			result := svc.Invoke(context.Background(), testOwner, f.project.ID, tt.params)

			assert.False(t, result.Success)
			assert.Contains(t, result.Error, tt.wantErr)
			assert.Equal(t, int32(0), f.host.lists.Load())
			assert.Equal(t, int32(0), f.opener.opens.Load())
		})
	}
}

func TestCapabilities_NonOwnerGetsAccessDenied(t *testing.T) {
	f := newCapabilityFixture()

	result := f.service().Invoke(context.Background(), "intruder", f.project.ID, models.ListRepositoryFilesParams{})

	assert.False(t, result.Success)
	assert.Equal(t, msgAccessDenied, result.Error)
}

func TestCapabilities_GetDatabaseSchema(t *testing.T) {
	f := newCapabilityFixture()

	result := f.service().Invoke(context.Background(), testOwner, f.project.ID, models.GetDatabaseSchemaParams{})

	require.True(t, result.Success, result.Error)
	schema := result.Data.(*models.DatabaseSchema)
	require.Len(t, schema.Tables, 1)
	assert.Equal(t, "orders", schema.Tables[0].Name)
	assert.Len(t, schema.Tables[0].Columns, 2)
	assert.Equal(t, "db-pass", f.opener.lastCfg.Password)
	assert.Equal(t, f.project.DatabaseURL, f.opener.lastCfg.URL)
}

func TestCapabilities_RetriesRetryableReads(t *testing.T) {
	f := newCapabilityFixture()
	calls := 0
	f.host.listFn = func(repo repository.Repo, prefix string, limit int) (*models.RepositoryFileList, error) {
		calls++
		if calls == 1 {
			return nil, &repository.StatusError{Status: http.StatusBadGateway, Message: "bad gateway"}
		}
		return &models.RepositoryFileList{Files: []models.RepositoryFile{}}, nil
	}

	result := f.service().Invoke(context.Background(), testOwner, f.project.ID, models.ListRepositoryFilesParams{})

	assert.True(t, result.Success, result.Error)
	assert.Equal(t, 2, calls)
}

func TestCapabilities_UpstreamErrorIsReadable(t *testing.T) {
	f := newCapabilityFixture()
	f.host.listFn = func(repository.Repo, string, int) (*models.RepositoryFileList, error) {
		return nil, &repository.StatusError{Status: http.StatusUnauthorized, Message: "repository token is invalid or expired"}
	}

	result := f.service().Invoke(context.Background(), testOwner, f.project.ID, models.ListRepositoryFilesParams{})

	assert.False(t, result.Success)
	assert.Equal(t, "Repository request failed: repository token is invalid or expired", result.Error)
	records := f.invocations.all()
	require.Len(t, records, 1)
	assert.Equal(t, models.InvocationStatusError, records[0].Status)
}

func TestCapabilities_PanicBecomesEnvelope(t *testing.T) {
	f := newCapabilityFixture()
	f.host.listFn = func(repository.Repo, string, int) (*models.RepositoryFileList, error) {
		panic("boom")
	}

	var result models.ToolResult
	require.NotPanics(t, func() {
		result = f.service().Invoke(context.Background(), testOwner, f.project.ID, models.ListRepositoryFilesParams{})
	})
	assert.False(t, result.Success)
	assert.Equal(t, msgInternalError, result.Error)
	assert.Len(t, f.invocations.all(), 1)
}

func TestCapabilities_WebSearch(t *testing.T) {
	f := newCapabilityFixture()

	result := f.service().Invoke(context.Background(), testOwner, f.project.ID, models.WebSearchParams{Query: "latest go"})

	require.True(t, result.Success)
	web := result.Data.(*models.WebSearchResult)
	assert.Equal(t, "latest go", web.Query)
	assert.Equal(t, []string{"https://go.dev"}, web.Sources)
}

func TestCapabilities_WebSearchFailureLogsProject(t *testing.T) {
	f := newCapabilityFixture()
	f.searcher.err = errors.New("quota exhausted")
	core, logs := observer.New(zapcore.WarnLevel)
	svc := f.service()
	svc.logger = zap.New(core)

	result := svc.Invoke(context.Background(), testOwner, f.project.ID, models.WebSearchParams{Query: "latest go"})

	assert.False(t, result.Success)
	failures := logs.FilterMessage("Capability failed").All()
	require.Len(t, failures, 1)
	assert.Equal(t, f.project.ID.String(), failures[0].ContextMap()["project_id"])
	assert.Equal(t, string(models.ToolWebSearch), failures[0].ContextMap()["tool"])
}

func TestCapabilities_AddMemory(t *testing.T) {
	f := newCapabilityFixture()

	result := f.service().Invoke(context.Background(), testOwner, f.project.ID, models.AddMemoryParams{Content: "  staging db is read-only  "})

	require.True(t, result.Success)
	require.Len(t, f.memory.entries, 1)
	assert.Equal(t, "staging db is read-only", f.memory.entries[0].Content)
	assert.Equal(t, f.project.ID, f.memory.entries[0].ProjectID)
}

func TestCapabilities_MutatingToolsAreRefused(t *testing.T) {
	f := newCapabilityFixture()

	result := f.service().Invoke(context.Background(), testOwner, f.project.ID, models.ProposeStatementParams{Request: "drop it"})

	assert.False(t, result.Success)
	assert.Equal(t, msgRequiresConfirmation, result.Error)
	assert.Equal(t, int32(0), f.opener.opens.Load())
}

func TestDescribeAdapterError(t *testing.T) {
	timedOut, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want string
	}{
		{"deadline", timedOut, context.DeadlineExceeded, "The request timed out after 30s."},
		{"stale file", context.Background(), fmt.Errorf("update: %w", apperrors.ErrStaleFile), "The file changed since it was read. Generate a new edit to try again."},
		{"forbidden", context.Background(), apperrors.ErrForbidden, msgAccessDenied},
		{"connection string redacted", context.Background(), errors.New("dial postgres://app:hunter2@db/shop failed"), "dial postgres://[REDACTED]@[REDACTED]/shop failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describeAdapterError(tt.ctx, tt.err, 30*time.Second))
		})
	}
}
