package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-agent/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
)

const testDialect = "testdb"

func init() {
	datasource.Register(datasource.Registration{
		Info: datasource.AdapterInfo{Type: testDialect, DisplayName: "Test"},
		Open: func(context.Context, datasource.ConnectionConfig, *datasource.ConnectionManager, uuid.UUID) (datasource.Connection, error) {
			return nil, apperrors.ErrIntegrationNotConfigured
		},
	})
}

func strPtr(s string) *string { return &s }

func TestUpdateIntegrationsRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     UpdateIntegrationsRequest
		wantErr bool
	}{
		{"empty clears everything", UpdateIntegrationsRequest{}, false},
		{"repository only", UpdateIntegrationsRequest{RepoOwner: " acme ", RepoName: "shop"}, false},
		{"database only", UpdateIntegrationsRequest{DatabaseType: testDialect, DatabaseURL: "testdb://x"}, false},
		{"owner without name", UpdateIntegrationsRequest{RepoOwner: "acme"}, true},
		{"name with slash", UpdateIntegrationsRequest{RepoOwner: "acme", RepoName: "acme/shop"}, true},
		{"type without url", UpdateIntegrationsRequest{DatabaseType: testDialect}, true},
		{"unregistered type", UpdateIntegrationsRequest{DatabaseType: "oracle", DatabaseURL: "oracle://x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrInvalidPayload)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestProjectService_Create(t *testing.T) {
	repo := newMemProjectRepo()
	svc := NewProjectService(repo, &fakeVault{}, nil, nil, zap.NewNop())

	project, err := svc.Create(context.Background(), testOwner, "  Shop  ")
	require.NoError(t, err)
	assert.Equal(t, "Shop", project.Name)
	assert.Equal(t, testOwner, project.OwnerID)

	listed, err := svc.List(context.Background(), testOwner)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, project.ID, listed[0].ID)

	_, err = svc.Create(context.Background(), testOwner, " ")
	assert.ErrorIs(t, err, apperrors.ErrInvalidPayload)
}

func TestProjectService_UpdateIntegrations_SealsSecretsAndInvalidates(t *testing.T) {
	project := &models.Project{ID: uuid.New(), OwnerID: testOwner, Name: "shop"}
	repo := newMemProjectRepo(project)
	readCache := newMapCache()
	svc := NewProjectService(repo, &fakeVault{}, readCache, nil, zap.NewNop())

	updated, err := svc.UpdateIntegrations(context.Background(), project.ID, &UpdateIntegrationsRequest{
		RepoOwner:    "acme",
		RepoName:     "shop",
		DatabaseType: testDialect,
		DatabaseURL:  "testdb://app@db/shop",
		RepoToken:    strPtr("ghp_abc"),
		DatabaseKey:  strPtr("pw"),
	})
	require.NoError(t, err)

	assert.True(t, updated.HasRepository())
	assert.True(t, updated.HasDatabase())
	assert.Equal(t, "sealed:"+project.ID.String()+":ghp_abc", updated.EncryptedRepoToken)
	assert.Equal(t, "sealed:"+project.ID.String()+":pw", updated.EncryptedDatabaseKey)
	assert.Equal(t, []uuid.UUID{project.ID}, readCache.invalidated)
}

func TestProjectService_UpdateIntegrations_KeepsSecretsWhenOmitted(t *testing.T) {
	project := &models.Project{
		ID:                 uuid.New(),
		OwnerID:            testOwner,
		Name:               "shop",
		RepoOwner:          "acme",
		RepoName:           "shop",
		EncryptedRepoToken: "sealed-old",
	}
	repo := newMemProjectRepo(project)
	svc := NewProjectService(repo, &fakeVault{}, nil, nil, zap.NewNop())

	updated, err := svc.UpdateIntegrations(context.Background(), project.ID, &UpdateIntegrationsRequest{
		RepoOwner:  "acme",
		RepoName:   "shop",
		RepoBranch: "develop",
		RepoToken:  strPtr(""),
	})
	require.NoError(t, err)

	assert.Equal(t, "sealed-old", updated.EncryptedRepoToken)
	assert.Equal(t, "develop", updated.RepoBranch)
}

func TestProjectService_UpdateIntegrations_Errors(t *testing.T) {
	svc := NewProjectService(newMemProjectRepo(), &fakeVault{}, nil, nil, zap.NewNop())

	_, err := svc.UpdateIntegrations(context.Background(), uuid.New(), &UpdateIntegrationsRequest{})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = svc.UpdateIntegrations(context.Background(), uuid.New(), &UpdateIntegrationsRequest{RepoOwner: "acme"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidPayload)
}
