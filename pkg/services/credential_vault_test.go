package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-agent/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-agent/pkg/audit"
	"github.com/ekaya-inc/ekaya-agent/pkg/crypto"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
)

const vaultTestKey = "dGVzdC1rZXktZm9yLXVuaXQtdGVzdHMtMzItYnl0ZXM="

func newTestVault(t *testing.T, projects *memProjectRepo, settings *memSettingsRepo) (CredentialVault, *observer.ObservedLogs) {
	t.Helper()
	enc, err := crypto.NewCredentialEncryptor(vaultTestKey)
	require.NoError(t, err)
	core, logs := observer.New(zapcore.DebugLevel)
	auditor := audit.NewSecurityAuditor(zap.New(core))
	return NewCredentialVault(enc, projects, settings, auditor, zap.NewNop()), logs
}

func TestCredentialVault_OwnerDecryptsProjectSecrets(t *testing.T) {
	project := linkedProject()
	projects := newMemProjectRepo(project)
	vault, _ := newTestVault(t, projects, &memSettingsRepo{})

	var err error
	project.EncryptedRepoToken, err = vault.SealProjectSecret(project.ID, "ghp_secret")
	require.NoError(t, err)
	project.EncryptedDatabaseKey, err = vault.SealProjectSecret(project.ID, "db-pass")
	require.NoError(t, err)

	creds, err := vault.ProjectCredentials(context.Background(), testOwner, project.ID)
	require.NoError(t, err)
	assert.Equal(t, "ghp_secret", creds.RepoToken)
	assert.Equal(t, "db-pass", creds.DatabaseKey)
	assert.Equal(t, project.ID, creds.Project.ID)
}

func TestCredentialVault_MissingSecretsAreEmpty(t *testing.T) {
	project := linkedProject()
	vault, _ := newTestVault(t, newMemProjectRepo(project), &memSettingsRepo{})

	creds, err := vault.ProjectCredentials(context.Background(), testOwner, project.ID)
	require.NoError(t, err)
	assert.Empty(t, creds.RepoToken)
	assert.Empty(t, creds.DatabaseKey)
}

func TestCredentialVault_NonOwnerIsRefused(t *testing.T) {
	for _, caller := range []string{"someone-else", ""} {
		t.Run("caller="+caller, func(t *testing.T) {
			project := linkedProject()
			vault, logs := newTestVault(t, newMemProjectRepo(project), &memSettingsRepo{})

			creds, err := vault.ProjectCredentials(context.Background(), caller, project.ID)
			assert.ErrorIs(t, err, apperrors.ErrForbidden)
			assert.Nil(t, creds)

			entries := logs.FilterMessage("Credential access denied").All()
			require.Len(t, entries, 1)
			assert.Equal(t, caller, entries[0].ContextMap()["user_id"])
		})
	}
}

func TestCredentialVault_SecretFromAnotherProjectDoesNotOpen(t *testing.T) {
	project := linkedProject()
	other := linkedProject()
	vault, _ := newTestVault(t, newMemProjectRepo(project), &memSettingsRepo{})

	sealed, err := vault.SealProjectSecret(other.ID, "ghp_secret")
	require.NoError(t, err)
	project.EncryptedRepoToken = sealed

	_, err = vault.ProjectCredentials(context.Background(), testOwner, project.ID)
	assert.ErrorIs(t, err, apperrors.ErrCredentialsKeyMismatch)
}

func TestCredentialVault_UnknownProject(t *testing.T) {
	vault, _ := newTestVault(t, newMemProjectRepo(), &memSettingsRepo{})

	_, err := vault.ProjectCredentials(context.Background(), testOwner, linkedProject().ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCredentialVault_UserAIConfig(t *testing.T) {
	settings := &memSettingsRepo{}
	vault, _ := newTestVault(t, newMemProjectRepo(), settings)

	cfg, err := vault.UserAIConfig(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Nil(t, cfg, "no settings yet")

	sealed, err := vault.SealUserSecret("user-1", "sk-user")
	require.NoError(t, err)
	temp := float32(0.2)
	require.NoError(t, settings.Upsert(context.Background(), &models.UserSettings{
		UserID:            "user-1",
		AIProvider:        models.AIProviderAnthropic,
		AIModel:           "claude-test",
		EncryptedAPIKey:   sealed,
		SystemInstruction: "Answer in French.",
		Temperature:       &temp,
	}))

	cfg, err = vault.UserAIConfig(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "sk-user", cfg.APIKey)
	assert.Equal(t, models.AIProviderAnthropic, cfg.Provider)
	assert.Equal(t, "Answer in French.", cfg.SystemInstruction)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.2, *cfg.Temperature, 1e-6)

	// A key sealed for one user never opens for another.
	require.NoError(t, settings.Upsert(context.Background(), &models.UserSettings{UserID: "user-2", EncryptedAPIKey: sealed}))
	_, err = vault.UserAIConfig(context.Background(), "user-2")
	assert.ErrorIs(t, err, apperrors.ErrCredentialsKeyMismatch)
}
