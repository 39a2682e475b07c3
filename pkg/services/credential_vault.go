package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-agent/pkg/audit"
	"github.com/ekaya-inc/ekaya-agent/pkg/crypto"
	"github.com/ekaya-inc/ekaya-agent/pkg/llm"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
	"github.com/ekaya-inc/ekaya-agent/pkg/repositories"
)

// CredentialVault is the only place secrets are sealed or opened.
// Plaintext leaves it only for the caller's current operation.
type CredentialVault interface {
	llm.UserConfigProvider

	// ProjectCredentials decrypts a project's repository token and database key.
	// Only the project owner may decrypt; anyone else gets apperrors.ErrForbidden.
	ProjectCredentials(ctx context.Context, ownerID string, projectID uuid.UUID) (*models.ProjectCredentials, error)

	// SealProjectSecret encrypts a secret bound to projectID.
	SealProjectSecret(projectID uuid.UUID, plaintext string) (string, error)

	// SealUserSecret encrypts a secret bound to userID.
	SealUserSecret(userID, plaintext string) (string, error)
}

type credentialVault struct {
	encryptor    *crypto.CredentialEncryptor
	projectRepo  repositories.ProjectRepository
	settingsRepo repositories.UserSettingsRepository
	auditor      *audit.SecurityAuditor
	logger       *zap.Logger
}

// NewCredentialVault creates a vault over the encrypted columns of projects and user settings.
func NewCredentialVault(
	encryptor *crypto.CredentialEncryptor,
	projectRepo repositories.ProjectRepository,
	settingsRepo repositories.UserSettingsRepository,
	auditor *audit.SecurityAuditor,
	logger *zap.Logger,
) CredentialVault {
	return &credentialVault{
		encryptor:    encryptor,
		projectRepo:  projectRepo,
		settingsRepo: settingsRepo,
		auditor:      auditor,
		logger:       logger.Named("vault"),
	}
}

var _ CredentialVault = (*credentialVault)(nil)

func (v *credentialVault) ProjectCredentials(ctx context.Context, ownerID string, projectID uuid.UUID) (*models.ProjectCredentials, error) {
	project, err := v.projectRepo.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if ownerID == "" || project.OwnerID != ownerID {
		v.auditor.LogCredentialAccessDenied(ctx, projectID, ownerID)
		return nil, apperrors.ErrForbidden
	}

	creds := &models.ProjectCredentials{Project: project}
	scope := crypto.ProjectScope(projectID.String())

	if project.EncryptedRepoToken != "" {
		creds.RepoToken, err = v.open(scope, project.EncryptedRepoToken)
		if err != nil {
			v.logger.Error("Failed to decrypt repository token",
				zap.String("project_id", projectID.String()),
				zap.Error(err))
			return nil, err
		}
	}
	if project.EncryptedDatabaseKey != "" {
		creds.DatabaseKey, err = v.open(scope, project.EncryptedDatabaseKey)
		if err != nil {
			v.logger.Error("Failed to decrypt database key",
				zap.String("project_id", projectID.String()),
				zap.Error(err))
			return nil, err
		}
	}

	return creds, nil
}

func (v *credentialVault) UserAIConfig(ctx context.Context, userID string) (*llm.UserAIConfig, error) {
	settings, err := v.settingsRepo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		return nil, nil
	}

	cfg := &llm.UserAIConfig{
		Provider:          settings.AIProvider,
		Model:             settings.AIModel,
		SystemInstruction: settings.SystemInstruction,
		Temperature:       settings.Temperature,
	}
	if settings.EncryptedAPIKey != "" {
		cfg.APIKey, err = v.open(crypto.UserScope(userID), settings.EncryptedAPIKey)
		if err != nil {
			v.logger.Error("Failed to decrypt user API key",
				zap.String("user_id", userID),
				zap.Error(err))
			return nil, err
		}
	}
	return cfg, nil
}

func (v *credentialVault) SealProjectSecret(projectID uuid.UUID, plaintext string) (string, error) {
	return v.encryptor.Seal(crypto.ProjectScope(projectID.String()), plaintext)
}

func (v *credentialVault) SealUserSecret(userID, plaintext string) (string, error) {
	return v.encryptor.Seal(crypto.UserScope(userID), plaintext)
}

// open maps decryption failures to ErrCredentialsKeyMismatch so callers can
// tell the user to re-enter the secret.
func (v *credentialVault) open(scope, encrypted string) (string, error) {
	plaintext, err := v.encryptor.Open(scope, encrypted)
	if err != nil {
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			return "", apperrors.ErrCredentialsKeyMismatch
		}
		return "", fmt.Errorf("open secret: %w", err)
	}
	return plaintext, nil
}
