package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
	"github.com/ekaya-inc/ekaya-agent/pkg/repositories"
)

// maxSystemInstructionLen bounds the user's extra synthesis instruction.
const maxSystemInstructionLen = 4000

// UpdateAISettingsRequest replaces a user's AI settings.
// A nil or empty APIKey keeps the stored key.
type UpdateAISettingsRequest struct {
	AIProvider        models.AIProvider `json:"ai_provider"`
	AIModel           string            `json:"ai_model"`
	SystemInstruction string            `json:"system_instruction"`
	Temperature       *float32          `json:"temperature"`
	APIKey            *string           `json:"api_key,omitempty"`
}

// Validate checks ranges and known values.
func (r *UpdateAISettingsRequest) Validate() error {
	if !r.AIProvider.IsValid() {
		return fmt.Errorf("%w: unsupported ai_provider %q", apperrors.ErrInvalidPayload, r.AIProvider)
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("%w: temperature must be between 0 and 2", apperrors.ErrInvalidPayload)
	}
	if len(r.SystemInstruction) > maxSystemInstructionLen {
		return fmt.Errorf("%w: system_instruction exceeds %d characters", apperrors.ErrInvalidPayload, maxSystemInstructionLen)
	}
	return nil
}

// UserSettingsService reads and writes per-user AI settings.
type UserSettingsService interface {
	Get(ctx context.Context, userID string) (models.UserSettingsView, error)
	Update(ctx context.Context, userID string, req *UpdateAISettingsRequest) (models.UserSettingsView, error)
}

type userSettingsService struct {
	settingsRepo repositories.UserSettingsRepository
	vault        CredentialVault
	logger       *zap.Logger
}

// NewUserSettingsService creates a settings service.
func NewUserSettingsService(settingsRepo repositories.UserSettingsRepository, vault CredentialVault, logger *zap.Logger) UserSettingsService {
	return &userSettingsService{
		settingsRepo: settingsRepo,
		vault:        vault,
		logger:       logger.Named("settings"),
	}
}

var _ UserSettingsService = (*userSettingsService)(nil)

func (s *userSettingsService) Get(ctx context.Context, userID string) (models.UserSettingsView, error) {
	settings, err := s.settingsRepo.Get(ctx, userID)
	if err != nil {
		return models.UserSettingsView{}, err
	}
	return settings.View(), nil
}

func (s *userSettingsService) Update(ctx context.Context, userID string, req *UpdateAISettingsRequest) (models.UserSettingsView, error) {
	if err := req.Validate(); err != nil {
		return models.UserSettingsView{}, err
	}

	settings := &models.UserSettings{
		UserID:            userID,
		AIProvider:        req.AIProvider,
		AIModel:           strings.TrimSpace(req.AIModel),
		SystemInstruction: strings.TrimSpace(req.SystemInstruction),
		Temperature:       req.Temperature,
	}
	if req.APIKey != nil && strings.TrimSpace(*req.APIKey) != "" {
		sealed, err := s.vault.SealUserSecret(userID, strings.TrimSpace(*req.APIKey))
		if err != nil {
			return models.UserSettingsView{}, fmt.Errorf("seal api key: %w", err)
		}
		settings.EncryptedAPIKey = sealed
	}

	if err := s.settingsRepo.Upsert(ctx, settings); err != nil {
		return models.UserSettingsView{}, err
	}
	s.logger.Info("AI settings updated",
		zap.String("user_id", userID),
		zap.String("provider", string(settings.AIProvider)))

	// Upsert keeps the stored key when none was given, so re-read for has_api_key.
	stored, err := s.settingsRepo.Get(ctx, userID)
	if err != nil || stored == nil {
		return settings.View(), nil
	}
	return stored.View(), nil
}
