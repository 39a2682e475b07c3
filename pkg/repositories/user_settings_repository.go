package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-agent/pkg/models"
)

// UserSettingsRepository provides data access for per-user AI settings.
type UserSettingsRepository interface {
	// Get returns nil, nil when the user has never saved settings.
	Get(ctx context.Context, userID string) (*models.UserSettings, error)
	// Upsert writes settings. An empty EncryptedAPIKey keeps the stored key.
	Upsert(ctx context.Context, settings *models.UserSettings) error
}

type userSettingsRepository struct{}

// NewUserSettingsRepository creates a new UserSettingsRepository.
func NewUserSettingsRepository() UserSettingsRepository {
	return &userSettingsRepository{}
}

var _ UserSettingsRepository = (*userSettingsRepository)(nil)

func (r *userSettingsRepository) Get(ctx context.Context, userID string) (*models.UserSettings, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	var s models.UserSettings
	var provider string
	err = c.QueryRow(ctx, `
		SELECT user_id, ai_provider, ai_model, encrypted_api_key, system_instruction, temperature, updated_at
		FROM agent_user_settings WHERE user_id = $1`, userID,
	).Scan(&s.UserID, &provider, &s.AIModel, &s.EncryptedAPIKey, &s.SystemInstruction, &s.Temperature, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get user settings", err)
	}
	s.AIProvider = models.AIProvider(provider)
	return &s, nil
}

func (r *userSettingsRepository) Upsert(ctx context.Context, s *models.UserSettings) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	err = c.QueryRow(ctx, `
		INSERT INTO agent_user_settings (
			user_id, ai_provider, ai_model, encrypted_api_key, system_instruction, temperature, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (user_id) DO UPDATE SET
			ai_provider = EXCLUDED.ai_provider,
			ai_model = EXCLUDED.ai_model,
			encrypted_api_key = COALESCE(NULLIF(EXCLUDED.encrypted_api_key, ''), agent_user_settings.encrypted_api_key),
			system_instruction = EXCLUDED.system_instruction,
			temperature = EXCLUDED.temperature,
			updated_at = now()
		RETURNING encrypted_api_key, updated_at`,
		s.UserID, string(s.AIProvider), s.AIModel, s.EncryptedAPIKey, s.SystemInstruction, s.Temperature,
	).Scan(&s.EncryptedAPIKey, &s.UpdatedAt)
	if err != nil {
		return wrap("upsert user settings", err)
	}
	return nil
}
