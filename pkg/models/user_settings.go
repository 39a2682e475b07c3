package models

import "time"

// AIProvider identifies the completion service used for synthesis.
type AIProvider string

const (
	AIProviderOpenAI    AIProvider = "openai"
	AIProviderAnthropic AIProvider = "anthropic"
)

// IsValid reports whether p is a supported provider. Empty means server default.
func (p AIProvider) IsValid() bool {
	return p == "" || p == AIProviderOpenAI || p == AIProviderAnthropic
}

// UserSettings holds a user's model preferences. The API key is stored encrypted.
type UserSettings struct {
	UserID            string     `json:"user_id"`
	AIProvider        AIProvider `json:"ai_provider,omitempty"`
	AIModel           string     `json:"ai_model,omitempty"`
	EncryptedAPIKey   string     `json:"-"`
	SystemInstruction string     `json:"system_instruction,omitempty"`
	Temperature       *float32   `json:"temperature,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// HasAPIKey reports whether a personal key is stored.
func (s *UserSettings) HasAPIKey() bool {
	return s != nil && s.EncryptedAPIKey != ""
}

// UserSettingsView is the API representation; it never carries the key itself.
type UserSettingsView struct {
	AIProvider        AIProvider `json:"ai_provider,omitempty"`
	AIModel           string     `json:"ai_model,omitempty"`
	SystemInstruction string     `json:"system_instruction,omitempty"`
	Temperature       *float32   `json:"temperature,omitempty"`
	HasAPIKey         bool       `json:"has_api_key"`
	UpdatedAt         time.Time  `json:"updated_at,omitempty"`
}

// View returns the API representation of s.
func (s *UserSettings) View() UserSettingsView {
	if s == nil {
		return UserSettingsView{}
	}
	return UserSettingsView{
		AIProvider:        s.AIProvider,
		AIModel:           s.AIModel,
		SystemInstruction: s.SystemInstruction,
		Temperature:       s.Temperature,
		HasAPIKey:         s.HasAPIKey(),
		UpdatedAt:         s.UpdatedAt,
	}
}
