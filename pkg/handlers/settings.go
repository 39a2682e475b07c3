package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/auth"
	"github.com/ekaya-inc/ekaya-agent/pkg/services"
)

// SettingsHandler serves the caller's AI settings. The API key is write-only.
type SettingsHandler struct {
	settingsService services.UserSettingsService
	logger          *zap.Logger
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(settingsService services.UserSettingsService, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{
		settingsService: settingsService,
		logger:          logger,
	}
}

// RegisterRoutes registers the settings routes.
func (h *SettingsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, userScope TenantMiddleware) {
	mux.HandleFunc("GET /api/settings/ai", authMiddleware.RequireAuth(userScope(h.GetAI)))
	mux.HandleFunc("PUT /api/settings/ai", authMiddleware.RequireAuth(userScope(h.UpdateAI)))
}

// GetAI handles GET /api/settings/ai
func (h *SettingsHandler) GetAI(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserIDFromContext(r.Context())

	view, err := h.settingsService.Get(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to get settings")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: view}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// UpdateAI handles PUT /api/settings/ai
func (h *SettingsHandler) UpdateAI(w http.ResponseWriter, r *http.Request) {
	var req services.UpdateAISettingsRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	userID := auth.GetUserIDFromContext(r.Context())
	view, err := h.settingsService.Update(r.Context(), userID, &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to update settings")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: view, Message: "Settings saved"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
