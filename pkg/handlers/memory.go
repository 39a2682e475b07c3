package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/auth"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
	"github.com/ekaya-inc/ekaya-agent/pkg/services"
)

// AddMemoryRequest for POST /memory
type AddMemoryRequest struct {
	Content string `json:"content"`
}

// MemoryHandler manages project memory entries.
type MemoryHandler struct {
	memoryService services.MemoryService
	logger        *zap.Logger
}

// NewMemoryHandler creates a new memory handler.
func NewMemoryHandler(memoryService services.MemoryService, logger *zap.Logger) *MemoryHandler {
	return &MemoryHandler{
		memoryService: memoryService,
		logger:        logger,
	}
}

// RegisterRoutes registers the memory routes.
func (h *MemoryHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, projectScope TenantMiddleware) {
	base := "/api/projects/{pid}/memory"
	mux.HandleFunc("GET "+base, authMiddleware.RequireAuth(projectScope(h.List)))
	mux.HandleFunc("POST "+base, authMiddleware.RequireAuth(projectScope(h.Add)))
}

// List handles GET /api/projects/{pid}/memory
func (h *MemoryHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	entries, err := h.memoryService.List(r.Context(), projectID, parseLimit(r))
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to list memory")
		return
	}

	if entries == nil {
		entries = []*models.MemoryEntry{}
	}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: entries}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Add handles POST /api/projects/{pid}/memory
func (h *MemoryHandler) Add(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	var req AddMemoryRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	userID := auth.GetUserIDFromContext(r.Context())
	entry, err := h.memoryService.Add(r.Context(), projectID, userID, req.Content)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to add memory")
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: entry}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
