package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/auth"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
	"github.com/ekaya-inc/ekaya-agent/pkg/services"
)

// TenantMiddleware is a function that wraps a handler with tenant context.
type TenantMiddleware func(http.HandlerFunc) http.HandlerFunc

// CreateProjectRequest for POST /api/projects
type CreateProjectRequest struct {
	Name string `json:"name"`
}

// ProjectResponse is the standard response for project endpoints.
type ProjectResponse struct {
	ID           string                     `json:"id"`
	Name         string                     `json:"name"`
	Integrations models.ProjectIntegrations `json:"integrations"`
	CreatedAt    string                     `json:"created_at"`
}

// ProjectsHandler handles project-related HTTP requests.
type ProjectsHandler struct {
	projectService services.ProjectService
	logger         *zap.Logger
}

// NewProjectsHandler creates a new projects handler.
func NewProjectsHandler(projectService services.ProjectService, logger *zap.Logger) *ProjectsHandler {
	return &ProjectsHandler{
		projectService: projectService,
		logger:         logger,
	}
}

// RegisterRoutes registers the projects handler's routes on the given mux.
// userScope serves owner-level routes; projectScope checks ownership of {pid}.
func (h *ProjectsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, userScope, projectScope TenantMiddleware) {
	mux.HandleFunc("GET /api/projects",
		authMiddleware.RequireAuth(userScope(h.List)))
	mux.HandleFunc("POST /api/projects",
		authMiddleware.RequireAuth(userScope(h.Create)))

	mux.HandleFunc("GET /api/projects/{pid}/integrations",
		authMiddleware.RequireAuth(projectScope(h.GetIntegrations)))
	mux.HandleFunc("PUT /api/projects/{pid}/integrations",
		authMiddleware.RequireAuth(projectScope(h.UpdateIntegrations)))
}

// List handles GET /api/projects
func (h *ProjectsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserIDFromContext(r.Context())

	projects, err := h.projectService.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to list projects")
		return
	}

	data := make([]ProjectResponse, len(projects))
	for i, p := range projects {
		data[i] = buildProjectResponse(p)
	}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: data}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create handles POST /api/projects
func (h *ProjectsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	userID := auth.GetUserIDFromContext(r.Context())
	project, err := h.projectService.Create(r.Context(), userID, req.Name)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to create project")
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: buildProjectResponse(project)}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetIntegrations handles GET /api/projects/{pid}/integrations
// Secrets are reported only as has_* flags.
func (h *ProjectsHandler) GetIntegrations(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	project, err := h.projectService.GetByID(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to get project")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: project.Integrations()}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// UpdateIntegrations handles PUT /api/projects/{pid}/integrations
func (h *ProjectsHandler) UpdateIntegrations(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	var req services.UpdateIntegrationsRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	project, err := h.projectService.UpdateIntegrations(r.Context(), projectID, &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to update integrations")
		return
	}

	response := ApiResponse{Success: true, Data: project.Integrations(), Message: "Integrations updated"}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func buildProjectResponse(p *models.Project) ProjectResponse {
	return ProjectResponse{
		ID:           p.ID.String(),
		Name:         p.Name,
		Integrations: p.Integrations(),
		CreatedAt:    p.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
