package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-agent/pkg/auth"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
	"github.com/ekaya-inc/ekaya-agent/pkg/services"
)

// ActionListResponse for GET /actions
type ActionListResponse struct {
	Actions []*models.PendingAction `json:"actions"`
	Total   int                     `json:"total"`
}

// ActionsHandler lists pending actions and runs confirmations.
type ActionsHandler struct {
	actionService services.ActionService
	engine        services.ExecutionEngine
	logger        *zap.Logger
}

// NewActionsHandler creates a new actions handler.
func NewActionsHandler(actionService services.ActionService, engine services.ExecutionEngine, logger *zap.Logger) *ActionsHandler {
	return &ActionsHandler{
		actionService: actionService,
		engine:        engine,
		logger:        logger,
	}
}

// RegisterRoutes registers the action routes.
func (h *ActionsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, projectScope TenantMiddleware) {
	base := "/api/projects/{pid}/actions"

	mux.HandleFunc("GET "+base,
		authMiddleware.RequireAuth(projectScope(h.List)))
	mux.HandleFunc("GET "+base+"/{aid}",
		authMiddleware.RequireAuth(projectScope(h.Get)))
	mux.HandleFunc("POST "+base+"/{aid}/execute",
		authMiddleware.RequireAuth(projectScope(h.Execute)))
}

// List handles GET /api/projects/{pid}/actions?status=pending
func (h *ActionsHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	actions, err := h.actionService.List(r.Context(), projectID, r.URL.Query().Get("status"), parseLimit(r))
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to list actions")
		return
	}

	if actions == nil {
		actions = []*models.PendingAction{}
	}
	response := ApiResponse{Success: true, Data: ActionListResponse{Actions: actions, Total: len(actions)}}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/projects/{pid}/actions/{aid}
func (h *ActionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	projectID, actionID, ok := ParseProjectAndActionIDs(w, r, h.logger)
	if !ok {
		return
	}

	action, err := h.actionService.Get(r.Context(), projectID, actionID)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to get action")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: action}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Execute handles POST /api/projects/{pid}/actions/{aid}/execute
// Progress is streamed as Server-Sent Events unless ?mode=sync is given.
func (h *ActionsHandler) Execute(w http.ResponseWriter, r *http.Request) {
	projectID, actionID, ok := ParseProjectAndActionIDs(w, r, h.logger)
	if !ok {
		return
	}

	if r.URL.Query().Get("mode") == "sync" {
		h.executeSync(w, r, projectID.String(), func(ctx context.Context) (*models.PendingAction, error) {
			return h.engine.ExecuteSync(ctx, projectID, actionID)
		})
		return
	}

	streamEvents(w, r, h.logger, func(ctx context.Context, events chan<- models.ChatEvent) error {
		return h.engine.Execute(ctx, projectID, actionID, events)
	})
}

func (h *ActionsHandler) executeSync(w http.ResponseWriter, r *http.Request, projectID string, run func(context.Context) (*models.PendingAction, error)) {
	action, err := run(r.Context())

	var status int
	var response ApiResponse
	switch {
	case err == nil && action.Status == models.ActionStatusExecuted:
		status = http.StatusOK
		response = ApiResponse{Success: true, Data: action, Message: "Action executed"}
	case err == nil:
		status = http.StatusOK
		response = ApiResponse{Success: false, Data: action, Error: "Action failed"}
		if action.Error != nil {
			response.Error = *action.Error
		}
	case errors.Is(err, apperrors.ErrActionNotPending):
		status = http.StatusConflict
		response = ApiResponse{Success: false, Error: services.MsgActionProcessed}
	case errors.Is(err, apperrors.ErrNotFound):
		status = http.StatusNotFound
		response = ApiResponse{Success: false, Error: services.MsgActionNotFound}
	case errors.Is(err, apperrors.ErrForbidden):
		status = http.StatusForbidden
		response = ApiResponse{Success: false, Error: "Access denied"}
	default:
		h.logger.Error("Failed to execute action",
			zap.String("project_id", projectID),
			zap.Error(err))
		status = http.StatusInternalServerError
		response = ApiResponse{Success: false, Error: "Failed to execute action"}
	}

	if err := WriteJSON(w, status, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
