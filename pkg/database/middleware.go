package database

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/auth"
)

// WithProjectScope runs after auth middleware. It parses the project id from
// the {pathParam} path value, pins a tenant-scoped connection to it and rejects
// callers that do not own the project. The connection is released when next returns.
func WithProjectScope(db *DB, pathParam string, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			userID := auth.GetUserIDFromContext(r.Context())
			if userID == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
				return
			}

			projectID, err := uuid.Parse(r.PathValue(pathParam))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_project_id", "Invalid project ID format")
				return
			}

			scope, err := db.WithTenant(r.Context(), projectID)
			if err != nil {
				logger.Error("Failed to acquire tenant connection",
					zap.String("project_id", projectID.String()),
					zap.Error(err))
				writeError(w, http.StatusInternalServerError, "database_error", "Database connection error")
				return
			}
			defer scope.Close()

			var ownerID string
			err = scope.Conn.QueryRow(r.Context(),
				`SELECT owner_id FROM agent_projects WHERE id = $1`, projectID).Scan(&ownerID)
			if errors.Is(err, pgx.ErrNoRows) {
				writeError(w, http.StatusNotFound, "not_found", "Project not found")
				return
			}
			if err != nil {
				logger.Error("Failed to load project owner",
					zap.String("project_id", projectID.String()),
					zap.Error(err))
				writeError(w, http.StatusInternalServerError, "database_error", "Database error")
				return
			}
			if ownerID != userID {
				logger.Warn("Project access denied",
					zap.String("project_id", projectID.String()),
					zap.String("user_id", userID))
				// Not found rather than forbidden, so project ids cannot be probed.
				writeError(w, http.StatusNotFound, "not_found", "Project not found")
				return
			}

			next(w, r.WithContext(SetTenantScope(r.Context(), scope)))
		}
	}
}

// WithUserScope pins an unscoped connection for user-level endpoints.
func WithUserScope(db *DB, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			scope, err := db.WithoutTenant(r.Context())
			if err != nil {
				logger.Error("Failed to acquire connection", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "database_error", "Database connection error")
				return
			}
			defer scope.Close()
			next(w, r.WithContext(SetTenantScope(r.Context(), scope)))
		}
	}
}

func writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
