package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TenantScope is a pooled connection pinned to one project for RLS evaluation.
// ProjectID is uuid.Nil for unscoped connections.
type TenantScope struct {
	Conn      *pgxpool.Conn
	ProjectID uuid.UUID
}

// Close clears the project setting and returns the connection to the pool.
// It must run before the connection can serve another request.
func (s *TenantScope) Close() {
	if s == nil || s.Conn == nil {
		return
	}
	if s.ProjectID != uuid.Nil {
		_, _ = s.Conn.Exec(context.Background(), "RESET app.current_project_id")
	}
	s.Conn.Release()
	s.Conn = nil
}

// WithTenant acquires a connection with app.current_project_id set.
// Callers must defer scope.Close().
func (db *DB) WithTenant(ctx context.Context, projectID uuid.UUID) (*TenantScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(ctx, "SELECT set_config('app.current_project_id', $1, false)", projectID.String()); err != nil {
		conn.Release()
		return nil, err
	}

	return &TenantScope{Conn: conn, ProjectID: projectID}, nil
}

// WithoutTenant acquires a connection with no project setting.
// Used for user-scoped tables, the startup sweeper and operator commands.
func (db *DB) WithoutTenant(ctx context.Context) (*TenantScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &TenantScope{Conn: conn}, nil
}
