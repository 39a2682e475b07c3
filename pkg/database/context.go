package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

type contextKey string

// TenantScopeKey is the context key for the tenant-scoped connection.
const TenantScopeKey contextKey = "tenantScope"

// ErrNoTenantScope is returned by repositories invoked without a scoped connection.
var ErrNoTenantScope = errors.New("no tenant scope in context")

// GetTenantScope retrieves the tenant-scoped connection from context.
func GetTenantScope(ctx context.Context) (*TenantScope, bool) {
	scope, ok := ctx.Value(TenantScopeKey).(*TenantScope)
	return scope, ok && scope != nil && scope.Conn != nil
}

// RequireTenantScope is GetTenantScope for callers that cannot proceed without one.
func RequireTenantScope(ctx context.Context) (*TenantScope, error) {
	scope, ok := GetTenantScope(ctx)
	if !ok {
		return nil, ErrNoTenantScope
	}
	return scope, nil
}

// SetTenantScope stores the tenant-scoped connection in context.
func SetTenantScope(ctx context.Context, scope *TenantScope) context.Context {
	return context.WithValue(ctx, TenantScopeKey, scope)
}

// TenantScopeProvider hands out scoped contexts outside the HTTP middleware
// (MCP tools, operator commands).
type TenantScopeProvider struct {
	db *DB
}

// NewTenantScopeProvider creates a TenantScopeProvider for the given database.
func NewTenantScopeProvider(db *DB) *TenantScopeProvider {
	return &TenantScopeProvider{db: db}
}

// WithTenantScope returns a context scoped to projectID and its cleanup func.
func (p *TenantScopeProvider) WithTenantScope(ctx context.Context, projectID uuid.UUID) (context.Context, func(), error) {
	scope, err := p.db.WithTenant(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	return SetTenantScope(ctx, scope), scope.Close, nil
}

// WithoutTenantScope returns a context holding an unscoped connection and its cleanup func.
func (p *TenantScopeProvider) WithoutTenantScope(ctx context.Context) (context.Context, func(), error) {
	scope, err := p.db.WithoutTenant(ctx)
	if err != nil {
		return nil, nil, err
	}
	return SetTenantScope(ctx, scope), scope.Close, nil
}
