// Package repositories provides Postgres data access for ekaya-agent.
// Every repository reads its connection from the tenant scope in the context.
package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/ekaya-agent/pkg/database"
)

func conn(ctx context.Context) (*pgxpool.Conn, error) {
	scope, err := database.RequireTenantScope(ctx)
	if err != nil {
		return nil, err
	}
	return scope.Conn, nil
}

func jsonbValueMap(v map[string]any) any {
	if v == nil {
		return nil
	}
	return v
}

// rawJSON returns raw as a jsonb argument, substituting null for empty input.
func rawJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	return string(raw)
}

func clampLimit(limit, fallback, max int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}

func wrap(op string, err error) error {
	return fmt.Errorf("failed to %s: %w", op, err)
}
