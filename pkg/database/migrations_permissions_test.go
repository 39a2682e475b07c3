//go:build integration

package database_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/database"
	"github.com/ekaya-inc/ekaya-agent/pkg/testhelpers"
)

// Test_Migrations_InsufficientPermissions verifies migrations fail fast with a
// permission error, rather than hanging, when the role cannot create tables.
func Test_Migrations_InsufficientPermissions(t *testing.T) {
	agentDB := testhelpers.GetAgentDB(t)
	ctx := context.Background()

	const (
		dbName   = "test_migration_perms"
		user     = "restricted_user"
		password = "test_password"
	)

	_, _ = agentDB.DB.Pool.Exec(ctx, "DROP DATABASE IF EXISTS "+dbName)
	_, _ = agentDB.DB.Pool.Exec(ctx, "DROP USER IF EXISTS "+user)

	_, err := agentDB.DB.Pool.Exec(ctx, "CREATE DATABASE "+dbName)
	require.NoError(t, err)
	_, err = agentDB.DB.Pool.Exec(ctx, "CREATE USER "+user+" WITH PASSWORD '"+password+"'")
	require.NoError(t, err)
	// No CREATE on schema public: Postgres 15+ does not grant it to PUBLIC.
	_, err = agentDB.DB.Pool.Exec(ctx, "GRANT CONNECT ON DATABASE "+dbName+" TO "+user)
	require.NoError(t, err)

	defer func() {
		_, _ = agentDB.DB.Pool.Exec(ctx, `
			SELECT pg_terminate_backend(pid) FROM pg_stat_activity
			WHERE datname = $1 AND pid <> pg_backend_pid()`, dbName)
		time.Sleep(100 * time.Millisecond)
		_, _ = agentDB.DB.Pool.Exec(ctx, "DROP DATABASE IF EXISTS "+dbName)
		_, _ = agentDB.DB.Pool.Exec(ctx, "DROP USER IF EXISTS "+user)
	}()

	host, err := agentDB.Container.Host(ctx)
	require.NoError(t, err)
	port, err := agentDB.Container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	restricted, err := sql.Open("pgx", "postgres://"+user+":"+password+"@"+host+":"+port.Port()+"/"+dbName+"?sslmode=disable")
	require.NoError(t, err)
	defer restricted.Close()
	require.NoError(t, restricted.Ping())

	done := make(chan error, 1)
	go func() {
		done <- database.RunMigrations(restricted, zap.NewNop())
	}()

	select {
	case err := <-done:
		require.Error(t, err, "migrations should fail without CREATE privileges")
		assert.Contains(t, err.Error(), "permission denied")
	case <-time.After(30 * time.Second):
		t.Fatal("migrations hung instead of failing with a permission error")
	}
}

func Test_Migrations_Idempotent(t *testing.T) {
	agentDB := testhelpers.GetAgentDB(t)

	require.NoError(t, database.RunMigrations(agentDB.DB.StdDB(), zap.NewNop()))

	version, dirty, err := database.MigrationVersion(agentDB.DB.StdDB(), zap.NewNop())
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.GreaterOrEqual(t, version, uint(1))
}
