// Package testhelpers provides utilities for testing ekaya-agent components.
package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/database"
)

// PostgresImage is the container image used for integration tests.
const PostgresImage = "postgres:16-alpine"

// AgentDB holds a migrated database shared by every integration test in a run.
type AgentDB struct {
	Container testcontainers.Container
	DB        *database.DB
	ConnStr   string
}

var (
	sharedAgentDB     *AgentDB
	sharedAgentDBOnce sync.Once
	sharedAgentDBErr  error
)

// GetAgentDB returns the shared, migrated test database.
// The container starts once per test binary and is reused.
func GetAgentDB(t *testing.T) *AgentDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedAgentDBOnce.Do(func() {
		sharedAgentDB, sharedAgentDBErr = setupAgentDB()
	})

	if sharedAgentDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedAgentDBErr)
	}

	return sharedAgentDB
}

func setupAgentDB() (*AgentDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "ekaya_agent_test",
			"POSTGRES_USER":     "ekaya",
			"POSTGRES_PASSWORD": "test_password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://ekaya:test_password@%s:%s/ekaya_agent_test?sslmode=disable",
		host, port.Port())

	var db *database.DB
	for i := 0; i < 10; i++ {
		db, err = database.NewConnection(ctx, &database.Config{URL: connStr, MaxConnections: 10})
		if err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}

	if err := database.RunMigrations(db.StdDB(), zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &AgentDB{Container: container, DB: db, ConnStr: connStr}, nil
}

// CreateProject inserts a project owned by ownerID and returns its id.
func (a *AgentDB) CreateProject(t *testing.T, ownerID string) uuid.UUID {
	t.Helper()

	ctx := context.Background()
	scope, err := a.DB.WithoutTenant(ctx)
	if err != nil {
		t.Fatalf("Failed to acquire connection: %v", err)
	}
	defer scope.Close()

	id := uuid.New()
	_, err = scope.Conn.Exec(ctx,
		`INSERT INTO agent_projects (id, owner_id, name) VALUES ($1, $2, $3)`,
		id, ownerID, "test-"+id.String()[:8])
	if err != nil {
		t.Fatalf("Failed to create test project: %v", err)
	}
	return id
}

// TenantContext returns a context scoped to projectID and its cleanup func.
func (a *AgentDB) TenantContext(t *testing.T, projectID uuid.UUID) (context.Context, func()) {
	t.Helper()

	ctx := context.Background()
	scope, err := a.DB.WithTenant(ctx, projectID)
	if err != nil {
		t.Fatalf("Failed to create tenant scope: %v", err)
	}
	return database.SetTenantScope(ctx, scope), scope.Close
}

// UnscopedContext returns a context holding a connection without a project setting.
func (a *AgentDB) UnscopedContext(t *testing.T) (context.Context, func()) {
	t.Helper()

	ctx := context.Background()
	scope, err := a.DB.WithoutTenant(ctx)
	if err != nil {
		t.Fatalf("Failed to acquire connection: %v", err)
	}
	return database.SetTenantScope(ctx, scope), scope.Close
}
