package datasource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/logging"
	"github.com/ekaya-inc/ekaya-agent/pkg/retry"
)

const (
	DefaultConnectionTTL      = 5 * time.Minute
	DefaultCleanupInterval    = time.Minute
	DefaultMaxPoolsPerProject = 4
	DefaultPoolMaxConns       = 5
	DefaultPoolMinConns       = 0
)

// ConnectionManagerConfig holds configuration for the connection manager.
type ConnectionManagerConfig struct {
	TTL                time.Duration
	CleanupInterval    time.Duration
	MaxPoolsPerProject int
	PoolMaxConns       int32
	PoolMinConns       int32
}

// ConnectionManager keeps one pool per project and connection target, and
// closes pools that have been idle longer than the TTL.
type ConnectionManager struct {
	mu                 sync.Mutex
	connections        map[string]*managedConnection // key: "{projectID}:{type}:{fingerprint}"
	ttl                time.Duration
	maxPoolsPerProject int
	poolMaxConns       int32
	poolMinConns       int32
	stopped            bool
	stopChan           chan struct{}
	done               chan struct{}
	now                func() time.Time
	retryConfig        *retry.Config
	logger             *zap.Logger
}

type managedConnection struct {
	pool     PoolConnector
	lastUsed time.Time
}

// NewConnectionManager creates a connection manager and starts its cleanup
// goroutine, which runs until Close is called.
func NewConnectionManager(cfg ConnectionManagerConfig, logger *zap.Logger) *ConnectionManager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConnectionTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.MaxPoolsPerProject <= 0 {
		cfg.MaxPoolsPerProject = DefaultMaxPoolsPerProject
	}
	if cfg.PoolMaxConns <= 0 {
		cfg.PoolMaxConns = DefaultPoolMaxConns
	}
	if cfg.PoolMinConns < 0 {
		cfg.PoolMinConns = DefaultPoolMinConns
	}

	m := &ConnectionManager{
		connections:        make(map[string]*managedConnection),
		ttl:                cfg.TTL,
		maxPoolsPerProject: cfg.MaxPoolsPerProject,
		poolMaxConns:       cfg.PoolMaxConns,
		poolMinConns:       cfg.PoolMinConns,
		stopChan:           make(chan struct{}),
		done:               make(chan struct{}),
		now:                time.Now,
		retryConfig:        retry.DefaultConfig(),
		logger:             logger.Named("datasource"),
	}

	go m.cleanupLoop(cfg.CleanupInterval)
	return m
}

// PoolLimits returns the per-pool connection bounds dialects should apply.
func (m *ConnectionManager) PoolLimits() (maxConns, minConns int32, idle time.Duration) {
	return m.poolMaxConns, m.poolMinConns, m.ttl
}

// Fingerprint identifies a connection target without keeping its secret in the key.
func Fingerprint(cfg ConnectionConfig) string {
	sum := sha256.Sum256([]byte(cfg.URL + "\x00" + cfg.Password))
	return hex.EncodeToString(sum[:8])
}

func connectionKey(projectID uuid.UUID, dsType, fingerprint string) string {
	return fmt.Sprintf("%s:%s:%s", projectID, dsType, fingerprint)
}

// GetOrCreate returns the pool for (projectID, dsType, fingerprint), creating
// it with create when missing or unhealthy. Creation and the health check are
// retried on transient errors; both are read-only.
func (m *ConnectionManager) GetOrCreate(
	ctx context.Context,
	projectID uuid.UUID,
	dsType, fingerprint string,
	create func(ctx context.Context) (PoolConnector, error),
) (PoolConnector, error) {
	key := connectionKey(projectID, dsType, fingerprint)

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil, fmt.Errorf("connection manager is closed")
	}
	managed, exists := m.connections[key]
	m.mu.Unlock()

	if exists {
		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := retry.DoIfRetryable(healthCtx, m.retryConfig, func() error {
			return managed.pool.Ping(healthCtx)
		})
		cancel()
		if err == nil {
			m.mu.Lock()
			managed.lastUsed = m.now()
			m.mu.Unlock()
			return managed.pool, nil
		}
		m.logger.Warn("Connection unhealthy, recreating",
			zap.String("project_id", projectID.String()),
			zap.String("type", dsType),
			zap.String("error", logging.SanitizeError(err)))
		m.remove(key, managed)
	}

	pool, err := retry.DoIfRetryableWithResult(ctx, m.retryConfig, func() (PoolConnector, error) {
		return create(ctx)
	})
	if err != nil {
		m.logger.Error("Failed to create pool",
			zap.String("project_id", projectID.String()),
			zap.String("type", dsType),
			zap.String("error", logging.SanitizeError(err)))
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		_ = pool.Close()
		return nil, fmt.Errorf("connection manager is closed")
	}
	// Another request may have created the same pool meanwhile.
	if existing, ok := m.connections[key]; ok {
		_ = pool.Close()
		existing.lastUsed = m.now()
		return existing.pool, nil
	}
	if n := m.countForProject(projectID); n >= m.maxPoolsPerProject {
		_ = pool.Close()
		return nil, fmt.Errorf("project %s has reached the maximum of %d database pools", projectID, m.maxPoolsPerProject)
	}

	m.connections[key] = &managedConnection{pool: pool, lastUsed: m.now()}
	m.logger.Info("Created connection pool",
		zap.String("project_id", projectID.String()),
		zap.String("type", dsType))
	return pool, nil
}

// countForProject must be called with m.mu held.
func (m *ConnectionManager) countForProject(projectID uuid.UUID) int {
	prefix := projectID.String() + ":"
	count := 0
	for key := range m.connections {
		if strings.HasPrefix(key, prefix) {
			count++
		}
	}
	return count
}

// remove closes and deletes the pool at key if it is still the given one.
func (m *ConnectionManager) remove(key string, managed *managedConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.connections[key]; ok && current == managed {
		_ = current.pool.Close()
		delete(m.connections, key)
	}
}

// InvalidateProject closes every pool of a project, e.g. after its database settings change.
func (m *ConnectionManager) InvalidateProject(projectID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := projectID.String() + ":"
	for key, managed := range m.connections {
		if strings.HasPrefix(key, prefix) {
			_ = managed.pool.Close()
			delete(m.connections, key)
		}
	}
}

func (m *ConnectionManager) cleanupLoop(interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup()
		case <-m.stopChan:
			return
		}
	}
}

// performCleanup closes pools idle for longer than the TTL.
func (m *ConnectionManager) performCleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return 0
	}

	now := m.now()
	removed := 0
	for key, managed := range m.connections {
		if now.Sub(managed.lastUsed) > m.ttl {
			_ = managed.pool.Close()
			delete(m.connections, key)
			removed++
		}
	}

	if removed > 0 {
		m.logger.Info("Cleaned up idle connection pools",
			zap.Int("count", removed),
			zap.Int("remaining", len(m.connections)))
	}
	return removed
}

// Close closes every pool and stops the cleanup goroutine. It is idempotent.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	close(m.stopChan)
	for _, managed := range m.connections {
		_ = managed.pool.Close()
	}
	m.connections = make(map[string]*managedConnection)
	m.mu.Unlock()

	<-m.done
	m.logger.Info("Connection manager closed")
	return nil
}

// Stats returns the number of open pools per project.
func (m *ConnectionManager) Stats() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := make(map[string]int)
	for key := range m.connections {
		projectID, _, _ := strings.Cut(key, ":")
		stats[projectID]++
	}
	return stats
}
