// Package cache holds short-lived copies of read-only capability results
// (repository file lists, database schemas) keyed by project.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "ekaya-agent"

// Kinds of cached read results.
const (
	KindFileList = "files"
	KindSchema   = "schema"
)

// ReadCache stores capability read results per project.
type ReadCache interface {
	// Get unmarshals a cached value into dest and reports whether it was found.
	Get(ctx context.Context, projectID uuid.UUID, kind, variant string, dest any) (bool, error)
	Set(ctx context.Context, projectID uuid.UUID, kind, variant string, value any) error
	// InvalidateProject drops every cached result of the project.
	InvalidateProject(ctx context.Context, projectID uuid.UUID) error
}

// Key returns the cache key for one read result.
func Key(projectID uuid.UUID, kind, variant string) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, projectID, kind, variant)
}

func projectPattern(projectID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:*", keyPrefix, projectID)
}

// RedisCache implements ReadCache on Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache creates a ReadCache on client. A nil client yields a no-op cache.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) ReadCache {
	if client == nil {
		return NoopCache{}
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger.Named("cache")}
}

func (c *RedisCache) Get(ctx context.Context, projectID uuid.UUID, kind, variant string, dest any) (bool, error) {
	raw, err := c.client.Get(ctx, Key(projectID, kind, variant)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get: %w", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.logger.Warn("Discarding undecodable cache entry",
			zap.String("project_id", projectID.String()),
			zap.String("kind", kind),
			zap.Error(err))
		return false, nil
	}
	return true, nil
}

func (c *RedisCache) Set(ctx context.Context, projectID uuid.UUID, kind, variant string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.client.Set(ctx, Key(projectID, kind, variant), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (c *RedisCache) InvalidateProject(ctx context.Context, projectID uuid.UUID) error {
	iter := c.client.Scan(ctx, 0, projectPattern(projectID), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	c.logger.Debug("Invalidated project cache",
		zap.String("project_id", projectID.String()),
		zap.Int("keys", len(keys)))
	return nil
}

// NoopCache never stores anything.
type NoopCache struct{}

func (NoopCache) Get(context.Context, uuid.UUID, string, string, any) (bool, error) { return false, nil }
func (NoopCache) Set(context.Context, uuid.UUID, string, string, any) error         { return nil }
func (NoopCache) InvalidateProject(context.Context, uuid.UUID) error                { return nil }

var (
	_ ReadCache = (*RedisCache)(nil)
	_ ReadCache = NoopCache{}
)
