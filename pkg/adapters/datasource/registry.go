package datasource

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-agent/pkg/apperrors"
)

// AdapterInfo describes a registered dialect.
type AdapterInfo struct {
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
}

// Registration binds a dialect to its connection factory.
type Registration struct {
	Info AdapterInfo
	Open func(ctx context.Context, cfg ConnectionConfig, connMgr *ConnectionManager, projectID uuid.UUID) (Connection, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Registration)
)

// Register is called by each dialect's init() function.
func Register(reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredAdapters returns the registered dialects sorted by type.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

// IsRegistered checks if a dialect is available.
func IsRegistered(dsType string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[dsType]
	return ok
}

// Opener opens connections to a project's target database.
type Opener interface {
	Open(ctx context.Context, dsType string, projectID uuid.UUID, cfg ConnectionConfig) (Connection, error)
}

type registryOpener struct {
	connMgr *ConnectionManager
}

// NewOpener returns an Opener backed by the global registry and connMgr.
func NewOpener(connMgr *ConnectionManager) Opener {
	return &registryOpener{connMgr: connMgr}
}

func (o *registryOpener) Open(ctx context.Context, dsType string, projectID uuid.UUID, cfg ConnectionConfig) (Connection, error) {
	registryMu.RLock()
	reg, ok := registry[dsType]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unsupported database type %q", apperrors.ErrIntegrationNotConfigured, dsType)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: database url is empty", apperrors.ErrIntegrationNotConfigured)
	}
	return reg.Open(ctx, cfg, o.connMgr, projectID)
}

var _ Opener = (*registryOpener)(nil)
