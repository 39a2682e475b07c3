package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-agent/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
	"github.com/ekaya-inc/ekaya-agent/pkg/repositories"
)

const maxMemoryContentLen = 2000

// MemoryService stores facts the assistant should keep in mind for a project.
type MemoryService interface {
	Add(ctx context.Context, projectID uuid.UUID, userID, content string) (*models.MemoryEntry, error)
	List(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.MemoryEntry, error)
}

type memoryService struct {
	memoryRepo repositories.MemoryRepository
}

// NewMemoryService creates a memory service.
func NewMemoryService(memoryRepo repositories.MemoryRepository) MemoryService {
	return &memoryService{memoryRepo: memoryRepo}
}

var _ MemoryService = (*memoryService)(nil)

func (s *memoryService) Add(ctx context.Context, projectID uuid.UUID, userID, content string) (*models.MemoryEntry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", apperrors.ErrInvalidPayload)
	}
	if len(content) > maxMemoryContentLen {
		return nil, fmt.Errorf("%w: content exceeds %d characters", apperrors.ErrInvalidPayload, maxMemoryContentLen)
	}
	entry := &models.MemoryEntry{
		ID:        uuid.New(),
		ProjectID: projectID,
		UserID:    userID,
		Content:   content,
	}
	if err := s.memoryRepo.Add(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *memoryService) List(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.MemoryEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.memoryRepo.ListRecent(ctx, projectID, limit)
}
