package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-agent/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
	"github.com/ekaya-inc/ekaya-agent/pkg/repositories"
)

// Action listing limits.
const (
	DefaultActionListLimit = 50
	MaxActionListLimit     = 200
)

// ActionService reads pending actions. Execution goes through ExecutionEngine.
type ActionService interface {
	// List returns newest first. An empty status lists every state.
	List(ctx context.Context, projectID uuid.UUID, status string, limit int) ([]*models.PendingAction, error)
	Get(ctx context.Context, projectID, actionID uuid.UUID) (*models.PendingAction, error)
}

type actionService struct {
	pendingRepo repositories.PendingActionRepository
}

// NewActionService creates an action reader.
func NewActionService(pendingRepo repositories.PendingActionRepository) ActionService {
	return &actionService{pendingRepo: pendingRepo}
}

var _ ActionService = (*actionService)(nil)

func (s *actionService) List(ctx context.Context, projectID uuid.UUID, status string, limit int) ([]*models.PendingAction, error) {
	if status != "" && !models.IsValidActionStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", apperrors.ErrInvalidPayload, status)
	}
	if limit <= 0 {
		limit = DefaultActionListLimit
	}
	if limit > MaxActionListLimit {
		limit = MaxActionListLimit
	}
	return s.pendingRepo.List(ctx, projectID, models.ActionStatus(status), limit)
}

func (s *actionService) Get(ctx context.Context, projectID, actionID uuid.UUID) (*models.PendingAction, error) {
	return s.pendingRepo.Get(ctx, projectID, actionID)
}
