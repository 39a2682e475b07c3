package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-agent/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
)

// PendingActionRepository stores proposals and enforces their lifecycle with
// conditional updates: a row only leaves pending through BeginExecution and only
// leaves executing through Finish.
type PendingActionRepository interface {
	Create(ctx context.Context, action *models.PendingAction) error
	Get(ctx context.Context, projectID, id uuid.UUID) (*models.PendingAction, error)
	// List returns newest first. An empty status lists every state.
	List(ctx context.Context, projectID uuid.UUID, status models.ActionStatus, limit int) ([]*models.PendingAction, error)

	// BeginExecution atomically moves a pending action to executing.
	// Returns apperrors.ErrActionNotPending when the action is in any other
	// state and apperrors.ErrNotFound when it does not exist.
	BeginExecution(ctx context.Context, projectID, id uuid.UUID) (*models.PendingAction, error)

	// Finish moves an executing action to executed or failed.
	// Returns apperrors.ErrConflict if the action is not executing.
	Finish(ctx context.Context, id uuid.UUID, status models.ActionStatus, result map[string]any, errText *string) (*models.PendingAction, error)

	// FailInterrupted fails actions left executing since before cutoff.
	FailInterrupted(ctx context.Context, cutoff time.Time, reason string) (int64, error)
}

type pendingActionRepository struct{}

// NewPendingActionRepository creates a new PendingActionRepository.
func NewPendingActionRepository() PendingActionRepository {
	return &pendingActionRepository{}
}

var _ PendingActionRepository = (*pendingActionRepository)(nil)

const pendingActionColumns = `
	id, project_id, user_id, action_type, payload, status, result, error,
	created_at, executing_at, executed_at`

func (r *pendingActionRepository) Create(ctx context.Context, action *models.PendingAction) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}
	if action.Status != models.ActionStatusPending {
		return fmt.Errorf("new action must be pending, got %s", action.Status)
	}

	err = c.QueryRow(ctx, `
		INSERT INTO agent_pending_actions (id, project_id, user_id, action_type, payload, status)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		RETURNING created_at`,
		action.ID, action.ProjectID, action.UserID, string(action.Kind), rawJSON(action.Payload), string(action.Status),
	).Scan(&action.CreatedAt)
	if err != nil {
		return wrap("create pending action", err)
	}
	return nil
}

func (r *pendingActionRepository) Get(ctx context.Context, projectID, id uuid.UUID) (*models.PendingAction, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	a, err := scanPendingAction(c.QueryRow(ctx,
		`SELECT `+pendingActionColumns+` FROM agent_pending_actions WHERE id = $1 AND project_id = $2`, id, projectID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, wrap("get pending action", err)
	}
	return a, nil
}

func (r *pendingActionRepository) List(ctx context.Context, projectID uuid.UUID, status models.ActionStatus, limit int) ([]*models.PendingAction, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit, 50, 500)

	rows, err := c.Query(ctx, `
		SELECT `+pendingActionColumns+`
		FROM agent_pending_actions
		WHERE project_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3`, projectID, string(status), limit)
	if err != nil {
		return nil, wrap("list pending actions", err)
	}
	defer rows.Close()

	var actions []*models.PendingAction
	for rows.Next() {
		a, err := scanPendingAction(rows)
		if err != nil {
			return nil, wrap("scan pending action", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func (r *pendingActionRepository) BeginExecution(ctx context.Context, projectID, id uuid.UUID) (*models.PendingAction, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	a, err := scanPendingAction(c.QueryRow(ctx, `
		UPDATE agent_pending_actions
		SET status = 'executing', executing_at = now()
		WHERE id = $1 AND project_id = $2 AND status = 'pending'
		RETURNING `+pendingActionColumns, id, projectID))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, wrap("begin action execution", err)
	}

	// Lost the swap: distinguish a missing action from one already handled.
	var status string
	err = c.QueryRow(ctx,
		`SELECT status FROM agent_pending_actions WHERE id = $1 AND project_id = $2`, id, projectID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, wrap("read action status", err)
	}
	return nil, fmt.Errorf("%w: status is %s", apperrors.ErrActionNotPending, status)
}

func (r *pendingActionRepository) Finish(ctx context.Context, id uuid.UUID, status models.ActionStatus, result map[string]any, errText *string) (*models.PendingAction, error) {
	if !models.ActionStatusExecuting.CanTransitionTo(status) {
		return nil, fmt.Errorf("invalid terminal status %q", status)
	}
	if status == models.ActionStatusFailed && (errText == nil || *errText == "") {
		return nil, fmt.Errorf("failed actions require an error")
	}

	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	a, err := scanPendingAction(c.QueryRow(ctx, `
		UPDATE agent_pending_actions
		SET status = $2, result = $3, error = $4, executed_at = now()
		WHERE id = $1 AND status = 'executing'
		RETURNING `+pendingActionColumns,
		id, string(status), jsonbValueMap(result), errText))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: action %s is not executing", apperrors.ErrConflict, id)
	}
	if err != nil {
		return nil, wrap("finish action", err)
	}
	return a, nil
}

func (r *pendingActionRepository) FailInterrupted(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	c, err := conn(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := c.Exec(ctx, `
		UPDATE agent_pending_actions
		SET status = 'failed', error = $2, executed_at = now()
		WHERE status = 'executing' AND executing_at < $1`, cutoff, reason)
	if err != nil {
		return 0, wrap("fail interrupted actions", err)
	}
	return tag.RowsAffected(), nil
}

func scanPendingAction(row pgx.Row) (*models.PendingAction, error) {
	var (
		a            models.PendingAction
		kind, status string
		payload      []byte
	)
	err := row.Scan(
		&a.ID, &a.ProjectID, &a.UserID, &kind, &payload, &status, &a.Result, &a.Error,
		&a.CreatedAt, &a.ExecutingAt, &a.ExecutedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Kind = models.ActionKind(kind)
	a.Status = models.ActionStatus(status)
	a.Payload = payload
	return &a, nil
}
