package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-agent/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
)

// ProjectRepository provides data access for projects and their integration settings.
type ProjectRepository interface {
	Create(ctx context.Context, project *models.Project) error
	Get(ctx context.Context, id uuid.UUID) (*models.Project, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Project, error)
	// UpdateIntegrations overwrites repository and database settings.
	// Encrypted secrets are only replaced when non-empty.
	UpdateIntegrations(ctx context.Context, project *models.Project) error
}

type projectRepository struct{}

// NewProjectRepository creates a new ProjectRepository.
func NewProjectRepository() ProjectRepository {
	return &projectRepository{}
}

var _ ProjectRepository = (*projectRepository)(nil)

const projectColumns = `
	id, owner_id, name, repo_owner, repo_name, repo_branch,
	database_type, database_url, encrypted_repo_token, encrypted_database_key,
	created_at, updated_at`

func (r *projectRepository) Create(ctx context.Context, project *models.Project) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}
	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}

	err = c.QueryRow(ctx, `
		INSERT INTO agent_projects (
			id, owner_id, name, repo_owner, repo_name, repo_branch,
			database_type, database_url, encrypted_repo_token, encrypted_database_key
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		project.ID, project.OwnerID, project.Name,
		project.RepoOwner, project.RepoName, project.RepoBranch,
		project.DatabaseType, project.DatabaseURL,
		project.EncryptedRepoToken, project.EncryptedDatabaseKey,
	).Scan(&project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return wrap("create project", err)
	}
	return nil
}

func (r *projectRepository) Get(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	p, err := scanProject(c.QueryRow(ctx, `SELECT `+projectColumns+` FROM agent_projects WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, wrap("get project", err)
	}
	return p, nil
}

func (r *projectRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Project, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := c.Query(ctx, `SELECT `+projectColumns+` FROM agent_projects WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, wrap("list projects", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, wrap("scan project", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (r *projectRepository) UpdateIntegrations(ctx context.Context, project *models.Project) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	err = c.QueryRow(ctx, `
		UPDATE agent_projects SET
			repo_owner = $2,
			repo_name = $3,
			repo_branch = $4,
			database_type = $5,
			database_url = $6,
			encrypted_repo_token = COALESCE(NULLIF($7, ''), encrypted_repo_token),
			encrypted_database_key = COALESCE(NULLIF($8, ''), encrypted_database_key),
			updated_at = now()
		WHERE id = $1
		RETURNING encrypted_repo_token, encrypted_database_key, updated_at`,
		project.ID,
		project.RepoOwner, project.RepoName, project.RepoBranch,
		project.DatabaseType, project.DatabaseURL,
		project.EncryptedRepoToken, project.EncryptedDatabaseKey,
	).Scan(&project.EncryptedRepoToken, &project.EncryptedDatabaseKey, &project.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.ErrNotFound
	}
	if err != nil {
		return wrap("update project integrations", err)
	}
	return nil
}

func scanProject(row pgx.Row) (*models.Project, error) {
	var p models.Project
	err := row.Scan(
		&p.ID, &p.OwnerID, &p.Name, &p.RepoOwner, &p.RepoName, &p.RepoBranch,
		&p.DatabaseType, &p.DatabaseURL, &p.EncryptedRepoToken, &p.EncryptedDatabaseKey,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
