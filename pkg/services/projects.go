package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-agent/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-agent/pkg/cache"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
	"github.com/ekaya-inc/ekaya-agent/pkg/repositories"
)

// UpdateIntegrationsRequest replaces a project's integration settings.
// A nil or empty secret keeps the stored one.
type UpdateIntegrationsRequest struct {
	RepoOwner    string  `json:"repo_owner"`
	RepoName     string  `json:"repo_name"`
	RepoBranch   string  `json:"repo_branch"`
	DatabaseType string  `json:"database_type"`
	DatabaseURL  string  `json:"database_url"`
	RepoToken    *string `json:"repo_token,omitempty"`
	DatabaseKey  *string `json:"database_key,omitempty"`
}

// Validate checks the request for internal consistency.
func (r *UpdateIntegrationsRequest) Validate() error {
	r.RepoOwner = strings.TrimSpace(r.RepoOwner)
	r.RepoName = strings.TrimSpace(r.RepoName)
	r.RepoBranch = strings.TrimSpace(r.RepoBranch)
	r.DatabaseType = strings.TrimSpace(r.DatabaseType)
	r.DatabaseURL = strings.TrimSpace(r.DatabaseURL)

	if (r.RepoOwner == "") != (r.RepoName == "") {
		return fmt.Errorf("%w: repo_owner and repo_name must be set together", apperrors.ErrInvalidPayload)
	}
	if strings.Contains(r.RepoOwner, "/") || strings.Contains(r.RepoName, "/") {
		return fmt.Errorf("%w: repo_owner and repo_name must not contain '/'", apperrors.ErrInvalidPayload)
	}
	if (r.DatabaseType == "") != (r.DatabaseURL == "") {
		return fmt.Errorf("%w: database_type and database_url must be set together", apperrors.ErrInvalidPayload)
	}
	if r.DatabaseType != "" && !datasource.IsRegistered(r.DatabaseType) {
		return fmt.Errorf("%w: unsupported database_type %q", apperrors.ErrInvalidPayload, r.DatabaseType)
	}
	return nil
}

// ProjectService manages projects and their integration settings.
type ProjectService interface {
	Create(ctx context.Context, ownerID, name string) (*models.Project, error)
	List(ctx context.Context, ownerID string) ([]*models.Project, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error)

	// UpdateIntegrations seals new secrets, stores the settings and drops
	// cached reads and pooled connections that used the old ones.
	UpdateIntegrations(ctx context.Context, id uuid.UUID, req *UpdateIntegrationsRequest) (*models.Project, error)
}

type projectService struct {
	projectRepo repositories.ProjectRepository
	vault       CredentialVault
	cache       cache.ReadCache
	connMgr     *datasource.ConnectionManager
	logger      *zap.Logger
}

// NewProjectService creates a new project service. connMgr may be nil.
func NewProjectService(
	projectRepo repositories.ProjectRepository,
	vault CredentialVault,
	readCache cache.ReadCache,
	connMgr *datasource.ConnectionManager,
	logger *zap.Logger,
) ProjectService {
	if readCache == nil {
		readCache = cache.NoopCache{}
	}
	return &projectService{
		projectRepo: projectRepo,
		vault:       vault,
		cache:       readCache,
		connMgr:     connMgr,
		logger:      logger.Named("projects"),
	}
}

var _ ProjectService = (*projectService)(nil)

func (s *projectService) Create(ctx context.Context, ownerID, name string) (*models.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", apperrors.ErrInvalidPayload)
	}
	project := &models.Project{ID: uuid.New(), OwnerID: ownerID, Name: name}
	if err := s.projectRepo.Create(ctx, project); err != nil {
		return nil, err
	}
	s.logger.Info("Project created",
		zap.String("project_id", project.ID.String()),
		zap.String("owner_id", ownerID))
	return project, nil
}

func (s *projectService) List(ctx context.Context, ownerID string) ([]*models.Project, error) {
	return s.projectRepo.ListByOwner(ctx, ownerID)
}

func (s *projectService) GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	return s.projectRepo.Get(ctx, id)
}

func (s *projectService) UpdateIntegrations(ctx context.Context, id uuid.UUID, req *UpdateIntegrationsRequest) (*models.Project, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	project, err := s.projectRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	project.RepoOwner = req.RepoOwner
	project.RepoName = req.RepoName
	project.RepoBranch = req.RepoBranch
	project.DatabaseType = req.DatabaseType
	project.DatabaseURL = req.DatabaseURL
	// Empty means "keep" at the repository layer.
	project.EncryptedRepoToken = ""
	project.EncryptedDatabaseKey = ""

	if req.RepoToken != nil && *req.RepoToken != "" {
		if project.EncryptedRepoToken, err = s.vault.SealProjectSecret(id, *req.RepoToken); err != nil {
			return nil, fmt.Errorf("seal repository token: %w", err)
		}
	}
	if req.DatabaseKey != nil && *req.DatabaseKey != "" {
		if project.EncryptedDatabaseKey, err = s.vault.SealProjectSecret(id, *req.DatabaseKey); err != nil {
			return nil, fmt.Errorf("seal database key: %w", err)
		}
	}

	if err := s.projectRepo.UpdateIntegrations(ctx, project); err != nil {
		return nil, err
	}

	if err := s.cache.InvalidateProject(ctx, id); err != nil {
		s.logger.Warn("Failed to invalidate read cache",
			zap.String("project_id", id.String()),
			zap.Error(err))
	}
	if s.connMgr != nil {
		s.connMgr.InvalidateProject(id)
	}

	s.logger.Info("Project integrations updated",
		zap.String("project_id", id.String()),
		zap.Bool("has_repository", project.HasRepository()),
		zap.Bool("has_database", project.HasDatabase()))
	return project, nil
}
