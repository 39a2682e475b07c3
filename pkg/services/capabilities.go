package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-agent/pkg/adapters/repository"
	"github.com/ekaya-inc/ekaya-agent/pkg/adapters/websearch"
	"github.com/ekaya-inc/ekaya-agent/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-agent/pkg/cache"
	"github.com/ekaya-inc/ekaya-agent/pkg/config"
	"github.com/ekaya-inc/ekaya-agent/pkg/logging"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
	"github.com/ekaya-inc/ekaya-agent/pkg/repositories"
	"github.com/ekaya-inc/ekaya-agent/pkg/retry"
)

// User-facing failure texts.
const (
	msgRepoNotConfigured     = "Repository integration not configured. Link a repository in project settings."
	msgRepoTokenMissing      = "Repository token not configured. Add a token in project settings."
	msgDatabaseNotConfigured = "Database integration not configured. Link a database in project settings."
	msgWebSearchUnavailable  = "Web search is not configured on this server."
	msgAccessDenied          = "You do not have access to this project's credentials."
	msgCredentialsUnreadable = "Stored credentials can no longer be decrypted. Please re-enter them in project settings."
	msgRequiresConfirmation  = "This tool changes external systems and must go through a confirmed action."
	msgInternalError         = "The tool failed unexpectedly."
	msgAPIKeyNotConfigured   = "API key not configured. Please add your API key in Settings."
)

// CapabilityService runs read-only capabilities. Every call returns an
// envelope; errors and panics never cross this boundary.
type CapabilityService interface {
	Invoke(ctx context.Context, userID string, projectID uuid.UUID, params models.ToolParams) models.ToolResult
}

// CapabilityDeps groups the adapters a CapabilityService calls.
type CapabilityDeps struct {
	Vault       CredentialVault
	Host        repository.Host
	Opener      datasource.Opener
	Searcher    websearch.Searcher // nil when web search is not configured
	Cache       cache.ReadCache
	MemoryRepo  repositories.MemoryRepository
	Invocations repositories.ToolInvocationRepository
}

type capabilityService struct {
	deps          CapabilityDeps
	agentCfg      *config.AgentConfig
	defaultBranch string
	retryConfig   *retry.Config
	recorder      *invocationRecorder
	logger        *zap.Logger
}

// NewCapabilityService creates the capability boundary.
func NewCapabilityService(deps CapabilityDeps, agentCfg *config.AgentConfig, defaultBranch string, logger *zap.Logger) CapabilityService {
	if deps.Cache == nil {
		deps.Cache = cache.NoopCache{}
	}
	named := logger.Named("capabilities")
	return &capabilityService{
		deps:          deps,
		agentCfg:      agentCfg,
		defaultBranch: defaultBranch,
		retryConfig:   retry.DefaultConfig(),
		recorder:      newInvocationRecorder(deps.Invocations, named),
		logger:        named,
	}
}

var _ CapabilityService = (*capabilityService)(nil)

func (s *capabilityService) Invoke(ctx context.Context, userID string, projectID uuid.UUID, params models.ToolParams) (result models.ToolResult) {
	tool := params.Tool()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Capability panicked",
				zap.String("project_id", projectID.String()),
				zap.String("tool", string(tool)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			result = models.ToolFailure(msgInternalError)
		}
		s.recorder.record(ctx, userID, projectID, string(tool), params, result)
		s.logger.Debug("Capability finished",
			zap.String("project_id", projectID.String()),
			zap.String("tool", string(tool)),
			zap.Bool("success", result.Success),
			zap.Duration("elapsed", time.Since(start)))
	}()

	switch p := params.(type) {
	case models.ListRepositoryFilesParams:
		return s.listRepositoryFiles(ctx, userID, projectID, p)
	case models.GetDatabaseSchemaParams:
		return s.getDatabaseSchema(ctx, userID, projectID, p)
	case models.WebSearchParams:
		return s.webSearch(ctx, projectID, p)
	case models.AddMemoryParams:
		return s.addMemory(ctx, userID, projectID, p)
	default:
		if tool.IsMutating() {
			return models.ToolFailure(msgRequiresConfirmation)
		}
		return models.ToolFailure(fmt.Sprintf("Unknown tool %q.", tool))
	}
}

func (s *capabilityService) listRepositoryFiles(ctx context.Context, userID string, projectID uuid.UUID, p models.ListRepositoryFilesParams) models.ToolResult {
	creds, failure := s.credentials(ctx, userID, projectID)
	if failure != nil {
		return *failure
	}
	project := creds.Project
	if !project.HasRepository() {
		return models.ToolFailure(msgRepoNotConfigured)
	}
	if creds.RepoToken == "" {
		return models.ToolFailure(msgRepoTokenMissing)
	}

	repo := repository.Repo{
		Owner:  project.RepoOwner,
		Name:   project.RepoName,
		Branch: project.Branch(s.defaultBranch),
		Token:  creds.RepoToken,
	}
	variant := repo.FullName() + "@" + repo.Branch + ":" + strings.TrimPrefix(p.PathPrefix, "/")

	var cached models.RepositoryFileList
	if hit, err := s.deps.Cache.Get(ctx, projectID, cache.KindFileList, variant, &cached); err == nil && hit {
		return models.ToolSuccess(&cached)
	}

	ctx, cancel := context.WithTimeout(ctx, s.agentCfg.AdapterTimeout)
	defer cancel()

	list, err := retry.DoIfRetryableWithResult(ctx, s.retryConfig, func() (*models.RepositoryFileList, error) {
		return s.deps.Host.ListFiles(ctx, repo, p.PathPrefix, s.agentCfg.MaxFiles)
	})
	if err != nil {
		return s.failure(ctx, projectID, models.ToolListRepositoryFiles, err)
	}

	if err := s.deps.Cache.Set(ctx, projectID, cache.KindFileList, variant, list); err != nil {
		s.logger.Warn("Failed to cache file list", zap.String("project_id", projectID.String()), zap.Error(err))
	}
	return models.ToolSuccess(list)
}

func (s *capabilityService) getDatabaseSchema(ctx context.Context, userID string, projectID uuid.UUID, p models.GetDatabaseSchemaParams) models.ToolResult {
	creds, failure := s.credentials(ctx, userID, projectID)
	if failure != nil {
		return *failure
	}
	project := creds.Project
	if !project.HasDatabase() {
		return models.ToolFailure(msgDatabaseNotConfigured)
	}

	variant := strings.ToLower(strings.TrimSpace(p.TableFilter))
	var cached models.DatabaseSchema
	if hit, err := s.deps.Cache.Get(ctx, projectID, cache.KindSchema, variant, &cached); err == nil && hit {
		return models.ToolSuccess(&cached)
	}

	ctx, cancel := context.WithTimeout(ctx, s.agentCfg.AdapterTimeout)
	defer cancel()

	schema, err := retry.DoIfRetryableWithResult(ctx, s.retryConfig, func() (*models.DatabaseSchema, error) {
		conn, err := s.deps.Opener.Open(ctx, project.DatabaseType, projectID, datasource.ConnectionConfig{
			URL:      project.DatabaseURL,
			Password: creds.DatabaseKey,
		})
		if err != nil {
			return nil, err
		}
		defer conn.Close()

		return datasource.DiscoverSchema(ctx, conn, project.DatabaseType, datasource.SchemaOptions{
			MaxTables:   s.agentCfg.MaxSchemaTables,
			TableFilter: p.TableFilter,
			Concurrency: s.agentCfg.SchemaConcurrency,
		})
	})
	if err != nil {
		return s.failure(ctx, projectID, models.ToolGetDatabaseSchema, err)
	}

	if err := s.deps.Cache.Set(ctx, projectID, cache.KindSchema, variant, schema); err != nil {
		s.logger.Warn("Failed to cache schema", zap.String("project_id", projectID.String()), zap.Error(err))
	}
	return models.ToolSuccess(schema)
}

func (s *capabilityService) webSearch(ctx context.Context, projectID uuid.UUID, p models.WebSearchParams) models.ToolResult {
	if s.deps.Searcher == nil {
		return models.ToolFailure(msgWebSearchUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, s.agentCfg.AdapterTimeout)
	defer cancel()

	result, err := retry.DoIfRetryableWithResult(ctx, s.retryConfig, func() (*models.WebSearchResult, error) {
		return s.deps.Searcher.Search(ctx, p.Query)
	})
	if err != nil {
		return s.failure(ctx, projectID, models.ToolWebSearch, err)
	}
	return models.ToolSuccess(result)
}

func (s *capabilityService) addMemory(ctx context.Context, userID string, projectID uuid.UUID, p models.AddMemoryParams) models.ToolResult {
	entry := &models.MemoryEntry{
		ID:        uuid.New(),
		ProjectID: projectID,
		UserID:    userID,
		Content:   strings.TrimSpace(p.Content),
	}
	if err := s.deps.MemoryRepo.Add(ctx, entry); err != nil {
		return s.failure(ctx, projectID, models.ToolAddMemory, err)
	}
	return models.ToolSuccess(entry)
}

// credentials resolves project secrets, or returns the failure envelope to hand back.
func (s *capabilityService) credentials(ctx context.Context, userID string, projectID uuid.UUID) (*models.ProjectCredentials, *models.ToolResult) {
	creds, err := s.deps.Vault.ProjectCredentials(ctx, userID, projectID)
	if err == nil {
		return creds, nil
	}
	var result models.ToolResult
	switch {
	case errors.Is(err, apperrors.ErrForbidden):
		result = models.ToolFailure(msgAccessDenied)
	case errors.Is(err, apperrors.ErrCredentialsKeyMismatch):
		result = models.ToolFailure(msgCredentialsUnreadable)
	case errors.Is(err, apperrors.ErrNotFound):
		result = models.ToolFailure("Project not found.")
	default:
		s.logger.Error("Failed to resolve project credentials",
			zap.String("project_id", projectID.String()),
			zap.Error(err))
		result = models.ToolFailure("Could not load project credentials.")
	}
	return nil, &result
}

// failure logs err and converts it into a user-readable envelope.
func (s *capabilityService) failure(ctx context.Context, projectID uuid.UUID, tool models.ToolName, err error) models.ToolResult {
	s.logger.Warn("Capability failed",
		zap.String("project_id", projectID.String()),
		zap.String("tool", string(tool)),
		zap.String("error", logging.SanitizeError(err)))
	return models.ToolFailure(describeAdapterError(ctx, err, s.agentCfg.AdapterTimeout))
}

// describeAdapterError turns an adapter error into text safe to show the user.
func describeAdapterError(ctx context.Context, err error, timeout time.Duration) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Sprintf("The request timed out after %s.", timeout)
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	case errors.Is(err, apperrors.ErrIntegrationNotConfigured):
		return "Integration not configured: " + logging.SanitizeError(err)
	case errors.Is(err, apperrors.ErrCredentialsMissing):
		return "Credentials are missing for this integration."
	case errors.Is(err, apperrors.ErrCredentialsKeyMismatch):
		return msgCredentialsUnreadable
	case errors.Is(err, apperrors.ErrForbidden):
		return msgAccessDenied
	case errors.Is(err, apperrors.ErrAPIKeyNotConfigured):
		return msgAPIKeyNotConfigured
	case errors.Is(err, apperrors.ErrStaleFile):
		return "The file changed since it was read. Generate a new edit to try again."
	case errors.Is(err, errActionPanicked):
		return msgInternalError
	}

	var repoErr *repository.StatusError
	if errors.As(err, &repoErr) {
		return "Repository request failed: " + repoErr.Message
	}
	var searchErr *websearch.StatusError
	if errors.As(err, &searchErr) {
		return "Web search failed: " + logging.SanitizeText(searchErr.Message)
	}
	return logging.TruncateString(logging.SanitizeError(err), 500)
}
