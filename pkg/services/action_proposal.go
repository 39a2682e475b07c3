package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-agent/pkg/audit"
	"github.com/ekaya-inc/ekaya-agent/pkg/cache"
	"github.com/ekaya-inc/ekaya-agent/pkg/llm"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
	"github.com/ekaya-inc/ekaya-agent/pkg/repositories"
	sqlutil "github.com/ekaya-inc/ekaya-agent/pkg/sql"
)

// schemaContextTables bounds the cached schema fed to statement drafting.
const schemaContextTables = 30

// draftStatementTool names the statement-drafting model call in the audit trail.
const draftStatementTool = "draft_statement"

// ActionProposalBuilder turns a mutating tool selection into a persisted pending action.
// It never performs the mutation.
type ActionProposalBuilder interface {
	// Propose always returns a descriptor. The action is nil when the
	// descriptor reports failure; nothing was persisted in that case.
	Propose(ctx context.Context, tc *TurnContext, params models.ToolParams) (*models.ActionDescriptor, *models.PendingAction)
}

type actionProposalBuilder struct {
	pendingRepo   repositories.PendingActionRepository
	llmFactory    llm.LLMClientFactory
	cache         cache.ReadCache
	auditor       *audit.SecurityAuditor
	recorder      *invocationRecorder
	timeout       time.Duration
	defaultBranch string
	logger        *zap.Logger
}

// NewActionProposalBuilder creates a proposal builder.
func NewActionProposalBuilder(
	pendingRepo repositories.PendingActionRepository,
	invocations repositories.ToolInvocationRepository,
	llmFactory llm.LLMClientFactory,
	readCache cache.ReadCache,
	auditor *audit.SecurityAuditor,
	timeout time.Duration,
	defaultBranch string,
	logger *zap.Logger,
) ActionProposalBuilder {
	if readCache == nil {
		readCache = cache.NoopCache{}
	}
	named := logger.Named("proposal")
	return &actionProposalBuilder{
		pendingRepo:   pendingRepo,
		llmFactory:    llmFactory,
		cache:         readCache,
		auditor:       auditor,
		recorder:      newInvocationRecorder(invocations, named),
		timeout:       timeout,
		defaultBranch: defaultBranch,
		logger:        named,
	}
}

var _ ActionProposalBuilder = (*actionProposalBuilder)(nil)

func (b *actionProposalBuilder) Propose(ctx context.Context, tc *TurnContext, params models.ToolParams) (desc *models.ActionDescriptor, action *models.PendingAction) {
	defer func() {
		b.recorder.record(ctx, tc.UserID, tc.ProjectID, string(params.Tool()), params, descriptorEnvelope(desc))
	}()

	switch p := params.(type) {
	case models.ProposeStatementParams:
		return b.proposeStatement(ctx, tc, p)
	case models.ProposeFileEditParams:
		return b.proposeFileEdit(ctx, tc, p)
	default:
		return models.FailedActionDescriptor("", fmt.Sprintf("%s does not produce an action", params.Tool())), nil
	}
}

// descriptorEnvelope wraps a proposal outcome for the audit trail.
func descriptorEnvelope(desc *models.ActionDescriptor) models.ToolResult {
	if desc.Success {
		return models.ToolSuccess(desc)
	}
	return models.ToolFailure(desc.Error)
}

func (b *actionProposalBuilder) proposeStatement(ctx context.Context, tc *TurnContext, p models.ProposeStatementParams) (*models.ActionDescriptor, *models.PendingAction) {
	kind := models.ActionKindExecuteStatement
	if tc.Project == nil || !tc.Project.HasDatabase() {
		return models.FailedActionDescriptor(kind, msgDatabaseNotConfigured), nil
	}

	statement := strings.TrimSpace(p.Statement)
	if statement == "" {
		drafted, err := b.draftStatement(ctx, tc, p.Request)
		draftResult := models.ToolSuccess(map[string]string{"statement": drafted})
		if err != nil {
			draftResult = models.ToolFailure(describeAdapterError(ctx, err, b.timeout))
		}
		b.recorder.record(ctx, tc.UserID, tc.ProjectID, draftStatementTool, map[string]string{"request": p.Request}, draftResult)
		if err != nil {
			b.logger.Warn("Failed to draft statement",
				zap.String("project_id", tc.ProjectID.String()),
				zap.Error(err))
			if errors.Is(err, apperrors.ErrAPIKeyNotConfigured) {
				return models.FailedActionDescriptor(kind, msgAPIKeyNotConfigured), nil
			}
			return models.FailedActionDescriptor(kind, "Could not draft a statement for this request. Try stating the change more precisely."), nil
		}
		statement = drafted
	}

	validated := sqlutil.ValidateAndNormalize(llm.StripCodeFences(statement))
	if validated.Error != nil {
		return models.FailedActionDescriptor(kind, "The drafted statement is not valid: "+validated.Error.Error()), nil
	}
	statement = validated.NormalizedSQL

	var warnings []string
	for _, hit := range sqlutil.CheckStatementLiterals(statement) {
		b.auditor.LogInjectionSuspected(ctx, tc.ProjectID, audit.SQLInjectionDetails{
			Literal:     fmt.Sprint(hit.ParamValue),
			Fingerprint: hit.Fingerprint,
			Statement:   statement,
		})
		warnings = append(warnings, fmt.Sprintf("A string literal in this statement looks like an injection payload (%s). Review it carefully.", hit.ParamName))
	}

	keywords := sqlutil.DestructiveKeywords(statement)
	payload := models.StatementPayload{
		Statement:           statement,
		Request:             strings.TrimSpace(p.Request),
		Destructive:         len(keywords) > 0,
		DestructiveKeywords: keywords,
	}

	action, err := models.NewStatementAction(tc.ProjectID, tc.UserID, payload)
	if err != nil {
		return models.FailedActionDescriptor(kind, "Could not prepare the action."), nil
	}
	if err := b.pendingRepo.Create(ctx, action); err != nil {
		b.logger.Error("Failed to persist pending action",
			zap.String("project_id", tc.ProjectID.String()),
			zap.Error(err))
		return models.FailedActionDescriptor(kind, "Could not save the proposed action."), nil
	}

	if payload.Destructive {
		b.auditor.LogDestructiveProposal(ctx, tc.ProjectID, action.ID, keywords)
	}
	b.logger.Info("Statement proposed",
		zap.String("project_id", tc.ProjectID.String()),
		zap.String("action_id", action.ID.String()),
		zap.Bool("destructive", payload.Destructive))

	return models.NewActionDescriptor(action, payload, warnings), action
}

func (b *actionProposalBuilder) proposeFileEdit(ctx context.Context, tc *TurnContext, p models.ProposeFileEditParams) (*models.ActionDescriptor, *models.PendingAction) {
	kind := models.ActionKindEditFile
	if tc.Project == nil || !tc.Project.HasRepository() {
		return models.FailedActionDescriptor(kind, msgRepoNotConfigured), nil
	}

	filePath, err := normalizeRepoPath(p.Path)
	if err != nil {
		return models.FailedActionDescriptor(kind, "Invalid file path: "+err.Error()+"."), nil
	}

	payload := models.FileEditPayload{
		Path:        filePath,
		Description: strings.TrimSpace(p.Description),
		Branch:      tc.Project.Branch(b.defaultBranch),
	}
	action, err := models.NewFileEditAction(tc.ProjectID, tc.UserID, payload)
	if err != nil {
		return models.FailedActionDescriptor(kind, "Could not prepare the action."), nil
	}
	if err := b.pendingRepo.Create(ctx, action); err != nil {
		b.logger.Error("Failed to persist pending action",
			zap.String("project_id", tc.ProjectID.String()),
			zap.Error(err))
		return models.FailedActionDescriptor(kind, "Could not save the proposed action."), nil
	}

	b.logger.Info("File edit proposed",
		zap.String("project_id", tc.ProjectID.String()),
		zap.String("action_id", action.ID.String()),
		zap.String("path", filePath))

	return models.NewActionDescriptor(action, payload, nil), action
}

// draftStatement asks the statement model for one executable statement.
// The result is a draft for the user to review, never executed here.
func (b *actionProposalBuilder) draftStatement(ctx context.Context, tc *TurnContext, request string) (string, error) {
	binding, err := b.llmFactory.ForUser(ctx, tc.UserID, llm.PurposeStatement)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	response, err := binding.Client.Complete(ctx, &llm.CompletionRequest{
		SystemPrompt: b.buildStatementPrompt(ctx, tc),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: request}},
		Temperature:  binding.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("statement completion: %w", err)
	}

	statement := strings.TrimSpace(llm.StripCodeFences(response))
	if statement == "" {
		return "", errors.New("model returned an empty statement")
	}
	return statement, nil
}

func (b *actionProposalBuilder) buildStatementPrompt(ctx context.Context, tc *TurnContext) string {
	var sb strings.Builder

	sb.WriteString("You write exactly one SQL statement for a ")
	sb.WriteString(dialectName(tc.Project.DatabaseType))
	sb.WriteString(" database that performs the user's requested change.\n\n")

	var schema models.DatabaseSchema
	if hit, err := b.cache.Get(ctx, tc.ProjectID, cache.KindSchema, "", &schema); err == nil && hit && len(schema.Tables) > 0 {
		sb.WriteString("## Known tables\n\n")
		for i, t := range schema.Tables {
			if i == schemaContextTables {
				break
			}
			cols := make([]string, 0, len(t.Columns))
			for _, c := range t.Columns {
				cols = append(cols, c.Name+" "+c.Type)
			}
			fmt.Fprintf(&sb, "- %s.%s(%s)\n", t.Schema, t.Name, strings.Join(cols, ", "))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Rules\n\n")
	sb.WriteString("- Output only the statement. No explanation, no markdown.\n")
	sb.WriteString("- One statement only.\n")
	sb.WriteString("- Include a WHERE clause on UPDATE and DELETE unless the user explicitly asks to affect every row.\n")
	return sb.String()
}

func dialectName(dbType string) string {
	switch dbType {
	case models.DatabaseTypeSQLServer:
		return "Microsoft SQL Server"
	case models.DatabaseTypePostgres:
		return "PostgreSQL"
	default:
		return dbType
	}
}

// normalizeRepoPath cleans a repository-relative path and rejects escapes.
func normalizeRepoPath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	cleaned := path.Clean(strings.TrimLeft(p, "/"))
	switch {
	case p == "" || cleaned == "." || cleaned == "/":
		return "", errors.New("path is empty")
	case cleaned == ".." || strings.HasPrefix(cleaned, "../"):
		return "", errors.New("path escapes the repository root")
	case strings.ContainsRune(cleaned, 0):
		return "", errors.New("path contains a NUL byte")
	}
	return cleaned, nil
}
