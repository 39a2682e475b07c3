package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-agent/pkg/adapters/repository"
	"github.com/ekaya-inc/ekaya-agent/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-agent/pkg/audit"
	"github.com/ekaya-inc/ekaya-agent/pkg/auth"
	"github.com/ekaya-inc/ekaya-agent/pkg/cache"
	"github.com/ekaya-inc/ekaya-agent/pkg/config"
	"github.com/ekaya-inc/ekaya-agent/pkg/llm"
	"github.com/ekaya-inc/ekaya-agent/pkg/logging"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
	"github.com/ekaya-inc/ekaya-agent/pkg/repositories"
	"github.com/ekaya-inc/ekaya-agent/pkg/retry"
)

// Messages returned for confirmations that cannot run.
const (
	MsgActionProcessed = "Action already processed. Generate a new action to try again."
	MsgActionNotFound  = "Action not found."
)

var errActionPanicked = errors.New("action panicked")

// InterruptedReason is recorded on actions a crashed process left executing.
const InterruptedReason = "interrupted"

const rewriteSystemPrompt = `You rewrite one file from a software repository.
You receive the file's current content and a change to make.
Return the complete new file content and nothing else: no explanation, no Markdown fences.
Keep everything unrelated to the change exactly as it is.`

// ExecutionEngine runs confirmed pending actions.
type ExecutionEngine interface {
	// Execute streams progress for one confirmation and closes nothing; the
	// caller owns events. The returned error is also reported as an event.
	Execute(ctx context.Context, projectID, actionID uuid.UUID, events chan<- models.ChatEvent) error

	// ExecuteSync runs a confirmation without streaming or narration.
	ExecuteSync(ctx context.Context, projectID, actionID uuid.UUID) (*models.PendingAction, error)

	// SweepInterrupted fails actions left executing longer than the execution timeout.
	SweepInterrupted(ctx context.Context) (int64, error)
}

// ExecutionDeps groups the collaborators of an ExecutionEngine.
type ExecutionDeps struct {
	PendingRepo repositories.PendingActionRepository
	ChatRepo    repositories.ChatTurnRepository
	MemoryRepo  repositories.MemoryRepository
	Invocations repositories.ToolInvocationRepository
	Vault       CredentialVault
	Opener      datasource.Opener
	Host        repository.Host
	LLMFactory  llm.LLMClientFactory
	Synthesizer ResponseSynthesizer
	Cache       cache.ReadCache
	Auditor     *audit.SecurityAuditor
}

type executionEngine struct {
	deps          ExecutionDeps
	agentCfg      *config.AgentConfig
	defaultBranch string
	retryConfig   *retry.Config
	recorder      *invocationRecorder
	now           func() time.Time
	logger        *zap.Logger
}

// NewExecutionEngine creates an execution engine.
func NewExecutionEngine(deps ExecutionDeps, agentCfg *config.AgentConfig, defaultBranch string, logger *zap.Logger) ExecutionEngine {
	if deps.Cache == nil {
		deps.Cache = cache.NoopCache{}
	}
	named := logger.Named("execution")
	return &executionEngine{
		deps:          deps,
		agentCfg:      agentCfg,
		defaultBranch: defaultBranch,
		retryConfig:   retry.DefaultConfig(),
		recorder:      newInvocationRecorder(deps.Invocations, named),
		now:           time.Now,
		logger:        named,
	}
}

var _ ExecutionEngine = (*executionEngine)(nil)

func (e *executionEngine) Execute(ctx context.Context, projectID, actionID uuid.UUID, events chan<- models.ChatEvent) error {
	userID, err := auth.RequireUserIDFromContext(ctx)
	if err != nil {
		events <- models.NewErrorEvent(models.ErrorCodeInternal, "Authentication required")
		return err
	}

	emit := func(ev models.ChatEvent) { events <- ev }
	action, err := e.run(ctx, userID, projectID, actionID, emit)
	if err != nil {
		return err
	}

	narrative, synthErr := e.deps.Synthesizer.Synthesize(ctx, &SynthesisRequest{
		UserID:   userID,
		Message:  "Report the outcome of the action I just confirmed.",
		Executed: action,
	}, events)
	if synthErr != nil {
		e.logger.Warn("Failed to narrate execution",
			zap.String("project_id", projectID.String()),
			zap.String("action_id", actionID.String()),
			zap.Error(synthErr))
		if narrative == "" {
			narrative = outcomeSummary(action)
			events <- models.NewChunkEvent(narrative)
		}
	}

	turn := &models.ChatTurn{
		ProjectID: projectID,
		UserID:    userID,
		Role:      models.ChatRoleAssistant,
		Content:   narrative,
		Metadata: map[string]any{
			models.TurnMetaTool:     string(action.Kind),
			models.TurnMetaActionID: action.ID.String(),
		},
	}
	if synthErr != nil {
		turn.Metadata[models.TurnMetaPartial] = true
	}
	if err := e.deps.ChatRepo.Append(context.WithoutCancel(ctx), turn); err != nil {
		e.logger.Error("Failed to save execution turn",
			zap.String("project_id", projectID.String()),
			zap.String("action_id", actionID.String()),
			zap.Error(err))
	}

	events <- models.NewCompleteEvent(action)
	return nil
}

func (e *executionEngine) ExecuteSync(ctx context.Context, projectID, actionID uuid.UUID) (*models.PendingAction, error) {
	userID, err := auth.RequireUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, userID, projectID, actionID, func(models.ChatEvent) {})
}

func (e *executionEngine) SweepInterrupted(ctx context.Context) (int64, error) {
	cutoff := e.now().Add(-e.agentCfg.ExecutionTimeout)
	n, err := e.deps.PendingRepo.FailInterrupted(ctx, cutoff, InterruptedReason)
	if err != nil {
		return 0, fmt.Errorf("sweep interrupted actions: %w", err)
	}
	if n > 0 {
		e.logger.Warn("Failed interrupted actions", zap.Int64("count", n))
	}
	return n, nil
}

// run claims the action and drives it to a terminal state. A nil error means
// the action reached a terminal state, which may be failed.
func (e *executionEngine) run(ctx context.Context, userID string, projectID, actionID uuid.UUID, emit func(models.ChatEvent)) (*models.PendingAction, error) {
	emit(models.NewStatusEvent("Analyzing action..."))

	// Only the proposing user may confirm; a refused caller must not consume the action.
	if current, err := e.deps.PendingRepo.Get(ctx, projectID, actionID); err == nil && current.UserID != userID {
		e.deps.Auditor.LogCredentialAccessDenied(ctx, projectID, userID)
		emit(models.NewErrorEvent(models.ErrorCodeForbidden, msgAccessDenied))
		return nil, apperrors.ErrForbidden
	}

	action, err := e.deps.PendingRepo.BeginExecution(ctx, projectID, actionID)
	if err != nil {
		return nil, e.rejectConfirmation(ctx, projectID, actionID, err, emit)
	}

	// The action is now executing and must reach a terminal state in this
	// call even if the client goes away.
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.agentCfg.ExecutionTimeout)
	defer cancel()

	start := time.Now()
	emit(models.NewStatusEvent(fmt.Sprintf("Tool identified: %s", action.Kind)))

	result, execErr := e.performRecovered(execCtx, userID, action, emit)

	status := models.ActionStatusExecuted
	var errText *string
	if execErr != nil {
		status = models.ActionStatusFailed
		msg := describeAdapterError(execCtx, execErr, e.agentCfg.ExecutionTimeout)
		errText = &msg
		e.logger.Warn("Action failed",
			zap.String("project_id", projectID.String()),
			zap.String("action_id", actionID.String()),
			zap.String("error", logging.SanitizeError(execErr)),
			zap.Duration("elapsed", time.Since(start)))
	}

	finished, err := e.deps.PendingRepo.Finish(context.WithoutCancel(ctx), action.ID, status, result, errText)
	if err != nil {
		e.logger.Error("Failed to record action outcome",
			zap.String("project_id", projectID.String()),
			zap.String("action_id", actionID.String()),
			zap.Error(err))
		emit(models.NewErrorEvent(models.ErrorCodeInternal, "Failed to record the action outcome"))
		return nil, err
	}

	e.deps.Auditor.LogActionExecuted(ctx, projectID, action.ID, string(action.Kind), string(finished.Status))
	e.recorder.record(ctx, userID, projectID, string(action.Kind), json.RawMessage(action.Payload), envelopeFor(finished))

	if finished.Status == models.ActionStatusExecuted {
		e.afterSuccess(context.WithoutCancel(ctx), userID, finished)
	}

	e.logger.Info("Action finished",
		zap.String("project_id", projectID.String()),
		zap.String("action_id", actionID.String()),
		zap.String("status", string(finished.Status)),
		zap.Duration("elapsed", time.Since(start)))
	emit(models.NewStatusEvent(fmt.Sprintf("Result: %s", finished.Status)))

	return finished, nil
}

// rejectConfirmation reports why an action could not be claimed.
func (e *executionEngine) rejectConfirmation(ctx context.Context, projectID, actionID uuid.UUID, err error, emit func(models.ChatEvent)) error {
	switch {
	case errors.Is(err, apperrors.ErrActionNotPending):
		status := "unknown"
		if current, getErr := e.deps.PendingRepo.Get(ctx, projectID, actionID); getErr == nil {
			status = string(current.Status)
		}
		e.deps.Auditor.LogStaleConfirmation(ctx, projectID, actionID, status)
		emit(models.NewErrorEvent(models.ErrorCodeActionProcessed, MsgActionProcessed))
	case errors.Is(err, apperrors.ErrNotFound):
		emit(models.NewErrorEvent(models.ErrorCodeActionNotFound, MsgActionNotFound))
	default:
		e.logger.Error("Failed to begin execution",
			zap.String("project_id", projectID.String()),
			zap.String("action_id", actionID.String()),
			zap.Error(err))
		emit(models.NewErrorEvent(models.ErrorCodeInternal, "Failed to start the action"))
	}
	return err
}

// performRecovered runs perform and turns a panic into an error so the
// claimed action still reaches a terminal state.
func (e *executionEngine) performRecovered(ctx context.Context, userID string, action *models.PendingAction, emit func(models.ChatEvent)) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Action panicked",
				zap.String("project_id", action.ProjectID.String()),
				zap.String("action_id", action.ID.String()),
				zap.String("kind", string(action.Kind)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			result = nil
			err = errActionPanicked
		}
	}()
	return e.perform(ctx, userID, action, emit)
}

// perform runs the side effect. It never retries a write.
func (e *executionEngine) perform(ctx context.Context, userID string, action *models.PendingAction, emit func(models.ChatEvent)) (map[string]any, error) {
	creds, err := e.deps.Vault.ProjectCredentials(ctx, userID, action.ProjectID)
	if err != nil {
		return nil, err
	}
	emit(models.NewStatusEvent("Credentials resolved"))

	switch action.Kind {
	case models.ActionKindExecuteStatement:
		payload, err := action.StatementPayload()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidPayload, err)
		}
		return e.executeStatement(ctx, creds, action, payload, emit)
	case models.ActionKindEditFile:
		payload, err := action.FileEditPayload()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidPayload, err)
		}
		return e.editFile(ctx, userID, creds, payload, emit)
	default:
		return nil, fmt.Errorf("%w: unknown action kind %q", apperrors.ErrInvalidPayload, action.Kind)
	}
}

func (e *executionEngine) executeStatement(ctx context.Context, creds *models.ProjectCredentials, action *models.PendingAction, payload models.StatementPayload, emit func(models.ChatEvent)) (map[string]any, error) {
	const tool = "execute_statement"
	project := creds.Project
	if !project.HasDatabase() {
		return nil, fmt.Errorf("%w: no database linked", apperrors.ErrIntegrationNotConfigured)
	}

	emit(models.NewStatusEvent("Executing statement..."))
	conn, err := e.deps.Opener.Open(ctx, project.DatabaseType, action.ProjectID, datasource.ConnectionConfig{
		URL:      project.DatabaseURL,
		Password: creds.DatabaseKey,
	})
	if err != nil {
		emit(models.NewStepErrorEvent(1, tool, describeAdapterError(ctx, err, e.agentCfg.ExecutionTimeout)))
		return nil, err
	}
	defer conn.Close()

	res, err := conn.Execute(ctx, payload.Statement)
	if err != nil {
		emit(models.NewStepErrorEvent(1, tool, describeAdapterError(ctx, err, e.agentCfg.ExecutionTimeout)))
		return nil, err
	}
	emit(models.NewStepCompleteEvent(1, tool, true))
	return toResultMap(res), nil
}

func (e *executionEngine) editFile(ctx context.Context, userID string, creds *models.ProjectCredentials, payload models.FileEditPayload, emit func(models.ChatEvent)) (map[string]any, error) {
	project := creds.Project
	if !project.HasRepository() {
		return nil, fmt.Errorf("%w: no repository linked", apperrors.ErrIntegrationNotConfigured)
	}
	branch := payload.Branch
	if branch == "" {
		branch = project.Branch(e.defaultBranch)
	}
	repo := repository.Repo{Owner: project.RepoOwner, Name: project.RepoName, Branch: branch, Token: creds.RepoToken}

	fail := func(step int, tool string, err error) (map[string]any, error) {
		emit(models.NewStepErrorEvent(step, tool, describeAdapterError(ctx, err, e.agentCfg.ExecutionTimeout)))
		return nil, err
	}

	emit(models.NewStatusEvent(fmt.Sprintf("Reading %s...", payload.Path)))
	current, err := retry.DoIfRetryableWithResult(ctx, e.retryConfig, func() (*models.RepositoryFileContent, error) {
		return e.deps.Host.ReadFile(ctx, repo, payload.Path)
	})
	if err != nil {
		return fail(1, "read_file", err)
	}
	if len(current.Content) > e.agentCfg.MaxFileBytes {
		return fail(1, "read_file", fmt.Errorf("%s is %d bytes, larger than the %d byte edit limit",
			payload.Path, len(current.Content), e.agentCfg.MaxFileBytes))
	}
	emit(models.NewStepCompleteEvent(1, "read_file", true))

	emit(models.NewStatusEvent("Rewriting file..."))
	rewritten, err := e.rewrite(ctx, userID, current, payload.Description)
	if err != nil {
		return fail(2, "rewrite_file", err)
	}
	emit(models.NewStepCompleteEvent(2, "rewrite_file", true))

	emit(models.NewStatusEvent("Committing change..."))
	message := commitMessage(payload)
	res, err := e.deps.Host.UpdateFile(ctx, repo, payload.Path, []byte(rewritten), current.SHA, message)
	if err != nil {
		return fail(3, "update_file", err)
	}
	emit(models.NewStepCompleteEvent(3, "update_file", true))

	return toResultMap(res), nil
}

// rewrite asks the rewrite model for the new file content.
func (e *executionEngine) rewrite(ctx context.Context, userID string, current *models.RepositoryFileContent, description string) (string, error) {
	binding, err := e.deps.LLMFactory.ForUser(ctx, userID, llm.PurposeRewrite)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, e.agentCfg.RewriteTimeout)
	defer cancel()

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "File: %s\n\nCurrent content:\n<<<FILE\n%s\nFILE>>>\n\nChange to make: %s\n",
		current.Path, current.Content, description)

	response, err := binding.Client.Complete(ctx, &llm.CompletionRequest{
		SystemPrompt: rewriteSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt.String()}},
		Temperature:  binding.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("rewrite completion: %w", err)
	}

	content := llm.StripCodeFences(response)
	if strings.TrimSpace(content) == "" {
		return "", errors.New("the rewrite produced an empty file")
	}
	if strings.HasSuffix(current.Content, "\n") && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if content == current.Content {
		return "", errors.New("the rewrite produced no changes")
	}
	return content, nil
}

// afterSuccess invalidates cached reads and remembers what changed.
func (e *executionEngine) afterSuccess(ctx context.Context, userID string, action *models.PendingAction) {
	if err := e.deps.Cache.InvalidateProject(ctx, action.ProjectID); err != nil {
		e.logger.Warn("Failed to invalidate read cache",
			zap.String("project_id", action.ProjectID.String()),
			zap.Error(err))
	}

	if e.deps.MemoryRepo == nil {
		return
	}
	entry := &models.MemoryEntry{
		ID:        uuid.New(),
		ProjectID: action.ProjectID,
		UserID:    userID,
		Content:   logging.TruncateString(outcomeSummary(action), 500),
	}
	if err := e.deps.MemoryRepo.Add(ctx, entry); err != nil {
		e.logger.Warn("Failed to record execution memory",
			zap.String("project_id", action.ProjectID.String()),
			zap.Error(err))
	}
}

// outcomeSummary is a one-line description of a finished action.
func outcomeSummary(action *models.PendingAction) string {
	payload, _ := action.DecodedPayload()
	failed := action.Status == models.ActionStatusFailed
	reason := ""
	if action.Error != nil {
		reason = ": " + *action.Error
	}

	switch p := payload.(type) {
	case models.StatementPayload:
		if failed {
			return fmt.Sprintf("Statement failed%s", reason)
		}
		rows, _ := action.Result["rows_affected"].(float64)
		return fmt.Sprintf("Executed statement (%d rows affected): %s", int64(rows), logging.TruncateString(p.Statement, 200))
	case models.FileEditPayload:
		if failed {
			return fmt.Sprintf("Edit of %s failed%s", p.Path, reason)
		}
		return fmt.Sprintf("Edited %s on %s: %s", p.Path, p.Branch, p.Description)
	default:
		return fmt.Sprintf("Action %s %s%s", action.Kind, action.Status, reason)
	}
}

func commitMessage(p models.FileEditPayload) string {
	desc := strings.TrimSpace(strings.SplitN(p.Description, "\n", 2)[0])
	return logging.TruncateString(fmt.Sprintf("Update %s: %s", p.Path, desc), 72)
}

// envelopeFor converts a terminal action into the audit envelope.
func envelopeFor(action *models.PendingAction) models.ToolResult {
	if action.Status == models.ActionStatusExecuted {
		return models.ToolSuccess(action.Result)
	}
	msg := ""
	if action.Error != nil {
		msg = *action.Error
	}
	return models.ToolFailure(msg)
}

// toResultMap stores v in the generic shape the result column holds.
func toResultMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
