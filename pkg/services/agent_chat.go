package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-agent/pkg/auth"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
	"github.com/ekaya-inc/ekaya-agent/pkg/repositories"
)

// History limits.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// AgentChatService runs one chat turn through routing, tools and synthesis.
type AgentChatService interface {
	// SendMessage streams the turn's events. The caller owns and closes events.
	SendMessage(ctx context.Context, projectID uuid.UUID, message string, events chan<- models.ChatEvent) error

	// History returns up to limit of the newest turns, oldest first.
	History(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.ChatTurn, error)
}

// AgentChatDeps groups the collaborators of an AgentChatService.
type AgentChatDeps struct {
	ProjectRepo  repositories.ProjectRepository
	ChatRepo     repositories.ChatTurnRepository
	MemoryRepo   repositories.MemoryRepository
	Router       IntentRouter
	Capabilities CapabilityService
	Proposals    ActionProposalBuilder
	Synthesizer  ResponseSynthesizer
}

type agentChatService struct {
	deps             AgentChatDeps
	maxHistoryTurns  int
	maxMemoryEntries int
	logger           *zap.Logger
}

// NewAgentChatService creates the chat orchestrator.
func NewAgentChatService(deps AgentChatDeps, maxHistoryTurns, maxMemoryEntries int, logger *zap.Logger) AgentChatService {
	return &agentChatService{
		deps:             deps,
		maxHistoryTurns:  maxHistoryTurns,
		maxMemoryEntries: maxMemoryEntries,
		logger:           logger.Named("agent-chat"),
	}
}

var _ AgentChatService = (*agentChatService)(nil)

func (s *agentChatService) SendMessage(ctx context.Context, projectID uuid.UUID, message string, events chan<- models.ChatEvent) error {
	start := time.Now()

	userID, err := auth.RequireUserIDFromContext(ctx)
	if err != nil {
		events <- models.NewErrorEvent(models.ErrorCodeInternal, "Authentication required")
		return err
	}

	tc := &TurnContext{ProjectID: projectID, UserID: userID, Message: message}

	tc.Project, err = s.ownedProject(ctx, userID, projectID)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrForbidden):
			events <- models.NewErrorEvent(models.ErrorCodeForbidden, msgAccessDenied)
		case errors.Is(err, apperrors.ErrNotFound):
			events <- models.NewErrorEvent(models.ErrorCodeInternal, "Project not found")
		default:
			s.logger.Error("Failed to load project",
				zap.String("project_id", projectID.String()),
				zap.Error(err))
			events <- models.NewErrorEvent(models.ErrorCodeInternal, "Failed to load project")
		}
		return err
	}

	// History is read before the new turn is stored so it holds prior turns only.
	tc.History, err = s.deps.ChatRepo.ListRecent(ctx, projectID, s.maxHistoryTurns)
	if err != nil {
		s.logger.Error("Failed to load chat history",
			zap.String("project_id", projectID.String()),
			zap.Error(err))
		events <- models.NewErrorEvent(models.ErrorCodeInternal, "Failed to load chat history")
		return err
	}

	userTurn := &models.ChatTurn{
		ProjectID: projectID,
		UserID:    userID,
		Role:      models.ChatRoleUser,
		Content:   message,
	}
	if err := s.deps.ChatRepo.Append(ctx, userTurn); err != nil {
		s.logger.Error("Failed to save user turn",
			zap.String("project_id", projectID.String()),
			zap.Error(err))
		events <- models.NewErrorEvent(models.ErrorCodeInternal, "Failed to save message")
		return err
	}

	if s.deps.MemoryRepo != nil {
		tc.Memories, err = s.deps.MemoryRepo.ListRecent(ctx, projectID, s.maxMemoryEntries)
		if err != nil {
			s.logger.Warn("Failed to load project memory",
				zap.String("project_id", projectID.String()),
				zap.Error(err))
		}
	}

	events <- models.NewStatusEvent("Understanding your request...")
	tc.Selection = s.deps.Router.Route(ctx, tc)

	var sources []string
	switch {
	case tc.Selection.IsNone():
	case tc.Selection.Tool.IsMutating():
		events <- models.NewStatusEvent("Preparing a proposed change...")
		tc.Descriptor, tc.Action = s.deps.Proposals.Propose(ctx, tc, tc.Selection.Params)
		if tc.Action != nil {
			events <- models.NewStatusEvent("Change prepared. Waiting for your confirmation.")
		}
	default:
		tool := string(tc.Selection.Tool)
		events <- models.NewStatusEvent(fmt.Sprintf("Running %s...", tool))
		result := s.deps.Capabilities.Invoke(ctx, userID, projectID, tc.Selection.Params)
		tc.ToolResult = &result
		if result.Success {
			events <- models.NewStepCompleteEvent(1, tool, true)
			if narration := narrateResult(result.Data); narration != "" {
				events <- models.NewStatusEvent(narration)
			}
			if web, ok := result.Data.(*models.WebSearchResult); ok && len(web.Sources) > 0 {
				sources = web.Sources
			}
		} else {
			events <- models.NewStepErrorEvent(1, tool, result.Error)
		}
	}

	if len(sources) > 0 {
		events <- models.NewSourcesEvent(sources)
	}

	text, synthErr := s.deps.Synthesizer.Synthesize(ctx, &SynthesisRequest{
		UserID:     userID,
		History:    tc.History,
		Message:    message,
		Memories:   tc.Memories,
		Tool:       tc.Selection.Tool,
		ToolResult: tc.ToolResult,
		Descriptor: tc.Descriptor,
	}, events)

	if synthErr != nil {
		s.logger.Error("Synthesis failed",
			zap.String("project_id", projectID.String()),
			zap.Int("partial_chars", len(text)),
			zap.Error(synthErr))
		events <- models.NewErrorEvent(models.ErrorCodeLLM, synthesisErrorMessage(synthErr))
	}

	s.saveAssistantTurn(ctx, tc, text, synthErr)

	events <- models.NewDoneEvent()
	if tc.Action != nil {
		payload, _ := tc.Action.DecodedPayload()
		events <- models.NewPendingActionEvent(tc.Action, payload)
	}

	s.logger.Info("Turn finished",
		zap.String("project_id", projectID.String()),
		zap.String("tool", string(tc.Selection.Tool)),
		zap.Bool("proposal", tc.Action != nil),
		zap.Duration("elapsed", time.Since(start)))
	return synthErr
}

func (s *agentChatService) History(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.ChatTurn, error) {
	userID, err := auth.RequireUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedProject(ctx, userID, projectID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return s.deps.ChatRepo.ListRecent(ctx, projectID, limit)
}

func (s *agentChatService) ownedProject(ctx context.Context, userID string, projectID uuid.UUID) (*models.Project, error) {
	project, err := s.deps.ProjectRepo.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.OwnerID != userID {
		return nil, apperrors.ErrForbidden
	}
	return project, nil
}

// saveAssistantTurn persists whatever was synthesized, even when the client is gone.
func (s *agentChatService) saveAssistantTurn(ctx context.Context, tc *TurnContext, text string, synthErr error) {
	meta := map[string]any{models.TurnMetaTool: string(tc.Selection.Tool)}
	if tc.Action != nil {
		meta[models.TurnMetaActionID] = tc.Action.ID.String()
	}

	content := text
	if synthErr != nil {
		meta[models.TurnMetaPartial] = true
		meta[models.TurnMetaError] = synthesisErrorMessage(synthErr)
		if content == "" {
			content = "Sorry, I could not finish this answer: " + synthesisErrorMessage(synthErr)
		}
	}

	turn := &models.ChatTurn{
		ProjectID: tc.ProjectID,
		UserID:    tc.UserID,
		Role:      models.ChatRoleAssistant,
		Content:   content,
		Metadata:  meta,
	}
	if err := s.deps.ChatRepo.Append(context.WithoutCancel(ctx), turn); err != nil {
		s.logger.Error("Failed to save assistant turn",
			zap.String("project_id", tc.ProjectID.String()),
			zap.Error(err))
	}
}

func synthesisErrorMessage(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrAPIKeyNotConfigured):
		return msgAPIKeyNotConfigured
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	case errors.Is(err, context.DeadlineExceeded):
		return "The answer took too long and was cut off."
	default:
		return "The language model failed to respond. Please try again."
	}
}

// narrateResult describes a capability result in one short line.
func narrateResult(data any) string {
	switch d := data.(type) {
	case *models.RepositoryFileList:
		if d.Truncated {
			return fmt.Sprintf("Found %s, showing the first %d", countOf(d.TotalFiles, "file"), len(d.Files))
		}
		return "Found " + countOf(d.TotalFiles, "file")
	case *models.DatabaseSchema:
		if d.Truncated {
			return fmt.Sprintf("Found %s, showing the first %d", countOf(d.TotalTables, "table"), len(d.Tables))
		}
		return "Found " + countOf(d.TotalTables, "table")
	case *models.WebSearchResult:
		return "Search returned " + countOf(len(d.Sources), "source")
	case *models.MemoryEntry:
		return "Saved to project memory"
	default:
		return ""
	}
}

func countOf(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %s", n, inflection.Plural(noun))
}
