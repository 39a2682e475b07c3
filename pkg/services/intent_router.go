package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/jsonutil"
	"github.com/ekaya-inc/ekaya-agent/pkg/llm"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
	"github.com/ekaya-inc/ekaya-agent/pkg/repositories"
)

// routerHistoryTurns is how much prior conversation the router sees.
const routerHistoryTurns = 4

// IntentRouter classifies one user message into at most one tool.
type IntentRouter interface {
	// Route never fails. Any classification problem yields models.NoTool().
	Route(ctx context.Context, tc *TurnContext) models.ToolSelection
}

type intentRouter struct {
	llmFactory llm.LLMClientFactory
	timeout    time.Duration
	recorder   *invocationRecorder
	logger     *zap.Logger
}

// NewIntentRouter creates a router that calls the router-purpose model.
func NewIntentRouter(llmFactory llm.LLMClientFactory, invocations repositories.ToolInvocationRepository, timeout time.Duration, logger *zap.Logger) IntentRouter {
	named := logger.Named("router")
	return &intentRouter{
		llmFactory: llmFactory,
		timeout:    timeout,
		recorder:   newInvocationRecorder(invocations, named),
		logger:     named,
	}
}

var _ IntentRouter = (*intentRouter)(nil)

// routerOutput is the raw JSON shape the model is asked to produce.
type routerOutput struct {
	Tool       string          `json:"tool"`
	Parameters json.RawMessage `json:"parameters"`
	Reasoning  json.RawMessage `json:"reasoning"`
}

func (r *intentRouter) Route(ctx context.Context, tc *TurnContext) models.ToolSelection {
	start := time.Now()
	input := map[string]string{"message": tc.Message}

	selection, raw, err := r.classify(ctx, tc)
	if err != nil {
		r.logger.Warn("Routing failed, continuing without a tool",
			zap.String("project_id", tc.ProjectID.String()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		r.recorder.record(ctx, tc.UserID, tc.ProjectID, models.RouterToolName, input, models.ToolFailure(err.Error()))
		return models.NoTool()
	}

	r.logger.Debug("Message routed",
		zap.String("project_id", tc.ProjectID.String()),
		zap.String("tool", string(selection.Tool)),
		zap.Duration("elapsed", time.Since(start)))
	r.recorder.record(ctx, tc.UserID, tc.ProjectID, models.RouterToolName, input, models.ToolSuccess(json.RawMessage(raw)))
	return selection
}

func (r *intentRouter) classify(ctx context.Context, tc *TurnContext) (models.ToolSelection, string, error) {
	binding, err := r.llmFactory.ForUser(ctx, tc.UserID, llm.PurposeRouter)
	if err != nil {
		return models.ToolSelection{}, "", fmt.Errorf("router client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	response, err := binding.Client.Complete(ctx, &llm.CompletionRequest{
		SystemPrompt: buildRouterPrompt(),
		Messages:     routerMessages(tc),
		Temperature:  binding.Temperature,
		JSONMode:     true,
	})
	if err != nil {
		return models.ToolSelection{}, "", fmt.Errorf("router completion: %w", err)
	}

	jsonStr, err := llm.ExtractJSON(response)
	if err != nil {
		return models.ToolSelection{}, "", fmt.Errorf("router output: %w", err)
	}

	var out routerOutput
	if err := json.Unmarshal([]byte(jsonStr), &out); err != nil {
		return models.ToolSelection{}, "", fmt.Errorf("router output: %w", err)
	}

	selection, err := models.DecodeToolSelection(out.Tool, out.Parameters)
	if err != nil {
		return models.ToolSelection{}, "", err
	}
	selection.Reasoning = jsonutil.FlexibleStringValue(out.Reasoning)
	return selection, jsonStr, nil
}

// routerMessages sends the last few turns for reference resolution, then the new message.
func routerMessages(tc *TurnContext) []llm.Message {
	history := tc.History
	if len(history) > routerHistoryTurns {
		history = history[len(history)-routerHistoryTurns:]
	}
	messages := make([]llm.Message, 0, len(history)+1)
	for _, turn := range history {
		messages = append(messages, llm.Message{Role: string(turn.Role), Content: turn.Content})
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: tc.Message})
}

func buildRouterPrompt() string {
	var b strings.Builder

	b.WriteString("You classify the user's latest message for a project assistant that can reach ")
	b.WriteString("the project's source repository, its database and the web.\n\n")

	b.WriteString("## Tools\n\n")
	b.WriteString("- `none`: greetings, general questions, anything answerable from the conversation. Parameters: {}\n")
	b.WriteString("- `list_repository_files`: list files in the linked repository. Parameters: {\"path_prefix\": optional directory}\n")
	b.WriteString("- `get_database_schema`: show tables and columns of the linked database. Parameters: {\"table_filter\": optional substring}\n")
	b.WriteString("- `web_search`: current or external information. Parameters: {\"query\": string}\n")
	b.WriteString("- `add_memory`: the user asks you to remember a fact about the project. Parameters: {\"content\": string}\n")
	b.WriteString("- `propose_statement_execution`: change data or structure in the database. ")
	b.WriteString("Parameters: {\"request\": what to change in plain words, \"statement\": optional exact SQL if the user gave one}\n")
	b.WriteString("- `propose_file_edit`: change one file in the repository. ")
	b.WriteString("Parameters: {\"path\": file path, \"description\": the change to make}\n\n")

	b.WriteString("## Rules\n\n")
	b.WriteString("- Pick exactly one tool.\n")
	b.WriteString("- If a message asks to both look at something and change it, pick the reading tool. ")
	b.WriteString("Changes need their own request.\n")
	b.WriteString("- Only pick a propose tool when the user clearly asks for a change and you can fill its required parameters.\n")
	b.WriteString("- When unsure, pick `none`.\n\n")

	b.WriteString("## Output\n\n")
	b.WriteString("Respond with a single JSON object and nothing else:\n")
	b.WriteString("{\"tool\": \"<name>\", \"parameters\": {...}, \"reasoning\": \"<one sentence>\"}\n")

	return b.String()
}
