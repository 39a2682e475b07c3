package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/llm"
	"github.com/ekaya-inc/ekaya-agent/pkg/logging"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
)

// maxToolPayloadChars bounds the serialized tool output placed in the prompt.
const maxToolPayloadChars = 60000

const baseSynthesisPrompt = `You are the assistant for a software project. You can see the project's repository, ` +
	`its database and the web through tools that have already run before you answer.
Answer in Markdown. Be concise and concrete.`

// SynthesisRequest is everything the synthesizer needs for one answer.
type SynthesisRequest struct {
	UserID   string
	History  []*models.ChatTurn // prior turns, oldest first
	Message  string
	Memories []*models.MemoryEntry

	Tool       models.ToolName
	ToolResult *models.ToolResult
	Descriptor *models.ActionDescriptor

	// Executed is set when narrating a confirmed action.
	Executed *models.PendingAction
}

// ResponseSynthesizer streams a natural-language answer.
type ResponseSynthesizer interface {
	// Synthesize forwards each text increment to events as it arrives and
	// returns the accumulated text. On error the text received so far is
	// returned with it.
	Synthesize(ctx context.Context, req *SynthesisRequest, events chan<- models.ChatEvent) (string, error)
}

type responseSynthesizer struct {
	llmFactory llm.LLMClientFactory
	timeout    time.Duration
	logger     *zap.Logger
}

// NewResponseSynthesizer creates a synthesizer using the synthesis-purpose model.
func NewResponseSynthesizer(llmFactory llm.LLMClientFactory, timeout time.Duration, logger *zap.Logger) ResponseSynthesizer {
	return &responseSynthesizer{
		llmFactory: llmFactory,
		timeout:    timeout,
		logger:     logger.Named("synthesizer"),
	}
}

var _ ResponseSynthesizer = (*responseSynthesizer)(nil)

func (s *responseSynthesizer) Synthesize(ctx context.Context, req *SynthesisRequest, events chan<- models.ChatEvent) (string, error) {
	binding, err := s.llmFactory.ForUser(ctx, req.UserID, llm.PurposeSynthesis)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stream, err := binding.Client.Stream(ctx, &llm.CompletionRequest{
		SystemPrompt: buildSynthesisPrompt(req, binding.SystemInstruction),
		Messages:     synthesisMessages(req),
		Temperature:  binding.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("start synthesis stream: %w", err)
	}

	var text strings.Builder
	for {
		select {
		case <-ctx.Done():
			return text.String(), ctx.Err()
		case ev, ok := <-stream:
			if !ok {
				if ctx.Err() != nil {
					return text.String(), ctx.Err()
				}
				return text.String(), llm.ErrStreamClosed
			}
			switch ev.Type {
			case llm.StreamEventText:
				if ev.Content == "" {
					continue
				}
				text.WriteString(ev.Content)
				events <- models.NewChunkEvent(ev.Content)
			case llm.StreamEventDone:
				return text.String(), nil
			case llm.StreamEventError:
				s.logger.Warn("Synthesis stream failed",
					zap.Int("received_chars", text.Len()),
					zap.Error(ev.Err))
				return text.String(), ev.Err
			}
		}
	}
}

func synthesisMessages(req *SynthesisRequest) []llm.Message {
	messages := make([]llm.Message, 0, len(req.History)+1)
	for _, turn := range req.History {
		if turn.Content == "" {
			continue
		}
		messages = append(messages, llm.Message{Role: string(turn.Role), Content: turn.Content})
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: req.Message})
}

func buildSynthesisPrompt(req *SynthesisRequest, userInstruction string) string {
	var b strings.Builder

	b.WriteString(baseSynthesisPrompt)
	b.WriteString("\n\n")

	if instr := strings.TrimSpace(userInstruction); instr != "" {
		b.WriteString("## User instructions\n\n")
		b.WriteString(instr)
		b.WriteString("\n\n")
	}

	if len(req.Memories) > 0 {
		b.WriteString("## Project memory\n\n")
		for _, m := range req.Memories {
			b.WriteString("- ")
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	switch {
	case req.Executed != nil:
		writeExecutionFraming(&b, req.Executed)
	case req.Descriptor != nil:
		writeProposalFraming(&b, req.Descriptor)
	case req.ToolResult != nil:
		writeToolFraming(&b, req.Tool, req.ToolResult)
	}

	return b.String()
}

func writeToolFraming(b *strings.Builder, tool models.ToolName, result *models.ToolResult) {
	if !result.Success {
		b.WriteString("## Tool failure\n\n")
		fmt.Fprintf(b, "The `%s` tool failed: %s\n\n", tool, result.Error)
		b.WriteString("Tell the user this integration is unavailable or not configured and what they can do about it. ")
		b.WriteString("Do not invent data the tool would have returned.\n")
		return
	}

	b.WriteString("## Tool result\n\n")
	fmt.Fprintf(b, "The `%s` tool returned:\n\n```json\n%s\n```\n\n", tool, renderJSON(result.Data))
	b.WriteString("Use this data analytically. Group it, highlight what answers the user's question ")
	b.WriteString("and explain structure or patterns. Do not repeat it verbatim.\n")
}

func writeProposalFraming(b *strings.Builder, d *models.ActionDescriptor) {
	if !d.Success {
		b.WriteString("## Proposal failed\n\n")
		fmt.Fprintf(b, "The requested change could not be prepared: %s\n\n", d.Error)
		b.WriteString("Explain this to the user. Nothing was changed.\n")
		return
	}

	b.WriteString("## Pending action\n\n")
	b.WriteString("A change was prepared and is waiting for the user to confirm it. It has NOT been executed.\n")
	b.WriteString("Show the exact payload below to the user in a fenced code block, unchanged, ")
	b.WriteString("and tell them to review it before confirming.\n\n")

	switch p := d.Payload.(type) {
	case models.StatementPayload:
		fmt.Fprintf(b, "```sql\n%s\n```\n\n", p.Statement)
		if p.Destructive {
			fmt.Fprintf(b, "This statement is DESTRUCTIVE (%s). Warn the user clearly, before the code block, "+
				"that confirming may permanently remove or alter data.\n", strings.Join(p.DestructiveKeywords, ", "))
		}
	case models.FileEditPayload:
		fmt.Fprintf(b, "```text\nfile: %s\nbranch: %s\nchange: %s\n```\n\n", p.Path, p.Branch, p.Description)
		b.WriteString("The new file content is generated from the current file when the user confirms.\n")
	default:
		fmt.Fprintf(b, "```json\n%s\n```\n", renderJSON(d.Payload))
	}

	for _, w := range d.Warnings {
		b.WriteString("Warning to relay: ")
		b.WriteString(w)
		b.WriteString("\n")
	}
}

func writeExecutionFraming(b *strings.Builder, action *models.PendingAction) {
	b.WriteString("## Confirmed action outcome\n\n")
	fmt.Fprintf(b, "The user confirmed a %s action. Final status: %s.\n\n", action.Kind, action.Status)
	if action.Status == models.ActionStatusExecuted {
		fmt.Fprintf(b, "Result:\n\n```json\n%s\n```\n\n", renderJSON(action.Result))
		b.WriteString("Summarize what changed in a few sentences.\n")
		return
	}
	errText := "unknown error"
	if action.Error != nil {
		errText = *action.Error
	}
	fmt.Fprintf(b, "Error: %s\n\n", errText)
	b.WriteString("Explain the failure plainly. Nothing will be retried automatically; ")
	b.WriteString("the user must ask again to get a new proposal.\n")
}

func renderJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return logging.TruncateString(string(data), maxToolPayloadChars)
}
