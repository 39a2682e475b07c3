package models

// ChatEventType represents the type of a streaming chat event.
type ChatEventType string

const (
	ChatEventStatus        ChatEventType = "status"
	ChatEventLLMChunk      ChatEventType = "llm_chunk"
	ChatEventStepComplete  ChatEventType = "step_complete"
	ChatEventStepError     ChatEventType = "step_error"
	ChatEventPendingAction ChatEventType = "pending_action"
	ChatEventSources       ChatEventType = "sources"
	ChatEventComplete      ChatEventType = "complete"
	ChatEventError         ChatEventType = "error"

	// ChatEventDone is never serialized as JSON. The transport writes the
	// literal [DONE] sentinel when it sees it.
	ChatEventDone ChatEventType = "done"
)

// DoneSentinel is the frame body that terminates synthesized text.
const DoneSentinel = "[DONE]"

// Error codes carried by error events.
const (
	ErrorCodeActionProcessed = "action_already_processed"
	ErrorCodeActionNotFound  = "action_not_found"
	ErrorCodeForbidden       = "forbidden"
	ErrorCodeLLM             = "llm_error"
	ErrorCodeInternal        = "internal_error"
)

// ChatEvent is one frame of the streaming protocol.
// Field names are shared by all event types; each type uses a subset.
type ChatEvent struct {
	Type       ChatEventType `json:"type"`
	Message    string        `json:"message,omitempty"`
	Content    string        `json:"content,omitempty"`
	Step       int           `json:"step,omitempty"`
	Tool       string        `json:"tool,omitempty"`
	Success    *bool         `json:"success,omitempty"`
	Error      string        `json:"error,omitempty"`
	Code       string        `json:"code,omitempty"`
	ActionID   string        `json:"action_id,omitempty"`
	ActionType string        `json:"action_type,omitempty"`
	Payload    any           `json:"payload,omitempty"`
	Sources    []string      `json:"sources,omitempty"`
	Result     any           `json:"result,omitempty"`
}

// NewStatusEvent creates a progress narration event.
func NewStatusEvent(message string) ChatEvent {
	return ChatEvent{Type: ChatEventStatus, Message: message}
}

// NewChunkEvent creates one increment of synthesized text.
func NewChunkEvent(content string) ChatEvent {
	return ChatEvent{Type: ChatEventLLMChunk, Content: content}
}

// NewStepCompleteEvent reports the outcome of one adapter call.
func NewStepCompleteEvent(step int, tool string, success bool) ChatEvent {
	return ChatEvent{Type: ChatEventStepComplete, Step: step, Tool: tool, Success: &success}
}

// NewStepErrorEvent reports a failed adapter call.
func NewStepErrorEvent(step int, tool string, err string) ChatEvent {
	return ChatEvent{Type: ChatEventStepError, Step: step, Tool: tool, Error: err}
}

// NewPendingActionEvent announces a proposal awaiting confirmation.
func NewPendingActionEvent(action *PendingAction, payload any) ChatEvent {
	return ChatEvent{
		Type:       ChatEventPendingAction,
		ActionID:   action.ID.String(),
		ActionType: string(action.Kind),
		Payload:    payload,
	}
}

// NewSourcesEvent lists source links contributed by a web search.
func NewSourcesEvent(sources []string) ChatEvent {
	return ChatEvent{Type: ChatEventSources, Sources: sources}
}

// NewCompleteEvent terminates a confirmation stream.
func NewCompleteEvent(action *PendingAction) ChatEvent {
	success := action.Status == ActionStatusExecuted
	ev := ChatEvent{
		Type:       ChatEventComplete,
		ActionID:   action.ID.String(),
		ActionType: string(action.Kind),
		Success:    &success,
		Result:     action.Result,
	}
	if action.Error != nil {
		ev.Error = *action.Error
	}
	return ev
}

// NewDoneEvent marks the end of synthesized text.
func NewDoneEvent() ChatEvent {
	return ChatEvent{Type: ChatEventDone}
}

// NewErrorEvent creates a terminal error event.
func NewErrorEvent(code, message string) ChatEvent {
	return ChatEvent{Type: ChatEventError, Code: code, Error: message}
}
