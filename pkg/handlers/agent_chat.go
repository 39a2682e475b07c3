package handlers

import (
	"context"
	"net/http"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/auth"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
	"github.com/ekaya-inc/ekaya-agent/pkg/services"
)

// maxMessageRunes bounds a single chat message.
const maxMessageRunes = 8000

// SendMessageRequest for POST /chat/messages
type SendMessageRequest struct {
	Message string `json:"message"`
}

// ChatHistoryResponse for GET /chat/history
type ChatHistoryResponse struct {
	Turns []*models.ChatTurn `json:"turns"`
	Total int                `json:"total"`
}

// AgentChatHandler serves the chat stream and its history.
type AgentChatHandler struct {
	chatService services.AgentChatService
	logger      *zap.Logger
}

// NewAgentChatHandler creates a new chat handler.
func NewAgentChatHandler(chatService services.AgentChatService, logger *zap.Logger) *AgentChatHandler {
	return &AgentChatHandler{
		chatService: chatService,
		logger:      logger,
	}
}

// RegisterRoutes registers the chat routes. throttle limits message sends per user.
func (h *AgentChatHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, projectScope, throttle TenantMiddleware) {
	base := "/api/projects/{pid}/chat"

	mux.HandleFunc("POST "+base+"/messages",
		authMiddleware.RequireAuth(throttle(projectScope(h.SendMessage))))
	mux.HandleFunc("GET "+base+"/history",
		authMiddleware.RequireAuth(projectScope(h.GetHistory)))
}

// SendMessage handles POST /api/projects/{pid}/chat/messages
// The turn is streamed as Server-Sent Events.
func (h *AgentChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	var req SendMessageRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_message", "Message is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if utf8.RuneCountInString(message) > maxMessageRunes {
		if err := ErrorResponse(w, http.StatusBadRequest, "message_too_long", "Message is too long"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	streamEvents(w, r, h.logger, func(ctx context.Context, events chan<- models.ChatEvent) error {
		return h.chatService.SendMessage(ctx, projectID, message, events)
	})
}

// GetHistory handles GET /api/projects/{pid}/chat/history
func (h *AgentChatHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	turns, err := h.chatService.History(r.Context(), projectID, parseLimit(r))
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to get chat history")
		return
	}

	if turns == nil {
		turns = []*models.ChatTurn{}
	}
	response := ApiResponse{Success: true, Data: ChatHistoryResponse{Turns: turns, Total: len(turns)}}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
