// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nexo-labs/chat-gateway/internal/middleware"
	"github.com/nexo-labs/chat-gateway/internal/model"
	"github.com/nexo-labs/chat-gateway/internal/service"
	"github.com/nexo-labs/chat-gateway/internal/store"
	"github.com/nexo-labs/chat-gateway/internal/stream"
	"github.com/nexo-labs/chat-gateway/pkg/logger"
	"github.com/nexo-labs/chat-gateway/pkg/metrics"
)

// ChatHandler handles the streaming chat endpoint.
type ChatHandler struct {
	chatService *service.ChatService
	logger      *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(chatSvc *service.ChatService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		chatService: chatSvc,
		logger:      log,
	}
}

// Chat handles POST /api/chat: gates on the daily token quota, then streams
// the answer as SSE events. Quota exhaustion answers 429 with the limit
// snapshot before any streaming starts.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req model.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageContent(req.Message); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ChatID != "" {
		if err := middleware.ValidateConversationID(req.ChatID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	turn, err := h.chatService.Begin(ctx, userID, &req)
	if err != nil {
		var quotaErr *service.QuotaError
		switch {
		case errors.As(err, &quotaErr):
			writeJSON(w, http.StatusTooManyRequests, model.ErrorResponse{
				Error: quotaErr.Result.Message,
				LimitInfo: &model.LimitInfo{
					Limit:     quotaErr.Result.Limit,
					Used:      quotaErr.Result.Used,
					Remaining: quotaErr.Result.Remaining,
					ResetAt:   quotaErr.Result.ResetAt.UTC().Format(time.RFC3339),
				},
			})
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "conversation not found")
		default:
			h.logger.Error("failed to begin chat turn", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to process chat request")
		}
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	if _, ok := w.(http.Flusher); !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	enc := stream.NewEncoder(w)

	if err := turn.Stream(ctx, enc.WriteEvent); err != nil {
		// The client abandoning the stream is not a turn failure.
		if ctx.Err() == nil {
			h.logger.Error("chat turn failed", zap.Error(err))
			enc.WriteError("failed to generate response")
		}
	}

	enc.Close()
}
