package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/nexo-labs/chat-gateway/internal/middleware"
	"github.com/nexo-labs/chat-gateway/internal/model"
	"github.com/nexo-labs/chat-gateway/internal/service"
	"github.com/nexo-labs/chat-gateway/internal/store"
	"github.com/nexo-labs/chat-gateway/internal/usage"
	"github.com/nexo-labs/chat-gateway/pkg/logger"
)

// SessionHandler handles session history, agent, and usage endpoints.
type SessionHandler struct {
	sessionService *service.SessionService
	limiter        *usage.Limiter
	logger         *logger.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(sessionSvc *service.SessionService, limiter *usage.Limiter, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionSvc,
		limiter:        limiter,
		logger:         log,
	}
}

// GetSession handles GET /api/chat/session.
// ?active=true loads the most recent non-closed session (404 when none,
// which callers treat as "start fresh"); ?conversationId=ID loads one
// session's full history.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	if r.URL.Query().Get("active") == "true" {
		session, err := h.sessionService.Active(ctx, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "no active session")
				return
			}
			h.logger.Error("failed to load active session", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load session")
			return
		}
		writeJSON(w, http.StatusOK, session)
		return
	}

	conversationID := r.URL.Query().Get("conversationId")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := h.sessionService.Get(ctx, userID, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("failed to load session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// RenameSession handles PATCH /api/chat/session?conversationId=ID.
func (h *SessionHandler) RenameSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	conversationID := r.URL.Query().Get("conversationId")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.RenameSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.sessionService.Rename(ctx, userID, conversationID, req.Title); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("failed to rename session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to rename session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// CloseSession handles DELETE /api/chat/session?conversationId=ID. The
// session is closed, not erased; history remains listable.
func (h *SessionHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	conversationID := r.URL.Query().Get("conversationId")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.sessionService.Close(ctx, userID, conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("failed to close session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to close session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSessions handles GET /api/chat/sessions.
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	sessions, err := h.sessionService.List(ctx, userID)
	if err != nil {
		h.logger.Error("failed to list sessions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []model.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// ListAgents handles GET /api/chat/agents.
func (h *SessionHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.sessionService.Agents(r.Context())
	if err != nil {
		h.logger.Error("failed to list agents", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

// UsageStats handles GET /api/chat/usage.
func (h *SessionHandler) UsageStats(w http.ResponseWriter, r *http.Request) {
	stats := h.limiter.UsageStats(r.Context(), middleware.GetUserID(r.Context()))
	writeJSON(w, http.StatusOK, stats)
}
