package client

import (
	"context"

	"go.uber.org/zap"

	"github.com/nexo-labs/chat-gateway/internal/model"
	"github.com/nexo-labs/chat-gateway/pkg/logger"
)

// SessionStore manages session lifecycle around a ChatSession: restoring the
// active session, switching between historical sessions, rename and delete.
//
// Failures degrade rather than propagate: loads leave prior state intact,
// rename and delete report a boolean outcome.
type SessionStore struct {
	client  *Client
	session *ChatSession
	logger  *logger.Logger
}

// NewSessionStore binds a store to a session.
func NewSessionStore(c *Client, session *ChatSession, log *logger.Logger) *SessionStore {
	if log == nil {
		log = logger.NewNop()
	}
	return &SessionStore{
		client:  c,
		session: session,
		logger:  log,
	}
}

// LoadActiveSession restores the most recent open session. Having none is a
// normal, silent outcome: the session is simply left empty.
func (s *SessionStore) LoadActiveSession(ctx context.Context) error {
	payload, err := s.client.ActiveSession(ctx)
	if err != nil {
		s.logger.Warn("failed to load active session", zap.Error(err))
		return err
	}
	if payload == nil {
		return nil
	}
	s.session.restore(payload.ConversationID, payload.Messages)
	return nil
}

// LoadSession switches to a historical session by conversation id.
func (s *SessionStore) LoadSession(ctx context.Context, conversationID string) error {
	payload, err := s.client.Session(ctx, conversationID)
	if err != nil {
		s.logger.Warn("failed to load session",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return err
	}
	s.session.restore(payload.ConversationID, payload.Messages)
	return nil
}

// LoadHistory lists past sessions, most recent first. On failure it returns
// an empty list.
func (s *SessionStore) LoadHistory(ctx context.Context) []model.SessionSummary {
	sessions, err := s.client.Sessions(ctx)
	if err != nil {
		s.logger.Warn("failed to load session history", zap.Error(err))
		return nil
	}
	return sessions
}

// RenameSession sets a session title; false means the title is unchanged.
func (s *SessionStore) RenameSession(ctx context.Context, conversationID, title string) bool {
	if err := s.client.RenameSession(ctx, conversationID, title); err != nil {
		s.logger.Warn("failed to rename session",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return false
	}
	return true
}

// DeleteSession closes a session. Deleting the currently active conversation
// also clears local state.
func (s *SessionStore) DeleteSession(ctx context.Context, conversationID string) bool {
	if err := s.client.DeleteSession(ctx, conversationID); err != nil {
		s.logger.Warn("failed to delete session",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return false
	}
	if s.session.ConversationID() == conversationID {
		s.session.reset()
	}
	return true
}

// StartNewConversation clears local message and conversation state. The
// server-side session keeps its history.
func (s *SessionStore) StartNewConversation() {
	s.session.reset()
}
