package service

import (
	"context"
	"fmt"

	"github.com/nexo-labs/chat-gateway/internal/model"
	"github.com/nexo-labs/chat-gateway/internal/store"
	"github.com/nexo-labs/chat-gateway/pkg/logger"
)

// SessionService handles session history operations: load, list, rename,
// close. Every operation checks conversation ownership.
type SessionService struct {
	store  store.Store
	logger *logger.Logger
}

// NewSessionService creates a session service.
func NewSessionService(st store.Store, log *logger.Logger) *SessionService {
	return &SessionService{store: st, logger: log}
}

// Active returns the user's most recent non-closed session.
// store.ErrNotFound is a normal outcome for users without one.
func (s *SessionService) Active(ctx context.Context, userID string) (*model.Session, error) {
	return s.store.GetActiveSession(ctx, userID)
}

// Get loads one session's full history.
func (s *SessionService) Get(ctx context.Context, userID, conversationID string) (*model.Session, error) {
	session, err := s.store.GetSession(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, store.ErrNotFound
	}
	return session, nil
}

// List returns summaries of the user's sessions, newest first.
func (s *SessionService) List(ctx context.Context, userID string) ([]model.SessionSummary, error) {
	return s.store.ListSessions(ctx, userID)
}

// Rename updates a session title.
func (s *SessionService) Rename(ctx context.Context, userID, conversationID, title string) error {
	if _, err := s.Get(ctx, userID, conversationID); err != nil {
		return err
	}
	if err := s.store.RenameSession(ctx, conversationID, title); err != nil {
		return fmt.Errorf("failed to rename session: %w", err)
	}
	return nil
}

// Close marks a session closed. History is retained server-side; the next
// active-session load simply finds nothing.
func (s *SessionService) Close(ctx context.Context, userID, conversationID string) error {
	if _, err := s.Get(ctx, userID, conversationID); err != nil {
		return err
	}
	return s.store.CloseSession(ctx, conversationID)
}

// Agents lists the selectable chat personas.
func (s *SessionService) Agents(ctx context.Context) ([]model.Agent, error) {
	return s.store.ListAgents(ctx)
}
