// Package store defines the persistence interface and implementations.
package store

import (
	"context"
	"errors"

	"github.com/nexo-labs/chat-gateway/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Chunk is one indexed document fragment with its stored embedding.
type Chunk struct {
	ID         string
	DocID      string
	Title      string
	Slug       string
	DocType    model.SourceType
	ChunkIndex int
	Content    string
	Embedding  []float32
}

// Store is the persistence boundary for users, sessions, the spending
// ledger, agents, and the retrieval chunk index.
type Store interface {
	// Users and billing
	GetUser(ctx context.Context, userID string) (*model.User, error)
	UpsertUser(ctx context.Context, user *model.User) error
	ListSubscriptions(ctx context.Context, userID string) ([]model.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *model.Subscription) error

	// Sessions
	CreateSession(ctx context.Context, session *model.Session) error
	GetSession(ctx context.Context, conversationID string) (*model.Session, error)
	GetActiveSession(ctx context.Context, userID string) (*model.Session, error)
	ListSessions(ctx context.Context, userID string) ([]model.SessionSummary, error)
	RenameSession(ctx context.Context, conversationID, title string) error
	CloseSession(ctx context.Context, conversationID string) error
	DeleteSession(ctx context.Context, conversationID string) error

	// Messages
	AppendMessage(ctx context.Context, conversationID string, msg *model.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)

	// Spending ledger (append-only)
	AppendSpending(ctx context.Context, conversationID, userID string, entry *model.SpendingEntry) error
	ListSpending(ctx context.Context, userID string) ([]model.SpendingEntry, error)

	// Agents
	GetAgent(ctx context.Context, slug string) (*model.Agent, error)
	ListAgents(ctx context.Context) ([]model.Agent, error)
	UpsertAgent(ctx context.Context, agent *model.Agent) error

	// Retrieval index
	ListChunks(ctx context.Context, docIDs []string) ([]Chunk, error)

	Close() error
}
