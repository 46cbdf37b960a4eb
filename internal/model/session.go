package model

import (
	"time"
)

// SessionStatus represents the lifecycle state of a chat session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// Session is a server-persisted conversation thread plus its spending ledger.
type Session struct {
	ConversationID string          `json:"conversation_id"`
	UserID         string          `json:"user_id"`
	Title          string          `json:"title,omitempty"`
	Status         SessionStatus   `json:"status"`
	Messages       []Message       `json:"messages"`
	Spending       []SpendingEntry `json:"spending,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// SessionSummary is the list view of a historical session.
type SessionSummary struct {
	ConversationID string        `json:"conversation_id"`
	Title          string        `json:"title,omitempty"`
	LastActivity   time.Time     `json:"last_activity"`
	Status         SessionStatus `json:"status"`
}

// RenameSessionRequest is the body of a session rename call.
type RenameSessionRequest struct {
	Title string `json:"title"`
}
