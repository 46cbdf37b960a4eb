// Package model defines data structures for the chat gateway.
package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// SourceType represents the kind of indexed document a source came from.
type SourceType string

const (
	SourceTypeArticle SourceType = "article"
	SourceTypeBook    SourceType = "book"
)

// Source is a retrieved document chunk cited by an assistant response.
// relevance_score and content are omitted from persisted history and
// re-fetched lazily when needed.
type Source struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Slug           string     `json:"slug"`
	Type           SourceType `json:"type"`
	ChunkIndex     int        `json:"chunk_index"`
	RelevanceScore float64    `json:"relevance_score,omitempty"`
	Content        string     `json:"content,omitempty"`
	Excerpt        string     `json:"excerpt,omitempty"`
}

// StripForHistory returns a copy of the source safe to persist: chunk
// content and relevance scores are dropped and re-fetched on demand.
func (s Source) StripForHistory() Source {
	return Source{
		ID:         s.ID,
		Title:      s.Title,
		Slug:       s.Slug,
		Type:       s.Type,
		ChunkIndex: s.ChunkIndex,
	}
}

// Message represents one entry in a conversation.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Sources   []Source  `json:"sources,omitempty"`
}
