package client

import (
	"context"
	"fmt"
	"time"

	"github.com/nexo-labs/chat-gateway/internal/model"
)

// ContentPart is one piece of a thread message body. Only text parts exist
// today.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ThreadMessage is the renderer-facing view of one message: stable per-index
// id, role, content parts, and source metadata.
type ThreadMessage struct {
	ID        string         `json:"id"`
	Role      model.Role     `json:"role"`
	Content   []ContentPart  `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Runtime bridges a ChatSession to a generic conversation-rendering surface.
// The surface sees a thread of messages and a single append intent; it never
// touches SSE, quotas, or the session store.
type Runtime struct {
	session *ChatSession
}

// NewRuntime wraps a session.
func NewRuntime(session *ChatSession) *Runtime {
	return &Runtime{session: session}
}

// Thread projects the session's messages, including any in-progress turn.
func (r *Runtime) Thread() []ThreadMessage {
	messages := r.session.Messages()
	thread := make([]ThreadMessage, len(messages))
	for i, msg := range messages {
		tm := ThreadMessage{
			ID:        fmt.Sprintf("msg-%d", i),
			Role:      msg.Role,
			Content:   []ContentPart{{Type: "text", Text: msg.Content}},
			CreatedAt: msg.Timestamp,
		}
		if len(msg.Sources) > 0 {
			tm.Metadata = map[string]any{"sources": msg.Sources}
		}
		thread[i] = tm
	}
	return thread
}

// Append submits one user message through the session.
func (r *Runtime) Append(ctx context.Context, text string) error {
	return r.session.Submit(ctx, text)
}

// IsRunning reports whether a turn is in flight.
func (r *Runtime) IsRunning() bool {
	return r.session.IsRunning()
}
