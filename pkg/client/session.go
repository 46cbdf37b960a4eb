package client

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nexo-labs/chat-gateway/internal/model"
	"github.com/nexo-labs/chat-gateway/internal/stream"
	"github.com/nexo-labs/chat-gateway/pkg/logger"
)

// State is the lifecycle phase of a ChatSession.
type State int

const (
	// StateIdle means no request is in flight.
	StateIdle State = iota
	// StateSending means a request has been issued but no event received yet.
	StateSending
	// StateStreaming means assistant tokens are arriving.
	StateStreaming
)

// turn is the in-progress exchange: the optimistic user message plus the
// assistant placeholder that stream events mutate. It is kept separate from
// the finalized log and committed only when the turn ends, so event
// application never reaches into the log by index.
type turn struct {
	user      model.Message
	assistant model.Message
	finalized bool
}

// ChatSession drives one conversation against the gateway. It owns the
// message log, the current-turn handle, and the three mutually exclusive
// display surfaces: assistant content, error banner, and quota-limit banner.
//
// One request may be in flight at a time; a Submit while running is dropped.
type ChatSession struct {
	client *Client
	logger *logger.Logger

	mu             sync.Mutex
	state          State
	conversationID string
	messages       []model.Message
	current        *turn

	agentSlug    string
	selectedDocs []string
	onToken      func(string)

	lastError   string
	limitNotice string
	usage       *model.UsageSnapshot
}

// NewChatSession creates an empty session bound to a client.
func NewChatSession(c *Client, log *logger.Logger) *ChatSession {
	if log == nil {
		log = logger.NewNop()
	}
	return &ChatSession{
		client: c,
		logger: log,
	}
}

// SetAgent selects the persona used for subsequent turns.
func (s *ChatSession) SetAgent(slug string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentSlug = slug
}

// OnToken registers a callback invoked for each streamed token fragment, in
// order. Useful for live terminal output.
func (s *ChatSession) OnToken(fn func(string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onToken = fn
}

// SetSelectedDocuments restricts retrieval for subsequent turns.
func (s *ChatSession) SetSelectedDocuments(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedDocs = append([]string(nil), ids...)
}

// IsRunning reports whether a request is in flight.
func (s *ChatSession) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != StateIdle
}

// ConversationID returns the current conversation id, empty for a new
// conversation that has not completed its first turn.
func (s *ChatSession) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Messages returns the log plus the in-progress turn, if any.
func (s *ChatSession) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Message, len(s.messages), len(s.messages)+2)
	copy(out, s.messages)
	if s.current != nil {
		out = append(out, s.current.user, s.current.assistant)
	}
	return out
}

// Err returns the current display error, empty when none.
func (s *ChatSession) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// LimitNotice returns the current quota-limit banner, empty when none.
func (s *ChatSession) LimitNotice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limitNotice
}

// Usage returns the most recent usage snapshot, nil before the first turn.
func (s *ChatSession) Usage() *model.UsageSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Submit sends one user message and blocks until the turn completes. Empty
// input and concurrent submits are dropped silently. Transport and in-stream
// errors are surfaced through Err and also returned; quota exhaustion sets
// the limit banner and returns nil.
func (s *ChatSession) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.state = StateSending
	s.lastError = ""
	s.limitNotice = ""

	now := time.Now()
	s.current = &turn{
		user:      model.Message{Role: model.RoleUser, Content: text, Timestamp: now},
		assistant: model.Message{Role: model.RoleAssistant, Timestamp: now},
	}
	req := model.ChatRequest{
		Message:           text,
		SelectedDocuments: s.selectedDocs,
		ChatID:            s.conversationID,
		AgentSlug:         s.agentSlug,
	}
	s.mu.Unlock()

	chatStream, err := s.client.StreamChat(ctx, req)
	if err != nil {
		s.finishWithError(err)
		var quotaErr *QuotaExceededError
		if errors.As(err, &quotaErr) {
			return nil
		}
		return err
	}
	defer chatStream.Close()

	return s.consume(chatStream)
}

// consume drains the event stream, applying each event to the current turn.
func (s *ChatSession) consume(cs *ChatStream) error {
	s.mu.Lock()
	onToken := s.onToken
	s.mu.Unlock()

	for {
		ev, err := cs.Next()
		if errors.Is(err, io.EOF) {
			// Stream ended. Without a done event the last-applied token and
			// sources state stands as the final message.
			s.commitTurn()
			return nil
		}
		if err != nil {
			s.finishWithError(err)
			return err
		}

		if abort := s.apply(ev); abort != nil {
			s.finishWithError(abort)
			return abort
		}

		// The callback runs outside the lock so it may read session state.
		if ev.Type == stream.EventToken && onToken != nil {
			onToken(ev.Token)
		}
	}
}

// apply handles one decoded event; a non-nil return aborts the turn.
func (s *ChatSession) apply(ev stream.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil
	}

	switch ev.Type {
	case stream.EventConversationID:
		s.conversationID = ev.ConversationID

	case stream.EventToken:
		s.state = StateStreaming
		s.current.assistant.Content += ev.Token

	case stream.EventSources:
		// Last write wins.
		s.current.assistant.Sources = ev.Sources

	case stream.EventUsage:
		s.usage = ev.Usage

	case stream.EventDone:
		// Idempotent: a repeated done leaves the turn unchanged.
		s.current.finalized = true

	case stream.EventError:
		return errors.New(ev.Err)
	}
	return nil
}

// commitTurn moves the finished turn into the log and returns to idle.
func (s *ChatSession) commitTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.messages = append(s.messages, s.current.user, s.current.assistant)
		s.current = nil
	}
	s.state = StateIdle
}

// finishWithError discards the assistant placeholder, keeps the user
// message, and raises exactly one of the two failure banners.
func (s *ChatSession) finishWithError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.messages = append(s.messages, s.current.user)
		s.current = nil
	}
	s.state = StateIdle

	var quotaErr *QuotaExceededError
	if errors.As(err, &quotaErr) {
		// Quota exhaustion is expected, not an error: publish the
		// authoritative snapshot to the usage surface instead.
		s.limitNotice = quotaErr.Message
		s.lastError = ""
		if info := quotaErr.LimitInfo; info != nil {
			snapshot := &model.UsageSnapshot{
				DailyLimit:     info.Limit,
				DailyUsed:      info.Used,
				DailyRemaining: info.Remaining,
			}
			if resetAt, parseErr := time.Parse(time.RFC3339, info.ResetAt); parseErr == nil {
				snapshot.ResetAt = resetAt
			}
			s.usage = snapshot
		}
		s.logger.Info("daily token limit reached", zap.String("conversation_id", s.conversationID))
		return
	}

	s.lastError = "Failed to generate a response. Please try again."
	s.limitNotice = ""
	s.logger.Warn("chat turn failed",
		zap.String("conversation_id", s.conversationID),
		zap.Error(err),
	)
}

// restore replaces local state with a server-loaded session.
func (s *ChatSession) restore(conversationID string, messages []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversationID = conversationID
	s.messages = append([]model.Message(nil), messages...)
	s.current = nil
	s.state = StateIdle
	s.lastError = ""
	s.limitNotice = ""
}

// reset clears local state for a brand-new conversation. The server-side
// session, if any, keeps its history.
func (s *ChatSession) reset() {
	s.restore("", nil)
}
