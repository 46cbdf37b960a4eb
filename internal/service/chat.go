// Package service provides business logic for the chat gateway.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexo-labs/chat-gateway/internal/events"
	"github.com/nexo-labs/chat-gateway/internal/llm"
	"github.com/nexo-labs/chat-gateway/internal/model"
	"github.com/nexo-labs/chat-gateway/internal/retrieval"
	"github.com/nexo-labs/chat-gateway/internal/store"
	"github.com/nexo-labs/chat-gateway/internal/stream"
	"github.com/nexo-labs/chat-gateway/internal/usage"
	"github.com/nexo-labs/chat-gateway/pkg/logger"
	"github.com/nexo-labs/chat-gateway/pkg/metrics"
)

// EventEmitter receives protocol events as a turn progresses.
type EventEmitter func(stream.Event) error

// QuotaError reports a request denied by the daily token limit. It carries
// the authoritative snapshot for the 429 body.
type QuotaError struct {
	Result model.TokenLimitCheckResult
}

func (e *QuotaError) Error() string {
	return e.Result.Message
}

// ChatService orchestrates a streaming chat turn: quota gate, retrieval,
// LLM streaming, ledger writes, and persistence.
type ChatService struct {
	store     store.Store
	limiter   *usage.Limiter
	retriever *retrieval.Retriever
	llmClient llm.Client
	publisher *events.Publisher
	logger    *logger.Logger

	chatModel string
	maxTokens int
}

// NewChatService creates a chat service. The retriever and publisher are
// optional.
func NewChatService(
	st store.Store,
	limiter *usage.Limiter,
	retriever *retrieval.Retriever,
	llmClient llm.Client,
	publisher *events.Publisher,
	log *logger.Logger,
	chatModel string,
	maxTokens int,
) *ChatService {
	if chatModel == "" {
		chatModel = "gpt-4o-mini"
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &ChatService{
		store:     st,
		limiter:   limiter,
		retriever: retriever,
		llmClient: llmClient,
		publisher: publisher,
		logger:    log,
		chatModel: chatModel,
		maxTokens: maxTokens,
	}
}

// Turn is a prepared chat turn: the quota gate has passed and the session is
// resolved, but nothing has been streamed yet.
type Turn struct {
	svc     *ChatService
	userID  string
	req     *model.ChatRequest
	session *model.Session
	isNew   bool
	agent   *model.Agent
}

// Begin gates the request on the daily token quota and resolves the target
// session. A denied request returns *QuotaError before any streaming starts
// so the handler can answer 429 with the limit snapshot.
func (s *ChatService) Begin(ctx context.Context, userID string, req *model.ChatRequest) (*Turn, error) {
	estimated := usage.EstimateTokens(req.Message)
	check := s.limiter.CheckTokenLimit(ctx, userID, estimated)
	metrics.RecordQuotaCheck(check.Allowed)

	if !check.Allowed {
		// Expected condition, not an error: surfaced via the usage display.
		s.logger.Info("request denied by daily token limit",
			zap.String("user_id", userID),
			zap.Int("limit", check.Limit),
			zap.Int("used", check.Used),
		)
		if err := s.publisher.PublishQuotaDenied(ctx, userID, check); err != nil {
			s.logger.Warn("failed to publish quota event", zap.Error(err))
		}
		return nil, &QuotaError{Result: check}
	}

	var agent *model.Agent
	if req.AgentSlug != "" {
		var err error
		agent, err = s.store.GetAgent(ctx, req.AgentSlug)
		if err != nil {
			return nil, fmt.Errorf("unknown agent %q: %w", req.AgentSlug, err)
		}
	}

	session, isNew, err := s.resolveSession(ctx, userID, req.ChatID)
	if err != nil {
		return nil, err
	}

	return &Turn{
		svc:     s,
		userID:  userID,
		req:     req,
		session: session,
		isNew:   isNew,
		agent:   agent,
	}, nil
}

func (s *ChatService) resolveSession(ctx context.Context, userID, chatID string) (*model.Session, bool, error) {
	if chatID != "" {
		session, err := s.store.GetSession(ctx, chatID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load conversation: %w", err)
		}
		if session.UserID != userID {
			return nil, false, store.ErrNotFound
		}
		return session, false, nil
	}

	now := time.Now().UTC()
	session := &model.Session{
		ConversationID: uuid.Must(uuid.NewV7()).String(),
		UserID:         userID,
		Status:         model.SessionActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, false, err
	}
	metrics.SessionsTotal.Inc()
	return session, true, nil
}

// Stream runs the prepared turn, emitting protocol events in order:
// conversation_id (new conversations), sources, token*, usage, done.
func (t *Turn) Stream(ctx context.Context, emit EventEmitter) error {
	s := t.svc
	start := time.Now()

	if t.isNew {
		if err := emit(stream.Event{Type: stream.EventConversationID, ConversationID: t.session.ConversationID}); err != nil {
			return err
		}
	}

	userMsg := model.Message{
		Role:      model.RoleUser,
		Content:   t.req.Message,
		Timestamp: time.Now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, t.session.ConversationID, &userMsg); err != nil {
		return fmt.Errorf("failed to persist user message: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues(string(model.RoleUser)).Inc()

	sources, turnSpending := t.retrieve(ctx, emit)

	resp, err := s.llmClient.CompleteStream(ctx, t.buildCompletion(sources), func(token string, index int) error {
		return emit(stream.Event{Type: stream.EventToken, Token: token})
	})
	if err != nil {
		metrics.RecordTurn(s.chatModel, "error", time.Since(start).Seconds(), 0)
		return fmt.Errorf("LLM stream failed: %w", err)
	}

	llmEntry := usage.NewLLMSpending(resp.Model, resp.TokensIn, resp.TokensOut, time.Now().UTC())
	if err := s.store.AppendSpending(ctx, t.session.ConversationID, t.userID, &llmEntry); err != nil {
		s.logger.Error("failed to record LLM spending", zap.Error(err))
	}
	metrics.RecordSpending(string(model.ServiceLLM), llmEntry.Model, llmEntry.Tokens.Total)
	turnSpending = append(turnSpending, llmEntry)

	assistantMsg := model.Message{
		Role:      model.RoleAssistant,
		Content:   resp.Content,
		Timestamp: time.Now().UTC(),
		Sources:   stripSources(sources),
	}
	if err := s.store.AppendMessage(ctx, t.session.ConversationID, &assistantMsg); err != nil {
		return fmt.Errorf("failed to persist assistant message: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues(string(model.RoleAssistant)).Inc()

	if err := emit(stream.Event{Type: stream.EventUsage, Usage: t.usageSnapshot(ctx, turnSpending)}); err != nil {
		return err
	}

	if err := s.publisher.PublishTurn(ctx, &events.TurnEvent{
		ConversationID: t.session.ConversationID,
		UserID:         t.userID,
		Model:          resp.Model,
		TokensIn:       resp.TokensIn,
		TokensOut:      resp.TokensOut,
		CostUSD:        usage.TotalCost(turnSpending),
		Timestamp:      time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("failed to publish turn event", zap.Error(err))
	}

	if err := emit(stream.Event{Type: stream.EventDone}); err != nil {
		return err
	}

	metrics.RecordTurn(resp.Model, "success", time.Since(start).Seconds(), resp.TokensOut)
	return nil
}

// retrieve runs the retrieval pass. Retrieval failure degrades to an
// unsourced answer rather than failing the turn.
func (t *Turn) retrieve(ctx context.Context, emit EventEmitter) ([]model.Source, []model.SpendingEntry) {
	s := t.svc
	if s.retriever == nil {
		return nil, nil
	}

	result, err := s.retriever.Search(ctx, t.req.Message, t.req.SelectedDocuments)
	if err != nil {
		s.logger.Warn("retrieval failed, answering without sources",
			zap.String("conversation_id", t.session.ConversationID),
			zap.Error(err),
		)
		return nil, nil
	}

	entry := usage.NewEmbeddingSpending(result.EmbeddingModel, result.EmbeddingTokens, time.Now().UTC())
	if err := s.store.AppendSpending(ctx, t.session.ConversationID, t.userID, &entry); err != nil {
		s.logger.Error("failed to record embedding spending", zap.Error(err))
	}
	metrics.RecordSpending(string(model.ServiceEmbedding), entry.Model, entry.Tokens.Total)

	if err := emit(stream.Event{Type: stream.EventSources, Sources: result.Sources}); err != nil {
		s.logger.Warn("failed to emit sources event", zap.Error(err))
	}
	return result.Sources, []model.SpendingEntry{entry}
}

func (t *Turn) buildCompletion(sources []model.Source) *llm.CompletionRequest {
	s := t.svc

	var system strings.Builder
	if t.agent != nil && t.agent.SystemPrompt != "" {
		system.WriteString(t.agent.SystemPrompt)
	} else {
		system.WriteString("You answer questions using the provided document excerpts. Cite only what the excerpts support.")
	}
	if len(sources) > 0 {
		system.WriteString("\n\nContext:\n")
		for _, src := range sources {
			fmt.Fprintf(&system, "[%s #%d] %s\n", src.Title, src.ChunkIndex, src.Content)
		}
	}

	history := make([]llm.ChatMessage, 0, len(t.session.Messages)+1)
	for _, msg := range t.session.Messages {
		history = append(history, llm.ChatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	history = append(history, llm.ChatMessage{Role: string(model.RoleUser), Content: t.req.Message})

	return &llm.CompletionRequest{
		Model:     s.chatModel,
		System:    system.String(),
		Messages:  history,
		MaxTokens: s.maxTokens,
	}
}

func (t *Turn) usageSnapshot(ctx context.Context, turnSpending []model.SpendingEntry) *model.UsageSnapshot {
	stats := t.svc.limiter.UsageStats(ctx, t.userID)
	return &model.UsageSnapshot{
		TokensUsed:     usage.TotalTokens(turnSpending),
		CostUSD:        usage.TotalCost(turnSpending),
		DailyLimit:     stats.Limit,
		DailyUsed:      stats.Used,
		DailyRemaining: stats.Remaining,
		ResetAt:        stats.ResetAt,
	}
}

func stripSources(sources []model.Source) []model.Source {
	if len(sources) == 0 {
		return nil
	}
	stripped := make([]model.Source, len(sources))
	for i, src := range sources {
		stripped[i] = src.StripForHistory()
	}
	return stripped
}
