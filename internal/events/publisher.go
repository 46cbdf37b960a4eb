package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/nexo-labs/chat-gateway/internal/model"
)

const (
	// StreamName is the name of the chat audit stream.
	StreamName = "CHAT_EVENTS"

	// SubjectPrefix is the prefix for all chat audit subjects.
	SubjectPrefix = "chat"
)

// TurnEvent records one completed chat turn.
type TurnEvent struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Model          string    `json:"model"`
	TokensIn       int       `json:"tokens_in"`
	TokensOut      int       `json:"tokens_out"`
	CostUSD        float64   `json:"cost_usd"`
	Timestamp      time.Time `json:"timestamp"`
}

// QuotaDeniedEvent records a request rejected by the daily token limit.
type QuotaDeniedEvent struct {
	UserID    string    `json:"user_id"`
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher writes chat audit events to JetStream. A nil Publisher is a
// no-op so the server runs without NATS configured.
type Publisher struct {
	client *Client
}

// NewPublisher creates a publisher over a connected client.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// EnsureStream ensures the audit stream exists with proper configuration.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	js := p.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Chat turn and quota audit events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// TurnSubject returns the subject for a completed turn.
func TurnSubject(userID, conversationID string) string {
	return fmt.Sprintf("%s.%s.%s.turn", SubjectPrefix, userID, conversationID)
}

// QuotaSubject returns the subject for a quota denial.
func QuotaSubject(userID string) string {
	return fmt.Sprintf("%s.%s.quota_denied", SubjectPrefix, userID)
}

// PublishTurn publishes a completed turn event.
func (p *Publisher) PublishTurn(ctx context.Context, ev *TurnEvent) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, TurnSubject(ev.UserID, ev.ConversationID), ev)
}

// PublishQuotaDenied publishes a quota denial event.
func (p *Publisher) PublishQuotaDenied(ctx context.Context, userID string, check model.TokenLimitCheckResult) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, QuotaSubject(userID), &QuotaDeniedEvent{
		UserID:    userID,
		Limit:     check.Limit,
		Used:      check.Used,
		Timestamp: time.Now().UTC(),
	})
}

func (p *Publisher) publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := p.client.JetStream().Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
