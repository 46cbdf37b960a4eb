package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexo-labs/chat-gateway/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedSession(t *testing.T, st *SQLiteStore, userID, conversationID string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, st.CreateSession(context.Background(), &model.Session{
		ConversationID: conversationID,
		UserID:         userID,
		Status:         model.SessionActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}))
}

func TestUserRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	user := &model.User{ID: "u1", Email: "mill@example.com", AccountClass: model.AccountPro, DailyTokenLimit: 12000}
	require.NoError(t, st.UpsertUser(ctx, user))

	got, err := st.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, user, got)

	// Upsert replaces in place.
	user.AccountClass = model.AccountEnterprise
	require.NoError(t, st.UpsertUser(ctx, user))
	got, err = st.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.AccountEnterprise, got.AccountClass)
}

func TestSubscriptionRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sub := &model.Subscription{
		ID:     "sub1",
		UserID: "u1",
		Status: model.SubscriptionActive,
		Items: []model.SubscriptionItem{{
			ProductID:       "prod-pro",
			ProductMetadata: map[string]string{"daily_token_limit": "20000"},
		}},
	}
	require.NoError(t, st.UpsertSubscription(ctx, sub))

	subs, err := st.ListSubscriptions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "20000", subs[0].Items[0].ProductMetadata["daily_token_limit"])
}

func TestActiveSessionSelection(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.GetActiveSession(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	seedSession(t, st, "u1", "c-old")
	// The newer session must win; give it a later updated_at.
	now := time.Now().UTC().Add(time.Second)
	require.NoError(t, st.CreateSession(ctx, &model.Session{
		ConversationID: "c-new",
		UserID:         "u1",
		Status:         model.SessionActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}))

	active, err := st.GetActiveSession(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "c-new", active.ConversationID)

	// Closing the newest makes the older one active again.
	require.NoError(t, st.CloseSession(ctx, "c-new"))
	active, err = st.GetActiveSession(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "c-old", active.ConversationID)
}

func TestRenameSession(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seedSession(t, st, "u1", "c1")
	require.NoError(t, st.RenameSession(ctx, "c1", "Freedom and its limits"))

	sess, err := st.GetSession(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Freedom and its limits", sess.Title)

	assert.ErrorIs(t, st.RenameSession(ctx, "missing", "x"), ErrNotFound)
}

func TestMessageRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedSession(t, st, "u1", "c1")

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, st.AppendMessage(ctx, "c1", &model.Message{
		Role: model.RoleUser, Content: "What is freedom?", Timestamp: now,
	}))
	require.NoError(t, st.AppendMessage(ctx, "c1", &model.Message{
		Role:      model.RoleAssistant,
		Content:   "Freedom is...",
		Timestamp: now.Add(time.Second),
		Sources: []model.Source{
			{ID: "s1", Title: "On Liberty", Slug: "on-liberty", Type: model.SourceTypeBook, ChunkIndex: 3},
		},
	}))

	messages, err := st.ListMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, model.RoleUser, messages[0].Role)
	assert.Nil(t, messages[0].Sources)
	require.Len(t, messages[1].Sources, 1)
	assert.Equal(t, 3, messages[1].Sources[0].ChunkIndex)

	// Session history is loaded with its messages attached.
	sess, err := st.GetSession(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 2)
}

func TestSpendingLedger(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedSession(t, st, "u1", "c1")
	seedSession(t, st, "u1", "c2")
	seedSession(t, st, "u2", "c3")

	now := time.Now().UTC()
	entries := []struct {
		conversationID string
		userID         string
		total          int
	}{
		{"c1", "u1", 100},
		{"c2", "u1", 250},
		{"c3", "u2", 999},
	}
	for _, e := range entries {
		require.NoError(t, st.AppendSpending(ctx, e.conversationID, e.userID, &model.SpendingEntry{
			Service:   model.ServiceLLM,
			Model:     "gpt-4o-mini",
			Tokens:    model.TokenUsage{Input: e.total / 2, Output: e.total - e.total/2, Total: e.total},
			Timestamp: now,
		}))
	}

	// Ledger reads span all of a user's sessions but never other users'.
	ledger, err := st.ListSpending(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, ledger, 2)
	assert.Equal(t, 350, ledger[0].Tokens.Total+ledger[1].Tokens.Total)
}

func TestDeleteSessionCascades(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedSession(t, st, "u1", "c1")

	require.NoError(t, st.AppendMessage(ctx, "c1", &model.Message{
		Role: model.RoleUser, Content: "hi", Timestamp: time.Now().UTC(),
	}))
	require.NoError(t, st.AppendSpending(ctx, "c1", "u1", &model.SpendingEntry{
		Service: model.ServiceLLM, Model: "gpt-4o-mini",
		Tokens: model.TokenUsage{Total: 10}, Timestamp: time.Now().UTC(),
	}))

	require.NoError(t, st.DeleteSession(ctx, "c1"))

	_, err := st.GetSession(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)

	messages, err := st.ListMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestAgents(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertAgent(ctx, &model.Agent{
		Slug: "socratic", Name: "Socratic Tutor", SystemPrompt: "Answer with questions.",
	}))
	require.NoError(t, st.UpsertAgent(ctx, &model.Agent{
		Slug: "default", Name: "Default",
	}))

	agent, err := st.GetAgent(ctx, "socratic")
	require.NoError(t, err)
	assert.Equal(t, "Socratic Tutor", agent.Name)
	assert.Equal(t, "Answer with questions.", agent.SystemPrompt)

	agents, err := st.ListAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, agents, 2)

	_, err = st.GetAgent(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChunkIndex(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	chunks := []Chunk{
		{ID: "ch1", DocID: "doc1", Title: "On Liberty", Slug: "on-liberty", DocType: model.SourceTypeBook, ChunkIndex: 0, Content: "chapter one", Embedding: []float32{0.1, 0.2}},
		{ID: "ch2", DocID: "doc1", Title: "On Liberty", Slug: "on-liberty", DocType: model.SourceTypeBook, ChunkIndex: 1, Content: "chapter two", Embedding: []float32{0.3, 0.4}},
		{ID: "ch3", DocID: "doc2", Title: "Areopagitica", Slug: "areopagitica", DocType: model.SourceTypeArticle, ChunkIndex: 0, Content: "of licensing", Embedding: []float32{0.5, 0.6}},
	}
	for i := range chunks {
		require.NoError(t, st.UpsertChunk(ctx, &chunks[i]))
	}

	all, err := st.ListChunks(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	filtered, err := st.ListChunks(ctx, []string{"doc1"})
	require.NoError(t, err)
	require.Len(t, filtered, 2)
	for _, c := range filtered {
		assert.Equal(t, "doc1", c.DocID)
		assert.Len(t, c.Embedding, 2)
	}
}
