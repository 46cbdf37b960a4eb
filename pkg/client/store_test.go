package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexo-labs/chat-gateway/internal/model"
)

func TestLoadActiveSessionAbsenceIsSilent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(model.ErrorResponse{Error: "no active session"})
	}))
	t.Cleanup(srv.Close)

	session := NewChatSession(New(srv.URL, "tok"), nil)
	store := NewSessionStore(New(srv.URL, "tok"), session, nil)

	require.NoError(t, store.LoadActiveSession(context.Background()))
	assert.Empty(t, session.Messages())
	assert.Empty(t, session.ConversationID())
}

func TestLoadActiveSessionRestoresHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "true", r.URL.Query().Get("active"))
		// sources arrive in wire form: chunk_index present, relevance and
		// content never persisted.
		w.Write([]byte(`{
			"conversation_id": "c-77",
			"messages": [
				{"role": "user", "content": "hi", "timestamp": "2026-08-30T10:00:00Z"},
				{"role": "assistant", "content": "hello", "timestamp": "2026-08-30T10:00:05Z",
				 "sources": [{"id":"s1","title":"On Liberty","slug":"on-liberty","type":"book","chunk_index":7}]}
			]
		}`))
	}))
	t.Cleanup(srv.Close)

	session := NewChatSession(New(srv.URL, "tok"), nil)
	store := NewSessionStore(New(srv.URL, "tok"), session, nil)

	require.NoError(t, store.LoadActiveSession(context.Background()))
	assert.Equal(t, "c-77", session.ConversationID())

	messages := session.Messages()
	require.Len(t, messages, 2)
	require.Len(t, messages[1].Sources, 1)
	src := messages[1].Sources[0]
	assert.Equal(t, 7, src.ChunkIndex)
	assert.Zero(t, src.RelevanceScore)
	assert.Empty(t, src.Content)
}

func TestStartNewConversationResetsState(t *testing.T) {
	session := NewChatSession(New("http://unused", "tok"), nil)
	session.restore("c-1", []model.Message{
		{Role: model.RoleUser, Content: "old", Timestamp: time.Now()},
		{Role: model.RoleAssistant, Content: "history", Timestamp: time.Now()},
	})
	store := NewSessionStore(New("http://unused", "tok"), session, nil)

	store.StartNewConversation()

	assert.Empty(t, session.ConversationID())
	assert.Empty(t, session.Messages())
}

func TestRenameSessionRoundTrip(t *testing.T) {
	titles := map[string]string{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/session", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		var req model.RenameSessionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		titles[r.URL.Query().Get("conversationId")] = req.Title
		json.NewEncoder(w).Encode(map[string]bool{"success": true})
	})
	mux.HandleFunc("/api/chat/sessions", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string][]model.SessionSummary{
			"sessions": {{ConversationID: "c-1", Title: titles["c-1"], Status: model.SessionActive}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	session := NewChatSession(New(srv.URL, "tok"), nil)
	store := NewSessionStore(New(srv.URL, "tok"), session, nil)

	assert.True(t, store.RenameSession(context.Background(), "c-1", "Foo"))

	history := store.LoadHistory(context.Background())
	require.Len(t, history, 1)
	assert.Equal(t, "Foo", history[0].Title)
}

func TestRenameSessionFailureReturnsFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	session := NewChatSession(New(srv.URL, "tok"), nil)
	store := NewSessionStore(New(srv.URL, "tok"), session, nil)

	assert.False(t, store.RenameSession(context.Background(), "c-1", "Foo"))
}

func TestDeleteActiveSessionClearsLocalState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	session := NewChatSession(New(srv.URL, "tok"), nil)
	session.restore("c-1", []model.Message{{Role: model.RoleUser, Content: "hi"}})
	store := NewSessionStore(New(srv.URL, "tok"), session, nil)

	assert.True(t, store.DeleteSession(context.Background(), "c-1"))
	assert.Empty(t, session.ConversationID())
	assert.Empty(t, session.Messages())
}

func TestDeleteOtherSessionKeepsLocalState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	session := NewChatSession(New(srv.URL, "tok"), nil)
	session.restore("c-1", []model.Message{{Role: model.RoleUser, Content: "hi"}})
	store := NewSessionStore(New(srv.URL, "tok"), session, nil)

	assert.True(t, store.DeleteSession(context.Background(), "c-2"))
	assert.Equal(t, "c-1", session.ConversationID())
	assert.Len(t, session.Messages(), 1)
}

func TestLoadHistoryDegradesToEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	session := NewChatSession(New(srv.URL, "tok"), nil)
	store := NewSessionStore(New(srv.URL, "tok"), session, nil)

	assert.Empty(t, store.LoadHistory(context.Background()))
}
