package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nexo-labs/chat-gateway/internal/model"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
// Use ":memory:" for an ephemeral store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			account_class TEXT NOT NULL DEFAULT 'free',
			daily_token_limit INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			subscription_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			items TEXT NOT NULL DEFAULT '[]',
			FOREIGN KEY (user_id) REFERENCES users(user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON subscriptions(user_id)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			conversation_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, updated_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			sources TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES sessions(conversation_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS spending_entries (
			entry_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			service TEXT NOT NULL,
			model TEXT NOT NULL,
			tokens_input INTEGER NOT NULL DEFAULT 0,
			tokens_output INTEGER NOT NULL DEFAULT 0,
			tokens_total INTEGER NOT NULL,
			cost_usd REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES sessions(conversation_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_spending_user ON spending_entries(user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS agents (
			slug TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			system_prompt TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS document_chunks (
			chunk_id TEXT PRIMARY KEY,
			doc_id TEXT NOT NULL,
			title TEXT NOT NULL,
			slug TEXT NOT NULL,
			doc_type TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_doc ON document_chunks(doc_id, chunk_index)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, email, account_class, daily_token_limit FROM users WHERE user_id = ?`,
		userID,
	).Scan(&u.ID, &u.Email, &u.AccountClass, &u.DailyTokenLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// UpsertUser inserts or replaces a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *model.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, email, account_class, daily_token_limit)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			email = excluded.email,
			account_class = excluded.account_class,
			daily_token_limit = excluded.daily_token_limit`,
		user.ID, user.Email, user.AccountClass, user.DailyTokenLimit,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// ListSubscriptions returns all subscriptions for a user.
func (s *SQLiteStore) ListSubscriptions(ctx context.Context, userID string) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subscription_id, user_id, status, items FROM subscriptions WHERE user_id = ?`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		var sub model.Subscription
		var items string
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Status, &items); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		if err := json.Unmarshal([]byte(items), &sub.Items); err != nil {
			return nil, fmt.Errorf("failed to decode subscription items: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// UpsertSubscription inserts or replaces a subscription.
func (s *SQLiteStore) UpsertSubscription(ctx context.Context, sub *model.Subscription) error {
	items, err := json.Marshal(sub.Items)
	if err != nil {
		return fmt.Errorf("failed to encode subscription items: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (subscription_id, user_id, status, items)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(subscription_id) DO UPDATE SET
			status = excluded.status,
			items = excluded.items`,
		sub.ID, sub.UserID, sub.Status, string(items),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// CreateSession persists a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *model.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (conversation_id, user_id, title, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		session.ConversationID, session.UserID, session.Title, session.Status,
		session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanSession(ctx context.Context, row *sql.Row) (*model.Session, error) {
	var sess model.Session
	err := row.Scan(&sess.ConversationID, &sess.UserID, &sess.Title, &sess.Status,
		&sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	sess.Messages, err = s.ListMessages(ctx, sess.ConversationID)
	if err != nil {
		return nil, err
	}
	sess.Spending, err = s.listSessionSpending(ctx, sess.ConversationID)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetSession retrieves a session with its full message history and ledger.
func (s *SQLiteStore) GetSession(ctx context.Context, conversationID string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, user_id, title, status, created_at, updated_at
		 FROM sessions WHERE conversation_id = ?`,
		conversationID,
	)
	return s.scanSession(ctx, row)
}

// GetActiveSession retrieves the most recently updated non-closed session.
func (s *SQLiteStore) GetActiveSession(ctx context.Context, userID string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, user_id, title, status, created_at, updated_at
		 FROM sessions WHERE user_id = ? AND status = 'active'
		 ORDER BY updated_at DESC LIMIT 1`,
		userID,
	)
	return s.scanSession(ctx, row)
}

// ListSessions returns summaries of all of a user's sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]model.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, title, status, updated_at
		 FROM sessions WHERE user_id = ? ORDER BY updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var summaries []model.SessionSummary
	for rows.Next() {
		var sum model.SessionSummary
		if err := rows.Scan(&sum.ConversationID, &sum.Title, &sum.Status, &sum.LastActivity); err != nil {
			return nil, fmt.Errorf("failed to scan session summary: %w", err)
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// RenameSession updates a session title.
func (s *SQLiteStore) RenameSession(ctx context.Context, conversationID, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, updated_at = ? WHERE conversation_id = ?`,
		title, time.Now().UTC(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("failed to rename session: %w", err)
	}
	return requireRow(res)
}

// CloseSession marks a session closed. History is retained.
func (s *SQLiteStore) CloseSession(ctx context.Context, conversationID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = 'closed', updated_at = ? WHERE conversation_id = ?`,
		time.Now().UTC(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return requireRow(res)
}

// DeleteSession removes a session with its messages and ledger entries.
func (s *SQLiteStore) DeleteSession(ctx context.Context, conversationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM spending_entries WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("failed to delete spending entries: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendMessage appends a message to a conversation and bumps its activity.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, msg *model.Message) error {
	var sources any
	if len(msg.Sources) > 0 {
		data, err := json.Marshal(msg.Sources)
		if err != nil {
			return fmt.Errorf("failed to encode sources: %w", err)
		}
		sources = string(data)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, conversation_id, role, content, sources, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.Must(uuid.NewV7()).String(), conversationID, msg.Role, msg.Content, sources, msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE conversation_id = ?`,
		time.Now().UTC(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// ListMessages returns a conversation's messages in order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, sources, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY created_at, message_id`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		var msg model.Message
		var sources sql.NullString
		if err := rows.Scan(&msg.Role, &msg.Content, &sources, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if sources.Valid && sources.String != "" {
			if err := json.Unmarshal([]byte(sources.String), &msg.Sources); err != nil {
				return nil, fmt.Errorf("failed to decode sources: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// AppendSpending appends one billable event to the ledger.
func (s *SQLiteStore) AppendSpending(ctx context.Context, conversationID, userID string, entry *model.SpendingEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO spending_entries
		 (entry_id, conversation_id, user_id, service, model, tokens_input, tokens_output, tokens_total, cost_usd, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.Must(uuid.NewV7()).String(), conversationID, userID,
		entry.Service, entry.Model,
		entry.Tokens.Input, entry.Tokens.Output, entry.Tokens.Total,
		entry.CostUSD, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append spending entry: %w", err)
	}
	return nil
}

// ListSpending returns all of a user's ledger entries across all sessions.
func (s *SQLiteStore) ListSpending(ctx context.Context, userID string) ([]model.SpendingEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT service, model, tokens_input, tokens_output, tokens_total, cost_usd, created_at
		 FROM spending_entries WHERE user_id = ? ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list spending entries: %w", err)
	}
	defer rows.Close()
	return scanSpending(rows)
}

func (s *SQLiteStore) listSessionSpending(ctx context.Context, conversationID string) ([]model.SpendingEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT service, model, tokens_input, tokens_output, tokens_total, cost_usd, created_at
		 FROM spending_entries WHERE conversation_id = ? ORDER BY created_at`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list session spending: %w", err)
	}
	defer rows.Close()
	return scanSpending(rows)
}

func scanSpending(rows *sql.Rows) ([]model.SpendingEntry, error) {
	var entries []model.SpendingEntry
	for rows.Next() {
		var e model.SpendingEntry
		if err := rows.Scan(&e.Service, &e.Model,
			&e.Tokens.Input, &e.Tokens.Output, &e.Tokens.Total,
			&e.CostUSD, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan spending entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetAgent retrieves an agent persona by slug.
func (s *SQLiteStore) GetAgent(ctx context.Context, slug string) (*model.Agent, error) {
	var agent model.Agent
	err := s.db.QueryRowContext(ctx,
		`SELECT slug, name, system_prompt FROM agents WHERE slug = ?`, slug,
	).Scan(&agent.Slug, &agent.Name, &agent.SystemPrompt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return &agent, nil
}

// ListAgents returns all selectable agent personas.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]model.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slug, name, system_prompt FROM agents ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	agents := []model.Agent{}
	for rows.Next() {
		var agent model.Agent
		if err := rows.Scan(&agent.Slug, &agent.Name, &agent.SystemPrompt); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// UpsertAgent inserts or replaces an agent persona.
func (s *SQLiteStore) UpsertAgent(ctx context.Context, agent *model.Agent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (slug, name, system_prompt) VALUES (?, ?, ?)
		 ON CONFLICT(slug) DO UPDATE SET name = excluded.name, system_prompt = excluded.system_prompt`,
		agent.Slug, agent.Name, agent.SystemPrompt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert agent: %w", err)
	}
	return nil
}

// ListChunks returns indexed chunks, optionally restricted to a document set.
func (s *SQLiteStore) ListChunks(ctx context.Context, docIDs []string) ([]Chunk, error) {
	query := `SELECT chunk_id, doc_id, title, slug, doc_type, chunk_index, content, embedding FROM document_chunks`
	args := make([]any, 0, len(docIDs))
	if len(docIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(docIDs)), ",")
		query += ` WHERE doc_id IN (` + placeholders + `)`
		for _, id := range docIDs {
			args = append(args, id)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var embedding string
		if err := rows.Scan(&c.ID, &c.DocID, &c.Title, &c.Slug, &c.DocType, &c.ChunkIndex, &c.Content, &embedding); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if err := json.Unmarshal([]byte(embedding), &c.Embedding); err != nil {
			return nil, fmt.Errorf("failed to decode chunk embedding: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// UpsertChunk inserts or replaces an indexed chunk.
func (s *SQLiteStore) UpsertChunk(ctx context.Context, c *Chunk) error {
	embedding, err := json.Marshal(c.Embedding)
	if err != nil {
		return fmt.Errorf("failed to encode embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO document_chunks (chunk_id, doc_id, title, slug, doc_type, chunk_index, content, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(chunk_id) DO UPDATE SET
			title = excluded.title,
			slug = excluded.slug,
			doc_type = excluded.doc_type,
			chunk_index = excluded.chunk_index,
			content = excluded.content,
			embedding = excluded.embedding`,
		c.ID, c.DocID, c.Title, c.Slug, c.DocType, c.ChunkIndex, c.Content, string(embedding),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk: %w", err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
