// Package memory owns conversational state: the relational store for users,
// conversations and messages, and the bounded history window the pipeline
// consumes.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/MediqAI/mediq-mvp/engine/domain"
)

// Conversation is a stored conversation header.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists users, conversations, and messages in SQLite.
type Store struct {
	db *sql.DB
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id),
	title      TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	role            TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
	content         TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS ix_conversation_user_id ON conversations(user_id);
CREATE INDEX IF NOT EXISTS ix_message_conversation_id ON messages(conversation_id);
`

// NewStore opens (creating if needed) the conversation database at path.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open %s: %w", path, err)
	}
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// EnsureUser creates the user if absent. Idempotent.
func (s *Store) EnsureUser(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		userID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		userID, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("memory: ensure user: %w", err)
	}
	return userID, nil
}

// CreateConversation starts a new conversation for a user.
func (s *Store) CreateConversation(ctx context.Context, userID string) (Conversation, error) {
	conv := Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES (?, ?, NULL, ?, ?)`,
		conv.ID, conv.UserID, conv.CreatedAt, conv.CreatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("memory: create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation fetches a conversation header.
func (s *Store) GetConversation(ctx context.Context, id string) (Conversation, error) {
	var conv Conversation
	var title sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at FROM conversations WHERE id = ?`, id).
		Scan(&conv.ID, &conv.UserID, &title, &conv.CreatedAt)
	if err == sql.ErrNoRows {
		return Conversation{}, fmt.Errorf("memory: %w: %s", domain.ErrConversationUnknown, id)
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("memory: get conversation: %w", err)
	}
	conv.Title = title.String
	return conv, nil
}

// SetTitle records a conversation title.
func (s *Store) SetTitle(ctx context.Context, conversationID, title string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().UTC(), conversationID)
	if err != nil {
		return fmt.Errorf("memory: set title: %w", err)
	}
	return nil
}

// AddMessage appends a turn to a conversation.
func (s *Store) AddMessage(ctx context.Context, conversationID string, role domain.Role, content string) error {
	if err := domain.ValidateRole(role); err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), conversationID, string(role), content, now)
	if err != nil {
		return fmt.Errorf("memory: add message: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID)
	if err != nil {
		return fmt.Errorf("memory: touch conversation: %w", err)
	}
	return nil
}

// Message is a stored conversation turn with its metadata.
type Message struct {
	ID        string      `json:"id"`
	Role      domain.Role `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// ListConversations returns a user's conversations, most recently active
// first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, created_at FROM conversations
		 WHERE user_id = ? ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("memory: list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var conv Conversation
		var title sql.NullString
		if err := rows.Scan(&conv.ID, &conv.UserID, &title, &conv.CreatedAt); err != nil {
			return nil, fmt.Errorf("memory: scan conversation: %w", err)
		}
		conv.Title = title.String
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: rows: %w", err)
	}
	return out, nil
}

// Messages returns the full message history of a conversation, oldest first.
func (s *Store) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, created_at FROM messages
		 WHERE conversation_id = ? ORDER BY rowid ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("memory: messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("memory: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: rows: %w", err)
	}
	return out, nil
}

// RecentTurns returns the last limit turns of a conversation, oldest first.
// A conversation with no messages yields an empty slice, not an error.
func (s *Store) RecentTurns(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM messages WHERE conversation_id = ?
		 ORDER BY rowid DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: recent turns: %w", err)
	}
	defer rows.Close()

	var newest []domain.Turn
	for rows.Next() {
		var t domain.Turn
		if err := rows.Scan(&t.Role, &t.Content); err != nil {
			return nil, fmt.Errorf("memory: scan turn: %w", err)
		}
		newest = append(newest, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: rows: %w", err)
	}

	// Reverse to oldest-first.
	for i, j := 0, len(newest)-1; i < j; i, j = i+1, j-1 {
		newest[i], newest[j] = newest[j], newest[i]
	}
	return newest, nil
}
