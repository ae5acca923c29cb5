// Package history provides PostgreSQL-backed storage for conversation
// messages and membership. Messages are soft-deleted: a delete rewrites the
// row as a tombstone (content cleared, is_deleted set) so history queries
// can still render a placeholder in place of the original.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Message is one persisted conversation message. The sender's display name
// and avatar are denormalized at send time so history reads never join
// against a profile table; a later profile change leaves old rows stale,
// which is the accepted trade-off.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderName     string
	SenderAvatar   string
	Content        string
	ContentType    string
	IsDeleted      bool
	CreatedAt      time.Time
}

// Store manages messages and conversation membership in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL using the given DSN and verifies the
// connection.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("history: postgres ping failed: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("history: load migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("history: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("history: migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("history: migrate up: %w", err)
	}
	return nil
}

// NewStore creates a message store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save inserts a message row.
func (s *Store) Save(ctx context.Context, msg *Message) error {
	const query = `
		INSERT INTO messages (id, conversation_id, sender_id, sender_name, sender_avatar, content, content_type, is_deleted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.SenderName,
		msg.SenderAvatar,
		msg.Content,
		msg.ContentType,
		msg.IsDeleted,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("history: insert message: %w", err)
	}
	return nil
}

// Get retrieves a message by ID. Returns (nil, nil) if no row exists.
func (s *Store) Get(ctx context.Context, messageID string) (*Message, error) {
	const query = `
		SELECT id, conversation_id, sender_id, sender_name, sender_avatar, content, content_type, is_deleted, created_at
		FROM messages WHERE id = $1`

	var msg Message
	err := s.db.QueryRowContext(ctx, query, messageID).Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.SenderName,
		&msg.SenderAvatar,
		&msg.Content,
		&msg.ContentType,
		&msg.IsDeleted,
		&msg.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: get message: %w", err)
	}
	return &msg, nil
}

// Tombstone rewrites a message as deleted: the content is cleared and the
// is_deleted flag set. The row itself is retained.
func (s *Store) Tombstone(ctx context.Context, messageID string) error {
	const query = `UPDATE messages SET content = '', is_deleted = TRUE WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, messageID)
	if err != nil {
		return fmt.Errorf("history: tombstone message: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("history: tombstone: message %s not found", messageID)
	}
	return nil
}

// ListByConversation returns up to limit messages for a conversation in
// reverse chronological order, starting before the given time (use the zero
// time for the newest page).
func (s *Store) ListByConversation(ctx context.Context, conversationID string, before time.Time, limit int) ([]Message, error) {
	if before.IsZero() {
		before = time.Now().Add(time.Minute)
	}
	const query = `
		SELECT id, conversation_id, sender_id, sender_name, sender_avatar, content, content_type, is_deleted, created_at
		FROM messages
		WHERE conversation_id = $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, conversationID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.SenderID,
			&msg.SenderName,
			&msg.SenderAvatar,
			&msg.Content,
			&msg.ContentType,
			&msg.IsDeleted,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("history: scan message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: list messages: %w", err)
	}
	return out, nil
}

// IsParticipant reports whether the user belongs to the conversation.
func (s *Store) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		)`

	var ok bool
	if err := s.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("history: participant check: %w", err)
	}
	return ok, nil
}

// AddParticipant records conversation membership. Adding an existing
// participant is a no-op.
func (s *Store) AddParticipant(ctx context.Context, conversationID, userID string) error {
	const query = `
		INSERT INTO conversation_participants (conversation_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, conversationID, userID); err != nil {
		return fmt.Errorf("history: add participant: %w", err)
	}
	return nil
}
