// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every pooled connection to ":memory:" would get its own database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			subject TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'poster',
			push_token TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			application_id TEXT NOT NULL,
			poster_id TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			last_message_id TEXT,
			last_message_at DATETIME,
			poster_last_read_at DATETIME,
			provider_last_read_at DATETIME,
			active INTEGER NOT NULL DEFAULT 1,
			archived INTEGER NOT NULL DEFAULT 0,
			blocked INTEGER NOT NULL DEFAULT 0,
			blocked_by TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_application
			ON conversations(application_id);

		CREATE INDEX IF NOT EXISTS idx_conversations_poster
			ON conversations(poster_id);

		CREATE INDEX IF NOT EXISTS idx_conversations_provider
			ON conversations(provider_id);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			content TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'text',
			reply_to_id TEXT,
			status TEXT NOT NULL DEFAULT 'sent',
			created_at DATETIME NOT NULL,
			edited_at DATETIME,
			delivered_at DATETIME,
			read_at DATETIME,
			deleted INTEGER NOT NULL DEFAULT 0,
			deleted_at DATETIME,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_status
			ON messages(conversation_id, status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, subject, display_name, role, push_token, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Subject, user.DisplayName, user.Role, user.PushToken, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, subject, display_name, role, push_token, created_at
		FROM users WHERE id = ?`, id))
}

func (s *SQLiteStore) GetUserBySubject(ctx context.Context, subject string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, subject, display_name, role, push_token, created_at
		FROM users WHERE subject = ?`, subject))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Subject, &u.DisplayName, &u.Role, &u.PushToken, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return &u, nil
}

// --- Conversations ---

const conversationColumns = `id, application_id, poster_id, provider_id,
	last_message_id, last_message_at, poster_last_read_at, provider_last_read_at,
	active, archived, blocked, blocked_by, created_at, updated_at`

func (s *SQLiteStore) GetOrCreateConversation(ctx context.Context, applicationID, posterID, providerID string) (*Conversation, error) {
	conv, err := s.getConversationByApplication(ctx, applicationID)
	if err == nil {
		return conv, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	now := time.Now().UTC()
	conv = &Conversation{
		ID:            uuid.New().String(),
		ApplicationID: applicationID,
		PosterID:      posterID,
		ProviderID:    providerID,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, application_id, poster_id, provider_id, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)`,
		conv.ID, conv.ApplicationID, conv.PosterID, conv.ProviderID, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		// A concurrent request may have won the unique-index race on
		// application_id. Re-read before reporting failure.
		if existing, lookupErr := s.getConversationByApplication(ctx, applicationID); lookupErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}

	return conv, nil
}

func (s *SQLiteStore) getConversationByApplication(ctx context.Context, applicationID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE application_id = ?`, applicationID)
	return scanConversation(row)
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	err := row.Scan(
		&c.ID, &c.ApplicationID, &c.PosterID, &c.ProviderID,
		&c.LastMessageID, &c.LastMessageAt, &c.PosterLastReadAt, &c.ProviderLastReadAt,
		&c.Active, &c.Archived, &c.Blocked, &c.BlockedBy, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]*ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`,
			(SELECT COUNT(*) FROM messages m
				WHERE m.conversation_id = conversations.id
				  AND m.sender_id != ?
				  AND m.status != ?
				  AND m.deleted = 0) AS unread
		FROM conversations
		WHERE poster_id = ? OR provider_id = ?
		ORDER BY COALESCE(last_message_at, created_at) DESC`,
		userID, StatusRead, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	var out []*ConversationSummary
	for rows.Next() {
		var c Conversation
		var unread int
		err := rows.Scan(
			&c.ID, &c.ApplicationID, &c.PosterID, &c.ProviderID,
			&c.LastMessageID, &c.LastMessageAt, &c.PosterLastReadAt, &c.ProviderLastReadAt,
			&c.Active, &c.Archived, &c.Blocked, &c.BlockedBy, &c.CreatedAt, &c.UpdatedAt,
			&unread)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		out = append(out, &ConversationSummary{Conversation: &c, UnreadCount: unread})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Last-message lookups happen after the cursor is drained so they don't
	// contend for the connection.
	for _, summary := range out {
		if summary.Conversation.LastMessageID == nil {
			continue
		}
		msg, err := s.GetMessage(ctx, *summary.Conversation.LastMessageID)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		summary.LastMessage = msg
	}
	return out, nil
}

func (s *SQLiteStore) SetConversationBlocked(ctx context.Context, id, blockedBy string, blocked bool) error {
	var by any
	if blocked {
		by = blockedBy
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET blocked = ?, blocked_by = ?, updated_at = ? WHERE id = ?`,
		blocked, by, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating conversation block flag: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) SetConversationArchived(ctx context.Context, id string, archived bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET archived = ?, updated_at = ? WHERE id = ?`,
		archived, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating conversation archive flag: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Messages ---

const messageColumns = `id, conversation_id, sender_id, content, type, reply_to_id,
	status, created_at, edited_at, delivered_at, read_at, deleted, deleted_at`

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Type == "" {
		msg.Type = TypeText
	}
	if msg.Status == "" {
		msg.Status = StatusSent
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, type, reply_to_id, status, created_at, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.Type, msg.ReplyToID, msg.Status, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE conversations SET last_message_id = ?, last_message_at = ?, updated_at = ? WHERE id = ?`,
		msg.ID, msg.CreatedAt, msg.CreatedAt, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("updating conversation pointer: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	err := row.Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Type, &m.ReplyToID,
		&m.Status, &m.CreatedAt, &m.EditedAt, &m.DeliveredAt, &m.ReadAt, &m.Deleted, &m.DeletedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}
	return &m, nil
}

// ListMessages returns non-deleted messages oldest-first. Cursor pagination
// (Before/After) takes precedence over Offset. The comparison against the
// anchor's creation timestamp is strict, so the anchor is excluded.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, page Page) ([]*Message, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	var (
		query    string
		args     []any
		reversed bool // true when the query fetched newest-first
	)

	switch {
	case page.Before != "":
		anchor, err := s.GetMessage(ctx, page.Before)
		if err != nil {
			return nil, err
		}
		query = `SELECT ` + messageColumns + ` FROM messages
			WHERE conversation_id = ? AND deleted = 0 AND created_at < ?
			ORDER BY created_at DESC, id DESC LIMIT ?`
		args = []any{conversationID, anchor.CreatedAt, limit}
		reversed = true

	case page.After != "":
		anchor, err := s.GetMessage(ctx, page.After)
		if err != nil {
			return nil, err
		}
		query = `SELECT ` + messageColumns + ` FROM messages
			WHERE conversation_id = ? AND deleted = 0 AND created_at > ?
			ORDER BY created_at ASC, id ASC LIMIT ?`
		args = []any{conversationID, anchor.CreatedAt, limit}

	default:
		query = `SELECT ` + messageColumns + ` FROM messages
			WHERE conversation_id = ? AND deleted = 0
			ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
		args = []any{conversationID, limit, page.Offset}
		reversed = true
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if reversed {
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}
	return msgs, nil
}

func (s *SQLiteStore) UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET content = ?, edited_at = ? WHERE id = ? AND deleted = 0`,
		content, editedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("updating message content: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) SoftDeleteMessage(ctx context.Context, id string, deletedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET deleted = 1, deleted_at = ? WHERE id = ? AND deleted = 0`,
		deletedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("soft-deleting message: %w", err)
	}
	return requireRow(res)
}

// --- Delivery transitions ---

func (s *SQLiteStore) MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]string, error) {
	at = at.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	conv, err := scanConversation(tx.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, conversationID))
	if err != nil {
		return nil, err
	}

	lastReadColumn := "poster_last_read_at"
	if readerID == conv.ProviderID {
		lastReadColumn = "provider_last_read_at"
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET `+lastReadColumn+` = ?, updated_at = ? WHERE id = ?`,
		at, at, conversationID)
	if err != nil {
		return nil, fmt.Errorf("updating last-read timestamp: %w", err)
	}

	// Select-then-update inside the transaction so the returned ids exactly
	// match the rows transitioned, even under concurrent writers.
	ids, err := collectIDs(tx.QueryContext(ctx, `
		SELECT id FROM messages
		WHERE conversation_id = ? AND sender_id != ? AND status IN (?, ?) AND deleted = 0
		ORDER BY created_at ASC`,
		conversationID, readerID, StatusSent, StatusDelivered))
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	args := make([]any, 0, len(ids)+3)
	args = append(args, StatusRead, at, at)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE messages SET status = ?, read_at = ?, delivered_at = COALESCE(delivered_at, ?)
		WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("transitioning messages to read: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *SQLiteStore) MarkAllDelivered(ctx context.Context, userID string, at time.Time) (map[string][]string, error) {
	at = at.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT m.id, m.conversation_id
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE (c.poster_id = ? OR c.provider_id = ?)
		  AND m.sender_id != ?
		  AND m.status = ?
		  AND m.deleted = 0
		ORDER BY m.created_at ASC`,
		userID, userID, userID, StatusSent)
	if err != nil {
		return nil, fmt.Errorf("querying undelivered messages: %w", err)
	}

	affected := make(map[string][]string)
	var ids []string
	for rows.Next() {
		var msgID, convID string
		if err := rows.Scan(&msgID, &convID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning undelivered message: %w", err)
		}
		affected[convID] = append(affected[convID], msgID)
		ids = append(ids, msgID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return affected, tx.Commit()
	}

	args := make([]any, 0, len(ids)+2)
	args = append(args, StatusDelivered, at)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE messages SET status = ?, delivered_at = ?
		WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("transitioning messages to delivered: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return affected, nil
}

func collectIDs(rows *sql.Rows, err error) ([]string, error) {
	if err != nil {
		return nil, fmt.Errorf("querying ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
