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
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore persists records in a single SQLite file. Timestamps are stored as
// unix nanoseconds so ordering survives the round trip.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id TEXT PRIMARY KEY, -- UUID
        username TEXT UNIQUE NOT NULL,
        password TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS conversations (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT NOT NULL,
        title TEXT NOT NULL,
        thread_id TEXT NOT NULL,
        created_at INTEGER NOT NULL,
        updated_at INTEGER NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations (user_id, updated_at);

    -- No foreign key: messages for a missing conversation are stored as orphans.
    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        conversation_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        metadata TEXT,
        created_at INTEGER NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at);

    CREATE TABLE IF NOT EXISTS user_settings (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT UNIQUE NOT NULL,
        theme TEXT NOT NULL DEFAULT 'auto',
        language TEXT NOT NULL DEFAULT 'en',
        weather_alerts BOOLEAN NOT NULL DEFAULT TRUE,
        sound_enabled BOOLEAN NOT NULL DEFAULT FALSE,
        location TEXT,
        created_at INTEGER NOT NULL,
        updated_at INTEGER NOT NULL
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// User methods
func (s *SQLiteStore) CreateUser(ctx context.Context, username, password string) (*User, error) {
	user := User{ID: uuid.NewString(), Username: username, Password: password}
	_, err := s.db.ExecContext(ctx, "INSERT INTO users (id, username, password) VALUES (?, ?, ?)", user.ID, user.Username, user.Password)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("user %q: %w", username, ErrConflict)
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.queryUser(ctx, "SELECT id, username, password FROM users WHERE id = ?", id)
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.queryUser(ctx, "SELECT id, username, password FROM users WHERE username = ?", username)
}

func (s *SQLiteStore) queryUser(ctx context.Context, query string, arg string) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&user.ID, &user.Username, &user.Password)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", arg, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// Conversation methods
func (s *SQLiteStore) CreateConversation(ctx context.Context, userID, title, threadID string) (*Conversation, error) {
	now := s.now()
	conv := Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		ThreadID:  threadID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (id, user_id, title, thread_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		conv.ID, conv.UserID, conv.Title, conv.ThreadID, now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to insert conversation: %w", err)
	}
	return &conv, nil
}

const conversationColumns = "id, user_id, title, thread_id, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var createdAt, updatedAt int64
	if err := row.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.ThreadID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	conv.CreatedAt = time.Unix(0, createdAt)
	conv.UpdatedAt = time.Unix(0, updatedAt)
	return &conv, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+conversationColumns+" FROM conversations WHERE id = ?", id)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE user_id = ? ORDER BY updated_at DESC, rowid DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	convs := make([]Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		convs = append(convs, *conv)
	}
	return convs, rows.Err()
}

func (s *SQLiteStore) UpdateConversation(ctx context.Context, id string, patch ConversationPatch) (*Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin conversation update: %w", err)
	}
	defer tx.Rollback()

	conv, err := scanConversation(tx.QueryRowContext(ctx, "SELECT "+conversationColumns+" FROM conversations WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if patch.Title != nil {
		conv.Title = *patch.Title
	}
	if now := s.now(); now.After(conv.UpdatedAt) {
		conv.UpdatedAt = now
	}

	_, err = tx.ExecContext(ctx, "UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?",
		conv.Title, conv.UpdatedAt.UnixNano(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to execute conversation update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit conversation update: %w", err)
	}
	return conv, nil
}

func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin conversation delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete conversation: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return false, fmt.Errorf("failed to delete conversation messages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit conversation delete: %w", err)
	}
	return true, nil
}

// Message methods
func (s *SQLiteStore) CreateMessage(ctx context.Context, conversationID string, role Role, content string, metadata json.RawMessage) (*Message, error) {
	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Metadata:       cloneRaw(metadata),
		CreatedAt:      s.now(),
	}
	var meta sql.NullString
	if len(msg.Metadata) > 0 {
		meta = sql.NullString{String: string(msg.Metadata), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (id, conversation_id, role, content, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, meta, msg.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	return &msg, nil
}

const messageColumns = "id, conversation_id, role, content, metadata, created_at"

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var role string
	var meta sql.NullString
	var createdAt int64
	if err := row.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &meta, &createdAt); err != nil {
		return nil, err
	}
	msg.Role = Role(role)
	if meta.Valid && meta.String != "" {
		msg.Metadata = json.RawMessage(meta.String)
	}
	msg.CreatedAt = time.Unix(0, createdAt)
	return &msg, nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, rowid ASC", conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msgs = append(msgs, *msg)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) DeleteMessages(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", conversationID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

// Settings methods
const settingsColumns = "id, user_id, theme, language, weather_alerts, sound_enabled, location, created_at, updated_at"

func scanSettings(row rowScanner) (*Settings, error) {
	var settings Settings
	var theme string
	var location sql.NullString
	var createdAt, updatedAt int64
	err := row.Scan(&settings.ID, &settings.UserID, &theme, &settings.Language,
		&settings.WeatherAlerts, &settings.SoundEnabled, &location, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	settings.Theme = Theme(theme)
	if location.Valid && location.String != "" {
		var loc Location
		if err := json.Unmarshal([]byte(location.String), &loc); err != nil {
			return nil, fmt.Errorf("failed to decode settings location: %w", err)
		}
		settings.Location = &loc
	}
	settings.CreatedAt = time.Unix(0, createdAt)
	settings.UpdatedAt = time.Unix(0, updatedAt)
	return &settings, nil
}

func encodeLocation(loc *Location) (sql.NullString, error) {
	if loc == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(loc)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode settings location: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func (s *SQLiteStore) GetSettings(ctx context.Context, userID string) (*Settings, error) {
	settings, err := scanSettings(s.db.QueryRowContext(ctx, "SELECT "+settingsColumns+" FROM user_settings WHERE user_id = ?", userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("settings for user %s: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return settings, nil
}

func (s *SQLiteStore) CreateSettings(ctx context.Context, settings Settings) (*Settings, error) {
	now := s.now()
	settings.ID = uuid.NewString()
	settings.CreatedAt = now
	settings.UpdatedAt = now

	location, err := encodeLocation(settings.Location)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO user_settings ("+settingsColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		settings.ID, settings.UserID, string(settings.Theme), settings.Language,
		settings.WeatherAlerts, settings.SoundEnabled, location, now.UnixNano(), now.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("settings for user %s: %w", settings.UserID, ErrConflict)
		}
		return nil, fmt.Errorf("failed to insert settings: %w", err)
	}
	return cloneSettings(&settings), nil
}

func (s *SQLiteStore) UpdateSettings(ctx context.Context, userID string, patch SettingsPatch) (*Settings, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin settings update: %w", err)
	}
	defer tx.Rollback()

	settings, err := scanSettings(tx.QueryRowContext(ctx, "SELECT "+settingsColumns+" FROM user_settings WHERE user_id = ?", userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("settings for user %s: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	patch.Apply(settings)
	if now := s.now(); now.After(settings.UpdatedAt) {
		settings.UpdatedAt = now
	}

	location, err := encodeLocation(settings.Location)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE user_settings SET theme = ?, language = ?, weather_alerts = ?, sound_enabled = ?, location = ?, updated_at = ? WHERE user_id = ?",
		string(settings.Theme), settings.Language, settings.WeatherAlerts, settings.SoundEnabled,
		location, settings.UpdatedAt.UnixNano(), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to execute settings update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit settings update: %w", err)
	}
	return settings, nil
}
