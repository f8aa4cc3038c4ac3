package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// PostgresStore is the durable backend. The schema is brought up to date by
// embedded migrations when the store is opened.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	migrations, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}
	if err := RunMigrations(databaseURL, migrations); err != nil {
		return nil, err
	}

	pool, err := NewPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

func RunMigrations(databaseURL string, migrationsFS fs.FS) error {
	d, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Postgres keeps microseconds; truncating up front keeps returned records equal to stored ones.
func (s *PostgresStore) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// User methods
func (s *PostgresStore) CreateUser(ctx context.Context, username, password string) (*User, error) {
	user := User{ID: uuid.NewString(), Username: username, Password: password}
	_, err := s.pool.Exec(ctx, "INSERT INTO users (id, username, password) VALUES ($1, $2, $3)", user.ID, user.Username, user.Password)
	if err != nil {
		if isPgUniqueViolation(err) {
			return nil, fmt.Errorf("user %q: %w", username, ErrConflict)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.queryUser(ctx, "SELECT id, username, password FROM users WHERE id = $1", id)
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.queryUser(ctx, "SELECT id, username, password FROM users WHERE username = $1", username)
}

func (s *PostgresStore) queryUser(ctx context.Context, query, arg string) (*User, error) {
	var user User
	if err := s.pool.QueryRow(ctx, query, arg).Scan(&user.ID, &user.Username, &user.Password); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", arg, ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// Conversation methods
func (s *PostgresStore) CreateConversation(ctx context.Context, userID, title, threadID string) (*Conversation, error) {
	now := s.timestamp()
	conv := Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		ThreadID:  threadID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.pool.Exec(ctx,
		"INSERT INTO conversations (id, user_id, title, thread_id, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)",
		conv.ID, conv.UserID, conv.Title, conv.ThreadID, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return &conv, nil
}

func scanPgConversation(row pgx.Row) (*Conversation, error) {
	var conv Conversation
	if err := row.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.ThreadID, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	conv, err := scanPgConversation(s.pool.QueryRow(ctx, "SELECT "+conversationColumns+" FROM conversations WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE user_id = $1 ORDER BY updated_at DESC, seq DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	convs := make([]Conversation, 0)
	for rows.Next() {
		conv, err := scanPgConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, *conv)
	}
	return convs, rows.Err()
}

func (s *PostgresStore) UpdateConversation(ctx context.Context, id string, patch ConversationPatch) (*Conversation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin conversation update: %w", err)
	}
	defer tx.Rollback(ctx)

	conv, err := scanPgConversation(tx.QueryRow(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if patch.Title != nil {
		conv.Title = *patch.Title
	}
	if now := s.timestamp(); now.After(conv.UpdatedAt) {
		conv.UpdatedAt = now
	}

	if _, err := tx.Exec(ctx, "UPDATE conversations SET title = $1, updated_at = $2 WHERE id = $3", conv.Title, conv.UpdatedAt, id); err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit conversation update: %w", err)
	}
	return conv, nil
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, id string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin conversation delete: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, "DELETE FROM conversations WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := tx.Exec(ctx, "DELETE FROM messages WHERE conversation_id = $1", id); err != nil {
		return false, fmt.Errorf("delete conversation messages: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit conversation delete: %w", err)
	}
	return true, nil
}

// Message methods
func (s *PostgresStore) CreateMessage(ctx context.Context, conversationID string, role Role, content string, metadata json.RawMessage) (*Message, error) {
	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Metadata:       cloneRaw(metadata),
		CreatedAt:      s.timestamp(),
	}
	var meta *string
	if len(msg.Metadata) > 0 {
		raw := string(msg.Metadata)
		meta = &raw
	}
	_, err := s.pool.Exec(ctx,
		"INSERT INTO messages (id, conversation_id, role, content, metadata, created_at) VALUES ($1, $2, $3, $4, $5, $6)",
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, meta, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &msg, nil
}

func scanPgMessage(row pgx.Row) (*Message, error) {
	var msg Message
	var role string
	var meta *string
	if err := row.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &meta, &msg.CreatedAt); err != nil {
		return nil, err
	}
	msg.Role = Role(role)
	if meta != nil && *meta != "" {
		msg.Metadata = json.RawMessage(*meta)
	}
	return &msg, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	msg, err := scanPgMessage(s.pool.QueryRow(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC, seq ASC", conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]Message, 0)
	for rows.Next() {
		msg, err := scanPgMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, *msg)
	}
	return msgs, rows.Err()
}

func (s *PostgresStore) DeleteMessages(ctx context.Context, conversationID string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM messages WHERE conversation_id = $1", conversationID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}

// Settings methods
func scanPgSettings(row pgx.Row) (*Settings, error) {
	var settings Settings
	var theme string
	var location *string
	err := row.Scan(&settings.ID, &settings.UserID, &theme, &settings.Language,
		&settings.WeatherAlerts, &settings.SoundEnabled, &location, &settings.CreatedAt, &settings.UpdatedAt)
	if err != nil {
		return nil, err
	}
	settings.Theme = Theme(theme)
	if location != nil && *location != "" && *location != "null" {
		var loc Location
		if err := json.Unmarshal([]byte(*location), &loc); err != nil {
			return nil, fmt.Errorf("decode settings location: %w", err)
		}
		settings.Location = &loc
	}
	return &settings, nil
}

func pgLocation(loc *Location) (*string, error) {
	if loc == nil {
		return nil, nil
	}
	b, err := json.Marshal(loc)
	if err != nil {
		return nil, fmt.Errorf("encode settings location: %w", err)
	}
	raw := string(b)
	return &raw, nil
}

func (s *PostgresStore) GetSettings(ctx context.Context, userID string) (*Settings, error) {
	settings, err := scanPgSettings(s.pool.QueryRow(ctx, "SELECT "+settingsColumns+" FROM user_settings WHERE user_id = $1", userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("settings for user %s: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return settings, nil
}

func (s *PostgresStore) CreateSettings(ctx context.Context, settings Settings) (*Settings, error) {
	now := s.timestamp()
	settings.ID = uuid.NewString()
	settings.CreatedAt = now
	settings.UpdatedAt = now

	location, err := pgLocation(settings.Location)
	if err != nil {
		return nil, err
	}
	_, err = s.pool.Exec(ctx,
		"INSERT INTO user_settings ("+settingsColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		settings.ID, settings.UserID, string(settings.Theme), settings.Language,
		settings.WeatherAlerts, settings.SoundEnabled, location, settings.CreatedAt, settings.UpdatedAt)
	if err != nil {
		if isPgUniqueViolation(err) {
			return nil, fmt.Errorf("settings for user %s: %w", settings.UserID, ErrConflict)
		}
		return nil, fmt.Errorf("insert settings: %w", err)
	}
	return cloneSettings(&settings), nil
}

func (s *PostgresStore) UpdateSettings(ctx context.Context, userID string, patch SettingsPatch) (*Settings, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin settings update: %w", err)
	}
	defer tx.Rollback(ctx)

	settings, err := scanPgSettings(tx.QueryRow(ctx,
		"SELECT "+settingsColumns+" FROM user_settings WHERE user_id = $1 FOR UPDATE", userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("settings for user %s: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("get settings: %w", err)
	}
	patch.Apply(settings)
	if now := s.timestamp(); now.After(settings.UpdatedAt) {
		settings.UpdatedAt = now
	}

	location, err := pgLocation(settings.Location)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx,
		"UPDATE user_settings SET theme = $1, language = $2, weather_alerts = $3, sound_enabled = $4, location = $5, updated_at = $6 WHERE user_id = $7",
		string(settings.Theme), settings.Language, settings.WeatherAlerts, settings.SoundEnabled,
		location, settings.UpdatedAt, userID)
	if err != nil {
		return nil, fmt.Errorf("update settings: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit settings update: %w", err)
	}
	return settings, nil
}
