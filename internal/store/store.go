package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// Store is the persistence contract shared by every backend.
// Lists come back sorted and every returned record is a copy.
type Store interface {
	CreateUser(ctx context.Context, username, password string) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	CreateConversation(ctx context.Context, userID, title, threadID string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)
	UpdateConversation(ctx context.Context, id string, patch ConversationPatch) (*Conversation, error)
	DeleteConversation(ctx context.Context, id string) (bool, error)

	CreateMessage(ctx context.Context, conversationID string, role Role, content string, metadata json.RawMessage) (*Message, error)
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	DeleteMessages(ctx context.Context, conversationID string) error

	GetSettings(ctx context.Context, userID string) (*Settings, error)
	CreateSettings(ctx context.Context, settings Settings) (*Settings, error)
	UpdateSettings(ctx context.Context, userID string, patch SettingsPatch) (*Settings, error)

	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open builds the backend named by driver. dsn is ignored for the memory driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverSQLite:
		return NewSQLiteStore(dsn)
	case DriverPostgres:
		return NewPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

func cloneSettings(s *Settings) *Settings {
	out := *s
	if s.Location != nil {
		loc := *s.Location
		out.Location = &loc
	}
	return &out
}
