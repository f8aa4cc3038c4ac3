package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/AishwaryaChandel27/Weather-Agent/internal/store"
)

// ValidationError reports malformed input to a CRUD operation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// DefaultSettings are written the first time a user's settings are read.
func DefaultSettings(userID string) store.Settings {
	return store.Settings{
		UserID:        userID,
		Theme:         store.ThemeAuto,
		Language:      "en",
		WeatherAlerts: true,
		SoundEnabled:  false,
	}
}

// ChatService applies validation and demo-user scoping on top of a Store.
type ChatService struct {
	store  store.Store
	userID string
	logger *zap.Logger
}

func NewChatService(s store.Store, userID string, logger *zap.Logger) *ChatService {
	return &ChatService{
		store:  s,
		userID: userID,
		logger: logger,
	}
}

func (s *ChatService) UserID() string {
	return s.userID
}

func (s *ChatService) ListConversations(ctx context.Context) ([]store.Conversation, error) {
	convs, err := s.store.ListConversations(ctx, s.userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if convs == nil {
		convs = []store.Conversation{}
	}
	return convs, nil
}

func (s *ChatService) CreateConversation(ctx context.Context, title, threadID string) (*store.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, invalid("title", "required")
	}
	if strings.TrimSpace(threadID) == "" {
		return nil, invalid("threadId", "required")
	}

	conv, err := s.store.CreateConversation(ctx, s.userID, title, threadID)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	s.logger.Debug("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("thread_id", conv.ThreadID))
	return conv, nil
}

// GetConversation returns store.ErrNotFound for conversations of other users.
func (s *ChatService) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if conv.UserID != s.userID {
		return nil, fmt.Errorf("get conversation %s: %w", id, store.ErrNotFound)
	}
	return conv, nil
}

func (s *ChatService) RenameConversation(ctx context.Context, id, title string) (*store.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, invalid("title", "required")
	}
	if _, err := s.GetConversation(ctx, id); err != nil {
		return nil, err
	}
	conv, err := s.store.UpdateConversation(ctx, id, store.ConversationPatch{Title: &title})
	if err != nil {
		return nil, fmt.Errorf("rename conversation: %w", err)
	}
	return conv, nil
}

// DeleteConversation removes the conversation and its messages.
func (s *ChatService) DeleteConversation(ctx context.Context, id string) error {
	if _, err := s.GetConversation(ctx, id); err != nil {
		return err
	}
	deleted, err := s.store.DeleteConversation(ctx, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if !deleted {
		return fmt.Errorf("delete conversation %s: %w", id, store.ErrNotFound)
	}
	s.logger.Debug("conversation deleted", zap.String("conversation_id", id))
	return nil
}

func (s *ChatService) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	return msgs, nil
}

// CreateMessage does not check that the conversation exists; a message for an
// unknown conversation is stored as an orphan.
func (s *ChatService) CreateMessage(ctx context.Context, conversationID string, role store.Role, content string, metadata json.RawMessage) (*store.Message, error) {
	if !role.Valid() {
		return nil, invalid("role", fmt.Sprintf("must be %q or %q", store.RoleUser, store.RoleAssistant))
	}
	if content == "" {
		return nil, invalid("content", "required")
	}
	if len(metadata) > 0 && !json.Valid(metadata) {
		return nil, invalid("metadata", "must be valid JSON")
	}
	if string(metadata) == "null" {
		metadata = nil
	}

	msg, err := s.store.CreateMessage(ctx, conversationID, role, content, metadata)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return msg, nil
}

// Settings returns the demo user's settings, creating the defaults on first read.
func (s *ChatService) Settings(ctx context.Context) (*store.Settings, error) {
	settings, err := s.store.GetSettings(ctx, s.userID)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get settings: %w", err)
	}

	settings, err = s.store.CreateSettings(ctx, DefaultSettings(s.userID))
	if errors.Is(err, store.ErrConflict) {
		// Lost a race with another first read.
		settings, err = s.store.GetSettings(ctx, s.userID)
	}
	if err != nil {
		return nil, fmt.Errorf("create default settings: %w", err)
	}
	s.logger.Info("default settings created", zap.String("user_id", s.userID))
	return settings, nil
}

// UpdateSettings fails with store.ErrNotFound when no settings exist yet.
func (s *ChatService) UpdateSettings(ctx context.Context, patch store.SettingsPatch) (*store.Settings, error) {
	if patch.Theme != nil && !patch.Theme.Valid() {
		return nil, invalid("theme", fmt.Sprintf("must be one of %q, %q, %q", store.ThemeLight, store.ThemeDark, store.ThemeAuto))
	}
	if patch.Language != nil && strings.TrimSpace(*patch.Language) == "" {
		return nil, invalid("language", "must not be empty")
	}

	settings, err := s.store.UpdateSettings(ctx, s.userID, patch)
	if err != nil {
		return nil, fmt.Errorf("update settings: %w", err)
	}
	return settings, nil
}
