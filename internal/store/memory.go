package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memConversation struct {
	Conversation
	seq uint64
}

type memMessage struct {
	Message
	seq uint64
}

// MemoryStore keeps every record in process memory. It is safe for concurrent use;
// concurrent writers to the same record race with last-write-wins.
type MemoryStore struct {
	mu            sync.RWMutex
	seq           uint64
	now           func() time.Time
	users         map[string]User
	conversations map[string]memConversation
	messages      map[string]memMessage
	settings      map[string]Settings // Keyed by user id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:           time.Now,
		users:         make(map[string]User),
		conversations: make(map[string]memConversation),
		messages:      make(map[string]memMessage),
		settings:      make(map[string]Settings),
	}
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// User methods
func (s *MemoryStore) CreateUser(ctx context.Context, username, password string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username {
			return nil, fmt.Errorf("user %q: %w", username, ErrConflict)
		}
	}
	user := User{ID: uuid.NewString(), Username: username, Password: password}
	s.users[user.ID] = user
	return &user, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return &user, nil
}

func (s *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			user := u
			return &user, nil
		}
	}
	return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
}

// Conversation methods
func (s *MemoryStore) CreateConversation(ctx context.Context, userID, title, threadID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	conv := memConversation{
		Conversation: Conversation{
			ID:        uuid.NewString(),
			UserID:    userID,
			Title:     title,
			ThreadID:  threadID,
			CreatedAt: now,
			UpdatedAt: now,
		},
		seq: s.nextSeq(),
	}
	s.conversations[conv.ID] = conv
	out := conv.Conversation
	return &out, nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	out := conv.Conversation
	return &out, nil
}

func (s *MemoryStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	s.mu.RLock()
	matched := make([]memConversation, 0)
	for _, c := range s.conversations {
		if c.UserID == userID {
			matched = append(matched, c)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].seq > matched[j].seq
	})

	convs := make([]Conversation, len(matched))
	for i, c := range matched {
		convs[i] = c.Conversation
	}
	return convs, nil
}

func (s *MemoryStore) UpdateConversation(ctx context.Context, id string, patch ConversationPatch) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if patch.Title != nil {
		conv.Title = *patch.Title
	}
	if now := s.now(); now.After(conv.UpdatedAt) {
		conv.UpdatedAt = now
	}
	s.conversations[id] = conv
	out := conv.Conversation
	return &out, nil
}

func (s *MemoryStore) DeleteConversation(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return false, nil
	}
	delete(s.conversations, id)
	s.deleteMessagesLocked(id)
	return true, nil
}

// Message methods
func (s *MemoryStore) CreateMessage(ctx context.Context, conversationID string, role Role, content string, metadata json.RawMessage) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := memMessage{
		Message: Message{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			Role:           role,
			Content:        content,
			Metadata:       cloneRaw(metadata),
			CreatedAt:      s.now(),
		},
		seq: s.nextSeq(),
	}
	s.messages[msg.ID] = msg
	out := msg.Message
	out.Metadata = cloneRaw(msg.Metadata)
	return &out, nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	out := msg.Message
	out.Metadata = cloneRaw(msg.Metadata)
	return &out, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	s.mu.RLock()
	matched := make([]memMessage, 0)
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			matched = append(matched, m)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].seq < matched[j].seq
	})

	msgs := make([]Message, len(matched))
	for i, m := range matched {
		msgs[i] = m.Message
		msgs[i].Metadata = cloneRaw(m.Metadata)
	}
	return msgs, nil
}

func (s *MemoryStore) DeleteMessages(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteMessagesLocked(conversationID)
	return nil
}

func (s *MemoryStore) deleteMessagesLocked(conversationID string) {
	for id, m := range s.messages {
		if m.ConversationID == conversationID {
			delete(s.messages, id)
		}
	}
}

// Settings methods
func (s *MemoryStore) GetSettings(ctx context.Context, userID string) (*Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings, ok := s.settings[userID]
	if !ok {
		return nil, fmt.Errorf("settings for user %s: %w", userID, ErrNotFound)
	}
	return cloneSettings(&settings), nil
}

func (s *MemoryStore) CreateSettings(ctx context.Context, settings Settings) (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.settings[settings.UserID]; ok {
		return nil, fmt.Errorf("settings for user %s: %w", settings.UserID, ErrConflict)
	}
	now := s.now()
	settings.ID = uuid.NewString()
	settings.CreatedAt = now
	settings.UpdatedAt = now
	stored := cloneSettings(&settings)
	s.settings[settings.UserID] = *stored
	return cloneSettings(stored), nil
}

func (s *MemoryStore) UpdateSettings(ctx context.Context, userID string, patch SettingsPatch) (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, ok := s.settings[userID]
	if !ok {
		return nil, fmt.Errorf("settings for user %s: %w", userID, ErrNotFound)
	}
	patch.Apply(&settings)
	if now := s.now(); now.After(settings.UpdatedAt) {
		settings.UpdatedAt = now
	}
	s.settings[userID] = settings
	return cloneSettings(&settings), nil
}
