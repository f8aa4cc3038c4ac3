package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/AishwaryaChandel27/Weather-Agent/internal/store"
)

func newTestService(t *testing.T) (*ChatService, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	return NewChatService(s, "demo-user", zaptest.NewLogger(t)), s
}

func TestCreateConversationValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateConversation(ctx, "  ", "thread-1")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "title", verr.Field)

	_, err = svc.CreateConversation(ctx, "Tokyo", "")
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "threadId", verr.Field)

	conv, err := svc.CreateConversation(ctx, "Tokyo", "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "demo-user", conv.UserID)
	assert.Equal(t, "thread-1", conv.ThreadID)
}

func TestConversationsScopedToUser(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	other, err := s.CreateConversation(ctx, "someone-else", "Paris", "thread-x")
	require.NoError(t, err)
	mine, err := svc.CreateConversation(ctx, "Tokyo", "thread-1")
	require.NoError(t, err)

	convs, err := svc.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, mine.ID, convs[0].ID)

	_, err = svc.GetConversation(ctx, other.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteConversation(ctx, other.ID), store.ErrNotFound)
}

func TestListConversationsEmptyIsNotNil(t *testing.T) {
	svc, _ := newTestService(t)
	convs, err := svc.ListConversations(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, convs)
	assert.Empty(t, convs)
}

func TestRenameConversation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "Tokyo", "thread-1")
	require.NoError(t, err)

	renamed, err := svc.RenameConversation(ctx, conv.ID, "Tokyo trip")
	require.NoError(t, err)
	assert.Equal(t, "Tokyo trip", renamed.Title)
	assert.Equal(t, conv.ThreadID, renamed.ThreadID)
	assert.False(t, renamed.UpdatedAt.Before(conv.UpdatedAt))

	_, err = svc.RenameConversation(ctx, conv.ID, "")
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))

	_, err = svc.RenameConversation(ctx, "missing", "x")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteConversationCascades(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "Tokyo", "thread-1")
	require.NoError(t, err)
	_, err = svc.CreateMessage(ctx, conv.ID, store.RoleUser, "Weather in Tokyo", nil)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteConversation(ctx, conv.ID))

	_, err = svc.GetConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	msgs, err := svc.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	assert.ErrorIs(t, svc.DeleteConversation(ctx, conv.ID), store.ErrNotFound)
}

func TestCreateMessageValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		role     store.Role
		content  string
		metadata json.RawMessage
		field    string
	}{
		{"bad role", "system", "hi", nil, "role"},
		{"empty content", store.RoleUser, "", nil, "content"},
		{"broken metadata", store.RoleAssistant, "hi", json.RawMessage(`{"timestamp":`), "metadata"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateMessage(ctx, "conv", tt.role, tt.content, tt.metadata)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	msg, err := svc.CreateMessage(ctx, "conv", store.RoleAssistant, "Sunny", json.RawMessage(`{"timestamp":"2024-05-01T12:00:00Z"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"timestamp":"2024-05-01T12:00:00Z"}`, string(msg.Metadata))

	msg, err = svc.CreateMessage(ctx, "conv", store.RoleUser, "hi", json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Nil(t, msg.Metadata)
}

func TestSettingsDefaultsAndPatch(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpdateSettings(ctx, store.SettingsPatch{})
	assert.ErrorIs(t, err, store.ErrNotFound)

	settings, err := svc.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.ThemeAuto, settings.Theme)
	assert.Equal(t, "en", settings.Language)
	assert.True(t, settings.WeatherAlerts)
	assert.False(t, settings.SoundEnabled)
	assert.Nil(t, settings.Location)

	dark := store.ThemeDark
	updated, err := svc.UpdateSettings(ctx, store.SettingsPatch{Theme: &dark})
	require.NoError(t, err)
	assert.Equal(t, store.ThemeDark, updated.Theme)
	assert.Equal(t, "en", updated.Language)
	assert.Equal(t, settings.ID, updated.ID)

	again, err := svc.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.ThemeDark, again.Theme)
}

func TestUpdateSettingsValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Settings(ctx)
	require.NoError(t, err)

	neon := store.Theme("neon")
	_, err = svc.UpdateSettings(ctx, store.SettingsPatch{Theme: &neon})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "theme", verr.Field)

	blank := " "
	_, err = svc.UpdateSettings(ctx, store.SettingsPatch{Language: &blank})
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "language", verr.Field)
}

func TestSettingsConcurrentFirstRead(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const readers = 16
	ids := make([]string, readers)
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			settings, err := svc.Settings(ctx)
			if assert.NoError(t, err) {
				ids[i] = settings.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

// racingStore reports no settings on the first read, as if another request
// created them in between.
type racingStore struct {
	store.Store
	once sync.Once
}

func (r *racingStore) GetSettings(ctx context.Context, userID string) (*store.Settings, error) {
	first := false
	r.once.Do(func() { first = true })
	if first {
		if _, err := r.Store.CreateSettings(ctx, DefaultSettings(userID)); err != nil {
			return nil, err
		}
		return nil, store.ErrNotFound
	}
	return r.Store.GetSettings(ctx, userID)
}

func TestSettingsConflictRereads(t *testing.T) {
	rs := &racingStore{Store: store.NewMemoryStore()}
	svc := NewChatService(rs, "demo-user", zaptest.NewLogger(t))

	settings, err := svc.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.ThemeAuto, settings.Theme)
}
