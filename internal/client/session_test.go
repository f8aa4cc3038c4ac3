package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/AishwaryaChandel27/Weather-Agent/internal/agent"
	"github.com/AishwaryaChandel27/Weather-Agent/internal/api"
	"github.com/AishwaryaChandel27/Weather-Agent/internal/core"
	"github.com/AishwaryaChandel27/Weather-Agent/internal/store"
)

// backend starts the chat server in front of a fake weather agent.
func backend(t *testing.T, upstream http.HandlerFunc) *Client {
	t.Helper()
	logger := zaptest.NewLogger(t)

	up := httptest.NewServer(upstream)
	t.Cleanup(up.Close)

	svc := core.NewChatService(store.NewMemoryStore(), "demo-user", logger)
	relay := agent.NewRelay(agent.NewClient(up.URL, 5*time.Second), agent.RelayConfig{
		MaxConcurrent: 4,
		QueueTimeout:  time.Second,
		Params:        agent.DefaultParams(),
	}, logger)
	srv := httptest.NewServer(api.NewRouter(api.NewAPIHandler(svc, relay, logger), nil, logger))
	t.Cleanup(srv.Close)

	return New(srv.URL, srv.Client())
}

type chunkRecorder struct {
	mu     sync.Mutex
	chunks []string
}

func (r *chunkRecorder) Chunk(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, text)
}

func TestSendMessageEndToEnd(t *testing.T) {
	var agentReq struct {
		Messages []agent.Turn `json:"messages"`
		ThreadID string       `json:"threadId"`
	}
	c := backend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&agentReq))
		for _, chunk := range []string{"Tokyo is ", "sunny, ", "24°C."} {
			io.WriteString(w, chunk)
			w.(http.Flusher).Flush()
			time.Sleep(10 * time.Millisecond)
		}
	})
	ctx := context.Background()

	rec := &chunkRecorder{}
	s := NewSession(c, rec)
	require.NoError(t, s.Load(ctx))
	assert.Nil(t, s.Current())

	reply, err := s.SendMessage(ctx, "Weather in Tokyo")
	require.NoError(t, err)
	require.NotNil(t, reply)

	convs, err := c.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "Weather in Tokyo", convs[0].Title)
	assert.True(t, strings.HasPrefix(convs[0].ThreadID, "thread-"))

	msgs, err := c.ListMessages(ctx, convs[0].ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
	assert.Equal(t, "Weather in Tokyo", msgs[0].Content)
	assert.Equal(t, store.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Tokyo is sunny, 24°C.", msgs[1].Content)

	var meta store.MessageMetadata
	require.NoError(t, json.Unmarshal(msgs[1].Metadata, &meta))
	_, err = time.Parse(time.RFC3339, meta.Timestamp)
	assert.NoError(t, err)

	assert.Equal(t, "Tokyo is sunny, 24°C.", strings.Join(rec.chunks, ""))
	assert.Equal(t, []agent.Turn{{Role: "user", Content: "Weather in Tokyo"}}, agentReq.Messages)
	assert.Equal(t, convs[0].ThreadID, agentReq.ThreadID)

	assert.False(t, s.IsStreaming())
	assert.Empty(t, s.StreamingMessage())
	assert.NoError(t, s.Err())
	assert.Len(t, s.Messages(), 2)
}

func TestSendMessageSendsFullHistory(t *testing.T) {
	var mu sync.Mutex
	var seen [][]agent.Turn
	c := backend(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []agent.Turn `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		seen = append(seen, req.Messages)
		mu.Unlock()
		io.WriteString(w, "ok")
	})
	ctx := context.Background()
	s := NewSession(c, nil)

	_, err := s.SendMessage(ctx, "Weather in Tokyo")
	require.NoError(t, err)
	_, err = s.SendMessage(ctx, "And tomorrow?")
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Equal(t, []agent.Turn{
		{Role: "user", Content: "Weather in Tokyo"},
		{Role: "assistant", Content: "ok"},
		{Role: "user", Content: "And tomorrow?"},
	}, seen[1])

	convs, err := c.ListConversations(ctx)
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestSendMessageStreamFailureKeepsNoReply(t *testing.T) {
	c := backend(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "Tokyo is")
		w.(http.Flusher).Flush()
		time.Sleep(10 * time.Millisecond)
		panic(http.ErrAbortHandler)
	})
	ctx := context.Background()
	s := NewSession(c, nil)

	reply, err := s.SendMessage(ctx, "Weather in Tokyo")
	require.Error(t, err)
	assert.Nil(t, reply)
	assert.Equal(t, err, s.Err())
	assert.Empty(t, s.StreamingMessage())
	assert.False(t, s.IsStreaming())

	conv := s.Current()
	require.NotNil(t, conv)
	msgs, err := c.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
}

func TestSendMessageUpstreamRejected(t *testing.T) {
	c := backend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	s := NewSession(c, nil)

	_, err := s.SendMessage(context.Background(), "Weather in Tokyo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weather agent API responded with 502")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestSendMessageBlankIsNoop(t *testing.T) {
	c := backend(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("agent must not be called")
	})
	s := NewSession(c, nil)

	reply, err := s.SendMessage(context.Background(), "   \n")
	assert.NoError(t, err)
	assert.Nil(t, reply)

	convs, err := c.ListConversations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestSendMessageWhileStreaming(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	c := backend(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "thinking")
		w.(http.Flusher).Flush()
		close(started)
		<-release
	})
	ctx := context.Background()

	var once sync.Once
	firstChunk := make(chan struct{})
	s := NewSession(c, RendererFunc(func(string) { once.Do(func() { close(firstChunk) }) }))

	done := make(chan error, 1)
	go func() {
		_, err := s.SendMessage(ctx, "Weather in Tokyo")
		done <- err
	}()
	<-started
	<-firstChunk

	assert.True(t, s.IsStreaming())
	assert.Equal(t, "thinking", s.StreamingMessage())
	_, err := s.SendMessage(ctx, "again")
	assert.ErrorIs(t, err, ErrStreamInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, s.IsStreaming())
}

func TestLoadSelectsMostRecentConversation(t *testing.T) {
	c := backend(t, func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "ok") })
	ctx := context.Background()

	_, err := c.CreateConversation(ctx, "Paris", "thread-1")
	require.NoError(t, err)
	berlin, err := c.CreateConversation(ctx, "Berlin", "thread-2")
	require.NoError(t, err)
	_, err = c.CreateMessage(ctx, berlin.ID, store.RoleUser, "Weather in Berlin", nil)
	require.NoError(t, err)

	s := NewSession(c, nil)
	require.NoError(t, s.Load(ctx))
	require.NotNil(t, s.Current())
	assert.Equal(t, berlin.ID, s.Current().ID)
	assert.Len(t, s.Messages(), 1)
	assert.Len(t, s.Conversations(), 2)
}

func TestDeleteAndClearHistory(t *testing.T) {
	c := backend(t, func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "ok") })
	ctx := context.Background()

	s := NewSession(c, nil)
	_, err := s.SendMessage(ctx, "Weather in Tokyo")
	require.NoError(t, err)
	current := s.Current()
	require.NotNil(t, current)

	require.NoError(t, s.DeleteConversation(ctx, current.ID))
	assert.Nil(t, s.Current())
	assert.Empty(t, s.Messages())

	s.NewConversation()
	_, err = s.SendMessage(ctx, "Weather in Paris")
	require.NoError(t, err)
	s.NewConversation()
	_, err = s.SendMessage(ctx, "Weather in Rome")
	require.NoError(t, err)
	assert.Len(t, s.Conversations(), 2)

	require.NoError(t, s.ClearHistory(ctx))
	assert.Empty(t, s.Conversations())
	convs, err := c.ListConversations(ctx)
	require.NoError(t, err)
	assert.Empty(t, convs)

	err = c.DeleteConversation(ctx, current.ID)
	assert.True(t, IsNotFound(err))
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Weather in Tokyo", Title("Weather in Tokyo"))

	exact := strings.Repeat("a", 50)
	assert.Equal(t, exact, Title(exact))

	long := strings.Repeat("b", 51)
	assert.Equal(t, strings.Repeat("b", 50)+"...", Title(long))

	// Truncation counts characters, not bytes.
	snow := strings.Repeat("雪", 60)
	got := Title(snow)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("雪", 50)+"...", got)

	// Characters outside the BMP count once and are never split.
	storms := strings.Repeat("🌩", 51)
	assert.Equal(t, strings.Repeat("🌩", 50)+"...", Title(storms))
}

func TestNoVoice(t *testing.T) {
	var v VoiceInput = NoVoice{}
	assert.False(t, v.Available())
	assert.ErrorIs(t, v.Start(context.Background()), ErrVoiceUnavailable)
	assert.NoError(t, v.Stop())
	assert.Nil(t, v.Transcripts())
}
