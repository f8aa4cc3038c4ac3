package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/AishwaryaChandel27/Weather-Agent/internal/agent"
	"github.com/AishwaryaChandel27/Weather-Agent/internal/store"
)

const titleLimit = 50

var (
	ErrStreamInProgress = errors.New("a reply is still streaming")
	ErrEmptyReply       = errors.New("weather agent sent an empty reply")
)

// Renderer observes a streaming reply as it is assembled.
type Renderer interface {
	Chunk(text string)
}

// RendererFunc adapts a plain function to Renderer.
type RendererFunc func(text string)

func (f RendererFunc) Chunk(text string) { f(text) }

// Title derives a conversation title from the first message of a chat.
func Title(content string) string {
	if utf8.RuneCountInString(content) <= titleLimit {
		return content
	}
	runes := []rune(content)
	return string(runes[:titleLimit]) + "..."
}

// Session holds the chat state of one client: the selected conversation, its
// loaded messages and the reply being streamed, if any.
type Session struct {
	api      *Client
	renderer Renderer
	now      func() time.Time

	mu            sync.Mutex
	conversations []store.Conversation
	current       *store.Conversation
	messages      []store.Message
	streaming     bool
	partial       strings.Builder
	err           error
}

// NewSession returns a session backed by api. renderer may be nil.
func NewSession(api *Client, renderer Renderer) *Session {
	if renderer == nil {
		renderer = RendererFunc(func(string) {})
	}
	return &Session{api: api, renderer: renderer, now: time.Now}
}

// Load fetches the conversation list and selects the most recent conversation
// when none is selected yet.
func (s *Session) Load(ctx context.Context) error {
	convs, err := s.api.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}

	s.mu.Lock()
	s.conversations = convs
	selectFirst := s.current == nil && len(convs) > 0
	s.mu.Unlock()

	if selectFirst {
		return s.SelectConversation(ctx, convs[0].ID)
	}
	return nil
}

func (s *Session) SelectConversation(ctx context.Context, id string) error {
	conv, err := s.api.GetConversation(ctx, id)
	if err != nil {
		return fmt.Errorf("select conversation: %w", err)
	}
	msgs, err := s.api.ListMessages(ctx, id)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = conv
	s.messages = msgs
	return nil
}

// NewConversation deselects the current conversation. The next SendMessage
// creates a fresh one.
func (s *Session) NewConversation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.messages = nil
}

func (s *Session) DeleteConversation(ctx context.Context, id string) error {
	if err := s.api.DeleteConversation(ctx, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.conversations[:0]
	for _, c := range s.conversations {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	s.conversations = kept
	if s.current != nil && s.current.ID == id {
		s.current = nil
		s.messages = nil
	}
	return nil
}

// ClearHistory deletes every loaded conversation.
func (s *Session) ClearHistory(ctx context.Context) error {
	for _, c := range s.Conversations() {
		if err := s.DeleteConversation(ctx, c.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) Conversations() []store.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Conversation(nil), s.conversations...)
}

// Current returns the selected conversation or nil.
func (s *Session) Current() *store.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	c := *s.current
	return &c
}

func (s *Session) Messages() []store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Message(nil), s.messages...)
}

// StreamingMessage returns the text received so far for the reply in flight.
func (s *Session) StreamingMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partial.String()
}

func (s *Session) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Err returns the failure of the last turn, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// SendMessage runs one chat turn: it makes sure a conversation exists, stores
// the user message, streams the agent reply through the renderer and stores
// the assembled reply. A failed stream leaves no assistant message behind.
// Blank input is ignored and returns (nil, nil).
func (s *Session) SendMessage(ctx context.Context, content string) (*store.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	s.mu.Lock()
	if s.streaming {
		s.mu.Unlock()
		return nil, ErrStreamInProgress
	}
	s.streaming = true
	s.err = nil
	s.partial.Reset()
	conv := s.current
	s.mu.Unlock()

	reply, err := s.turn(ctx, conv, content)

	s.mu.Lock()
	s.streaming = false
	s.partial.Reset()
	s.err = err
	s.mu.Unlock()
	return reply, err
}

func (s *Session) turn(ctx context.Context, conv *store.Conversation, content string) (*store.Message, error) {
	if conv == nil {
		threadID := fmt.Sprintf("thread-%d", s.now().UnixMilli())
		created, err := s.api.CreateConversation(ctx, Title(content), threadID)
		if err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		s.mu.Lock()
		s.conversations = append([]store.Conversation{*created}, s.conversations...)
		s.current = created
		s.messages = nil
		s.mu.Unlock()
		conv = created
	}

	userMsg, err := s.api.CreateMessage(ctx, conv.ID, store.RoleUser, content, nil)
	if err != nil {
		return nil, fmt.Errorf("store user message: %w", err)
	}

	s.mu.Lock()
	s.messages = append(s.messages, *userMsg)
	turns := make([]agent.Turn, 0, len(s.messages))
	for _, m := range s.messages {
		turns = append(turns, agent.Turn{Role: string(m.Role), Content: m.Content})
	}
	s.mu.Unlock()

	req, err := agent.NewRequest(turns, conv.ThreadID)
	if err != nil {
		return nil, err
	}
	full, err := s.stream(ctx, req)
	if err != nil {
		return nil, err
	}
	if full == "" {
		return nil, ErrEmptyReply
	}

	meta := store.MessageMetadata{Timestamp: s.now().UTC().Format(time.RFC3339)}
	reply, err := s.api.CreateMessage(ctx, conv.ID, store.RoleAssistant, full, meta)
	if err != nil {
		return nil, fmt.Errorf("store assistant message: %w", err)
	}

	s.mu.Lock()
	s.messages = append(s.messages, *reply)
	s.mu.Unlock()
	return reply, nil
}

// stream consumes the agent reply and returns the assembled text.
func (s *Session) stream(ctx context.Context, req agent.Request) (string, error) {
	ts, err := s.api.StreamAgent(ctx, req)
	if err != nil {
		return "", err
	}
	defer ts.Close()

	for {
		text, err := ts.Next()
		if errors.Is(err, io.EOF) {
			s.mu.Lock()
			full := s.partial.String()
			s.mu.Unlock()
			return full, nil
		}
		if err != nil {
			return "", err
		}
		s.mu.Lock()
		s.partial.WriteString(text)
		s.mu.Unlock()
		s.renderer.Chunk(text)
	}
}
