// Package client is a Go consumer of the chat backend: typed REST calls, an
// incremental text decoder for agent replies and a Session that drives one
// chat turn end to end.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/AishwaryaChandel27/Weather-Agent/internal/agent"
	"github.com/AishwaryaChandel27/Weather-Agent/internal/store"
)

// APIError is a non-success reply from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server responded with %d", e.StatusCode)
	}
	return fmt.Sprintf("server responded with %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a client for the backend at baseURL. httpClient must not set a
// Timeout, since that would cut long agent replies; nil uses a default client.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func readAPIError(resp *http.Response) *APIError {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if json.Unmarshal(raw, &body) != nil {
		body.Error = strings.TrimSpace(string(raw))
	}
	return &APIError{StatusCode: resp.StatusCode, Message: body.Error}
}

// do sends a JSON request and decodes a JSON reply into out, if non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil)
}

func (c *Client) ListConversations(ctx context.Context) ([]store.Conversation, error) {
	var convs []store.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

func (c *Client) CreateConversation(ctx context.Context, title, threadID string) (*store.Conversation, error) {
	body := map[string]string{"title": title, "threadId": threadID}
	var conv store.Conversation
	if err := c.do(ctx, http.MethodPost, "/api/conversations", body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	var conv store.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations/"+id, nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) RenameConversation(ctx context.Context, id, title string) (*store.Conversation, error) {
	var conv store.Conversation
	if err := c.do(ctx, http.MethodPatch, "/api/conversations/"+id, map[string]string{"title": title}, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/conversations/"+id, nil, nil)
}

func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	var msgs []store.Message
	if err := c.do(ctx, http.MethodGet, "/api/conversations/"+conversationID+"/messages", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// CreateMessage stores a message. metadata may be nil.
func (c *Client) CreateMessage(ctx context.Context, conversationID string, role store.Role, content string, metadata any) (*store.Message, error) {
	body := struct {
		Role     store.Role `json:"role"`
		Content  string     `json:"content"`
		Metadata any        `json:"metadata,omitempty"`
	}{role, content, metadata}

	var msg store.Message
	if err := c.do(ctx, http.MethodPost, "/api/conversations/"+conversationID+"/messages", body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) GetSettings(ctx context.Context) (*store.Settings, error) {
	var settings store.Settings
	if err := c.do(ctx, http.MethodGet, "/api/settings", nil, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (c *Client) UpdateSettings(ctx context.Context, patch store.SettingsPatch) (*store.Settings, error) {
	var settings store.Settings
	if err := c.do(ctx, http.MethodPatch, "/api/settings", patch, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// StreamAgent opens a relayed agent call. The caller must Close the stream.
func (c *Client) StreamAgent(ctx context.Context, req agent.Request) (*TextStream, error) {
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/weather-agent/stream", req)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("weather agent stream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("weather agent API responded with %d: %w", resp.StatusCode, readAPIError(resp))
	}
	return NewTextStream(resp.Body), nil
}
