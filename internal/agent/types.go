// Package agent talks to the hosted weather agent and relays its streamed
// replies without buffering or interpreting them.
package agent

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUpstream means the agent call failed before any response byte arrived.
	ErrUpstream = errors.New("upstream agent error")
	// ErrStream means the agent stream broke after bytes had started flowing.
	ErrStream = errors.New("agent stream interrupted")
	// ErrDownstream means the caller stopped accepting bytes.
	ErrDownstream = errors.New("downstream write failed")
	// ErrRelayBusy means no relay slot freed up in time.
	ErrRelayBusy = errors.New("relay capacity exhausted")
)

// UpstreamError carries the status of a rejected agent call. StatusCode is 0
// when the request never got a response.
type UpstreamError struct {
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("weather agent API responded with %d", e.StatusCode)
	}
	return fmt.Sprintf("weather agent unreachable: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// Turn is one prior chat turn.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the agent stream contract. Messages is kept raw so whatever the
// caller sent reaches the agent untouched.
type Request struct {
	Messages       json.RawMessage `json:"messages"`
	ThreadID       string          `json:"threadId,omitempty"`
	RunID          string          `json:"runId,omitempty"`
	MaxRetries     *int            `json:"maxRetries,omitempty"`
	MaxSteps       *int            `json:"maxSteps,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	TopP           *float64        `json:"topP,omitempty"`
	RuntimeContext json.RawMessage `json:"runtimeContext,omitempty"`
	ResourceID     string          `json:"resourceId,omitempty"`
}

// NewRequest builds a request for the given history and thread.
func NewRequest(turns []Turn, threadID string) (Request, error) {
	if turns == nil {
		turns = []Turn{}
	}
	raw, err := json.Marshal(turns)
	if err != nil {
		return Request{}, fmt.Errorf("encode turns: %w", err)
	}
	return Request{Messages: raw, ThreadID: threadID}, nil
}

// Params are the execution parameters used when a request leaves them out.
// They are advisory to the agent; nothing here retries or counts steps.
type Params struct {
	RunID           string
	ResourceID      string
	DefaultThreadID string
	MaxRetries      int
	MaxSteps        int
	Temperature     float64
	TopP            float64
}

func DefaultParams() Params {
	return Params{
		RunID:           "weatherAgent",
		ResourceID:      "weatherAgent",
		DefaultThreadID: "demo-thread",
		MaxRetries:      2,
		MaxSteps:        5,
		Temperature:     0.5,
		TopP:            1,
	}
}

// WithDefaults fills every field r leaves empty from p.
func (r Request) WithDefaults(p Params) Request {
	if len(r.Messages) == 0 || string(r.Messages) == "null" {
		r.Messages = json.RawMessage("[]")
	}
	if r.ThreadID == "" {
		r.ThreadID = p.DefaultThreadID
	}
	if r.RunID == "" {
		r.RunID = p.RunID
	}
	if r.ResourceID == "" {
		r.ResourceID = p.ResourceID
	}
	if r.MaxRetries == nil {
		v := p.MaxRetries
		r.MaxRetries = &v
	}
	if r.MaxSteps == nil {
		v := p.MaxSteps
		r.MaxSteps = &v
	}
	if r.Temperature == nil {
		v := p.Temperature
		r.Temperature = &v
	}
	if r.TopP == nil {
		v := p.TopP
		r.TopP = &v
	}
	if len(r.RuntimeContext) == 0 || string(r.RuntimeContext) == "null" {
		r.RuntimeContext = json.RawMessage("{}")
	}
	return r
}

// Validate rejects requests whose messages are not a JSON array.
func (r Request) Validate() error {
	if len(r.Messages) == 0 {
		return nil
	}
	var turns []json.RawMessage
	if err := json.Unmarshal(r.Messages, &turns); err != nil {
		return fmt.Errorf("messages must be an array: %w", err)
	}
	return nil
}
