// Package llm is the provider-facing chat client used by every pipeline
// stage. It speaks the OpenRouter-compatible chat completions API with
// retries, a per-endpoint circuit breaker, streaming, and json_object mode.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Client is the uniform interface the pipeline depends on.
type Client interface {
	// Chat sends a chat completion request and waits for the full response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error)

	// ChatStream sends a chat completion request and delivers content
	// deltas to the callback as they arrive.
	ChatStream(ctx context.Context, req *ChatRequest, fn func(delta string)) (*ChatResult, error)

	// Name returns the client identifier (e.g. "openrouter").
	Name() string
}

// Taxonomy sentinels. Callers switch with errors.Is.
var (
	// ErrUnavailable is returned when retries against the provider are
	// exhausted or the circuit breaker is open.
	ErrUnavailable = errors.New("llm unavailable")

	// ErrBadFormat is returned when the model output cannot be parsed or
	// does not match the requested schema after the repair attempt.
	ErrBadFormat = errors.New("llm output format invalid")
)

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ResponseFormat requests structured output from the provider.
type ResponseFormat struct {
	// Type is "json_object" or "json_schema".
	Type string `json:"type"`
	// JSONSchema is the canonical schema, used both for the provider
	// request and local validation.
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}

// ChatRequest is a request to the LLM.
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"` // client default if empty
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Timeout     time.Duration

	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`

	RequestID string `json:"-"`
}

// ChatResult is the complete response from an LLM call.
type ChatResult struct {
	Content    string          `json:"content"`
	ParsedJSON json.RawMessage `json:"parsed_json,omitempty"` // set when ResponseFormat was requested

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	ExecutionTime time.Duration `json:"execution_time"`

	Provider  string `json:"provider"`
	ModelUsed string `json:"model_used"`
	RequestID string `json:"request_id"`
	Attempts  int    `json:"attempts"`
}

// SystemUser is a convenience constructor for the common two-message shape.
func SystemUser(system, user string) []Message {
	return []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}
