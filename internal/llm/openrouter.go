package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

const (
	OpenRouterName    = "openrouter"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// OpenRouterConfig holds configuration for the OpenRouter client.
type OpenRouterConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration

	MaxRetries   int           // max retry attempts (default: 3)
	RetryBackoff time.Duration // base delay between retries (default: 500ms)

	// Circuit breaker: consecutive failures before the breaker opens, and
	// how long it stays open before a probe request is allowed.
	BreakerFailures int
	BreakerCooldown time.Duration
}

// OpenRouterClient implements Client against the OpenRouter chat API.
// Safe for concurrent callers; the circuit breakers are process-wide.
type OpenRouterClient struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client

	maxRetries   int
	retryBackoff time.Duration

	// One breaker per endpoint path.
	chatBreaker   *gobreaker.CircuitBreaker
	streamBreaker *gobreaker.CircuitBreaker
}

// NewOpenRouterClient creates a new OpenRouter client.
func NewOpenRouterClient(cfg OpenRouterConfig) *OpenRouterClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OpenRouterBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic/claude-sonnet-4"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown == 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	newBreaker := func(name string) *gobreaker.CircuitBreaker {
		return gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(cfg.BreakerFailures)
			},
		})
	}

	return &OpenRouterClient{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		defaultModel: cfg.DefaultModel,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		maxRetries:    cfg.MaxRetries,
		retryBackoff:  cfg.RetryBackoff,
		chatBreaker:   newBreaker("openrouter-chat"),
		streamBreaker: newBreaker("openrouter-chat-stream"),
	}
}

// Name returns the client identifier.
func (c *OpenRouterClient) Name() string {
	return OpenRouterName
}

// Chat sends a chat completion request.
func (c *OpenRouterClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	orReq := c.buildRequest(req, false)

	attempts := 0
	resp, err := retry.DoWithData(
		func() (*openRouterResponse, error) {
			attempts++
			out, berr := c.chatBreaker.Execute(func() (any, error) {
				return c.doRequest(ctx, "/chat/completions", orReq)
			})
			if berr != nil {
				return nil, berr
			}
			return out.(*openRouterResponse), nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.maxRetries)),
		retry.Delay(c.retryBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxJitter(c.retryBackoff/2),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			// The open breaker fails fast; retrying would only burn the
			// backoff budget against a closed door.
			return err != gobreaker.ErrOpenState && isRetryable(err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	result := &ChatResult{
		Provider:      OpenRouterName,
		ModelUsed:     resp.Model,
		RequestID:     requestID,
		Attempts:      attempts,
		ExecutionTime: time.Since(start),
	}
	if len(resp.Choices) > 0 {
		result.Content = contentToString(resp.Choices[0].Message.Content)
	}
	result.PromptTokens = resp.Usage.PromptTokens
	result.CompletionTokens = resp.Usage.CompletionTokens
	result.TotalTokens = resp.Usage.TotalTokens

	// Defensive parse when structured output was requested: the provider's
	// json mode does not guarantee parseable content.
	if req.ResponseFormat != nil {
		parsed, perr := ParseStructuredJSON(result.Content)
		if perr == nil {
			if verr := ValidateStructuredJSON(req.ResponseFormat.JSONSchema, parsed); verr == nil {
				result.ParsedJSON = parsed
			}
		}
	}

	return result, nil
}

// buildRequest converts a ChatRequest into the wire format.
func (c *OpenRouterClient) buildRequest(req *ChatRequest, stream bool) *openRouterRequest {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	orReq := &openRouterRequest{
		Model:       model,
		Messages:    make([]openRouterMessage, 0, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}

	for _, m := range req.Messages {
		orReq.Messages = append(orReq.Messages, openRouterMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	if req.ResponseFormat != nil {
		orReq.ResponseFormat = &openRouterResponseFormat{
			Type:       req.ResponseFormat.Type,
			JSONSchema: req.ResponseFormat.JSONSchema,
		}
	}

	return orReq
}

// doRequest makes one HTTP request to the chat endpoint.
func (c *OpenRouterClient) doRequest(ctx context.Context, path string, body *openRouterRequest) (*openRouterResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("failed to read response: %w", err)}
	}

	if retryableStatus(resp.StatusCode) {
		return nil, &statusError{code: resp.StatusCode, body: string(respBody)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, retry.Unrecoverable(fmt.Errorf("openrouter error (status %d): %s", resp.StatusCode, string(respBody)))
	}

	var orResp openRouterResponse
	if err := json.Unmarshal(respBody, &orResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	// API returned 200 but with an error body or no choices.
	if orResp.Error != nil {
		return nil, &statusError{code: http.StatusOK, body: orResp.Error.Message}
	}
	if len(orResp.Choices) == 0 {
		return nil, fmt.Errorf("empty choices in response (model=%s, id=%s)", orResp.Model, orResp.ID)
	}

	return &orResp, nil
}

func (c *OpenRouterClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", "https://github.com/henribesnard/novellaforge")
	req.Header.Set("X-Title", "NovellaForge")
}

// transportError marks network-level failures as retryable.
type transportError struct{ err error }

func (e *transportError) Error() string { return fmt.Sprintf("request failed: %v", e.err) }
func (e *transportError) Unwrap() error { return e.err }

// statusError marks retryable HTTP statuses.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("openrouter error (status %d): %s", e.code, e.body)
}

func retryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests:
		return true
	case 520, 521, 522, 523, 524: // Cloudflare
		return true
	default:
		return statusCode >= 500
	}
}

func isRetryable(err error) bool {
	switch err.(type) {
	case *transportError, *statusError:
		return true
	}
	return false
}

// contentToString flattens string-or-parts message content.
func contentToString(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case []any:
		var out string
		for _, part := range c {
			if m, ok := part.(map[string]any); ok {
				if t, ok := m["text"].(string); ok {
					out += t
				}
			}
		}
		return out
	}
	return ""
}

var _ Client = (*OpenRouterClient)(nil)
