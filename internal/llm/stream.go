package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

// ChatStream sends a chat completion request and delivers content deltas to
// fn as they arrive. The returned result holds the assembled content.
// Streaming requests are not retried mid-stream; a failure before the first
// delta is reported as ErrUnavailable.
func (c *OpenRouterClient) ChatStream(ctx context.Context, req *ChatRequest, fn func(delta string)) (*ChatResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	orReq := c.buildRequest(req, true)

	out, err := c.streamBreaker.Execute(func() (any, error) {
		return c.doStream(ctx, orReq, fn)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}

	result := out.(*ChatResult)
	result.Provider = OpenRouterName
	result.RequestID = requestID
	result.Attempts = 1
	result.ExecutionTime = time.Since(start)
	return result, nil
}

func (c *OpenRouterClient) doStream(ctx context.Context, body *openRouterRequest, fn func(delta string)) (*ChatResult, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if retryableStatus(resp.StatusCode) {
			return nil, fmt.Errorf("%w: stream rejected with status %d", ErrUnavailable, resp.StatusCode)
		}
		return nil, fmt.Errorf("openrouter stream error (status %d)", resp.StatusCode)
	}

	result := &ChatResult{}
	var content strings.Builder

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			// Comment frames and keep-alives are not JSON.
			continue
		}
		if chunk.Error != nil {
			return nil, fmt.Errorf("openrouter stream error: %s", chunk.Error.Message)
		}
		if chunk.Model != "" {
			result.ModelUsed = chunk.Model
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				content.WriteString(choice.Delta.Content)
				if fn != nil {
					fn(choice.Delta.Content)
				}
			}
		}
		if chunk.Usage != nil {
			result.PromptTokens = chunk.Usage.PromptTokens
			result.CompletionTokens = chunk.Usage.CompletionTokens
			result.TotalTokens = chunk.Usage.TotalTokens
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream read failed: %w", err)
	}

	result.Content = content.String()
	return result, nil
}
