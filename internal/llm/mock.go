package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockClient is a scriptable Client for tests. Responses are consumed in
// order; when the queue is empty, Default is returned.
type MockClient struct {
	mu        sync.Mutex
	Responses []MockResponse
	Default   string
	Calls     []*ChatRequest
	// Match routes a response by substring of the last user message. When a
	// request matches a key, that response is used instead of the queue.
	Match map[string]string
}

// MockResponse is one scripted reply.
type MockResponse struct {
	Content string
	Err     error
}

// Chat pops the next scripted response.
func (m *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, req)

	if m.Match != nil && len(req.Messages) > 0 {
		last := req.Messages[len(req.Messages)-1].Content
		for key, content := range m.Match {
			if key != "" && strings.Contains(last, key) {
				return m.result(req, content), nil
			}
		}
	}

	if len(m.Responses) > 0 {
		next := m.Responses[0]
		m.Responses = m.Responses[1:]
		if next.Err != nil {
			return nil, next.Err
		}
		return m.result(req, next.Content), nil
	}

	if m.Default != "" {
		return m.result(req, m.Default), nil
	}
	return nil, fmt.Errorf("%w: mock has no responses left", ErrUnavailable)
}

// ChatStream delivers the scripted response as a single delta.
func (m *MockClient) ChatStream(ctx context.Context, req *ChatRequest, fn func(delta string)) (*ChatResult, error) {
	res, err := m.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	if fn != nil {
		fn(res.Content)
	}
	return res, nil
}

// Name returns "mock".
func (m *MockClient) Name() string { return "mock" }

// CallCount returns the number of Chat calls made so far.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

func (m *MockClient) result(req *ChatRequest, content string) *ChatResult {
	res := &ChatResult{
		Content:   content,
		Provider:  "mock",
		ModelUsed: req.Model,
		Attempts:  1,
	}
	if req.ResponseFormat != nil {
		if parsed, err := ParseStructuredJSON(content); err == nil {
			res.ParsedJSON = parsed
		}
	}
	return res
}

var _ Client = (*MockClient)(nil)
