package llm

import (
	"context"
	"fmt"
	"time"
)

// MockClient implements Client for testing and for running the server
// without API keys. ChatFunc overrides the canned response when set.
type MockClient struct {
	Model    string
	ChatFunc func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// Chat returns a canned response, or delegates to ChatFunc when set.
func (m *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}

	// Mimic real API latency so timing-sensitive callers see nonzero durations.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}

	return &ChatResponse{
		Content:          "This is a mock response for testing. No actual API calls were made.",
		Model:            m.Model,
		PromptTokens:     100,
		CompletionTokens: 50,
	}, nil
}
