package llm

import (
	"context"
	"time"

	sifterrors "sift/internal/errors"
	"sift/internal/logging"
)

// retryClient wraps a Client with bounded retry for transient failures.
// Answer generation is terminal on failure, so the retry budget stays small:
// one retry by default, never unbounded.
type retryClient struct {
	underlying Client
	config     sifterrors.RetryConfig
	logger     logging.Logger
}

// NewRetryClient wraps client with bounded retry logic.
func NewRetryClient(client Client, config sifterrors.RetryConfig, logger logging.Logger) Client {
	return &retryClient{
		underlying: client,
		config:     config,
		logger:     logging.OrNop(logger),
	}
}

func (c *retryClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	resp, err := sifterrors.RetryWithResult(ctx, c.config, func(ctx context.Context) (*ChatResponse, error) {
		return c.underlying.Chat(ctx, req)
	})
	if err != nil {
		c.logger.Warn("LLM request failed after retries (took %v): %v", time.Since(start), err)
		return nil, err
	}
	return resp, nil
}
