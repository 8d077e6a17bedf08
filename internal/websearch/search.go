package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	sifterrors "sift/internal/errors"
)

// Result is one internet search hit. Unlike local passages it carries a URL
// instead of a document name.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// Service is the internet search capability.
type Service interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// PerplexityConfig configures the Perplexity-backed search service.
type PerplexityConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type perplexityService struct {
	config     PerplexityConfig
	httpClient *http.Client
}

// NewPerplexityService creates a search service on the Perplexity API. The
// API answers with a synthesized response rather than a ranked result list,
// so the reply is wrapped as a single high-score result.
func NewPerplexityService(config PerplexityConfig) Service {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.perplexity.ai"
	}
	if config.Model == "" {
		config.Model = "sonar-pro"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &perplexityService{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

type perplexityRequest struct {
	Model    string              `json:"model"`
	Messages []map[string]string `json:"messages"`

	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type perplexityResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
}

func (s *perplexityService) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	body, err := json.Marshal(perplexityRequest{
		Model: s.config.Model,
		Messages: []map[string]string{
			{"role": "system", "content": "Be precise and concise. Provide relevant sources when available."},
			{"role": "user", "content": query},
		},
		MaxTokens:   1024,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &sifterrors.StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	var parsed perplexityResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	results := []Result{{
		Title:   "Perplexity AI - Real-time Search",
		URL:     "https://www.perplexity.ai",
		Snippet: parsed.Choices[0].Message.Content,
		Score:   0.95,
	}}
	for i, citation := range parsed.Citations {
		if limit > 0 && len(results) >= limit {
			break
		}
		results = append(results, Result{
			Title:   fmt.Sprintf("Citation %d", i+1),
			URL:     citation,
			Snippet: "",
			Score:   0.9,
		})
	}
	return results, nil
}
