package llm

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"sift/internal/logging"
)

const answerSystemPrompt = `You are a helpful AI assistant. Answer the user's question based on the provided context.
If the context doesn't contain enough information to answer the question, say so clearly.
Always cite your sources by mentioning [Source N] when using information from the context.`

const judgeSystemPrompt = `You are a context evaluator. Your job is to determine if the provided context contains enough information to answer the user's question.

Respond with ONLY a number between 0 and 1:
- 1.0 = Context fully answers the question
- 0.7-0.9 = Context mostly answers the question
- 0.4-0.6 = Context partially answers the question
- 0.1-0.3 = Context barely relevant
- 0.0 = Context cannot answer the question

Only respond with a single number.`

// Service exposes the two generation capabilities the engine consumes:
// answer generation and context-sufficiency judgment. Both run on the same
// chat backend with different prompts.
type Service struct {
	client Client
	logger logging.Logger
}

// NewService creates a generation service on top of client.
func NewService(client Client, logger logging.Logger) *Service {
	return &Service{
		client: client,
		logger: logging.OrNop(logger),
	}
}

// Generate produces the final answer from an assembled context block.
func (s *Service) Generate(ctx context.Context, contextBlock, question string) (string, error) {
	prompt := fmt.Sprintf("Context:\n%s\n\nUser Question: %s\n\nPlease provide a comprehensive answer based on the context above.",
		contextBlock, question)

	resp, err := s.client.Chat(ctx, &ChatRequest{
		Messages: []Message{
			{Role: "system", Content: answerSystemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	return resp.Content, nil
}

// JudgeSufficiency asks the backend whether contextBlock plausibly answers
// question, returning a confidence in [0,1].
func (s *Service) JudgeSufficiency(ctx context.Context, contextBlock, question string) (float64, error) {
	prompt := fmt.Sprintf("Question: %s\n\nContext:\n%s\n\nConfidence score (0-1):", question, contextBlock)

	resp, err := s.client.Chat(ctx, &ChatRequest{
		Messages: []Message{
			{Role: "system", Content: judgeSystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.1,
		MaxTokens:   16,
	})
	if err != nil {
		return 0, fmt.Errorf("judge sufficiency: %w", err)
	}
	return parseConfidence(resp.Content), nil
}

// parseConfidence extracts a confidence value from a model reply. Models
// occasionally wrap the number in prose, so parsing falls back to keyword
// heuristics before giving up at neutral.
func parseConfidence(reply string) float64 {
	fields := strings.Fields(strings.TrimSpace(reply))
	if len(fields) > 0 {
		if score, err := strconv.ParseFloat(strings.TrimRight(fields[0], ".,"), 64); err == nil {
			return clamp01(score)
		}
	}

	lower := strings.ToLower(reply)
	switch {
	case strings.Contains(lower, "cannot") || strings.Contains(lower, "no"):
		return 0.2
	case strings.Contains(lower, "fully") || strings.Contains(lower, "yes"):
		return 0.9
	default:
		return 0.5
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
