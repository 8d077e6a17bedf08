package websearch

import (
	"context"
	"fmt"
)

// MockService returns simulated search results so the stack runs without a
// search API key. SearchFunc overrides the canned results when set.
type MockService struct {
	SearchFunc func(ctx context.Context, query string, limit int) ([]Result, error)
}

// Search returns up to three mock results.
func (m *MockService) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, query, limit)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := 3
	if limit > 0 && limit < n {
		n = limit
	}
	results := make([]Result, 0, n)
	for i := 0; i < n; i++ {
		results = append(results, Result{
			Title:   fmt.Sprintf("Mock Search Result %d", i+1),
			URL:     fmt.Sprintf("https://example.com/result%d", i+1),
			Snippet: fmt.Sprintf("This is a mock search result for %q. The search API is not configured, so using mock data.", query),
			Score:   0.95 - float64(i)*0.1,
		})
	}
	return results, nil
}
