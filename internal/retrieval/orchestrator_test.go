package retrieval

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sifterrors "sift/internal/errors"
	"sift/internal/logging"
	"sift/internal/rag"
	"sift/internal/websearch"
)

// fakeStore returns canned results and records the requested topK.
type fakeStore struct {
	results    []rag.SearchResult
	err        error
	lastTopK   int
	queryCount int
}

func (f *fakeStore) Add(context.Context, []rag.Document) error { return nil }

func (f *fakeStore) Query(_ context.Context, _ string, topK int, _ map[string]string) ([]rag.SearchResult, error) {
	f.lastTopK = topK
	f.queryCount++
	if f.err != nil {
		return nil, f.err
	}
	if topK > len(f.results) {
		topK = len(f.results)
	}
	return f.results[:topK], nil
}

func (f *fakeStore) Delete(context.Context, ...string) error { return nil }
func (f *fakeStore) Count() int                              { return len(f.results) }

func localResult(id, text, tags string, score float32) rag.SearchResult {
	md := map[string]string{"doc_name": id + ".txt"}
	if tags != "" {
		md["tags"] = tags
	}
	return rag.SearchResult{
		Document:   rag.Document{ID: id, Content: text, Metadata: md},
		Similarity: score,
	}
}

func TestSearchLocal_FiltersRestricted(t *testing.T) {
	store := &fakeStore{results: []rag.SearchResult{
		localResult("a", "public text", "", 0.9),
		localResult("b", "secret text", "restricted", 0.8),
		localResult("c", "tagged text", "internal,restricted", 0.7),
	}}
	o := New(Config{}, store, &websearch.MockService{}, logging.Nop())

	passages, err := o.SearchLocal(context.Background(), "q", LocalOptions{TopK: 5})
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, "a", passages[0].ID)

	passages, err = o.SearchLocal(context.Background(), "q", LocalOptions{TopK: 5, AllowRestricted: true})
	require.NoError(t, err)
	assert.Len(t, passages, 3)
}

func TestSearchLocal_MMRUsesRelaxedPool(t *testing.T) {
	store := &fakeStore{results: []rag.SearchResult{
		localResult("a", "alpha", "", 0.9),
		localResult("b", "beta", "", 0.8),
	}}
	o := New(Config{TopK: 2, MMRPoolFactor: 10}, store, &websearch.MockService{}, logging.Nop())

	_, err := o.SearchLocal(context.Background(), "q", LocalOptions{TopK: 2, UseMMR: true, Diversity: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 20, store.lastTopK)
}

func TestSearchLocal_EmptyQuery(t *testing.T) {
	o := New(Config{}, &fakeStore{}, &websearch.MockService{}, logging.Nop())
	_, err := o.SearchLocal(context.Background(), "", LocalOptions{})
	assert.Error(t, err)
}

func TestSearchLocal_StoreFailureIsDegraded(t *testing.T) {
	store := &fakeStore{err: fmt.Errorf("store offline")}
	o := New(Config{}, store, &websearch.MockService{}, logging.Nop())

	_, err := o.SearchLocal(context.Background(), "q", LocalOptions{})
	require.Error(t, err)
	assert.True(t, sifterrors.IsDegraded(err))
}

func TestSearchInternet_MapsResults(t *testing.T) {
	o := New(Config{}, &fakeStore{}, &websearch.MockService{}, logging.Nop())

	passages, err := o.SearchInternet(context.Background(), "q", 2)
	require.NoError(t, err)
	require.Len(t, passages, 2)
	assert.Equal(t, "https://example.com/result1", passages[0].URL)
	assert.NotEmpty(t, passages[0].Text)
}

func TestSearchInternet_FailureIsDegraded(t *testing.T) {
	web := &websearch.MockService{SearchFunc: func(context.Context, string, int) ([]websearch.Result, error) {
		return nil, fmt.Errorf("api down")
	}}
	o := New(Config{}, &fakeStore{}, web, logging.Nop())

	passages, err := o.SearchInternet(context.Background(), "q", 2)
	require.Error(t, err)
	assert.True(t, sifterrors.IsDegraded(err))
	assert.Empty(t, passages)
}

func TestSearchInternet_CancellationPropagates(t *testing.T) {
	web := &websearch.MockService{SearchFunc: func(ctx context.Context, _ string, _ int) ([]websearch.Result, error) {
		return nil, ctx.Err()
	}}
	o := New(Config{}, &fakeStore{}, web, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.SearchInternet(ctx, "q", 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, sifterrors.IsDegraded(err))
}

func TestFuse_LocalBeforeInternet(t *testing.T) {
	local := []rag.Passage{
		{ID: "A", Text: "local passage A"},
		{ID: "B", Text: "local passage B"},
	}
	internet := []rag.Passage{{ID: "C", Text: "internet passage C"}}

	fused := Fuse(local, internet)
	assert.Equal(t, "[Source 1] local passage A\n\n[Source 2] local passage B\n\n[Source 3] internet passage C", fused)
}

func TestFuse_EmptySets(t *testing.T) {
	assert.Equal(t, "", Fuse(nil, nil))
	assert.Equal(t, "[Source 1] only internet", Fuse(nil, []rag.Passage{{Text: "only internet"}}))
}
