package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sift/internal/logging"
	"sift/internal/rag"
)

// memStore is an in-memory store with a programmable similarity for the
// best match, so tests exercise threshold logic without real embeddings.
type memStore struct {
	docs       map[string]rag.Document
	order      []string
	similarity float32
	queryErr   error
	addErr     error
}

func newMemStore(similarity float32) *memStore {
	return &memStore{docs: map[string]rag.Document{}, similarity: similarity}
}

func (m *memStore) Add(_ context.Context, docs []rag.Document) error {
	if m.addErr != nil {
		return m.addErr
	}
	for _, d := range docs {
		if _, exists := m.docs[d.ID]; !exists {
			m.order = append(m.order, d.ID)
		}
		m.docs[d.ID] = d
	}
	return nil
}

func (m *memStore) Query(context.Context, string, int, map[string]string) ([]rag.SearchResult, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	// Latest entry is the best match.
	for i := len(m.order) - 1; i >= 0; i-- {
		if d, ok := m.docs[m.order[i]]; ok {
			return []rag.SearchResult{{Document: d, Similarity: m.similarity}}, nil
		}
	}
	return nil, nil
}

func (m *memStore) Delete(_ context.Context, ids ...string) error {
	for _, id := range ids {
		delete(m.docs, id)
	}
	return nil
}

func (m *memStore) Count() int { return len(m.docs) }

func testEntry() Entry {
	return Entry{
		Query:  "What is anarchism?",
		Answer: "Anarchism is a political philosophy.",
		Mode:   "local",
		Sources: []rag.Passage{
			{ID: "p1", DocName: "politics.txt", Text: "anarchism ...", Score: 0.8},
		},
	}
}

func TestCache_RoundTrip(t *testing.T) {
	store := newMemStore(0.97)
	c := New(Config{SimilarityThreshold: 0.95, TTL: 24 * time.Hour, Capacity: 10}, store, logging.Nop())
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, testEntry()))

	hit, err := c.Lookup(ctx, "what is anarchism")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "Anarchism is a political philosophy.", hit.Answer)
	assert.Equal(t, "What is anarchism?", hit.Query)
	assert.GreaterOrEqual(t, hit.Similarity, 0.95)
	require.Len(t, hit.Sources, 1)
	assert.Equal(t, "politics.txt", hit.Sources[0].DocName)
}

func TestCache_MissBelowThreshold(t *testing.T) {
	store := newMemStore(0.90)
	c := New(Config{SimilarityThreshold: 0.95, TTL: 24 * time.Hour, Capacity: 10}, store, logging.Nop())
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, testEntry()))

	hit, err := c.Lookup(ctx, "unrelated question")
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestCache_TTLExpiryEvenAtPerfectSimilarity(t *testing.T) {
	store := newMemStore(1.0)
	c := New(Config{SimilarityThreshold: 0.95, TTL: 24 * time.Hour, Capacity: 10}, store, logging.Nop())
	ctx := context.Background()

	now := time.Now()
	c.clock = func() time.Time { return now }
	require.NoError(t, c.Store(ctx, testEntry()))

	// Within TTL: hit, with age reported.
	c.clock = func() time.Time { return now.Add(23 * time.Hour) }
	hit, err := c.Lookup(ctx, "What is anarchism?")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, 23*time.Hour, hit.Age)

	// Past TTL: miss and the entry is pruned.
	c.clock = func() time.Time { return now.Add(25 * time.Hour) }
	hit, err = c.Lookup(ctx, "What is anarchism?")
	require.NoError(t, err)
	assert.Nil(t, hit)
	assert.Equal(t, 0, store.Count())
	assert.Equal(t, 0, c.Len())
}

func TestCache_CapacityEvictsOldest(t *testing.T) {
	store := newMemStore(0.99)
	c := New(Config{SimilarityThreshold: 0.95, TTL: 24 * time.Hour, Capacity: 2}, store, logging.Nop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e := testEntry()
		e.Query = fmt.Sprintf("query %d", i)
		require.NoError(t, c.Store(ctx, e))
	}
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 2, store.Count())
}

func TestCache_StoreFailureIsCachePersistError(t *testing.T) {
	store := newMemStore(0.99)
	store.addErr = fmt.Errorf("backend down")
	c := New(Config{}, store, logging.Nop())

	err := c.Store(context.Background(), testEntry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache persist failed")
}

func TestCache_CorruptEntryDropped(t *testing.T) {
	store := newMemStore(0.99)
	c := New(Config{}, store, logging.Nop())
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, []rag.Document{{
		ID:      "bad",
		Content: "q",
		Metadata: map[string]string{
			"entry":      "{not json",
			"created_at": time.Now().Format(time.RFC3339Nano),
		},
	}}))

	hit, err := c.Lookup(ctx, "q")
	require.NoError(t, err)
	assert.Nil(t, hit)
	assert.Equal(t, 0, store.Count())
}
