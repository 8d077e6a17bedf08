package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sift/internal/rag"
)

// wordChunker splits on blank lines without touching a tokenizer, keeping
// indexer tests hermetic.
type wordChunker struct{}

func (wordChunker) ChunkText(text string) ([]Chunk, error) {
	var chunks []Chunk
	for _, para := range splitParagraphs(text) {
		chunks = append(chunks, Chunk{Text: para, Seq: len(chunks)})
	}
	return chunks, nil
}

func (wordChunker) CountTokens(text string) int { return len(text) }

type stubEmbedder struct {
	err   error
	calls int
	mu    sync.Mutex
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (e *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type recordingStore struct {
	mu      sync.Mutex
	docs    map[string]rag.Document
	deleted []string
	addErr  error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{docs: map[string]rag.Document{}}
}

func (s *recordingStore) Add(ctx context.Context, docs []rag.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addErr != nil {
		return s.addErr
	}
	for _, doc := range docs {
		s.docs[doc.ID] = doc
	}
	return nil
}

func (s *recordingStore) Query(ctx context.Context, text string, topK int, where map[string]string) ([]rag.SearchResult, error) {
	return nil, nil
}

func (s *recordingStore) Delete(ctx context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.docs, id)
		s.deleted = append(s.deleted, id)
	}
	return nil
}

func (s *recordingStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

func TestIndexDocumentStoresChunksWithMetadata(t *testing.T) {
	store := newRecordingStore()
	idx := NewIndexer(IndexerConfig{BatchSize: 2}, wordChunker{}, &stubEmbedder{}, store, nil)

	src := Source{
		Name: "handbook.pdf",
		Page: 3,
		Tags: []string{"restricted", "hr"},
		Text: "First passage about leave.\n\nSecond passage about payroll.\n\nThird passage about benefits.",
	}
	ids, err := idx.IndexDocument(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Equal(t, 3, store.Count())

	doc, ok := store.docs[ids[0]]
	require.True(t, ok)
	assert.Equal(t, "handbook.pdf", doc.Metadata["doc_name"])
	assert.Equal(t, "3", doc.Metadata["page"])
	assert.Equal(t, "restricted,hr", doc.Metadata["tags"])
	require.Len(t, doc.Embedding, 3)
}

func TestIndexDocumentStableIDsUpsert(t *testing.T) {
	store := newRecordingStore()
	idx := NewIndexer(IndexerConfig{}, wordChunker{}, &stubEmbedder{}, store, nil)

	src := Source{Name: "policy.md", Text: "Alpha.\n\nBeta."}
	first, err := idx.IndexDocument(context.Background(), src)
	require.NoError(t, err)

	second, err := idx.IndexDocument(context.Background(), src)
	require.NoError(t, err)

	assert.ElementsMatch(t, first, second)
	assert.Equal(t, 2, store.Count(), "re-index must upsert, not duplicate")
}

func TestIndexDocumentEmbedFailure(t *testing.T) {
	store := newRecordingStore()
	idx := NewIndexer(IndexerConfig{}, wordChunker{}, &stubEmbedder{err: errors.New("quota exceeded")}, store, nil)

	_, err := idx.IndexDocument(context.Background(), Source{Name: "doc.md", Text: "Some text."})
	require.Error(t, err)
	assert.Zero(t, store.Count())
}

func TestIndexDocumentRequiresName(t *testing.T) {
	idx := NewIndexer(IndexerConfig{}, wordChunker{}, &stubEmbedder{}, newRecordingStore(), nil)

	_, err := idx.IndexDocument(context.Background(), Source{Text: "orphan"})
	require.Error(t, err)
}

func TestIndexDocumentBatches(t *testing.T) {
	store := newRecordingStore()
	emb := &stubEmbedder{}
	idx := NewIndexer(IndexerConfig{BatchSize: 1, Concurrency: 2}, wordChunker{}, emb, store, nil)

	src := Source{Name: "doc.md", Text: "One.\n\nTwo.\n\nThree.\n\nFour."}
	ids, err := idx.IndexDocument(context.Background(), src)
	require.NoError(t, err)
	assert.Len(t, ids, 4)
	assert.Equal(t, 4, emb.calls)
}

func TestIndexDirWalksMarkdownAndText(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("Alpha doc."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("Beta doc."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.png"), []byte{0xff}, 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".hidden"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden", "d.md"), []byte("Skipped."), 0o644))

	store := newRecordingStore()
	idx := NewIndexer(IndexerConfig{}, wordChunker{}, &stubEmbedder{}, store, nil)

	stats, err := idx.IndexDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, 2, stats.Chunks)
	assert.Zero(t, stats.Errors)
}

func TestRemoveDocument(t *testing.T) {
	store := newRecordingStore()
	idx := NewIndexer(IndexerConfig{}, wordChunker{}, &stubEmbedder{}, store, nil)

	ids, err := idx.IndexDocument(context.Background(), Source{Name: "doc.md", Text: "Gamma."})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	require.NoError(t, idx.RemoveDocument(context.Background(), ids))
	assert.Zero(t, store.Count())
}
