package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sift/internal/agent"
	"sift/internal/auth"
	"sift/internal/cache"
	"sift/internal/evaluate"
	"sift/internal/ingest"
	"sift/internal/rag"
	"sift/internal/retrieval"
)

type stubRetriever struct{ local, inet []rag.Passage }

func (s stubRetriever) SearchLocal(ctx context.Context, query string, opts retrieval.LocalOptions) ([]rag.Passage, error) {
	return s.local, nil
}

func (s stubRetriever) SearchInternet(ctx context.Context, query string, limit int) ([]rag.Passage, error) {
	return s.inet, nil
}

type stubEvaluator struct{ quality evaluate.Quality }

func (s stubEvaluator) Score(ctx context.Context, query string, passages []rag.Passage) evaluate.Quality {
	return s.quality
}

type stubGenerator struct{ answer string }

func (s stubGenerator) Generate(ctx context.Context, contextBlock, question string) (string, error) {
	return s.answer, nil
}

type noopCache struct{}

func (noopCache) Lookup(ctx context.Context, query string) (*cache.Hit, error) { return nil, nil }

func (noopCache) Store(ctx context.Context, entry cache.Entry) error { return nil }

type stubChunker struct{}

func (stubChunker) ChunkText(text string) ([]ingest.Chunk, error) {
	return []ingest.Chunk{{Text: text}}, nil
}
func (stubChunker) CountTokens(text string) int { return len(text) }

type stubStoreEmbedder struct{}

func (stubStoreEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1}, nil
}

func (stubStoreEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}

type memStore struct{ docs map[string]rag.Document }

func (m *memStore) Add(ctx context.Context, docs []rag.Document) error {
	for _, d := range docs {
		m.docs[d.ID] = d
	}
	return nil
}

func (m *memStore) Query(ctx context.Context, text string, topK int, where map[string]string) ([]rag.SearchResult, error) {
	return nil, nil
}

func (m *memStore) Delete(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		delete(m.docs, id)
	}
	return nil
}

func (m *memStore) Count() int { return len(m.docs) }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	engine := agent.NewEngine(
		agent.Config{},
		noopCache{},
		stubRetriever{
			local: []rag.Passage{{ID: "l1", DocName: "handbook.pdf", Text: "local passage", Score: 0.9}},
			inet:  []rag.Passage{{ID: "i1", URL: "https://example.com", Text: "web passage", Score: 0.95}},
		},
		stubEvaluator{quality: evaluate.Quality{OverallScore: 0.9, IsSufficient: true, Reason: "ok"}},
		stubGenerator{answer: "the answer"},
		nil,
		nil,
	)
	indexer := ingest.NewIndexer(ingest.IndexerConfig{}, stubChunker{}, stubStoreEmbedder{}, &memStore{docs: map[string]rag.Document{}}, nil)
	return New(Config{Debug: false}, engine, auth.NewRegistry(), indexer, nil, nil)
}

func doJSON(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(closeNotifyRecorder{rec}, req)
	return rec
}

// closeNotifyRecorder adds the http.CloseNotifier method gin's Context.Stream
// requires, which httptest.ResponseRecorder does not implement.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
}

func (closeNotifyRecorder) CloseNotify() <-chan bool { return make(chan bool) }

func TestHealthz(t *testing.T) {
	rec := doJSON(t, newTestServer(t), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/auth/login", "", map[string]string{"username": "admin", "password": "x"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Token string    `json:"token"`
		User  auth.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "admin", resp.Token)
	assert.True(t, resp.User.Capabilities.CanSearchInternet)

	rec = doJSON(t, s, http.MethodPost, "/auth/login", "", map[string]string{"username": "nobody"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestQueryRequiresToken(t *testing.T) {
	rec := doJSON(t, newTestServer(t), http.MethodPost, "/query", "", map[string]string{"question": "q"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestQueryReturnsResult(t *testing.T) {
	rec := doJSON(t, newTestServer(t), http.MethodPost, "/query", "admin", map[string]string{"question": "what is the leave policy?"})
	require.Equal(t, http.StatusOK, rec.Code)

	var result agent.ResultData
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "the answer", result.Answer)
	assert.Equal(t, agent.DecisionLocalOnly, result.Decision)
	assert.NotEmpty(t, result.DecisionLog)
}

func TestQueryForcedInternetWithoutPermission(t *testing.T) {
	body := map[string]any{"question": "q", "mode": "internet"}
	rec := doJSON(t, newTestServer(t), http.MethodPost, "/query", "local_user", body)
	require.Equal(t, http.StatusForbidden, rec.Code)

	var data agent.ErrorData
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &data))
	assert.Equal(t, agent.ErrCodePermissionDenied, data.Code)
}

func TestQueryValidation(t *testing.T) {
	rec := doJSON(t, newTestServer(t), http.MethodPost, "/query", "admin", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryStreamEmitsEvents(t *testing.T) {
	body := map[string]string{"question": "q"}
	rec := doJSON(t, newTestServer(t), http.MethodPost, "/query/stream", "admin", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")

	payload := rec.Body.String()
	assert.Contains(t, payload, "event:status")
	assert.Contains(t, payload, "event:result")

	// The terminal event is last.
	lastStatus := strings.LastIndex(payload, "event:status")
	lastResult := strings.LastIndex(payload, "event:result")
	assert.Greater(t, lastResult, lastStatus)
}

func TestDocumentLifecycle(t *testing.T) {
	s := newTestServer(t)

	upload := map[string]any{"name": "policy.md", "text": "Remote work policy.", "tags": []string{"hr"}}
	rec := doJSON(t, s, http.MethodPost, "/kb/documents", "admin", upload)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/kb/documents", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "policy.md")

	rec = doJSON(t, s, http.MethodDelete, "/kb/documents/policy.md", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/kb/documents/policy.md", "admin", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadRequiresCapability(t *testing.T) {
	upload := map[string]any{"name": "x.md", "text": "body"}
	rec := doJSON(t, newTestServer(t), http.MethodPost, "/kb/documents", "local_user", upload)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMe(t *testing.T) {
	rec := doJSON(t, newTestServer(t), http.MethodGet, "/auth/me", "hybrid_user", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var user auth.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	assert.Equal(t, "hybrid_user", user.Username)
	assert.False(t, user.Capabilities.CanAccessRestricted)
}
