package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	sifterrors "sift/internal/errors"
	"sift/internal/logging"
	"sift/internal/rag"
)

// Config holds cache policy. The thresholds are product decisions, not
// mechanism; they arrive from configuration.
type Config struct {
	SimilarityThreshold float64       // minimum cosine similarity for a hit
	TTL                 time.Duration // maximum entry age for a hit
	Capacity            int           // bound on stored entries, oldest pruned first
}

// Entry is one cached answer, keyed by the embedding of its query text.
// Entries are never mutated, only superseded by newer writes.
type Entry struct {
	Query   string        `json:"query"`
	Answer  string        `json:"answer"`
	Sources []rag.Passage `json:"sources"`
	Mode    string        `json:"mode"`
}

// Hit is a successful lookup with the match metadata callers report to the
// user.
type Hit struct {
	Entry
	Similarity float64
	Age        time.Duration
}

// SemanticCache deduplicates repeated queries by embedding similarity. The
// vector backend owns consistency; the cache itself only tracks stored IDs
// for capacity pruning.
type SemanticCache struct {
	config Config
	store  rag.VectorStore
	logger logging.Logger
	clock  func() time.Time

	mu  sync.Mutex
	ids []storedID // insertion order, oldest first
}

type storedID struct {
	id      string
	created time.Time
}

// New creates a semantic cache over its own vector store collection.
func New(config Config, store rag.VectorStore, logger logging.Logger) *SemanticCache {
	if config.SimilarityThreshold == 0 {
		config.SimilarityThreshold = 0.95
	}
	if config.TTL == 0 {
		config.TTL = 24 * time.Hour
	}
	if config.Capacity == 0 {
		config.Capacity = 512
	}
	return &SemanticCache{
		config: config,
		store:  store,
		logger: logging.OrNop(logger),
		clock:  time.Now,
	}
}

// Lookup returns the best cached entry for query, or nil on a miss. A hit
// requires similarity at or above the threshold and age within TTL; expired
// matches are pruned opportunistically.
func (c *SemanticCache) Lookup(ctx context.Context, query string) (*Hit, error) {
	results, err := c.store.Query(ctx, query, 1, nil)
	if err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	best := results[0]
	similarity := float64(best.Similarity)
	if similarity < c.config.SimilarityThreshold {
		return nil, nil
	}

	created, err := time.Parse(time.RFC3339Nano, best.Document.Metadata["created_at"])
	if err != nil {
		c.logger.Warn("cache entry %s has invalid timestamp, dropping: %v", best.Document.ID, err)
		c.remove(ctx, best.Document.ID)
		return nil, nil
	}

	age := c.clock().Sub(created)
	if age > c.config.TTL {
		c.remove(ctx, best.Document.ID)
		return nil, nil
	}

	var entry Entry
	if err := json.Unmarshal([]byte(best.Document.Metadata["entry"]), &entry); err != nil {
		c.logger.Warn("cache entry %s is corrupt, dropping: %v", best.Document.ID, err)
		c.remove(ctx, best.Document.ID)
		return nil, nil
	}

	return &Hit{Entry: entry, Similarity: similarity, Age: age}, nil
}

// Store persists an answer for future similar queries. Callers treat errors
// as non-fatal; a failed write never fails the response.
func (c *SemanticCache) Store(ctx context.Context, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return &sifterrors.CachePersistError{Err: err}
	}

	id := uuid.NewString()
	now := c.clock()
	doc := rag.Document{
		ID:      id,
		Content: entry.Query,
		Metadata: map[string]string{
			"entry":      string(payload),
			"created_at": now.Format(time.RFC3339Nano),
		},
	}
	if err := c.store.Add(ctx, []rag.Document{doc}); err != nil {
		return &sifterrors.CachePersistError{Err: err}
	}

	c.mu.Lock()
	c.ids = append(c.ids, storedID{id: id, created: now})
	var evict []string
	for len(c.ids) > c.config.Capacity {
		evict = append(evict, c.ids[0].id)
		c.ids = c.ids[1:]
	}
	c.mu.Unlock()

	if len(evict) > 0 {
		if err := c.store.Delete(ctx, evict...); err != nil {
			c.logger.Warn("cache eviction failed: %v", err)
		}
	}
	return nil
}

// Len returns the number of entries tracked for capacity pruning.
func (c *SemanticCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

func (c *SemanticCache) remove(ctx context.Context, id string) {
	if err := c.store.Delete(ctx, id); err != nil {
		c.logger.Warn("cache prune failed for %s: %v", id, err)
		return
	}
	c.mu.Lock()
	for i, s := range c.ids {
		if s.id == id {
			c.ids = append(c.ids[:i], c.ids[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
}
