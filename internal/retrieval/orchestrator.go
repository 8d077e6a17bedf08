package retrieval

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	sifterrors "sift/internal/errors"
	"sift/internal/logging"
	"sift/internal/rag"
	"sift/internal/websearch"
)

// restrictedTag marks passages hidden from callers without restricted access.
const restrictedTag = "restricted"

// Config bounds retrieval behavior.
type Config struct {
	TopK            int           // default result count
	MMRPoolFactor   int           // relaxed pool multiplier for MMR re-ranking
	LocalTimeout    time.Duration // upper bound for a local search call
	InternetTimeout time.Duration // upper bound for an internet search call
}

// LocalOptions parameterizes one local search call.
type LocalOptions struct {
	TopK            int
	AllowRestricted bool
	UseMMR          bool
	Diversity       float64 // MMR lambda in [0,1]
}

// Orchestrator drives local search, internet search and fusion of both.
type Orchestrator struct {
	config Config
	store  rag.VectorStore
	web    websearch.Service
	logger logging.Logger
}

// New creates an orchestrator over the local index and the internet search
// capability.
func New(config Config, store rag.VectorStore, web websearch.Service, logger logging.Logger) *Orchestrator {
	if config.TopK <= 0 {
		config.TopK = 5
	}
	if config.MMRPoolFactor < 1 {
		config.MMRPoolFactor = 10
	}
	if config.LocalTimeout <= 0 {
		config.LocalTimeout = 20 * time.Second
	}
	if config.InternetTimeout <= 0 {
		config.InternetTimeout = 30 * time.Second
	}
	return &Orchestrator{
		config: config,
		store:  store,
		web:    web,
		logger: logging.OrNop(logger),
	}
}

// SearchLocal queries the local index. Passages tagged restricted are
// filtered out unless the caller may access them. With MMR enabled the
// search retrieves a relaxed pool and re-ranks it for diversity.
func (o *Orchestrator) SearchLocal(ctx context.Context, query string, opts LocalOptions) ([]rag.Passage, error) {
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = o.config.TopK
	}

	fetchK := topK
	if opts.UseMMR {
		fetchK = topK * o.config.MMRPoolFactor
	}

	ctx, cancel := context.WithTimeout(ctx, o.config.LocalTimeout)
	defer cancel()

	results, err := o.store.Query(ctx, query, fetchK, nil)
	if err != nil {
		return nil, &sifterrors.DegradedError{Source: "local_search", Err: err}
	}

	passages := make([]rag.Passage, 0, len(results))
	for _, r := range results {
		p := passageFromResult(r)
		if !opts.AllowRestricted && p.HasTag(restrictedTag) {
			continue
		}
		passages = append(passages, p)
	}

	if opts.UseMMR {
		passages = rag.SelectDiverse(passages, topK, opts.Diversity)
	} else if len(passages) > topK {
		passages = passages[:topK]
	}
	return passages, nil
}

// SearchInternet queries the internet search capability. On failure or
// timeout it returns an empty set together with a degraded error so the
// engine can record a warning and fall back to local context.
func (o *Orchestrator) SearchInternet(ctx context.Context, query string, limit int) ([]rag.Passage, error) {
	if limit <= 0 {
		limit = o.config.TopK
	}

	ctx, cancel := context.WithTimeout(ctx, o.config.InternetTimeout)
	defer cancel()

	results, err := o.web.Search(ctx, query, limit)
	if err != nil {
		// A caller-initiated cancellation is not degradation; a timeout is.
		if ctx.Err() == context.Canceled {
			return nil, ctx.Err()
		}
		o.logger.Warn("internet search failed: %v", err)
		return nil, &sifterrors.DegradedError{Source: "internet_search", Err: err}
	}

	passages := make([]rag.Passage, 0, len(results))
	for i, r := range results {
		passages = append(passages, rag.Passage{
			ID:      fmt.Sprintf("web_%d", i+1),
			DocName: r.Title,
			URL:     r.URL,
			Text:    r.Snippet,
			Score:   r.Score,
		})
	}
	return passages, nil
}

// Fuse concatenates both passage sets into one labeled context block. Local
// passages always come first, then internet passages; the relative order is
// a documented contract, not incidental.
func Fuse(local, internet []rag.Passage) string {
	var sb strings.Builder
	n := 0
	for _, p := range local {
		n++
		if n > 1 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("[Source " + strconv.Itoa(n) + "] " + p.Text)
	}
	for _, p := range internet {
		n++
		if n > 1 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("[Source " + strconv.Itoa(n) + "] " + p.Text)
	}
	return sb.String()
}

func passageFromResult(r rag.SearchResult) rag.Passage {
	p := rag.Passage{
		ID:        r.Document.ID,
		DocName:   r.Document.Metadata["doc_name"],
		Text:      r.Document.Content,
		Score:     float64(r.Similarity),
		Embedding: r.Document.Embedding,
	}
	if p.DocName == "" {
		p.DocName = "Unknown"
	}
	if page, ok := r.Document.Metadata["page"]; ok {
		p.Page, _ = strconv.Atoi(page)
	}
	if tags, ok := r.Document.Metadata["tags"]; ok && tags != "" {
		p.Tags = strings.Split(tags, ",")
	}
	return p
}
