package ingest

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"sift/internal/logging"
	"sift/internal/rag"
)

// Source is one document handed to the indexer.
type Source struct {
	Name string   // display name, e.g. "employee_handbook.pdf"
	Text string   // full document text
	Page int      // page number when the document is one page of a larger file
	Tags []string // access tags, e.g. "restricted"
}

// IndexerConfig holds indexing configuration.
type IndexerConfig struct {
	BatchSize   int // chunks embedded per API call (default: 50)
	Concurrency int // parallel embedding batches (default: 4)
}

// Stats summarizes one indexing run.
type Stats struct {
	Documents int
	Chunks    int
	Errors    int
}

// Indexer chunks documents, embeds the chunks and upserts them into the
// vector store.
type Indexer struct {
	config   IndexerConfig
	chunker  Chunker
	embedder rag.Embedder
	store    rag.VectorStore
	logger   logging.Logger
}

// NewIndexer wires the indexing pipeline.
func NewIndexer(config IndexerConfig, chunker Chunker, embedder rag.Embedder, store rag.VectorStore, logger logging.Logger) *Indexer {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	return &Indexer{
		config:   config,
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		logger:   logging.OrNop(logger),
	}
}

// IndexDocument chunks and stores one document, replacing any chunks a
// previous run stored under the same name and page. It returns the stored
// chunk IDs.
func (idx *Indexer) IndexDocument(ctx context.Context, src Source) ([]string, error) {
	if src.Name == "" {
		return nil, fmt.Errorf("document name is required")
	}

	chunks, err := idx.chunker.ChunkText(src.Text)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", src.Name, err)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	tags := strings.Join(src.Tags, ",")

	var (
		mu  sync.Mutex
		ids []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.config.Concurrency)

	for start := 0; start < len(chunks); start += idx.config.BatchSize {
		end := start + idx.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, chunk := range batch {
				texts[i] = chunk.Text
			}

			embeddings, err := idx.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed batch: %w", err)
			}

			docs := make([]rag.Document, len(batch))
			for i, chunk := range batch {
				docs[i] = rag.Document{
					ID:        chunkID(src, chunk.Seq),
					Content:   chunk.Text,
					Embedding: embeddings[i],
					Metadata: map[string]string{
						"doc_name": src.Name,
						"page":     strconv.Itoa(src.Page),
						"tags":     tags,
						"seq":      strconv.Itoa(chunk.Seq),
					},
				}
			}
			if err := idx.store.Add(gctx, docs); err != nil {
				return fmt.Errorf("store batch: %w", err)
			}

			mu.Lock()
			for _, doc := range docs {
				ids = append(ids, doc.ID)
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return ids, err
	}

	idx.logger.Info("indexed %s: %d chunks", src.Name, len(chunks))
	return ids, nil
}

// IndexDir walks a directory tree and indexes every .md and .txt file, using
// the path relative to root as the document name. Files that fail are
// counted and skipped so one bad file does not sink the run.
func (idx *Indexer) IndexDir(ctx context.Context, root string) (*Stats, error) {
	stats := &Stats{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return fs.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".md" && ext != ".txt" {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		content, readErr := os.ReadFile(path)
		if readErr != nil {
			idx.logger.Warn("read %s: %v", path, readErr)
			stats.Errors++
			return nil
		}

		name := path
		if rel, relErr := filepath.Rel(root, path); relErr == nil {
			name = rel
		}

		ids, indexErr := idx.IndexDocument(ctx, Source{Name: name, Text: string(content)})
		if indexErr != nil {
			idx.logger.Warn("index %s: %v", path, indexErr)
			stats.Errors++
			return nil
		}
		stats.Documents++
		stats.Chunks += len(ids)
		return nil
	})
	if err != nil {
		return stats, err
	}
	return stats, nil
}

// RemoveDocument deletes the chunks stored under the given IDs.
func (idx *Indexer) RemoveDocument(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return idx.store.Delete(ctx, ids...)
}

// chunkID derives a stable ID from the document identity and chunk position
// so re-indexing the same document upserts instead of duplicating.
func chunkID(src Source, seq int) string {
	key := fmt.Sprintf("%s:%d:%d", src.Name, src.Page, seq)
	return fmt.Sprintf("%x", sha256.Sum256([]byte(key)))[:16]
}
