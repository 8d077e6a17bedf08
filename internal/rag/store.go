package rag

import (
	"context"
	"fmt"
	"path/filepath"

	chromem "github.com/philippgille/chromem-go"
)

// StoreConfig holds vector store configuration.
type StoreConfig struct {
	PersistPath string // directory to persist data, empty for in-memory
	Collection  string
}

// Document is a stored chunk with its metadata.
type Document struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  map[string]string
}

// SearchResult pairs a stored document with its cosine similarity to the query.
type SearchResult struct {
	Document   Document
	Similarity float32
}

// VectorStore manages embeddings and similarity search. Both the local
// document index and the semantic cache run on this interface, each with its
// own collection.
type VectorStore interface {
	// Add upserts documents into the store.
	Add(ctx context.Context, docs []Document) error

	// Query performs text-based similarity search. where filters on exact
	// metadata matches and may be nil.
	Query(ctx context.Context, text string, topK int, where map[string]string) ([]SearchResult, error)

	// Delete removes documents by ID.
	Delete(ctx context.Context, ids ...string) error

	// Count returns total document count.
	Count() int
}

type chromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	config     StoreConfig
}

// NewVectorStore creates a chromem-go backed store. The embedder supplies
// the embedding function; chromem embeds query text and any document added
// without a precomputed embedding.
func NewVectorStore(config StoreConfig, embedder Embedder) (VectorStore, error) {
	if config.Collection == "" {
		config.Collection = "default"
	}

	var db *chromem.DB
	var err error
	if config.PersistPath != "" {
		persistFile := filepath.Join(config.PersistPath, config.Collection+".gob")
		db, err = chromem.NewPersistentDB(persistFile, false)
		if err != nil {
			return nil, fmt.Errorf("create persistent DB: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}

	collection, err := db.GetOrCreateCollection(config.Collection, nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	return &chromemStore{
		db:         db,
		collection: collection,
		config:     config,
	}, nil
}

func (s *chromemStore) Add(ctx context.Context, docs []Document) error {
	for _, doc := range docs {
		err := s.collection.AddDocument(ctx, chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Embedding: doc.Embedding,
			Metadata:  doc.Metadata,
		})
		if err != nil {
			return fmt.Errorf("add document %s: %w", doc.ID, err)
		}
	}
	return nil
}

func (s *chromemStore) Query(ctx context.Context, text string, topK int, where map[string]string) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	// chromem rejects nResults larger than the collection size.
	if count := s.collection.Count(); count < topK {
		if count == 0 {
			return nil, nil
		}
		topK = count
	}

	results, err := s.collection.Query(ctx, text, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	searchResults := make([]SearchResult, 0, len(results))
	for _, r := range results {
		searchResults = append(searchResults, SearchResult{
			Document: Document{
				ID:        r.ID,
				Content:   r.Content,
				Embedding: r.Embedding,
				Metadata:  r.Metadata,
			},
			Similarity: r.Similarity,
		})
	}
	return searchResults, nil
}

func (s *chromemStore) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

func (s *chromemStore) Count() int {
	return s.collection.Count()
}
