package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"sift/internal/agent"
	"sift/internal/auth"
	"sift/internal/cache"
	"sift/internal/config"
	"sift/internal/evaluate"
	sifterrors "sift/internal/errors"
	"sift/internal/ingest"
	"sift/internal/llm"
	"sift/internal/logging"
	"sift/internal/metrics"
	"sift/internal/rag"
	"sift/internal/retrieval"
	"sift/internal/server"
	"sift/internal/websearch"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "sift",
		Short:        "Agentic retrieval service over a local knowledge base and the internet",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	root.AddCommand(serveCmd(), indexCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}

			host, port, err := splitAddr(app.cfg.Server.Addr)
			if err != nil {
				return err
			}

			srv := server.New(server.Config{
				Host:           host,
				Port:           port,
				AllowedOrigins: app.cfg.Server.AllowOrigins,
			}, app.engine, app.users, app.indexer, app.promRegistry, app.logger)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Start(ctx)
		},
	}
}

func indexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index <dir>",
		Short: "Index a directory of documents into the knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stats, err := app.indexer.IndexDir(ctx, args[0])
			if err != nil {
				return err
			}
			app.logger.Info("indexed %d documents, %d chunks, %d errors", stats.Documents, stats.Chunks, stats.Errors)
			if stats.Errors > 0 {
				return fmt.Errorf("%d documents failed", stats.Errors)
			}
			return nil
		},
	}
}

type app struct {
	cfg          *config.Config
	logger       logging.Logger
	engine       *agent.Engine
	indexer      *ingest.Indexer
	users        *auth.Registry
	promRegistry *prometheus.Registry
}

func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})

	embedder, err := rag.NewEmbedder(rag.EmbedderConfig{
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		BaseURL:   cfg.Embedding.BaseURL,
		CacheSize: cfg.Embedding.CacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	docStore, err := rag.NewVectorStore(rag.StoreConfig{
		PersistPath: cfg.Store.PersistPath,
		Collection:  cfg.Store.Collection,
	}, embedder)
	if err != nil {
		return nil, fmt.Errorf("document store: %w", err)
	}

	var engineCache agent.Cache
	if cfg.Cache.Enabled {
		cacheStore, err := rag.NewVectorStore(rag.StoreConfig{
			PersistPath: cfg.Store.PersistPath,
			Collection:  cfg.Cache.Collection,
		}, embedder)
		if err != nil {
			return nil, fmt.Errorf("cache store: %w", err)
		}
		engineCache = cache.New(cache.Config{
			SimilarityThreshold: cfg.Cache.SimilarityThreshold,
			TTL:                 cfg.Cache.TTL,
			Capacity:            cfg.Cache.Capacity,
		}, cacheStore, logger)
	}

	var chatClient llm.Client
	if cfg.LLM.Mock {
		chatClient = &llm.MockClient{Model: cfg.LLM.Model}
	} else {
		chatClient = llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		})
	}
	chatClient = llm.NewRetryClient(chatClient, sifterrors.DefaultRetryConfig(), logger)
	llmService := llm.NewService(chatClient, logger)

	var webService websearch.Service
	if cfg.Search.Mock {
		webService = &websearch.MockService{}
	} else {
		webService = websearch.NewPerplexityService(websearch.PerplexityConfig{
			APIKey:  cfg.Search.APIKey,
			BaseURL: cfg.Search.BaseURL,
			Model:   cfg.Search.Model,
			Timeout: cfg.Search.Timeout,
		})
	}

	orchestrator := retrieval.New(retrieval.Config{
		TopK:            cfg.Retrieval.TopK,
		MMRPoolFactor:   cfg.Retrieval.MMRPoolFactor,
		LocalTimeout:    cfg.Retrieval.LocalTimeout,
		InternetTimeout: cfg.Retrieval.InternetTimeout,
	}, docStore, webService, logger)

	evaluator := evaluate.New(evaluate.Config{
		VectorWeight:         cfg.Evaluate.VectorWeight,
		CoverageWeight:       cfg.Evaluate.CoverageWeight,
		ConfidenceWeight:     cfg.Evaluate.ConfidenceWeight,
		SufficiencyThreshold: cfg.Evaluate.SufficiencyThreshold,
	}, llmService, logger)

	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	engine := agent.NewEngine(agent.Config{
		LocalOnlyThreshold:    cfg.Routing.LocalOnlyThreshold,
		InternetOnlyThreshold: cfg.Routing.InternetOnlyThreshold,
		TopK:                  cfg.Retrieval.TopK,
	}, engineCache, orchestrator, evaluator, llmService, m, logger)

	chunker, err := ingest.NewChunker(ingest.ChunkerConfig{
		ChunkSize:    cfg.Ingest.ChunkSize,
		ChunkOverlap: cfg.Ingest.ChunkOverlap,
	})
	if err != nil {
		return nil, fmt.Errorf("chunker: %w", err)
	}
	indexer := ingest.NewIndexer(ingest.IndexerConfig{}, chunker, embedder, docStore, logger)

	return &app{
		cfg:          cfg,
		logger:       logger,
		engine:       engine,
		indexer:      indexer,
		users:        auth.NewRegistry(),
		promRegistry: promRegistry,
	}, nil
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("server addr %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("server addr %q: %w", addr, err)
	}
	return host, port, nil
}
