package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration. Every threshold the routing
// policy depends on lives here rather than in code: the exact values are
// product decisions tuned empirically.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Search    SearchConfig    `mapstructure:"search"`
	Store     StoreConfig     `mapstructure:"store"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Evaluate  EvaluateConfig  `mapstructure:"evaluate"`
	Routing   RoutingConfig   `mapstructure:"routing"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
}

type ServerConfig struct {
	Addr         string   `mapstructure:"addr"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Mock        bool          `mapstructure:"mock"`
}

type EmbeddingConfig struct {
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	CacheSize int    `mapstructure:"cache_size"`
}

type SearchConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
	Mock    bool          `mapstructure:"mock"`
}

type StoreConfig struct {
	PersistPath string `mapstructure:"persist_path"`
	Collection  string `mapstructure:"collection"`
}

type CacheConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	Collection          string        `mapstructure:"collection"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	TTL                 time.Duration `mapstructure:"ttl"`
	Capacity            int           `mapstructure:"capacity"`
}

type EvaluateConfig struct {
	VectorWeight         float64 `mapstructure:"vector_weight"`
	CoverageWeight       float64 `mapstructure:"coverage_weight"`
	ConfidenceWeight     float64 `mapstructure:"confidence_weight"`
	SufficiencyThreshold float64 `mapstructure:"sufficiency_threshold"`
}

type RoutingConfig struct {
	LocalOnlyThreshold    float64 `mapstructure:"local_only_threshold"`
	InternetOnlyThreshold float64 `mapstructure:"internet_only_threshold"`
}

type RetrievalConfig struct {
	TopK            int           `mapstructure:"top_k"`
	MMRPoolFactor   int           `mapstructure:"mmr_pool_factor"`
	LocalTimeout    time.Duration `mapstructure:"local_timeout"`
	InternetTimeout time.Duration `mapstructure:"internet_timeout"`
}

type IngestConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
}

// Load reads configuration from an optional YAML file and the environment.
// Environment variables use the SIFT_ prefix with underscores for nesting,
// e.g. SIFT_CACHE_TTL=24h.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allow_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("llm.model", "llama-3.3-70b-versatile")
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.mock", false)

	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.cache_size", 10000)

	v.SetDefault("search.base_url", "https://api.perplexity.ai")
	v.SetDefault("search.model", "sonar-pro")
	v.SetDefault("search.timeout", 30*time.Second)
	v.SetDefault("search.mock", false)

	v.SetDefault("store.persist_path", "./data")
	v.SetDefault("store.collection", "documents")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.collection", "query_cache")
	v.SetDefault("cache.similarity_threshold", 0.95)
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("cache.capacity", 512)

	v.SetDefault("evaluate.vector_weight", 0.4)
	v.SetDefault("evaluate.coverage_weight", 0.2)
	v.SetDefault("evaluate.confidence_weight", 0.4)
	v.SetDefault("evaluate.sufficiency_threshold", 0.6)

	v.SetDefault("routing.local_only_threshold", 0.7)
	v.SetDefault("routing.internet_only_threshold", 0.3)

	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.mmr_pool_factor", 10)
	v.SetDefault("retrieval.local_timeout", 20*time.Second)
	v.SetDefault("retrieval.internet_timeout", 30*time.Second)

	v.SetDefault("ingest.chunk_size", 512)
	v.SetDefault("ingest.chunk_overlap", 50)
}

// Validate rejects configurations outside the documented ranges.
func (c *Config) Validate() error {
	inUnit := func(name string, val float64) error {
		if val < 0 || val > 1 {
			return fmt.Errorf("config: %s must be in [0,1], got %v", name, val)
		}
		return nil
	}

	checks := []error{
		inUnit("cache.similarity_threshold", c.Cache.SimilarityThreshold),
		inUnit("evaluate.vector_weight", c.Evaluate.VectorWeight),
		inUnit("evaluate.coverage_weight", c.Evaluate.CoverageWeight),
		inUnit("evaluate.confidence_weight", c.Evaluate.ConfidenceWeight),
		inUnit("evaluate.sufficiency_threshold", c.Evaluate.SufficiencyThreshold),
		inUnit("routing.local_only_threshold", c.Routing.LocalOnlyThreshold),
		inUnit("routing.internet_only_threshold", c.Routing.InternetOnlyThreshold),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}

	sum := c.Evaluate.VectorWeight + c.Evaluate.CoverageWeight + c.Evaluate.ConfidenceWeight
	if sum <= 0 {
		return fmt.Errorf("config: evaluate weights must sum to a positive value")
	}
	if c.Routing.InternetOnlyThreshold > c.Routing.LocalOnlyThreshold {
		return fmt.Errorf("config: routing.internet_only_threshold must not exceed routing.local_only_threshold")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("config: cache.ttl must be positive")
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("config: cache.capacity must be positive")
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("config: retrieval.top_k must be positive")
	}
	if c.Retrieval.MMRPoolFactor < 1 {
		return fmt.Errorf("config: retrieval.mmr_pool_factor must be at least 1")
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("config: ingest.chunk_overlap must be smaller than ingest.chunk_size")
	}
	return nil
}
