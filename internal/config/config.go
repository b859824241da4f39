// Package config loads configuration from environment variables and .env files.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Index dialects.
const (
	DialectElasticsearch = "elasticsearch"
	DialectBleve         = "bleve"
)

// Reranker kinds.
const (
	RerankerNone      = "none"
	RerankerService   = "service"
	RerankerEmbedding = "embedding"
	RerankerVector    = "vector"
	RerankerLLM       = "llm"
)

// Config holds all configuration for the QA service
type Config struct {
	// Server
	HTTPPort       int      `env:"HTTP_PORT" envDefault:"8080" json:"http_port"`
	Environment    string   `env:"ENVIRONMENT" envDefault:"development" json:"environment"`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info" json:"log_level"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," json:"allowed_origins"`
	QueryMaxSize   int      `env:"QUERY_MAX_SIZE" envDefault:"10000" json:"query_max_size"`

	// Search index
	IndexDialect    string        `env:"INDEX_DIALECT" envDefault:"elasticsearch" json:"index_dialect"`
	IndexParagraphs string        `env:"INDEX_PARAGRAPHS" envDefault:"paragraphs" json:"index_paragraphs"`
	IndexTimeout    time.Duration `env:"INDEX_TIMEOUT" envDefault:"30s" json:"index_timeout"`
	ElasticURL      string        `env:"ELASTIC_URL" envDefault:"http://localhost:9200" json:"elastic_url"`
	ElasticUser     string        `env:"ELASTIC_USER" json:"elastic_user"`
	ElasticPassword string        `env:"ELASTIC_PASSWORD" json:"elastic_password"`
	BlevePath       string        `env:"BLEVE_PATH" envDefault:"data/paragraphs.bleve" json:"bleve_path"`

	// Listing
	ListingMaxResults int `env:"LISTING_MAX_RESULTS" envDefault:"10000" json:"listing_max_results"`

	// Redis cache; empty URL disables caching
	RedisURL string        `env:"REDIS_URL" json:"redis_url"`
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"720h" json:"cache_ttl"`

	// PostgreSQL journal registry; empty URL disables journal lookups
	DatabaseURL string `env:"DATABASE_URL" json:"database_url"`

	// Qdrant
	QdrantGRPCURL    string `env:"QDRANT_GRPC_URL" envDefault:"localhost:6334" json:"qdrant_grpc_url"`
	QdrantCollection string `env:"QDRANT_COLLECTION" envDefault:"paragraphs" json:"qdrant_collection"`

	// Ollama
	OllamaURL            string        `env:"OLLAMA_URL" envDefault:"http://localhost:11434" json:"ollama_url"`
	OllamaEmbeddingModel string        `env:"OLLAMA_EMBEDDING_MODEL" envDefault:"nomic-embed-text" json:"ollama_embedding_model"`
	OllamaLLMModel       string        `env:"OLLAMA_LLM_MODEL" envDefault:"llama3.2" json:"ollama_llm_model"`
	LLMTemperature       float32       `env:"LLM_TEMPERATURE" envDefault:"0" json:"llm_temperature"`
	LLMMaxTokens         int           `env:"LLM_MAX_TOKENS" envDefault:"1000" json:"llm_max_tokens"`
	LLMContextWindow     int           `env:"LLM_CONTEXT_WINDOW" envDefault:"8192" json:"llm_context_window"`
	GenerationTimeout    time.Duration `env:"GENERATION_TIMEOUT" envDefault:"5m" json:"generation_timeout"`

	// Reranker
	Reranker        string        `env:"RERANKER" envDefault:"none" json:"reranker"`
	RerankerURL     string        `env:"RERANKER_URL" json:"reranker_url"`
	RerankerToken   string        `env:"RERANKER_TOKEN" json:"reranker_token"`
	RerankerTimeout time.Duration `env:"RERANKER_TIMEOUT" envDefault:"30s" json:"reranker_timeout"`

	// Metadata
	MetadataExternalAPIs bool   `env:"METADATA_EXTERNAL_APIS" envDefault:"true" json:"metadata_external_apis"`
	CrossrefURL          string `env:"CROSSREF_URL" envDefault:"https://api.crossref.org" json:"crossref_url"`
	CrossrefMailto       string `env:"CROSSREF_MAILTO" json:"crossref_mailto"`
}

const redactedValue = "**********"

// Redacted returns a copy safe to expose: credentials and connection URLs
// that may embed them are masked when set.
func (c Config) Redacted() Config {
	for _, secret := range []*string{&c.ElasticPassword, &c.RerankerToken, &c.DatabaseURL, &c.RedisURL} {
		if *secret != "" {
			*secret = redactedValue
		}
	}
	return c
}

// Load loads configuration from .env file (if present) and environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects impossible settings.
func (c *Config) Validate() error {
	var errs []error

	switch c.IndexDialect {
	case DialectElasticsearch, DialectBleve:
	default:
		errs = append(errs, fmt.Errorf("INDEX_DIALECT must be %q or %q, got %q", DialectElasticsearch, DialectBleve, c.IndexDialect))
	}

	switch c.Reranker {
	case RerankerNone, RerankerEmbedding, RerankerVector, RerankerLLM:
	case RerankerService:
		if c.RerankerURL == "" {
			errs = append(errs, errors.New("RERANKER_URL is required for the service reranker"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown RERANKER %q", c.Reranker))
	}

	positive := map[string]int{
		"HTTP_PORT":           c.HTTPPort,
		"QUERY_MAX_SIZE":      c.QueryMaxSize,
		"LISTING_MAX_RESULTS": c.ListingMaxResults,
		"LLM_MAX_TOKENS":      c.LLMMaxTokens,
	}
	for name, v := range positive {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	if c.LLMContextWindow > 0 && c.LLMContextWindow <= c.LLMMaxTokens {
		errs = append(errs, errors.New("LLM_CONTEXT_WINDOW must exceed LLM_MAX_TOKENS"))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("CACHE_TTL must be positive"))
	}

	return errors.Join(errs...)
}
