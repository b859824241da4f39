package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DialectElasticsearch, cfg.IndexDialect)
	assert.Equal(t, "paragraphs", cfg.IndexParagraphs)
	assert.Equal(t, 720*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 10000, cfg.ListingMaxResults)
	assert.Equal(t, RerankerNone, cfg.Reranker)
	assert.Equal(t, 8192, cfg.LLMContextWindow)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("INDEX_DIALECT", "solr")
	t.Setenv("RERANKER", "service")
	t.Setenv("LISTING_MAX_RESULTS", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INDEX_DIALECT")
	assert.Contains(t, err.Error(), "RERANKER_URL")
	assert.Contains(t, err.Error(), "LISTING_MAX_RESULTS")
}

func TestValidate_ContextWindow(t *testing.T) {
	cfg := &Config{
		HTTPPort: 8080, QueryMaxSize: 1, ListingMaxResults: 1, LLMMaxTokens: 100,
		LLMContextWindow: 50, CacheTTL: time.Hour,
		IndexDialect: DialectBleve, Reranker: RerankerNone,
	}
	assert.ErrorContains(t, cfg.Validate(), "LLM_CONTEXT_WINDOW")

	cfg.LLMContextWindow = 0
	assert.NoError(t, cfg.Validate())
}

func TestRedacted(t *testing.T) {
	cfg := Config{
		ElasticUser:     "elastic",
		ElasticPassword: "changeme",
		RedisURL:        "redis://:secret@cache:6379/0",
		RerankerToken:   "tok",
		OllamaLLMModel:  "llama3.2",
	}

	got := cfg.Redacted()
	assert.Equal(t, "**********", got.ElasticPassword)
	assert.Equal(t, "**********", got.RedisURL)
	assert.Equal(t, "**********", got.RerankerToken)
	assert.Empty(t, got.DatabaseURL)
	assert.Equal(t, "elastic", got.ElasticUser)
	assert.Equal(t, "llama3.2", got.OllamaLLMModel)

	assert.Equal(t, "changeme", cfg.ElasticPassword)
}
