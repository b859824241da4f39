// Package embedder provides text embedding for semantic reranking and for the
// paragraph vectors written by the index loader.
package embedder

import (
	"context"
	"math"
)

// Embedder defines the interface for text embedding services.
type Embedder interface {
	// Embed generates an embedding vector for a single text input.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embedding vectors for multiple text inputs.
	// Returns a slice of embeddings in the same order as the input texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the dimensionality of the embedding vectors.
	Dimension() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string
}

// ModelConfig holds the limits of an embedding model.
type ModelConfig struct {
	Dimension     int
	ContextLength int // tokens
}

// KnownModels maps embedding model names to their limits.
var KnownModels = map[string]ModelConfig{
	"nomic-embed-text":       {Dimension: 768, ContextLength: 8192},
	"mxbai-embed-large":      {Dimension: 1024, ContextLength: 512},
	"all-minilm":             {Dimension: 384, ContextLength: 256},
	"snowflake-arctic-embed": {Dimension: 1024, ContextLength: 8192},
	"bge-m3":                 {Dimension: 1024, ContextLength: 8192},
}

// GetModelConfig returns the configuration for a model, or defaults if unknown.
func GetModelConfig(modelName string) ModelConfig {
	if cfg, ok := KnownModels[modelName]; ok {
		return cfg
	}
	return ModelConfig{Dimension: 768, ContextLength: 2048}
}

// Cosine returns the cosine similarity of two vectors, 0 when either is zero
// or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
