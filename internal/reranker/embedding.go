package reranker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/knoguchi/scholarag/internal/document"
	"github.com/knoguchi/scholarag/internal/embedder"
	"github.com/knoguchi/scholarag/internal/vectorstore"
)

// EmbeddingReranker scores candidates by cosine similarity between the query
// embedding and the embedding of each candidate's title, abstract and text.
type EmbeddingReranker struct {
	embedder embedder.Embedder
}

// NewEmbeddingReranker creates an embedding based reranker.
func NewEmbeddingReranker(e embedder.Embedder) *EmbeddingReranker {
	return &EmbeddingReranker{embedder: e}
}

// Name returns "embedding".
func (r *EmbeddingReranker) Name() string {
	return "embedding"
}

// Rerank embeds the query and all candidates in one batch.
func (r *EmbeddingReranker) Rerank(ctx context.Context, query string, candidates []document.Candidate, topK int) ([]document.Candidate, error) {
	if len(candidates) == 0 {
		return []document.Candidate{}, nil
	}

	inputs := append([]string{query}, texts(candidates)...)
	vectors, err := r.embedder.EmbedBatch(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	scores := make([]float64, len(candidates))
	for i := range candidates {
		scores[i] = embedder.Cosine(vectors[0], vectors[i+1])
	}
	return rank(candidates, scores, topK), nil
}

// VectorReranker reuses paragraph vectors stored at load time and only embeds
// the query plus candidates missing from the store.
type VectorReranker struct {
	store    vectorstore.VectorStore
	embedder embedder.Embedder
	logger   *slog.Logger
}

// NewVectorReranker creates a reranker backed by stored paragraph vectors.
func NewVectorReranker(store vectorstore.VectorStore, e embedder.Embedder, logger *slog.Logger) *VectorReranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorReranker{store: store, embedder: e, logger: logger}
}

// Name returns "vector".
func (r *VectorReranker) Name() string {
	return "vector"
}

// Rerank looks up stored vectors and embeds the rest.
func (r *VectorReranker) Rerank(ctx context.Context, query string, candidates []document.Candidate, topK int) ([]document.Candidate, error) {
	if len(candidates) == 0 {
		return []document.Candidate{}, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ParagraphID
	}

	stored, err := r.store.Vectors(ctx, ids)
	if err != nil {
		r.logger.Warn("stored vector lookup failed, embedding all candidates", "error", err)
		stored = nil
	}
	if stored == nil {
		stored = make(map[string][]float32, len(candidates))
	}

	// Step 1: embed the query with every candidate that has no stored vector.
	inputs := []string{query}
	var missing []int
	for i, c := range candidates {
		if _, ok := stored[c.ParagraphID]; !ok {
			inputs = append(inputs, c.RerankText())
			missing = append(missing, i)
		}
	}
	vectors, err := r.embedder.EmbedBatch(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	for j, i := range missing {
		stored[candidates[i].ParagraphID] = vectors[j+1]
	}

	// Step 2: score.
	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = embedder.Cosine(vectors[0], stored[c.ParagraphID])
	}

	r.logger.Debug("vector reranking",
		"candidates", len(candidates),
		"stored", len(candidates)-len(missing),
		"embedded", len(missing),
	)
	return rank(candidates, scores, topK), nil
}

var (
	_ Reranker = (*EmbeddingReranker)(nil)
	_ Reranker = (*VectorReranker)(nil)
)
