// Package reranker re-scores retrieved paragraphs by semantic similarity to the
// query and keeps the best ones.
//
// Every implementation orders candidates by descending score and breaks ties by
// retrieval order, so equal scores never reshuffle the index ranking.
package reranker

import (
	"context"
	"errors"
	"sort"

	"github.com/knoguchi/scholarag/internal/document"
)

var (
	// ErrQuotaExceeded is returned when the scoring service reports a rate limit.
	ErrQuotaExceeded = errors.New("reranker quota exceeded")
	// ErrUnavailable is returned when the scoring service cannot be reached.
	ErrUnavailable = errors.New("reranker unavailable")
)

// Reranker defines the interface for re-ranking candidates.
type Reranker interface {
	// Rerank scores candidates against query and returns the topK best, sorted
	// by descending reranking score with RerankingScore set.
	Rerank(ctx context.Context, query string, candidates []document.Candidate, topK int) ([]document.Candidate, error)

	// Name identifies the scoring method for logs.
	Name() string
}

// rank attaches scores to a copy of candidates, stable-sorts it by descending
// score and truncates it to topK.
func rank(candidates []document.Candidate, scores []float64, topK int) []document.Candidate {
	ranked := make([]document.Candidate, len(candidates))
	copy(ranked, candidates)
	for i := range ranked {
		score := scores[i]
		ranked[i].RerankingScore = &score
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return *ranked[i].RerankingScore > *ranked[j].RerankingScore
	})

	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked
}

// texts returns the reranking text of each candidate.
func texts(candidates []document.Candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.RerankText()
	}
	return out
}
