// Package vectorstore keeps paragraph embeddings so that semantic reranking can
// reuse vectors computed at load time instead of embedding every candidate per query.
package vectorstore

import (
	"context"

	"github.com/google/uuid"
)

// pointNamespace derives stable point ids from paragraph ids.
var pointNamespace = uuid.MustParse("6f1c1b0e-3c1e-4d55-9a57-5c3b2f8f0a11")

// PointID returns the deterministic point id of a paragraph. Reloading the same
// paragraph overwrites its point instead of duplicating it.
func PointID(paragraphID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(paragraphID)).String()
}

// Point is the embedding of one indexed paragraph.
type Point struct {
	ParagraphID string
	ArticleID   string
	Vector      []float32
}

// VectorStore defines the paragraph vector operations.
type VectorStore interface {
	// EnsureCollection creates the collection if it does not exist.
	EnsureCollection(ctx context.Context, dimension int) error

	// Upsert inserts or replaces points.
	Upsert(ctx context.Context, points []Point) error

	// Vectors returns the stored vectors of the given paragraphs keyed by
	// paragraph id. Paragraphs without a stored vector are absent.
	Vectors(ctx context.Context, paragraphIDs []string) (map[string][]float32, error)

	// DeleteArticle removes all points of an article.
	DeleteArticle(ctx context.Context, articleID string) error
}
