package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/knoguchi/scholarag/internal/document"
	"github.com/knoguchi/scholarag/internal/embedder"
	"github.com/knoguchi/scholarag/internal/searchindex"
	"github.com/knoguchi/scholarag/internal/vectorstore"
)

// DocWriter stores the paragraphs of one article, replacing any previous load.
type DocWriter interface {
	WriteArticle(ctx context.Context, articleID string, docs map[string]searchindex.Doc) error
}

// Stats summarizes a load.
type Stats struct {
	// Articles is the number of articles written.
	Articles int

	// Paragraphs is the number of indexed paragraphs, split pieces included.
	Paragraphs int

	// Embedded is the number of paragraph vectors upserted.
	Embedded int

	// Skipped counts input lines that were not valid articles.
	Skipped int

	// Duration is the wall time of the load.
	Duration time.Duration
}

// Loader writes articles to the index and, when configured, their paragraph
// embeddings to the vector store. Ids are derived from the article id and the
// paragraph position, so loading the same file twice leaves the same state.
type Loader struct {
	docs     DocWriter
	vectors  vectorstore.VectorStore
	embedder embedder.Embedder
	splitter Splitter
	logger   *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithVectors embeds every paragraph with e and stores the vectors in store.
func WithVectors(store vectorstore.VectorStore, e embedder.Embedder) LoaderOption {
	return func(l *Loader) {
		l.vectors = store
		l.embedder = e
	}
}

// WithMaxWords splits paragraphs longer than n words on sentence boundaries.
func WithMaxWords(n int) LoaderOption {
	return func(l *Loader) {
		l.splitter = Splitter{MaxWords: n}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a loader writing to docs.
func NewLoader(docs DocWriter, opts ...LoaderOption) *Loader {
	l := &Loader{docs: docs, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads JSON lines articles from r. Malformed or invalid articles are
// logged and skipped; index or vector store failures stop the load.
func (l *Loader) Load(ctx context.Context, r io.Reader) (*Stats, error) {
	start := time.Now()
	stats := &Stats{}

	if l.vectors != nil {
		if err := l.vectors.EnsureCollection(ctx, l.embedder.Dimension()); err != nil {
			return stats, fmt.Errorf("failed to prepare vector collection: %w", err)
		}
	}

	err := readArticles(r, func(a Article) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, embedded, err := l.LoadArticle(ctx, a)
		if errors.Is(err, errInvalidArticle) {
			l.logger.Warn("skipping article", "error", err)
			stats.Skipped++
			return nil
		}
		if err != nil {
			return err
		}

		stats.Articles++
		stats.Paragraphs += n
		stats.Embedded += embedded
		if stats.Articles%1000 == 0 {
			l.logger.Info("load progress", "articles", stats.Articles, "paragraphs", stats.Paragraphs)
		}
		return nil
	}, func(line int, err error) {
		l.logger.Warn("skipping malformed line", "line", line, "error", err)
		stats.Skipped++
	})

	stats.Duration = time.Since(start)
	return stats, err
}

// LoadArticle writes one article and returns the number of paragraphs indexed
// and vectors stored.
func (l *Loader) LoadArticle(ctx context.Context, a Article) (paragraphs, embedded int, err error) {
	if err := a.Validate(); err != nil {
		return 0, 0, err
	}

	docs := make(map[string]searchindex.Doc)
	var ids, texts []string

	abstract := a.Abstract()
	position := 0
	for _, p := range a.Paragraphs {
		for _, piece := range l.splitter.Split(p.Text) {
			id := ParagraphDocID(a.ArticleID, position)
			docs[id] = a.doc(position, ArticleParagraph{Section: p.Section, Text: piece})
			ids = append(ids, id)
			texts = append(texts, rerankText(a.Title, abstract, piece))
			position++
		}
	}

	if err := l.docs.WriteArticle(ctx, a.ArticleID, docs); err != nil {
		return 0, 0, fmt.Errorf("failed to index article %s: %w", a.ArticleID, err)
	}
	if l.vectors == nil {
		return len(docs), 0, nil
	}

	if err := l.vectors.DeleteArticle(ctx, a.ArticleID); err != nil {
		return len(docs), 0, fmt.Errorf("failed to clear vectors of %s: %w", a.ArticleID, err)
	}
	if len(texts) == 0 {
		return len(docs), 0, nil
	}

	vectors, err := l.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return len(docs), 0, fmt.Errorf("failed to embed article %s: %w", a.ArticleID, err)
	}
	points := make([]vectorstore.Point, len(ids))
	for i, id := range ids {
		points[i] = vectorstore.Point{ParagraphID: id, ArticleID: a.ArticleID, Vector: vectors[i]}
	}
	if err := l.vectors.Upsert(ctx, points); err != nil {
		return len(docs), 0, fmt.Errorf("failed to store vectors of %s: %w", a.ArticleID, err)
	}

	return len(docs), len(points), nil
}

// rerankText is the text embedded for a paragraph. It matches what the
// reranker embeds for a candidate that has no stored vector.
func rerankText(title, abstract, text string) string {
	c := document.Candidate{Paragraph: document.Paragraph{Title: title, Text: text}, Abstract: abstract}
	return c.RerankText()
}
