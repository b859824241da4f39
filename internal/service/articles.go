package service

import (
	"context"
	"log/slog"

	"github.com/knoguchi/scholarag/internal/apperror"
	"github.com/knoguchi/scholarag/internal/document"
	"github.com/knoguchi/scholarag/internal/filter"
	"github.com/knoguchi/scholarag/internal/metadata"
	"github.com/knoguchi/scholarag/internal/retriever"
	"github.com/knoguchi/scholarag/internal/searchindex"
)

// ArticleIndex is the index capability needed for counting and listing.
type ArticleIndex interface {
	Search(ctx context.Context, req searchindex.Request) (*searchindex.Result, error)
	Count(ctx context.Context, expr filter.Expr) (int, error)
}

// ArticleService counts and pages distinct articles matching a filter.
type ArticleService struct {
	index      ArticleIndex
	enricher   *metadata.Enricher
	maxResults int
	logger     *slog.Logger
}

// NewArticleService creates an article service. maxResults bounds
// number_results; enricher may be nil.
func NewArticleService(index ArticleIndex, enricher *metadata.Enricher, maxResults int, logger *slog.Logger) *ArticleService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArticleService{index: index, enricher: enricher, maxResults: maxResults, logger: logger}
}

// MaxResults is the upper bound of number_results.
func (s *ArticleService) MaxResults() int {
	return s.maxResults
}

// Count returns the number of distinct articles matching f.
func (s *ArticleService) Count(ctx context.Context, f filter.Set) (n int, err error) {
	defer func() { recordError(err) }()

	if !f.HasText() {
		return 0, ErrInvalidRequestNoText
	}
	n, err = s.index.Count(ctx, filter.Compile(f))
	if err != nil {
		s.logger.Warn("article count failed", "error", err)
		return 0, retriever.IndexError(err)
	}
	return n, nil
}

// List fetches up to NumberResults distinct articles and returns the requested
// page. Every call repeats the bounded fetch; there is no cursor.
func (s *ArticleService) List(ctx context.Context, req ListRequest) (page *Page[document.ArticleMetadata], err error) {
	defer func() { recordError(err) }()

	if err := req.Validate(s.maxResults); err != nil {
		return nil, err
	}

	res, err := s.index.Search(ctx, searchindex.Request{
		Filter:     filter.Compile(req.Filter),
		Size:       req.NumberResults,
		Mode:       searchindex.ModeArticles,
		SortByDate: req.SortByDate,
	})
	if err != nil {
		s.logger.Warn("article listing failed", "error", err)
		return nil, retriever.IndexError(err)
	}
	if len(res.Hits) == 0 {
		return nil, apperror.New(apperror.NoContextFound, "No article found. Modify the filters and try again.")
	}

	p := Paginate(res.Hits, req.Page, req.Size)
	hits := p.Items
	if s.enricher != nil {
		hits = s.enricher.Enrich(ctx, hits)
	}

	items := make([]document.ArticleMetadata, len(hits))
	for i, c := range hits {
		items[i] = c.ArticleMetadata()
	}
	return &Page[document.ArticleMetadata]{
		Items: items,
		Total: p.Total,
		Page:  p.Page,
		Size:  p.Size,
		Pages: p.Pages,
	}, nil
}
