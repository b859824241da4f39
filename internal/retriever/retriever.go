// Package retriever fetches the top scored paragraphs for a question from the
// full-text index.
package retriever

import (
	"context"
	"errors"
	"log/slog"

	"github.com/knoguchi/scholarag/internal/apperror"
	"github.com/knoguchi/scholarag/internal/document"
	"github.com/knoguchi/scholarag/internal/filter"
	"github.com/knoguchi/scholarag/internal/searchindex"
)

// Searcher is the index capability the retriever needs.
type Searcher interface {
	Search(ctx context.Context, req searchindex.Request) (*searchindex.Result, error)
}

// Retriever runs lexical retrieval for a query and a compiled filter.
type Retriever struct {
	index  Searcher
	logger *slog.Logger
}

// New creates a retriever. A nil logger uses slog.Default().
func New(index Searcher, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{index: index, logger: logger}
}

// Retrieve returns up to k paragraphs in index order. Zero hits is the terminal
// NoContextFound condition; index failures are ServiceInactive.
func (r *Retriever) Retrieve(ctx context.Context, query string, expr filter.Expr, k int) ([]document.Candidate, error) {
	res, err := r.index.Search(ctx, searchindex.Request{
		Text:   query,
		Filter: expr,
		Size:   k,
		Mode:   searchindex.ModeParagraphs,
	})
	if err != nil {
		r.logger.Warn("retrieval failed", "error", err)
		return nil, IndexError(err)
	}

	if len(res.Hits) == 0 {
		return nil, apperror.New(apperror.NoContextFound,
			"No document found. Modify the filters or the query and try again.")
	}
	return res.Hits, nil
}

// IndexError classifies an index failure as a pipeline error.
func IndexError(err error) *apperror.Error {
	switch {
	case errors.Is(err, searchindex.ErrNotConfigured):
		return apperror.Wrap(apperror.ServiceInactive, "The paragraph index name is not configured.", err)
	case errors.Is(err, searchindex.ErrIndexNotFound):
		return apperror.Wrap(apperror.ServiceInactive, "The paragraph index does not exist.", err)
	case errors.Is(err, searchindex.ErrTimeout):
		return apperror.Wrap(apperror.ServiceInactive, "The search index did not answer in time.", err)
	case errors.Is(err, searchindex.ErrUnavailable):
		return apperror.Wrap(apperror.ServiceInactive, "The search index is unreachable.", err)
	default:
		return apperror.Wrap(apperror.ServiceInactive, "The search index failed to answer.", err)
	}
}
