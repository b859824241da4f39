// Package searchindex provides the full-text paragraph index behind a dialect
// interface. Two dialects are available: Elasticsearch over REST and an embedded
// Bleve index.
package searchindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/knoguchi/scholarag/internal/document"
	"github.com/knoguchi/scholarag/internal/filter"
)

var (
	// ErrNotConfigured is returned when no index name is configured.
	ErrNotConfigured = errors.New("index name not configured")
	// ErrIndexNotFound is returned when the named index does not exist.
	ErrIndexNotFound = errors.New("index not found")
	// ErrUnavailable is returned when the index cannot be reached.
	ErrUnavailable = errors.New("index unavailable")
	// ErrTimeout is returned when the index does not answer within the configured timeout.
	ErrTimeout = errors.New("index timeout")
)

// Mode selects what a search returns.
type Mode int

const (
	// ModeParagraphs returns the top scored paragraphs.
	ModeParagraphs Mode = iota
	// ModeArticles returns one paragraph per distinct article.
	ModeArticles
	// ModeCount returns only the number of distinct articles.
	ModeCount
	// ModeArticleTypes returns up to Size article types with their paragraph counts.
	ModeArticleTypes
	// ModeAuthors returns the top Size paragraphs whose author names match Text.
	ModeAuthors
)

// Request is a dialect-neutral search.
type Request struct {
	// Text is scored free text matched against paragraph text, or against
	// author names in ModeAuthors. Empty for listings.
	Text string
	// Filter restricts and scores the matching paragraphs. Nil means match-all.
	Filter filter.Expr
	// Size bounds the returned paragraphs (ModeParagraphs) or articles (ModeArticles).
	Size int
	Mode Mode
	// SortByDate orders articles by most recent date instead of best paragraph score.
	SortByDate bool
}

// Bucket is one aggregated value with its document count.
type Bucket struct {
	Key   string
	Count int
}

// Result is a normalized search response.
type Result struct {
	Hits []document.Candidate
	// Buckets holds the aggregated values of ModeArticleTypes.
	Buckets []Bucket
	// Total is the number of distinct matching articles in ModeCount and the
	// number of returned hits otherwise.
	Total int
}

// Dialect is one index wire protocol. Compiled queries and raw responses are
// opaque values owned by the dialect.
type Dialect interface {
	Name() string
	CompileQuery(req Request) (any, error)
	ExecuteQuery(ctx context.Context, index string, compiled any) (any, error)
	ParseResult(req Request, raw any) (*Result, error)
	Ping(ctx context.Context, index string) error
}

// Index runs searches against one named index through a dialect.
type Index struct {
	dialect Dialect
	name    string
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithTimeout bounds each index call.
func WithTimeout(d time.Duration) Option {
	return func(i *Index) {
		i.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Index) {
		i.logger = logger
	}
}

// New creates an Index for the named paragraph index.
func New(dialect Dialect, name string, opts ...Option) *Index {
	i := &Index{
		dialect: dialect,
		name:    name,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Name returns the configured index name.
func (i *Index) Name() string {
	return i.name
}

// Search compiles, executes and parses a request.
func (i *Index) Search(ctx context.Context, req Request) (*Result, error) {
	if i.name == "" {
		return nil, ErrNotConfigured
	}
	if req.Filter == nil {
		req.Filter = filter.MatchAll{}
	}

	compiled, err := i.dialect.CompileQuery(req)
	if err != nil {
		return nil, fmt.Errorf("failed to compile query: %w", err)
	}

	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := i.dialect.ExecuteQuery(ctx, i.name, compiled)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %w", ErrTimeout, i.timeout, err)
		}
		return nil, err
	}

	result, err := i.dialect.ParseResult(req, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", i.dialect.Name(), err)
	}

	i.logger.Debug("index search",
		"dialect", i.dialect.Name(),
		"index", i.name,
		"mode", req.Mode,
		"filter", req.Filter.String(),
		"hits", len(result.Hits),
		"total", result.Total,
		"duration", time.Since(start),
	)
	return result, nil
}

// Count returns the number of distinct articles matching expr.
func (i *Index) Count(ctx context.Context, expr filter.Expr) (int, error) {
	result, err := i.Search(ctx, Request{Filter: expr, Mode: ModeCount})
	if err != nil {
		return 0, err
	}
	return result.Total, nil
}

// ArticleTypes returns up to size article types by descending paragraph count.
func (i *Index) ArticleTypes(ctx context.Context, size int) ([]Bucket, error) {
	result, err := i.Search(ctx, Request{Size: size, Mode: ModeArticleTypes})
	if err != nil {
		return nil, err
	}
	return result.Buckets, nil
}

// Ping checks that the index exists and answers.
func (i *Index) Ping(ctx context.Context) error {
	if i.name == "" {
		return ErrNotConfigured
	}
	return i.dialect.Ping(ctx, i.name)
}
