package service

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/knoguchi/scholarag/internal/apperror"
	"github.com/knoguchi/scholarag/internal/repository"
	"github.com/knoguchi/scholarag/internal/retriever"
	"github.com/knoguchi/scholarag/internal/searchindex"
)

const (
	// DefaultSuggestionLimit is the number of suggestions returned without a limit.
	DefaultSuggestionLimit = 100
	// MaxSuggestionLimit bounds the limit of author and journal suggestions.
	MaxSuggestionLimit = 1000

	// articleTypeBuckets is the number of distinct stored article types aggregated.
	articleTypeBuckets = 100
	// authorHitsPerSuggestion is how many paragraphs are scanned per requested author.
	authorHitsPerSuggestion = 10
	maxAuthorHits           = 1000
)

// SuggestionIndex is the index capability needed for filter suggestions.
type SuggestionIndex interface {
	Search(ctx context.Context, req searchindex.Request) (*searchindex.Result, error)
	ArticleTypes(ctx context.Context, size int) ([]searchindex.Bucket, error)
}

// ArticleTypeSuggestion is a filterable article type with its paragraph count.
type ArticleTypeSuggestion struct {
	ArticleType string `json:"article_type"`
	DocsInDB    int    `json:"docs_in_db"`
}

// AuthorSuggestion is a filterable author name.
type AuthorSuggestion struct {
	Name string `json:"name"`
}

// JournalSuggestion is a filterable journal.
type JournalSuggestion struct {
	Title        string   `json:"title"`
	ISSN         string   `json:"issn"`
	ImpactFactor *float64 `json:"impact_factor"`
}

// SuggestionService suggests values for the exact-match filters.
type SuggestionService struct {
	index    SuggestionIndex
	journals repository.JournalSearcher
	logger   *slog.Logger
}

// NewSuggestionService creates a suggestion service. journals may be nil, in
// which case journal suggestions report the registry as inactive.
func NewSuggestionService(index SuggestionIndex, journals repository.JournalSearcher, logger *slog.Logger) *SuggestionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SuggestionService{index: index, journals: journals, logger: logger}
}

// ArticleTypes lists the stored article types by descending paragraph count.
// Values differing only by surrounding spaces are merged.
func (s *SuggestionService) ArticleTypes(ctx context.Context) (out []ArticleTypeSuggestion, err error) {
	defer func() { recordError(err) }()

	buckets, err := s.index.ArticleTypes(ctx, articleTypeBuckets)
	if err != nil {
		s.logger.Warn("article type aggregation failed", "error", err)
		return nil, retriever.IndexError(err)
	}

	counts := make(map[string]int, len(buckets))
	for _, b := range buckets {
		if key := strings.TrimSpace(b.Key); key != "" {
			counts[key] += b.Count
		}
	}

	out = make([]ArticleTypeSuggestion, 0, len(counts))
	for key, n := range counts {
		out = append(out, ArticleTypeSuggestion{ArticleType: key, DocsInDB: n})
	}
	slices.SortFunc(out, func(a, b ArticleTypeSuggestion) int {
		if c := cmp.Compare(b.DocsInDB, a.DocsInDB); c != 0 {
			return c
		}
		return strings.Compare(a.ArticleType, b.ArticleType)
	})
	return out, nil
}

// Authors returns up to limit distinct author names containing every word of
// name, in index relevance order.
func (s *SuggestionService) Authors(ctx context.Context, name string, limit int) (out []AuthorSuggestion, err error) {
	defer func() { recordError(err) }()

	words := strings.Fields(strings.ToLower(name))
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: name must not be empty", ErrInvalidRequest)
	}
	if err := validateLimit(limit); err != nil {
		return nil, err
	}

	res, err := s.index.Search(ctx, searchindex.Request{
		Text: name,
		Size: min(limit*authorHitsPerSuggestion, maxAuthorHits),
		Mode: searchindex.ModeAuthors,
	})
	if err != nil {
		s.logger.Warn("author search failed", "error", err)
		return nil, retriever.IndexError(err)
	}

	out = []AuthorSuggestion{}
	seen := make(map[string]struct{})
	for _, hit := range res.Hits {
		for _, author := range hit.Authors {
			if _, dup := seen[author]; dup || !containsAll(strings.ToLower(author), words) {
				continue
			}
			seen[author] = struct{}{}
			out = append(out, AuthorSuggestion{Name: author})
			if len(out) == limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// Journals returns up to limit registered journals whose title contains every
// keyword, by descending impact factor.
func (s *SuggestionService) Journals(ctx context.Context, keywords string, limit int) (out []JournalSuggestion, err error) {
	defer func() { recordError(err) }()

	words := strings.Fields(keywords)
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: keywords must not be empty", ErrInvalidRequest)
	}
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	if s.journals == nil {
		return nil, apperror.New(apperror.ServiceInactive, "The journal registry is not configured.")
	}

	journals, err := s.journals.SearchByName(ctx, words, limit)
	if err != nil {
		s.logger.Warn("journal search failed", "error", err)
		return nil, apperror.Wrap(apperror.ServiceInactive, "The journal registry is unreachable.", err)
	}

	out = make([]JournalSuggestion, len(journals))
	for i, j := range journals {
		out[i] = JournalSuggestion{Title: j.Name, ISSN: j.ISSN, ImpactFactor: j.ImpactFactor}
	}
	return out, nil
}

func validateLimit(limit int) error {
	if limit < 1 || limit > MaxSuggestionLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidRequest, MaxSuggestionLimit)
	}
	return nil
}

func containsAll(s string, words []string) bool {
	for _, w := range words {
		if !strings.Contains(s, w) {
			return false
		}
	}
	return true
}
