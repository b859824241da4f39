// Package metadata completes candidates with article abstracts, journal
// registry data and citation counts.
package metadata

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/knoguchi/scholarag/internal/document"
	"github.com/knoguchi/scholarag/internal/filter"
	"github.com/knoguchi/scholarag/internal/repository"
	"github.com/knoguchi/scholarag/internal/searchindex"
)

// maxAbstractParagraphs bounds the abstract lookup query.
const maxAbstractParagraphs = 1000

// Searcher is the index capability needed to rebuild abstracts.
type Searcher interface {
	Search(ctx context.Context, req searchindex.Request) (*searchindex.Result, error)
}

// JournalLookup resolves journal registry rows by ISSN.
type JournalLookup interface {
	GetByISSNs(ctx context.Context, issns []string) (map[string]repository.Journal, error)
}

// CitationLookup returns citation counts by DOI.
type CitationLookup interface {
	CitedBy(ctx context.Context, doi string) (*int, error)
}

// Enricher fills optional metadata. Every lookup is best effort: a failing
// source is logged and leaves its fields nil.
type Enricher struct {
	index     Searcher
	journals  JournalLookup
	citations CitationLookup
	logger    *slog.Logger

	// concurrency bounds parallel citation requests.
	concurrency int
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithJournals enables journal name and impact factor lookups.
func WithJournals(j JournalLookup) Option {
	return func(e *Enricher) {
		e.journals = j
	}
}

// WithCitations enables citation count lookups.
func WithCitations(c CitationLookup) Option {
	return func(e *Enricher) {
		e.citations = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Enricher) {
		e.logger = l
	}
}

// New creates an enricher that rebuilds abstracts from index.
func New(index Searcher, opts ...Option) *Enricher {
	e := &Enricher{index: index, logger: slog.Default(), concurrency: 8}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AttachAbstracts returns a copy of candidates with the abstract of each
// article rebuilt from its abstract paragraphs.
func (e *Enricher) AttachAbstracts(ctx context.Context, candidates []document.Candidate) []document.Candidate {
	out := make([]document.Candidate, len(candidates))
	copy(out, candidates)

	abstracts, err := e.abstracts(ctx, missingAbstractArticles(out))
	if err != nil {
		e.logger.Warn("abstract lookup failed", "error", err)
		return out
	}
	for i := range out {
		if a, ok := abstracts[out[i].ArticleID]; ok && out[i].Abstract == "" {
			out[i].Abstract = a
		}
	}
	return out
}

// Enrich returns a copy of candidates with abstracts, journal data and
// citation counts. The three lookups run concurrently.
func (e *Enricher) Enrich(ctx context.Context, candidates []document.Candidate) []document.Candidate {
	out := make([]document.Candidate, len(candidates))
	copy(out, candidates)
	if len(out) == 0 {
		return out
	}

	var (
		abstracts map[string]string
		journals  map[string]repository.Journal
		citations map[string]*int
	)

	// Failures are logged inside each task so one source never cancels the others.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if abstracts, err = e.abstracts(gctx, missingAbstractArticles(out)); err != nil {
			e.logger.Warn("abstract lookup failed", "error", err)
		}
		return nil
	})
	if e.journals != nil {
		g.Go(func() error {
			var err error
			if journals, err = e.journals.GetByISSNs(gctx, issns(out)); err != nil {
				e.logger.Warn("journal lookup failed", "error", err)
			}
			return nil
		})
	}
	if e.citations != nil {
		g.Go(func() error {
			citations = e.citedBy(gctx, dois(out))
			return nil
		})
	}
	_ = g.Wait()

	for i := range out {
		c := &out[i]
		if a, ok := abstracts[c.ArticleID]; ok && c.Abstract == "" {
			c.Abstract = a
		}
		if j, ok := lookupJournal(journals, c.Journal); ok {
			name := j.Name
			c.JournalName = &name
			c.ImpactFactor = j.ImpactFactor
		}
		if n, ok := citations[c.DOI]; ok && n != nil {
			count := *n
			c.CitedBy = &count
		}
	}
	return out
}

// abstracts fetches the abstract paragraphs of articleIDs in one exact-match
// query and joins them in paragraph order.
func (e *Enricher) abstracts(ctx context.Context, articleIDs []string) (map[string]string, error) {
	if len(articleIDs) == 0 || e.index == nil {
		return nil, nil
	}

	res, err := e.index.Search(ctx, searchindex.Request{
		Filter: filter.And{Children: []filter.Expr{
			filter.Exact{Field: filter.FieldArticleID, Values: articleIDs},
			filter.Exact{Field: filter.FieldSection, Values: []string{document.SectionAbstract}},
		}},
		Size: maxAbstractParagraphs,
		Mode: searchindex.ModeParagraphs,
	})
	if err != nil {
		return nil, err
	}

	byArticle := make(map[string][]document.Paragraph)
	for _, hit := range res.Hits {
		byArticle[hit.ArticleID] = append(byArticle[hit.ArticleID], hit.Paragraph)
	}

	out := make(map[string]string, len(byArticle))
	for id, paragraphs := range byArticle {
		sort.SliceStable(paragraphs, func(i, j int) bool { return paragraphs[i].Position < paragraphs[j].Position })
		texts := make([]string, len(paragraphs))
		for i, p := range paragraphs {
			texts[i] = p.Text
		}
		out[id] = strings.Join(texts, "\n")
	}
	return out, nil
}

func (e *Enricher) citedBy(ctx context.Context, dois []string) map[string]*int {
	var mu sync.Mutex
	out := make(map[string]*int, len(dois))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, doi := range dois {
		g.Go(func() error {
			n, err := e.citations.CitedBy(gctx, doi)
			if err != nil {
				e.logger.Warn("citation lookup failed", "doi", doi, "error", err)
				return nil
			}
			mu.Lock()
			out[doi] = n
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// lookupJournal matches the first registered ISSN of a possibly multi-ISSN field.
func lookupJournal(journals map[string]repository.Journal, field string) (repository.Journal, bool) {
	for _, issn := range strings.Fields(field) {
		if j, ok := journals[issn]; ok {
			return j, true
		}
	}
	return repository.Journal{}, false
}

func missingAbstractArticles(candidates []document.Candidate) []string {
	var ids []string
	for _, c := range candidates {
		if c.Abstract == "" && c.ArticleID != "" {
			ids = append(ids, c.ArticleID)
		}
	}
	return unique(ids)
}

func issns(candidates []document.Candidate) []string {
	var out []string
	for _, c := range candidates {
		out = append(out, strings.Fields(c.Journal)...)
	}
	return unique(out)
}

func dois(candidates []document.Candidate) []string {
	var out []string
	for _, c := range candidates {
		if c.DOI != "" {
			out = append(out, c.DOI)
		}
	}
	return unique(out)
}

func unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
