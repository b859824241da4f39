package searchindex

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/knoguchi/scholarag/internal/document"
	"github.com/knoguchi/scholarag/internal/filter"
)

const (
	// blevePageSize is the page length used when collecting distinct articles.
	blevePageSize = 500

	maxBleveArticleParagraphs = 10000

	authorWordsField = "author_words"
	articleTypeFacet = "article_types"
)

// NewIndexMapping returns the paragraph mapping: title and text analyzed with the
// standard analyzer, identifiers and exact-match attributes as keywords, date as datetime.
func NewIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()

	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("title", textFieldMapping)
	docMapping.AddFieldMappingsAt("text", textFieldMapping)

	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	for _, field := range []string{"article_id", "section", "doi", "pubmed_id", "pmc_id", "arxiv_id", "article_type", "journal"} {
		docMapping.AddFieldMappingsAt(field, keywordFieldMapping)
	}

	// Author names are matched exactly by filters and by word in suggestions.
	authorWordsMapping := bleve.NewTextFieldMapping()
	authorWordsMapping.Name = authorWordsField
	authorWordsMapping.Analyzer = standard.Name
	authorWordsMapping.Store = false
	authorWordsMapping.IncludeInAll = false
	docMapping.AddFieldMappingsAt("authors", keywordFieldMapping, authorWordsMapping)
	docMapping.AddFieldMappingsAt("date", bleve.NewDateTimeFieldMapping())
	docMapping.AddFieldMappingsAt("paragraph_id", bleve.NewNumericFieldMapping())

	im.AddDocumentMapping("paragraph", docMapping)
	im.DefaultType = "paragraph"
	im.DefaultMapping = docMapping
	return im
}

// OpenBleve opens the index at path, creating it with NewIndexMapping if missing.
func OpenBleve(path string) (bleve.Index, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open bleve index: %w", openErr)
		}
		return index, nil
	}

	index, err := bleve.New(path, NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create bleve index: %w", err)
	}
	return index, nil
}

// BleveDialect runs native Bleve queries against an embedded index. The index is
// registered under a name so that a misconfigured index name is reported the same
// way as with a remote index.
type BleveDialect struct {
	index bleve.Index
	name  string
}

// NewBleve creates a Bleve dialect serving index under name.
func NewBleve(index bleve.Index, name string) *BleveDialect {
	return &BleveDialect{index: index, name: name}
}

// Name returns the dialect name.
func (d *BleveDialect) Name() string {
	return "bleve"
}

type bleveQuery struct {
	query      blevequery.Query
	mode       Mode
	size       int
	sortByDate bool
}

type bleveResult struct {
	hits   []*search.DocumentMatch
	facets search.FacetResults
}

// CompileQuery builds the native query tree of a request.
func (d *BleveDialect) CompileQuery(req Request) (any, error) {
	q, err := bleveExpr(req.Filter)
	if err != nil {
		return nil, err
	}
	if req.Text != "" {
		text := bleve.NewMatchQuery(req.Text)
		text.SetField("text")
		if req.Mode == ModeAuthors {
			text.SetField(authorWordsField)
			text.SetOperator(blevequery.MatchQueryOperatorAnd)
		}
		q = bleve.NewConjunctionQuery(text, q)
	}
	if req.Mode < ModeParagraphs || req.Mode > ModeAuthors {
		return nil, fmt.Errorf("unknown search mode %d", req.Mode)
	}
	return &bleveQuery{query: q, mode: req.Mode, size: req.Size, sortByDate: req.SortByDate}, nil
}

func bleveExpr(e filter.Expr) (blevequery.Query, error) {
	switch v := e.(type) {
	case nil, filter.MatchAll:
		return bleve.NewMatchAllQuery(), nil
	case filter.Word:
		title := bleve.NewMatchQuery(v.Text)
		title.SetField("title")
		text := bleve.NewMatchQuery(v.Text)
		text.SetField("text")
		return bleve.NewDisjunctionQuery(title, text), nil
	case filter.And:
		children, err := bleveChildren(v.Children)
		if err != nil {
			return nil, err
		}
		return bleve.NewConjunctionQuery(children...), nil
	case filter.Or:
		children, err := bleveChildren(v.Children)
		if err != nil {
			return nil, err
		}
		return bleve.NewDisjunctionQuery(children...), nil
	case filter.Exact:
		terms := make([]blevequery.Query, len(v.Values))
		for i, value := range v.Values {
			term := bleve.NewTermQuery(value)
			term.SetField(string(v.Field))
			terms[i] = term
		}
		return bleve.NewDisjunctionQuery(terms...), nil
	case filter.DateRange:
		var from, to time.Time
		if v.From != nil {
			from = *v.From
		}
		if v.To != nil {
			to = *v.To
		}
		inclusive := true
		q := bleve.NewDateRangeInclusiveQuery(from, to, &inclusive, &inclusive)
		q.SetField(string(v.Field))
		return q, nil
	default:
		return nil, fmt.Errorf("unsupported expression %T", e)
	}
}

func bleveChildren(exprs []filter.Expr) ([]blevequery.Query, error) {
	out := make([]blevequery.Query, len(exprs))
	for i, c := range exprs {
		q, err := bleveExpr(c)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

// ExecuteQuery runs the query. Article listing and counting page through hits
// until enough distinct articles are seen.
func (d *BleveDialect) ExecuteQuery(ctx context.Context, index string, compiled any) (any, error) {
	if index != d.name {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, index)
	}
	q, ok := compiled.(*bleveQuery)
	if !ok {
		return nil, fmt.Errorf("bleve: unexpected compiled query %T", compiled)
	}

	switch q.mode {
	case ModeArticleTypes:
		req := bleve.NewSearchRequestOptions(q.query, 0, 0, false)
		req.AddFacet(articleTypeFacet, bleve.NewFacetRequest("article_type", q.size))
		res, err := d.index.SearchInContext(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("bleve search failed: %w", err)
		}
		return &bleveResult{facets: res.Facets}, nil
	case ModeParagraphs, ModeAuthors:
		req := bleve.NewSearchRequestOptions(q.query, q.size, 0, false)
		req.Fields = []string{"*"}
		res, err := d.index.SearchInContext(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("bleve search failed: %w", err)
		}
		return &bleveResult{hits: res.Hits}, nil
	}

	out := &bleveResult{}
	seen := make(map[string]struct{})
	for from := 0; ; from += blevePageSize {
		req := bleve.NewSearchRequestOptions(q.query, blevePageSize, from, false)
		if q.mode == ModeCount {
			req.Fields = []string{"article_id"}
		} else {
			req.Fields = []string{"*"}
		}
		if q.sortByDate {
			req.SortBy([]string{"-date", "-_score"})
		}

		res, err := d.index.SearchInContext(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("bleve search failed: %w", err)
		}

		for _, hit := range res.Hits {
			id := fieldString(hit.Fields["article_id"])
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out.hits = append(out.hits, hit)
			if q.mode == ModeArticles && len(out.hits) >= q.size {
				return out, nil
			}
		}
		if len(res.Hits) < blevePageSize || uint64(from+len(res.Hits)) >= res.Total {
			return out, nil
		}
	}
}

// ParseResult converts document matches into candidates.
func (d *BleveDialect) ParseResult(req Request, raw any) (*Result, error) {
	res, ok := raw.(*bleveResult)
	if !ok {
		return nil, fmt.Errorf("unexpected raw response %T", raw)
	}

	switch req.Mode {
	case ModeCount:
		return &Result{Total: len(res.hits)}, nil
	case ModeArticleTypes:
		out := &Result{}
		if facet, ok := res.facets[articleTypeFacet]; ok {
			for _, term := range facet.Terms.Terms() {
				out.Buckets = append(out.Buckets, Bucket{Key: term.Term, Count: term.Count})
			}
		}
		out.Total = len(out.Buckets)
		return out, nil
	}

	hits := make([]document.Candidate, 0, len(res.hits))
	for _, hit := range res.hits {
		doc := Doc{
			ArticleID:   fieldString(hit.Fields["article_id"]),
			ParagraphID: fieldInt(hit.Fields["paragraph_id"]),
			Title:       fieldString(hit.Fields["title"]),
			Text:        fieldString(hit.Fields["text"]),
			Section:     fieldString(hit.Fields["section"]),
			Authors:     fieldStrings(hit.Fields["authors"]),
			DOI:         fieldString(hit.Fields["doi"]),
			PubmedID:    fieldString(hit.Fields["pubmed_id"]),
			PMCID:       fieldString(hit.Fields["pmc_id"]),
			ArxivID:     fieldString(hit.Fields["arxiv_id"]),
			Date:        fieldString(hit.Fields["date"]),
			ArticleType: fieldString(hit.Fields["article_type"]),
			Journal:     fieldString(hit.Fields["journal"]),
		}
		hits = append(hits, document.Candidate{
			Paragraph:      doc.Paragraph(hit.ID),
			RetrievalScore: hit.Score,
		})
	}
	return &Result{Hits: hits, Total: len(hits)}, nil
}

// Ping checks the index name and that the index answers.
func (d *BleveDialect) Ping(_ context.Context, index string) error {
	if index != d.name {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, index)
	}
	if _, err := d.index.DocCount(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// BleveWriter loads paragraph documents into an embedded index.
type BleveWriter struct {
	index bleve.Index
}

// NewBleveWriter creates a writer for index.
func NewBleveWriter(index bleve.Index) *BleveWriter {
	return &BleveWriter{index: index}
}

// WriteArticle replaces the paragraphs of one article in a single batch.
// Previously stored paragraphs of the article that are not in docs are removed.
func (w *BleveWriter) WriteArticle(ctx context.Context, articleID string, docs map[string]Doc) error {
	q := bleve.NewTermQuery(articleID)
	q.SetField("article_id")
	req := bleve.NewSearchRequestOptions(q, maxBleveArticleParagraphs, 0, false)
	existing, err := w.index.SearchInContext(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to look up paragraphs of %s: %w", articleID, err)
	}

	batch := w.index.NewBatch()
	for _, hit := range existing.Hits {
		if _, keep := docs[hit.ID]; !keep {
			batch.Delete(hit.ID)
		}
	}
	for id, doc := range docs {
		if err := batch.Index(id, doc); err != nil {
			return fmt.Errorf("failed to index paragraph %s: %w", id, err)
		}
	}
	if err := w.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to write batch for %s: %w", articleID, err)
	}
	return nil
}

func fieldString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []any:
		if len(s) > 0 {
			return fieldString(s[0])
		}
	}
	return ""
}

func fieldStrings(v any) []string {
	switch s := v.(type) {
	case string:
		return []string{s}
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func fieldInt(v any) int {
	if f, ok := v.(float64); ok {
		return int(f)
	}
	return 0
}

var _ Dialect = (*BleveDialect)(nil)
