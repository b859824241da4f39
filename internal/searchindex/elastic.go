package searchindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/knoguchi/scholarag/internal/document"
	"github.com/knoguchi/scholarag/internal/filter"
)

// ElasticDialect speaks the Elasticsearch JSON query DSL.
type ElasticDialect struct {
	client *elasticsearch.Client
}

// ElasticConfig holds connection settings for Elasticsearch.
type ElasticConfig struct {
	URL      string
	Username string
	Password string
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// NewElastic creates an Elasticsearch dialect.
func NewElastic(cfg ElasticConfig) (*ElasticDialect, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return &ElasticDialect{client: client}, nil
}

// Name returns the dialect name.
func (d *ElasticDialect) Name() string {
	return "elasticsearch"
}

// elasticFields maps filter fields to mapped Elasticsearch fields.
var elasticFields = map[filter.Field]string{
	filter.FieldArticleType: "article_type",
	filter.FieldAuthors:     "authors.keyword",
	filter.FieldJournal:     "journal",
	filter.FieldDate:        "date",
	filter.FieldArticleID:   "article_id",
	filter.FieldSection:     "section",
}

const (
	articlesAgg = "articles"
	countAgg    = "article_count"
	typesAgg    = "article_types"

	// countPrecision is the cardinality threshold below which counts are exact.
	countPrecision = 10000
)

// CompileQuery renders a request as a search body.
func (d *ElasticDialect) CompileQuery(req Request) (any, error) {
	filterQuery, err := elasticExpr(req.Filter)
	if err != nil {
		return nil, err
	}

	query := filterQuery
	if req.Text != "" {
		match := map[string]any{"text": req.Text}
		if req.Mode == ModeAuthors {
			match = map[string]any{"authors": map[string]any{"query": req.Text, "operator": "and"}}
		}
		query = map[string]any{
			"bool": map[string]any{
				"must":   []any{map[string]any{"match": match}},
				"filter": []any{filterQuery},
			},
		}
	}

	body := map[string]any{"query": query}
	switch req.Mode {
	case ModeParagraphs:
		body["size"] = req.Size
	case ModeAuthors:
		body["size"] = req.Size
		body["_source"] = []string{"authors"}
	case ModeArticleTypes:
		body["size"] = 0
		body["aggs"] = map[string]any{
			typesAgg: map[string]any{"terms": map[string]any{"field": "article_type", "size": req.Size}},
		}
	case ModeArticles:
		order := map[string]any{"max_score": "desc"}
		if req.SortByDate {
			order = map[string]any{"max_date": "desc"}
		}
		body["size"] = 0
		body["aggs"] = map[string]any{
			articlesAgg: map[string]any{
				"terms": map[string]any{
					"field": "article_id",
					"size":  req.Size,
					"order": order,
				},
				"aggs": map[string]any{
					"max_score": map[string]any{"max": map[string]any{"script": "_score"}},
					"max_date":  map[string]any{"max": map[string]any{"field": "date"}},
					"top":       map[string]any{"top_hits": map[string]any{"size": 1}},
				},
			},
		}
	case ModeCount:
		body["size"] = 0
		body["aggs"] = map[string]any{
			countAgg: map[string]any{"cardinality": map[string]any{
				"field":               "article_id",
				"precision_threshold": countPrecision,
			}},
		}
	default:
		return nil, fmt.Errorf("unknown search mode %d", req.Mode)
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}
	return encoded, nil
}

func elasticExpr(e filter.Expr) (map[string]any, error) {
	switch v := e.(type) {
	case nil, filter.MatchAll:
		return map[string]any{"match_all": map[string]any{}}, nil
	case filter.Word:
		return map[string]any{
			"multi_match": map[string]any{"query": v.Text, "fields": []string{"title", "text"}},
		}, nil
	case filter.And:
		children, err := elasticChildren(v.Children)
		if err != nil {
			return nil, err
		}
		return map[string]any{"bool": map[string]any{"must": children}}, nil
	case filter.Or:
		children, err := elasticChildren(v.Children)
		if err != nil {
			return nil, err
		}
		return map[string]any{"bool": map[string]any{"should": children, "minimum_should_match": 1}}, nil
	case filter.Exact:
		field, ok := elasticFields[v.Field]
		if !ok {
			return nil, fmt.Errorf("unknown field %q", v.Field)
		}
		return map[string]any{"terms": map[string]any{field: v.Values}}, nil
	case filter.DateRange:
		bounds := map[string]any{}
		if v.From != nil {
			bounds["gte"] = v.From.Format(filter.DateLayout)
		}
		if v.To != nil {
			bounds["lte"] = v.To.Format(filter.DateLayout)
		}
		return map[string]any{"range": map[string]any{elasticFields[v.Field]: bounds}}, nil
	default:
		return nil, fmt.Errorf("unsupported expression %T", e)
	}
}

func elasticChildren(exprs []filter.Expr) ([]any, error) {
	out := make([]any, len(exprs))
	for i, c := range exprs {
		q, err := elasticExpr(c)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

// ExecuteQuery posts the compiled body to the index's _search endpoint.
func (d *ElasticDialect) ExecuteQuery(ctx context.Context, index string, compiled any) (any, error) {
	body, ok := compiled.([]byte)
	if !ok {
		return nil, fmt.Errorf("elasticsearch: unexpected compiled query %T", compiled)
	}

	res, err := d.client.Search(
		d.client.Search.WithContext(ctx),
		d.client.Search.WithIndex(index),
		d.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", ErrUnavailable, err)
	}

	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, index)
	case res.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, res.StatusCode, truncate(raw))
	case res.IsError():
		return nil, fmt.Errorf("search rejected: status %d: %s", res.StatusCode, truncate(raw))
	}
	return raw, nil
}

type elasticHit struct {
	ID     string   `json:"_id"`
	Score  *float64 `json:"_score"`
	Source Doc      `json:"_source"`
}

type elasticResponse struct {
	Hits struct {
		Hits []elasticHit `json:"hits"`
	} `json:"hits"`
	Aggregations struct {
		Articles struct {
			Buckets []struct {
				Key string `json:"key"`
				Top struct {
					Hits struct {
						Hits []elasticHit `json:"hits"`
					} `json:"hits"`
				} `json:"top"`
				MaxScore struct {
					Value *float64 `json:"value"`
				} `json:"max_score"`
			} `json:"buckets"`
		} `json:"articles"`
		ArticleCount struct {
			Value int `json:"value"`
		} `json:"article_count"`
		ArticleTypes struct {
			Buckets []struct {
				Key      string `json:"key"`
				DocCount int    `json:"doc_count"`
			} `json:"buckets"`
		} `json:"article_types"`
	} `json:"aggregations"`
}

// ParseResult decodes a search response.
func (d *ElasticDialect) ParseResult(req Request, raw any) (*Result, error) {
	body, ok := raw.([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected raw response %T", raw)
	}

	var resp elasticResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	result := &Result{}
	switch req.Mode {
	case ModeCount:
		result.Total = resp.Aggregations.ArticleCount.Value
		return result, nil
	case ModeArticleTypes:
		for _, bucket := range resp.Aggregations.ArticleTypes.Buckets {
			result.Buckets = append(result.Buckets, Bucket{Key: bucket.Key, Count: bucket.DocCount})
		}
		result.Total = len(result.Buckets)
		return result, nil
	case ModeArticles:
		for _, bucket := range resp.Aggregations.Articles.Buckets {
			if len(bucket.Top.Hits.Hits) == 0 {
				continue
			}
			c := elasticCandidate(bucket.Top.Hits.Hits[0])
			if bucket.MaxScore.Value != nil {
				c.RetrievalScore = *bucket.MaxScore.Value
			}
			result.Hits = append(result.Hits, c)
		}
	default:
		for _, hit := range resp.Hits.Hits {
			result.Hits = append(result.Hits, elasticCandidate(hit))
		}
	}
	result.Total = len(result.Hits)
	return result, nil
}

func elasticCandidate(hit elasticHit) document.Candidate {
	c := document.Candidate{Paragraph: hit.Source.Paragraph(hit.ID)}
	if hit.Score != nil {
		c.RetrievalScore = *hit.Score
	}
	return c
}

// Ping checks that the index exists.
func (d *ElasticDialect) Ping(ctx context.Context, index string) error {
	res, err := d.client.Indices.Exists([]string{index}, d.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrIndexNotFound, index)
	case res.IsError():
		return fmt.Errorf("%w: status %d", ErrUnavailable, res.StatusCode)
	}
	return nil
}

func truncate(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

var _ Dialect = (*ElasticDialect)(nil)
