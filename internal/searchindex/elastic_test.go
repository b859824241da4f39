package searchindex

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/scholarag/internal/filter"
)

func newElasticServer(t *testing.T, status int, response string, captured *map[string]any) *ElasticDialect {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		if captured != nil && r.Body != nil {
			body, _ := io.ReadAll(r.Body)
			if len(body) > 0 {
				assert.NoError(t, json.Unmarshal(body, captured))
			}
			(*captured)["_path"] = r.URL.Path
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)

	d, err := NewElastic(ElasticConfig{URL: srv.URL})
	require.NoError(t, err)
	return d
}

func TestElastic_CompileParagraphQuery(t *testing.T) {
	d := &ElasticDialect{}
	from := time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)

	compiled, err := d.CompileQuery(Request{
		Text: "soil carbon",
		Filter: filter.Compile(filter.Set{
			Regions:  []filter.Phrase{{"x", "y"}, {"z"}},
			Authors:  []string{"Jan Krepl"},
			DateFrom: &from,
		}),
		Size: 20,
	})
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(compiled.([]byte), &body))
	assert.EqualValues(t, 20, body["size"])

	boolQ := body["query"].(map[string]any)["bool"].(map[string]any)
	must := boolQ["must"].([]any)
	assert.Equal(t, map[string]any{"match": map[string]any{"text": "soil carbon"}}, must[0])

	filterQ := boolQ["filter"].([]any)[0].(map[string]any)["bool"].(map[string]any)["must"].([]any)
	require.Len(t, filterQ, 3)

	regions := filterQ[0].(map[string]any)["bool"].(map[string]any)
	assert.EqualValues(t, 1, regions["minimum_should_match"])
	assert.Len(t, regions["should"], 2)

	assert.Equal(t, map[string]any{"terms": map[string]any{"authors.keyword": []any{"Jan Krepl"}}}, filterQ[1])
	assert.Equal(t, map[string]any{"range": map[string]any{"date": map[string]any{"gte": "2022-03-01"}}}, filterQ[2])
}

func TestElastic_CompileListingAndCount(t *testing.T) {
	d := &ElasticDialect{}

	compiled, err := d.CompileQuery(Request{Mode: ModeArticles, Size: 100, SortByDate: true})
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(compiled.([]byte), &body))
	assert.EqualValues(t, 0, body["size"])
	assert.Equal(t, map[string]any{"match_all": map[string]any{}}, body["query"])
	terms := body["aggs"].(map[string]any)["articles"].(map[string]any)["terms"].(map[string]any)
	assert.Equal(t, "article_id", terms["field"])
	assert.EqualValues(t, 100, terms["size"])
	assert.Equal(t, map[string]any{"max_date": "desc"}, terms["order"])

	compiled, err = d.CompileQuery(Request{Mode: ModeCount})
	require.NoError(t, err)
	body = nil
	require.NoError(t, json.Unmarshal(compiled.([]byte), &body))
	assert.Equal(t, map[string]any{
		"article_count": map[string]any{"cardinality": map[string]any{
			"field":               "article_id",
			"precision_threshold": float64(10000),
		}},
	}, body["aggs"])
	assert.EqualValues(t, 0, body["size"])
}

func TestElastic_SearchParagraphs(t *testing.T) {
	captured := map[string]any{}
	d := newElasticServer(t, http.StatusOK, `{
		"hits": {"hits": [
			{"_id": "p1", "_score": 3.5, "_source": {"article_id": "a1", "paragraph_id": 2, "title": "T", "text": "x", "journal": "1234567", "authors": ["A"]}},
			{"_id": "p2", "_score": 3.5, "_source": {"article_id": "a2", "title": "U", "text": "y"}}
		]}
	}`, &captured)

	res, err := New(d, "paragraphs").Search(context.Background(), Request{Text: "x", Size: 2})
	require.NoError(t, err)
	assert.Equal(t, "/paragraphs/_search", captured["_path"])
	require.Len(t, res.Hits, 2)
	assert.Equal(t, []string{"p1", "p2"}, hitIDs(res.Hits))
	assert.Equal(t, 3.5, res.Hits[0].RetrievalScore)
	assert.Equal(t, 2, res.Hits[0].Position)
	assert.Equal(t, "0123-4567", res.Hits[0].Journal)
	assert.Nil(t, res.Hits[0].RerankingScore)
}

func TestElastic_ParseListingAndCount(t *testing.T) {
	d := &ElasticDialect{}

	res, err := d.ParseResult(Request{Mode: ModeArticles}, []byte(`{"aggregations": {"articles": {"buckets": [
		{"key": "a2", "max_score": {"value": 2.0}, "top": {"hits": {"hits": [{"_id": "p9", "_source": {"article_id": "a2"}}]}}},
		{"key": "a1", "max_score": {"value": 1.0}, "top": {"hits": {"hits": [{"_id": "p1", "_source": {"article_id": "a1"}}]}}}
	]}}}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a2", "a1"}, articleIDs(res.Hits))
	assert.Equal(t, 2.0, res.Hits[0].RetrievalScore)

	res, err = d.ParseResult(Request{Mode: ModeCount}, []byte(`{"aggregations": {"article_count": {"value": 42}}}`))
	require.NoError(t, err)
	assert.Equal(t, 42, res.Total)
}

func TestElastic_Errors(t *testing.T) {
	d := newElasticServer(t, http.StatusNotFound, `{"error": {"type": "index_not_found_exception"}}`, nil)
	_, err := New(d, "missing").Search(context.Background(), Request{Size: 1})
	assert.ErrorIs(t, err, ErrIndexNotFound)

	d = newElasticServer(t, http.StatusServiceUnavailable, `{}`, nil)
	_, err = New(d, "paragraphs").Search(context.Background(), Request{Size: 1})
	assert.ErrorIs(t, err, ErrUnavailable)

	unreachable, err := NewElastic(ElasticConfig{URL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	_, err = New(unreachable, "paragraphs").Search(context.Background(), Request{Size: 1})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestElastic_ArticleTypes(t *testing.T) {
	captured := map[string]any{}
	d := newElasticServer(t, http.StatusOK, `{
		"aggregations": {"article_types": {"buckets": [
			{"key": "Journal Article", "doc_count": 26},
			{"key": "Review", "doc_count": 9}
		]}}
	}`, &captured)

	buckets, err := New(d, "paragraphs").ArticleTypes(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, []Bucket{{Key: "Journal Article", Count: 26}, {Key: "Review", Count: 9}}, buckets)

	assert.EqualValues(t, 0, captured["size"])
	assert.Equal(t, map[string]any{
		"article_types": map[string]any{"terms": map[string]any{"field": "article_type", "size": float64(100)}},
	}, captured["aggs"])
}

func TestElastic_AuthorWords(t *testing.T) {
	captured := map[string]any{}
	d := newElasticServer(t, http.StatusOK, `{
		"hits": {"hits": [
			{"_id": "p1", "_score": 1.0, "_source": {"authors": ["Da-Cheng Wang", "Li-Zi Yin"]}}
		]}
	}`, &captured)

	res, err := New(d, "paragraphs").Search(context.Background(), Request{Text: "wang", Size: 50, Mode: ModeAuthors})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, []string{"Da-Cheng Wang", "Li-Zi Yin"}, res.Hits[0].Authors)

	assert.EqualValues(t, 50, captured["size"])
	assert.Equal(t, []any{"authors"}, captured["_source"])
	must := captured["query"].(map[string]any)["bool"].(map[string]any)["must"].([]any)
	assert.Equal(t, map[string]any{
		"match": map[string]any{"authors": map[string]any{"query": "wang", "operator": "and"}},
	}, must[0])
}
