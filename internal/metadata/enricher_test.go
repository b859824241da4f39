package metadata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/scholarag/internal/document"
	"github.com/knoguchi/scholarag/internal/repository"
	"github.com/knoguchi/scholarag/internal/searchindex"
)

type fakeIndex struct {
	hits []document.Candidate
	err  error
	got  searchindex.Request
}

func (f *fakeIndex) Search(_ context.Context, req searchindex.Request) (*searchindex.Result, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &searchindex.Result{Hits: f.hits, Total: len(f.hits)}, nil
}

type fakeJournals struct {
	rows map[string]repository.Journal
	err  error
}

func (f *fakeJournals) GetByISSNs(_ context.Context, issns []string) (map[string]repository.Journal, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]repository.Journal{}
	for _, issn := range issns {
		if j, ok := f.rows[issn]; ok {
			out[issn] = j
		}
	}
	return out, nil
}

type fakeCitations struct {
	mu     sync.Mutex
	counts map[string]int
	calls  []string
}

func (f *fakeCitations) CitedBy(_ context.Context, doi string) (*int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, doi)
	n, ok := f.counts[doi]
	if !ok {
		return nil, errors.New("registry down")
	}
	return &n, nil
}

func abstractHit(article string, position int, text string) document.Candidate {
	return document.Candidate{Paragraph: document.Paragraph{
		ParagraphID: fmt.Sprintf("%s-%d", article, position),
		ArticleID:   article,
		Position:    position,
		Section:     document.SectionAbstract,
		Text:        text,
	}}
}

func candidates() []document.Candidate {
	return []document.Candidate{
		{Paragraph: document.Paragraph{ParagraphID: "p1", ArticleID: "a1", Journal: "1234-5678", DOI: "10.1/x"}},
		{Paragraph: document.Paragraph{ParagraphID: "p2", ArticleID: "a1", Journal: "1234-5678", DOI: "10.1/x"}},
		{Paragraph: document.Paragraph{ParagraphID: "p3", ArticleID: "a2", Journal: "0000-0001 8765-4321", DOI: "10.1/y"}},
	}
}

func TestAttachAbstracts(t *testing.T) {
	idx := &fakeIndex{hits: []document.Candidate{
		abstractHit("a1", 2, "second"),
		abstractHit("a1", 1, "first"),
	}}
	in := candidates()
	out := New(idx).AttachAbstracts(context.Background(), in)

	assert.Equal(t, "first\nsecond", out[0].Abstract)
	assert.Equal(t, "first\nsecond", out[1].Abstract)
	assert.Empty(t, out[2].Abstract)
	assert.Empty(t, in[0].Abstract, "input must not be mutated")

	assert.Equal(t, searchindex.ModeParagraphs, idx.got.Mode)
	assert.Equal(t,
		`article_id:("a1" OR "a2") AND section:("Abstract")`,
		idx.got.Filter.String())
}

func TestEnrich(t *testing.T) {
	impact := 4.2
	journals := &fakeJournals{rows: map[string]repository.Journal{
		"1234-5678": {ISSN: "1234-5678", Name: "Soil Journal", ImpactFactor: &impact},
		"8765-4321": {ISSN: "8765-4321", Name: "Ocean Letters"},
	}}
	citations := &fakeCitations{counts: map[string]int{"10.1/x": 12}}

	e := New(&fakeIndex{hits: []document.Candidate{abstractHit("a2", 0, "abs")}},
		WithJournals(journals), WithCitations(citations))
	out := e.Enrich(context.Background(), candidates())

	require.NotNil(t, out[0].JournalName)
	assert.Equal(t, "Soil Journal", *out[0].JournalName)
	assert.Equal(t, 4.2, *out[0].ImpactFactor)
	require.NotNil(t, out[0].CitedBy)
	assert.Equal(t, 12, *out[0].CitedBy)

	assert.Equal(t, "Ocean Letters", *out[2].JournalName)
	assert.Nil(t, out[2].ImpactFactor)
	assert.Nil(t, out[2].CitedBy, "failed lookups stay nil")
	assert.Equal(t, "abs", out[2].Abstract)

	assert.ElementsMatch(t, []string{"10.1/x", "10.1/y"}, citations.calls, "each DOI is looked up once")
}

func TestEnrich_SourcesFailing(t *testing.T) {
	e := New(&fakeIndex{err: errors.New("index down")},
		WithJournals(&fakeJournals{err: errors.New("db down")}),
		WithCitations(&fakeCitations{}))

	out := e.Enrich(context.Background(), candidates())
	require.Len(t, out, 3)
	for _, c := range out {
		assert.Empty(t, c.Abstract)
		assert.Nil(t, c.JournalName)
		assert.Nil(t, c.ImpactFactor)
		assert.Nil(t, c.CitedBy)
	}
}

func TestCrossrefClient_CitedBy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/works/10.1/x":
			assert.Equal(t, "me@example.org", r.URL.Query().Get("mailto"))
			fmt.Fprint(w, `{"status":"ok","message":{"is-referenced-by-count":7}}`)
		case "/works/10.1/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewCrossrefClient(srv.URL, WithMailto("me@example.org"))

	n, err := c.CitedBy(context.Background(), "10.1/x")
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, 7, *n)

	n, err = c.CitedBy(context.Background(), "10.1/missing")
	require.NoError(t, err)
	assert.Nil(t, n)

	_, err = c.CitedBy(context.Background(), "10.1/boom")
	assert.Error(t, err)
}
