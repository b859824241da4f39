package ingestion

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/blevesearch/bleve/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/scholarag/internal/filter"
	"github.com/knoguchi/scholarag/internal/searchindex"
	"github.com/knoguchi/scholarag/internal/vectorstore"
)

type fakeDocs struct {
	articles map[string]map[string]searchindex.Doc
	err      error
}

func (f *fakeDocs) WriteArticle(_ context.Context, articleID string, docs map[string]searchindex.Doc) error {
	if f.err != nil {
		return f.err
	}
	if f.articles == nil {
		f.articles = map[string]map[string]searchindex.Doc{}
	}
	f.articles[articleID] = docs
	return nil
}

type fakeVectors struct {
	dimension int
	points    map[string]vectorstore.Point
	deleted   []string
}

func (f *fakeVectors) EnsureCollection(_ context.Context, dimension int) error {
	f.dimension = dimension
	return nil
}

func (f *fakeVectors) Upsert(_ context.Context, points []vectorstore.Point) error {
	if f.points == nil {
		f.points = map[string]vectorstore.Point{}
	}
	for _, p := range points {
		f.points[p.ParagraphID] = p
	}
	return nil
}

func (f *fakeVectors) Vectors(context.Context, []string) (map[string][]float32, error) {
	return nil, nil
}

func (f *fakeVectors) DeleteArticle(_ context.Context, articleID string) error {
	f.deleted = append(f.deleted, articleID)
	for id, p := range f.points {
		if p.ArticleID == articleID {
			delete(f.points, id)
		}
	}
	return nil
}

type fakeEmbedder struct {
	inputs []string
	err    error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, texts...)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int    { return 2 }
func (f *fakeEmbedder) ModelName() string { return "fake" }

const sampleLines = `{"article_id": "a1", "title": "Peatland carbon", "authors": ["Ana Silva"], "journal": "12345678", "date": "2021-03-04", "paragraphs": [{"section": "Abstract", "text": "Peat stores carbon."}, {"section": "Results", "text": "Drained peat emits CO2."}]}

not json
{"article_id": "", "title": "No id"}
{"article_id": "a2", "title": "Soil", "paragraphs": [{"section": "Introduction", "text": "Soil matters."}]}
`

func TestLoad_IndexesAndSkips(t *testing.T) {
	docs := &fakeDocs{}
	stats, err := NewLoader(docs).Load(context.Background(), strings.NewReader(sampleLines))
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Articles)
	assert.Equal(t, 3, stats.Paragraphs)
	assert.Equal(t, 2, stats.Skipped)
	assert.Zero(t, stats.Embedded)

	a1 := docs.articles["a1"]
	require.Len(t, a1, 2)
	assert.Equal(t, "Peat stores carbon.", a1["a1_0"].Text)
	assert.Equal(t, "Abstract", a1["a1_0"].Section)
	assert.Equal(t, 1, a1["a1_1"].ParagraphID)
	assert.Equal(t, []string{"Ana Silva"}, a1["a1_1"].Authors)
	assert.Equal(t, "12345678", a1["a1_1"].Journal)
}

func TestLoad_StoresVectors(t *testing.T) {
	vectors := &fakeVectors{}
	emb := &fakeEmbedder{}
	loader := NewLoader(&fakeDocs{}, WithVectors(vectors, emb))

	stats, err := loader.Load(context.Background(), strings.NewReader(sampleLines))
	require.NoError(t, err)

	assert.Equal(t, 2, vectors.dimension)
	assert.Equal(t, 3, stats.Embedded)
	assert.Equal(t, []string{"a1", "a2"}, vectors.deleted)
	require.Contains(t, vectors.points, "a1_1")
	assert.Equal(t, "a1", vectors.points["a1_1"].ArticleID)
	assert.Equal(t, "Peatland carbon\nPeat stores carbon.\nDrained peat emits CO2.", emb.inputs[1])

	// Reloading replaces the same points.
	_, err = loader.Load(context.Background(), strings.NewReader(sampleLines))
	require.NoError(t, err)
	assert.Len(t, vectors.points, 3)
}

func TestLoad_SplitsLongParagraphs(t *testing.T) {
	docs := &fakeDocs{}
	line := `{"article_id": "a1", "title": "T", "paragraphs": [{"section": "Results", "text": "One two three. Four five six. Seven."}, {"text": "Last."}]}`

	stats, err := NewLoader(docs, WithMaxWords(4)).Load(context.Background(), strings.NewReader(line))
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Paragraphs)

	a1 := docs.articles["a1"]
	assert.Equal(t, "One two three.", a1["a1_0"].Text)
	assert.Equal(t, "Four five six. Seven.", a1["a1_1"].Text)
	assert.Equal(t, "Results", a1["a1_1"].Section)
	assert.Equal(t, "Last.", a1["a1_3"].Text)
}

func TestLoad_WriteFailureStops(t *testing.T) {
	boom := errors.New("disk full")
	stats, err := NewLoader(&fakeDocs{err: boom}).Load(context.Background(), strings.NewReader(sampleLines))
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, stats.Articles)
}

func TestLoad_EmbedFailureStops(t *testing.T) {
	boom := errors.New("ollama down")
	loader := NewLoader(&fakeDocs{}, WithVectors(&fakeVectors{}, &fakeEmbedder{err: boom}))
	_, err := loader.Load(context.Background(), strings.NewReader(sampleLines))
	assert.ErrorIs(t, err, boom)
}

func TestLoad_IntoBleve(t *testing.T) {
	idx, err := bleve.NewMemOnly(searchindex.NewIndexMapping())
	require.NoError(t, err)
	defer idx.Close()

	_, err = NewLoader(searchindex.NewBleveWriter(idx)).Load(context.Background(), strings.NewReader(sampleLines))
	require.NoError(t, err)

	index := searchindex.New(searchindex.NewBleve(idx, "paragraphs"), "paragraphs")
	expr := filter.Compile(filter.Set{Topics: []filter.Phrase{{"peat"}}})
	res, err := index.Search(context.Background(), searchindex.Request{Text: "peat carbon", Filter: expr, Size: 10})
	require.NoError(t, err)
	require.NotEmpty(t, res.Hits)
	assert.Equal(t, "a1", res.Hits[0].ArticleID)
	assert.Equal(t, "1234-5678", res.Hits[0].Journal)

	n, err := index.Count(context.Background(), expr)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSplitter(t *testing.T) {
	s := Splitter{MaxWords: 5}
	assert.Nil(t, s.Split("  "))
	assert.Equal(t, []string{"Short text."}, s.Split(" Short text. "))
	assert.Equal(t,
		[]string{"Carbon is stored, e.g. in peat.", "It is lost on drainage."},
		Splitter{MaxWords: 7}.Split("Carbon is stored, e.g. in peat. It is lost on drainage."))
	assert.Equal(t,
		[]string{"a b c d e", "f g"},
		s.Split("a b c d e f g"))
	assert.Equal(t, []string{strings.Repeat("w ", 20) + "w."}, Splitter{}.Split(strings.Repeat("w ", 20)+"w."))
}
