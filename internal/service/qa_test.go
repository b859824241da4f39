package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/scholarag/internal/apperror"
	"github.com/knoguchi/scholarag/internal/cache"
	"github.com/knoguchi/scholarag/internal/document"
	"github.com/knoguchi/scholarag/internal/filter"
	"github.com/knoguchi/scholarag/internal/generator"
	"github.com/knoguchi/scholarag/internal/llm"
	"github.com/knoguchi/scholarag/internal/reranker"
	"github.com/knoguchi/scholarag/internal/retriever"
	"github.com/knoguchi/scholarag/internal/searchindex"
)

type fakeIndex struct {
	mu       sync.Mutex
	hits     []document.Candidate
	err      error
	requests []searchindex.Request
	count    int
}

func (f *fakeIndex) Search(_ context.Context, req searchindex.Request) (*searchindex.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	hits := f.hits
	if req.Size > 0 && len(hits) > req.Size {
		hits = hits[:req.Size]
	}
	return &searchindex.Result{Hits: hits, Total: len(hits)}, nil
}

func (f *fakeIndex) Count(_ context.Context, expr filter.Expr) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, searchindex.Request{Filter: expr, Mode: searchindex.ModeCount})
	if f.err != nil {
		return 0, f.err
	}
	return f.count, nil
}

type fakeLLM struct {
	text   string
	tokens []string
	calls  int
	err    error
	// streamed runs once every chunk, the final one included, is queued.
	streamed func()
}

func (f *fakeLLM) Generate(context.Context, string, llm.GenerateOptions) (*llm.Completion, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Completion{Text: f.text}, nil
}

func (f *fakeLLM) GenerateStream(context.Context, string, llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan llm.StreamChunk, len(f.tokens)+1)
	for _, tok := range f.tokens {
		out <- llm.StreamChunk{Token: tok}
	}
	out <- llm.StreamChunk{Done: true}
	close(out)
	if f.streamed != nil {
		f.streamed()
	}
	return out, nil
}

func (f *fakeLLM) ModelName() string { return "fake-model" }

// fakeReranker scores candidates by the numeric suffix of their paragraph id
// reversed, so p9 ranks first.
type fakeReranker struct {
	err   error
	block bool
	got   []document.Candidate
}

func (f *fakeReranker) Rerank(ctx context.Context, _ string, candidates []document.Candidate, topK int) ([]document.Candidate, error) {
	f.got = candidates
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]document.Candidate, len(candidates))
	for i := range candidates {
		c := candidates[len(candidates)-1-i]
		score := float64(len(candidates) - i)
		c.RerankingScore = &score
		out[i] = c
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (f *fakeReranker) Name() string { return "fake" }

type memStore struct {
	mu      sync.Mutex
	entries map[string]*cache.Entry
	getErr  error
	puts    int
}

func newMemStore() *memStore { return &memStore{entries: map[string]*cache.Entry{}} }

func (m *memStore) Get(_ context.Context, key string) (*cache.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	e, ok := m.entries[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	return e, nil
}

func (m *memStore) Put(_ context.Context, key string, e *cache.Entry, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	m.entries[key] = e
	return nil
}

func (m *memStore) Ping(context.Context) error { return nil }

func hits(n int) []document.Candidate {
	out := make([]document.Candidate, n)
	for i := range out {
		out[i] = document.Candidate{
			Paragraph: document.Paragraph{
				ParagraphID: fmt.Sprintf("p%d", i),
				ArticleID:   fmt.Sprintf("a%d", i),
				Title:       fmt.Sprintf("Title %d", i),
				Text:        fmt.Sprintf("text %d", i),
			},
			RetrievalScore: float64(n - i),
		}
	}
	return out
}

type fixture struct {
	index    *fakeIndex
	llm      *fakeLLM
	reranker *fakeReranker
	store    *memStore
	svc      *QAService
}

func newFixture(opts ...QAOption) *fixture {
	f := &fixture{
		index:    &fakeIndex{hits: hits(10)},
		llm:      &fakeLLM{text: "Soil stores carbon.\n" + generator.SourcesSeparator + ": 1, 0"},
		reranker: &fakeReranker{},
		store:    newMemStore(),
	}
	base := []QAOption{WithReranker(f.reranker), WithCache(f.store, time.Hour)}
	f.svc = NewQAService(
		retriever.New(f.index, nil),
		generator.New(f.llm, generator.Options{}, nil),
		append(base, opts...)...,
	)
	return f
}

func request() QARequest {
	r := NewQARequest("How does soil store carbon?")
	r.RetrieverK = 10
	r.RerankerK = 3
	r.Filter = filter.Set{Topics: []filter.Phrase{{"soil"}}}
	return r
}

func TestAnswer_Reranked(t *testing.T) {
	f := newFixture()

	resp, cached, err := f.svc.Answer(context.Background(), request())
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "Soil stores carbon.", resp.Answer)

	// Reranked order is p9, p8, p7; the model cited context 1 then 0.
	require.Len(t, resp.Metadata, 2)
	assert.Equal(t, "p8", resp.Metadata[0].DSDocumentID)
	assert.Equal(t, 1, resp.Metadata[0].ContextID)
	assert.Equal(t, "p9", resp.Metadata[1].DSDocumentID)
	assert.Equal(t, 0, resp.Metadata[1].ContextID)
	require.NotNil(t, resp.Metadata[0].RerankingScore)

	require.Len(t, f.index.requests, 1)
	assert.Equal(t, "soil", f.index.requests[0].Filter.String())
	assert.Equal(t, 10, f.index.requests[0].Size)
	assert.Len(t, f.reranker.got, 10)
}

func TestAnswer_WithoutReranker(t *testing.T) {
	f := newFixture()
	req := request()
	req.UseReranker = false

	resp, _, err := f.svc.Answer(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, f.reranker.got)
	assert.Equal(t, "p1", resp.Metadata[0].DSDocumentID)
	assert.Nil(t, resp.Metadata[0].RerankingScore)
}

func TestAnswer_CacheHit(t *testing.T) {
	f := newFixture()

	first, cached, err := f.svc.Answer(context.Background(), request())
	require.NoError(t, err)
	require.False(t, cached)

	req := request()
	req.Query = "  how does SOIL store carbon? "
	second, cached, err := f.svc.Answer(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.llm.calls)
	assert.Len(t, f.index.requests, 1)
}

func TestAnswer_CacheFailureDegrades(t *testing.T) {
	f := newFixture()
	f.store.getErr = errors.New("redis down")

	_, cached, err := f.svc.Answer(context.Background(), request())
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 1, f.llm.calls)
}

func TestAnswer_ErrorsAreNotCached(t *testing.T) {
	f := newFixture()
	f.llm.text = "I do not know."

	_, _, err := f.svc.Answer(context.Background(), request())
	assert.True(t, apperror.IsKind(err, apperror.NoAnswerFromModel))
	assert.Zero(t, f.store.puts)
}

func TestAnswer_NoContext(t *testing.T) {
	f := newFixture()
	f.index.hits = nil

	_, _, err := f.svc.Answer(context.Background(), request())
	assert.True(t, apperror.IsKind(err, apperror.NoContextFound))
	assert.Zero(t, f.llm.calls)
}

func TestAnswer_RerankerErrors(t *testing.T) {
	cases := []struct {
		name   string
		rr     *fakeReranker
		kind   apperror.Kind
		detail string
	}{
		{"quota", &fakeReranker{err: fmt.Errorf("%w: 429", reranker.ErrQuotaExceeded)}, apperror.RerankerQuotaExceeded, "quota"},
		{"unreachable", &fakeReranker{err: fmt.Errorf("%w: dial", reranker.ErrUnavailable)}, apperror.ServiceInactive, "unreachable"},
		{"timeout", &fakeReranker{block: true}, apperror.ServiceInactive, "in time"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(WithReranker(tc.rr), WithRerankTimeout(10*time.Millisecond))
			_, _, err := f.svc.Answer(context.Background(), request())
			appErr, ok := apperror.As(err)
			require.True(t, ok)
			assert.Equal(t, tc.kind, appErr.Kind)
			assert.Contains(t, appErr.Detail, tc.detail)
			assert.Zero(t, f.llm.calls)
		})
	}
}

func TestStream_WritesCacheAfterCompletion(t *testing.T) {
	f := newFixture()
	f.llm.tokens = []string{"Soil stores ", "carbon.\n", generator.SourcesSeparator, ": 0"}

	sink := &recordingSink{}
	resp, cached, err := f.svc.Stream(context.Background(), request(), sink)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, []bool{false}, sink.opened)
	assert.Equal(t, "Soil stores carbon.\n", sink.out.String())
	assert.Equal(t, "Soil stores carbon.", resp.Answer)
	assert.Equal(t, 1, f.store.puts)

	sink = &recordingSink{}
	again, cached, err := f.svc.Stream(context.Background(), request(), sink)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, resp, again)
	assert.Equal(t, []bool{true}, sink.opened)
	assert.Equal(t, "Soil stores carbon.", sink.out.String())
}

func TestStream_ClientGoneSkipsCache(t *testing.T) {
	f := newFixture()
	f.llm.tokens = []string{"Soil", generator.SourcesSeparator, ": 0"}

	_, _, err := f.svc.Stream(context.Background(), request(), &recordingSink{err: errors.New("broken pipe")})
	assert.Error(t, err)
	assert.Zero(t, f.store.puts)
}

type cancellingSink struct {
	recordingSink
	cancel context.CancelFunc
}

func (c *cancellingSink) Write(token string) error {
	c.cancel()
	return c.recordingSink.Write(token)
}

func TestStream_CancelledContextSkipsCache(t *testing.T) {
	tests := []struct {
		name string
		run  func(f *fixture, ctx context.Context, cancel context.CancelFunc) error
	}{
		{
			name: "mid-stream",
			run: func(f *fixture, ctx context.Context, cancel context.CancelFunc) error {
				_, _, err := f.svc.Stream(ctx, request(), &cancellingSink{cancel: cancel})
				return err
			},
		},
		{
			name: "after the final chunk",
			run: func(f *fixture, ctx context.Context, cancel context.CancelFunc) error {
				f.llm.streamed = cancel
				_, _, err := f.svc.Stream(ctx, request(), &recordingSink{})
				return err
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.llm.tokens = []string{"Soil ", "stores carbon.\n", generator.SourcesSeparator, ": 0"}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			err := tt.run(f, ctx, cancel)
			assert.ErrorIs(t, err, context.Canceled)
			assert.Zero(t, f.store.puts)
			assert.Empty(t, f.store.entries)

			// The same request on a live context computes and caches the answer.
			_, cached, err := f.svc.Stream(context.Background(), request(), &recordingSink{})
			require.NoError(t, err)
			assert.False(t, cached)
			assert.Equal(t, 1, f.store.puts)
		})
	}
}

func TestStream_NoContextFailsBeforeOpen(t *testing.T) {
	f := newFixture()
	f.index.hits = nil

	sink := &recordingSink{}
	_, _, err := f.svc.Stream(context.Background(), request(), sink)
	assert.True(t, apperror.IsKind(err, apperror.NoContextFound))
	assert.Empty(t, sink.opened)
}

type recordingSink struct {
	opened []bool
	out    strings.Builder
	err    error
}

func (r *recordingSink) Open(cached bool) { r.opened = append(r.opened, cached) }

func (r *recordingSink) Write(token string) error {
	if r.err != nil {
		return r.err
	}
	r.out.WriteString(token)
	return nil
}

func TestRetrieve(t *testing.T) {
	f := newFixture()
	req := request()
	req.UseReranker = false

	out, cached, err := f.svc.Retrieve(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, cached)
	require.Len(t, out, 3)
	for i, m := range out {
		assert.Equal(t, fmt.Sprintf("p%d", i), m.DSDocumentID)
		assert.Equal(t, i, m.ContextID)
	}
	assert.Zero(t, f.llm.calls)

	_, cached, err = f.svc.Retrieve(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, cached)
}

func TestQARequest_Validate(t *testing.T) {
	ok := NewQARequest("q")
	require.NoError(t, ok.Validate())

	bad := []func(*QARequest){
		func(r *QARequest) { r.Query = "  " },
		func(r *QARequest) { r.RetrieverK = 0 },
		func(r *QARequest) { r.RetrieverK = MaxRetrieverK + 1 },
		func(r *QARequest) { r.RerankerK = 0 },
		func(r *QARequest) { r.RetrieverK, r.RerankerK = 5, 6 },
		func(r *QARequest) { r.Filter.Journals = []string{"12345678"} },
	}
	for i, mutate := range bad {
		r := NewQARequest("q")
		mutate(&r)
		assert.ErrorIs(t, r.Validate(), ErrInvalidRequest, "case %d", i)
	}
}
