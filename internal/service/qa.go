// Package service orchestrates question answering, paragraph retrieval and
// article listing on top of the index, reranker, model and cache.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/knoguchi/scholarag/internal/apperror"
	"github.com/knoguchi/scholarag/internal/cache"
	"github.com/knoguchi/scholarag/internal/document"
	"github.com/knoguchi/scholarag/internal/filter"
	"github.com/knoguchi/scholarag/internal/generator"
	"github.com/knoguchi/scholarag/internal/metadata"
	"github.com/knoguchi/scholarag/internal/reranker"
	"github.com/knoguchi/scholarag/internal/retriever"
)

// QAResponse is a grounded answer with its cited sources.
type QAResponse struct {
	Answer    string                       `json:"answer"`
	RawAnswer string                       `json:"raw_answer"`
	Metadata  []document.ParagraphMetadata `json:"metadata"`
}

// QAService runs filter → cache → retrieve → rerank → generate → cache.
type QAService struct {
	retriever     *retriever.Retriever
	generator     *generator.Generator
	reranker      reranker.Reranker // Optional: nil skips reranking
	enricher      *metadata.Enricher
	cache         cache.Store
	cacheTTL      time.Duration
	rerankTimeout time.Duration
	logger        *slog.Logger
}

// QAOption is a functional option for configuring QAService.
type QAOption func(*QAService)

// WithReranker sets the reranker used when a request asks for reranking.
func WithReranker(r reranker.Reranker) QAOption {
	return func(s *QAService) {
		s.reranker = r
	}
}

// WithRerankTimeout bounds one rerank call.
func WithRerankTimeout(d time.Duration) QAOption {
	return func(s *QAService) {
		s.rerankTimeout = d
	}
}

// WithEnricher sets the metadata enricher.
func WithEnricher(e *metadata.Enricher) QAOption {
	return func(s *QAService) {
		s.enricher = e
	}
}

// WithCache sets the result cache and entry lifetime.
func WithCache(store cache.Store, ttl time.Duration) QAOption {
	return func(s *QAService) {
		s.cache = store
		s.cacheTTL = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) QAOption {
	return func(s *QAService) {
		s.logger = l
	}
}

// NewQAService creates a QA service.
func NewQAService(r *retriever.Retriever, g *generator.Generator, opts ...QAOption) *QAService {
	s := &QAService{
		retriever: r,
		generator: g,
		cache:     cache.NopStore{},
		cacheTTL:  cache.DefaultTTL,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CachePing checks the cache store.
func (s *QAService) CachePing(ctx context.Context) error {
	return s.cache.Ping(ctx)
}

// Answer returns a generated answer. cached reports whether it came from the cache.
func (s *QAService) Answer(ctx context.Context, req QARequest) (resp *QAResponse, cached bool, err error) {
	defer func() { recordError(err) }()

	key := s.key(cache.EndpointGenerative, req)
	if entry := s.lookup(ctx, cache.EndpointGenerative, key); entry != nil {
		return fromEntry(entry), true, nil
	}

	contexts, err := s.contexts(ctx, req)
	if err != nil {
		return nil, false, err
	}

	start := time.Now()
	ans, err := s.generator.Generate(ctx, req.Query, contexts)
	StageDuration.WithLabelValues("generate").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, false, err
	}

	resp = s.respond(ctx, ans)
	s.store(ctx, cache.EndpointGenerative, key, toEntry(resp))
	return resp, false, nil
}

// StreamSink receives a streamed answer.
type StreamSink interface {
	// Open is called once before any token, when the answer source is known.
	Open(cached bool)
	Write(token string) error
}

type generatorSink struct{ StreamSink }

func (g generatorSink) Open() { g.StreamSink.Open(false) }

// Stream generates an answer, writing displayable tokens to sink as they
// arrive. Failures before sink.Open leave nothing written. The cache is
// written only once the stream completed successfully; on a cache hit the
// stored answer is written as one token.
func (s *QAService) Stream(ctx context.Context, req QARequest, sink StreamSink) (resp *QAResponse, cached bool, err error) {
	defer func() { recordError(err) }()

	key := s.key(cache.EndpointStreamed, req)
	if entry := s.lookup(ctx, cache.EndpointStreamed, key); entry != nil {
		sink.Open(true)
		if err := sink.Write(entry.Answer); err != nil {
			return nil, true, err
		}
		return fromEntry(entry), true, nil
	}

	contexts, err := s.contexts(ctx, req)
	if err != nil {
		return nil, false, err
	}

	start := time.Now()
	ans, err := s.generator.Stream(ctx, req.Query, contexts, generatorSink{sink})
	StageDuration.WithLabelValues("generate").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	resp = s.respond(ctx, ans)
	s.store(ctx, cache.EndpointStreamed, key, toEntry(resp))
	return resp, false, nil
}

// Retrieve returns the final candidates as paragraph metadata without generation.
func (s *QAService) Retrieve(ctx context.Context, req QARequest) (out []document.ParagraphMetadata, cached bool, err error) {
	defer func() { recordError(err) }()

	key := s.key(cache.EndpointRetrieval, req)
	if entry := s.lookup(ctx, cache.EndpointRetrieval, key); entry != nil {
		return entry.Metadata, true, nil
	}

	contexts, err := s.contexts(ctx, req)
	if err != nil {
		return nil, false, err
	}

	contexts = s.enrich(ctx, contexts)
	out = make([]document.ParagraphMetadata, len(contexts))
	for i, c := range contexts {
		out[i] = c.Metadata()
	}

	s.store(ctx, cache.EndpointRetrieval, key, &cache.Entry{Metadata: out})
	return out, false, nil
}

// contexts retrieves, optionally reranks and numbers the paragraphs handed to
// the model.
func (s *QAService) contexts(ctx context.Context, req QARequest) ([]document.Candidate, error) {
	// Step 1: Retrieve
	start := time.Now()
	candidates, err := s.retriever.Retrieve(ctx, req.Query, filter.Compile(req.Filter), req.RetrieverK)
	StageDuration.WithLabelValues("retrieve").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	// Step 2: Rerank, or keep the index order
	if req.UseReranker && s.reranker != nil {
		candidates, err = s.rerank(ctx, req, candidates)
		if err != nil {
			return nil, err
		}
	} else if len(candidates) > req.RerankerK {
		candidates = candidates[:req.RerankerK]
	}

	// Step 3: Number the final ordering
	document.AssignContextIDs(candidates)
	return candidates, nil
}

func (s *QAService) rerank(ctx context.Context, req QARequest, candidates []document.Candidate) ([]document.Candidate, error) {
	if s.enricher != nil {
		candidates = s.enricher.AttachAbstracts(ctx, candidates)
	}

	rctx := ctx
	if s.rerankTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, s.rerankTimeout)
		defer cancel()
	}

	start := time.Now()
	ranked, err := s.reranker.Rerank(rctx, req.Query, candidates, req.RerankerK)
	StageDuration.WithLabelValues("rerank").Observe(time.Since(start).Seconds())
	if err == nil {
		return ranked, nil
	}

	s.logger.Warn("rerank failed", "reranker", s.reranker.Name(), "error", err)
	switch {
	case errors.Is(err, reranker.ErrQuotaExceeded):
		return nil, apperror.Wrap(apperror.RerankerQuotaExceeded, "The reranking service quota is exceeded.", err)
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return nil, err
	case errors.Is(rctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return nil, apperror.Wrap(apperror.ServiceInactive, "The reranker did not answer in time.", err)
	case errors.Is(err, reranker.ErrUnavailable):
		return nil, apperror.Wrap(apperror.ServiceInactive, "The reranker is unreachable.", err)
	default:
		return nil, apperror.Wrap(apperror.ServiceInactive, "The reranker failed to score the paragraphs.", err)
	}
}

func (s *QAService) respond(ctx context.Context, ans *generator.Answer) *QAResponse {
	sources := s.enrich(ctx, ans.Sources)
	resp := &QAResponse{
		Answer:    ans.Answer,
		RawAnswer: ans.RawAnswer,
		Metadata:  make([]document.ParagraphMetadata, len(sources)),
	}
	for i, c := range sources {
		resp.Metadata[i] = c.Metadata()
	}
	return resp
}

func (s *QAService) enrich(ctx context.Context, candidates []document.Candidate) []document.Candidate {
	if s.enricher == nil {
		return candidates
	}
	start := time.Now()
	defer func() { StageDuration.WithLabelValues("enrich").Observe(time.Since(start).Seconds()) }()
	return s.enricher.Enrich(ctx, candidates)
}

func (s *QAService) key(endpoint string, req QARequest) string {
	k := cache.KeyRequest{
		Endpoint:    endpoint,
		Query:       req.Query,
		RetrieverK:  req.RetrieverK,
		RerankerK:   req.RerankerK,
		UseReranker: req.UseReranker && s.reranker != nil,
		Filter:      req.Filter,
	}
	if endpoint != cache.EndpointRetrieval {
		k.Model = s.generator.ModelName()
	}
	return cache.ComputeKey(k)
}

// lookup returns nil on a miss. A failing store counts as a miss.
func (s *QAService) lookup(ctx context.Context, endpoint, key string) *cache.Entry {
	entry, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		CacheLookups.WithLabelValues(endpoint, "hit").Inc()
		return entry
	case errors.Is(err, cache.ErrMiss):
		CacheLookups.WithLabelValues(endpoint, "miss").Inc()
	default:
		CacheLookups.WithLabelValues(endpoint, "error").Inc()
		s.logger.Warn("cache lookup failed", "endpoint", endpoint, "error", err)
	}
	return nil
}

func (s *QAService) store(ctx context.Context, endpoint, key string, entry *cache.Entry) {
	if err := s.cache.Put(ctx, key, entry, s.cacheTTL); err != nil {
		CacheWrites.WithLabelValues(endpoint, "error").Inc()
		s.logger.Warn("cache write failed", "endpoint", endpoint, "error", err)
		return
	}
	CacheWrites.WithLabelValues(endpoint, "ok").Inc()
}

func toEntry(resp *QAResponse) *cache.Entry {
	return &cache.Entry{
		Answer:    resp.Answer,
		RawAnswer: resp.RawAnswer,
		Metadata:  resp.Metadata,
		CreatedAt: time.Now().UTC(),
	}
}

func fromEntry(entry *cache.Entry) *QAResponse {
	return &QAResponse{
		Answer:    entry.Answer,
		RawAnswer: entry.RawAnswer,
		Metadata:  entry.Metadata,
	}
}
