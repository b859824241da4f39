package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/knoguchi/scholarag/internal/document"
)

// ServiceReranker calls a remote scoring service that returns one similarity
// score per document in input order.
type ServiceReranker struct {
	url    string
	token  string
	client *http.Client
	logger *slog.Logger
}

// ServiceOption configures a ServiceReranker.
type ServiceOption func(*ServiceReranker)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) ServiceOption {
	return func(r *ServiceReranker) {
		r.client = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(r *ServiceReranker) {
		r.logger = logger
	}
}

// NewServiceReranker creates a reranker for the scoring endpoint at url. A
// non-empty token is sent as a bearer token.
func NewServiceReranker(url, token string, opts ...ServiceOption) *ServiceReranker {
	r := &ServiceReranker{
		url:    strings.TrimRight(url, "/"),
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type scoreRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type scoreResponse struct {
	Scores []float64 `json:"scores"`
}

// Name returns "service".
func (r *ServiceReranker) Name() string {
	return "service"
}

// Rerank scores candidates with the remote service.
func (r *ServiceReranker) Rerank(ctx context.Context, query string, candidates []document.Candidate, topK int) ([]document.Candidate, error) {
	if len(candidates) == 0 {
		return []document.Candidate{}, nil
	}
	start := time.Now()

	payload, err := json.Marshal(scoreRequest{Query: query, Documents: texts(candidates)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrQuotaExceeded
	case resp.StatusCode >= http.StatusInternalServerError:
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(body))
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var scored scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&scored); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}
	if len(scored.Scores) != len(candidates) {
		return nil, fmt.Errorf("rerank response has %d scores for %d documents", len(scored.Scores), len(candidates))
	}

	r.logger.Debug("reranking completed",
		"candidates", len(candidates),
		"top_k", topK,
		"duration", time.Since(start),
	)
	return rank(candidates, scored.Scores, topK), nil
}

var _ Reranker = (*ServiceReranker)(nil)
