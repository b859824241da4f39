package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knoguchi/scholarag/internal/filter"
)

// ErrInvalidRequest marks request validation failures.
var ErrInvalidRequest = errors.New("invalid request")

// ErrInvalidRequestNoText is returned by count and listing without topics or regions.
var ErrInvalidRequestNoText = fmt.Errorf("%w: at least one topic or region is required", ErrInvalidRequest)

const (
	DefaultRetrieverK = 500
	MaxRetrieverK     = 1000
	DefaultRerankerK  = 8

	DefaultNumberResults = 100
	DefaultListingSize   = 50
	MaxListingSize       = 100
)

// QARequest is a question with its retrieval parameters.
type QARequest struct {
	Query       string `json:"query"`
	RetrieverK  int    `json:"retriever_k"`
	RerankerK   int    `json:"reranker_k"`
	UseReranker bool   `json:"use_reranker"`

	Filter filter.Set `json:"-"`
}

// NewQARequest returns a request with the documented defaults.
func NewQARequest(query string) QARequest {
	return QARequest{
		Query:       query,
		RetrieverK:  DefaultRetrieverK,
		RerankerK:   DefaultRerankerK,
		UseReranker: true,
	}
}

// Validate checks parameter bounds and the filter.
func (r QARequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return fmt.Errorf("%w: query must not be empty", ErrInvalidRequest)
	}
	if r.RetrieverK < 1 || r.RetrieverK > MaxRetrieverK {
		return fmt.Errorf("%w: retriever_k must be between 1 and %d", ErrInvalidRequest, MaxRetrieverK)
	}
	if r.RerankerK < 1 || r.RerankerK > r.RetrieverK {
		return fmt.Errorf("%w: reranker_k must be between 1 and retriever_k", ErrInvalidRequest)
	}
	if err := r.Filter.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// ListRequest selects a page of distinct articles.
type ListRequest struct {
	Filter        filter.Set
	NumberResults int
	Size          int
	Page          int
	SortByDate    bool
}

// NewListRequest returns a listing request with the documented defaults.
func NewListRequest(f filter.Set) ListRequest {
	return ListRequest{
		Filter:        f,
		NumberResults: DefaultNumberResults,
		Size:          DefaultListingSize,
		Page:          1,
	}
}

// Validate checks bounds against the configured maximum of number_results.
func (r ListRequest) Validate(maxResults int) error {
	if !r.Filter.HasText() {
		return ErrInvalidRequestNoText
	}
	if r.NumberResults < 1 || r.NumberResults > maxResults {
		return fmt.Errorf("%w: number_results must be between 1 and %d", ErrInvalidRequest, maxResults)
	}
	if r.Size < 1 || r.Size > MaxListingSize {
		return fmt.Errorf("%w: size must be between 1 and %d", ErrInvalidRequest, MaxListingSize)
	}
	if r.Page < 1 {
		return fmt.Errorf("%w: page must be at least 1", ErrInvalidRequest)
	}
	if err := r.Filter.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}
