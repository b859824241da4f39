// Package cache stores finished question answering results keyed by a digest
// of the normalized request.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/knoguchi/scholarag/internal/document"
	"github.com/knoguchi/scholarag/internal/filter"
)

// keyVersion must be bumped when the key payload or Entry layout changes.
const keyVersion = 1

// DefaultTTL is how long an entry is served.
const DefaultTTL = 30 * 24 * time.Hour

// ErrMiss is returned by Get when no entry exists for a key.
var ErrMiss = errors.New("cache miss")

// Endpoint kinds that share the key space.
const (
	EndpointGenerative = "generative"
	EndpointStreamed   = "streamed_generative"
	EndpointRetrieval  = "retrieval"
)

// KeyRequest holds every input that changes a result.
type KeyRequest struct {
	Endpoint    string
	Query       string
	RetrieverK  int
	RerankerK   int
	UseReranker bool
	Filter      filter.Set
	Model       string
}

type keyFilter struct {
	Topics       [][]string `json:"topics"`
	Regions      [][]string `json:"regions"`
	ArticleTypes []string   `json:"article_types"`
	Authors      []string   `json:"authors"`
	Journals     []string   `json:"journals"`
	DateFrom     string     `json:"date_from"`
	DateTo       string     `json:"date_to"`
}

type keyPayload struct {
	Version     int       `json:"v"`
	Endpoint    string    `json:"endpoint"`
	Query       string    `json:"query"`
	RetrieverK  int       `json:"retriever_k"`
	RerankerK   int       `json:"reranker_k"`
	UseReranker bool      `json:"use_reranker"`
	Filter      keyFilter `json:"filter"`
	Model       string    `json:"model"`
}

// NormalizeQuery trims, case-folds and collapses internal whitespace.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// ComputeKey returns the hex SHA-256 digest of the canonical request encoding.
// Requests that differ only in query spacing, case or filter order share a key.
func ComputeKey(req KeyRequest) string {
	f := req.Filter.Canonical()
	payload := keyPayload{
		Version:     keyVersion,
		Endpoint:    req.Endpoint,
		Query:       NormalizeQuery(req.Query),
		RetrieverK:  req.RetrieverK,
		RerankerK:   req.RerankerK,
		UseReranker: req.UseReranker,
		Filter: keyFilter{
			Topics:       phrases(f.Topics),
			Regions:      phrases(f.Regions),
			ArticleTypes: f.ArticleTypes,
			Authors:      f.Authors,
			Journals:     f.Journals,
			DateFrom:     date(f.DateFrom),
			DateTo:       date(f.DateTo),
		},
		Model: req.Model,
	}
	if !req.UseReranker {
		payload.RerankerK = 0
	}

	// Marshalling plain structs of strings and ints cannot fail.
	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func phrases(ps []filter.Phrase) [][]string {
	out := make([][]string, len(ps))
	for i, p := range ps {
		out[i] = []string(p)
	}
	return out
}

func date(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(filter.DateLayout)
}

// Entry is a cached successful result. Retrieval entries carry only Metadata.
type Entry struct {
	Answer    string                       `json:"answer,omitempty"`
	RawAnswer string                       `json:"raw_answer,omitempty"`
	Metadata  []document.ParagraphMetadata `json:"metadata"`
	CreatedAt time.Time                    `json:"created_at"`
}

// Store is a key/value store for entries.
type Store interface {
	// Get returns ErrMiss when the key is absent or expired.
	Get(ctx context.Context, key string) (*Entry, error)
	// Put writes the entry; the last writer wins.
	Put(ctx context.Context, key string, entry *Entry, ttl time.Duration) error
	Ping(ctx context.Context) error
}

// NopStore never holds anything. It is used when no cache is configured.
type NopStore struct{}

func (NopStore) Get(context.Context, string) (*Entry, error) { return nil, ErrMiss }

func (NopStore) Put(context.Context, string, *Entry, time.Duration) error { return nil }

func (NopStore) Ping(context.Context) error { return nil }

var _ Store = NopStore{}
