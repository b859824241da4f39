package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultCrossrefURL is the public Crossref REST API.
const DefaultCrossrefURL = "https://api.crossref.org"

// CrossrefClient reads citation counts from a Crossref compatible works API.
type CrossrefClient struct {
	baseURL    string
	mailto     string
	httpClient *http.Client
}

// CrossrefOption is a functional option for configuring CrossrefClient.
type CrossrefOption func(*CrossrefClient)

// WithCrossrefHTTPClient sets a custom HTTP client.
func WithCrossrefHTTPClient(client *http.Client) CrossrefOption {
	return func(c *CrossrefClient) {
		c.httpClient = client
	}
}

// WithMailto identifies the caller for Crossref's polite pool.
func WithMailto(mailto string) CrossrefOption {
	return func(c *CrossrefClient) {
		c.mailto = mailto
	}
}

// NewCrossrefClient creates a client for baseURL.
func NewCrossrefClient(baseURL string, opts ...CrossrefOption) *CrossrefClient {
	if baseURL == "" {
		baseURL = DefaultCrossrefURL
	}
	c := &CrossrefClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type crossrefWork struct {
	Message struct {
		IsReferencedByCount *int `json:"is-referenced-by-count"`
	} `json:"message"`
}

// CitedBy returns how many works cite doi. A nil count means the registry has
// no figure for it.
func (c *CrossrefClient) CitedBy(ctx context.Context, doi string) (*int, error) {
	endpoint := c.baseURL + "/works/" + url.PathEscape(doi)
	if c.mailto != "" {
		endpoint += "?mailto=" + url.QueryEscape(c.mailto)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crossref request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("crossref API error (status %d)", resp.StatusCode)
	}

	var work crossrefWork
	if err := json.NewDecoder(resp.Body).Decode(&work); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return work.Message.IsReferencedByCount, nil
}
