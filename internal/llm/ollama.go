package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultOllamaBaseURL is the default Ollama API endpoint.
	DefaultOllamaBaseURL = "http://localhost:11434"

	// DefaultModel is the default LLM model to use.
	DefaultModel = "llama3.2"

	// doneReasonLength is Ollama's done_reason when num_predict was reached.
	doneReasonLength = "length"
)

// OllamaClient implements the LLM interface using the Ollama API.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	model      string
}

// OllamaOption is a functional option for configuring OllamaClient.
type OllamaOption func(*OllamaClient)

// WithBaseURL sets a custom base URL for the Ollama API.
func WithBaseURL(url string) OllamaOption {
	return func(c *OllamaClient) {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) OllamaOption {
	return func(c *OllamaClient) {
		c.httpClient = client
	}
}

// WithModel sets the default model for the client.
func WithModel(model string) OllamaOption {
	return func(c *OllamaClient) {
		c.model = model
	}
}

// NewOllamaClient creates a new Ollama LLM client with the given options.
func NewOllamaClient(opts ...OllamaOption) *OllamaClient {
	c := &OllamaClient{
		baseURL: DefaultOllamaBaseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute, // Long timeout for generation
		},
		model: DefaultModel,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ModelName returns the default model.
func (c *OllamaClient) ModelName() string {
	return c.model
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options"`
}

type ollamaResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
}

// Generate sends a prompt to Ollama and returns the complete response.
func (c *OllamaClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Completion, error) {
	req, err := c.buildRequest(ctx, prompt, opts, false)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &Completion{
		Text:         result.Response,
		Truncated:    result.DoneReason == doneReasonLength,
		PromptTokens: result.PromptEvalCount,
	}, nil
}

// GenerateStream sends a prompt to Ollama and returns a channel that streams response chunks.
func (c *OllamaClient) GenerateStream(ctx context.Context, prompt string, opts GenerateOptions) (<-chan StreamChunk, error) {
	req, err := c.buildRequest(ctx, prompt, opts, true)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	// Same transport without the overall timeout; ctx handles cancellation.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	chunks := make(chan StreamChunk)

	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		send := func(chunk StreamChunk) bool {
			select {
			case <-ctx.Done():
				return false
			case chunks <- chunk:
				return true
			}
		}

		reader := bufio.NewReader(resp.Body)
		for {
			line, readErr := reader.ReadBytes('\n')

			if line = bytes.TrimSpace(line); len(line) > 0 {
				var streamResp ollamaResponse
				if err := json.Unmarshal(line, &streamResp); err != nil {
					send(StreamChunk{Error: fmt.Errorf("parsing stream response: %w", err), Done: true})
					return
				}

				chunk := StreamChunk{
					Token:     streamResp.Response,
					Done:      streamResp.Done,
					Truncated: streamResp.Done && streamResp.DoneReason == doneReasonLength,
				}
				if !send(chunk) || streamResp.Done {
					return
				}
			}

			if readErr != nil {
				if ctx.Err() != nil {
					return
				}
				if errors.Is(readErr, io.EOF) {
					readErr = io.ErrUnexpectedEOF
				}
				send(StreamChunk{Error: fmt.Errorf("reading stream: %w", readErr), Done: true})
				return
			}
		}
	}()

	return chunks, nil
}

// checkStatus classifies non-200 responses. Ollama reports prompts over the
// context length as 400 (or 413 behind some proxies) with a descriptive message.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	msg := strings.ToLower(string(body))

	switch {
	case resp.StatusCode == http.StatusRequestEntityTooLarge,
		resp.StatusCode == http.StatusBadRequest && (strings.Contains(msg, "context length") ||
			strings.Contains(msg, "context window") || strings.Contains(msg, "too long")):
		return fmt.Errorf("%w: %s", ErrInputTooLarge, strings.TrimSpace(string(body)))
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: ollama API error (status %d): %s", ErrUnavailable, resp.StatusCode, string(body))
	default:
		return fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body))
	}
}

// buildRequest constructs the HTTP request for the Ollama API.
func (c *OllamaClient) buildRequest(ctx context.Context, prompt string, opts GenerateOptions, stream bool) (*http.Request, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}

	reqBody := ollamaRequest{
		Model:   model,
		Prompt:  prompt,
		System:  opts.SystemPrompt,
		Stream:  stream,
		Options: map[string]any{"temperature": opts.Temperature},
	}
	if opts.MaxTokens > 0 {
		reqBody.Options["num_predict"] = opts.MaxTokens
	}
	if opts.NumCtx > 0 {
		reqBody.Options["num_ctx"] = opts.NumCtx
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	return req, nil
}

// Ensure OllamaClient implements LLM interface.
var _ LLM = (*OllamaClient)(nil)
