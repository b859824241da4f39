// Package llm provides interfaces and implementations for Large Language Model clients.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrInputTooLarge is returned when the model rejects a prompt longer than its context window.
	ErrInputTooLarge = errors.New("prompt exceeds model context length")
	// ErrUnavailable is returned when the model service cannot be reached.
	ErrUnavailable = errors.New("model service unavailable")
)

// GenerateOptions configures the LLM generation request.
type GenerateOptions struct {
	// Model specifies the LLM model to use (e.g., "llama3.2", "mistral").
	Model string

	// SystemPrompt sets the system-level instructions for the model.
	SystemPrompt string

	// Temperature controls randomness in generation (0.0 = deterministic, 1.0 = creative).
	Temperature float32

	// MaxTokens limits the maximum number of tokens in the response.
	MaxTokens int

	// NumCtx sets the model context window in tokens, prompt and response
	// included. Zero leaves the server default.
	NumCtx int
}

// Completion is a finished generation.
type Completion struct {
	Text string

	// Truncated is set when generation stopped on the MaxTokens budget.
	Truncated bool

	// PromptTokens is the prompt size reported by the server, zero if unknown.
	PromptTokens int
}

// StreamChunk represents a single chunk of streamed response from the LLM.
type StreamChunk struct {
	// Token contains the generated text fragment.
	Token string

	// Done indicates whether this is the final chunk in the stream.
	Done bool

	// Truncated is set on the final chunk when generation hit MaxTokens.
	Truncated bool

	// Error contains any error that occurred during streaming.
	Error error
}

// LLM defines the interface for Large Language Model clients.
type LLM interface {
	// Generate sends a prompt to the LLM and returns the complete response.
	// It blocks until the full response is received or an error occurs.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Completion, error)

	// GenerateStream sends a prompt to the LLM and returns a channel that streams
	// response chunks as they are generated. The channel is closed after the
	// Done chunk, after an error chunk, or when ctx is cancelled; a channel closed
	// without a Done chunk means the stream was abandoned.
	GenerateStream(ctx context.Context, prompt string, opts GenerateOptions) (<-chan StreamChunk, error)

	// ModelName returns the default model identifier.
	ModelName() string
}
