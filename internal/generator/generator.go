// Package generator asks the language model for an answer grounded in the
// retrieved contexts and maps its citations back to source metadata.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/knoguchi/scholarag/internal/apperror"
	"github.com/knoguchi/scholarag/internal/document"
	"github.com/knoguchi/scholarag/internal/llm"
)

const (
	// SourcesSeparator precedes the comma separated list of cited context ids in
	// the model output.
	SourcesSeparator = "<bbs_sources>"

	// ErrorSeparator starts the output when the contexts do not answer the question.
	ErrorSeparator = "<bbs_error>"
)

const systemPrompt = `You are a scientific assistant. Answer the question using only the numbered contexts below.
After the answer, write ` + SourcesSeparator + ` followed by a colon and the comma separated ids of the contexts you used, for example:
The answer text.
` + SourcesSeparator + `: 0, 3
If the contexts do not contain the answer, start your reply with ` + ErrorSeparator + `, say that you do not know and do not cite any context.`

// Options configures generation.
type Options struct {
	Model       string
	Temperature float32
	MaxTokens   int

	// ContextWindow is the model context size in tokens. It is sent to the
	// model and bounds the pre-flight size check. Zero disables both.
	ContextWindow int

	// Timeout bounds one generation, streaming included. Zero means no limit.
	Timeout time.Duration
}

// Answer is a successful generation.
type Answer struct {
	Answer    string
	RawAnswer string

	// Sources are the cited contexts in citation order.
	Sources []document.Candidate
}

// Generator composes prompts and interprets model output.
type Generator struct {
	client llm.LLM
	opts   Options
	logger *slog.Logger
}

// New creates a generator. A nil logger uses slog.Default().
func New(client llm.LLM, opts Options, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{client: client, opts: opts, logger: logger}
}

// ModelName is the model that answers, used in cache keys.
func (g *Generator) ModelName() string {
	if g.opts.Model != "" {
		return g.opts.Model
	}
	return g.client.ModelName()
}

// Prompt renders the user prompt. Every context is tagged with its ContextID.
func Prompt(query string, contexts []document.Candidate) string {
	var sb strings.Builder

	sb.WriteString("## Contexts\n\n")
	for _, c := range contexts {
		fmt.Fprintf(&sb, "[%d]", c.ContextID)
		if c.Title != "" {
			fmt.Fprintf(&sb, " (Title: %s)", c.Title)
		}
		sb.WriteString("\n")
		sb.WriteString(c.Text)
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Question\n")
	sb.WriteString(query)
	sb.WriteString("\n\n## Answer\n")

	return sb.String()
}

// EstimateTokens approximates a token count at four characters per token.
func EstimateTokens(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}

// Generate produces a complete answer.
func (g *Generator) Generate(ctx context.Context, query string, contexts []document.Candidate) (*Answer, error) {
	prompt, err := g.prepare(query, contexts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	completion, err := g.client.Generate(ctx, prompt, g.llmOptions())
	if err != nil {
		return nil, g.classify(ctx, err)
	}
	g.logger.Debug("generation finished",
		"duration", time.Since(start),
		"truncated", completion.Truncated,
		"prompt_tokens", completion.PromptTokens,
		"estimated_prompt_tokens", EstimateTokens(systemPrompt)+EstimateTokens(prompt),
	)

	return Finalize(completion.Text, completion.Truncated, contexts)
}

// Sink receives a streamed answer.
type Sink interface {
	// Open is called once the model accepted the prompt, before any token.
	Open()
	Write(token string) error
}

// SinkFunc adapts a token callback to a Sink whose Open does nothing.
type SinkFunc func(token string) error

func (f SinkFunc) Open() {}

func (f SinkFunc) Write(token string) error { return f(token) }

// Stream generates an answer and writes every displayable token to sink as it
// arrives. The sources section is never written. The structured answer is
// returned once the model finishes; a cancelled ctx returns ctx.Err().
func (g *Generator) Stream(ctx context.Context, query string, contexts []document.Candidate, sink Sink) (*Answer, error) {
	prompt, err := g.prepare(query, contexts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	chunks, err := g.client.GenerateStream(ctx, prompt, g.llmOptions())
	if err != nil {
		return nil, g.classify(ctx, err)
	}
	sink.Open()

	var f tokenFilter
	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, g.classify(ctx, chunk.Error)
		}
		if out := f.push(chunk.Token); out != "" {
			if err := sink.Write(out); err != nil {
				return nil, fmt.Errorf("emitting token: %w", err)
			}
		}
		if chunk.Done {
			if out := f.flush(); out != "" {
				if err := sink.Write(out); err != nil {
					return nil, fmt.Errorf("emitting token: %w", err)
				}
			}
			return Finalize(f.raw.String(), chunk.Truncated, contexts)
		}
	}

	// Closed without a final chunk: the stream was abandoned.
	if err := ctx.Err(); err != nil {
		return nil, g.classify(ctx, err)
	}
	return nil, apperror.Wrap(apperror.ServiceInactive, "The language model stream ended unexpectedly.", errors.New("stream closed"))
}

func (g *Generator) prepare(query string, contexts []document.Candidate) (string, error) {
	prompt := Prompt(query, contexts)
	if g.opts.ContextWindow <= 0 {
		return prompt, nil
	}

	budget := g.opts.ContextWindow - g.opts.MaxTokens
	if tokens := EstimateTokens(systemPrompt) + EstimateTokens(prompt); tokens > budget {
		return "", apperror.New(apperror.InputTooLarge, fmt.Sprintf(
			"The prompt needs about %d tokens but the model accepts %d. Reduce reranker_k or the query length.",
			tokens, budget))
	}
	return prompt, nil
}

func (g *Generator) llmOptions() llm.GenerateOptions {
	return llm.GenerateOptions{
		Model:        g.opts.Model,
		SystemPrompt: systemPrompt,
		Temperature:  g.opts.Temperature,
		MaxTokens:    g.opts.MaxTokens,
		NumCtx:       g.opts.ContextWindow,
	}
}

func (g *Generator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.opts.Timeout)
}

// classify maps model client failures to pipeline errors. Caller cancellation
// is returned as is.
func (g *Generator) classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, llm.ErrInputTooLarge):
		return apperror.Wrap(apperror.InputTooLarge, "The prompt exceeds the model context length.", err)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperror.Wrap(apperror.ServiceInactive, "The language model did not answer in time.", err)
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, llm.ErrUnavailable):
		g.logger.Warn("language model unreachable", "error", err)
		return apperror.Wrap(apperror.ServiceInactive, "The language model is unreachable.", err)
	default:
		g.logger.Warn("generation failed", "error", err)
		return apperror.Wrap(apperror.ServiceInactive, "The language model failed to answer.", err)
	}
}

// Finalize interprets raw model output against the contexts it was given.
func Finalize(raw string, truncated bool, contexts []document.Candidate) (*Answer, error) {
	if truncated {
		return nil, apperror.WithRawAnswer(apperror.AnswerIncomplete,
			"The answer was cut off by the output token limit.", raw)
	}

	answer, cited, ok := parse(raw)
	if !ok || strings.HasPrefix(strings.TrimSpace(raw), ErrorSeparator) {
		return nil, apperror.WithRawAnswer(apperror.NoAnswerFromModel,
			"The model could not answer the question from the retrieved contexts.", raw)
	}

	byID := make(map[int]document.Candidate, len(contexts))
	for _, c := range contexts {
		byID[c.ContextID] = c
	}

	seen := make(map[int]bool, len(cited))
	sources := make([]document.Candidate, 0, len(cited))
	for _, id := range cited {
		c, exists := byID[id]
		if !exists || seen[id] {
			continue
		}
		seen[id] = true
		sources = append(sources, c)
	}
	if len(sources) == 0 {
		return nil, apperror.WithRawAnswer(apperror.NoAnswerFromModel,
			"The model cited no retrieved context.", raw)
	}

	return &Answer{Answer: answer, RawAnswer: raw, Sources: sources}, nil
}

// parse splits raw output into answer text and cited ids. ok is false when
// the sources section is missing or holds no id.
func parse(raw string) (answer string, ids []int, ok bool) {
	idx := strings.Index(raw, SourcesSeparator)
	if idx < 0 {
		return "", nil, false
	}
	answer = strings.TrimSpace(raw[:idx])

	list := strings.TrimSpace(raw[idx+len(SourcesSeparator):])
	list = strings.TrimSpace(strings.TrimPrefix(list, ":"))
	for _, field := range strings.FieldsFunc(list, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' }) {
		id, err := strconv.Atoi(strings.Trim(field, "[]."))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return answer, ids, len(ids) > 0
}
