package reranker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/knoguchi/scholarag/internal/document"
	"github.com/knoguchi/scholarag/internal/llm"
)

// maxLLMRerankCandidates bounds the prompt of one LLM scoring call.
const maxLLMRerankCandidates = 50

// LLMReranker asks the generative model to grade each candidate, a
// cross-encoder-like approach for deployments without a scoring service.
type LLMReranker struct {
	llmClient llm.LLM
	model     string
}

// LLMRerankerOption is a functional option for configuring LLMReranker.
type LLMRerankerOption func(*LLMReranker)

// WithModel sets the model to use for reranking.
func WithModel(model string) LLMRerankerOption {
	return func(r *LLMReranker) {
		r.model = model
	}
}

// NewLLMReranker creates a new LLM-based reranker.
func NewLLMReranker(llmClient llm.LLM, opts ...LLMRerankerOption) *LLMReranker {
	r := &LLMReranker{
		llmClient: llmClient,
		model:     "llama3.2",
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

type relevanceScore struct {
	DocIndex int     `json:"doc_index"`
	Score    float64 `json:"score"`
}

type rerankResponse struct {
	Scores []relevanceScore `json:"scores"`
}

// Name returns "llm".
func (r *LLMReranker) Name() string {
	return "llm"
}

// Rerank scores the first candidates with one model call. Candidates beyond
// the prompt bound keep their retrieval order after the scored ones.
func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []document.Candidate, topK int) ([]document.Candidate, error) {
	if len(candidates) == 0 {
		return []document.Candidate{}, nil
	}

	scoredPart := candidates
	if len(scoredPart) > maxLLMRerankCandidates {
		scoredPart = candidates[:maxLLMRerankCandidates]
	}

	completion, err := r.llmClient.Generate(ctx, r.buildRerankPrompt(query, scoredPart), llm.GenerateOptions{
		Model:       r.model,
		Temperature: 0.0,
		MaxTokens:   1024,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: LLM reranking failed: %w", ErrUnavailable, err)
	}

	scores, err := parseRerankResponse(completion.Text, len(scoredPart))
	if err != nil {
		return nil, err
	}

	// Unscored tail ranks below every graded candidate.
	for range candidates[len(scoredPart):] {
		scores = append(scores, -1)
	}
	return rank(candidates, scores, topK), nil
}

func (r *LLMReranker) buildRerankPrompt(query string, candidates []document.Candidate) string {
	var sb strings.Builder

	sb.WriteString("You are a relevance scoring system. Score each scientific paragraph's relevance to the query.\n\n")
	sb.WriteString("Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\nParagraphs to score:\n")
	for i, c := range candidates {
		content := []rune(c.RerankText())
		if len(content) > 500 {
			content = append(content[:500], []rune("...")...)
		}
		fmt.Fprintf(&sb, "[Doc %d]: %s\n\n", i, string(content))
	}

	sb.WriteString(`Score each paragraph from 0.0 to 1.0 based on relevance to the query.
Output ONLY valid JSON in this exact format:
{"scores": [{"doc_index": 0, "score": 0.9}, {"doc_index": 1, "score": 0.3}, ...]}
Output only JSON, no explanation:`)

	return sb.String()
}

// parseRerankResponse extracts scores from the model output, tolerating a
// surrounding markdown code block. Missing entries score 0.
func parseRerankResponse(response string, n int) ([]float64, error) {
	response = strings.TrimSpace(response)
	if idx := strings.Index(response, "```"); idx != -1 {
		body := strings.TrimPrefix(response[idx+3:], "json")
		if end := strings.Index(body, "```"); end != -1 {
			response = body[:end]
		}
	}

	var parsed rerankResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(response)), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse rerank response: %w", err)
	}

	scores := make([]float64, n)
	for _, s := range parsed.Scores {
		if s.DocIndex >= 0 && s.DocIndex < n {
			scores[s.DocIndex] = min(max(s.Score, 0), 1)
		}
	}
	return scores, nil
}

var _ Reranker = (*LLMReranker)(nil)
