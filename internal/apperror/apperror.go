// Package apperror defines the pipeline error taxonomy reported to API callers.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a terminal pipeline failure. The numeric value is the code
// exposed to callers and must stay stable.
type Kind int

const (
	// NoContextFound means the index returned no paragraph for the query and filters.
	NoContextFound Kind = 1

	// NoAnswerFromModel means the model output carried no citation list.
	NoAnswerFromModel Kind = 2

	// ServiceInactive means a backing service (index, reranker, model) is unset or unreachable.
	ServiceInactive Kind = 3

	// InputTooLarge means the prompt exceeds the model's context window.
	InputTooLarge Kind = 4

	// RerankerQuotaExceeded means the reranking service reported a rate limit.
	RerankerQuotaExceeded Kind = 5

	// AnswerIncomplete means generation stopped on the output token budget.
	AnswerIncomplete Kind = 6
)

// String returns a short name for the kind, used as a metric label.
func (k Kind) String() string {
	switch k {
	case NoContextFound:
		return "no_context_found"
	case NoAnswerFromModel:
		return "no_answer_from_model"
	case ServiceInactive:
		return "service_inactive"
	case InputTooLarge:
		return "input_too_large"
	case RerankerQuotaExceeded:
		return "reranker_quota_exceeded"
	case AnswerIncomplete:
		return "answer_incomplete"
	default:
		return "unknown"
	}
}

// HTTPStatus maps the kind to the response status. Only InputTooLarge is a
// client-side condition.
func (k Kind) HTTPStatus() int {
	if k == InputTooLarge {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

// Error is a classified pipeline failure. RawAnswer is set for partial model
// outputs so callers can still see what the model produced.
type Error struct {
	Kind      Kind
	Detail    string
	RawAnswer *string
	Err       error
}

// New creates an error of the given kind.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap creates an error of the given kind that keeps cause for errors.Is/As.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: cause}
}

// WithRawAnswer attaches the raw model output.
func WithRawAnswer(kind Kind, detail, raw string) *Error {
	return &Error{Kind: kind, Detail: detail, RawAnswer: &raw}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("code %d: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("code %d: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Body is the JSON error object returned to callers.
type Body struct {
	Code      int     `json:"code"`
	Detail    string  `json:"detail"`
	RawAnswer *string `json:"raw_answer,omitempty"`
}

// Body converts the error into its wire representation.
func (e *Error) Body() Body {
	return Body{Code: int(e.Kind), Detail: e.Detail, RawAnswer: e.RawAnswer}
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsKind reports whether err is a pipeline error of the given kind.
func IsKind(err error, kind Kind) bool {
	appErr, ok := As(err)
	return ok && appErr.Kind == kind
}
