package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/knoguchi/scholarag/internal/apperror"
	"github.com/knoguchi/scholarag/internal/document"
	"github.com/knoguchi/scholarag/internal/filter"
	"github.com/knoguchi/scholarag/internal/service"
)

const (
	cacheHeader = "X-Cache"

	// jsonDataSeparator precedes the JSON result at the end of a streamed answer.
	jsonDataSeparator = "<bbs_json_data>"

	// jsonErrorSeparator precedes the JSON error of a stream that failed after it started.
	jsonErrorSeparator = "<bbs_json_error>"

	noTextDetail = "Please provide at least one region or topic."
)

// QAService answers questions and retrieves paragraphs.
type QAService interface {
	Answer(ctx context.Context, req service.QARequest) (*service.QAResponse, bool, error)
	Stream(ctx context.Context, req service.QARequest, sink service.StreamSink) (*service.QAResponse, bool, error)
	Retrieve(ctx context.Context, req service.QARequest) ([]document.ParagraphMetadata, bool, error)
}

// ArticleService counts and lists articles.
type ArticleService interface {
	Count(ctx context.Context, f filter.Set) (int, error)
	List(ctx context.Context, req service.ListRequest) (*service.Page[document.ArticleMetadata], error)
}

// SuggestionService suggests exact-match filter values.
type SuggestionService interface {
	ArticleTypes(ctx context.Context) ([]service.ArticleTypeSuggestion, error)
	Authors(ctx context.Context, name string, limit int) ([]service.AuthorSuggestion, error)
	Journals(ctx context.Context, keywords string, limit int) ([]service.JournalSuggestion, error)
}

type handlers struct {
	qa           QAService
	articles     ArticleService
	suggestions  SuggestionService
	settings     any
	queryMaxSize int
	logger       *slog.Logger
}

func (h *handlers) generative(w http.ResponseWriter, r *http.Request) {
	req, ok := h.qaRequestFromBody(w, r)
	if !ok {
		return
	}

	resp, cached, err := h.qa.Answer(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	setCacheHeader(w, cached)
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) streamedGenerative(w http.ResponseWriter, r *http.Request) {
	req, ok := h.qaRequestFromBody(w, r)
	if !ok {
		return
	}

	sink := newStreamWriter(w)
	resp, _, err := h.qa.Stream(r.Context(), req, sink)
	if !sink.opened {
		if err != nil {
			h.writeError(w, r, err)
		}
		return
	}

	if err != nil {
		if r.Context().Err() != nil {
			h.logger.Info("client left during streaming", "error", err)
			return
		}
		h.logger.Warn("streamed generation failed", "error", err)
		sink.trailer(jsonErrorSeparator, streamError(err))
		return
	}
	sink.trailer(jsonDataSeparator, resp)
}

func (h *handlers) retrieval(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f, err := filter.FromQuery(q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	req := service.NewQARequest(q.Get("query"))
	req.Filter = f
	if req.RetrieverK, err = intParam(q, "retriever_k", req.RetrieverK); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.RerankerK, err = intParam(q, "reranker_k", req.RerankerK); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.UseReranker, err = boolParam(q, "use_reranker", req.UseReranker); err != nil {
		h.writeError(w, r, err)
		return
	}
	if !h.checkRequest(w, r, req) {
		return
	}

	out, cached, err := h.qa.Retrieve(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	setCacheHeader(w, cached)
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) articleCount(w http.ResponseWriter, r *http.Request) {
	f, err := filter.FromQuery(r.URL.Query())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	n, err := h.articles.Count(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"article_count": n})
}

func (h *handlers) articleListing(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f, err := filter.FromQuery(q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	req := service.NewListRequest(f)
	if req.NumberResults, err = intParam(q, "number_results", req.NumberResults); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Size, err = intParam(q, "size", req.Size); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Page, err = intParam(q, "page", req.Page); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.SortByDate, err = boolParam(q, "sort_by_date", req.SortByDate); err != nil {
		h.writeError(w, r, err)
		return
	}

	page, err := h.articles.List(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handlers) articleTypeSuggestions(w http.ResponseWriter, r *http.Request) {
	out, err := h.suggestions.ArticleTypes(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) authorSuggestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q, "limit", service.DefaultSuggestionLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out, err := h.suggestions.Authors(r.Context(), q.Get("name"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) journalSuggestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q, "limit", service.DefaultSuggestionLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out, err := h.suggestions.Journals(r.Context(), q.Get("keywords"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) showSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.settings)
}

// qaRequestFromBody decodes a QA request body over the defaults and reads the
// filters from the query string. It writes the error response itself.
func (h *handlers) qaRequestFromBody(w http.ResponseWriter, r *http.Request) (service.QARequest, bool) {
	f, err := filter.FromQuery(r.URL.Query())
	if err != nil {
		h.writeError(w, r, err)
		return service.QARequest{}, false
	}

	req := service.NewQARequest("")
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: malformed JSON body: %v", service.ErrInvalidRequest, err))
		return service.QARequest{}, false
	}
	req.Filter = f

	return req, h.checkRequest(w, r, req)
}

func (h *handlers) checkRequest(w http.ResponseWriter, r *http.Request, req service.QARequest) bool {
	if n := utf8.RuneCountInString(req.Query); h.queryMaxSize > 0 && n > h.queryMaxSize {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
			"detail": fmt.Sprintf("Query string has %d characters. Maximum allowed is %d.", n, h.queryMaxSize),
		})
		return false
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, r, err)
		return false
	}
	return true
}

// writeError maps err to a status and a {"detail": ...} body.
func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if appErr, ok := apperror.As(err); ok {
		writeJSON(w, appErr.Kind.HTTPStatus(), map[string]apperror.Body{"detail": appErr.Body()})
		return
	}

	switch {
	case errors.Is(err, service.ErrInvalidRequestNoText):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": noTextDetail})
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, filter.ErrInvalidFilter):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
	case errors.Is(err, context.Canceled):
		h.logger.Info("request cancelled", "path", r.URL.Path)
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Internal server error."})
	}
}

func setCacheHeader(w http.ResponseWriter, cached bool) {
	if cached {
		w.Header().Set(cacheHeader, "Hit")
	} else {
		w.Header().Set(cacheHeader, "Miss")
	}
}

func intParam(q map[string][]string, name string, def int) (int, error) {
	v := firstValue(q, name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", service.ErrInvalidRequest, name)
	}
	return n, nil
}

func boolParam(q map[string][]string, name string, def bool) (bool, error) {
	v := firstValue(q, name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", service.ErrInvalidRequest, name)
	}
	return b, nil
}

func firstValue(q map[string][]string, name string) string {
	if vs := q[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// streamWriter writes answer tokens as plain text. The status line is sent
// only when the service opens the stream.
type streamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	opened  bool
	wrote   bool
	newline bool
}

func newStreamWriter(w http.ResponseWriter) *streamWriter {
	f, _ := w.(http.Flusher)
	return &streamWriter{w: w, flusher: f}
}

func (s *streamWriter) Open(cached bool) {
	s.opened = true
	s.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	s.w.Header().Set("X-Content-Type-Options", "nosniff")
	setCacheHeader(s.w, cached)
	s.w.WriteHeader(http.StatusOK)
	s.flush()
}

func (s *streamWriter) Write(token string) error {
	if token == "" {
		return nil
	}
	if _, err := io.WriteString(s.w, token); err != nil {
		return err
	}
	s.wrote = true
	s.newline = strings.HasSuffix(token, "\n")
	s.flush()
	return nil
}

// trailer ends the stream with a separator and a JSON document, on its own
// line when answer text precedes it.
func (s *streamWriter) trailer(separator string, v any) {
	var sb strings.Builder
	if s.wrote && !s.newline {
		sb.WriteString("\n")
	}
	sb.WriteString(separator)
	body, err := json.Marshal(v)
	if err != nil {
		body = []byte(`{}`)
	}
	sb.Write(body)

	_, _ = io.WriteString(s.w, sb.String())
	s.flush()
}

func (s *streamWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

type streamErrorBody struct {
	StatusCode int `json:"status_code"`
	apperror.Body
}

// streamError is the JSON error written after a stream already started.
func streamError(err error) map[string]streamErrorBody {
	appErr, ok := apperror.As(err)
	if !ok {
		appErr = apperror.Wrap(apperror.ServiceInactive, "The answer stream failed.", err)
	}
	return map[string]streamErrorBody{"Error": {
		StatusCode: appErr.Kind.HTTPStatus(),
		Body:       appErr.Body(),
	}}
}
