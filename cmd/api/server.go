package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/UniGuideAI/uniguide-mvp/engine/domain"
	"github.com/UniGuideAI/uniguide-mvp/engine/query"
	"github.com/UniGuideAI/uniguide-mvp/engine/rag"
	"github.com/UniGuideAI/uniguide-mvp/pkg/logger"
	"github.com/UniGuideAI/uniguide-mvp/pkg/metrics"
	"github.com/UniGuideAI/uniguide-mvp/pkg/mid"
)

// Searcher is the retrieval surface the handlers need.
type Searcher interface {
	Search(ctx context.Context, q string, limit int, collection string, where domain.MetadataFilter, whereDoc domain.DocumentFilter) ([]domain.RetrievalResult, error)
	Ask(ctx context.Context, question string, limit int, collection string) (rag.Answer, error)
}

// Counter reports collection sizes for the health check.
type Counter interface {
	Count(ctx context.Context, collection string) (int, error)
}

type server struct {
	search     Searcher
	store      Counter
	collection string
	log        *zap.Logger
	metrics    *metrics.Registry
	cors       string
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		mid.RequestLogger(s.log),
		mid.Recover(s.log),
		mid.Logger(s.log),
		mid.CORS(s.cors),
		mid.Metrics(s.metrics),
	)
	r.Get("/api/health", s.handleHealth)
	r.Post("/api/search", s.handleSearch)
	r.Post("/api/ask", s.handleAsk)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return mid.Chain(r, mid.OTel("uniguide-api"))
}

// --- Handlers ---

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	n, err := s.store.Count(ctx, s.collection)
	if err != nil {
		logger.FromContext(r.Context()).Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"collection": s.collection,
		"documents":  n,
	})
}

// SearchRequest is the JSON body for POST /api/search. Where uses the same
// shorthand as translated filters: a bare value means $eq.
type SearchRequest struct {
	Query         string         `json:"query"`
	Limit         int            `json:"limit,omitempty"`
	Collection    string         `json:"collection,omitempty"`
	Where         map[string]any `json:"where,omitempty"`
	WhereDocument any            `json:"where_document,omitempty"`
}

// SearchResponse is the JSON response for POST /api/search.
type SearchResponse struct {
	Results []domain.RetrievalResult `json:"results"`
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	where, err := query.NormalizeFilter(req.Where)
	if err != nil {
		writeError(w, http.StatusBadRequest, "where: "+err.Error())
		return
	}
	whereDoc, err := query.NormalizeDocumentFilter(req.WhereDocument)
	if err != nil {
		writeError(w, http.StatusBadRequest, "where_document: "+err.Error())
		return
	}

	results, err := s.search.Search(r.Context(), req.Query, req.Limit, req.Collection, where, whereDoc)
	if err != nil {
		s.fail(w, r, "search failed", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: nonNil(results)})
}

// AskRequest is the JSON body for POST /api/ask.
type AskRequest struct {
	rag.AskRequest
	// IncludeContext adds the formatted prompt context to the response.
	IncludeContext bool `json:"include_context,omitempty"`
}

// AskResponse is the JSON response for POST /api/ask.
type AskResponse struct {
	rag.Answer
	Context string `json:"context,omitempty"`
}

func (s *server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	ans, err := s.search.Ask(r.Context(), req.Question, req.Limit, req.Collection)
	if err != nil {
		s.fail(w, r, "ask failed", err)
		return
	}
	ans.Results = nonNil(ans.Results)
	resp := AskResponse{Answer: ans}
	if req.IncludeContext {
		resp.Context = rag.BuildContext(ans.Results)
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

func (s *server) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	log := logger.FromContext(r.Context())
	if status >= 500 {
		log.Error(msg, zap.Error(err), zap.Int("status", status))
	} else {
		log.Info(msg, zap.Error(err), zap.Int("status", status))
	}
	text := http.StatusText(status)
	if status < 500 {
		text = err.Error()
	}
	writeError(w, status, text)
}

// statusFor maps pipeline errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStoreConnection):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrProvider):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func nonNil(r []domain.RetrievalResult) []domain.RetrievalResult {
	if r == nil {
		return []domain.RetrievalResult{}
	}
	return r
}
