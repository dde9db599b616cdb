package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/UniGuideAI/uniguide-mvp/engine/domain"
	"github.com/UniGuideAI/uniguide-mvp/engine/ingest"
	"github.com/UniGuideAI/uniguide-mvp/engine/rag"
	"github.com/UniGuideAI/uniguide-mvp/engine/semantic"
	"github.com/UniGuideAI/uniguide-mvp/pkg/config"
	"github.com/UniGuideAI/uniguide-mvp/pkg/metrics"
	"github.com/UniGuideAI/uniguide-mvp/pkg/natsutil"
)

// --- fakes ---

type letterEmbedder struct{}

// Embed counts letters a-z, which is enough to separate the fixtures.
func (letterEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.NewInputError("text", text, domain.ErrEmptyText)
	}
	vec := make([]float32, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			vec[r-'a']++
		}
	}
	return vec, nil
}

func (e letterEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type failingSearcher struct{ err error }

func (f failingSearcher) Search(context.Context, string, int, string, domain.MetadataFilter, domain.DocumentFilter) ([]domain.RetrievalResult, error) {
	return nil, f.err
}

func (f failingSearcher) Ask(context.Context, string, int, string) (rag.Answer, error) {
	return rag.Answer{}, f.err
}

type downStore struct{}

func (downStore) Count(context.Context, string) (int, error) {
	return 0, &domain.StoreConnectionError{Addr: "qdrant:6334", Err: errors.New("refused")}
}

const coll = "university_knowledge"

func records() []domain.RawRecord {
	return []domain.RawRecord{
		{
			"summary":         "Acme University is in Boston.",
			"university_name": "Acme University",
			"location":        map[string]any{"city": "Boston"},
		},
		{
			"summary":         "Zephyr College sits by the sea in Oakland.",
			"university_name": "Zephyr College",
			"location":        map[string]any{"city": "Oakland"},
		},
	}
}

func newTestServer(t *testing.T) (*server, *semantic.MemoryStore) {
	t.Helper()
	store := semantic.NewMemory()
	_, err := ingest.New(letterEmbedder{}, store, ingest.Options{}).Ingest(context.Background(), records(), coll, false)
	require.NoError(t, err)
	return &server{
		search:     rag.New(letterEmbedder{}, store, nil, rag.Options{DefaultCollection: coll}),
		store:      store,
		collection: coll,
		log:        zap.NewNop(),
		metrics:    metrics.New("test"),
		cors:       "*",
	}, store
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// --- tests ---

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv.routes(), http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 2.0, body["documents"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHealthDegraded(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.store = downStore{}
	rec := do(t, srv.routes(), http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "qdrant:6334")
}

func TestSearch(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv.routes(), http.MethodPost, "/api/search",
		`{"query": "Boston university", "limit": 1, "collection": "university_knowledge"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Acme University is in Boston.", resp.Results[0].Content)
	assert.Equal(t, domain.String("Acme University"), resp.Results[0].Metadata["university_name"])
}

func TestSearchWithFilters(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv.routes(), http.MethodPost, "/api/search",
		`{"query": "Boston university", "where": {"location.city": "Oakland"}, "where_document": "sea"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Contains(t, resp.Results[0].Content, "Zephyr")
}

func TestSearchNoMatchesIsEmptyList(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv.routes(), http.MethodPost, "/api/search",
		`{"query": "anything", "where": {"location.city": "Paris"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"results": []}`, rec.Body.String())
}

func TestSearchBadRequests(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.routes()
	for _, body := range []string{
		`not json`,
		`{"query": "  "}`,
		`{"query": "x", "where": {"a": {"$regex": "y"}}}`,
		`{"query": "x", "where_document": {"$like": "y"}}`,
		`{"query": "x", "where": {"basic_info.acceptance_rate": {"$lt": "low"}}}`,
	} {
		rec := do(t, h, http.MethodPost, "/api/search", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, rec.Body.String(), `"error"`, body)
	}
}

func TestAsk(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv.routes(), http.MethodPost, "/api/ask",
		`{"question": "Boston university", "limit": 1, "include_context": true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp AskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Translated)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Acme University is in Boston.", resp.Results[0].Content)
	assert.Contains(t, resp.Context, "[1] Acme University")
}

func TestAskEmptyQuestion(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv.routes(), http.MethodPost, "/api/ask", `{"question": ""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error": "question is required"}`, rec.Body.String())
}

func TestErrorStatuses(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{&domain.StoreConnectionError{Addr: "x", Err: errors.New("down")}, http.StatusServiceUnavailable},
		{&domain.ProviderError{Attempts: 3, Err: errors.New("503")}, http.StatusBadGateway},
		{domain.NewInputError("vector", "", domain.ErrDimension), http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		srv, _ := newTestServer(t)
		srv.search = failingSearcher{err: tc.err}
		rec := do(t, srv.routes(), http.MethodPost, "/api/ask", `{"question": "Boston"}`)
		assert.Equal(t, tc.code, rec.Code, tc.err.Error())
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.search = failingSearcher{err: errors.New("secret dsn")}
	rec := do(t, srv.routes(), http.MethodPost, "/api/search", `{"query": "x"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestMetricsEndpointUsesRoutePatterns(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.routes()
	do(t, h, http.MethodPost, "/api/search", `{"query": "Boston"}`)

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_http_requests_total{method="POST",route="/api/search",status="200"} 1`)
	assert.Contains(t, rec.Body.String(), `test_search_duration_seconds_count{mode="search"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv.routes(), http.MethodOptions, "/api/ask", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	require.NoError(t, err)
	ns.Start()
	require.True(t, ns.ReadyForConnections(3*time.Second), "nats not ready")

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
	})
	return nc
}

func TestServeNATS(t *testing.T) {
	nc := startTestNATS(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acme.json"),
		[]byte(`{"summary": "Acme University is in Boston.", "university_name": "Acme University"}`), 0o644))

	store := semantic.NewMemory()
	runner := ingest.NewRunner(ingest.New(letterEmbedder{}, store, ingest.Options{}), dir, coll, nil)
	o := rag.New(letterEmbedder{}, store, nil, rag.Options{DefaultCollection: coll})

	reports := make(chan ingest.Report, 1)
	runner.Notify = func(_ context.Context, rep ingest.Report) { reports <- rep }

	cfg := config.NATSConfig{AskSubject: "test.ask", RebuildSubject: "test.rebuild", Queue: "q"}
	subs, err := serveNATS(nc, cfg, o, runner, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, subs, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, natsutil.Publish(ctx, nc, cfg.RebuildSubject, ingest.RebuildRequest{Force: true}))
	select {
	case rep := <-reports:
		assert.Equal(t, 1, rep.Indexed)
	case <-ctx.Done():
		t.Fatal("rebuild did not run")
	}

	ans, err := natsutil.Request[rag.AskRequest, rag.Answer](ctx, nc, cfg.AskSubject, rag.AskRequest{Question: "Boston university", Limit: 1})
	require.NoError(t, err)
	require.Len(t, ans.Results, 1)
	assert.Equal(t, "Acme University is in Boston.", ans.Results[0].Content)

	_, err = natsutil.Request[rag.AskRequest, rag.Answer](ctx, nc, cfg.AskSubject, rag.AskRequest{Question: " "})
	var re *natsutil.RemoteError
	assert.ErrorAs(t, err, &re)
}
