package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingCall(t *testing.T) {
	r := New("test")
	r.EmbeddingCall("ollama", nil, 20*time.Millisecond)
	r.EmbeddingCall("ollama", errors.New("503"), time.Millisecond)
	r.EmbeddingCall("ollama", nil, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.embeddingRequests.WithLabelValues("ollama", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.embeddingRequests.WithLabelValues("ollama", "error")))
}

func TestCountersByLabel(t *testing.T) {
	r := New("test")
	r.EmbeddingRetry("openai")
	r.CacheLookup("hit")
	r.CacheLookup("miss")
	r.CacheLookup("hit")
	r.IngestRun("skipped")
	r.IngestDocuments("indexed", 3)
	r.IngestDocuments("failed", 0)
	r.Translation("fallback")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.embeddingRetries.WithLabelValues("openai")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.embeddingCache.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ingestRuns.WithLabelValues("skipped")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.ingestDocuments.WithLabelValues("indexed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.translations.WithLabelValues("fallback")))
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.EmbeddingCall("x", nil, time.Second)
		r.EmbeddingRetry("x")
		r.CacheLookup("hit")
		r.IngestRun("indexed")
		r.IngestDocuments("indexed", 1)
		r.Translation("translated")
		r.Search("ask", time.Second)
		r.HTTPRequest("GET", "/", 200, time.Second)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New("uniguide")
	r.Search("ask", 10*time.Millisecond)
	r.HTTPRequest(http.MethodPost, "/api/ask", 200, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `uniguide_search_duration_seconds_count{mode="ask"} 1`)
	assert.Contains(t, string(body), `uniguide_http_requests_total{method="POST",route="/api/ask",status="200"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestGathererCounts(t *testing.T) {
	r := New("test")
	r.IngestRun("indexed")
	n, err := testutil.GatherAndCount(r.Gatherer(), "test_ingest_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
