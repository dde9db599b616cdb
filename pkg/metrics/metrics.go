// Package metrics owns the Prometheus instruments of the knowledge pipeline.
// Every recording method is safe on a nil *Registry, so engine packages can
// take an optional registry without guarding each call.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Registry wraps a dedicated prometheus.Registry and the pipeline instruments.
type Registry struct {
	reg *prometheus.Registry

	embeddingRequests *prometheus.CounterVec
	embeddingDuration *prometheus.HistogramVec
	embeddingRetries  *prometheus.CounterVec
	embeddingCache    *prometheus.CounterVec
	ingestRuns        *prometheus.CounterVec
	ingestDocuments   *prometheus.CounterVec
	translations      *prometheus.CounterVec
	searchDuration    *prometheus.HistogramVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New creates a registry whose metric names are prefixed with namespace.
// Go runtime and process collectors are registered alongside.
func New(namespace string) *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		embeddingRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Embedding provider calls by outcome",
		}, []string{"provider", "status"}),
		embeddingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding provider call latency",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider"}),
		embeddingRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_retries_total",
			Help:      "Embedding attempts that failed and were retried",
		}, []string{"provider"}),
		embeddingCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses",
		}, []string{"result"}),
		ingestRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_runs_total",
			Help:      "Ingestion runs by outcome",
		}, []string{"outcome"}),
		ingestDocuments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_documents_total",
			Help:      "Source records seen by ingestion, by status",
		}, []string{"status"}),
		translations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_translations_total",
			Help:      "Question translations by outcome",
		}, []string{"outcome"}),
		searchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "End-to-end retrieval latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.embeddingRequests,
		r.embeddingDuration,
		r.embeddingRetries,
		r.embeddingCache,
		r.ingestRuns,
		r.ingestDocuments,
		r.translations,
		r.searchDuration,
		r.httpRequests,
		r.httpDuration,
	)
	return r
}

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// EmbeddingCall records one provider call.
func (r *Registry) EmbeddingCall(provider string, err error, d time.Duration) {
	if r == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	r.embeddingRequests.WithLabelValues(provider, status).Inc()
	r.embeddingDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// EmbeddingRetry records a failed attempt that will be retried.
func (r *Registry) EmbeddingRetry(provider string) {
	if r == nil {
		return
	}
	r.embeddingRetries.WithLabelValues(provider).Inc()
}

// CacheLookup records an embedding cache "hit" or "miss".
func (r *Registry) CacheLookup(result string) {
	if r == nil {
		return
	}
	r.embeddingCache.WithLabelValues(result).Inc()
}

// IngestRun records how an ingestion run ended: indexed, skipped or failed.
func (r *Registry) IngestRun(outcome string) {
	if r == nil {
		return
	}
	r.ingestRuns.WithLabelValues(outcome).Inc()
}

// IngestDocuments adds n records with the given status.
func (r *Registry) IngestDocuments(status string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.ingestDocuments.WithLabelValues(status).Add(float64(n))
}

// Translation records whether a question was translated or fell back.
func (r *Registry) Translation(outcome string) {
	if r == nil {
		return
	}
	r.translations.WithLabelValues(outcome).Inc()
}

// Search records a retrieval call.
func (r *Registry) Search(mode string, d time.Duration) {
	if r == nil {
		return
	}
	r.searchDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// HTTPRequest records a served request.
func (r *Registry) HTTPRequest(method, route string, status int, d time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Serve blocks serving /metrics on port until ctx is done.
func (r *Registry) Serve(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: serve :%d: %w", port, err)
	}
	return nil
}

// ServeAsync runs Serve in the background and logs a failure.
func (r *Registry) ServeAsync(ctx context.Context, port int, logger *zap.Logger) {
	go func() {
		if err := r.Serve(ctx, port); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
}
