// Package metrics defines the Prometheus metric collectors used across the
// pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	DocumentsTotal     *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	ActiveDocuments    prometheus.Gauge
	QueueDepth         prometheus.Gauge

	ChunksTotal      *prometheus.CounterVec
	ChunkSize        *prometheus.HistogramVec
	ChunkingDuration *prometheus.HistogramVec

	EmbeddingsTotal     *prometheus.CounterVec
	EmbeddingLatency    *prometheus.HistogramVec
	CircuitBreakerState *prometheus.GaugeVec

	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      *prometheus.HistogramVec
}

// New creates all collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		DocumentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "documents_processed_total",
				Help: "Documents leaving the ingestion queue by final status.",
			},
			[]string{"status"},
		),
		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "document_processing_seconds",
				Help:    "Time spent per processing stage (conversion, chunking, total).",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		),
		ActiveDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_documents",
				Help: "Documents currently being processed by the consumer.",
			},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingestion_queue_depth",
				Help: "Items waiting in the ingestion queue.",
			},
		),
		ChunksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "document_chunks_total",
				Help: "Chunks produced by strategy and outcome (ok, fallback).",
			},
			[]string{"strategy", "status"},
		),
		ChunkSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chunk_size_chars",
				Help:    "Size of emitted chunks in characters.",
				Buckets: []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000},
			},
			[]string{"strategy"},
		),
		ChunkingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chunking_seconds",
				Help:    "Time spent chunking one document.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"strategy"},
		),
		EmbeddingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embeddings_total",
				Help: "Per-chunk embedding outcomes (cache_hit, success, failure).",
			},
			[]string{"provider", "result"},
		),
		EmbeddingLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "embedding_latency_seconds",
				Help:    "Latency of successful provider calls including retries.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Similarity searches by cache status (hit, miss, error).",
			},
			[]string{"cache_status"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Similarity search latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.DocumentsTotal,
		m.ProcessingDuration,
		m.ActiveDocuments,
		m.QueueDepth,
		m.ChunksTotal,
		m.ChunkSize,
		m.ChunkingDuration,
		m.EmbeddingsTotal,
		m.EmbeddingLatency,
		m.CircuitBreakerState,
		m.SearchQueriesTotal,
		m.SearchLatency,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
