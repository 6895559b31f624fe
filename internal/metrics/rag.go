package metrics

import "github.com/prometheus/client_golang/prometheus"

// Chunk outcomes for IngestChunksTotal.
const (
	OutcomeStored      = "stored"
	OutcomeTooShort    = "too_short"
	OutcomeInvalid     = "invalid"
	OutcomeEmbedFailed = "embed_failed"
)

// Indexing and retrieval metrics.
var (
	IngestPagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_pages_total",
			Help:      "Pages processed by the indexing pipeline",
		},
		[]string{"status"}, // "ok" / "error"
	)

	IngestChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_chunks_total",
			Help:      "Chunks produced by the chunker, by outcome",
		},
		[]string{"outcome"},
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Query latency including query embedding",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"status"},
	)

	IndexChunks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_chunks",
			Help:      "Chunks currently held in the index",
		},
	)
)

var ragMetricsRegistered bool

// RegisterRAGMetrics registers indexing and retrieval metrics. Must be called once from main.
func RegisterRAGMetrics() {
	if ragMetricsRegistered {
		return
	}
	prometheus.MustRegister(IngestPagesTotal)
	prometheus.MustRegister(IngestChunksTotal)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(IndexChunks)
	ragMetricsRegistered = true
}
