package metrics

import "github.com/prometheus/client_golang/prometheus"

// Generation and embedding Prometheus metrics.
var (
	GenerationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diagflow",
			Name:      "generation_requests_total",
			Help:      "Total number of generation requests",
		},
		[]string{"model", "stage", "status"},
	)

	GenerationRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "diagflow",
			Name:      "generation_request_duration_seconds",
			Help:      "Generation request duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"model", "stage"},
	)

	GenerationRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diagflow",
			Name:      "generation_retries_total",
			Help:      "Total generation retries",
		},
		[]string{"model", "reason"},
	)

	GenerationTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diagflow",
			Name:      "generation_tokens_total",
			Help:      "Total generation tokens consumed",
		},
		[]string{"model", "type"},
	)

	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diagflow",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "diagflow",
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"model"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diagflow",
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)
)

var genMetricsRegistered bool

// RegisterGenerationMetrics registers Prometheus generation and embedding
// metrics. Must be called once from main.
func RegisterGenerationMetrics() {
	if genMetricsRegistered {
		return
	}
	prometheus.MustRegister(GenerationRequestsTotal)
	prometheus.MustRegister(GenerationRequestDuration)
	prometheus.MustRegister(GenerationRetriesTotal)
	prometheus.MustRegister(GenerationTokensTotal)
	prometheus.MustRegister(EmbeddingRequestsTotal)
	prometheus.MustRegister(EmbeddingRequestDuration)
	prometheus.MustRegister(EmbeddingCacheTotal)
	genMetricsRegistered = true
}
