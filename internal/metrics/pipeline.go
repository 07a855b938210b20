package metrics

import "github.com/prometheus/client_golang/prometheus"

// Pipeline and retrieval Prometheus metrics.
var (
	PipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diagflow",
			Name:      "pipeline_runs_total",
			Help:      "Total diagnosis runs by outcome",
		},
		[]string{"outcome"}, // "complete" / "suspended" / "failed"
	)

	PipelineStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "diagflow",
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Stage execution duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	RetrievalRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diagflow",
			Name:      "retrieval_requests_total",
			Help:      "Total retrieval queries by status",
		},
		[]string{"status"}, // "ok" / "empty" / "unavailable" / "error"
	)

	RetrievalChunksReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "diagflow",
			Name:      "retrieval_chunks_returned",
			Help:      "Number of chunks returned per retrieval query",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		},
	)
)

var pipeMetricsRegistered bool

// RegisterPipelineMetrics registers pipeline and retrieval metrics.
// Must be called once from main.
func RegisterPipelineMetrics() {
	if pipeMetricsRegistered {
		return
	}
	prometheus.MustRegister(PipelineRunsTotal)
	prometheus.MustRegister(PipelineStageDuration)
	prometheus.MustRegister(RetrievalRequestsTotal)
	prometheus.MustRegister(RetrievalChunksReturned)
	pipeMetricsRegistered = true
}
