// Package observability provides Prometheus metrics instrumentation for the coreengine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// PIPELINE METRICS
// =============================================================================

var (
	pipelineExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaseflow_pipeline_executions_total",
			Help: "Total number of pipeline executions",
		},
		[]string{"pipeline", "status"}, // status: success, error
	)

	pipelineDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leaseflow_pipeline_duration_seconds",
			Help:    "Pipeline execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"pipeline"},
	)
)

// =============================================================================
// STAGE METRICS
// =============================================================================

var (
	stageExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaseflow_stage_executions_total",
			Help: "Total number of stage handler executions",
		},
		[]string{"stage", "status"}, // status: success, error
	)

	stageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leaseflow_stage_duration_seconds",
			Help:    "Stage handler duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"stage"},
	)
)

// =============================================================================
// LLM METRICS
// =============================================================================

var (
	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaseflow_llm_calls_total",
			Help: "Total number of generative model calls",
		},
		[]string{"provider", "model", "status"}, // status: success, error, fallback
	)

	llmDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leaseflow_llm_duration_seconds",
			Help:    "Generative model call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)
)

// =============================================================================
// RETRIEVAL AND CACHE METRICS
// =============================================================================

var (
	retrievalQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaseflow_retrieval_queries_total",
			Help: "Total number of knowledge-base queries",
		},
		[]string{"source", "status"}, // source: memory, vector; status: hit, miss, error
	)

	cacheAccessTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaseflow_cache_access_total",
			Help: "Profile cache accesses",
		},
		[]string{"result"}, // result: hit, miss, expired
	)

	memoryEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leaseflow_memory_entries",
			Help: "Current number of entries held by the memory store",
		},
	)
)

// =============================================================================
// HTTP METRICS
// =============================================================================

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaseflow_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leaseflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"route"},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordPipelineExecution records pipeline execution metrics.
func RecordPipelineExecution(pipeline string, status string, durationMS int) {
	pipelineExecutionsTotal.WithLabelValues(pipeline, status).Inc()
	pipelineDurationSeconds.WithLabelValues(pipeline).Observe(float64(durationMS) / 1000.0)
}

// RecordStageExecution records stage handler metrics.
func RecordStageExecution(stage string, status string, durationMS int) {
	stageExecutionsTotal.WithLabelValues(stage, status).Inc()
	stageDurationSeconds.WithLabelValues(stage).Observe(float64(durationMS) / 1000.0)
}

// RecordLLMCall records generative model call metrics.
func RecordLLMCall(provider string, model string, status string, durationMS int) {
	llmCallsTotal.WithLabelValues(provider, model, status).Inc()
	llmDurationSeconds.WithLabelValues(provider, model).Observe(float64(durationMS) / 1000.0)
}

// RecordRetrievalQuery records a knowledge-base query outcome.
func RecordRetrievalQuery(source string, status string) {
	retrievalQueriesTotal.WithLabelValues(source, status).Inc()
}

// RecordCacheAccess records a profile cache access outcome.
func RecordCacheAccess(result string) {
	cacheAccessTotal.WithLabelValues(result).Inc()
}

// SetMemoryEntries updates the memory store size gauge.
func SetMemoryEntries(n int) {
	memoryEntries.Set(float64(n))
}

// RecordHTTPRequest records HTTP request metrics.
func RecordHTTPRequest(route string, method string, status string, durationMS int) {
	httpRequestsTotal.WithLabelValues(route, method, status).Inc()
	httpRequestDurationSeconds.WithLabelValues(route).Observe(float64(durationMS) / 1000.0)
}
