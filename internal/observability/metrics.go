package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting gateway metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Pathway request flow, mode, and latency
//   - Provider call performance, token consumption, and retries
//   - Tool execution patterns and latencies
//   - Error rates categorized by component and fault kind
//   - File-collection operations and queue depth
//
// Usage:
//
//	metrics := observability.NewMetrics(nil)
//	metrics.RequestStarted("summarize")
//	defer metrics.RecordPathwayRequest("summarize", "stream", "success", time.Since(start).Seconds())
type Metrics struct {
	// RequestCounter counts pathway executions.
	// Labels: pathway, mode (sync|async|stream), status (success|error)
	RequestCounter *prometheus.CounterVec

	// RequestDuration measures pathway execution latency in seconds.
	// Labels: pathway
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s, 120s
	RequestDuration *prometheus.HistogramVec

	// ActiveRequests is a gauge tracking in-flight pathway executions.
	// Labels: pathway
	ActiveRequests *prometheus.GaugeVec

	// ProviderRequestCounter counts provider calls.
	// Labels: family, model, status (success|error)
	ProviderRequestCounter *prometheus.CounterVec

	// ProviderRequestDuration measures provider call latency in seconds.
	// Labels: family, model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRetryCounter counts retried provider attempts.
	// Labels: family, model
	ProviderRetryCounter *prometheus.CounterVec

	// TokensUsed tracks token consumption.
	// Labels: family, model, type (prompt|completion)
	TokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations inside agent loops.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by component and fault kind.
	// Labels: component (executor|provider|agent|fileset|gateway), kind
	ErrorCounter *prometheus.CounterVec

	// CompressionCounter counts history compressions.
	// Labels: pathway, outcome (applied|fallback)
	CompressionCounter *prometheus.CounterVec

	// FilesetOpCounter counts file-collection operations.
	// Labels: op (load|sync|write|edit|delete), status (success|error)
	FilesetOpCounter *prometheus.CounterVec

	// FilesetQueueDepth is a gauge of queued mutations per collection.
	FilesetQueueDepth prometheus.Gauge

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics. A nil registerer
// uses the default registry; tests and embedded runtimes pass their own to
// keep registrations isolated.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_pathway_requests_total",
				Help: "Total number of pathway executions by pathway, mode, and status",
			},
			[]string{"pathway", "mode", "status"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cortex_pathway_duration_seconds",
				Help:    "Duration of pathway executions in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"pathway"},
		),

		ActiveRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cortex_active_requests",
				Help: "Current number of in-flight pathway executions",
			},
			[]string{"pathway"},
		),

		ProviderRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_provider_requests_total",
				Help: "Total number of provider calls by family, model, and status",
			},
			[]string{"family", "model", "status"},
		),

		ProviderRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cortex_provider_request_duration_seconds",
				Help:    "Duration of provider calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"family", "model"},
		),

		ProviderRetryCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_provider_retries_total",
				Help: "Total number of retried provider attempts",
			},
			[]string{"family", "model"},
		),

		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_tokens_total",
				Help: "Total number of tokens used by family, model, and type",
			},
			[]string{"family", "model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cortex_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_errors_total",
				Help: "Total number of errors by component and fault kind",
			},
			[]string{"component", "kind"},
		),

		CompressionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_compressions_total",
				Help: "Total number of history compressions by pathway and outcome",
			},
			[]string{"pathway", "outcome"},
		),

		FilesetOpCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_fileset_ops_total",
				Help: "Total number of file-collection operations by op and status",
			},
			[]string{"op", "status"},
		),

		FilesetQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cortex_fileset_queue_depth",
				Help: "Current number of queued file-collection mutations",
			},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cortex_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// RecordPathwayRequest records metrics for one pathway execution.
//
// Example:
//
//	start := time.Now()
//	// ... execute pathway ...
//	metrics.RecordPathwayRequest("summarize", "stream", "success", time.Since(start).Seconds())
func (m *Metrics) RecordPathwayRequest(pathway, mode, status string, durationSeconds float64) {
	m.RequestCounter.WithLabelValues(pathway, mode, status).Inc()
	m.RequestDuration.WithLabelValues(pathway).Observe(durationSeconds)
}

// RequestStarted increments the in-flight gauge for a pathway.
func (m *Metrics) RequestStarted(pathway string) {
	m.ActiveRequests.WithLabelValues(pathway).Inc()
}

// RequestEnded decrements the in-flight gauge for a pathway.
func (m *Metrics) RequestEnded(pathway string) {
	m.ActiveRequests.WithLabelValues(pathway).Dec()
}

// RecordProviderRequest records metrics for one provider call.
//
// Example:
//
//	start := time.Now()
//	// ... call provider ...
//	metrics.RecordProviderRequest("anthropic", "claude-sonnet", "success", time.Since(start).Seconds(), 100, 500)
func (m *Metrics) RecordProviderRequest(family, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.ProviderRequestCounter.WithLabelValues(family, model, status).Inc()
	m.ProviderRequestDuration.WithLabelValues(family, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.TokensUsed.WithLabelValues(family, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.TokensUsed.WithLabelValues(family, model, "completion").Add(float64(completionTokens))
	}
}

// RecordProviderRetry increments the retry counter for a provider call.
func (m *Metrics) RecordProviderRetry(family, model string) {
	m.ProviderRetryCounter.WithLabelValues(family, model).Inc()
}

// RecordToolExecution records metrics for a tool execution.
//
// Example:
//
//	start := time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("sys_tool_write_file", "success", time.Since(start).Seconds())
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a component and fault kind.
//
// Example:
//
//	metrics.RecordError("executor", "timeout")
//	metrics.RecordError("provider", "retryable")
func (m *Metrics) RecordError(component, kind string) {
	m.ErrorCounter.WithLabelValues(component, kind).Inc()
}

// RecordCompression records one history-compression outcome.
func (m *Metrics) RecordCompression(pathway, outcome string) {
	m.CompressionCounter.WithLabelValues(pathway, outcome).Inc()
}

// RecordFilesetOp records one file-collection operation.
//
// Example:
//
//	metrics.RecordFilesetOp("write", "success")
func (m *Metrics) RecordFilesetOp(op, status string) {
	m.FilesetOpCounter.WithLabelValues(op, status).Inc()
}

// RecordHTTPRequest records metrics for an HTTP request.
//
// Example:
//
//	start := time.Now()
//	// ... handle HTTP request ...
//	metrics.RecordHTTPRequest("POST", "/v1/chat/completions", "200", time.Since(start).Seconds())
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}
