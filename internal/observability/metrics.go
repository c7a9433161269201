package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application
// metrics for the agent runtime.
//
// The metrics system is built on Prometheus and tracks:
//   - ReAct run outcomes and LLM call performance
//   - Downstream function execution attempts, latency, and outcomes
//   - Sync pipeline throughput by operation and outcome
//   - Error rates categorized by component and error type
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordRunAttempt("completed")
//	defer metrics.RecordFunctionExecution("get_weather", "success", time.Since(start).Seconds(), 1)
type Metrics struct {
	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider (anthropic|openai|ollama), model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// FunctionExecutionCounter counts C6 dispatches of a registered
	// function, terminal outcome only (after retries are exhausted).
	// Labels: function_name, status (success|error)
	FunctionExecutionCounter *prometheus.CounterVec

	// FunctionExecutionDuration measures total C6 execution time
	// (including retries) in seconds.
	// Labels: function_name
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	FunctionExecutionDuration *prometheus.HistogramVec

	// FunctionExecutionAttempts records how many attempts a C6 call took
	// before reaching a terminal outcome (1 when it succeeds or fails
	// permanently on the first try, up to Config.MaxAttempts otherwise).
	// Labels: function_name
	FunctionExecutionAttempts *prometheus.HistogramVec

	// ErrorCounter tracks errors by component and classified error kind.
	// Labels: component (callexecutor|syncpipeline|reactloop|...), error_type
	ErrorCounter *prometheus.CounterVec

	// RunAttempts counts ReAct runs by terminal status.
	// Labels: status (completed|incomplete|failed)
	RunAttempts *prometheus.CounterVec

	// SyncEventsProcessed counts change-data-capture events a worker batch
	// applied to the vector index, by operation and terminal outcome.
	// Labels: operation (INSERT|UPDATE|DELETE), outcome (synced|failed)
	SyncEventsProcessed *prometheus.CounterVec

	// SyncBatchDuration measures how long one Worker.ProcessBatch call
	// took to claim and apply a batch of events, in seconds.
	// Buckets: 0.001s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	SyncBatchDuration prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default
// registry and will be available at the /metrics endpoint when using the
// prometheus HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conduit_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		FunctionExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_function_executions_total",
				Help: "Total number of downstream function executions by function name and status",
			},
			[]string{"function_name", "status"},
		),

		FunctionExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conduit_function_execution_duration_seconds",
				Help:    "Duration of downstream function executions in seconds, including retries",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"function_name"},
		),

		FunctionExecutionAttempts: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conduit_function_execution_attempts",
				Help:    "Number of attempts a function execution took before reaching a terminal outcome",
				Buckets: []float64{1, 2, 3, 4, 5},
			},
			[]string{"function_name"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		RunAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_run_attempts_total",
				Help: "Total number of ReAct run attempts by terminal status",
			},
			[]string{"status"},
		),

		SyncEventsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_sync_events_processed_total",
				Help: "Total number of CDC sync events applied to the vector index, by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),

		SyncBatchDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "conduit_sync_batch_duration_seconds",
				Help:    "Duration of one sync worker batch claim-and-apply cycle in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
	}
}

// RecordLLMRequest records metrics for an LLM API request.
//
// Example:
//
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("anthropic", "claude-3-opus", "success", time.Since(start).Seconds(), 100, 500)
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordFunctionExecution records metrics for one terminal C6 Execute
// call: its outcome, total wall-clock duration including retries, and
// the number of attempts it took.
//
// Example:
//
//	start := time.Now()
//	result := executor.Execute(ctx, "get_weather", params, true)
//	metrics.RecordFunctionExecution("get_weather", outcome(result), time.Since(start).Seconds(), result.Attempts)
func (m *Metrics) RecordFunctionExecution(functionName, status string, durationSeconds float64, attempts int) {
	m.FunctionExecutionCounter.WithLabelValues(functionName, status).Inc()
	m.FunctionExecutionDuration.WithLabelValues(functionName).Observe(durationSeconds)
	if attempts > 0 {
		m.FunctionExecutionAttempts.WithLabelValues(functionName).Observe(float64(attempts))
	}
}

// RecordError increments the error counter for a given component and
// classified error kind.
//
// Example:
//
//	metrics.RecordError("callexecutor", "Timeout")
//	metrics.RecordError("syncpipeline", "SyncProcessingError")
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordRunAttempt records a ReAct run reaching a terminal status.
//
// Example:
//
//	metrics.RecordRunAttempt("completed")
//	metrics.RecordRunAttempt("incomplete")
//	metrics.RecordRunAttempt("failed")
func (m *Metrics) RecordRunAttempt(status string) {
	m.RunAttempts.WithLabelValues(status).Inc()
}

// RecordSyncBatch records one Worker.ProcessBatch cycle: its wall-clock
// duration and the terminal outcome of every event it applied.
//
// Example:
//
//	start := time.Now()
//	outcome, _ := worker.ProcessBatch(ctx)
//	metrics.RecordSyncBatch(time.Since(start).Seconds(), outcome)
func (m *Metrics) RecordSyncBatch(durationSeconds float64, synced, failed map[string]int) {
	m.SyncBatchDuration.Observe(durationSeconds)
	for op, n := range synced {
		m.SyncEventsProcessed.WithLabelValues(op, "synced").Add(float64(n))
	}
	for op, n := range failed {
		m.SyncEventsProcessed.WithLabelValues(op, "failed").Add(float64(n))
	}
}
