// Package observability bundles the gateway's three telemetry surfaces:
// Prometheus metrics, structured logging with secret redaction, and
// OpenTelemetry tracing. It also keeps a bounded in-memory event store
// backing the per-request debug timeline.
//
// # Metrics
//
// Metrics register on a caller-supplied registry, never the global one,
// so parallel runtimes (and tests) stay isolated:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordPathwayRequest("summarize", "stream", "success", elapsed.Seconds())
//	metrics.RecordProviderRequest("anthropic", "claude-sonnet", "success",
//	    elapsed.Seconds(), promptTokens, completionTokens)
//
// The counters cover pathway executions by mode and status, provider
// latency and token usage, tool executions, HTTP traffic, fileset
// operations and queue depth, and error counts by component and kind.
//
// # Logging
//
// Logger wraps slog. Records pick up the request ID, tenant ID, and
// pathway name from the context, and every message and argument passes
// the redaction patterns before reaching the sink:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info"})
//	ctx = observability.AddRequestID(ctx, requestID)
//	logger.Info(ctx, "executing pathway", "model", modelName)
//	logger.Error(ctx, "provider call failed", "error", err) // secrets scrubbed
//
// # Tracing
//
// Tracer exports spans over OTLP gRPC. With no collector endpoint the
// spans are non-recording, so instrumentation costs nothing when
// tracing is off:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:  "cortex",
//	    Endpoint:     os.Getenv("OTEL_ENDPOINT"),
//	    SamplingRate: 0.1,
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TracePathwayExecution(ctx, "summarize", "sync", requestID)
//	defer span.End()
//
// The executor opens one server span per pathway run and one client
// span per provider call; errors are recorded on the span that failed.
//
// # Events
//
// EventStore keeps a bounded buffer of recent execution, provider, and
// tool events keyed by request ID, stamped with the active trace and
// span IDs so a timeline can be joined against the exported trace. The
// executor records through EventRecorder in debug mode, and the gateway
// serves BuildTimeline output from /debug/timeline.
package observability
