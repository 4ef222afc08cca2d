package observability

import (
	"context"
	"errors"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// recordingTracer builds a Tracer backed by an in-memory exporter so
// tests can inspect finished spans without a collector.
func recordingTracer() (*Tracer, *tracetest.InMemoryExporter) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	return &Tracer{provider: provider, tracer: provider.Tracer("test")}, exporter
}

func TestNewTracer_NoEndpointIsNonRecording(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "cortex-test"})
	defer shutdown(context.Background())

	ctx, span := tracer.Start(context.Background(), "op")
	defer span.End()
	if span.SpanContext().IsValid() && span.IsRecording() {
		t.Error("span records without a collector endpoint")
	}
	if GetTraceID(ctx) != "" {
		t.Errorf("GetTraceID = %q, want empty", GetTraceID(ctx))
	}
}

func TestTracePathwayExecution_SpanShape(t *testing.T) {
	tracer, exporter := recordingTracer()

	_, span := tracer.TracePathwayExecution(context.Background(), "summarize", "sync", "req-1")
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	got := spans[0]
	if got.Name != "pathway.summarize" {
		t.Errorf("span name = %q", got.Name)
	}
	if got.SpanKind != trace.SpanKindServer {
		t.Errorf("span kind = %v", got.SpanKind)
	}
	attrs := map[string]string{}
	for _, kv := range got.Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["pathway"] != "summarize" || attrs["mode"] != "sync" || attrs["request_id"] != "req-1" {
		t.Errorf("attributes = %v", attrs)
	}
}

func TestTraceProviderRequest_ClientKind(t *testing.T) {
	tracer, exporter := recordingTracer()

	_, span := tracer.TraceProviderRequest(context.Background(), "anthropic", "claude-sonnet")
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "llm.anthropic" || spans[0].SpanKind != trace.SpanKindClient {
		t.Errorf("span = %q kind %v", spans[0].Name, spans[0].SpanKind)
	}
}

func TestTracerRecordError(t *testing.T) {
	tracer, exporter := recordingTracer()

	_, span := tracer.Start(context.Background(), "op")
	tracer.RecordError(span, errors.New("backend down"))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if len(spans[0].Events) == 0 {
		t.Error("error not recorded as span event")
	}

	exporter.Reset()
	_, span = tracer.Start(context.Background(), "op")
	tracer.RecordError(span, nil)
	span.End()
	if evs := exporter.GetSpans()[0].Events; len(evs) != 0 {
		t.Errorf("nil error produced %d events", len(evs))
	}
}

func TestTraceAndSpanIDs(t *testing.T) {
	tracer, _ := recordingTracer()

	ctx, span := tracer.Start(context.Background(), "op")
	defer span.End()

	if GetTraceID(ctx) == "" || GetSpanID(ctx) == "" {
		t.Error("IDs empty inside an active span")
	}
	if GetTraceID(context.Background()) != "" || GetSpanID(context.Background()) != "" {
		t.Error("IDs non-empty outside a trace")
	}

	childCtx, child := tracer.Start(ctx, "child")
	defer child.End()
	if GetTraceID(childCtx) != GetTraceID(ctx) {
		t.Error("child span changed the trace ID")
	}
	if GetSpanID(childCtx) == GetSpanID(ctx) {
		t.Error("child span kept the parent span ID")
	}
}

func TestSamplerFor(t *testing.T) {
	cases := []struct {
		rate float64
		want string
	}{
		{0, sdktrace.AlwaysSample().Description()},
		{1, sdktrace.AlwaysSample().Description()},
		{-0.5, sdktrace.AlwaysSample().Description()},
		{0.25, sdktrace.TraceIDRatioBased(0.25).Description()},
	}
	for _, tc := range cases {
		if got := samplerFor(tc.rate).Description(); got != tc.want {
			t.Errorf("samplerFor(%v) = %q, want %q", tc.rate, got, tc.want)
		}
	}
}
