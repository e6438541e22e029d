package observability

import (
	"context"
	"errors"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewTracer_NoEndpoint(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{})
	if tracer == nil {
		t.Fatal("NewTracer() returned nil")
	}
	if tracer.config.ServiceName != "herald" {
		t.Errorf("ServiceName = %q, want herald", tracer.config.ServiceName)
	}

	_, span := tracer.TraceRun(context.Background(), 42, false)
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestTracer_NilIsNoop(t *testing.T) {
	var tracer *Tracer
	ctx, span := tracer.TraceHeartbeatTick(context.Background())
	if ctx == nil || span == nil {
		t.Fatal("nil tracer returned nil context or span")
	}
	if span.IsRecording() {
		t.Error("nil tracer span is recording")
	}
	span.End()
}

func TestTracer_SpanNamesAndErrors(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := &Tracer{tracer: provider.Tracer("test")}

	_, run := tracer.TraceRun(context.Background(), 7, true)
	RecordError(run, errors.New("boom"))
	run.End()

	_, tick := tracer.TraceHeartbeatTick(context.Background())
	RecordError(tick, nil)
	tick.End()

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	if spans[0].Name() != "agent.run" || spans[1].Name() != "heartbeat.tick" {
		t.Errorf("span names = %q, %q", spans[0].Name(), spans[1].Name())
	}
	if len(spans[0].Events()) == 0 {
		t.Error("agent.run span has no error event")
	}
	if len(spans[1].Events()) != 0 {
		t.Error("RecordError(nil) added an event")
	}
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{0, "ParentBased{root:AlwaysOnSampler"},
		{1, "ParentBased{root:AlwaysOnSampler"},
		{0.25, "ParentBased{root:TraceIDRatioBased{0.25}"},
		{-1, "AlwaysOffSampler"},
	}
	for _, tt := range tests {
		if got := samplerFor(tt.rate).Description(); !strings.HasPrefix(got, tt.want) {
			t.Errorf("samplerFor(%v) = %q, want prefix %q", tt.rate, got, tt.want)
		}
	}
}
