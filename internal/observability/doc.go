// Package observability provides the logging, metrics and tracing used across
// herald.
//
// # Logging
//
// NewLogger builds a *slog.Logger from LogConfig. Output goes to stderr or, when
// LogConfig.File is set, to a size-rotated file. String attributes are passed
// through the redaction patterns so bot tokens and API keys never reach the log.
//
//	logger, closer, err := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//	defer closer.Close()
//
// # Metrics
//
// Metrics are Prometheus collectors registered on the registerer passed to
// NewMetrics. Every recording method is safe to call on a nil *Metrics, so
// components accept an optional metrics value without branching.
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(reg)
//	metrics.RecordRun("user", "result", 1.2)
//
// # Tracing
//
// NewTracer exports spans over OTLP/gRPC when an endpoint is configured and
// falls back to a no-op tracer otherwise. A nil *Tracer is also usable.
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "herald",
//	    Endpoint:    "localhost:4317",
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceRun(ctx, chatID, false)
//	defer span.End()
package observability
