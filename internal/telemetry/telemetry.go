// Package telemetry wires the tracer the orchestrator wraps around
// message dispatch and directory calls.
package telemetry

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerName identifies vigil spans.
const TracerName = "vigil"

// NewProvider builds a TracerProvider with the given span processors.
// With none, spans are complete no-ops.
func NewProvider(processors ...sdktrace.SpanProcessor) *sdktrace.TracerProvider {
	opts := make([]sdktrace.TracerProviderOption, 0, len(processors))
	for _, p := range processors {
		opts = append(opts, sdktrace.WithSpanProcessor(p))
	}
	return sdktrace.NewTracerProvider(opts...)
}

// Noop returns a tracer that records nothing. Used where no provider is
// configured, so call sites never nil-check.
func Noop() trace.Tracer {
	return noop.NewTracerProvider().Tracer(TracerName)
}

// Dispatch opens a span around handling one message kind. End it with
// EndSpan.
func Dispatch(ctx context.Context, tracer trace.Tracer, kind string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "vigil.dispatch", trace.WithAttributes(
		attribute.String("vigil.message.kind", kind),
	))
}

// DirectoryCall opens a span around one directory operation.
func DirectoryCall(ctx context.Context, tracer trace.Tracer, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "vigil.directory."+op)
}

// EndSpan closes a span, recording err when non-nil.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
	}
	span.End()
}
