package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartOperationSpan opens the span covering one Generate or Search call.
func StartOperationSpan(ctx context.Context, op, mode string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "scoutman."+op,
		trace.WithAttributes(
			attribute.String("scoutman.op", op),
			attribute.String("scoutman.mode", mode),
		),
	)
}

// StartUpstreamSpan creates a client span for an HTTP call to a provider.
func StartUpstreamSpan(ctx context.Context, method, url, provider string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "upstream."+provider,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("upstream.url", url),
			attribute.String("upstream.provider", provider),
		),
	)
}

// InjectHeaders writes the current trace context (traceparent, tracestate)
// into the outgoing request headers.
func InjectHeaders(ctx context.Context, req *http.Request) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// SetOutcome records which provider answered and how many results came back.
func SetOutcome(ctx context.Context, success bool, providerUsed string, results int) {
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Bool("scoutman.success", success),
		attribute.String("scoutman.provider", providerUsed),
		attribute.Int("scoutman.results", results),
	)
}

// RecordError records err on the current span and marks it failed.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
