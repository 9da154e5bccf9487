package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartStageSpan creates a child span for one pipeline stage
// (admission, template, validate, mask, stream, unmask).
func StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "pipeline."+stage,
		trace.WithAttributes(attribute.String("pipeline.stage", stage)),
	)
}

// StartAttemptSpan creates a child span for one provider attempt in the
// fallback chain.
func StartAttemptSpan(ctx context.Context, model, providerName string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "provider.attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("attempt.model", model),
			attribute.String("attempt.provider", providerName),
		),
	)
}

// InjectHeaders injects the current trace context (traceparent, tracestate)
// into the given HTTP request headers so the upstream service can continue
// the trace.
func InjectHeaders(ctx context.Context, req *http.Request) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// SetRequestAttributes adds request-level attributes to the current span.
func SetRequestAttributes(ctx context.Context, requestID, tenantID, usecase string) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("request.id", requestID),
		attribute.String("request.tenant", tenantID),
		attribute.String("request.usecase", usecase),
	)
}

// SetUsageAttributes adds usage attributes to the current span once the
// stream has been consumed.
func SetUsageAttributes(ctx context.Context, model string, tokensIn, tokensOut, costJPY int64, estimated bool) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("usage.model", model),
		attribute.Int64("usage.tokens_in", tokensIn),
		attribute.Int64("usage.tokens_out", tokensOut),
		attribute.Int64("usage.cost_jpy", costJPY),
		attribute.Bool("usage.estimated", estimated),
	)
}

// RecordError records an error on the current span.
func RecordError(ctx context.Context, err error) {
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
