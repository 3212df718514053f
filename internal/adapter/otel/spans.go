package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "uvalens"

// StartAnalyzeSpan starts a span for one facade analysis of a document.
func StartAnalyzeSpan(ctx context.Context, path, languageID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "analyze",
		trace.WithAttributes(
			attribute.String("document.path", path),
			attribute.String("document.language_id", languageID),
		),
	)
}

// StartDispatchSpan starts a span for a request sent to the analyzer.
func StartDispatchSpan(ctx context.Context, mode, handoff string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "analyzer.dispatch",
		trace.WithAttributes(
			attribute.String("analyzer.mode", mode),
			attribute.String("analyzer.handoff", handoff),
		),
	)
}

// StartTokensSpan starts a span for a one-shot token request.
func StartTokensSpan(ctx context.Context, path string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "analyzer.tokens",
		trace.WithAttributes(attribute.String("document.path", path)),
	)
}
