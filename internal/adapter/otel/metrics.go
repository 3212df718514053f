package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "uvalens"

// Metrics holds all uvalens metric instruments.
type Metrics struct {
	Analyses        metric.Int64Counter
	AnalysisFailed  metric.Int64Counter
	CacheHits       metric.Int64Counter
	SkippedElements metric.Int64Counter
	Restarts        metric.Int64Counter
	ServerEvents    metric.Int64Counter
	AnalysisSeconds metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Analyses, err = meter.Int64Counter("uvalens.analyses",
		metric.WithDescription("Number of analysis requests dispatched"))
	if err != nil {
		return nil, err
	}

	m.AnalysisFailed, err = meter.Int64Counter("uvalens.analyses.failed",
		metric.WithDescription("Number of analysis requests that produced an empty result"))
	if err != nil {
		return nil, err
	}

	m.CacheHits, err = meter.Int64Counter("uvalens.cache.hits",
		metric.WithDescription("Number of analyses answered from the result cache"))
	if err != nil {
		return nil, err
	}

	m.SkippedElements, err = meter.Int64Counter("uvalens.decode.skipped",
		metric.WithDescription("Number of malformed response elements skipped"))
	if err != nil {
		return nil, err
	}

	m.Restarts, err = meter.Int64Counter("uvalens.analyzer.restarts",
		metric.WithDescription("Number of analyzer process restarts"))
	if err != nil {
		return nil, err
	}

	m.ServerEvents, err = meter.Int64Counter("uvalens.analyzer.events",
		metric.WithDescription("Supervisor events by kind"))
	if err != nil {
		return nil, err
	}

	m.AnalysisSeconds, err = meter.Float64Histogram("uvalens.analysis.duration_seconds",
		metric.WithDescription("Analysis round-trip duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordAnalysis records one dispatched analysis. A nil receiver is a no-op.
func (m *Metrics) RecordAnalysis(ctx context.Context, mode string, seconds float64, skipped int, failed bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("mode", mode))
	m.Analyses.Add(ctx, 1, attrs)
	m.AnalysisSeconds.Record(ctx, seconds, attrs)
	if skipped > 0 {
		m.SkippedElements.Add(ctx, int64(skipped), attrs)
	}
	if failed {
		m.AnalysisFailed.Add(ctx, 1, attrs)
	}
}

// RecordCacheHit counts one cache hit. A nil receiver is a no-op.
func (m *Metrics) RecordCacheHit(ctx context.Context) {
	if m == nil {
		return
	}
	m.CacheHits.Add(ctx, 1)
}

// RecordEvent counts a supervisor event. A nil receiver is a no-op.
func (m *Metrics) RecordEvent(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.ServerEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	if kind == "restarted" {
		m.Restarts.Add(ctx, 1)
	}
}
