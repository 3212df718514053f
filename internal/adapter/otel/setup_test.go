package otel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/uvalang/uvalens/internal/config"
)

func TestInit_NoneExporters(t *testing.T) {
	shutdown, err := Init(context.Background(), config.Telemetry{TraceExporter: ExporterNone, MetricExporter: ExporterNone}, "uvalens")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	shutdown, err := Init(context.Background(), config.Telemetry{TraceExporter: "zipkin"}, "uvalens")
	if !errors.Is(err, ErrUnknownExporter) {
		t.Fatalf("expected ErrUnknownExporter, got %v", err)
	}
	if shutdown == nil {
		t.Fatal("shutdown must never be nil")
	}
}

func TestInit_PrometheusServesMetrics(t *testing.T) {
	ctx := context.Background()
	shutdown, err := Init(ctx, config.Telemetry{MetricExporter: ExporterPrometheus, ServiceVersion: "test"}, "uvalens")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(ctx) })

	m, err := NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordAnalysis(ctx, "server", 0.01, 2, false)
	m.RecordEvent(ctx, "restarted")

	h := MetricsHandler()
	if h == nil {
		t.Fatal("expected metrics handler")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	m.RecordAnalysis(context.Background(), "server", 1, 1, true)
	m.RecordCacheHit(context.Background())
	m.RecordEvent(context.Background(), "restarted")
}

func TestSpans(t *testing.T) {
	ctx, span := StartAnalyzeSpan(context.Background(), "/w/a.uva", "uva")
	_, child := StartDispatchSpan(ctx, "server", "/tmp/a.uva")
	child.End()
	span.End()
	_, tok := StartTokensSpan(context.Background(), "/w/a.uva")
	tok.End()
}
