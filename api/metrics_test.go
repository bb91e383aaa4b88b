package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter, func()) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	cleanup := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(prev)
	}
	return tp, exporter, cleanup
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func TestMutationMetricsLogEmitsEntryAndSpan(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	metrics, _ := newMutationMetrics(context.Background(), logger, "/api/tasks/:id/status")
	metrics.start = metrics.start.Add(-50 * time.Millisecond)
	metrics.ObserveAuth(10 * time.Millisecond)
	metrics.ObserveLoad(15 * time.Millisecond)
	metrics.ObserveApply(5 * time.Millisecond)
	metrics.SetStatusChanged(true)

	metrics.Log(http.StatusOK, nil)

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("expected a log entry")
	}
	if entry.Message != "mutation.request.metrics" {
		t.Fatalf("unexpected message: %s", entry.Message)
	}
	if entry.Data["route"] != "/api/tasks/:id/status" {
		t.Fatalf("unexpected route: %v", entry.Data["route"])
	}
	if entry.Data["status"] != http.StatusOK {
		t.Fatalf("unexpected status: %v", entry.Data["status"])
	}
	if entry.Data["status_changed"] != true {
		t.Fatal("expected status_changed true")
	}
	if total, ok := entry.Data["total_ms"].(float64); !ok || total < 50 {
		t.Fatalf("unexpected total_ms: %v", entry.Data["total_ms"])
	}
	for _, key := range []string{"auth_ms", "load_ms", "apply_ms"} {
		if _, ok := entry.Data[key]; !ok {
			t.Fatalf("expected %s to be logged", key)
		}
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != "/api/tasks/:id/status" {
		t.Fatalf("unexpected span name: %s", span.Name)
	}
	if span.Status.Code != codes.Ok {
		t.Fatalf("expected ok span status, got %v", span.Status.Code)
	}
	attrs := attributesToMap(span.Attributes)
	if attrs["http.status_code"] != int64(http.StatusOK) {
		t.Fatalf("unexpected status attribute: %#v", attrs["http.status_code"])
	}
	if attrs["task.status_changed"] != true {
		t.Fatal("expected status changed span attribute")
	}
}

func TestMutationMetricsLogError(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	metrics, _ := newMutationMetrics(context.Background(), logger, "/api/tasks/:id/status")
	metrics.SetErrorStage("persist")
	boom := errors.New("table unavailable")

	metrics.Log(http.StatusInternalServerError, boom)

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("expected a log entry")
	}
	if entry.Data["error_stage"] != "persist" {
		t.Fatalf("unexpected error stage: %v", entry.Data["error_stage"])
	}
	if entry.Data["error"] != boom.Error() {
		t.Fatalf("unexpected error field: %v", entry.Data["error"])
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Status.Code != codes.Error {
		t.Fatalf("expected error span status, got %v", span.Status.Code)
	}
	if span.Status.Description != boom.Error() {
		t.Fatalf("unexpected status description: %s", span.Status.Description)
	}
	attrs := attributesToMap(span.Attributes)
	if attrs["error.stage"] != "persist" {
		t.Fatalf("expected error stage span attribute, got %#v", attrs["error.stage"])
	}
}

func TestSeverityForStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		err      error
		wantCode codes.Code
	}{
		{name: "ok", status: http.StatusOK, wantCode: codes.Ok},
		{name: "client_error", status: http.StatusBadRequest, wantCode: codes.Unset},
		{name: "server_error", status: http.StatusInternalServerError, wantCode: codes.Error},
		{name: "error_with_ok_status", status: http.StatusOK, err: errors.New("boom"), wantCode: codes.Error},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotCode, gotDescription := severityForStatus(tt.status, tt.err)
			if gotCode != tt.wantCode {
				t.Fatalf("severityForStatus(%d, %v) = %v, want %v", tt.status, tt.err, gotCode, tt.wantCode)
			}
			if tt.wantCode == codes.Error && gotDescription == "" {
				t.Fatal("expected a description for error status")
			}
		})
	}
}
