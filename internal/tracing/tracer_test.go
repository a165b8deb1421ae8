package tracing

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace/noop"
)

func resetGlobals() {
	otel.SetTracerProvider(noop.NewTracerProvider())
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator())
}

func TestInit_StdoutExporter(t *testing.T) {
	defer resetGlobals()

	shutdown, err := Init(context.Background(), Options{ServiceName: "scoutman-test", Version: "1.0.0", Exporter: "stdout", SampleRate: 1})
	if err != nil {
		t.Fatalf("Init with stdout exporter: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Options{ServiceName: "x", Exporter: "zipkin"})
	if err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestInit_SetsW3CPropagator(t *testing.T) {
	defer resetGlobals()

	shutdown, err := Init(context.Background(), Options{ServiceName: "x", Exporter: "stdout", SampleRate: 1})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer shutdown(context.Background())

	found := false
	for _, f := range otel.GetTextMapPropagator().Fields() {
		if f == "traceparent" {
			found = true
		}
	}
	if !found {
		t.Error("expected traceparent in propagator fields")
	}
}

func TestNewExporter_OTLP(t *testing.T) {
	for _, name := range []string{"otlp-grpc", "otlp-http"} {
		exp, err := newExporter(context.Background(), name, "localhost:4317", true)
		if err != nil {
			t.Fatalf("newExporter %s: %v", name, err)
		}
		if exp == nil {
			t.Fatalf("newExporter %s: nil exporter", name)
		}
		_ = exp.Shutdown(context.Background())
	}
}
