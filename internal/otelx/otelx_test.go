package otelx

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestInit_Disabled(t *testing.T) {
	// options other than Enabled are ignored on this path
	for i := 0; i < 2; i++ {
		shutdown, err := Init(context.Background(), Options{Endpoint: "bogus", Sample: 7, Service: "stancemap"})
		if err != nil {
			t.Fatalf("Init: %v", err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	}

	fields := otel.GetTextMapPropagator().Fields()
	for _, want := range []string{"traceparent", "tracestate", "baggage"} {
		if !slices.Contains(fields, want) {
			t.Errorf("propagator fields %v missing %q", fields, want)
		}
	}

	_, span := Tracer().Start(context.Background(), "noop")
	span.End()
	if !span.SpanContext().IsValid() {
		t.Error("disabled tracing still installs an sdk provider with valid span ids")
	}
}

func TestInit_EnabledReturnsPromptly(t *testing.T) {
	start := time.Now()
	shutdown, err := Init(context.Background(), Options{
		Enabled:    true,
		Endpoint:   "localhost:1",
		Insecure:   true,
		Sample:     1,
		Service:    "stancemap",
		Component:  "test",
		Version:    "v0.0.0-test",
		Attributes: map[string]string{"stancemap.store_backend": "memory"},
	})
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("Init took %s, dial should be bounded", elapsed)
	}
	if err != nil {
		return
	}
	t.Cleanup(func() { otel.SetTracerProvider(sdktrace.NewTracerProvider()) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// no collector is listening, only the call itself matters
	_ = shutdown(ctx)
}

func TestServiceName(t *testing.T) {
	tests := []struct {
		service, component, want string
	}{
		{"stancemap", "server", "stancemap.server"},
		{"stancemap", "", "stancemap"},
		{"", "server", "server"},
		{"", "", ""},
	}
	for _, tt := range tests {
		if got := serviceName(Options{Service: tt.service, Component: tt.component}); got != tt.want {
			t.Errorf("serviceName(%q, %q) = %q, want %q", tt.service, tt.component, got, tt.want)
		}
	}
}

func TestStartEnd(t *testing.T) {
	tests := []struct {
		name       string
		kv         []string
		err        error
		wantAttrs  int
		wantStatus codes.Code
	}{
		{"error recorded", []string{"room_id", "default", "dangling"}, errors.New("model timeout"), 1, codes.Error},
		{"success leaves status unset", []string{"room_id", "default", "match_id", "42"}, nil, 2, codes.Unset},
		{"no attributes", nil, nil, 0, codes.Unset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := recordSpans(t)
			_, span := Start(context.Background(), "summarize.room", tt.kv...)
			End(span, tt.err)

			ended := rec.Ended()
			if len(ended) != 1 {
				t.Fatalf("ended spans = %d, want 1", len(ended))
			}
			s := ended[0]
			if s.Name() != "summarize.room" {
				t.Errorf("name = %q", s.Name())
			}
			if len(s.Attributes()) != tt.wantAttrs {
				t.Errorf("attributes = %v, want %d", s.Attributes(), tt.wantAttrs)
			}
			if s.Status().Code != tt.wantStatus {
				t.Errorf("status = %v, want %v", s.Status().Code, tt.wantStatus)
			}
			if tt.err != nil && len(s.Events()) == 0 {
				t.Error("error should be recorded as a span event")
			}
		})
	}
}
