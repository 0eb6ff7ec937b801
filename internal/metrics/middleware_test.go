package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel/trace"
)

func metricLabels(metric *dto.Metric) map[string]string {
	out := make(map[string]string)
	for _, lp := range metric.GetLabel() {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}

// newRoutedHandler mounts the api shapes behind the middleware the same way
// httpserver does: metrics outside, chi router inside.
func newRoutedHandler(m *ServerMetrics) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/rooms/{roomId}/threads", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[]}`))
	})
	r.Post("/api/rooms/{roomId}/votes", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	r.Post("/api/jobs/summarize", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	return m.Middleware(r)
}

func TestStatusWriter(t *testing.T) {
	sw := &statusWriter{ResponseWriter: httptest.NewRecorder()}
	_, _ = sw.Write([]byte("abc"))
	_, _ = sw.Write([]byte("de"))
	if sw.status != http.StatusOK || sw.n != 5 {
		t.Fatalf("status/n = %d/%d, want 200/5", sw.status, sw.n)
	}

	sw = &statusWriter{ResponseWriter: httptest.NewRecorder()}
	sw.WriteHeader(http.StatusNotFound)
	if sw.status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", sw.status)
	}
}

func TestMiddleware_RoutePatternLabels(t *testing.T) {
	m := New()
	h := newRoutedHandler(m)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/rooms/r1/threads", http.NoBody))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/rooms/r2/threads", http.NoBody))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/rooms/r1/votes", http.NoBody))

	f := gatherMetric(t, m.reg, "http_requests_total")
	if f == nil {
		t.Fatal("http_requests_total not found")
	}
	got := make(map[string]float64)
	for _, metric := range f.GetMetric() {
		l := metricLabels(metric)
		got[l["method"]+" "+l["route"]+" "+l["status"]] = metric.GetCounter().GetValue()
	}
	want := map[string]float64{
		"GET /api/rooms/{roomId}/threads 200": 2,
		"POST /api/rooms/{roomId}/votes 429":  1,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v (all: %v)", k, got[k], v, got)
		}
	}
	if len(got) != len(want) {
		t.Errorf("series = %v, want only %v", got, want)
	}
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	m := New()
	h := newRoutedHandler(m)

	for _, p := range []string{"/wp-login.php", "/.env", "/api/nope"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, http.NoBody))
	}

	f := gatherMetric(t, m.reg, "http_requests_total")
	if len(f.GetMetric()) != 1 {
		t.Fatalf("series = %d, want 1 for all unmatched paths", len(f.GetMetric()))
	}
	l := metricLabels(f.GetMetric()[0])
	if l["route"] != unmatchedRoute || l["status"] != "404" {
		t.Fatalf("labels = %v", l)
	}
	if f.GetMetric()[0].GetCounter().GetValue() != 3 {
		t.Fatalf("count = %v, want 3", f.GetMetric()[0].GetCounter().GetValue())
	}
}

func TestMiddleware_ErrorsTotalOnlyFor5xx(t *testing.T) {
	m := New()
	h := newRoutedHandler(m)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/rooms/r1/votes", http.NoBody))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/jobs/summarize", http.NoBody))

	f := gatherMetric(t, m.reg, "http_errors_total")
	if f == nil || len(f.GetMetric()) != 1 {
		t.Fatalf("http_errors_total = %v, want one series", f)
	}
	if l := metricLabels(f.GetMetric()[0]); l["route"] != "/api/jobs/summarize" {
		t.Fatalf("labels = %v", l)
	}
}

func TestMiddleware_DurationSizeAndInflight(t *testing.T) {
	m := New()
	var inflight float64
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f := gatherMetric(t, m.reg, "http_inflight_requests")
		inflight = f.GetMetric()[0].GetGauge().GetValue()
		_, _ = w.Write([]byte("hello"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if rec.Body.String() != "hello" {
		t.Fatalf("body = %q, response should pass through", rec.Body.String())
	}
	if inflight != 1 {
		t.Fatalf("inflight during request = %v, want 1", inflight)
	}
	if after := gatherMetric(t, m.reg, "http_inflight_requests").GetMetric()[0].GetGauge().GetValue(); after != 0 {
		t.Fatalf("inflight after request = %v, want 0", after)
	}
	if n := histogramCount(t, m.reg, "http_request_duration_seconds"); n != 1 {
		t.Fatalf("duration samples = %d, want 1", n)
	}
	size := gatherMetric(t, m.reg, "http_response_size_bytes").GetMetric()[0].GetHistogram()
	if size.GetSampleSum() != 5 {
		t.Fatalf("response size sum = %v, want 5", size.GetSampleSum())
	}
}

func TestTraceExemplar(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")

	sampled := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))
	if ex := traceExemplar(sampled); ex["trace_id"] != traceID.String() {
		t.Fatalf("exemplar = %v", ex)
	}

	unsampled := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID,
	}))
	if ex := traceExemplar(unsampled); ex != nil {
		t.Fatalf("unsampled exemplar = %v, want nil", ex)
	}
	if ex := traceExemplar(context.Background()); ex != nil {
		t.Fatalf("exemplar without trace = %v, want nil", ex)
	}
}
