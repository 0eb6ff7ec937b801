package httpmw

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/keithlinneman/stancemap/internal/httpmw"

// statusWriter records the status and body size a handler produced. When the
// request span is recording it also opens a response.write child span on the
// first write, measuring time to first byte and time blocked on the client.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64

	ctx     context.Context
	start   time.Time
	began   bool
	span    trace.Span
	blocked time.Duration
	err     error
}

func newStatusWriter(ctx context.Context, w http.ResponseWriter, start time.Time) *statusWriter {
	return &statusWriter{ResponseWriter: w, ctx: ctx, start: start}
}

func (sw *statusWriter) statusCode() int {
	if sw.status == 0 {
		return http.StatusOK
	}
	return sw.status
}

func (sw *statusWriter) beginWrite() {
	if sw.began {
		return
	}
	sw.began = true
	parent := trace.SpanFromContext(sw.ctx)
	if !parent.IsRecording() {
		return
	}
	ttfb := time.Since(sw.start)
	_, sw.span = parent.TracerProvider().Tracer(tracerName).Start(sw.ctx, "response.write",
		trace.WithAttributes(attribute.Float64("http.server.ttfb_seconds", ttfb.Seconds())),
	)
}

// endWrite closes the response.write span, if one was opened
func (sw *statusWriter) endWrite() {
	if sw.span == nil {
		return
	}
	sw.span.SetAttributes(
		attribute.Int("http.response.status_code", sw.statusCode()),
		attribute.Int64("http.response.body.size", sw.bytes),
		attribute.Float64("http.server.write.block_seconds", sw.blocked.Seconds()),
	)
	if sw.err != nil {
		sw.span.RecordError(sw.err)
		sw.span.SetStatus(codes.Error, sw.err.Error())
	}
	sw.span.End()
	sw.span = nil
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.beginWrite()
	if sw.status == 0 {
		sw.status = code
	}
	t := time.Now()
	sw.ResponseWriter.WriteHeader(code)
	sw.blocked += time.Since(t)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.beginWrite()
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	t := time.Now()
	n, err := sw.ResponseWriter.Write(b)
	sw.blocked += time.Since(t)
	sw.bytes += int64(n)
	if err != nil && sw.err == nil {
		sw.err = err
	}
	return n, err
}

func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}
