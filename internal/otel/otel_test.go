package otel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func newStdoutTracer(t *testing.T) *Tracer {
	t.Helper()
	tracer, err := NewTracer(context.Background(), &Config{
		Enabled:      true,
		ServiceName:  "casgen-test",
		ExporterType: ExporterStdout,
		SampleRate:   1.0,
	})
	if err != nil {
		t.Fatalf("NewTracer failed: %v", err)
	}
	t.Cleanup(func() { tracer.Shutdown(context.Background()) })
	return tracer
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Enabled {
		t.Error("expected Enabled false by default")
	}
	if cfg.ServiceName != "casgen" {
		t.Errorf("expected ServiceName 'casgen', got %q", cfg.ServiceName)
	}
	if cfg.ExporterType != ExporterNone {
		t.Errorf("expected ExporterType 'none', got %q", cfg.ExporterType)
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("expected SampleRate 1.0, got %f", cfg.SampleRate)
	}
}

func TestNewTracerDisabled(t *testing.T) {
	ctx := context.Background()

	tracer, err := NewTracer(ctx, DefaultConfig())
	if err != nil {
		t.Fatalf("NewTracer failed: %v", err)
	}
	defer tracer.Shutdown(ctx)

	if tracer.Enabled() {
		t.Error("expected tracer disabled")
	}

	_, span := tracer.StartSpan(ctx, "test.op")
	defer span.End()
	if span.IsRecording() {
		t.Error("disabled tracer must hand out non-recording spans")
	}
}

func TestNewTracerNilConfig(t *testing.T) {
	ctx := context.Background()

	tracer, err := NewTracer(ctx, nil)
	if err != nil {
		t.Fatalf("NewTracer failed: %v", err)
	}
	defer tracer.Shutdown(ctx)

	if tracer.Enabled() {
		t.Error("nil config must mean disabled")
	}
}

func TestNewTracerStdout(t *testing.T) {
	tracer := newStdoutTracer(t)

	if !tracer.Enabled() {
		t.Error("expected tracer enabled")
	}

	ctx, span := tracer.StartSpan(context.Background(), "test.op")
	defer span.End()

	if !span.SpanContext().IsValid() {
		t.Error("expected a valid span context")
	}
	if !span.IsRecording() {
		t.Error("expected a recording span")
	}

	traceID, spanID := GetTraceInfo(ctx)
	if traceID == "" || spanID == "" {
		t.Errorf("expected trace identifiers, got trace=%q span=%q", traceID, spanID)
	}
}

func TestNewTracerUnknownExporter(t *testing.T) {
	_, err := NewTracer(context.Background(), &Config{
		Enabled:      true,
		ServiceName:  "casgen-test",
		ExporterType: ExporterType("bogus"),
	})
	if err == nil {
		t.Fatal("expected an error for an unknown exporter type")
	}
}

func TestStartJobSpan(t *testing.T) {
	tracer := newStdoutTracer(t)

	ctx, span := tracer.StartJobSpan(context.Background(), JobSpanOptions{
		JobID:         "a2a7e80e-51b2-4d1e-b52c-7a3f2e9c1d01",
		TenantKeyID:   "key-1",
		WorkerID:      "worker-0",
		Priority:      "normal",
		TotalPatients: 2500,
	})
	defer span.End()

	if !span.SpanContext().IsValid() {
		t.Error("expected a valid job span context")
	}
	if got := tracer.SpanFromContext(ctx); got.SpanContext().SpanID() != span.SpanContext().SpanID() {
		t.Error("job span not installed in the returned context")
	}
}

func TestGetTraceInfoNoSpan(t *testing.T) {
	traceID, spanID := GetTraceInfo(context.Background())
	if traceID != "" || spanID != "" {
		t.Errorf("expected empty identifiers, got trace=%q span=%q", traceID, spanID)
	}
}

func TestRecordError(t *testing.T) {
	tracer := newStdoutTracer(t)

	_, span := tracer.StartSpan(context.Background(), "test.op")
	defer span.End()

	RecordError(span, errors.New("generation exploded"), "GENERATION_ERROR")

	// Nil span and nil error are both tolerated.
	RecordError(nil, errors.New("x"), "Y")
	RecordError(span, nil, "Y")
}

func TestNoopTracer(t *testing.T) {
	tracer := NoopTracer()

	if tracer.Enabled() {
		t.Error("noop tracer must report disabled")
	}

	ctx, span := tracer.StartSpan(context.Background(), "noop.op")
	defer span.End()
	if span.IsRecording() {
		t.Error("noop span must not record")
	}
	_ = ctx
}

func TestGlobalTracer(t *testing.T) {
	defer SetGlobalTracer(nil)

	tracer := newStdoutTracer(t)
	SetGlobalTracer(tracer)

	if got := GetGlobalTracer(); got != tracer {
		t.Error("GetGlobalTracer did not return the instance that was set")
	}

	SetGlobalTracer(nil)
	if got := GetGlobalTracer(); got == nil {
		t.Fatal("expected a no-op fallback, got nil")
	} else if got.Enabled() {
		t.Error("fallback tracer must be disabled")
	}
}

func TestSamplerConfigurations(t *testing.T) {
	tests := []struct {
		name string
		rate float64
	}{
		{"always", 1.0},
		{"ratio", 0.25},
		{"never", 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, err := NewTracer(context.Background(), &Config{
				Enabled:      true,
				ServiceName:  "casgen-test",
				ExporterType: ExporterStdout,
				SampleRate:   tt.rate,
			})
			if err != nil {
				t.Fatalf("NewTracer(%s): %v", tt.name, err)
			}
			defer tracer.Shutdown(context.Background())

			_, span := tracer.StartSpan(context.Background(), "sampled.op")
			span.End()
		})
	}
}

func TestPropagationRoundTrip(t *testing.T) {
	tracer := newStdoutTracer(t)

	ctx, span := tracer.StartSpan(context.Background(), "outbound.op")
	defer span.End()

	headers := http.Header{}
	InjectHeaders(ctx, headers, tracer)
	if headers.Get("traceparent") == "" {
		t.Fatal("expected a traceparent header after injection")
	}

	extracted := ExtractContext(context.Background(), headers, tracer)
	got := trace.SpanContextFromContext(extracted)
	if got.TraceID() != span.SpanContext().TraceID() {
		t.Errorf("trace id lost in propagation: got %s, want %s",
			got.TraceID(), span.SpanContext().TraceID())
	}
}

func TestInjectHeadersDisabled(t *testing.T) {
	tracer, err := NewTracer(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("NewTracer failed: %v", err)
	}

	headers := http.Header{}
	InjectHeaders(context.Background(), headers, tracer)
	if len(headers) != 0 {
		t.Errorf("disabled tracer must not inject headers, got %v", headers)
	}

	InjectHeaders(context.Background(), headers, nil)
	if len(headers) != 0 {
		t.Errorf("nil tracer must not inject headers, got %v", headers)
	}
}

func TestExtractContextDisabled(t *testing.T) {
	tracer, err := NewTracer(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("NewTracer failed: %v", err)
	}

	headers := http.Header{}
	headers.Set("traceparent", "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01")

	ctx := context.Background()
	if got := ExtractContext(ctx, headers, tracer); got != ctx {
		t.Error("disabled tracer must return the context unchanged")
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	tracer, err := NewTracer(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("NewTracer failed: %v", err)
	}

	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusAccepted)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	Middleware(tracer, nil, nil)(handler).ServeHTTP(rec, req)

	if !called {
		t.Fatal("handler not invoked")
	}
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
}

func TestMiddlewareEnabled(t *testing.T) {
	tracer := newStdoutTracer(t)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !trace.SpanFromContext(r.Context()).SpanContext().IsValid() {
			t.Error("expected a server span in the request context")
		}
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/abc", nil)
	Middleware(tracer, nil, nil)(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", rec.Code)
	}
}

func TestMiddlewareContinuesRemoteTrace(t *testing.T) {
	tracer := newStdoutTracer(t)

	const upstreamTraceID = "0af7651916cd43dd8448eb211c80319c"

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc := trace.SpanFromContext(r.Context()).SpanContext()
		if sc.TraceID().String() != upstreamTraceID {
			t.Errorf("trace id = %s, want %s", sc.TraceID(), upstreamTraceID)
		}
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate", nil)
	req.Header.Set("traceparent", "00-"+upstreamTraceID+"-b7ad6b7169203331-01")
	Middleware(tracer, nil, nil)(handler).ServeHTTP(rec, req)
}

func TestMiddlewareRouteLabel(t *testing.T) {
	var labeled string
	routeFor := func(path string) string {
		labeled = path
		return "/api/v1/jobs/{id}"
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/550e8400", nil)
	Middleware(nil, nil, routeFor)(handler).ServeHTTP(rec, req)

	if labeled != "/api/v1/jobs/550e8400" {
		t.Errorf("routeFor saw %q, want the raw path", labeled)
	}
}

func TestMiddlewareKeepsFlusher(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := w.(http.Flusher); !ok {
			t.Error("response writer lost http.Flusher through the middleware")
		}
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/x/events", nil)
	Middleware(nil, nil, nil)(handler).ServeHTTP(rec, req)
}
