package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/storefront/api/internal/platform/requestctx"
)

func TestTraceMiddlewareCloudTraceHeader(t *testing.T) {
	var info requestctx.TraceInfo
	handler := TraceMiddleware("shop-prod")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if info.TraceID != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("expected caller trace id, got %q", info.TraceID)
	}
	if info.ProjectID != "shop-prod" {
		t.Fatalf("expected project id, got %q", info.ProjectID)
	}
	if rr.Header().Get(cloudTraceHeader) == "" {
		t.Fatalf("expected cloud trace header on response")
	}
}

func TestTraceMiddlewareTraceparent(t *testing.T) {
	var info requestctx.TraceInfo
	handler := TraceMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if info.TraceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected traceparent trace id, got %q", info.TraceID)
	}
	if !info.Sampled {
		t.Fatalf("expected sampled flag from traceparent")
	}
	if got := rr.Header().Get("traceparent"); got == "" {
		t.Fatalf("expected traceparent echoed on response")
	}
}

func TestTraceMiddlewareWithoutHeaders(t *testing.T) {
	called := false
	handler := TraceMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if !called {
		t.Fatalf("expected downstream handler to run")
	}
}

func TestParseCloudTrace(t *testing.T) {
	tests := []struct {
		header  string
		ok      bool
		sampled bool
	}{
		{header: "105445aa7843bc8bf206b12000100000/1;o=1", ok: true, sampled: true},
		{header: "105445aa7843bc8bf206b12000100000/123456789;o=0", ok: true},
		{header: "105445aa7843bc8bf206b12000100000/00f067aa0ba902b7", ok: true},
		{header: "105445aa7843bc8bf206b12000100000", ok: false},
		{header: "105445aa7843bc8bf206b12000100000/0;o=1", ok: false},
		{header: "short/1;o=1", ok: false},
		{header: "", ok: false},
	}
	for _, tc := range tests {
		sc, ok := parseCloudTrace(tc.header)
		if ok != tc.ok {
			t.Fatalf("%q: expected ok=%v, got %v", tc.header, tc.ok, ok)
		}
		if ok && sc.IsSampled() != tc.sampled {
			t.Fatalf("%q: expected sampled=%v", tc.header, tc.sampled)
		}
	}
}

func TestFormatCloudTraceRoundTrip(t *testing.T) {
	sc, ok := parseCloudTrace("105445aa7843bc8bf206b12000100000/123456789;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if got := formatCloudTrace(sc); got != "105445aa7843bc8bf206b12000100000/123456789;o=1" {
		t.Fatalf("unexpected formatted header %q", got)
	}
}

func TestEventLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	hook := EventLogger(zap.New(core))

	hook(context.Background(), "purchase.ticket_code.collision", map[string]any{"attempt": 1})
	hook(context.Background(), "purchase.finalize.error", map[string]any{"error": errors.New("boom")})
	hook(context.Background(), "notification.failed", nil)

	entries := logs.AllUntimed()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected info for collision, got %s", entries[0].Level)
	}
	if entries[1].Level != zapcore.WarnLevel || entries[2].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn for failure events")
	}
	if got := entries[1].ContextMap()["error"]; got != "boom" {
		t.Fatalf("expected error field, got %v", got)
	}
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	fallbackCore, fallbackLogs := observer.New(zapcore.InfoLevel)
	requestCore, requestLogs := observer.New(zapcore.InfoLevel)
	hook := EventLogger(zap.New(fallbackCore))

	ctx := requestctx.WithLogger(context.Background(), zap.New(requestCore))
	hook(ctx, "order.created", map[string]any{"orderNumber": "ORD-20260101-0001"})

	if fallbackLogs.Len() != 0 {
		t.Fatalf("expected fallback logger unused")
	}
	if requestLogs.Len() != 1 {
		t.Fatalf("expected request logger entry")
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "internal_server_error" {
		t.Fatalf("unexpected error code %v", body["error"])
	}
	if logs.Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestRequestLoggerMiddlewareLevels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	chain := InjectLoggerMiddleware(zap.New(core))(RequestLoggerMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})))

	chain.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil))

	completed := logs.FilterMessage("request completed").AllUntimed()
	if len(completed) != 1 {
		t.Fatalf("expected completion entry, got %d", len(completed))
	}
	if completed[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn for 4xx, got %s", completed[0].Level)
	}
	if completed[0].ContextMap()["status"] != int64(http.StatusConflict) {
		t.Fatalf("expected status field, got %v", completed[0].ContextMap()["status"])
	}
}

func TestStatusClass(t *testing.T) {
	cases := map[int]string{200: "2xx", 404: "4xx", 503: "5xx", 42: "unknown"}
	for status, want := range cases {
		if got := statusClass(status); got != want {
			t.Fatalf("status %d: expected %s, got %s", status, want, got)
		}
	}
}

func TestMetricsMiddlewarePassesThrough(t *testing.T) {
	handler := MetricsMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger("verbose")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug disabled")
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("expected info enabled")
	}
}

func TestCleanStripsControlCharacters(t *testing.T) {
	if got := clean("ORD-1\r\nforged line", 64); got != "ORD-1forged line" {
		t.Fatalf("unexpected cleaned value %q", got)
	}
	if got := clean("ñandú", 3); got != "ñan" {
		t.Fatalf("expected rune-aware truncation, got %q", got)
	}
}

func TestRequestLoggerMiddlewareLogsTraceResource(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	chain := InjectLoggerMiddleware(zap.New(core))(TraceMiddleware("shop-prod")(RequestLoggerMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	req.Header.Set("Idempotency-Key", "k-1")
	chain.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("request completed").AllUntimed()
	if len(entries) != 1 {
		t.Fatalf("expected one access log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["logging.googleapis.com/trace"] != "projects/shop-prod/traces/105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace resource %v", fields["logging.googleapis.com/trace"])
	}
	if fields["idempotent"] != true {
		t.Fatalf("expected idempotent flag, got %v", fields["idempotent"])
	}
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected info for 201, got %s", entries[0].Level)
	}
}
