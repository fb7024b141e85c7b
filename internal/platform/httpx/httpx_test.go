package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

func TestWriteErrorEnvelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := req.Context()
	rr := httptest.NewRecorder()

	err := NewError("insufficient_stock", "not enough\nstock", http.StatusConflict).
		WithRequestID("req-1").
		WithDetails(map[string]any{"failed_products": []string{"p1"}, "status": 999})
	WriteError(ctx, rr, err)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json content type, got %q", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "insufficient_stock" || body["message"] != "not enough stock" {
		t.Fatalf("unexpected envelope %v", body)
	}
	if body["status"] != float64(http.StatusConflict) {
		t.Fatalf("details must not override status, got %v", body["status"])
	}
	if body["request_id"] != "req-1" {
		t.Fatalf("expected request id, got %v", body["request_id"])
	}
	if _, ok := body["failed_products"]; !ok {
		t.Fatalf("expected failed_products detail")
	}
}

func TestWriteErrorUsesRequestIDFromContext(t *testing.T) {
	var got map[string]any
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(r.Context(), w, NewErrorf("not_found", http.StatusNotFound, "ticket %s not found", "T-1"))
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["message"] != "ticket T-1 not found" {
		t.Fatalf("unexpected message %v", got["message"])
	}
	if id, _ := got["request_id"].(string); id == "" {
		t.Fatalf("expected request id from chi middleware")
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name    string
		body    string
		limit   int64
		wantErr error
		wantAny bool
	}{
		{name: "valid", body: `{"name":"mug"}`, limit: 64},
		{name: "empty", body: "  ", limit: 64, wantErr: ErrEmptyBody},
		{name: "too large", body: `{"name":"` + strings.Repeat("x", 100) + `"}`, limit: 16, wantErr: ErrBodyTooLarge},
		{name: "unknown field", body: `{"nme":"mug"}`, limit: 64, wantAny: true},
		{name: "trailing data", body: `{"name":"a"}{"name":"b"}`, limit: 64, wantAny: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var dst payload
			err := DecodeJSON(req, tc.limit, &dst)
			switch {
			case tc.wantErr != nil:
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
			case tc.wantAny:
				if err == nil {
					t.Fatalf("expected error")
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if dst.Name != "mug" {
					t.Fatalf("expected name mug, got %q", dst.Name)
				}
			}
		})
	}
}

func TestWriteDecodeErrorStatus(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rr := httptest.NewRecorder()
	WriteDecodeError(rr, req, ErrBodyTooLarge)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}

func TestWriteErrorRetryAfterRoundsUp(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	WriteError(req.Context(), rr, NewError("rate_limited", "slow down", http.StatusTooManyRequests).WithRetryAfter(1500*time.Millisecond))

	if got := rr.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After 2, got %q", got)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["request_id"]; ok {
		t.Fatalf("request_id must be omitted without a request id, got %v", body["request_id"])
	}
}

func TestNewErrorFlattensControlCharacters(t *testing.T) {
	err := NewError("bad\tcode", "line one\r\nline two\x00", http.StatusBadRequest)
	if err.Code != "bad code" {
		t.Fatalf("unexpected code %q", err.Code)
	}
	if err.Message != "line one  line two" {
		t.Fatalf("unexpected message %q", err.Message)
	}
	if NewError("x", "y", 0).Status != http.StatusInternalServerError {
		t.Fatalf("zero status must default to 500")
	}
}
