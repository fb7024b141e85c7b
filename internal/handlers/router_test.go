package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body, got %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestNewRouter_UnregisteredGroupsAnswerNotImplemented(t *testing.T) {
	router := NewRouter()

	for _, path := range []string{
		"/api/v1/purchases",
		"/api/v1/orders/ORD-20260401-0001",
		"/api/v1/admin/tickets",
		"/api/v1/internal/tickets:reconcile",
	} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("%s: expected 501, got %d", path, rr.Code)
		}
		if body := decodeBody(t, rr); body["error"] != "not_implemented" {
			t.Fatalf("%s: unexpected error code %v", path, body["error"])
		}
	}
}

func TestNewRouter_MountsRegistrarsUnderPrefix(t *testing.T) {
	var gotPattern string
	orders := func(r chi.Router) {
		r.Get("/{orderNumber}", func(w http.ResponseWriter, req *http.Request) {
			gotPattern = chi.RouteContext(req.Context()).RoutePattern()
			w.WriteHeader(http.StatusNoContent)
		})
	}
	router := NewRouter(WithOrderRoutes(orders))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/orders/ORD-20260401-0007", nil))

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if gotPattern != "/api/v1/orders/{orderNumber}" {
		t.Fatalf("unexpected route pattern %q", gotPattern)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/purchases", nil))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("other groups must stay unimplemented, got %d", rr.Code)
	}
}

func TestNewRouter_UnknownPathIsNotFound(t *testing.T) {
	rr := httptest.NewRecorder()
	NewRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/cart", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error"] != "route_not_found" {
		t.Fatalf("unexpected error code %v", body["error"])
	}
}

func TestNewRouter_InternalMiddlewareOnlyGuardsInternal(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})
	}
	ok := func(r chi.Router) {
		r.Post("/*", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) })
	}
	router := NewRouter(
		WithInternalMiddlewares(deny),
		WithInternalRoutes(ok),
		WithPurchaseRoutes(ok),
	)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/internal/tickets:reconcile", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected internal middleware to reject, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/purchases/anything", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("purchase group must not see internal middleware, got %d", rr.Code)
	}
}

func TestNewRouter_RequestTimeoutAppliesToContext(t *testing.T) {
	var remaining time.Duration
	probe := func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			deadline, ok := req.Context().Deadline()
			if ok {
				remaining = time.Until(deadline)
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
	router := NewRouter(WithRequestTimeout(2*time.Second), WithAdminRoutes(probe))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/admin", nil))
	if remaining <= 0 || remaining > 2*time.Second {
		t.Fatalf("expected a deadline within 2s, got %s", remaining)
	}
}

func TestNewRouter_ProbesAreMountedAtRoot(t *testing.T) {
	router := NewRouter(WithHealthHandlers(NewHealthHandlers(
		WithHealthClock(func() time.Time { return time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC) }),
	)))
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil).WithContext(context.Background()))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
	}
}
