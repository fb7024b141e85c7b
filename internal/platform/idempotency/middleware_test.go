package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/storefront/api/internal/platform/auth"
)

var fixedTime = time.Date(2026, time.January, 1, 12, 0, 0, 0, time.UTC)

func purchaseRequest(t *testing.T, key, body, uid string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if uid != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: []string{auth.RoleCustomer}}))
	}
	return req
}

func TestMiddleware_MissingHeaderPassesThrough(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusCreated)
		}))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, purchaseRequest(t, "", `{"paymentMethod":"cash"}`, "user-1"))
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected handler to run for each keyless request, got %d", calls)
	}
}

func TestMiddleware_MissingHeaderRejectedWhenRequired(t *testing.T) {
	handler := Middleware(NewMemoryStore(), WithKeyRequired())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be invoked when header is missing")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, purchaseRequest(t, "", `{}`, "user-1"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddleware_RejectsOversizedKey(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be invoked")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, purchaseRequest(t, strings.Repeat("k", maxKeyLength+1), `{}`, "user-1"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "invalid_idempotency_key")
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"ticket":{"code":"TICKET-1"}}`))
		}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, purchaseRequest(t, "abc-123", `{"paymentMethod":"cash"}`, "user-1"))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, purchaseRequest(t, "abc-123", `{"paymentMethod":"cash"}`, "user-1"))

	if calls != 1 {
		t.Fatalf("expected handler to be called once, got %d", calls)
	}
	if rr2.Code != http.StatusCreated {
		t.Fatalf("expected replayed status 201, got %d", rr2.Code)
	}
	if rr2.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replay header to be present")
	}
	if rr1.Header().Get(replayHeaderName) != "" {
		t.Fatalf("first response must not be marked as replay")
	}
	if got := rr2.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected content-type json, got %s", got)
	}
	if rr2.Body.String() != rr1.Body.String() {
		t.Fatalf("expected response body %s, got %s", rr1.Body.String(), rr2.Body.String())
	}
}

func TestMiddleware_KeysAreScopedPerUser(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), purchaseRequest(t, "shared", `{}`, "user-1"))
	handler.ServeHTTP(httptest.NewRecorder(), purchaseRequest(t, "shared", `{}`, "user-2"))

	if calls != 2 {
		t.Fatalf("expected both users to reach the handler, got %d", calls)
	}
}

func TestMiddleware_ConflictingFingerprintReturnsConflict(t *testing.T) {
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, purchaseRequest(t, "same-key", `{"paymentMethod":"cash"}`, "user-1"))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first request success, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, purchaseRequest(t, "same-key", `{"paymentMethod":"paypal"}`, "user-1"))

	if rr2.Code != http.StatusConflict {
		t.Fatalf("expected conflict status, got %d", rr2.Code)
	}
	assertErrorResponse(t, rr2.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddleware_PendingReservationReturnsConflict(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("handler should not be invoked when reservation pending")
		}))

	req := purchaseRequest(t, "pending-key", `{"paymentMethod":"cash"}`, "user-1")
	body, err := readAndReplayBody(req, defaultMaxBodySize)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	requester := extractRequester(req.Context())
	fingerprint := requestFingerprint(req, body, requester)
	if _, err := store.Reserve(req.Context(), scopedKey("pending-key", requester), fingerprint, fixedTime, time.Hour); err != nil {
		t.Fatalf("failed to seed reservation: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for pending reservation, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddleware_ServerErrorReleasesKey(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, purchaseRequest(t, "retry-key", `{}`, "user-1"))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, purchaseRequest(t, "retry-key", `{}`, "user-1"))

	if rr1.Code != http.StatusServiceUnavailable || rr2.Code != http.StatusCreated {
		t.Fatalf("expected 503 then 201, got %d then %d", rr1.Code, rr2.Code)
	}
	if calls != 2 {
		t.Fatalf("expected retry to reach the handler, got %d calls", calls)
	}
}

func TestMiddleware_ClientErrorIsReplayed(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), purchaseRequest(t, "bad-key", `{}`, "user-1"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, purchaseRequest(t, "bad-key", `{}`, "user-1"))

	if calls != 1 || rr.Code != http.StatusBadRequest {
		t.Fatalf("expected stored 400 replay, got %d calls and status %d", calls, rr.Code)
	}
}

func TestMiddleware_SaveFailureStillDeliversResponse(t *testing.T) {
	store := &stubStore{failSave: true}
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("ok"))
		}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, purchaseRequest(t, "fail-key", `{}`, "user-1"))

	if rr.Code != http.StatusCreated || rr.Body.String() != "ok" {
		t.Fatalf("expected handler response to be delivered, got %d %q", rr.Code, rr.Body.String())
	}
	if !store.released {
		t.Fatalf("expected reservation to be released on failure")
	}
}

func TestMiddleware_ReserveFailureReturnsUnavailable(t *testing.T) {
	store := &stubStore{failReserve: true}
	handler := Middleware(store)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, purchaseRequest(t, "k", `{}`, "user-1"))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_store_error")
}

func TestMiddleware_IgnoresUnguardedMethods(t *testing.T) {
	called := false
	handler := Middleware(&stubStore{failReserve: true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/purchases/tickets", nil)
	req.Header.Set("Idempotency-Key", "k")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if !called {
		t.Fatalf("expected GET to bypass the store")
	}
}

func TestMemoryStore_ExpiredKeyIsReusable(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Reserve(ctx, "k", "fp-1", fixedTime, time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	res, err := store.Reserve(ctx, "k", "fp-2", fixedTime.Add(2*time.Minute), time.Minute)
	if err != nil {
		t.Fatalf("expected expired key to be reusable, got %v", err)
	}
	if res.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %v", res.State)
	}
}

func TestMemoryStore_ReleaseRequiresMatchingFingerprint(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Reserve(ctx, "k", "fp-1", fixedTime, time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	_ = store.Release(ctx, "k", "fp-other")
	res, err := store.Reserve(ctx, "k", "fp-1", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStatePending {
		t.Fatalf("expected reservation to survive foreign release, got %v %v", res.State, err)
	}
}

func TestSweepDrainsExpiredRecords(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, key := range []string{"a", "b", "c", "d", "e"} {
		if _, err := store.Reserve(ctx, key, "fp", fixedTime, time.Minute); err != nil {
			t.Fatalf("reserve %s: %v", key, err)
		}
	}
	if _, err := store.Reserve(ctx, "fresh", "fp", fixedTime.Add(time.Hour), time.Hour); err != nil {
		t.Fatalf("reserve fresh: %v", err)
	}

	removed, err := sweep(ctx, store, fixedTime.Add(time.Hour), 2)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 5 {
		t.Fatalf("expected 5 expired records removed, got %d", removed)
	}
}

type stubStore struct {
	mu          sync.Mutex
	failSave    bool
	failReserve bool
	released    bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	if s.failReserve {
		return Reservation{}, errors.New("firestore unavailable")
	}
	return Reservation{State: ReservationStateNew}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failSave {
		return errors.New("save failed")
	}
	return nil
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	return nil
}

func (s *stubStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func assertErrorResponse(t *testing.T, payload []byte, expected string) {
	t.Helper()

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}
