package idempotency

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	res, err := store.Reserve(ctx, "key-1|uid-1", "fp-a", now, time.Hour)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if res.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %v", res.State)
	}

	res, err = store.Reserve(ctx, "key-1|uid-1", "fp-a", now.Add(time.Second), time.Hour)
	if err != nil {
		t.Fatalf("Reserve (second): %v", err)
	}
	if res.State != ReservationStatePending {
		t.Fatalf("expected pending while the first request runs, got %v", res.State)
	}

	if _, err := store.Reserve(ctx, "key-1|uid-1", "fp-b", now, time.Hour); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch, got %v", err)
	}

	resp := Response{
		Status:  http.StatusCreated,
		Headers: http.Header{"Content-Type": {"application/json"}, "Connection": {"close"}},
		Body:    []byte(`{"ticket_code":"TCK-1"}`),
	}
	if err := store.SaveResponse(ctx, "key-1|uid-1", "fp-a", resp, now.Add(2*time.Second), time.Hour); err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}

	res, err = store.Reserve(ctx, "key-1|uid-1", "fp-a", now.Add(3*time.Second), time.Hour)
	if err != nil {
		t.Fatalf("Reserve (replay): %v", err)
	}
	if res.State != ReservationStateCompleted {
		t.Fatalf("expected completed, got %v", res.State)
	}
	if res.Record.ResponseStatus != http.StatusCreated || string(res.Record.ResponseBody) != `{"ticket_code":"TCK-1"}` {
		t.Fatalf("unexpected stored response %+v", res.Record)
	}
	if _, ok := res.Record.ResponseHeaders["Connection"]; ok {
		t.Fatalf("hop-by-hop header stored: %v", res.Record.ResponseHeaders)
	}
	if !res.Record.CreatedAt.Equal(now) {
		t.Fatalf("expected createdAt preserved, got %s", res.Record.CreatedAt)
	}
}

func TestMemoryStoreCleanupHonoursLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	for _, key := range []string{"a", "b", "c"} {
		if _, err := store.Reserve(ctx, key, "fp", now, time.Minute); err != nil {
			t.Fatalf("Reserve %s: %v", key, err)
		}
	}

	res, err := store.Reserve(ctx, "a", "fp-new", now.Add(time.Minute), time.Minute)
	if err != nil {
		t.Fatalf("Reserve after expiry: %v", err)
	}
	if res.State != ReservationStateNew {
		t.Fatalf("expected expired key to be reissued, got %v", res.State)
	}

	removed, err := store.CleanupExpired(ctx, now.Add(time.Minute), 1)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected limit to cap removals at 1, got %d", removed)
	}
	removed, _ = store.CleanupExpired(ctx, now.Add(time.Minute), 0)
	if removed != 1 {
		t.Fatalf("expected the remaining expired key removed, got %d", removed)
	}
}

func TestCompleteWithoutReservation(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	record, err := complete(nil, "k", "fp", Response{Status: http.StatusOK}, now, 0)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if record.Status != StatusCompleted || !record.ExpiresAt.Equal(now.Add(DefaultTTL)) {
		t.Fatalf("unexpected record %+v", record)
	}
}
