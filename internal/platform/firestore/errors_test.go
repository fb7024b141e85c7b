package firestore

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/storefront/api/internal/platform/config"
)

type typedErr struct{ notFound bool }

func (e typedErr) Error() string       { return "typed" }
func (e typedErr) IsNotFound() bool    { return e.notFound }
func (e typedErr) IsConflict() bool    { return false }
func (e typedErr) IsUnavailable() bool { return false }

func TestWrapErrorClassifiesStatusCodes(t *testing.T) {
	tests := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{code: codes.NotFound, notFound: true},
		{code: codes.AlreadyExists, conflict: true},
		{code: codes.Aborted, conflict: true},
		{code: codes.FailedPrecondition, conflict: true},
		{code: codes.Unavailable, unavailable: true},
		{code: codes.ResourceExhausted, unavailable: true},
		{code: codes.PermissionDenied},
	}
	for _, tc := range tests {
		err := WrapError("tickets.get", status.Error(tc.code, "boom"))
		var repoErr *Error
		if !errors.As(err, &repoErr) {
			t.Fatalf("%s: expected *Error, got %T", tc.code, err)
		}
		if repoErr.IsNotFound() != tc.notFound || repoErr.IsConflict() != tc.conflict || repoErr.IsUnavailable() != tc.unavailable {
			t.Fatalf("%s: unexpected classification %+v", tc.code, repoErr)
		}
	}
}

func TestWrapErrorPassesThroughContextAndTypedErrors(t *testing.T) {
	if err := WrapError("op", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := WrapError("op", status.Error(codes.Canceled, "gone")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("op", context.DeadlineExceeded); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}

	typed := typedErr{notFound: true}
	if err := WrapError("op", typed); err != error(typed) {
		t.Fatalf("expected typed error returned unchanged, got %v", err)
	}
}

func TestWrapErrorKeepsExistingOp(t *testing.T) {
	inner := WrapError("products.get", status.Error(codes.NotFound, "missing"))
	outer := WrapError("transaction", inner)
	if outer.Error() != inner.Error() {
		t.Fatalf("expected op preserved, got %q", outer.Error())
	}
}

func TestProviderClosedRejectsClient(t *testing.T) {
	provider := NewProvider(config.FirestoreConfig{ProjectID: "test"})
	if err := provider.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := provider.Client(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
	if err := provider.Close(context.Background()); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}

func TestRunTransactionRequiresClient(t *testing.T) {
	err := RunTransaction(context.Background(), nil, func(context.Context, *firestore.Transaction) error { return nil })
	if err == nil {
		t.Fatalf("expected error for nil client")
	}
}
