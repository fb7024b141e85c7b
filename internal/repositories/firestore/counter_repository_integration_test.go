//go:build integration

package firestore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/storefront/api/internal/repositories"
)

func TestCounterRepositoryIntegration(t *testing.T) {
	provider := startProvider(t, "counter-test")

	repo, err := NewCounterRepository(provider)
	if err != nil {
		t.Fatalf("new counter repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	t.Run("concurrent callers receive distinct consecutive values", func(t *testing.T) {
		const workers = 12
		values := make([]int64, workers)
		errs := make([]error, workers)

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				values[i], errs[i] = repo.Next(ctx, "orders-20260401", 0)
			}(i)
		}
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				t.Fatalf("worker %d: %v", i, err)
			}
		}
		sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
		for i, v := range values {
			if v != int64(i+1) {
				t.Fatalf("expected value %d at position %d, got %d (all: %v)", i+1, i, v, values)
			}
		}
	})

	t.Run("counters are independent", func(t *testing.T) {
		first, err := repo.Next(ctx, "orders-20260402", 5)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if first != 5 {
			t.Fatalf("expected fresh counter to start at step, got %d", first)
		}
		second, err := repo.Next(ctx, "orders-20260402", 1)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if second != 6 {
			t.Fatalf("expected 6, got %d", second)
		}
	})

	t.Run("invalid input", func(t *testing.T) {
		for name, call := range map[string]func() error{
			"blank id": func() error { _, err := repo.Next(ctx, "  ", 1); return err },
			"negative": func() error { _, err := repo.Next(ctx, "orders-x", -1); return err },
		} {
			err := call()
			var recordErr *repositories.RecordError
			if !errors.As(err, &recordErr) || recordErr.Code != repositories.RecordErrorInvalidInput {
				t.Fatalf("%s: expected invalid input record error, got %v", name, err)
			}
		}
	})
}
