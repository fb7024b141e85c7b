//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/platform/firestore/emulatortest"
)

type shelfItem struct {
	SKU   string `firestore:"sku"`
	Units int    `firestore:"units"`
}

type classified interface {
	IsNotFound() bool
	IsConflict() bool
}

func TestBaseRepositoryAgainstEmulator(t *testing.T) {
	provider := emulatortest.Start(t, "platform-test")
	shelf := pfirestore.NewBaseRepository[shelfItem](provider, "shelf")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := provider.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	t.Run("create get update", func(t *testing.T) {
		if _, err := shelf.Create(ctx, "mug", shelfItem{SKU: "mug", Units: 4}); err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := shelf.Update(ctx, "mug", []firestore.Update{{Path: "units", Value: 7}}); err != nil {
			t.Fatalf("update: %v", err)
		}
		doc, err := shelf.Get(ctx, "mug")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if doc.ID != "mug" || doc.Data.Units != 7 || doc.UpdateTime.IsZero() {
			t.Fatalf("unexpected document %#v", doc)
		}
	})

	t.Run("duplicate create is a conflict", func(t *testing.T) {
		_, err := shelf.Create(ctx, "mug", shelfItem{SKU: "mug"})
		var cls classified
		if !errors.As(err, &cls) || !cls.IsConflict() {
			t.Fatalf("expected conflict, got %v", err)
		}
	})

	t.Run("missing document is not found", func(t *testing.T) {
		_, err := shelf.Get(ctx, "teapot")
		var cls classified
		if !errors.As(err, &cls) || !cls.IsNotFound() {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("query and count", func(t *testing.T) {
		if _, err := shelf.Set(ctx, "plate", shelfItem{SKU: "plate", Units: 1}); err != nil {
			t.Fatalf("set: %v", err)
		}
		lowStock := func(q firestore.Query) firestore.Query { return q.Where("units", "<", 5) }
		docs, err := shelf.Query(ctx, lowStock)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(docs) != 1 || docs[0].ID != "plate" {
			t.Fatalf("expected only plate, got %#v", docs)
		}
		total, err := shelf.Count(ctx, nil)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if total != 2 {
			t.Fatalf("expected 2 documents, got %d", total)
		}
		totals, err := shelf.Totals(ctx, nil, "units")
		if err != nil {
			t.Fatalf("totals: %v", err)
		}
		if totals.Count != 2 || totals.Sum != 8 {
			t.Fatalf("expected 2 documents holding 8 units, got %+v", totals)
		}
		if err := shelf.Delete(ctx, "plate"); err != nil {
			t.Fatalf("delete: %v", err)
		}
	})

	t.Run("transaction decrements units", func(t *testing.T) {
		err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			ref, err := shelf.DocumentRef(ctx, "mug")
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				return err
			}
			doc, err := pfirestore.Decode[shelfItem](snap)
			if err != nil {
				return err
			}
			doc.Data.Units -= 2
			return tx.Set(ref, doc.Data)
		}, pfirestore.WithTxName("shelf.take"))
		if err != nil {
			t.Fatalf("transaction: %v", err)
		}
		doc, err := shelf.Get(ctx, "mug")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if doc.Data.Units != 5 {
			t.Fatalf("expected 5 units, got %d", doc.Data.Units)
		}
	})

	t.Run("cancelled context aborts transaction", func(t *testing.T) {
		cancelled, stop := context.WithCancel(context.Background())
		stop()
		err := provider.RunTransaction(cancelled, func(context.Context, *firestore.Transaction) error { return nil })
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}
