package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	Value     int64     `firestore:"value"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// CounterRepository hands out gap-free sequence values, one document per counter. The order
// number allocator keys counters by local day (orders-yyyymmdd), so a document only sees the
// contention of a single day's checkouts.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.BaseRepository[counterDocument]
	clock    func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewBaseRepository[counterDocument](provider, countersCollection),
		clock:    time.Now,
	}, nil
}

// Next adds step (1 when zero) to the counter inside a transaction and returns the new value.
// A missing counter starts from zero.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	switch {
	case id == "":
		return 0, repositories.NewRecordError(repositories.RecordErrorInvalidInput, "counter id is required", nil)
	case step < 0:
		return 0, repositories.NewRecordError(repositories.RecordErrorInvalidInput, "counter step must not be negative", nil)
	case step == 0:
		step = 1
	}

	ref, err := r.counters.DocumentRef(ctx, id)
	if err != nil {
		return 0, err
	}

	var next int64
	err = r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		var current counterDocument
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			if err := snap.DataTo(&current); err != nil {
				return err
			}
		}
		next = current.Value + step
		return tx.Set(ref, counterDocument{Value: next, UpdatedAt: r.clock().UTC()})
	}, pfirestore.WithTxName("counters.next"))
	if err != nil {
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return next, nil
}
