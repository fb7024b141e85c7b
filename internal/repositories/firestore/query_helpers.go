package firestore

import (
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/storefront/api/internal/domain"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/repositories"
)

func applyTimeRange(q firestore.Query, field string, rng domain.RangeQuery[time.Time]) firestore.Query {
	if rng.From != nil {
		q = q.Where(field, ">=", rng.From.UTC())
	}
	if rng.To != nil {
		q = q.Where(field, "<=", rng.To.UTC())
	}
	return q
}

func normalisePage(page, limit, fallback, ceiling int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = fallback
	}
	if limit > ceiling {
		limit = ceiling
	}
	return page, limit
}

// wrapRecordError keeps typed record errors intact and classifies everything else.
func wrapRecordError(op string, err error) error {
	var recordErr *repositories.RecordError
	if errors.As(err, &recordErr) {
		if recordErr.Op == "" {
			recordErr.Op = op
		}
		return recordErr
	}
	return pfirestore.WrapError(op, err)
}

func notFoundAsRecord(err error, subject string) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return repositories.NewRecordError(repositories.RecordErrorNotFound, subject+" not found", err)
	}
	return err
}
