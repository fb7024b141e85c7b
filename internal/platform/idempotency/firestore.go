package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/storefront/api/internal/platform/firestore"
)

const (
	defaultCollection  = "idempotency_keys"
	defaultMaxAttempts = 5
	defaultSweepLimit  = 100
)

// FirestoreOption customises the FirestoreStore behaviour.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection holding the records.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

// WithMaxAttempts bounds transaction retries under contention.
func WithMaxAttempts(attempts int) FirestoreOption {
	return func(store *FirestoreStore) {
		if attempts > 0 {
			store.maxAttempts = attempts
		}
	}
}

// FirestoreStore keeps one document per scoped key, named by its hash. Reserve and SaveResponse
// run in transactions so two instances never both own a key.
type FirestoreStore struct {
	client      *firestore.Client
	collection  string
	maxAttempts int
}

func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) *FirestoreStore {
	store := &FirestoreStore{
		client:      client,
		collection:  defaultCollection,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

func (s *FirestoreStore) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(recordID(key))
}

// update loads the record for key inside a transaction and hands it to fn; current is nil when
// no document exists.
func (s *FirestoreStore) update(ctx context.Context, name, key string, fn func(tx *firestore.Transaction, ref *firestore.DocumentRef, current *Record) error) error {
	ref := s.doc(key)
	return pfirestore.RunTransaction(ctx, s.client, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return fn(tx, ref, nil)
		}
		if err != nil {
			return err
		}
		var current Record
		if err := snap.DataTo(&current); err != nil {
			return err
		}
		return fn(tx, ref, &current)
	}, pfirestore.WithTxName(name), pfirestore.WithTxAttempts(s.maxAttempts))
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	var result Reservation
	err := s.update(ctx, "idempotency.reserve", key, func(tx *firestore.Transaction, ref *firestore.DocumentRef, current *Record) error {
		res, write, err := reserve(current, key, fingerprint, now.UTC(), ttl)
		if err != nil {
			return err
		}
		result = res
		if write == nil {
			return nil
		}
		return tx.Set(ref, *write)
	})
	if err != nil {
		return Reservation{}, err
	}
	return result, nil
}

func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	return s.update(ctx, "idempotency.save", key, func(tx *firestore.Transaction, ref *firestore.DocumentRef, current *Record) error {
		record, err := complete(current, key, fingerprint, resp, now.UTC(), ttl)
		if err != nil {
			return err
		}
		return tx.Set(ref, record)
	})
}

// Release deletes the document when fingerprint still owns it.
func (s *FirestoreStore) Release(ctx context.Context, key, fingerprint string) error {
	return s.update(ctx, "idempotency.release", key, func(tx *firestore.Transaction, ref *firestore.DocumentRef, current *Record) error {
		if current == nil || current.Fingerprint != fingerprint {
			return nil
		}
		return tx.Delete(ref)
	})
}

// CleanupExpired deletes one batch of at most limit expired documents.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	docs, err := s.client.Collection(s.collection).
		Where("expires_at", "<=", now.UTC()).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.cleanup", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	writer := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, doc := range docs {
		job, err := writer.Delete(doc.Ref)
		if err != nil {
			writer.End()
			return 0, pfirestore.WrapError("idempotency.cleanup", err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	removed := 0
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return removed, pfirestore.WrapError("idempotency.cleanup", err)
		}
		removed++
	}
	return removed, nil
}
