package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTTL is how long a key stays bound to its first request.
const DefaultTTL = 24 * time.Hour

// Status is the lifecycle state of a stored key.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// ReservationState is what Reserve found for a key.
type ReservationState int

const (
	// ReservationStateNew means the caller now owns the key and should run the handler.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means Record holds a response to replay.
	ReservationStateCompleted
	// ReservationStatePending means another request with the same key is still running.
	ReservationStatePending
)

type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is the stored state of one key. The Firestore store persists it as is.
type Record struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          Status              `firestore:"status"`
	ResponseStatus  int                 `firestore:"response_status"`
	ResponseHeaders map[string][]string `firestore:"response_headers"`
	ResponseBody    []byte              `firestore:"response_body"`
	CreatedAt       time.Time           `firestore:"created_at"`
	UpdatedAt       time.Time           `firestore:"updated_at"`
	ExpiresAt       time.Time           `firestore:"expires_at"`
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Response is the handler output kept for replays.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists reservations and responses. Implementations must make Reserve atomic per key.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

// reserve decides the outcome of Reserve given the current record, if any. When write is
// non-nil the store must persist it before answering.
func reserve(current *Record, key, fingerprint string, now time.Time, ttl time.Duration) (res Reservation, write *Record, err error) {
	if current == nil || current.expired(now) {
		fresh := Record{
			Key:         key,
			Fingerprint: fingerprint,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(ttlOrDefault(ttl)),
		}
		return Reservation{State: ReservationStateNew, Record: fresh}, &fresh, nil
	}
	switch {
	case current.Fingerprint != fingerprint:
		return Reservation{}, nil, ErrFingerprintMismatch
	case current.Status == StatusCompleted:
		return Reservation{State: ReservationStateCompleted, Record: *current}, nil, nil
	default:
		return Reservation{State: ReservationStatePending, Record: *current}, nil, nil
	}
}

// complete returns the record to store once the handler produced resp.
func complete(current *Record, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) (Record, error) {
	record := Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	if current != nil {
		if current.Fingerprint != fingerprint {
			return Record{}, ErrFingerprintMismatch
		}
		record = *current
		if record.CreatedAt.IsZero() {
			record.CreatedAt = now
		}
	}
	record.Status = StatusCompleted
	record.ResponseStatus = resp.Status
	record.ResponseHeaders = storableHeaders(resp.Headers)
	record.ResponseBody = slices.Clone(resp.Body)
	record.UpdatedAt = now
	record.ExpiresAt = now.Add(ttlOrDefault(ttl))
	return record, nil
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

// recordID hashes the scoped key into a fixed-length identifier usable as a document id.
func recordID(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RunCleanup removes expired records every interval until ctx is cancelled. Each pass deletes
// batches of at most batchSize records until a short batch signals the backlog is drained.
func RunCleanup(ctx context.Context, store Store, interval time.Duration, batchSize int, logger *zap.Logger, clock func() time.Time) {
	if store == nil || interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := sweep(ctx, store, clock().UTC(), batchSize)
			if err != nil {
				logger.Warn("idempotency cleanup failed", zap.Error(err), zap.Int("removed", removed))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup", zap.Int("removed", removed))
			}
		}
	}
}

func sweep(ctx context.Context, store Store, now time.Time, batchSize int) (int, error) {
	total := 0
	for {
		removed, err := store.CleanupExpired(ctx, now, batchSize)
		total += removed
		if err != nil || removed < batchSize || ctx.Err() != nil {
			return total, err
		}
	}
}

// hopByHop headers are recomputed on replay and never stored.
var hopByHop = map[string]bool{
	"Connection":          true,
	"Content-Length":      true,
	"Date":                true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailers":            true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func storableHeaders(header http.Header) map[string][]string {
	out := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if hopByHop[canonical] {
			continue
		}
		out[canonical] = slices.Clone(values)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func headersFromRecord(values map[string][]string) http.Header {
	header := make(http.Header, len(values))
	for name, vals := range values {
		header[name] = slices.Clone(vals)
	}
	return header
}
