package services

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"math/big"
	mrand "math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/storefront/api/internal/repositories"
)

const (
	ticketCodePrefix       = "TICKET"
	ticketCodeSuffixLength = 6
	base36Alphabet         = "0123456789abcdefghijklmnopqrstuvwxyz"

	defaultTicketCodeAttempts = 5
	defaultTicketBackoffBase  = 10 * time.Millisecond
	defaultTicketBackoffMax   = 200 * time.Millisecond
)

// TicketCodeGenerator produces TICKET-<base36 millis>-<6 random base36> codes, upper-cased.
type TicketCodeGenerator struct {
	clock   func() time.Time
	entropy io.Reader
}

// NewTicketCodeGenerator returns a generator backed by crypto/rand.
func NewTicketCodeGenerator(clock func() time.Time) *TicketCodeGenerator {
	if clock == nil {
		clock = time.Now
	}
	return &TicketCodeGenerator{clock: clock, entropy: rand.Reader}
}

// Next returns a fresh candidate code. Uniqueness is enforced by the ticket store.
func (g *TicketCodeGenerator) Next() (string, error) {
	millis := strconv.FormatInt(g.clock().UnixMilli(), 36)
	var suffix strings.Builder
	suffix.Grow(ticketCodeSuffixLength)
	alphabet := big.NewInt(int64(len(base36Alphabet)))
	for i := 0; i < ticketCodeSuffixLength; i++ {
		n, err := rand.Int(g.entropy, alphabet)
		if err != nil {
			return "", err
		}
		suffix.WriteByte(base36Alphabet[n.Int64()])
	}
	return strings.ToUpper(ticketCodePrefix + "-" + millis + "-" + suffix.String()), nil
}

// retryPolicy bounds the ticket code collision retries.
type retryPolicy struct {
	attempts int
	base     time.Duration
	max      time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

func newRetryPolicy(attempts int, base, ceiling time.Duration) retryPolicy {
	if attempts <= 0 {
		attempts = defaultTicketCodeAttempts
	}
	if base <= 0 {
		base = defaultTicketBackoffBase
	}
	if ceiling <= 0 {
		ceiling = defaultTicketBackoffMax
	}
	return retryPolicy{attempts: attempts, base: base, max: ceiling, sleep: sleepContext}
}

// backoff returns a full-jitter delay for the given zero-based retry.
func (p retryPolicy) backoff(retry int) time.Duration {
	ceiling := p.base << retry
	if ceiling <= 0 || ceiling > p.max {
		ceiling = p.max
	}
	return time.Duration(mrand.Int64N(int64(ceiling) + 1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isCodeConflict(err error) bool {
	var recordErr *repositories.RecordError
	return errors.As(err, &recordErr) && recordErr.Code == repositories.RecordErrorCodeConflict
}

func isIDConflict(err error) bool {
	var recordErr *repositories.RecordError
	return errors.As(err, &recordErr) && recordErr.Code == repositories.RecordErrorIDConflict
}
