package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

var tracer = otel.Tracer("github.com/storefront/api/internal/platform/firestore")

// TxFunc is executed within a Firestore transaction. It may run more than once when Firestore
// retries on contention, so it must not have side effects outside tx.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	name     string
	attempts int
	timeout  time.Duration
}

// WithTxAttempts overrides the retry attempts for a transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout bounds the whole transaction, retries included.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithTxName labels the transaction span and error op.
func WithTxName(name string) TxOption {
	return func(cfg *txConfig) {
		if name != "" {
			cfg.name = name
		}
	}
}

// RunTransaction executes fn within a traced transaction on the provided client. The span
// records how many attempts Firestore needed.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	cfg := txConfig{name: "transaction", attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if client == nil {
		return WrapError(cfg.name, errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError(cfg.name, errors.New("firestore: transaction function is nil"))
	}

	if deadline, ok := ctx.Deadline(); cfg.timeout > 0 && (!ok || time.Until(deadline) > cfg.timeout) {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "firestore."+cfg.name, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	attempts := 0
	err := client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		attempts++
		return fn(ctx, tx)
	}, firestore.MaxAttempts(cfg.attempts))

	span.SetAttributes(attribute.Int("firestore.tx.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction failed")
	}
	return WrapError(cfg.name, err)
}
