package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/requestctx"
)

const (
	defaultHeaderName  = "Idempotency-Key"
	replayHeaderName   = "X-Idempotent-Replay"
	maxKeyLength       = 255
	defaultMaxBodySize = 64 * 1024
)

type clockFunc func() time.Time

type middlewareConfig struct {
	headerName  string
	ttl         time.Duration
	methods     map[string]struct{}
	required    bool
	maxBodySize int64
	clock       clockFunc
	logger      *zap.Logger
	outcomes    metric.Int64Counter
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header name used to extract the idempotency key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		name = strings.TrimSpace(name)
		if name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL configures how long completed idempotency records are retained.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithMethods restricts the HTTP methods guarded by the middleware.
func WithMethods(methods ...string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		set := make(map[string]struct{}, len(methods))
		for _, method := range methods {
			method = strings.ToUpper(strings.TrimSpace(method))
			if method != "" {
				set[method] = struct{}{}
			}
		}
		if len(set) > 0 {
			cfg.methods = set
		}
	}
}

// WithKeyRequired rejects guarded requests that carry no key. By default such requests pass
// through without deduplication.
func WithKeyRequired() MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.required = true
	}
}

// WithMaxBodySize bounds how much of the request body is buffered for fingerprinting.
func WithMaxBodySize(limit int64) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if limit > 0 {
			cfg.maxBodySize = limit
		}
	}
}

// WithLogger sets the fallback logger for store failures.
func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.logger = logger
	}
}

// WithMeter records an "idempotency.requests" counter tagged by outcome.
func WithMeter(meter metric.Meter) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if meter == nil {
			return
		}
		counter, err := meter.Int64Counter("idempotency.requests",
			metric.WithDescription("Requests seen by the idempotency middleware, by outcome"))
		if err == nil {
			cfg.outcomes = counter
		}
	}
}

// WithClock overrides the time source, primarily for testing.
func WithClock(clock clockFunc) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware deduplicates retried checkout requests. The first request carrying a key runs the
// handler and its response is stored; identical retries replay it with X-Idempotent-Replay set.
// Server errors release the key so the client can retry.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := middlewareConfig{
		headerName:  defaultHeaderName,
		ttl:         DefaultTTL,
		methods:     map[string]struct{}{http.MethodPost: {}},
		maxBodySize: defaultMaxBodySize,
		clock:       time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.outcomes == nil {
		counter, _ := otel.Meter("github.com/storefront/api/internal/platform/idempotency").Int64Counter("idempotency.requests")
		cfg.outcomes = counter
	}

	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if _, ok := cfg.methods[r.Method]; !ok {
				next.ServeHTTP(w, r)
				return
			}

			key := strings.TrimSpace(r.Header.Get(cfg.headerName))
			if key == "" {
				if cfg.required {
					cfg.record(ctx, "missing_key")
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing idempotency key header", http.StatusBadRequest))
					return
				}
				cfg.record(ctx, "bypass")
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				cfg.record(ctx, "invalid_key")
				httpx.WriteError(ctx, w, httpx.NewError("invalid_idempotency_key", "idempotency key is too long", http.StatusBadRequest))
				return
			}

			body, err := readAndReplayBody(r, cfg.maxBodySize)
			if err != nil {
				if errors.Is(err, httpx.ErrBodyTooLarge) {
					httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
					return
				}
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_read_body_failed", "unable to read request body", http.StatusBadRequest))
				return
			}

			requester := extractRequester(ctx)
			fingerprint := requestFingerprint(r, body, requester)
			scoped := scopedKey(key, requester)

			reservation, err := store.Reserve(ctx, scoped, fingerprint, cfg.clock().UTC(), cfg.ttl)
			if err != nil {
				cfg.handleStoreError(ctx, w, err)
				return
			}

			switch reservation.State {
			case ReservationStateCompleted:
				cfg.record(ctx, "replayed")
				writeStoredResponse(w, reservation.Record)
				return
			case ReservationStatePending:
				cfg.record(ctx, "in_progress")
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
				return
			case ReservationStateNew:
			default:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unknown_state", "unexpected idempotency state", http.StatusInternalServerError))
				return
			}

			captured := capture(w)
			next.ServeHTTP(captured, r)

			if captured.Status() >= http.StatusInternalServerError {
				cfg.record(ctx, "released")
				if err := store.Release(ctx, scoped, fingerprint); err != nil {
					cfg.log(ctx).Warn("idempotency release failed", zap.Error(err))
				}
				cfg.flush(ctx, captured)
				return
			}

			response := Response{
				Status:  captured.Status(),
				Headers: captured.HeaderSnapshot(),
				Body:    captured.Body(),
			}
			if err := store.SaveResponse(ctx, scoped, fingerprint, response, cfg.clock().UTC(), cfg.ttl); err != nil {
				// The handler already ran; the client gets its result and a retry re-reserves the key.
				cfg.log(ctx).Error("idempotency save failed", zap.Error(err))
				if releaseErr := store.Release(ctx, scoped, fingerprint); releaseErr != nil {
					cfg.log(ctx).Warn("idempotency release failed", zap.Error(releaseErr))
				}
			}
			cfg.record(ctx, "stored")
			cfg.flush(ctx, captured)
		})
	}
}

func (cfg middlewareConfig) log(ctx context.Context) *zap.Logger {
	logger := requestctx.Logger(ctx)
	if logger == requestctx.NoopLogger() {
		logger = cfg.logger
	}
	return logger.With(zap.String("component", "idempotency"))
}

func (cfg middlewareConfig) record(ctx context.Context, outcome string) {
	if cfg.outcomes != nil {
		cfg.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (cfg middlewareConfig) flush(ctx context.Context, captured *capturedResponse) {
	if err := captured.Commit(); err != nil {
		cfg.log(ctx).Warn("idempotency flush failed", zap.Error(err))
	}
}

func (cfg middlewareConfig) handleStoreError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, ErrFingerprintMismatch) {
		cfg.record(ctx, "conflict")
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
		return
	}
	cfg.record(ctx, "store_error")
	cfg.log(ctx).Error("idempotency reserve failed", zap.Error(err))
	httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_error", "unable to process idempotency key", http.StatusServiceUnavailable))
}

func readAndReplayBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := httpx.ReadLimitedBody(r, limit)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requestFingerprint(r *http.Request, body []byte, requester string) string {
	var builder strings.Builder
	for _, part := range []string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		r.Header.Get("Content-Type"),
		requester,
		hashBody(body),
	} {
		builder.WriteString(part)
		builder.WriteString("|")
	}
	return sha256Hex([]byte(builder.String()))
}

func extractRequester(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && identity.UID != "" {
		return identity.UID
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc != nil && svc.Subject != "" {
		return svc.Subject
	}
	return "anonymous"
}

func hashBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	return sha256Hex(body)
}

// scopedKey namespaces client keys per requester so two users cannot collide.
func scopedKey(key, requester string) string {
	requester = strings.TrimSpace(requester)
	if requester == "" {
		requester = "anonymous"
	}
	return strings.TrimSpace(key) + "|" + requester
}

func writeStoredResponse(w http.ResponseWriter, record Record) {
	headers := headersFromRecord(record.ResponseHeaders)
	for key := range w.Header() {
		w.Header().Del(key)
	}
	for key, values := range headers {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.Header().Set(replayHeaderName, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}
