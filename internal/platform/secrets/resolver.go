// Package secrets resolves secret:// configuration references against Google Secret Manager.
//
// For local development a dotenv formatted fallback file answers when Secret Manager is
// unreachable. Keys are the upper-cased secret name with every other character mapped to
// '_' (secret://smtp-password reads SMTP_PASSWORD); a pinned version N reads KEY__VN first.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	defaultCacheTTL     = 10 * time.Minute
	meterName           = "github.com/storefront/api/internal/platform/secrets"
)

// ErrNotFound indicates that neither Secret Manager nor the fallback file knows the reference.
var ErrNotFound = errors.New("secrets: secret not found")

type accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (accessor, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// Resolver caches secret values for a bounded time so rotated credentials are picked up.
type Resolver struct {
	client     accessor
	ownsClient bool
	project    string
	logger     *zap.Logger
	ttl        time.Duration
	clock      func() time.Time

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	mu    sync.Mutex
	cache map[string]cached

	latency metric.Float64Histogram
}

type cached struct {
	value   string
	expires time.Time
}

type options struct {
	client       accessor
	clientOpts   []option.ClientOption
	project      string
	logger       *zap.Logger
	ttl          time.Duration
	fallbackPath string
	meter        metric.Meter
	clock        func() time.Time
	offline      bool
}

// Option customises a Resolver.
type Option func(*options)

// WithProject sets the Google Cloud project used when a reference carries none.
func WithProject(project string) Option {
	return func(o *options) { o.project = strings.TrimSpace(project) }
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithCacheTTL bounds how long a resolved value is reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithFallbackFile overrides the dotenv file consulted when Secret Manager cannot answer.
// An empty path disables the fallback.
func WithFallbackFile(path string) Option {
	return func(o *options) { o.fallbackPath = strings.TrimSpace(path) }
}

// WithMeter records fetch latency on the given meter instead of the global provider.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) { o.meter = meter }
}

// WithClientOptions forwards options to the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.clientOpts = append(o.clientOpts, opts...) }
}

// WithoutSecretManager resolves exclusively from the fallback file.
func WithoutSecretManager() Option {
	return func(o *options) { o.offline = true }
}

func withAccessor(client accessor) Option {
	return func(o *options) { o.client = client }
}

func withClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// NewResolver builds a resolver. A Secret Manager client that cannot be created (no
// credentials on a laptop) degrades to fallback-only mode with a warning.
func NewResolver(ctx context.Context, opts ...Option) (*Resolver, error) {
	o := options{
		ttl:          defaultCacheTTL,
		fallbackPath: defaultFallbackPath,
		clock:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.meter == nil {
		o.meter = otel.GetMeterProvider().Meter(meterName)
	}
	latency, err := o.meter.Float64Histogram("secrets.resolve.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of secret resolution by source"),
	)
	if err != nil {
		return nil, fmt.Errorf("secrets: register latency histogram: %w", err)
	}

	r := &Resolver{
		client:       o.client,
		project:      o.project,
		logger:       o.logger.Named("secrets"),
		ttl:          o.ttl,
		clock:        o.clock,
		fallbackPath: o.fallbackPath,
		cache:        make(map[string]cached),
		latency:      latency,
	}
	if r.client == nil && !o.offline {
		client, err := newSecretManagerClient(ctx, o.clientOpts...)
		if err != nil {
			r.logger.Warn("secret manager unavailable, using fallback file only", zap.Error(err))
		} else {
			r.client = client
			r.ownsClient = true
		}
	}
	return r, nil
}

// Close releases the Secret Manager client when the resolver created it.
func (r *Resolver) Close() error {
	if r == nil || !r.ownsClient || r.client == nil {
		return nil
	}
	return r.client.Close()
}

// ResolveSecret satisfies config.SecretResolver.
func (r *Resolver) ResolveSecret(ctx context.Context, raw string) (string, error) {
	start := r.clock()
	ref, err := ParseReference(raw)
	if err != nil {
		return "", err
	}

	key := ref.cacheKey()
	if value, ok := r.cached(key); ok {
		r.record(ctx, ref, "cache", start)
		return value, nil
	}

	if resource, ok := ref.resource(r.project); ok && r.client != nil {
		resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
		switch {
		case err == nil:
			value := string(resp.GetPayload().GetData())
			r.store(key, value)
			r.record(ctx, ref, "secret_manager", start)
			return value, nil
		case !degraded(err):
			r.record(ctx, ref, "error", start)
			if status.Code(err) == codes.NotFound {
				return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
			}
			return "", fmt.Errorf("secrets: access %s: %w", ref, err)
		default:
			r.logger.Debug("secret manager degraded, trying fallback", zap.String("secret", ref.masked()), zap.Error(err))
		}
	}

	value, ok, err := r.lookupFallback(ref)
	if err != nil {
		r.record(ctx, ref, "error", start)
		return "", err
	}
	if !ok {
		r.record(ctx, ref, "error", start)
		return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	r.store(key, value)
	r.record(ctx, ref, "fallback", start)
	return value, nil
}

// Invalidate drops every cached version of the reference.
func (r *Resolver) Invalidate(raw string) {
	ref, err := ParseReference(raw)
	if err != nil {
		return
	}
	prefix := ref.String() + "#"
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.cache {
		if strings.HasPrefix(key, prefix) {
			delete(r.cache, key)
		}
	}
}

func (r *Resolver) cached(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[key]
	if !ok {
		return "", false
	}
	if !r.clock().Before(entry.expires) {
		delete(r.cache, key)
		return "", false
	}
	return entry.value, true
}

func (r *Resolver) store(key, value string) {
	r.mu.Lock()
	r.cache[key] = cached{value: value, expires: r.clock().Add(r.ttl)}
	r.mu.Unlock()
}

var errFallbackUnreadable = errors.New("secrets: fallback file unreadable")

func (r *Resolver) lookupFallback(ref Reference) (string, bool, error) {
	r.fallbackOnce.Do(func() {
		r.fallback = map[string]string{}
		if r.fallbackPath == "" {
			return
		}
		values, err := godotenv.Read(r.fallbackPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				r.logger.Warn("fallback file unreadable", zap.String("path", r.fallbackPath), zap.Error(err))
				r.fallback = nil
			}
			return
		}
		r.fallback = values
	})
	if r.fallback == nil {
		return "", false, errFallbackUnreadable
	}
	if ref.Version != latestVersion {
		if value, ok := r.fallback[ref.fallbackKey()+"__V"+ref.Version]; ok {
			return value, true, nil
		}
	}
	value, ok := r.fallback[ref.fallbackKey()]
	return value, ok, nil
}

func (r *Resolver) record(ctx context.Context, ref Reference, source string, start time.Time) {
	elapsed := r.clock().Sub(start)
	r.latency.Record(ctx, float64(elapsed)/float64(time.Millisecond), metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("secret", ref.masked()),
	))
}

// degraded reports Secret Manager failures where the fallback file may still answer.
func degraded(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}
