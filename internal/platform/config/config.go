package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultStorageBackend       = StorageBackendFirestore
	defaultStockBackend         = StockBackendStore
	defaultEventsTopic          = "storefront-events"
	defaultNotificationsTopic   = "storefront-notifications"
	defaultNotifyTransport      = NotificationTransportLog
	defaultSMTPPort             = 587
	defaultNotifyLocale         = "es"
	defaultNotifyCurrency       = "EUR"
	defaultNotifyTimeout        = 10 * time.Second
	defaultCartClearPolicy      = CartClearAll
	defaultTicketCodeAttempts   = 5
	defaultTicketBackoffBase    = 10 * time.Millisecond
	defaultTicketBackoffMax     = 200 * time.Millisecond
	defaultValidationConcurrent = 8
	defaultReconcileAfter       = 15 * time.Minute
	defaultDeliveryWindow       = 72 * time.Hour
	defaultOrderTimezone        = "UTC"
	defaultPurchasesPerMinute   = 30
	defaultPurchasesBurst       = 5
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

const (
	StorageBackendFirestore = "firestore"
	StorageBackendMemory    = "memory"

	// StockBackendStore keeps stock on the product records of the storage backend.
	StockBackendStore = "store"
	// StockBackendRedis keeps stock in Redis, updated by Lua scripts.
	StockBackendRedis = "redis"

	NotificationTransportLog    = "log"
	NotificationTransportSMTP   = "smtp"
	NotificationTransportPubSub = "pubsub"

	// CartClearAll empties the cart after any successful purchase.
	CartClearAll = "all"
	// CartClearFulfilled removes only the cart lines that were honored.
	CartClearFulfilled = "fulfilled"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	Storage       StorageConfig
	Stock         StockConfig
	PubSub        PubSubConfig
	Notifications NotificationConfig
	Purchases     PurchaseConfig
	Orders        OrderConfig
	RateLimits    RateLimitConfig
	Security      SecurityConfig
	Idempotency   IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig selects where products, carts, tickets and orders live.
type StorageConfig struct {
	Backend string
}

// StockConfig selects the stock ledger implementation.
type StockConfig struct {
	Backend   string
	RedisURL  string
	KeyPrefix string
}

// PubSubConfig names the topics used for domain events and queued notifications.
type PubSubConfig struct {
	ProjectID          string
	EventsTopic        string
	NotificationsTopic string
}

// NotificationConfig controls customer e-mail delivery.
type NotificationConfig struct {
	Transport string
	From      string
	Locale    string
	Currency  string
	Timeout   time.Duration
	SMTP      SMTPConfig
}

// SMTPConfig carries SMTP relay credentials.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// PurchaseConfig tunes the partial-fulfillment checkout.
type PurchaseConfig struct {
	CartClearPolicy       string
	RecordFailedPurchases bool
	TicketCodeAttempts    int
	TicketBackoffBase     time.Duration
	TicketBackoffMax      time.Duration
	ValidationConcurrency int
	ReconcileAfter        time.Duration
}

// OrderConfig tunes the all-or-nothing checkout.
type OrderConfig struct {
	ShippingCost   int64
	DeliveryWindow time.Duration
	Timezone       string
}

// RateLimitConfig controls per-user checkout throttling.
type RateLimitConfig struct {
	PurchasesPerMinute int
	PurchasesBurst     int
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// WithEnvFile overrides the .env path; an empty path disables dotenv loading.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that win over the OS environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver resolves secret:// and sm:// references found in secret-backed fields.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets names secret-backed fields (e.g. "Stock.RedisURL") that must resolve to a
// non-empty value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// WithPanicOnMissingSecrets makes Load panic with *MissingSecretsError instead of returning it.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) { o.panicOnMissingSecrets = true }
}

// Load builds the configuration from defaults, .env, the environment and secret references, then
// validates it.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	dotenv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	env := newSource(options, dotenv)

	cfg := Config{
		Server: ServerConfig{
			Port:         env.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  env.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			Backend: env.lower("API_STORAGE_BACKEND", defaultStorageBackend),
		},
		Stock: StockConfig{
			Backend:   env.lower("API_STOCK_BACKEND", defaultStockBackend),
			RedisURL:  env.str("API_STOCK_REDIS_URL", ""),
			KeyPrefix: env.str("API_STOCK_REDIS_KEY_PREFIX", "stock:"),
		},
		PubSub: PubSubConfig{
			ProjectID:          env.str("API_PUBSUB_PROJECT_ID", ""),
			EventsTopic:        env.str("API_PUBSUB_EVENTS_TOPIC", defaultEventsTopic),
			NotificationsTopic: env.str("API_PUBSUB_NOTIFICATIONS_TOPIC", defaultNotificationsTopic),
		},
		Notifications: NotificationConfig{
			Transport: env.lower("API_NOTIFY_TRANSPORT", defaultNotifyTransport),
			From:      env.str("API_NOTIFY_FROM", ""),
			Locale:    env.str("API_NOTIFY_LOCALE", defaultNotifyLocale),
			Currency:  strings.ToUpper(env.str("API_NOTIFY_CURRENCY", defaultNotifyCurrency)),
			Timeout:   env.duration("API_NOTIFY_TIMEOUT", defaultNotifyTimeout),
			SMTP: SMTPConfig{
				Host:     env.str("API_NOTIFY_SMTP_HOST", ""),
				Port:     env.int("API_NOTIFY_SMTP_PORT", defaultSMTPPort),
				Username: env.str("API_NOTIFY_SMTP_USERNAME", ""),
				Password: env.str("API_NOTIFY_SMTP_PASSWORD", ""),
			},
		},
		Purchases: PurchaseConfig{
			CartClearPolicy:       env.lower("API_PURCHASES_CART_CLEAR_POLICY", defaultCartClearPolicy),
			RecordFailedPurchases: env.bool("API_PURCHASES_RECORD_FAILED", false),
			TicketCodeAttempts:    env.int("API_PURCHASES_TICKET_CODE_ATTEMPTS", defaultTicketCodeAttempts),
			TicketBackoffBase:     env.duration("API_PURCHASES_TICKET_BACKOFF_BASE", defaultTicketBackoffBase),
			TicketBackoffMax:      env.duration("API_PURCHASES_TICKET_BACKOFF_MAX", defaultTicketBackoffMax),
			ValidationConcurrency: env.int("API_PURCHASES_VALIDATION_CONCURRENCY", defaultValidationConcurrent),
			ReconcileAfter:        env.duration("API_PURCHASES_RECONCILE_AFTER", defaultReconcileAfter),
		},
		Orders: OrderConfig{
			ShippingCost:   env.int64("API_ORDERS_SHIPPING_COST", 0),
			DeliveryWindow: env.duration("API_ORDERS_DELIVERY_WINDOW", defaultDeliveryWindow),
			Timezone:       env.str("API_ORDERS_TIMEZONE", defaultOrderTimezone),
		},
		RateLimits: RateLimitConfig{
			PurchasesPerMinute: env.int("API_RATELIMIT_PURCHASES_PER_MIN", defaultPurchasesPerMinute),
			PurchasesBurst:     env.int("API_RATELIMIT_PURCHASES_BURST", defaultPurchasesBurst),
		},
		Security: SecurityConfig{
			Environment: env.lower("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment),
			OIDC: OIDCConfig{
				JWKSURL:   env.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  env.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: env.pairs("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   env.list("API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           env.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.int("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}
	cfg.applyDerivedDefaults()

	resolved, err := cfg.resolveSecrets(ctx, options.secret)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.validate(env.malformed); err != nil {
		return Config{}, err
	}
	if missing := missingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

// applyDerivedDefaults fills settings that default to other settings: the Firestore and Pub/Sub
// projects follow Firebase, the sender follows the SMTP login, and the OIDC audience is picked
// from the per-environment map.
func (cfg *Config) applyDerivedDefaults() {
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Notifications.From == "" {
		cfg.Notifications.From = cfg.Notifications.SMTP.Username
	}
	oidc := &cfg.Security.OIDC
	if len(oidc.Issuers) == 0 {
		oidc.Issuers = []string{defaultSecurityIssuer}
	}
	if oidc.Audience == "" {
		oidc.Audience = oidc.Audiences[cfg.Security.Environment]
	}
}

// OrderLocation resolves the timezone used to date order numbers, falling back to UTC.
func (c OrderConfig) OrderLocation() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(c.Timezone))
	if err != nil {
		return time.UTC
	}
	return loc
}
