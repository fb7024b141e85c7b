package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/storefront/api/internal/notifications"
	"github.com/storefront/api/internal/platform/config"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/platform/jobs"
	"github.com/storefront/api/internal/platform/observability"
	"github.com/storefront/api/internal/repositories"
	firestorerepo "github.com/storefront/api/internal/repositories/firestore"
	"github.com/storefront/api/internal/repositories/memory"
	redisrepo "github.com/storefront/api/internal/repositories/redis"
	"github.com/storefront/api/internal/services"
)

const meterName = "github.com/storefront/api"

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Purchases services.PurchaseService
	Orders    services.OrderService
	Stock     services.StockService
	System    services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config        config.Config
	Repositories  repositories.Registry
	Services      Services
	Notifications *services.NotificationDispatcher

	// Firestore is nil when the memory backend is selected.
	Firestore *pfirestore.Provider

	closers  []func(context.Context) error
	advisory []repositories.DependencyCheck
}

// Option customises NewContainer.
type Option func(*options)

type options struct {
	registry repositories.Registry
	logger   *zap.Logger
	meter    metric.Meter
	build    services.BuildInfo
	clock    func() time.Time
	sender   notifications.Sender
}

// WithRegistry supplies a prebuilt registry instead of the one selected by config.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithLogger sets the fallback logger used outside request scope.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMeter overrides the global meter provider.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) { o.meter = meter }
}

// WithBuildInfo sets the metadata reported by the system service.
func WithBuildInfo(info services.BuildInfo) Option {
	return func(o *options) { o.build = info }
}

// WithClock overrides time.Now for every service.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithSender replaces the notification transport chosen by config.
func WithSender(sender notifications.Sender) Option {
	return func(o *options) { o.sender = sender }
}

// NewContainer constructs the runtime dependencies. Production wiring reads the backends from
// cfg, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	o := options{clock: time.Now}
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

	c := &Container{Config: cfg}
	fail := func(err error) (*Container, error) {
		_ = c.Close(ctx)
		return nil, err
	}

	reg := o.registry
	if reg == nil {
		built, err := c.buildRegistry(cfg)
		if err != nil {
			return fail(err)
		}
		reg = built
	}
	c.Repositories = reg

	var psClient *pubsub.Client
	if needsPubSub(cfg) {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fail(fmt.Errorf("build pubsub client: %w", err))
		}
		psClient = client
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
	}

	events, err := c.buildEventPublisher(cfg, psClient)
	if err != nil {
		return fail(err)
	}

	eventLogger := observability.EventLogger(o.logger)

	locale, err := notifications.NewLocale(cfg.Notifications.Locale, cfg.Notifications.Currency)
	if err != nil {
		return fail(fmt.Errorf("build notification locale: %w", err))
	}
	sender := o.sender
	if sender == nil {
		sender, err = c.buildSender(cfg, psClient, o.logger)
		if err != nil {
			return fail(err)
		}
	}
	renderer, err := notifications.NewRenderer(locale)
	if err != nil {
		return fail(fmt.Errorf("build notification renderer: %w", err))
	}
	notifier, err := notifications.NewNotifier(renderer, sender)
	if err != nil {
		return fail(fmt.Errorf("build notifier: %w", err))
	}
	c.Notifications = services.NewNotificationDispatcher(notifier, cfg.Notifications.Timeout, eventLogger)

	stockSvc, err := services.NewStockService(services.StockServiceDeps{
		Ledger: reg.Stock(),
		Events: events,
		Clock:  o.clock,
		Logger: eventLogger,
	})
	if err != nil {
		return fail(fmt.Errorf("build stock service: %w", err))
	}
	c.Services.Stock = stockSvc

	purchaseSvc, err := services.NewPurchaseService(services.PurchaseServiceDeps{
		Carts:         reg.Carts(),
		Products:      reg.Products(),
		Stock:         stockSvc,
		Tickets:       reg.Tickets(),
		Notifications: c.Notifications,
		Events:        events,
		Clock:         o.clock,
		Logger:        eventLogger,
		Meter:         o.meter,
		MonthName:     locale.MonthName,

		CartClearPolicy:       services.CartClearPolicy(cfg.Purchases.CartClearPolicy),
		RecordFailedPurchases: cfg.Purchases.RecordFailedPurchases,
		ValidationConcurrency: cfg.Purchases.ValidationConcurrency,
		TicketCodeAttempts:    cfg.Purchases.TicketCodeAttempts,
		TicketBackoffBase:     cfg.Purchases.TicketBackoffBase,
		TicketBackoffMax:      cfg.Purchases.TicketBackoffMax,
		ReconcileAfter:        cfg.Purchases.ReconcileAfter,
	})
	if err != nil {
		return fail(fmt.Errorf("build purchase service: %w", err))
	}
	c.Services.Purchases = purchaseSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Carts:         reg.Carts(),
		Products:      reg.Products(),
		Stock:         stockSvc,
		Orders:        reg.Orders(),
		Counters:      reg.Counters(),
		Notifications: c.Notifications,
		Events:        events,
		Clock:         o.clock,
		Logger:        eventLogger,
		Meter:         o.meter,

		ShippingCost:          cfg.Orders.ShippingCost,
		DeliveryWindow:        cfg.Orders.DeliveryWindow,
		Location:              cfg.Orders.OrderLocation(),
		ValidationConcurrency: cfg.Purchases.ValidationConcurrency,
	})
	if err != nil {
		return fail(fmt.Errorf("build order service: %w", err))
	}
	c.Services.Orders = orderSvc

	build := o.build
	if build.Environment == "" {
		build.Environment = cfg.Security.Environment
	}
	if build.StartedAt.IsZero() {
		build.StartedAt = o.clock().UTC()
	}
	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Advisory:         c.advisory,
		Clock:            o.clock,
		Build:            build,
	})
	if err != nil {
		return fail(fmt.Errorf("build system service: %w", err))
	}
	c.Services.System = systemSvc

	return c, nil
}

// Close waits for in-flight notifications, then releases topics, clients and the registry in
// reverse order of construction.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.Notifications != nil {
		c.Notifications.Wait()
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Container) buildRegistry(cfg config.Config) (repositories.Registry, error) {
	var (
		ledger repositories.StockLedger
		checks []repositories.DependencyCheck
	)
	if strings.EqualFold(cfg.Stock.Backend, config.StockBackendRedis) {
		client, err := redisrepo.NewClient(cfg.Stock.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("build redis client: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		redisLedger, err := redisrepo.NewStockLedger(client, cfg.Stock.KeyPrefix)
		if err != nil {
			return nil, err
		}
		ledger = redisLedger
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: time.Second,
			Check:   redisLedger.Ping,
		})
	}

	if strings.EqualFold(cfg.Storage.Backend, config.StorageBackendMemory) {
		return memory.NewRegistry(memory.WithStockLedger(ledger)), nil
	}

	provider := pfirestore.NewProvider(cfg.Firestore)
	reg, err := firestorerepo.NewRegistry(provider,
		firestorerepo.WithStockLedger(ledger),
		firestorerepo.WithDependencyChecks(checks...),
	)
	if err != nil {
		return nil, fmt.Errorf("build firestore registry: %w", err)
	}
	c.Firestore = provider
	return reg, nil
}

func (c *Container) buildEventPublisher(cfg config.Config, client *pubsub.Client) (services.EventPublisher, error) {
	name := strings.TrimSpace(cfg.PubSub.EventsTopic)
	if client == nil || name == "" {
		return nil, nil
	}
	topic := client.Topic(name)
	c.closers = append(c.closers, stopTopic(topic))
	c.advisory = append(c.advisory, topicCheck("events", topic))
	publisher, err := jobs.NewPubSubEventPublisher(topic)
	if err != nil {
		return nil, fmt.Errorf("build event publisher: %w", err)
	}
	return publisher, nil
}

func (c *Container) buildSender(cfg config.Config, client *pubsub.Client, logger *zap.Logger) (notifications.Sender, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Notifications.Transport)) {
	case config.NotificationTransportSMTP:
		sender, err := notifications.NewSMTPSender(notifications.SMTPConfig{
			Host:     cfg.Notifications.SMTP.Host,
			Port:     cfg.Notifications.SMTP.Port,
			Username: cfg.Notifications.SMTP.Username,
			Password: cfg.Notifications.SMTP.Password,
			From:     cfg.Notifications.From,
		})
		if err != nil {
			return nil, fmt.Errorf("build smtp sender: %w", err)
		}
		return sender, nil
	case config.NotificationTransportPubSub:
		if client == nil {
			return nil, errors.New("build pubsub sender: pubsub project is not configured")
		}
		topic := client.Topic(cfg.PubSub.NotificationsTopic)
		c.closers = append(c.closers, stopTopic(topic))
		c.advisory = append(c.advisory, topicCheck("notifications", topic))
		sender, err := notifications.NewPubSubSender(topic)
		if err != nil {
			return nil, fmt.Errorf("build pubsub sender: %w", err)
		}
		return sender, nil
	default:
		return notifications.NewLogSender(logger), nil
	}
}

func needsPubSub(cfg config.Config) bool {
	if strings.TrimSpace(cfg.PubSub.ProjectID) == "" {
		return false
	}
	return strings.TrimSpace(cfg.PubSub.EventsTopic) != "" ||
		strings.EqualFold(cfg.Notifications.Transport, config.NotificationTransportPubSub)
}

// topicCheck reports a missing or unreachable topic. Publishing failures never fail a purchase,
// so this check is advisory.
func topicCheck(name string, topic *pubsub.Topic) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:    name,
		Timeout: 2 * time.Second,
		Check: func(ctx context.Context) error {
			ok, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("topic %s does not exist", topic.ID())
			}
			return nil
		},
	}
}

func stopTopic(topic *pubsub.Topic) func(context.Context) error {
	return func(context.Context) error {
		topic.Stop()
		return nil
	}
}
