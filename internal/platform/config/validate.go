package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ValidationError names every missing or invalid setting found by Load. Entries are config field
// paths such as "Orders.Timezone", or the env key when the raw value could not be parsed.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

func (e *ValidationError) Fields() []string {
	return slices.Clone(e.fields)
}

type problems []string

func (p *problems) require(ok bool, field string) {
	if !ok {
		*p = append(*p, field)
	}
}

func (cfg Config) validate(malformed []string) error {
	p := problems(slices.Clone(malformed))

	p.require(cfg.Server.Port != "", "Server.Port")
	p.require(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")

	switch cfg.Storage.Backend {
	case StorageBackendFirestore:
		p.require(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	case StorageBackendMemory:
	default:
		p.require(false, "Storage.Backend")
	}

	switch cfg.Stock.Backend {
	case StockBackendStore:
	case StockBackendRedis:
		p.require(strings.TrimSpace(cfg.Stock.RedisURL) != "", "Stock.RedisURL")
	default:
		p.require(false, "Stock.Backend")
	}

	n := cfg.Notifications
	switch n.Transport {
	case NotificationTransportLog:
	case NotificationTransportSMTP:
		p.require(n.SMTP.Host != "", "Notifications.SMTP.Host")
		p.require(n.SMTP.Port > 0, "Notifications.SMTP.Port")
		p.require(n.From != "", "Notifications.From")
	case NotificationTransportPubSub:
		p.require(cfg.PubSub.NotificationsTopic != "", "PubSub.NotificationsTopic")
	default:
		p.require(false, "Notifications.Transport")
	}
	p.require(n.Timeout > 0, "Notifications.Timeout")

	pc := cfg.Purchases
	p.require(pc.CartClearPolicy == CartClearAll || pc.CartClearPolicy == CartClearFulfilled, "Purchases.CartClearPolicy")
	p.require(pc.TicketCodeAttempts > 0, "Purchases.TicketCodeAttempts")
	p.require(pc.ValidationConcurrency > 0, "Purchases.ValidationConcurrency")
	p.require(pc.TicketBackoffBase >= 0 && pc.TicketBackoffMax >= pc.TicketBackoffBase, "Purchases.TicketBackoffMax")

	p.require(cfg.Orders.ShippingCost >= 0, "Orders.ShippingCost")
	p.require(cfg.Orders.DeliveryWindow > 0, "Orders.DeliveryWindow")
	_, err := time.LoadLocation(strings.TrimSpace(cfg.Orders.Timezone))
	p.require(err == nil, "Orders.Timezone")

	p.require(cfg.RateLimits.PurchasesPerMinute >= 0, "RateLimits.PurchasesPerMinute")

	ic := cfg.Idempotency
	p.require(strings.TrimSpace(ic.Header) != "", "Idempotency.Header")
	p.require(ic.TTL > 0, "Idempotency.TTL")
	p.require(ic.CleanupInterval > 0, "Idempotency.CleanupInterval")
	p.require(ic.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(p) > 0 {
		return &ValidationError{fields: p}
	}
	return nil
}
