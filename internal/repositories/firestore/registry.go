package firestore

import (
	"context"
	"errors"
	"time"

	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/repositories"
)

// RegistryOption customises the Firestore registry.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	stock  repositories.StockLedger
	checks []repositories.DependencyCheck
}

// WithStockLedger routes stock mutations to an external ledger instead of the product documents.
func WithStockLedger(ledger repositories.StockLedger) RegistryOption {
	return func(o *registryOptions) {
		if ledger != nil {
			o.stock = ledger
		}
	}
}

// WithDependencyChecks appends extra readiness probes (secret manager, redis, pubsub).
func WithDependencyChecks(checks ...repositories.DependencyCheck) RegistryOption {
	return func(o *registryOptions) {
		o.checks = append(o.checks, checks...)
	}
}

// Registry wires the Firestore-backed repositories behind repositories.Registry.
type Registry struct {
	provider *pfirestore.Provider
	products *ProductRepository
	stock    repositories.StockLedger
	carts    *CartRepository
	tickets  *TicketRepository
	orders   *OrderRepository
	counters *CounterRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every Firestore repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	var options registryOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	tickets, err := NewTicketRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	checks := append([]repositories.DependencyCheck{{
		Name:    "firestore",
		Timeout: 1500 * time.Millisecond,
		Check:   provider.Ping,
	}}, options.checks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}

	stock := options.stock
	if stock == nil {
		stock = products
	}

	return &Registry{
		provider: provider,
		products: products,
		stock:    stock,
		carts:    carts,
		tickets:  tickets,
		orders:   orders,
		counters: counters,
		health:   health,
	}, nil
}

func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Stock() repositories.StockLedger         { return r.stock }
func (r *Registry) Carts() repositories.CartRepository      { return r.carts }
func (r *Registry) Tickets() repositories.TicketRepository  { return r.tickets }
func (r *Registry) Orders() repositories.OrderRepository    { return r.orders }
func (r *Registry) Counters() repositories.CounterRepository {
	return r.counters
}
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// ProductStore exposes the concrete product repository for seeding.
func (r *Registry) ProductStore() *ProductRepository { return r.products }

// CartStore exposes the concrete cart repository for seeding.
func (r *Registry) CartStore() *CartRepository { return r.carts }
