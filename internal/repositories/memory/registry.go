// Package memory provides mutex-guarded repositories for local development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/storefront/api/internal/repositories"
)

// Registry bundles the in-memory repositories behind repositories.Registry.
type Registry struct {
	catalog  *Catalog
	carts    *CartStore
	tickets  *TicketStore
	orders   *OrderStore
	counters *CounterStore
	stock    repositories.StockLedger
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises the in-memory registry.
type RegistryOption func(*Registry)

// WithStockLedger replaces the catalog-backed stock ledger.
func WithStockLedger(ledger repositories.StockLedger) RegistryOption {
	return func(r *Registry) {
		if ledger != nil {
			r.stock = ledger
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	catalog := NewCatalog()
	r := &Registry{
		catalog:  catalog,
		carts:    NewCartStore(),
		tickets:  NewTicketStore(),
		orders:   NewOrderStore(),
		counters: NewCounterStore(),
		stock:    catalog,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	health, _ := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
		Name:    "memory",
		Timeout: time.Second,
		Check:   func(context.Context) error { return nil },
	}})
	r.health = health
	return r
}

func (r *Registry) Products() repositories.ProductRepository { return r.catalog }
func (r *Registry) Stock() repositories.StockLedger         { return r.stock }
func (r *Registry) Carts() repositories.CartRepository      { return r.carts }
func (r *Registry) Tickets() repositories.TicketRepository  { return r.tickets }
func (r *Registry) Orders() repositories.OrderRepository    { return r.orders }
func (r *Registry) Counters() repositories.CounterRepository {
	return r.counters
}
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// Close is a no-op.
func (r *Registry) Close(context.Context) error { return nil }

// Catalog exposes the concrete catalog for seeding.
func (r *Registry) Catalog() *Catalog { return r.catalog }

// CartStore exposes the concrete cart store for seeding.
func (r *Registry) CartStore() *CartStore { return r.carts }

// CounterStore keeps named sequences.
type CounterStore struct {
	mu     sync.Mutex
	values map[string]int64
}

var _ repositories.CounterRepository = (*CounterStore)(nil)

// NewCounterStore returns an empty counter store.
func NewCounterStore() *CounterStore {
	return &CounterStore{values: make(map[string]int64)}
}

// Next increments the counter by step (1 when step is zero) and returns the new value.
func (s *CounterStore) Next(_ context.Context, counterID string, step int64) (int64, error) {
	if counterID == "" {
		return 0, repositories.NewRecordError(repositories.RecordErrorInvalidInput, "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewRecordError(repositories.RecordErrorInvalidInput, "step must be positive", nil)
	}
	if step == 0 {
		step = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[counterID] += step
	return s.values[counterID], nil
}
