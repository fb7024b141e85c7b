package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/storefront/api/internal/repositories"
)

const orderCounterPrefix = "orders-"

// OrderNumberAllocator issues ORD-<yyyymmdd>-<seq> numbers from one counter per calendar day.
type OrderNumberAllocator struct {
	counters repositories.CounterRepository
	clock    func() time.Time
	location *time.Location
}

// NewOrderNumberAllocator binds the allocator to a counter store. The date is taken in loc
// (UTC when nil).
func NewOrderNumberAllocator(counters repositories.CounterRepository, clock func() time.Time, loc *time.Location) (*OrderNumberAllocator, error) {
	if counters == nil {
		return nil, errors.New("order number allocator: counter repository is required")
	}
	if clock == nil {
		clock = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return &OrderNumberAllocator{counters: counters, clock: clock, location: loc}, nil
}

// Next reserves the next number for the current day.
func (a *OrderNumberAllocator) Next(ctx context.Context) (string, error) {
	day := a.clock().In(a.location).Format("20060102")
	seq, err := a.counters.Next(ctx, orderCounterPrefix+day, 1)
	if err != nil {
		return "", fmt.Errorf("allocate order number: %w", err)
	}
	return fmt.Sprintf("ORD-%s-%03d", day, seq), nil
}
