package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/storefront/api/internal/services"

// fulfillmentMetrics groups the counters emitted by the checkout flows.
type fulfillmentMetrics struct {
	purchases      metric.Int64Counter
	orders         metric.Int64Counter
	stockConflicts metric.Int64Counter
	codeRetries    metric.Int64Counter
	compensations  metric.Int64Counter
}

func newFulfillmentMetrics(meter metric.Meter) *fulfillmentMetrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	counter := func(name, description string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(description))
		if err != nil {
			return noop.Int64Counter{}
		}
		return c
	}
	return &fulfillmentMetrics{
		purchases:      counter("purchases.processed", "Purchase attempts by outcome"),
		orders:         counter("orders.processed", "Order attempts by outcome"),
		stockConflicts: counter("stock.conflicts", "Conditional decrements lost to a concurrent buyer"),
		codeRetries:    counter("tickets.code_retries", "Ticket code collisions that triggered a retry"),
		compensations:  counter("stock.compensations", "Stock re-increments issued while rolling back"),
	}
}

func (m *fulfillmentMetrics) purchase(ctx context.Context, outcome string) {
	m.purchases.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *fulfillmentMetrics) order(ctx context.Context, outcome string) {
	m.orders.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *fulfillmentMetrics) stockConflict(ctx context.Context, flow string) {
	m.stockConflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("flow", flow)))
}

func (m *fulfillmentMetrics) codeRetry(ctx context.Context) {
	m.codeRetries.Add(ctx, 1)
}

func (m *fulfillmentMetrics) compensation(ctx context.Context, flow string, units int) {
	m.compensations.Add(ctx, int64(units), metric.WithAttributes(attribute.String("flow", flow)))
}
