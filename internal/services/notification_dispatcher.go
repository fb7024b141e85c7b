package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "github.com/storefront/api/internal/domain"
)

const defaultNotificationTimeout = 10 * time.Second

// NotificationDispatcher fires customer emails on goroutines detached from the request. Failures
// are logged and never reach the caller.
type NotificationDispatcher struct {
	notifier Notifier
	timeout  time.Duration
	logger   func(ctx context.Context, event string, fields map[string]any)
	inflight sync.WaitGroup
}

// NewNotificationDispatcher wraps a Notifier. A nil notifier yields a dispatcher that drops everything.
func NewNotificationDispatcher(notifier Notifier, timeout time.Duration, logger func(ctx context.Context, event string, fields map[string]any)) *NotificationDispatcher {
	if timeout <= 0 {
		timeout = defaultNotificationTimeout
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &NotificationDispatcher{notifier: notifier, timeout: timeout, logger: logger}
}

// PurchaseConfirmed schedules the purchase confirmation email.
func (d *NotificationDispatcher) PurchaseConfirmed(ctx context.Context, ticket Ticket) {
	if ticket.PurchaserEmail == "" {
		return
	}
	d.dispatch(ctx, "purchase_confirmation", ticket.Code, func(ctx context.Context, n Notifier) error {
		return n.PurchaseConfirmed(ctx, ticket)
	})
}

// OrderPlaced schedules the order confirmation email.
func (d *NotificationDispatcher) OrderPlaced(ctx context.Context, order Order) {
	if order.ContactEmail == "" {
		return
	}
	d.dispatch(ctx, "order_confirmation", order.OrderNumber, func(ctx context.Context, n Notifier) error {
		return n.OrderPlaced(ctx, order)
	})
}

// OrderStatusChanged schedules the status update email.
func (d *NotificationDispatcher) OrderStatusChanged(ctx context.Context, order Order, previous domain.OrderStatus) {
	if order.ContactEmail == "" {
		return
	}
	d.dispatch(ctx, "order_status_update", order.OrderNumber, func(ctx context.Context, n Notifier) error {
		return n.OrderStatusChanged(ctx, order, previous)
	})
}

// Wait blocks until every scheduled notification finished. Used on shutdown and in tests.
func (d *NotificationDispatcher) Wait() {
	if d == nil {
		return
	}
	d.inflight.Wait()
}

func (d *NotificationDispatcher) dispatch(ctx context.Context, kind, reference string, send func(context.Context, Notifier) error) {
	if d == nil || d.notifier == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		sendCtx, cancel := context.WithTimeout(detached, d.timeout)
		defer cancel()
		defer func() {
			if recovered := recover(); recovered != nil {
				d.logger(sendCtx, "notification.failed", map[string]any{
					"kind":      kind,
					"reference": reference,
					"error":     fmt.Sprintf("panic: %v", recovered),
				})
			}
		}()
		if err := send(sendCtx, d.notifier); err != nil {
			d.logger(sendCtx, "notification.failed", map[string]any{
				"kind":      kind,
				"reference": reference,
				"error":     err.Error(),
			})
			return
		}
		d.logger(sendCtx, "notification.sent", map[string]any{"kind": kind, "reference": reference})
	}()
}
