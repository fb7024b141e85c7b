package notifications

import (
	"context"
	"errors"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/services"
)

// Notifier renders fulfillment emails and hands them to a Sender.
type Notifier struct {
	renderer *Renderer
	sender   Sender
}

var _ services.Notifier = (*Notifier)(nil)

// NewNotifier combines a renderer and a transport.
func NewNotifier(renderer *Renderer, sender Sender) (*Notifier, error) {
	if renderer == nil {
		return nil, errors.New("notifier: renderer is required")
	}
	if sender == nil {
		return nil, errors.New("notifier: sender is required")
	}
	return &Notifier{renderer: renderer, sender: sender}, nil
}

func (n *Notifier) PurchaseConfirmed(ctx context.Context, ticket services.Ticket) error {
	msg, err := n.renderer.PurchaseConfirmation(ticket)
	if err != nil {
		return err
	}
	_, err = n.sender.Send(ctx, msg)
	return err
}

func (n *Notifier) OrderPlaced(ctx context.Context, order services.Order) error {
	msg, err := n.renderer.OrderConfirmation(order)
	if err != nil {
		return err
	}
	_, err = n.sender.Send(ctx, msg)
	return err
}

func (n *Notifier) OrderStatusChanged(ctx context.Context, order services.Order, _ domain.OrderStatus) error {
	msg, err := n.renderer.OrderStatusUpdate(order)
	if err != nil {
		return err
	}
	_, err = n.sender.Send(ctx, msg)
	return err
}
