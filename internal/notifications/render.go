package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/storefront/api/internal/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

var statusHeadlines = map[domain.OrderStatus]string{
	domain.OrderStatusPaid:       "Your payment has been confirmed",
	domain.OrderStatusProcessing: "Your order is being processed",
	domain.OrderStatusShipped:    "Your order has been shipped",
	domain.OrderStatusDelivered:  "Your order has been delivered",
	domain.OrderStatusCancelled:  "Your order has been cancelled",
}

// Renderer turns tickets and orders into localized HTML emails.
type Renderer struct {
	locale    Locale
	purchase  *template.Template
	order     *template.Template
	status    *template.Template
	sanitizer *bluemonday.Policy
}

// NewRenderer parses the embedded templates for the given locale.
func NewRenderer(locale Locale) (*Renderer, error) {
	if locale.printer == nil {
		return nil, fmt.Errorf("notifications: locale is required")
	}
	r := &Renderer{locale: locale, sanitizer: bluemonday.StrictPolicy()}
	funcs := template.FuncMap{
		"t":     locale.T,
		"money": locale.Money,
		"date":  locale.Date,
		"label": locale.Label,
		"clean": r.clean,
	}
	var err error
	if r.purchase, err = parse(funcs, "purchase_confirmation.html"); err != nil {
		return nil, err
	}
	if r.order, err = parse(funcs, "order_confirmation.html"); err != nil {
		return nil, err
	}
	if r.status, err = parse(funcs, "order_status.html"); err != nil {
		return nil, err
	}
	return r, nil
}

func parse(funcs template.FuncMap, name string) (*template.Template, error) {
	tmpl, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name)
	if err != nil {
		return nil, fmt.Errorf("notifications: parse %s: %w", name, err)
	}
	return tmpl, nil
}

// clean strips any markup from user supplied text. The template escapes the result.
func (r *Renderer) clean(value string) string {
	return strings.TrimSpace(html.UnescapeString(r.sanitizer.Sanitize(value)))
}

type view struct {
	Lang      string
	Subject   string
	Recipient string
	Headline  string
	Ticket    domain.Ticket
	Order     domain.Order
}

// PurchaseConfirmation renders the email sent after a ticket is finalized.
func (r *Renderer) PurchaseConfirmation(ticket domain.Ticket) (Message, error) {
	v := view{
		Subject:   r.locale.T("Purchase confirmation %s", ticket.Code),
		Recipient: recipientName(ticket.PurchaserEmail),
		Ticket:    ticket,
	}
	return r.render(r.purchase, ticket.PurchaserEmail, v)
}

// OrderConfirmation renders the email sent after an order is placed.
func (r *Renderer) OrderConfirmation(order domain.Order) (Message, error) {
	v := view{
		Subject: r.locale.T("Order confirmation %s", order.OrderNumber),
		Order:   order,
	}
	return r.render(r.order, order.ContactEmail, v)
}

// OrderStatusUpdate renders the email sent when an administrator moves an order.
func (r *Renderer) OrderStatusUpdate(order domain.Order) (Message, error) {
	headline, ok := statusHeadlines[order.Status]
	if !ok {
		headline = "Your order status has been updated"
	}
	v := view{
		Subject:  r.locale.T("Order update %s", order.OrderNumber),
		Headline: r.locale.T(headline),
		Order:    order,
	}
	return r.render(r.status, order.ContactEmail, v)
}

func (r *Renderer) render(tmpl *template.Template, to string, v view) (Message, error) {
	v.Lang = r.locale.Tag().String()
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", v); err != nil {
		return Message{}, fmt.Errorf("notifications: render %s: %w", tmpl.Name(), err)
	}
	return Message{To: strings.TrimSpace(to), Subject: v.Subject, HTML: buf.String()}, nil
}

func recipientName(email string) string {
	local, _, _ := strings.Cut(strings.TrimSpace(email), "@")
	return local
}
