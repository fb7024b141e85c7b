package notifications

import (
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// DefaultLocale is used when the configured locale matches nothing supported.
const DefaultLocale = "es"

var (
	supportedLocales = []language.Tag{language.Spanish, language.English}
	localeMatcher    = language.NewMatcher(supportedLocales)
	messages         = buildCatalog()
)

// translations maps an English source string to its Spanish rendering.
var translations = map[string]string{
	"Purchase confirmation %s":                    "Confirmación de compra %s",
	"Order confirmation %s":                       "Confirmación de pedido %s",
	"Order update %s":                             "Actualización de pedido %s",
	"Thank you for your purchase!":                "¡Gracias por tu compra!",
	"Hello %s,":                                   "Hola %s,",
	"Your purchase was processed.":                "Tu compra ha sido procesada.",
	"Some products could not be included:":        "Algunos productos no pudieron incluirse:",
	"Ticket code":                                 "Código de ticket",
	"Status":                                      "Estado",
	"Product":                                     "Producto",
	"Quantity":                                    "Cantidad",
	"Price":                                       "Precio",
	"Subtotal":                                    "Subtotal",
	"Total":                                       "Total",
	"Requested":                                   "Solicitado",
	"Available":                                   "Disponible",
	"Reason":                                      "Motivo",
	"Payment method":                              "Método de pago",
	"Notes":                                       "Notas",
	"Your order %s has been confirmed.":           "Tu orden %s ha sido confirmada.",
	"Order summary":                               "Resumen de tu pedido",
	"Shipping":                                    "Envío",
	"Estimated delivery":                          "Entrega estimada",
	"You will receive updates about your order.":  "Recibirás actualizaciones sobre el estado de tu pedido.",
	"Order number":                                "Número de orden",
	"Tracking number":                             "Número de seguimiento",
	"Thank you for shopping with us.":             "Gracias por tu preferencia.",
	"Your order status has been updated":          "El estado de tu pedido ha sido actualizado",
	"Your payment has been confirmed":             "Tu pago ha sido confirmado",
	"Your order is being processed":               "Tu pedido está siendo procesado",
	"Your order has been shipped":                 "Tu pedido ha sido enviado",
	"Your order has been delivered":               "Tu pedido ha sido entregado",
	"Your order has been cancelled":               "Tu pedido ha sido cancelado",
	"out of stock":                                "sin stock",
	"insufficient stock":                          "stock insuficiente",
	"product not found":                           "producto no encontrado",
	"completed":                                   "completada",
	"partially completed":                         "completada parcialmente",
	"failed":                                      "fallida",
	"pending":                                     "pendiente",
	"paid":                                        "pagado",
	"processing":                                  "en proceso",
	"shipped":                                     "enviado",
	"delivered":                                   "entregado",
	"cancelled":                                   "cancelado",
	"January":                                     "Enero",
	"February":                                    "Febrero",
	"March":                                       "Marzo",
	"April":                                       "Abril",
	"May":                                         "Mayo",
	"June":                                        "Junio",
	"July":                                        "Julio",
	"August":                                      "Agosto",
	"September":                                   "Septiembre",
	"October":                                     "Octubre",
	"November":                                    "Noviembre",
	"December":                                    "Diciembre",
}

func buildCatalog() *catalog.Builder {
	builder := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, es := range translations {
		_ = builder.SetString(language.English, key, key)
		_ = builder.SetString(language.Spanish, key, es)
	}
	return builder
}

// Locale formats text, money and dates for one language and currency.
type Locale struct {
	tag     language.Tag
	printer *message.Printer
	unit    currency.Unit
	scale   int
}

// NewLocale negotiates the closest supported language for raw (BCP 47, or an Accept-Language
// value) and binds the ISO 4217 currency used for amounts expressed in minor units.
func NewLocale(raw, currencyCode string) (Locale, error) {
	if strings.TrimSpace(raw) == "" {
		raw = DefaultLocale
	}
	tags, _, err := language.ParseAcceptLanguage(raw)
	if err != nil || len(tags) == 0 {
		tags = []language.Tag{language.Make(DefaultLocale)}
	}
	_, index, _ := localeMatcher.Match(tags...)
	tag := supportedLocales[index]

	if strings.TrimSpace(currencyCode) == "" {
		currencyCode = "USD"
	}
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(currencyCode)))
	if err != nil {
		return Locale{}, fmt.Errorf("notifications: unknown currency %q: %w", currencyCode, err)
	}
	scale, _ := currency.Standard.Rounding(unit)

	return Locale{
		tag:     tag,
		printer: message.NewPrinter(tag, message.Catalog(messages)),
		unit:    unit,
		scale:   scale,
	}, nil
}

// Tag returns the negotiated language.
func (l Locale) Tag() language.Tag { return l.tag }

// T translates an English source string, applying fmt-style arguments.
func (l Locale) T(key string, args ...any) string {
	return l.printer.Sprintf(key, args...)
}

// Money renders an amount expressed in minor units with the currency symbol.
func (l Locale) Money(minor int64) string {
	value := float64(minor) / math.Pow10(l.scale)
	return l.printer.Sprint(currency.Symbol(l.unit.Amount(value)))
}

// MonthName returns the localized name of m.
func (l Locale) MonthName(m time.Month) string {
	return l.T(m.String())
}

// Date renders a calendar date in the locale's conventional order.
func (l Locale) Date(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	base, _ := l.tag.Base()
	if base.String() == "es" {
		return t.Format("02/01/2006")
	}
	return t.Format("Jan 2, 2006")
}

// Label humanises a snake_case enum value and translates it.
func (l Locale) Label(value string) string {
	return l.T(strings.ReplaceAll(value, "_", " "))
}
