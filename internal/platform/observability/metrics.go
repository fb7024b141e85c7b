package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsMiddleware records a request counter and a latency histogram per route and status class.
// A nil meter uses the global provider.
func MetricsMiddleware(meter metric.Meter) func(http.Handler) http.Handler {
	if meter == nil {
		meter = otel.Meter("github.com/storefront/api/internal/platform/observability")
	}
	requests, _ := meter.Int64Counter("http.server.requests",
		metric.WithDescription("HTTP requests served"))
	latency, _ := meter.Float64Histogram("http.server.duration",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("ms"))

	return func(next http.Handler) http.Handler {
		next = passthrough(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			attrs := metric.WithAttributes(
				attribute.String("http.route", routeLabel(r)),
				attribute.String("http.request.method", clean(r.Method, maxMethodLen)),
				attribute.String("http.status_class", statusClass(writtenStatus(ww))),
			)
			if requests != nil {
				requests.Add(r.Context(), 1, attrs)
			}
			if latency != nil {
				latency.Record(r.Context(), float64(time.Since(start).Microseconds())/1000, attrs)
			}
		})
	}
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
