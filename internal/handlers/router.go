package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/storefront/api/internal/platform/httpx"
)

// RouteRegistrar registers a group's routes on the sub-router mounted at the group prefix.
type RouteRegistrar func(r chi.Router)

const (
	apiPrefix             = "/api/v1"
	defaultRequestTimeout = 60 * time.Second
)

// Route groups, mounted under /api/v1 in this order.
const (
	groupPurchases = "purchases"
	groupOrders    = "orders"
	groupAdmin     = "admin"
	groupInternal  = "internal"
)

var groupOrder = []string{groupPurchases, groupOrders, groupAdmin, groupInternal}

type routeGroup struct {
	registrar   RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	timeout     time.Duration
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      map[string]*routeGroup
}

func (cfg *routerConfig) group(name string) *routeGroup {
	g, ok := cfg.groups[name]
	if !ok {
		g = &routeGroup{}
		cfg.groups[name] = g
	}
	return g
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// NewRouter builds the API router: probes at the root and the purchase, order, admin and
// internal groups under /api/v1. A group without a registrar answers 501.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		timeout: defaultRequestTimeout,
		groups:  make(map[string]*routeGroup, len(groupOrder)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Timeout(cfg.timeout))
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewErrorf("route_not_found", http.StatusNotFound, "no route for %s", req.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewErrorf("method_not_allowed", http.StatusMethodNotAllowed, "method %s not allowed on %s", req.Method, req.URL.Path))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		for _, name := range groupOrder {
			g := cfg.group(name)
			api.Route("/"+name, func(sub chi.Router) {
				for _, mw := range g.middlewares {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if g.registrar == nil {
					notImplemented(sub, name)
					return
				}
				g.registrar(sub)
			})
		}
	})
	return r
}

// WithMiddlewares appends global middleware, run after request id, real ip and timeout.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithRequestTimeout bounds every request context; non-positive values keep the default.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *routerConfig) {
		if d > 0 {
			cfg.timeout = d
		}
	}
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithPurchaseRoutes mounts purchase and ticket endpoints.
func WithPurchaseRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group(groupPurchases).registrar = reg }
}

func WithOrderRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group(groupOrders).registrar = reg }
}

func WithAdminRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group(groupAdmin).registrar = reg }
}

func WithInternalRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group(groupInternal).registrar = reg }
}

// WithInternalMiddlewares guards the /internal group, typically with OIDC.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group(groupInternal)
		g.middlewares = append(g.middlewares, mw...)
	}
}

func notImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewErrorf("not_implemented", http.StatusNotImplemented, "%s routes not implemented", name))
	}
	r.HandleFunc("/", handler)
	r.HandleFunc("/*", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
