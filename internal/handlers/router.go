package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/maisonverte/api/internal/platform/httpx"
)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// routeGroup is one top-level API surface: customer orders, back-office
// admin, or payment webhooks. A group left without a registrar answers 501
// so a partially wired deployment fails loudly instead of 404ing.
type routeGroup struct {
	path        string
	name        string
	registrar   RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers

	orders   routeGroup
	admin    routeGroup
	webhooks routeGroup
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// WithMiddlewares appends additional global middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers behind /healthz and /readyz.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithOrderRoutes sets the registrar for the customer order endpoints.
func WithOrderRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.orders.registrar = reg
	}
}

// WithAdminRoutes sets the registrar for the back-office endpoints.
func WithAdminRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.admin.registrar = reg
	}
}

// WithWebhookRoutes sets the registrar for the payment callback endpoints.
func WithWebhookRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.webhooks.registrar = reg
	}
}

// WithWebhookMiddlewares adds middleware that runs only for the /webhooks
// group, ahead of the registered routes. Signature verification mounts here.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.webhooks.middlewares = append(cfg.webhooks.middlewares, mw...)
	}
}

// NewRouter assembles the HTTP surface: health probes at the root, the
// versioned API groups under /api/v1, and JSON error envelopes for every
// path that falls through.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(requestTimeout),
		},
		orders:   routeGroup{path: "/orders", name: "orders"},
		admin:    routeGroup{path: "/admin", name: "admin"},
		webhooks: routeGroup{path: "/webhooks", name: "webhooks"},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found",
			fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed",
			fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		for _, group := range []routeGroup{cfg.orders, cfg.admin, cfg.webhooks} {
			group.mount(api)
		}
	})

	return r
}

func (g routeGroup) mount(api chi.Router) {
	api.Route(g.path, func(r chi.Router) {
		for _, mw := range g.middlewares {
			if mw != nil {
				r.Use(mw)
			}
		}
		if g.registrar != nil {
			g.registrar(r)
			return
		}

		missing := func(w http.ResponseWriter, req *http.Request) {
			httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented",
				fmt.Sprintf("%s routes not implemented", g.name), http.StatusNotImplemented))
		}
		r.HandleFunc("/", missing)
		r.HandleFunc("/*", missing)
		r.NotFound(missing)
		r.MethodNotAllowed(missing)
	})
}
