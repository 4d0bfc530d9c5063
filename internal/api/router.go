package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/daap14/blueprints/internal/api/handler"
	"github.com/daap14/blueprints/internal/api/middleware"
	"github.com/daap14/blueprints/internal/metrics"
)

// RouterDeps holds all dependencies needed by the router.
type RouterDeps struct {
	Service         handler.BlueprintService
	Store           handler.StorePinger
	Backend         string
	Version         string
	WriteAPIKeyHash string
	OpenAPI         http.Handler
	Metrics         *metrics.Metrics
	MetricsHandler  http.Handler
}

// NewRouter creates and configures a Chi router with all middleware and routes.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(chimiddleware.Logger)
	if deps.Metrics != nil {
		r.Use(metrics.Middleware(deps.Metrics))
	}

	if deps.Store != nil {
		healthHandler := handler.NewHealthHandler(deps.Store, deps.Backend, deps.Version)
		r.Get("/health", healthHandler.ServeHTTP)
	}

	if deps.OpenAPI != nil {
		r.Get("/openapi.json", deps.OpenAPI.ServeHTTP)
	}

	if deps.MetricsHandler != nil {
		r.Get("/metrics", deps.MetricsHandler.ServeHTTP)
	}

	if deps.Service != nil {
		bpHandler := handler.NewBlueprintHandler(deps.Service)
		r.Route("/api/v1/blueprints", func(r chi.Router) {
			r.Get("/", bpHandler.List)
			r.Get("/{author}", bpHandler.ListByAuthor)
			r.Get("/{author}/{name}", bpHandler.Get)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAPIKey(deps.WriteAPIKeyHash))
				r.Post("/", bpHandler.Create)
				r.Put("/{author}/{name}", bpHandler.Update)
				r.Put("/{author}/{name}/points", bpHandler.AddPoint)
				r.Delete("/{author}/{name}", bpHandler.Delete)
			})
		})
	}

	return r
}
