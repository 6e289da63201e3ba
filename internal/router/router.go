// Package router wires the Chi router with all routes and middleware.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/clearpath-ai/texcare-backend/internal/handler"
	"github.com/clearpath-ai/texcare-backend/internal/middleware"
)

// Dependencies holds the injected services needed by the router.
type Dependencies struct {
	ChatDeps   handler.ChatDeps
	CORSOrigins []string
	DomainSuffix string
	Metrics    *middleware.Metrics
	MetricsReg *prometheus.Registry

	ChatbotInitialized bool
	InitError          error
}

// New creates and configures the router.
func New(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(deps.CORSOrigins, deps.DomainSuffix))
	if deps.Metrics != nil {
		r.Use(middleware.Monitoring(deps.Metrics))
	}

	r.Get("/api/health", handler.Health(deps.ChatbotInitialized, deps.InitError))
	r.Post("/api/chat", handler.Chat(deps.ChatDeps))

	if deps.MetricsReg != nil {
		r.Method(http.MethodGet, "/metrics", middleware.MetricsHandler(deps.MetricsReg))
	}

	return r
}
