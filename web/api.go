package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mbocsi/teamhub/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// API serves the dashboard's JSON endpoints on top of the service feeds.
type API struct {
	services *services.ServiceContainer
	gatherer prometheus.Gatherer

	// KeepAlive is the interval between SSE comment frames on /api/events.
	KeepAlive time.Duration
}

// NewAPI builds an API. A nil gatherer serves the default Prometheus
// registry on /metrics.
func NewAPI(sc *services.ServiceContainer, gatherer prometheus.Gatherer) *API {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &API{
		services:  sc,
		gatherer:  gatherer,
		KeepAlive: 15 * time.Second,
	}
}

// Routes returns the HTTP routes for the dashboard API
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", a.HandleStatus)
		r.Post("/connect", a.HandleConnect)
		r.Post("/disconnect", a.HandleDisconnect)

		r.Get("/tasks", a.HandleListTasks)
		r.Post("/tasks", a.HandleCreateTask)
		r.Post("/tasks/refresh", a.HandleRefreshTasks)
		r.Get("/tasks/{id}", a.HandleTaskDetail)

		r.Get("/chat", a.HandleChatRooms)
		r.Get("/chat/{room}", a.HandleChatHistory)
		r.Post("/chat/{room}", a.HandlePostChat)

		r.Get("/agents", a.HandleListAgents)
		r.Get("/agents/{id}", a.HandleAgentDetail)
		r.Get("/monitor", a.HandleMonitor)

		r.Get("/events", a.HandleEvents)
	})
	r.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	return r
}
