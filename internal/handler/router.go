package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tbraz/crm-dashboard-bff-go/internal/infra/observability"
	"github.com/tbraz/crm-dashboard-bff-go/internal/service"
)

// Options tune the router beyond its service dependencies.
type Options struct {
	AllowedOrigins []string
	JWTSecret      string
}

// NewRouter creates the HTTP router with all routes and middleware.
// Routes follow the API contract defined for the dashboard frontend.
func NewRouter(svc *service.Selector, metrics *observability.Metrics, logger *zap.Logger, opts Options) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", crmTokenHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler())
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Use(JWTAuthMiddleware(opts.JWTSecret, logger))

		// Sessions: one per open document form
		r.Post("/sessions", createSessionHandler(svc, logger))
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", getSessionHandler(svc, logger))
			r.Delete("/", deleteSessionHandler(svc, logger))

			// Cascading selection
			r.Put("/client", setClientHandler(svc, logger))
			r.Put("/purpose", setPurposeHandler(svc, logger))
			r.Put("/project", setProjectHandler(svc, logger))
			r.Put("/appointment", setAppointmentHandler(svc, logger))
			r.Put("/invoice", setInvoiceHandler(svc, logger))
			r.Post("/refresh", refreshSessionHandler(svc, logger))

			// Line items and charges
			r.Post("/items", addItemHandler(svc, logger))
			r.Patch("/items/{index}", updateItemHandler(svc, logger))
			r.Delete("/items/{index}", removeItemHandler(svc, logger))
			r.Put("/charges", setChargesHandler(svc, logger))
			r.Put("/dates", setDatesHandler(svc, logger))

			// Derived state
			r.Get("/totals", getTotalsHandler(svc, logger))
			r.Post("/validate", validateSessionHandler(svc, logger))
		})

		// Client reference lookup (cached)
		r.Get("/clients/{clientID}", getClientHandler(svc, logger))

		// Engine metrics snapshot for the dashboard's debug panel
		r.Get("/metrics/selection", selectionMetricsHandler(metrics))
	})

	return r
}

func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func selectionMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetSelectionSnapshot())
	}
}
