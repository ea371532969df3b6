package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/smile-crm/sales-funnel/internal/pkg/httputil"
)

// SetupRoutes configures the router.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)

	// OAuth flow carries no tenant identity yet, so it lives outside /api.
	r.Get("/auth/gmail/connect", h.GmailConnect)
	r.Get("/auth/gmail/callback", h.GmailCallback)

	r.Route("/api", func(r chi.Router) {
		r.Get("/gmail/status", h.GmailStatus)
		r.Post("/gmail/disconnect", h.GmailDisconnect)
		r.Get("/gmail/labels", h.GmailLabels)

		r.Post("/poll", h.ManualPoll)
		r.Post("/scheduler/start", h.SchedulerStart)
		r.Post("/scheduler/stop", h.SchedulerStop)
		r.Get("/scheduler/status", h.SchedulerStatus)

		r.Post("/ingest", h.Ingest)
		r.With(h.demoLimit.Middleware).Post("/demo/process", h.DemoProcess)

		r.Get("/tasks", h.ListTasks)
		r.Patch("/tasks/{id}", h.UpdateTask)
		r.Get("/deals", h.ListDeals)
		r.Patch("/deals/{id}", h.UpdateDeal)
		r.Get("/contacts", h.ListContacts)
		r.Get("/stats", h.Stats)
	})

	return r
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "healthy", "service": "sales-funnel"})
}
