package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/mailpipe/internal/config"
)

// Deps are the services behind the routes. Health may be nil.
type Deps struct {
	Domains      DomainService
	Suppressions SuppressionService
	Campaigns    CampaignService
	Queue        QueueControl
	Health       *HealthChecker
}

// SetupRoutes configures all API routes.
func SetupRoutes(cfg config.ServerConfig, d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(requestLogger)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", headerUserID, headerOrgID},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if d.Health != nil {
		r.Get("/health", d.Health.HandleHealth)
		r.Get("/health/live", d.Health.HandleLiveness)
		r.Get("/health/ready", d.Health.HandleReadiness)
	} else {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	}

	dh := &domainHandlers{svc: d.Domains}
	sh := &suppressionHandlers{svc: d.Suppressions}
	ch := &campaignHandlers{svc: d.Campaigns}
	qh := &queueHandlers{q: d.Queue}

	r.Route("/api", func(r chi.Router) {
		r.Route("/domains", func(r chi.Router) {
			r.Use(requireOwner)
			r.Post("/", dh.create)
			r.Get("/", dh.list)
			r.Get("/{id}", dh.get)
			r.Delete("/{id}", dh.delete)
			r.Post("/{id}/dkim", dh.regenerate)
			r.Post("/{id}/verify", dh.verify)
			r.Post("/{id}/primary", dh.setPrimary)
			r.Get("/{id}/records", dh.records)
		})

		r.Route("/suppressions", func(r chi.Router) {
			r.Get("/", sh.list)
			r.Post("/", sh.add)
			r.Delete("/", sh.remove)
			r.Get("/check", sh.check)
			r.Get("/stats", sh.stats)
		})

		r.Route("/campaigns/{id}", func(r chi.Router) {
			r.Post("/dispatch", ch.dispatch)
			r.Post("/schedule", ch.schedule)
			r.Delete("/schedule", ch.cancel)
		})
		r.Post("/emails", ch.triggered)

		r.Route("/queue", func(r chi.Router) {
			r.Get("/stats", qh.stats)
			r.Post("/pause", qh.pause)
			r.Post("/resume", qh.resume)
			r.Get("/jobs/{id}", qh.job)
		})
	})

	return r
}
