package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/good-yellow-bee/siemlite/internal/api/alerts"
	"github.com/good-yellow-bee/siemlite/internal/api/auth"
	"github.com/good-yellow-bee/siemlite/internal/api/logs"
	"github.com/good-yellow-bee/siemlite/internal/api/machines"
	"github.com/good-yellow-bee/siemlite/internal/api/middleware"
	"github.com/good-yellow-bee/siemlite/internal/api/respond"
	"github.com/good-yellow-bee/siemlite/internal/api/rules"
)

// routes creates and configures the chi router with all routes.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	d := s.deps

	lockout := auth.NewLockoutTracker(s.config.LockoutThreshold, s.config.LockoutDuration)
	ipLimiter := middleware.NewRateLimiter(s.config.RateLimitPerIP)

	r.Use(middleware.Recoverer(d.Logger))
	r.Use(middleware.RequestLogger(d.Logger))
	r.Use(middleware.Prometheus)
	r.Use(middleware.SecurityHeaders)

	authHandler := auth.NewHandler(d.Admin, d.JWT, lockout, d.Logger)
	machineHandler := machines.NewHandler(d.Registry, d.Store.Machines(), d.JWT, d.Logger)
	logHandler := logs.NewHandler(d.Ingester, d.Events, d.Logger)
	ruleHandler := rules.NewHandler(d.Rules, d.Logger)
	alertHandler := alerts.NewHandler(d.Store.Alerts(), d.Logger)

	adminAuth := middleware.AdminAuth(d.JWT, d.Logger)

	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated endpoints, rate limited per client IP.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(ipLimiter))
			r.Post("/auth/login", authHandler.Login)
			r.Post("/machines/register", machineHandler.Register)
			r.Post("/machines/token", machineHandler.Token)
		})

		r.With(middleware.MachineAuth(d.JWT, d.Registry, d.Logger)).
			Post("/logs/ingest", logHandler.Ingest)

		r.Group(func(r chi.Router) {
			r.Use(adminAuth)

			r.Get("/logs", logHandler.List)

			r.Route("/machines", func(r chi.Router) {
				r.Get("/", machineHandler.List)
				r.Get("/{id}", machineHandler.Get)
				r.Post("/{id}/activate", machineHandler.Activate)
				r.Post("/{id}/deactivate", machineHandler.Deactivate)
			})

			r.Route("/rules", func(r chi.Router) {
				r.Get("/", ruleHandler.List)
				r.Post("/", ruleHandler.Create)
				r.Get("/{id}", ruleHandler.Get)
				r.Put("/{id}", ruleHandler.Update)
				r.Delete("/{id}", ruleHandler.Delete)
				r.Post("/{id}/enable", ruleHandler.Enable)
				r.Post("/{id}/disable", ruleHandler.Disable)
			})

			r.Route("/alerts", func(r chi.Router) {
				r.Get("/", alertHandler.List)
				r.Get("/{id}", alertHandler.Get)
				r.Post("/{id}/acknowledge", alertHandler.Acknowledge)
				r.Post("/{id}/close", alertHandler.Close)
				r.Get("/{id}/history", alertHandler.History)
			})
		})
	})

	r.Get("/health", s.health.Health)
	r.Get("/live", s.health.Live)
	r.Get("/ready", s.health.Ready)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respond.Fail(w, respond.ErrNotFound)
	})

	if len(s.config.CORSOrigins) == 0 {
		return r
	}
	return cors.New(cors.Options{
		AllowedOrigins: s.config.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type", middleware.MachineTokenHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}).Handler(r)
}
