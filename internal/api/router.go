package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

type RouterConfig struct {
	Appointments AppointmentService
	Blackouts    BlackoutService
	Checks       []DependencyCheck
	Log          *zap.Logger
	Env          string
	Version      string
	RateLimitRPS int // per client IP, 0 disables
	CORSOrigins  []string
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID", HeaderActorID, HeaderActorRole, HeaderClinicID},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         300,
	}))
	if cfg.RateLimitRPS > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimitRPS, time.Second))
	}

	// Health endpoints
	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)

		svc := cfg.Appointments
		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", createAppointmentHandler(svc, log))
			r.Get("/{id}", getAppointmentHandler(svc, log))
			r.Patch("/{id}", updateAppointmentHandler(svc, log))
			r.Delete("/{id}", deleteAppointmentHandler(svc, log))
			r.Post("/{id}/confirm", transitionHandler(svc.Confirm, log))
			r.Post("/{id}/confirm-encaixe", transitionHandler(svc.ConfirmEncaixe, log))
			r.Post("/{id}/cancel", cancelAppointmentHandler(svc, log))
			r.Post("/{id}/finalize", finalizeAppointmentHandler(svc, log))
		})
		r.Get("/doctors/{id}/slots", availableSlotsHandler(svc, log))

		r.Route("/blackouts", func(r chi.Router) {
			r.Post("/", createBlackoutHandler(cfg.Blackouts, log))
			r.Patch("/{id}", updateBlackoutHandler(cfg.Blackouts, log))
			r.Delete("/{id}", deactivateBlackoutHandler(cfg.Blackouts, log))
		})
	})

	return r
}
