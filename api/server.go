/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:    Unique ID per request for tracing
  2. Logger:       zap request log (method, path, status, duration)
  3. Recoverer:    Panic recovery (500 instead of crash)
  4. CORS:         Cross-origin requests for a frontend
  5. authenticate: Bearer token -> parking.Actor in context (not on /api/auth)

ROUTE GROUPS:
  /api/auth/*          Registration and login (public)
  /api/lots/*          Lot browsing (public), management (admin)
  /api/spots/*         Booking (user), deletion (admin)
  /api/reservations/*  Release, estimate, receipt (owner or admin)
  /api/users/*         Reservation history (owner or admin)
  /api/reports/*       Summaries (admin)
  /api/scenarios/*     Demo scenarios (admin, only when enabled)
  /healthz             Liveness + database ping

SEE ALSO:
  - handlers.go:       Handler implementations
  - middleware.go:     Auth and rate limiting
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions controls optional parts of the router.
type RouterOptions struct {
	// AllowedOrigins for CORS. Defaults to local frontend dev servers.
	AllowedOrigins []string

	// BookingLimiter throttles reservation writes. Nil disables throttling.
	BookingLimiter *RateLimiter

	// EnableScenarios mounts the demo scenario endpoints.
	EnableScenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	limit := func(next http.Handler) http.Handler { return next }
	if opts.BookingLimiter != nil {
		limit = opts.BookingLimiter.Limit
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		// Login must work even when the client still holds an expired token.
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticate(h.Identity))

			r.Route("/lots", func(r chi.Router) {
				r.Get("/", h.ListLots)
				r.Get("/{id}", h.GetLot)
				r.Get("/{id}/spots", h.ListSpots)
				r.Get("/{id}/occupancy", h.GetOccupancy)

				r.With(requireUser, limit).Post("/{id}/reservations", h.BookFirstAvailable)

				r.Group(func(r chi.Router) {
					r.Use(requireAdmin)
					r.Post("/", h.CreateLot)
					r.Put("/{id}", h.UpdateLot)
					r.Delete("/{id}", h.DeleteLot)
					r.Post("/{id}/resize", h.ResizeLot)
					r.Post("/{id}/activate", h.ActivateLot)
					r.Get("/{id}/revenue", h.GetRevenue)
				})
			})

			r.Route("/spots", func(r chi.Router) {
				r.With(requireUser, limit).Post("/{id}/reservations", h.BookSpot)
				r.With(requireAdmin).Delete("/{id}", h.DeleteSpot)
			})

			r.Route("/reservations", func(r chi.Router) {
				r.Use(requireUser)
				r.Get("/{id}", h.GetReservation)
				r.With(limit).Post("/{id}/release", h.ReleaseReservation)
				r.Get("/{id}/estimate", h.GetEstimate)
				r.Get("/{id}/receipt", h.GetReceipt)
			})

			r.With(requireUser).Get("/users/{id}/reservations", h.ListUserReservations)

			r.With(requireAdmin).Get("/reports/summary", h.GetSummary)

			if opts.EnableScenarios {
				r.Route("/scenarios", func(r chi.Router) {
					r.Use(requireAdmin)
					r.Get("/", h.ListScenarios)
					r.Get("/current", h.GetCurrentScenario)
					r.Post("/load", h.LoadScenario)
				})
			}
		})
	})

	return r
}
