/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/bookings/*   Booking lifecycle and disputes
  /api/providers/*  Settlement ledger, withdrawals, bank accounts
  /healthz          Liveness probe

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Booking routes
		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", h.CreateBooking)
			r.Get("/", h.ListBookings)
			r.Get("/{id}", h.GetBooking)
			r.Post("/{id}/cancel", h.CancelBooking)
			r.Post("/{id}/dispute", h.OpenDispute)
			r.Post("/{id}/dispute/resolve", h.ResolveDispute)
		})

		// Provider settlement routes
		r.Route("/providers/{id}", func(r chi.Router) {
			r.Get("/ledger", h.GetLedger)

			r.Route("/withdrawals", func(r chi.Router) {
				r.Get("/", h.ListWithdrawals)
				r.Post("/", h.RequestWithdrawal)
				r.Post("/{wid}/mark", h.MarkWithdrawal)
			})

			r.Route("/accounts", func(r chi.Router) {
				r.Get("/", h.ListAccounts)
				r.Post("/", h.AddAccount)
				r.Post("/{aid}/default", h.SetDefaultAccount)
				r.Delete("/{aid}", h.RemoveAccount)
			})
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
