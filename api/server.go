/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Logger:     Request logging through zap
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/bookings/*     Bookings and refunds
  /api/trips/*        Trips and batches
  /api/organizers/*   Organizers and commission overrides
  /api/settings/*     Platform commission
  /api/settlements/*  Settlements and payouts
  /api/audit-logs     Audit trail
  /api/scenarios/*    Demo scenarios
  /metrics            Prometheus scrape endpoint
  /healthz            Liveness

SECURITY NOTE:
  No authentication middleware. The actor headers are trusted; put this
  service behind a gateway that sets them.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter creates a new router with all routes configured. An empty
// allowedOrigins list allows any origin.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", HeaderActorName, HeaderActorRole},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/bookings", func(r chi.Router) {
			r.Get("/", h.ListBookings)
			r.Post("/", h.CreateBooking)
			r.Post("/bulk-cancel", h.BulkCancel)
			r.Get("/{id}", h.GetBooking)
			r.Put("/{id}", h.UpdateBooking)
			r.Post("/{id}/refund", h.RefundAction)
		})

		r.Route("/trips", func(r chi.Router) {
			r.Get("/", h.ListTrips)
			r.Post("/", h.SaveTrip)
			r.Get("/{id}", h.GetTrip)
		})

		r.Route("/organizers", func(r chi.Router) {
			r.Get("/", h.ListOrganizers)
			r.Post("/", h.SaveOrganizer)
			r.Put("/{id}/commission", h.SetOrganizerCommission)
		})

		r.Get("/settings/commission", h.GetCommission)
		r.Put("/settings/commission", h.SetCommission)

		r.Route("/settlements", func(r chi.Router) {
			r.Get("/", h.ListSettlements)
			r.Get("/{key}", h.GetSettlement)
			r.Post("/{key}/process", h.ProcessPayout)
			r.Post("/{key}/utr", h.SubmitUTR)
		})

		r.Get("/audit-logs", h.ListAuditLogs)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// requestLogger logs one line per request through zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("actor", r.Header.Get(HeaderActorName)))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
