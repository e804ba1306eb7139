/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed as X-Request-Id
  2. RealIP:     Client address from proxy headers
  3. Logger:     One zerolog line per request (method, path, status, duration)
  4. Recoverer:  Panic recovery (500 JSON instead of crash)
  5. CORS:       Cross-origin requests for frontends

ROUTE GROUPS:
  /api/health, /api/version                 Liveness + balance version
  /api/tenants/{tenantID}/employees/*       Employees, balances, accruals
  /api/tenants/{tenantID}/requests/*        Leave requests + transitions
  /api/tenants/{tenantID}/policies|compliance|holidays|chargeable-days
  /api/scenarios/*                          Demo data (development only)

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

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
	"github.com/warp/leave-engine/logger"
)

// RouterOptions controls the optional parts of the router.
type RouterOptions struct {
	AllowedOrigins  []string
	EnableScenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Log))
	r.Use(recoverer(h.Log))

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Actor", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/version", h.Version)

		r.Route("/tenants", func(r chi.Router) {
			r.Get("/", h.ListTenants)
			r.Post("/", h.SaveTenant)

			r.Route("/{tenantID}", func(r chi.Router) {
				r.Get("/", h.GetTenant)

				r.Route("/employees", func(r chi.Router) {
					r.Get("/", h.ListEmployees)
					r.Post("/", h.UpsertEmployee)
					r.Route("/{employeeID}", func(r chi.Router) {
						r.Get("/", h.GetEmployee)
						r.Get("/balances", h.GetBalances)
						r.Post("/balances/init", h.InitializeBalances)
						r.Post("/adjustments", h.AdjustBalance)
						r.Post("/accruals", h.RecalculateAccruals)
						r.Get("/mutations", h.ListMutations)
					})
				})

				r.Route("/requests", func(r chi.Router) {
					r.Get("/", h.ListRequests)
					r.Post("/", h.SubmitRequest)
					r.Get("/{requestID}", h.GetRequest)
					r.Post("/{requestID}/approve", h.ApproveRequest)
					r.Post("/{requestID}/decline", h.DeclineRequest)
					r.Post("/{requestID}/cancel", h.CancelRequest)
				})

				r.Post("/chargeable-days", h.CalculateChargeableDays)

				r.Get("/policies", h.ListPolicies)
				r.Post("/policies", h.SavePolicy)
				r.Get("/compliance", h.GetCompliance)
				r.Post("/compliance", h.CheckCompliance)

				r.Get("/holidays", h.ListHolidays)
				r.Post("/holidays", h.CreateHoliday)
			})
		})

		if opts.EnableScenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	return r
}

// requestLogger writes one access log line per request.
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Header().Set("X-Request-Id", middleware.GetReqID(r.Context()))

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ev := log.Info()
			if status >= http.StatusInternalServerError {
				ev = log.Warn()
			}
			ev.Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Msg("HTTP request")
		})
	}
}

// recoverer turns a handler panic into a logged 500.
func recoverer(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error().
						Interface("panic", rec).
						Str("request_id", middleware.GetReqID(r.Context())).
						Str("path", r.URL.Path).
						Msg("panic recovered")
					writeJSON(w, http.StatusInternalServerError, ErrorResponse{
						Error: "an unexpected error occurred",
						Code:  "INTERNAL_ERROR",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
