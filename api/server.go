/*
server.go - HTTP router and middleware configuration

MIDDLEWARE STACK:
  1. RequestID:  unique ID per request for tracing
  2. Recoverer:  panic recovery (500 instead of crash)
  3. RequestLogger: structured request log + metrics
  4. CORS

ROUTE GROUPS:
  /api/accounts        registration (public) and self-service reads
  /api/purchases       purchase submission and admin decisions
  /api/withdrawals     withdrawal initiation
  /api/admin           audited balance overrides
  /api/price           informational quotes (public)
  /metrics, /healthz   operational endpoints (public)
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/warp/token-ledger/auth"
)

// NewRouter wires all routes. Authenticated groups fail closed without
// a verified identity token; admin groups additionally require the
// admin claim.
func NewRouter(h *Handler, verifier *auth.Verifier, log *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	r.Route("/api", func(r chi.Router) {
		// Public
		r.Post("/accounts", h.CreateAccount)
		r.Get("/price", h.GetQuote)

		// Authenticated
		r.Group(func(r chi.Router) {
			r.Use(Authenticate(verifier))

			r.Get("/accounts/me/balance", h.GetBalance)
			r.Get("/accounts/me/transactions", h.GetTransactions)

			r.Post("/purchases", h.CreatePurchase)
			r.Get("/purchases/mine", h.ListMyPurchases)

			r.Post("/withdrawals", h.InitiateWithdrawal)

			// Admin
			r.Group(func(r chi.Router) {
				r.Use(RequireAdmin)

				r.Get("/purchases/pending", h.ListPendingPurchases)
				r.Post("/purchases/{id}/approve", h.ApprovePurchase)
				r.Post("/purchases/{id}/reject", h.RejectPurchase)
				r.Post("/admin/adjustments", h.AdjustBalance)
			})
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
