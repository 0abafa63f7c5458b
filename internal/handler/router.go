package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/segyhp/library-engine/pkg/logger"
	"github.com/segyhp/library-engine/pkg/response"
)

// RouterDeps collects what NewRouter wires together.
type RouterDeps struct {
	Loans    *LoanHandler
	Health   *HealthHandler
	Webhook  http.HandlerFunc
	Verifier *TokenVerifier
	Gatherer prometheus.Gatherer
	Logger   *logger.Logger
}

// NewRouter builds the HTTP surface. /api/v1 routes require a bearer token.
func NewRouter(deps RouterDeps) http.Handler {
	logg := deps.Logger
	if logg == nil {
		logg = logger.Nop()
	}

	router := mux.NewRouter()
	router.Use(RequestID(logg), Recoverer(logg), response.LoggingMiddleware(logg))

	// Health check
	router.HandleFunc("/health", deps.Health.Health).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", deps.Health.Ready).Methods(http.MethodGet)

	if deps.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	if deps.Webhook != nil {
		router.HandleFunc("/webhooks/stripe", deps.Webhook).Methods(http.MethodPost)
	}

	// API routes
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(Auth(deps.Verifier, logg))

	loans := deps.Loans
	api.HandleFunc("/loans", loans.Borrow).Methods(http.MethodPost)
	api.HandleFunc("/loans/active", loans.Active).Methods(http.MethodGet)
	api.HandleFunc("/loans/history", loans.History).Methods(http.MethodGet)
	api.HandleFunc("/loans/{loanId}", loans.Get).Methods(http.MethodGet)
	api.HandleFunc("/loans/{loanId}/return", loans.Return).Methods(http.MethodPost)
	api.HandleFunc("/loans/{loanId}/lost", loans.MarkLost).Methods(http.MethodPost)
	api.HandleFunc("/loans/{loanId}/fine", loans.Fine).Methods(http.MethodGet)
	api.HandleFunc("/loans/{loanId}/payments", loans.InitiatePayment).Methods(http.MethodPost)
	api.HandleFunc("/loans/{loanId}/payments/confirm", loans.ConfirmPayment).Methods(http.MethodPost)

	return response.CORSMiddleware(router)
}
