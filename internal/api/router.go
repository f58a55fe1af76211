package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	mw "github.com/kiranshivaraju/dqrunner/internal/api/middleware"
	"github.com/kiranshivaraju/dqrunner/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	RunCaseHandler       http.HandlerFunc
	RunSuiteHandler      http.HandlerFunc
	RunCaseLogHandler    http.HandlerFunc
	GetCaseLogHandler    http.HandlerFunc
	CaseLogStatusHandler http.HandlerFunc
	CompleteHandler      http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	// Public
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/test-cases/{caseID}/run", orNotImplemented(deps.RunCaseHandler))
		r.Post("/api/v1/suites/{suiteID}/run", orNotImplemented(deps.RunSuiteHandler))

		r.Route("/api/v1/case-logs/{logID}", func(r chi.Router) {
			r.Get("/", orNotImplemented(deps.GetCaseLogHandler))
			r.Get("/status", orNotImplemented(deps.CaseLogStatusHandler))
			r.Post("/run", orNotImplemented(deps.RunCaseLogHandler))
			r.With(deps.Auth.RequireScope("callback")).
				Post("/complete", orNotImplemented(deps.CompleteHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
