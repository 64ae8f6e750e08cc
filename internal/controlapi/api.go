// Package controlapi implements the admin REST API of featuregate. It exposes
// the flag evaluator, the integration registry and the rollout engine to
// operators.
package controlapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/srab2001/featuregate/internal/flags"
	"github.com/srab2001/featuregate/internal/integration"
	"github.com/srab2001/featuregate/internal/rollout"
	"github.com/srab2001/featuregate/internal/validation"
)

// Deps are the services the API operates on. All are mandatory.
type Deps struct {
	Flags        *flags.Evaluator
	Integrations *integration.Registry
	Rollouts     *rollout.Engine
}

// API is the main struct that holds dependencies and the router for the admin API.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	logger       *slog.Logger
	flags        *flags.Evaluator
	integrations *integration.Registry
	rollouts     *rollout.Engine

	// apiKeyHash is the hex SHA-256 of the accepted API key.
	apiKeyHash string

	// skipAuth disables authentication (test/dev environments only).
	skipAuth bool
}

// NewAPI creates a new API instance with authentication enabled.
// Panics if apiKeyHash is empty.
func NewAPI(logger *slog.Logger, deps Deps, apiKeyHash string) *API {
	return NewAPIWithConfig(logger, deps, apiKeyHash, false)
}

// NewAPIWithConfig creates a new API instance with explicit control over authentication.
//
// Panics if:
//   - any dependency in deps is nil
//   - apiKeyHash is empty when skipAuth is false
func NewAPIWithConfig(logger *slog.Logger, deps Deps, apiKeyHash string, skipAuth bool) *API {
	validation.AssertNotNil(deps.Flags, "flag evaluator")
	validation.AssertNotNil(deps.Integrations, "integration registry")
	validation.AssertNotNil(deps.Rollouts, "rollout engine")
	if !skipAuth && apiKeyHash == "" {
		panic("controlapi: apiKeyHash cannot be empty when authentication is enabled")
	}
	if logger == nil {
		logger = slog.Default()
	}

	api := &API{
		Router:       chi.NewRouter(),
		logger:       logger,
		flags:        deps.Flags,
		integrations: deps.Integrations,
		rollouts:     deps.Rollouts,
		apiKeyHash:   apiKeyHash,
		skipAuth:     skipAuth,
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the global middleware stack and API endpoints.
func (a *API) configureRoutes() {
	// 1. Global Middleware Stack
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(RequestLogger(a.logger))
	a.Router.Use(RequestMetrics)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	// 2. Public Routes
	a.Router.Get("/health", a.handleHealthCheck)

	// 3. Protected API V1 Routes
	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(a.authenticateAPIKey)

		r.Route("/flags", func(r chi.Router) {
			r.Get("/", a.handleListFlags)

			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", a.handleGetFlag)
				r.Patch("/", a.handleUpdateFlag)
				r.Post("/enable", a.handleEnableFlag)
				r.Post("/disable", a.handleDisableFlag)
				r.Post("/increment", a.handleIncrementRollout)
				r.Post("/rollback", a.handleRollbackFlag)
				r.Put("/override", a.handleSetOverride)
				r.Delete("/override", a.handleClearOverride)
			})
		})

		r.Get("/overrides", a.handleListOverrides)
		r.Delete("/overrides", a.handleClearAllOverrides)

		r.Get("/session", a.handleGetSession)
		r.Put("/session", a.handleSetSession)
		r.Post("/evaluate", a.handleEvaluate)

		r.Route("/integrations", func(r chi.Router) {
			r.Get("/", a.handleListIntegrations)

			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", a.handleGetIntegration)
				r.Post("/connect", a.handleConnectIntegration)
				r.Post("/disconnect", a.handleDisconnectIntegration)
				r.Get("/health", a.handleIntegrationHealth)
			})
		})

		r.Get("/stages", a.handleListStages)

		r.Route("/rollouts", func(r chi.Router) {
			r.Get("/", a.handleListRollouts)
			r.Get("/history", a.handleRolloutHistory)

			r.Route("/{flag}", func(r chi.Router) {
				r.Post("/", a.handleStartRollout)
				r.Get("/", a.handleGetRollout)
				r.Post("/advance", a.handleAdvanceRollout)
				r.Post("/pause", a.handlePauseRollout)
				r.Post("/resume", a.handleResumeRollout)
				r.Post("/rollback", a.handleRollback)
				r.Get("/health", a.handleRolloutHealth)
				r.Get("/validate", a.handleValidateRollout)
			})
		})
	})
}

// handleHealthCheck reports that the HTTP server is serving.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
