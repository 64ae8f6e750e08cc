package controlapi

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/srab2001/featuregate/internal/integration"
	"github.com/srab2001/featuregate/internal/logger"
)

// handleListIntegrations processes GET /api/v1/integrations.
func (a *API) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	all := a.integrations.All()
	infos := make([]integration.Info, len(all))
	for i, it := range all {
		infos[i] = it.Info()
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, ListResponse[integration.Info]{Data: infos, Total: len(infos)})
}

// handleGetIntegration processes GET /api/v1/integrations/{name}.
func (a *API) handleGetIntegration(w http.ResponseWriter, r *http.Request) {
	it, ok := a.integration(w, r)
	if !ok {
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, it.Info())
}

// handleConnectIntegration processes POST /api/v1/integrations/{name}/connect.
// The request blocks while Connect retries; a client disconnect aborts it.
func (a *API) handleConnectIntegration(w http.ResponseWriter, r *http.Request) {
	it, ok := a.integration(w, r)
	if !ok {
		return
	}
	if err := it.Connect(r.Context()); err != nil {
		renderError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("integration connected via api", slog.String("integration", it.Name()))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, it.Info())
}

// handleDisconnectIntegration processes POST /api/v1/integrations/{name}/disconnect.
func (a *API) handleDisconnectIntegration(w http.ResponseWriter, r *http.Request) {
	it, ok := a.integration(w, r)
	if !ok {
		return
	}
	if err := it.Disconnect(r.Context()); err != nil {
		renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, it.Info())
}

// handleIntegrationHealth processes GET /api/v1/integrations/{name}/health.
// An unhealthy integration answers 503 with the same body.
func (a *API) handleIntegrationHealth(w http.ResponseWriter, r *http.Request) {
	it, ok := a.integration(w, r)
	if !ok {
		return
	}
	res := it.HealthCheck(r.Context())
	status := http.StatusOK
	if !res.Healthy {
		status = http.StatusServiceUnavailable
	}
	render.Status(r, status)
	render.JSON(w, r, res)
}

func (a *API) integration(w http.ResponseWriter, r *http.Request) (*integration.Integration, bool) {
	name := chi.URLParam(r, "name")
	it, ok := a.integrations.Get(name)
	if !ok {
		renderError(w, r, fmt.Errorf("%w: %s", integration.ErrIntegrationNotFound, name))
		return nil, false
	}
	return it, true
}
