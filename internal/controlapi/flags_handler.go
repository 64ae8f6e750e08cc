package controlapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/srab2001/featuregate/internal/flags"
	"github.com/srab2001/featuregate/internal/logger"
)

// handleListFlags processes GET /api/v1/flags. The optional ?category= filter
// matches metadata.category exactly.
func (a *API) handleListFlags(w http.ResponseWriter, r *http.Request) {
	var list []flags.FeatureFlag
	if category := r.URL.Query().Get("category"); category != "" {
		list = a.flags.GetFlagsByCategory(category)
	} else {
		list = a.flags.GetAllFlags()
	}

	overrides := a.flags.Overrides()
	dtos := make([]Flag, len(list))
	for i, f := range list {
		dtos[i] = toFlag(f, overrides)
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, ListResponse[Flag]{Data: dtos, Total: len(dtos)})
}

// handleGetFlag processes GET /api/v1/flags/{name}.
func (a *API) handleGetFlag(w http.ResponseWriter, r *http.Request) {
	a.renderFlag(w, r, chi.URLParam(r, "name"))
}

// handleUpdateFlag processes PATCH /api/v1/flags/{name}.
//
// Responsibilities:
// 1. Decodes the JSON payload into the UpdateFlagRequest DTO.
// 2. Validates the input.
// 3. Applies the partial update atomically through the evaluator.
// 4. Returns the updated resource.
func (a *API) handleUpdateFlag(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req UpdateFlagRequest
	if !decode(w, r, &req) {
		return
	}
	if errResp := req.Validate(); errResp != nil {
		invalidInput(w, r, errResp)
		return
	}

	if err := a.flags.UpdateFlag(name, req.ToUpdate()); err != nil {
		renderError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("flag updated via api", slog.String("flag", name))
	a.renderFlag(w, r, name)
}

// handleEnableFlag processes POST /api/v1/flags/{name}/enable.
func (a *API) handleEnableFlag(w http.ResponseWriter, r *http.Request) {
	a.mutateFlag(w, r, a.flags.EnableFlag)
}

// handleDisableFlag processes POST /api/v1/flags/{name}/disable.
func (a *API) handleDisableFlag(w http.ResponseWriter, r *http.Request) {
	a.mutateFlag(w, r, a.flags.DisableFlag)
}

// handleRollbackFlag processes POST /api/v1/flags/{name}/rollback. It only
// resets the flag; /rollouts/{flag}/rollback is the full kill switch.
func (a *API) handleRollbackFlag(w http.ResponseWriter, r *http.Request) {
	a.mutateFlag(w, r, a.flags.Rollback)
}

// handleIncrementRollout processes POST /api/v1/flags/{name}/increment.
// The result is clamped to [0,100].
func (a *API) handleIncrementRollout(w http.ResponseWriter, r *http.Request) {
	var req IncrementRequest
	if !decode(w, r, &req) {
		return
	}
	a.mutateFlag(w, r, func(name string) error {
		_, err := a.flags.IncrementRollout(name, req.Delta)
		return err
	})
}

// handleSetOverride processes PUT /api/v1/flags/{name}/override.
func (a *API) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req OverrideRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		invalidInput(w, r, &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Invalid override",
			Details: []ErrorDetail{{Field: "enabled", Issue: "is required"}},
		})
		return
	}

	a.flags.SetOverride(r.Context(), name, *req.Enabled)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, a.flags.Overrides())
}

// handleClearOverride processes DELETE /api/v1/flags/{name}/override.
func (a *API) handleClearOverride(w http.ResponseWriter, r *http.Request) {
	a.flags.ClearOverride(r.Context(), chi.URLParam(r, "name"))
	w.WriteHeader(http.StatusNoContent)
}

// handleListOverrides processes GET /api/v1/overrides.
func (a *API) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, a.flags.Overrides())
}

// handleClearAllOverrides processes DELETE /api/v1/overrides.
func (a *API) handleClearAllOverrides(w http.ResponseWriter, r *http.Request) {
	a.flags.ClearAllOverrides(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// handleGetSession processes GET /api/v1/session.
func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, a.flags.UserContext())
}

// handleSetSession processes PUT /api/v1/session. The session user is the one
// IsEnabled evaluates for.
func (a *API) handleSetSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !decode(w, r, &req) {
		return
	}
	a.flags.SetUserContext(req.UserID, req.Cohort)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, a.flags.UserContext())
}

// handleEvaluate processes POST /api/v1/evaluate. It evaluates for the user in
// the body without touching the session user.
func (a *API) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !decode(w, r, &req) {
		return
	}

	names := req.Flags
	if len(names) == 0 {
		for _, f := range a.flags.GetAllFlags() {
			names = append(names, f.Name)
		}
	}

	user := flags.NewUserContext(req.UserID, req.Cohort)
	resp := EvaluateResponse{User: user, Evaluations: make([]flags.Evaluation, 0, len(names))}
	for _, name := range names {
		resp.Evaluations = append(resp.Evaluations, a.flags.Evaluate(user, name))
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// --- Private Helpers ---

func (a *API) mutateFlag(w http.ResponseWriter, r *http.Request, fn func(name string) error) {
	name := chi.URLParam(r, "name")
	if err := fn(name); err != nil {
		renderError(w, r, err)
		return
	}
	a.renderFlag(w, r, name)
}

func (a *API) renderFlag(w http.ResponseWriter, r *http.Request, name string) {
	f, ok := a.flags.GetFlag(name)
	if !ok {
		renderError(w, r, flags.ErrFlagNotFound)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, toFlag(f, a.flags.Overrides()))
}

func toFlag(f flags.FeatureFlag, overrides map[string]bool) Flag {
	out := Flag{FeatureFlag: f}
	if v, ok := overrides[f.Name]; ok {
		out.Override = &v
	}
	if out.AllowedCohorts == nil {
		out.AllowedCohorts = []string{}
	}
	return out
}
