package controlapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/srab2001/featuregate/internal/logger"
	"github.com/srab2001/featuregate/internal/rollout"
)

// handleListStages processes GET /api/v1/stages.
func (a *API) handleListStages(w http.ResponseWriter, r *http.Request) {
	stages := a.rollouts.Stages()
	render.Status(r, http.StatusOK)
	render.JSON(w, r, ListResponse[rollout.Stage]{Data: stages, Total: len(stages)})
}

// handleListRollouts processes GET /api/v1/rollouts.
func (a *API) handleListRollouts(w http.ResponseWriter, r *http.Request) {
	plans := a.rollouts.Plans()
	render.Status(r, http.StatusOK)
	render.JSON(w, r, ListResponse[rollout.Plan]{Data: plans, Total: len(plans)})
}

// handleRolloutHistory processes GET /api/v1/rollouts/history.
func (a *API) handleRolloutHistory(w http.ResponseWriter, r *http.Request) {
	history := a.rollouts.History()
	render.Status(r, http.StatusOK)
	render.JSON(w, r, ListResponse[rollout.HistoryEntry]{Data: history, Total: len(history)})
}

// handleStartRollout processes POST /api/v1/rollouts/{flag}.
// An empty body starts the plan with the engine defaults.
func (a *API) handleStartRollout(w http.ResponseWriter, r *http.Request) {
	flag := chi.URLParam(r, "flag")

	var req StartRolloutRequest
	if r.ContentLength != 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
			invalidInput(w, r, &ErrorResponse{Code: "ERR_INVALID_JSON", Message: "Invalid JSON payload: " + err.Error()})
			return
		}
	}
	opts, errResp := req.Apply(a.rollouts.DefaultOptions())
	if errResp != nil {
		invalidInput(w, r, errResp)
		return
	}

	plan, err := a.rollouts.Start(r.Context(), flag, opts)
	if err != nil {
		renderError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("rollout started via api",
		slog.String("flag", flag),
		slog.String("plan_id", plan.ID),
		slog.String("target_stage", plan.TargetStage),
	)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, plan)
}

// handleGetRollout processes GET /api/v1/rollouts/{flag}.
func (a *API) handleGetRollout(w http.ResponseWriter, r *http.Request) {
	flag := chi.URLParam(r, "flag")
	plan, ok := a.rollouts.GetPlan(flag)
	if !ok {
		renderError(w, r, fmt.Errorf("%w: %s", rollout.ErrRolloutNotFound, flag))
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, plan)
}

// handleAdvanceRollout processes POST /api/v1/rollouts/{flag}/advance.
// A failed health check answers 422 with the failing checks as details.
func (a *API) handleAdvanceRollout(w http.ResponseWriter, r *http.Request) {
	a.planAction(w, r, a.rollouts.Advance)
}

// handlePauseRollout processes POST /api/v1/rollouts/{flag}/pause.
func (a *API) handlePauseRollout(w http.ResponseWriter, r *http.Request) {
	a.planAction(w, r, a.rollouts.Pause)
}

// handleResumeRollout processes POST /api/v1/rollouts/{flag}/resume.
func (a *API) handleResumeRollout(w http.ResponseWriter, r *http.Request) {
	a.planAction(w, r, a.rollouts.Resume)
}

// handleRollback processes POST /api/v1/rollouts/{flag}/rollback, the kill
// switch. It works for flags that never had a plan.
func (a *API) handleRollback(w http.ResponseWriter, r *http.Request) {
	flag := chi.URLParam(r, "flag")

	var req RollbackRequest
	if r.ContentLength != 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
			invalidInput(w, r, &ErrorResponse{Code: "ERR_INVALID_JSON", Message: "Invalid JSON payload: " + err.Error()})
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "manual rollback"
	}

	if err := a.rollouts.Rollback(r.Context(), flag, req.Reason); err != nil {
		renderError(w, r, err)
		return
	}

	resp := RollbackResponse{Flag: flag}
	if plan, ok := a.rollouts.GetPlan(flag); ok {
		resp.Plan = &plan
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// handleRolloutHealth processes GET /api/v1/rollouts/{flag}/health. The check
// runs now and, for an active plan, may pause or roll it back.
func (a *API) handleRolloutHealth(w http.ResponseWriter, r *http.Request) {
	flag := chi.URLParam(r, "flag")
	res := a.rollouts.RunHealthCheck(r.Context(), flag)
	status := http.StatusOK
	if !res.Healthy {
		status = http.StatusServiceUnavailable
	}
	render.Status(r, status)
	render.JSON(w, r, res)
}

// handleValidateRollout processes GET /api/v1/rollouts/{flag}/validate.
func (a *API) handleValidateRollout(w http.ResponseWriter, r *http.Request) {
	flag := chi.URLParam(r, "flag")
	err := a.rollouts.Validate(r.Context(), flag)
	if err == nil {
		render.Status(r, http.StatusOK)
		render.JSON(w, r, ValidationResponse{Ready: true})
		return
	}

	resp := ValidationResponse{Ready: false}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			resp.Problems = append(resp.Problems, e.Error())
		}
	} else {
		resp.Problems = []string{err.Error()}
	}
	render.Status(r, http.StatusUnprocessableEntity)
	render.JSON(w, r, resp)
}

func (a *API) planAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, flag string) (rollout.Plan, error)) {
	plan, err := fn(r.Context(), chi.URLParam(r, "flag"))
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, plan)
}
