package controlapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/srab2001/featuregate/internal/flags"
	"github.com/srab2001/featuregate/internal/integration"
	"github.com/srab2001/featuregate/internal/logger"
	"github.com/srab2001/featuregate/internal/rollout"
)

// renderError maps a domain error onto an HTTP status and error code.
// Unrecognized errors are logged and reported as 500 without their message.
func renderError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := classify(err)
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", slog.String("error", err.Error()))
	}
	render.Status(r, status)
	render.JSON(w, r, resp)
}

func classify(err error) (int, ErrorResponse) {
	var (
		unhealthy *rollout.UnhealthyError
		connErr   *integration.ConnectionError
	)
	switch {
	case errors.Is(err, flags.ErrFlagNotFound),
		errors.Is(err, rollout.ErrRolloutNotFound),
		errors.Is(err, integration.ErrIntegrationNotFound):
		return http.StatusNotFound, ErrorResponse{Code: "ERR_NOT_FOUND", Message: err.Error()}

	case errors.Is(err, flags.ErrInvalidFlag),
		errors.Is(err, rollout.ErrInvalidOptions),
		errors.Is(err, rollout.ErrUnknownStage):
		return http.StatusBadRequest, ErrorResponse{Code: "ERR_INVALID_INPUT", Message: err.Error()}

	case errors.As(err, &unhealthy):
		resp := ErrorResponse{Code: "ERR_UNHEALTHY", Message: err.Error()}
		for _, c := range unhealthy.Result.Checks {
			if !c.Passed {
				resp.Details = append(resp.Details, ErrorDetail{Field: c.Name, Issue: c.Message})
			}
		}
		return http.StatusUnprocessableEntity, resp

	case errors.Is(err, rollout.ErrRolloutActive),
		errors.Is(err, rollout.ErrRolloutPaused),
		errors.Is(err, rollout.ErrRolloutTerminal),
		errors.Is(err, integration.ErrConnectInProgress):
		return http.StatusConflict, ErrorResponse{Code: "ERR_CONFLICT", Message: err.Error()}

	case errors.Is(err, integration.ErrIntegrationDisabled):
		return http.StatusConflict, ErrorResponse{Code: "ERR_INTEGRATION_DISABLED", Message: err.Error()}

	case errors.Is(err, integration.ErrRateLimited):
		return http.StatusTooManyRequests, ErrorResponse{Code: "ERR_RATE_LIMITED", Message: err.Error()}

	case errors.As(err, &connErr), errors.Is(err, integration.ErrConnectAborted):
		return http.StatusBadGateway, ErrorResponse{Code: "ERR_UPSTREAM", Message: err.Error()}

	case errors.Is(err, rollout.ErrEngineClosed):
		return http.StatusServiceUnavailable, ErrorResponse{Code: "ERR_UNAVAILABLE", Message: err.Error()}
	}
	return http.StatusInternalServerError, ErrorResponse{Code: "ERR_INTERNAL", Message: "Internal server error"}
}

// decode reads a JSON body into v, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		logger.FromContext(r.Context()).Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return false
	}
	return true
}

func invalidInput(w http.ResponseWriter, r *http.Request, resp *ErrorResponse) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, resp)
}
