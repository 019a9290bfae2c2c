package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/ezachrisen/ruleswp"
	"github.com/ezachrisen/ruleswp/internal/function"
	"github.com/ezachrisen/ruleswp/internal/logger"
)

// handleExecute processes the POST /api/v1/rules/execute request.
//
// 1. Decodes the JSON payload into a function.Request.
// 2. Runs the rules function.
// 3. Maps failures to status codes by their kind.
// 4. Returns the function.Result.
func (a *API) handleExecute(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, a.maxBodyBytes)

	var req function.Request
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}
	if req.RuleSetName == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "rule_set_name is required",
		})
		return
	}

	res, err := a.rules.RunRules(r.Context(), req)
	if err != nil {
		status, resp := mapError(err)
		render.Status(r, status)
		render.JSON(w, r, resp)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, res)
}

// handleGetRuleSet processes the GET /api/v1/rulesets/{name} request.
func (a *API) handleGetRuleSet(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	name := chi.URLParam(r, "name")

	rs, err := a.ruleSets.RuleSet(r.Context(), name)
	if err != nil {
		if errors.Is(err, ruleswp.ErrRuleSetNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_RULESET_NOT_FOUND",
				Message: "Rule set not found: " + name,
			})
			return
		}

		log.Error("failed to load rule set", slog.String("rule_set", name), slog.String("error", err.Error()))
		if errors.Is(err, ruleswp.ErrInvalidRuleSet) {
			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_INVALID_RULESET",
				Message: err.Error(),
			})
			return
		}
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to load rule set",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapRuleSetToResponse(rs))
}

// mapError chooses the response for a failed execution.
func mapError(err error) (int, ErrorResponse) {
	switch ruleswp.KindOf(err) {
	case ruleswp.ErrRuleSetNotFound:
		return http.StatusNotFound, ErrorResponse{Code: "ERR_RULESET_NOT_FOUND", Message: err.Error()}
	case ruleswp.ErrFactConstruction:
		return http.StatusBadRequest, ErrorResponse{Code: "ERR_INVALID_FACT", Message: err.Error()}
	case ruleswp.ErrRuleExecution:
		return http.StatusUnprocessableEntity, ErrorResponse{Code: "ERR_RULE_EXECUTION", Message: err.Error()}
	case ruleswp.ErrResultExtraction:
		return http.StatusInternalServerError, ErrorResponse{Code: "ERR_RESULT_EXTRACTION", Message: err.Error()}
	default:
		return http.StatusInternalServerError, ErrorResponse{Code: "ERR_INTERNAL", Message: "Failed to run rules"}
	}
}
