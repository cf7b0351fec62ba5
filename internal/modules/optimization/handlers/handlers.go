// Package handlers provides HTTP handlers for the optimizer.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/minvar/internal/modules/annealing"
	"github.com/aristath/minvar/internal/modules/optimization"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles optimizer HTTP requests
type Handler struct {
	service        *optimization.OptimizerService
	log            zerolog.Logger
	requestTimeout time.Duration
}

// NewHandler creates a new optimizer handler
func NewHandler(service *optimization.OptimizerService, log zerolog.Logger) *Handler {
	return &Handler{
		service:        service,
		log:            log.With().Str("handler", "optimizer").Logger(),
		requestTimeout: DefaultRequestTimeout,
	}
}

// HandleAnneal handles POST /api/optimizer/anneal
func (h *Handler) HandleAnneal(w http.ResponseWriter, r *http.Request) {
	var req optimization.AnnealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Error().Err(err).Msg("Failed to decode request body")
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.Anneal(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err, "Annealing failed")
		return
	}

	h.writeData(w, http.StatusOK, result)
}

// HandleSolveQP handles POST /api/optimizer/qp
func (h *Handler) HandleSolveQP(w http.ResponseWriter, r *http.Request) {
	var req optimization.QPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Error().Err(err).Msg("Failed to decode request body")
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.SolveQP(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err, "QP solve failed")
		return
	}

	h.writeData(w, http.StatusOK, result)
}

// HandleEstimate handles POST /api/optimizer/estimate
func (h *Handler) HandleEstimate(w http.ResponseWriter, r *http.Request) {
	var req optimization.EstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Error().Err(err).Msg("Failed to decode request body")
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	est, err := h.service.Estimate(req)
	if err != nil {
		h.writeServiceError(w, err, "Estimation failed")
		return
	}

	h.writeData(w, http.StatusOK, est)
}

// HandleGetDefaults handles GET /api/optimizer/defaults
func (h *Handler) HandleGetDefaults(w http.ResponseWriter, r *http.Request) {
	cfg := h.service.Defaults()
	levels, err := annealing.Plan(cfg)
	if err != nil {
		h.writeServiceError(w, err, "Invalid defaults")
		return
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{
		"config":         cfg,
		"planned_levels": levels,
	})
}

// HandleListRuns handles GET /api/optimizer/runs?limit=N
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := h.service.ListRuns(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, err, "Failed to list runs")
		return
	}

	h.writeData(w, http.StatusOK, runs)
}

// HandleGetRun handles GET /api/optimizer/runs/{id}
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err, "Failed to get run")
		return
	}

	h.writeData(w, http.StatusOK, run)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, optimization.ErrInvalidRequest),
		errors.Is(err, annealing.ErrInvalidDimension),
		errors.Is(err, annealing.ErrInvalidProblem),
		errors.Is(err, annealing.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, optimization.ErrSolverInfeasible):
		return http.StatusUnprocessableEntity
	case errors.Is(err, optimization.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error, msg string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg(msg)
	} else {
		h.log.Debug().Err(err).Int("status", status).Msg(msg)
	}
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeData(w http.ResponseWriter, status int, data interface{}) {
	h.writeJSON(w, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
