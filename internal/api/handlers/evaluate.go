package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dryday/internal/core"
	"dryday/internal/evaluation"
)

// EvaluationService scores the variants against a dataset file.
type EvaluationService interface {
	EvaluateFile(ctx context.Context, path string) (*evaluation.Result, error)
}

// EvaluationHandler serves GET /api/evaluate.
type EvaluationHandler struct {
	service     EvaluationService
	datasetPath string
	logger      *slog.Logger
}

// NewEvaluationHandler creates an EvaluationHandler reading datasetPath.
func NewEvaluationHandler(svc EvaluationService, datasetPath string, logger *slog.Logger) *EvaluationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EvaluationHandler{service: svc, datasetPath: datasetPath, logger: logger}
}

// RegisterRoutes mounts the evaluation endpoint.
func (h *EvaluationHandler) RegisterRoutes(r chi.Router) {
	r.Get("/evaluate", h.HandleEvaluate)
}

// HandleEvaluate runs an evaluation over the configured dataset.
func (h *EvaluationHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.EvaluateFile(r.Context(), h.datasetPath)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, res)
}
