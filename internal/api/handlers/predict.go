// Package handlers contains the HTTP handlers for the DryDay API.
//
// Handlers decode and validate the request, call one service method and
// write its result. Every failure goes through core.Error so the status
// code follows the AppError code.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dryday/internal/core"
	"dryday/internal/models"
	"dryday/internal/prediction"
	"dryday/internal/types"
)

// PredictionService is the subset of prediction.Service used by the handler.
type PredictionService interface {
	Predict(ctx context.Context, req prediction.Request) (*prediction.Result, error)
	Features(ctx context.Context, req prediction.Request) (*prediction.FeatureReport, error)
	Compare(ctx context.Context, req prediction.Request) (*prediction.Comparison, error)
}

// locationRequest is the body shared by every prediction endpoint. Both
// forms of location are optional here; the service decides which applies
// and range-checks coordinates only when it uses them.
type locationRequest struct {
	City    string   `json:"city" validate:"omitempty,city_name"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
	Variant string   `json:"variant,omitempty"`
}

// PredictionHandler serves the prediction, comparison and feature endpoints.
type PredictionHandler struct {
	service   PredictionService
	validator *core.Validator
	logger    *slog.Logger
}

// NewPredictionHandler creates a PredictionHandler.
func NewPredictionHandler(svc PredictionService, val *core.Validator, logger *slog.Logger) *PredictionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PredictionHandler{
		service:   svc,
		validator: val,
		logger:    logger,
	}
}

// RegisterRoutes mounts the prediction endpoints.
func (h *PredictionHandler) RegisterRoutes(r chi.Router) {
	r.Post("/predict", h.HandlePredict)
	r.Post("/predict/{variant}", h.HandlePredict)
	r.Post("/compare", h.HandleCompare)
	r.Post("/features", h.HandleFeatures)
}

// HandlePredict handles POST /api/predict/{variant} and POST /api/predict.
// The path variant wins over the body's; neither means rule.
func (h *PredictionHandler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	body, ok := h.decode(w, r)
	if !ok {
		return
	}

	name := chi.URLParam(r, "variant")
	if name == "" {
		name = body.Variant
	}
	kind := models.KindRule
	if name != "" {
		var err error
		if kind, err = models.ParseKind(name); err != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidVariant, err.Error(), err))
			return
		}
	}

	req := body.toRequest()
	req.Variant = kind
	res, err := h.service.Predict(r.Context(), req)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, res)
}

// HandleCompare handles POST /api/compare.
func (h *PredictionHandler) HandleCompare(w http.ResponseWriter, r *http.Request) {
	body, ok := h.decode(w, r)
	if !ok {
		return
	}
	res, err := h.service.Compare(r.Context(), body.toRequest())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, res)
}

// HandleFeatures handles POST /api/features.
func (h *PredictionHandler) HandleFeatures(w http.ResponseWriter, r *http.Request) {
	body, ok := h.decode(w, r)
	if !ok {
		return
	}
	res, err := h.service.Features(r.Context(), body.toRequest())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, res)
}

func (h *PredictionHandler) decode(w http.ResponseWriter, r *http.Request) (locationRequest, bool) {
	var body locationRequest
	if err := core.DecodeJSON(w, r, &body); err != nil {
		core.Error(w, r, err)
		return body, false
	}
	if err := h.validator.ValidateStruct(body); err != nil {
		core.Error(w, r, err)
		return body, false
	}
	return body, true
}

func (b locationRequest) toRequest() prediction.Request {
	return prediction.Request{City: b.City, Lat: b.Lat, Lon: b.Lon}
}
