package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dryday/internal/core"
	"dryday/internal/models"
	"dryday/internal/types"
)

// uploadField is the multipart field carrying the artifact.
const uploadField = "file"

// ModelStore installs artifacts and reports which variants can serve.
type ModelStore interface {
	Install(kind models.Kind, src io.Reader, maxBytes int64) (string, error)
	Status(ctx context.Context) []models.VariantStatus
}

type uploadResponse struct {
	OK      bool        `json:"ok"`
	Variant models.Kind `json:"variant"`
	SavedTo string      `json:"saved_to"`
}

// ModelHandler serves artifact upload and model status.
type ModelHandler struct {
	store    ModelStore
	maxBytes int64
	logger   *slog.Logger
}

// NewModelHandler creates a ModelHandler accepting artifacts up to maxBytes.
func NewModelHandler(store ModelStore, maxBytes int64, logger *slog.Logger) *ModelHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelHandler{store: store, maxBytes: maxBytes, logger: logger}
}

// RegisterRoutes mounts the model endpoints.
func (h *ModelHandler) RegisterRoutes(r chi.Router) {
	r.Get("/models", h.HandleStatus)
	r.Post("/upload/model/{variant}", h.HandleUpload)
}

// HandleStatus lists every variant and whether it loads.
func (h *ModelHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, map[string]any{"models": h.store.Status(r.Context())})
}

// HandleUpload handles POST /api/upload/model/{variant}. The artifact is
// streamed from the "file" part, validated and installed atomically.
func (h *ModelHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	kind, err := models.ParseKind(chi.URLParam(r, "variant"))
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidVariant, err.Error(), err))
		return
	}
	if !kind.NeedsArtifact() {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidVariant,
			"the rule variant has no model artifact", nil))
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"multipart form with a \"file\" field is required", err))
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidArtifact,
				"malformed multipart body", err))
			return
		}
		if part.FormName() != uploadField {
			part.Close()
			continue
		}

		path, err := h.store.Install(kind, part, h.maxBytes)
		part.Close()
		if err != nil {
			core.Error(w, r, installError(err))
			return
		}

		types.LoggerFromContext(r.Context(), h.logger).Info("model artifact uploaded",
			"variant", kind,
			"filename", part.FileName(),
			"path", path,
		)
		core.JSON(w, r, http.StatusOK, uploadResponse{OK: true, Variant: kind, SavedTo: path})
		return
	}

	core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
		"multipart form with a \"file\" field is required", nil))
}

func installError(err error) error {
	switch {
	case errors.Is(err, models.ErrArtifactTooLarge), errors.Is(err, models.ErrInvalidArtifact):
		return types.NewAppError(types.ErrCodeValidationInvalidArtifact, err.Error(), err)
	case errors.Is(err, models.ErrNoArtifact):
		return types.NewAppError(types.ErrCodeValidationInvalidVariant, err.Error(), err)
	}
	return types.NewAppError(types.ErrCodeInternalStorage, "failed to store model artifact", err)
}
