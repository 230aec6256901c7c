package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dryday/internal/cities"
	"dryday/internal/core"
)

// CitySearcher looks cities up by name.
type CitySearcher interface {
	Search(q string) ([]cities.City, error)
}

// CityHandler serves GET /api/search_city.
type CityHandler struct {
	index  CitySearcher
	logger *slog.Logger
}

// NewCityHandler creates a CityHandler.
func NewCityHandler(index CitySearcher, logger *slog.Logger) *CityHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CityHandler{index: index, logger: logger}
}

// RegisterRoutes mounts the city search endpoint.
func (h *CityHandler) RegisterRoutes(r chi.Router) {
	r.Get("/search_city", h.HandleSearch)
}

// HandleSearch returns up to ten cities whose name contains q.
func (h *CityHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	found, err := h.index.Search(r.URL.Query().Get("q"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, found)
}
