package handlers

import (
	"errors"
	"net/http"

	"github.com/petvet/biometry/internal/database"
)

// ModelsHandler exposes trained classifier versions.
type ModelsHandler struct {
	store database.Store
}

// NewModelsHandler creates a new models handler.
func NewModelsHandler(store database.Store) *ModelsHandler {
	return &ModelsHandler{store: store}
}

// Active returns the currently active classifier version.
func (h *ModelsHandler) Active(w http.ResponseWriter, r *http.Request) {
	version, err := h.store.GetActive(r.Context())
	if errors.Is(err, database.ErrNoActiveModel) {
		respondError(w, http.StatusNotFound, "no active model")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load active model")
		return
	}
	respondJSON(w, http.StatusOK, toVersionResponse(version))
}

// List returns all classifier versions, newest first.
func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	versions, err := h.store.ListVersions(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list models")
		return
	}
	resp := make([]versionResponse, 0, len(versions))
	for i := range versions {
		resp = append(resp, toVersionResponse(&versions[i]))
	}
	respondJSON(w, http.StatusOK, resp)
}
