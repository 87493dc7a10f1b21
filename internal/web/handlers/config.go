package handlers

import (
	"net/http"

	"github.com/kozaktomas/photo-jobs/internal/config"
)

// ConfigHandler exposes the runtime system configuration
type ConfigHandler struct {
	store *config.SystemConfigStore
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(store *config.SystemConfigStore) *ConfigHandler {
	return &ConfigHandler{store: store}
}

// Get returns the current system configuration
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.store.Get())
}

// Update overlays the request body on the current configuration.
// Fields missing from the body keep their current values.
func (h *ConfigHandler) Update(w http.ResponseWriter, r *http.Request) {
	cfg := h.store.Get()
	if err := decodeJSON(r, &cfg); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if err := h.store.Update(cfg); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.store.Get())
}
