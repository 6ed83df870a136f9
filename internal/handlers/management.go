package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/ipacx/pacs-gateway/internal/models"
	"github.com/ipacx/pacs-gateway/internal/services"
)

type ManagementHandler struct {
	pacsService *services.PACSService
}

func NewManagementHandler(pacsService *services.PACSService) *ManagementHandler {
	return &ManagementHandler{pacsService: pacsService}
}

// ListServers returns the configured PACS servers
func (h *ManagementHandler) ListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.pacsService.ListServers(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list PACS servers")
		http.Error(w, "Failed to list PACS servers", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(servers)
}

// GetServer returns one PACS server config
func (h *ManagementHandler) GetServer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		http.Error(w, "Invalid server ID", http.StatusBadRequest)
		return
	}

	server, err := h.pacsService.GetServer(r.Context(), uint(id))
	if errors.Is(err, services.ErrServerNotFound) {
		http.Error(w, "PACS server not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Uint64("pacs_id", id).Msg("Failed to get PACS server")
		http.Error(w, "Failed to get PACS server", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(server)
}

// TestServer probes a stored configuration
func (h *ManagementHandler) TestServer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		http.Error(w, "Invalid server ID", http.StatusBadRequest)
		return
	}

	result, err := h.pacsService.TestServer(r.Context(), uint(id))
	if errors.Is(err, services.ErrServerNotFound) {
		http.Error(w, "PACS server not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Uint64("pacs_id", id).Msg("Connection test failed")
		http.Error(w, "Connection test failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// TestConfig probes an ad-hoc configuration from the request body
func (h *ManagementHandler) TestConfig(w http.ResponseWriter, r *http.Request) {
	var req models.ConnectionTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result := h.pacsService.TestConfig(r.Context(), req.ToServer())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
