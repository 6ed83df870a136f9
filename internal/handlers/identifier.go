package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/ipacx/pacs-gateway/internal/identity"
	"github.com/ipacx/pacs-gateway/internal/middleware"
)

type IdentifierHandler struct {
	generator *identity.Generator
}

func NewIdentifierHandler(generator *identity.Generator) *IdentifierHandler {
	return &IdentifierHandler{generator: generator}
}

type reserveAccessionRequest struct {
	Prefix string `json:"prefix"`
}

// ReserveAccession hands out the next accession number
func (h *IdentifierHandler) ReserveAccession(w http.ResponseWriter, r *http.Request) {
	var req reserveAccessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	accession, err := h.generator.ReserveAccession(r.Context(), req.Prefix, middleware.GetSubject(r.Context()))
	if err != nil {
		// Identifier failures are never silently defaulted.
		log.Error().Err(err).Msg("Failed to reserve accession")
		http.Error(w, "Failed to reserve accession", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"accessionNumber": accession})
}

// PreviewAccession returns a cosmetic preview value
func (h *IdentifierHandler) PreviewAccession(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"accessionNumber": h.generator.PreviewAccession(prefix),
		"preview":         true,
	})
}

type reserveUIDsRequest struct {
	Count int `json:"count"`
}

// ReserveUIDs returns freshly generated UID triplets
func (h *IdentifierHandler) ReserveUIDs(w http.ResponseWriter, r *http.Request) {
	var req reserveUIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Count > 100 {
		http.Error(w, "Count exceeds limit of 100", http.StatusBadRequest)
		return
	}

	sets := h.generator.ReserveUIDs(r.Context(), req.Count)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sets)
}
