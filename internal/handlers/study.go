package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/ipacx/pacs-gateway/internal/models"
	"github.com/ipacx/pacs-gateway/internal/services"
)

type StudyHandler struct {
	pacsService *services.PACSService
}

func NewStudyHandler(pacsService *services.PACSService) *StudyHandler {
	return &StudyHandler{pacsService: pacsService}
}

// GetStudyMeta returns the resolved study record
func (h *StudyHandler) GetStudyMeta(w http.ResponseWriter, r *http.Request) {
	studyUID := chi.URLParam(r, "studyUID")
	if studyUID == "" {
		http.Error(w, "Study UID is required", http.StatusBadRequest)
		return
	}

	record, err := h.pacsService.GetStudyMeta(r.Context(), studyUID)
	if err != nil {
		log.Error().Err(err).Str("study_uid", studyUID).Msg("Failed to resolve study")
		http.Error(w, "Failed to resolve study", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(record)
}

// GetDicomTags returns the merged raw tag map for a study
func (h *StudyHandler) GetDicomTags(w http.ResponseWriter, r *http.Request) {
	studyUID := chi.URLParam(r, "studyUID")
	if studyUID == "" {
		http.Error(w, "Study UID is required", http.StatusBadRequest)
		return
	}

	tags, err := h.pacsService.GetDicomTags(r.Context(), studyUID)
	if err != nil {
		log.Warn().Err(err).Str("study_uid", studyUID).Msg("Failed to fetch tags")
		http.Error(w, "Failed to fetch tags", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tags)
}

// studyMetaUpdate is the manual-override request body. Only non-empty fields
// are applied.
type studyMetaUpdate struct {
	PatientName        string `json:"patientName"`
	PatientID          string `json:"patientID"`
	PatientSex         string `json:"patientSex"`
	PatientAge         string `json:"patientAge"`
	AccessionNumber    string `json:"accessionNumber"`
	StudyDate          string `json:"studyDate"`
	StudyDescription   string `json:"studyDescription"`
	ReferringPhysician string `json:"referringPhysician"`
	BodyPart           string `json:"bodyPart"`
	Modality           string `json:"modality"`
}

// UpdateStudyMeta applies a manual correction to the study record
func (h *StudyHandler) UpdateStudyMeta(w http.ResponseWriter, r *http.Request) {
	studyUID := chi.URLParam(r, "studyUID")
	if studyUID == "" {
		http.Error(w, "Study UID is required", http.StatusBadRequest)
		return
	}

	var req studyMetaUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	meta := &models.StudyMetadata{
		StudyInstanceUID:   studyUID,
		PatientName:        req.PatientName,
		PatientID:          req.PatientID,
		PatientSex:         req.PatientSex,
		PatientAge:         req.PatientAge,
		AccessionNumber:    req.AccessionNumber,
		StudyDate:          req.StudyDate,
		StudyDescription:   req.StudyDescription,
		ReferringPhysician: req.ReferringPhysician,
		BodyPart:           req.BodyPart,
		Modality:           req.Modality,
	}

	if err := h.pacsService.UpdateStudyMeta(r.Context(), meta); err != nil {
		log.Error().Err(err).Str("study_uid", studyUID).Msg("Failed to update study metadata")
		http.Error(w, "Failed to update study metadata", http.StatusInternalServerError)
		return
	}

	record, err := h.pacsService.GetStudyMeta(r.Context(), studyUID)
	if err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(record)
}
