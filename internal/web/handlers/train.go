package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/petvet/biometry/internal/classifier"
	"github.com/petvet/biometry/internal/database"
)

// TrainHandler triggers classifier training runs.
type TrainHandler struct {
	trainer *classifier.Trainer
}

// NewTrainHandler creates a new train handler.
func NewTrainHandler(trainer *classifier.Trainer) *TrainHandler {
	return &TrainHandler{trainer: trainer}
}

type trainRequest struct {
	Family string `json:"family"`
}

// Train fits a new classifier version over all stored embeddings and
// activates it. The body may select a family, otherwise the configured
// default applies.
func (h *TrainHandler) Train(w http.ResponseWriter, r *http.Request) {
	var req trainRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
	}

	version, err := h.trainer.Train(r.Context(), req.Family)
	switch {
	case err == nil:
	case errors.Is(err, classifier.ErrInsufficientData):
		respondError(w, http.StatusConflict, "not enough embeddings to train")
		return
	case errors.Is(err, classifier.ErrUnknownFamily):
		respondError(w, http.StatusBadRequest, "unknown classifier family")
		return
	default:
		respondError(w, http.StatusInternalServerError, "training failed")
		return
	}

	respondJSON(w, http.StatusCreated, toVersionResponse(version))
}

type versionResponse struct {
	ID              int64              `json:"id"`
	Version         int                `json:"version"`
	Family          string             `json:"family"`
	Extractor       string             `json:"extractor"`
	Hyperparams     map[string]any     `json:"hyperparams,omitempty"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
	SubjectCount    int                `json:"subject_count"`
	EmbeddingCount  int                `json:"embedding_count"`
	TrainingSeconds float64            `json:"training_seconds"`
	Active          bool               `json:"active"`
	CreatedAt       time.Time          `json:"created_at"`
}

func toVersionResponse(v *database.ClassifierVersion) versionResponse {
	return versionResponse{
		ID:              v.ID,
		Version:         v.Version,
		Family:          v.Family,
		Extractor:       v.Extractor,
		Hyperparams:     v.Hyperparams,
		Metrics:         v.Metrics,
		SubjectCount:    v.SubjectCount,
		EmbeddingCount:  v.EmbeddingCount,
		TrainingSeconds: v.TrainingSeconds,
		Active:          v.Active,
		CreatedAt:       v.CreatedAt,
	}
}
