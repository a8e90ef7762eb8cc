package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/petvet/biometry/internal/artifacts"
	"github.com/petvet/biometry/internal/classifier"
	"github.com/petvet/biometry/internal/database"
	"github.com/petvet/biometry/internal/extractor"
	"github.com/petvet/biometry/internal/imaging"
	"github.com/petvet/biometry/internal/recognizer"
)

// RecognizeHandler runs match attempts against the active model.
type RecognizeHandler struct {
	recognizer *recognizer.Recognizer
	uploads    *artifacts.Store
}

// NewRecognizeHandler creates a new recognize handler.
func NewRecognizeHandler(rec *recognizer.Recognizer, uploads *artifacts.Store) *RecognizeHandler {
	return &RecognizeHandler{recognizer: rec, uploads: uploads}
}

type recognizeResponse struct {
	Matched      bool    `json:"matched"`
	SubjectID    *int64  `json:"subject_id,omitempty"`
	Confidence   float64 `json:"confidence"`
	Threshold    float64 `json:"threshold"`
	ModelVersion int     `json:"model_version"`
	Fallback     bool    `json:"fallback"`
	DurationMS   int64   `json:"duration_ms"`
	EventID      int64   `json:"event_id"`
}

// Recognize matches an uploaded photo against the known population.
// An optional subject_id form value turns the attempt into a verified
// one and updates that subject's match counters.
func (h *RecognizeHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	var actual *int64
	if v := r.FormValue("subject_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			respondError(w, http.StatusBadRequest, "invalid subject_id")
			return
		}
		actual = &id
	}

	// The query photo joins the audit trail so events stay reviewable.
	ref := uuid.NewString() + ".jpg"
	if err := h.uploads.Save(ref, data); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to store photo")
		return
	}

	result, err := h.recognizer.Recognize(r.Context(), data, ref, actual)
	switch {
	case err == nil:
	case errors.Is(err, database.ErrNoActiveModel):
		respondError(w, http.StatusConflict, "no trained model available")
		return
	case errors.Is(err, classifier.ErrInsufficientData):
		respondError(w, http.StatusConflict, "not enough training data for recognition")
		return
	case errors.Is(err, imaging.ErrUnreadableImage):
		respondError(w, http.StatusBadRequest, "unreadable image")
		return
	case errors.Is(err, imaging.ErrNoRegion):
		respondError(w, http.StatusBadRequest, "no valid region detected, photo is too small")
		return
	case errors.Is(err, extractor.ErrUnavailable):
		respondError(w, http.StatusBadGateway, "feature extractor unavailable")
		return
	default:
		respondError(w, http.StatusInternalServerError, "recognition failed")
		return
	}

	respondJSON(w, http.StatusOK, recognizeResponse{
		Matched:      result.Matched,
		SubjectID:    result.SubjectID,
		Confidence:   result.Confidence,
		Threshold:    result.Threshold,
		ModelVersion: result.ModelVersion,
		Fallback:     result.Fallback,
		DurationMS:   result.Duration.Milliseconds(),
		EventID:      result.EventID,
	})
}
