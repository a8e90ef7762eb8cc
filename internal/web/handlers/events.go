package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/petvet/biometry/internal/database"
)

// defaultEventLimit caps event listings without an explicit limit.
const defaultEventLimit = 50

// EventsHandler exposes the recognition audit log.
type EventsHandler struct {
	store database.Store
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(store database.Store) *EventsHandler {
	return &EventsHandler{store: store}
}

type eventResponse struct {
	ID                 int64          `json:"id"`
	OccurredAt         time.Time      `json:"occurred_at"`
	PredictedSubjectID *int64         `json:"predicted_subject_id,omitempty"`
	ActualSubjectID    *int64         `json:"actual_subject_id,omitempty"`
	ImageRef           string         `json:"image_ref"`
	Confidence         float64        `json:"confidence"`
	Success            bool           `json:"success"`
	DurationSeconds    float64        `json:"duration_seconds"`
	Details            map[string]any `json:"details,omitempty"`
}

// List returns the most recent recognition events, newest first.
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	events, err := h.store.ListEvents(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	resp := make([]eventResponse, 0, len(events))
	for i := range events {
		e := &events[i]
		resp = append(resp, eventResponse{
			ID:                 e.ID,
			OccurredAt:         e.OccurredAt,
			PredictedSubjectID: e.PredictedSubjectID,
			ActualSubjectID:    e.ActualSubjectID,
			ImageRef:           e.ImageRef,
			Confidence:         e.Confidence,
			Success:            e.Success,
			DurationSeconds:    e.DurationSeconds,
			Details:            e.Details,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

type statsResponse struct {
	TotalAttempts   int     `json:"total_attempts"`
	Successful      int     `json:"successful"`
	Failed          int     `json:"failed"`
	SuccessRate     float64 `json:"success_rate"`
	MeanConfidence  float64 `json:"mean_confidence"`
	MeanDurationSec float64 `json:"mean_duration_sec"`
}

// Stats returns aggregate statistics over the recognition audit log.
func (h *EventsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	respondJSON(w, http.StatusOK, statsResponse{
		TotalAttempts:   stats.TotalAttempts,
		Successful:      stats.Successful,
		Failed:          stats.Failed,
		SuccessRate:     stats.SuccessRate,
		MeanConfidence:  stats.MeanConfidence,
		MeanDurationSec: stats.MeanDurationSec,
	})
}
