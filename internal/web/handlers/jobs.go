package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/petvet/biometry/internal/worker"
)

// JobsHandler exposes the state of queued extraction jobs.
type JobsHandler struct {
	pool *worker.Pool
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(pool *worker.Pool) *JobsHandler {
	return &JobsHandler{pool: pool}
}

// Get returns the current state of one extraction job.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := h.pool.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, job)
}
