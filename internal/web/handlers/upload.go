package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/petvet/biometry/internal/artifacts"
	"github.com/petvet/biometry/internal/database"
	"github.com/petvet/biometry/internal/validate"
	"github.com/petvet/biometry/internal/worker"
)

// maxUploadSize bounds a single photo upload.
const maxUploadSize = 20 << 20 // 20 MB

// UploadHandler accepts subject photos and queues their extraction.
type UploadHandler struct {
	store     database.Store
	uploads   *artifacts.Store
	pool      *worker.Pool
	validator *validate.Service
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(store database.Store, uploads *artifacts.Store, pool *worker.Pool, validator *validate.Service) *UploadHandler {
	return &UploadHandler{
		store:     store,
		uploads:   uploads,
		pool:      pool,
		validator: validator,
	}
}

type uploadResponse struct {
	ImageID    int64             `json:"image_id"`
	Job        *worker.Job       `json:"job"`
	Validation *validate.Verdict `json:"validation"`
}

// Upload stores the photo, runs the optional species pre-check and
// enqueues embedding extraction. Responds 202: extraction is async and
// tracked through the returned job.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid subject id")
		return
	}
	subject, err := h.store.GetSubject(r.Context(), subjectID)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "subject not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load subject")
		return
	}

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

	biometric := true
	if v := r.FormValue("biometric"); v != "" {
		biometric, err = strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid biometric flag")
			return
		}
	}

	verdict := h.validator.Check(r.Context(), data, subject.Species)
	if verdict.Enabled && !verdict.Valid {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      "photo does not show the expected species",
			"validation": verdict,
		})
		return
	}

	ref := uuid.NewString() + ".jpg"
	if err := h.uploads.Save(ref, data); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to store photo")
		return
	}

	img := &database.SourceImage{
		SubjectID:  subjectID,
		StorageRef: ref,
		Biometric:  biometric,
	}
	imageID, err := h.store.CreateImage(r.Context(), img)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to register image")
		return
	}

	job, err := h.pool.Enqueue(imageID, subjectID)
	if errors.Is(err, worker.ErrQueueFull) {
		respondError(w, http.StatusServiceUnavailable, "extraction queue full, retry later")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to enqueue extraction")
		return
	}

	respondJSON(w, http.StatusAccepted, uploadResponse{
		ImageID:    imageID,
		Job:        job,
		Validation: verdict,
	})
}
