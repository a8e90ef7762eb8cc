package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/petvet/biometry/internal/database"
)

// nameCaser title-cases subject names without assuming a locale.
var nameCaser = cases.Title(language.Und)

// SubjectsHandler handles the subject registry endpoints.
type SubjectsHandler struct {
	store     database.Store
	extractor string
}

// NewSubjectsHandler creates a new subjects handler.
func NewSubjectsHandler(store database.Store, extractorIdentity string) *SubjectsHandler {
	return &SubjectsHandler{store: store, extractor: extractorIdentity}
}

type createSubjectRequest struct {
	Name    string `json:"name"`
	Species string `json:"species"`
}

type subjectResponse struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Species           string    `json:"species"`
	Trained           bool      `json:"trained"`
	Confidence        float64   `json:"confidence"`
	SuccessfulMatches int       `json:"successful_matches"`
	FailedMatches     int       `json:"failed_matches"`
	EmbeddingCount    int       `json:"embedding_count,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

func toSubjectResponse(s *database.Subject) subjectResponse {
	return subjectResponse{
		ID:                s.ID,
		Name:              s.Name,
		Species:           s.Species,
		Trained:           s.Trained,
		Confidence:        s.Confidence,
		SuccessfulMatches: s.SuccessfulMatches,
		FailedMatches:     s.FailedMatches,
		CreatedAt:         s.CreatedAt,
	}
}

// normalizeName collapses whitespace, applies Unicode normalization and
// title case so "  rex " and "REX" register as the same display name.
func normalizeName(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return nameCaser.String(norm.NFC.String(s))
}

// Create registers a new subject.
func (h *SubjectsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSubjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	name := normalizeName(req.Name)
	if name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	species := strings.ToLower(strings.TrimSpace(req.Species))
	if species == "" {
		respondError(w, http.StatusBadRequest, "species is required")
		return
	}

	subject := &database.Subject{Name: name, Species: species}
	id, err := h.store.CreateSubject(r.Context(), subject)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create subject")
		return
	}
	subject.ID = id
	respondJSON(w, http.StatusCreated, toSubjectResponse(subject))
}

// List returns all registered subjects.
func (h *SubjectsHandler) List(w http.ResponseWriter, r *http.Request) {
	subjects, err := h.store.ListSubjects(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list subjects")
		return
	}
	resp := make([]subjectResponse, 0, len(subjects))
	for i := range subjects {
		resp = append(resp, toSubjectResponse(&subjects[i]))
	}
	respondJSON(w, http.StatusOK, resp)
}

// Get returns one subject with its embedding count.
func (h *SubjectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid subject id")
		return
	}

	subject, err := h.store.GetSubject(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "subject not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load subject")
		return
	}

	resp := toSubjectResponse(subject)
	grouped, err := h.store.ListEmbeddingsBySubject(r.Context(), h.extractor)
	if err == nil {
		resp.EmbeddingCount = len(grouped[id])
	}
	respondJSON(w, http.StatusOK, resp)
}
