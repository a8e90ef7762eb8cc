// Package mock provides an in-memory implementation of the database
// interfaces for testing.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/petvet/biometry/internal/database"
)

// Store is an in-memory implementation of database.Store.
type Store struct {
	mu         sync.RWMutex
	subjects   map[int64]*database.Subject
	images     map[int64]*database.SourceImage
	embeddings map[int64]*database.StoredEmbedding
	versions   map[int64]*database.ClassifierVersion
	events     []database.RecognitionEvent

	nextSubjectID   int64
	nextImageID     int64
	nextEmbeddingID int64
	nextVersionID   int64
	nextEventID     int64

	// Error injection
	CreateSubjectError  error
	CreateImageError    error
	SaveEmbeddingsError error
	ListEmbeddingsError error
	CreateVersionError  error
	ActivateError       error
	SaveEventError      error
}

var _ database.Store = (*Store)(nil)

// NewStore creates a new empty mock store.
func NewStore() *Store {
	return &Store{
		subjects:   make(map[int64]*database.Subject),
		images:     make(map[int64]*database.SourceImage),
		embeddings: make(map[int64]*database.StoredEmbedding),
		versions:   make(map[int64]*database.ClassifierVersion),
	}
}

// CreateSubject registers a new subject.
func (m *Store) CreateSubject(ctx context.Context, s *database.Subject) (int64, error) {
	if m.CreateSubjectError != nil {
		return 0, m.CreateSubjectError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSubjectID++
	s.ID = m.nextSubjectID
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	m.subjects[s.ID] = &cp
	return s.ID, nil
}

// GetSubject retrieves a subject by ID.
func (m *Store) GetSubject(ctx context.Context, id int64) (*database.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subjects[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// ListSubjects returns all registered subjects ordered by ID.
func (m *Store) ListSubjects(ctx context.Context) ([]database.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	subjects := make([]database.Subject, 0, len(m.subjects))
	for _, s := range m.subjects {
		subjects = append(subjects, *s)
	}
	sort.Slice(subjects, func(i, j int) bool { return subjects[i].ID < subjects[j].ID })
	return subjects, nil
}

// MarkTrained flags the given subjects as trained.
func (m *Store) MarkTrained(ctx context.Context, subjectIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range subjectIDs {
		if s, ok := m.subjects[id]; ok {
			s.Trained = true
			s.UpdatedAt = time.Now()
		}
	}
	return nil
}

// RecordMatchOutcome updates a subject's match counters.
func (m *Store) RecordMatchOutcome(ctx context.Context, subjectID int64, success bool, confidence float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subjects[subjectID]
	if !ok {
		return database.ErrNotFound
	}
	if success {
		s.SuccessfulMatches++
	} else {
		s.FailedMatches++
	}
	if s.Confidence == 0 {
		s.Confidence = confidence
	} else {
		s.Confidence = s.Confidence*0.8 + confidence*0.2
	}
	s.UpdatedAt = time.Now()
	return nil
}

// CreateImage persists a new source image row.
func (m *Store) CreateImage(ctx context.Context, img *database.SourceImage) (int64, error) {
	if m.CreateImageError != nil {
		return 0, m.CreateImageError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextImageID++
	img.ID = m.nextImageID
	img.UploadedAt = time.Now()
	cp := *img
	m.images[img.ID] = &cp
	return img.ID, nil
}

// GetImage retrieves an image by ID.
func (m *Store) GetImage(ctx context.Context, id int64) (*database.SourceImage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	img, ok := m.images[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *img
	return &cp, nil
}

// ListPendingImages returns biometric images not yet processed.
func (m *Store) ListPendingImages(ctx context.Context, limit int) ([]database.SourceImage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var pending []database.SourceImage
	for _, img := range m.images {
		if img.Biometric && !img.Processed {
			pending = append(pending, *img)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// MarkProcessed flags an image as processed with its quality score.
func (m *Store) MarkProcessed(ctx context.Context, imageID int64, quality float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[imageID]
	if !ok {
		return database.ErrNotFound
	}
	img.Processed = true
	img.Quality = quality
	return nil
}

// DeleteImage removes an image and cascades to its embeddings.
func (m *Store) DeleteImage(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.images[id]; !ok {
		return database.ErrNotFound
	}
	delete(m.images, id)
	for embID, e := range m.embeddings {
		if e.ImageID == id {
			delete(m.embeddings, embID)
		}
	}
	return nil
}

// SaveEmbeddings stores a batch of embeddings.
func (m *Store) SaveEmbeddings(ctx context.Context, embs []database.StoredEmbedding) ([]int64, error) {
	if m.SaveEmbeddingsError != nil {
		return nil, m.SaveEmbeddingsError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(embs))
	for i := range embs {
		m.nextEmbeddingID++
		e := embs[i]
		e.ID = m.nextEmbeddingID
		e.CreatedAt = time.Now()
		e.UpdatedAt = e.CreatedAt
		m.embeddings[e.ID] = &e
		ids = append(ids, e.ID)
	}
	return ids, nil
}

// ListEmbeddings returns all embeddings for the given extractor identity.
func (m *Store) ListEmbeddings(ctx context.Context, extractor string) ([]database.StoredEmbedding, error) {
	if m.ListEmbeddingsError != nil {
		return nil, m.ListEmbeddingsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var embs []database.StoredEmbedding
	for _, e := range m.embeddings {
		if e.Extractor == extractor {
			embs = append(embs, *e)
		}
	}
	sort.Slice(embs, func(i, j int) bool { return embs[i].ID < embs[j].ID })
	return embs, nil
}

// ListEmbeddingsBySubject groups all embeddings of an extractor by subject ID.
func (m *Store) ListEmbeddingsBySubject(ctx context.Context, extractor string) (map[int64][]database.StoredEmbedding, error) {
	embs, err := m.ListEmbeddings(ctx, extractor)
	if err != nil {
		return nil, err
	}
	grouped := make(map[int64][]database.StoredEmbedding)
	for _, e := range embs {
		grouped[e.SubjectID] = append(grouped[e.SubjectID], e)
	}
	return grouped, nil
}

// CountEmbeddings returns the total number of embeddings for an extractor.
func (m *Store) CountEmbeddings(ctx context.Context, extractor string) (int, error) {
	embs, err := m.ListEmbeddings(ctx, extractor)
	if err != nil {
		return 0, err
	}
	return len(embs), nil
}

// CountEmbeddingsByImage returns how many embeddings exist for an image.
func (m *Store) CountEmbeddingsByImage(ctx context.Context, imageID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, e := range m.embeddings {
		if e.ImageID == imageID {
			count++
		}
	}
	return count, nil
}

// DeleteEmbeddingsByImage removes all embeddings of one image.
func (m *Store) DeleteEmbeddingsByImage(ctx context.Context, imageID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.embeddings {
		if e.ImageID == imageID {
			delete(m.embeddings, id)
		}
	}
	return nil
}

// MarkUsedInTraining flags all embeddings of an extractor as used.
func (m *Store) MarkUsedInTraining(ctx context.Context, extractor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.embeddings {
		if e.Extractor == extractor {
			e.UsedInTraining = true
			e.UpdatedAt = time.Now()
		}
	}
	return nil
}

// CreateVersion persists a new classifier version (inactive).
func (m *Store) CreateVersion(ctx context.Context, v *database.ClassifierVersion) (int64, error) {
	if m.CreateVersionError != nil {
		return 0, m.CreateVersionError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextVersionID++
	v.ID = m.nextVersionID
	v.CreatedAt = time.Now()
	cp := *v
	m.versions[v.ID] = &cp
	return v.ID, nil
}

// NextVersion returns max(version)+1, or 1 when no versions exist.
func (m *Store) NextVersion(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	max := 0
	for _, v := range m.versions {
		if v.Version > max {
			max = v.Version
		}
	}
	return max + 1, nil
}

// Activate deactivates every version and activates the given one.
func (m *Store) Activate(ctx context.Context, id int64) error {
	if m.ActivateError != nil {
		return m.ActivateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.versions[id]
	if !ok {
		return database.ErrNotFound
	}
	for _, v := range m.versions {
		v.Active = false
	}
	target.Active = true
	return nil
}

// GetActive returns the active version, or ErrNoActiveModel.
func (m *Store) GetActive(ctx context.Context) (*database.ClassifierVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.versions {
		if v.Active {
			cp := *v
			return &cp, nil
		}
	}
	return nil, database.ErrNoActiveModel
}

// ListVersions returns all versions, newest first.
func (m *Store) ListVersions(ctx context.Context) ([]database.ClassifierVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := make([]database.ClassifierVersion, 0, len(m.versions))
	for _, v := range m.versions {
		versions = append(versions, *v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version > versions[j].Version })
	return versions, nil
}

// SaveEvent appends a recognition event.
func (m *Store) SaveEvent(ctx context.Context, e *database.RecognitionEvent) (int64, error) {
	if m.SaveEventError != nil {
		return 0, m.SaveEventError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEventID++
	e.ID = m.nextEventID
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	m.events = append(m.events, *e)
	return e.ID, nil
}

// ListEvents returns the most recent events, newest first.
func (m *Store) ListEvents(ctx context.Context, limit int) ([]database.RecognitionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make([]database.RecognitionEvent, len(m.events))
	copy(events, m.events)
	sort.Slice(events, func(i, j int) bool { return events[i].ID > events[j].ID })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// Stats derives aggregate statistics from the stored events.
func (m *Store) Stats(ctx context.Context) (*database.RecognitionStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := &database.RecognitionStats{TotalAttempts: len(m.events)}
	var confSum, durSum float64
	for _, e := range m.events {
		if e.Success {
			stats.Successful++
		}
		confSum += e.Confidence
		durSum += e.DurationSeconds
	}
	stats.Failed = stats.TotalAttempts - stats.Successful
	if stats.TotalAttempts > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.TotalAttempts)
		stats.MeanConfidence = confSum / float64(stats.TotalAttempts)
		stats.MeanDurationSec = durSum / float64(stats.TotalAttempts)
	}
	return stats, nil
}
