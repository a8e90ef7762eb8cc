package database

import (
	"context"
)

// SubjectStore provides access to the subject registry.
type SubjectStore interface {
	// CreateSubject registers a new subject and returns its ID.
	CreateSubject(ctx context.Context, s *Subject) (int64, error)
	// GetSubject retrieves a subject by ID, returns ErrNotFound if missing.
	GetSubject(ctx context.Context, id int64) (*Subject, error)
	// ListSubjects returns all registered subjects.
	ListSubjects(ctx context.Context) ([]Subject, error)
	// MarkTrained flags the given subjects as covered by a trained model.
	MarkTrained(ctx context.Context, subjectIDs []int64) error
	// RecordMatchOutcome increments a subject's success or failure counter
	// and updates its aggregate confidence estimate.
	RecordMatchOutcome(ctx context.Context, subjectID int64, success bool, confidence float64) error
}

// ImageStore provides access to uploaded source images.
type ImageStore interface {
	// CreateImage persists a new source image row and returns its ID.
	CreateImage(ctx context.Context, img *SourceImage) (int64, error)
	// GetImage retrieves an image by ID, returns ErrNotFound if missing.
	GetImage(ctx context.Context, id int64) (*SourceImage, error)
	// ListPendingImages returns biometric images not yet processed.
	ListPendingImages(ctx context.Context, limit int) ([]SourceImage, error)
	// MarkProcessed flags an image as processed with its quality score.
	MarkProcessed(ctx context.Context, imageID int64, quality float64) error
	// DeleteImage removes an image; its embeddings cascade.
	DeleteImage(ctx context.Context, id int64) error
}

// EmbeddingStore provides access to stored feature vectors.
type EmbeddingStore interface {
	// SaveEmbeddings stores a batch of embeddings and returns their IDs.
	SaveEmbeddings(ctx context.Context, embs []StoredEmbedding) ([]int64, error)
	// ListEmbeddings returns all embeddings for the given extractor identity.
	ListEmbeddings(ctx context.Context, extractor string) ([]StoredEmbedding, error)
	// ListEmbeddingsBySubject groups all embeddings of an extractor by subject ID.
	ListEmbeddingsBySubject(ctx context.Context, extractor string) (map[int64][]StoredEmbedding, error)
	// CountEmbeddings returns the total number of embeddings for an extractor.
	CountEmbeddings(ctx context.Context, extractor string) (int, error)
	// CountEmbeddingsByImage returns how many embeddings exist for an image.
	CountEmbeddingsByImage(ctx context.Context, imageID int64) (int, error)
	// DeleteEmbeddingsByImage removes all embeddings of one image.
	DeleteEmbeddingsByImage(ctx context.Context, imageID int64) error
	// MarkUsedInTraining flags all embeddings of an extractor as consumed
	// by a training run.
	MarkUsedInTraining(ctx context.Context, extractor string) error
}

// ModelStore provides access to classifier versions.
type ModelStore interface {
	// CreateVersion persists a new classifier version (inactive) and
	// returns its ID. The version number must be NextVersion().
	CreateVersion(ctx context.Context, v *ClassifierVersion) (int64, error)
	// NextVersion returns max(version)+1, or 1 when no versions exist.
	NextVersion(ctx context.Context) (int, error)
	// Activate atomically deactivates every version and activates the one
	// with the given ID, in a single transaction.
	Activate(ctx context.Context, id int64) error
	// GetActive returns the active version, or ErrNoActiveModel.
	GetActive(ctx context.Context) (*ClassifierVersion, error)
	// ListVersions returns all versions, newest first.
	ListVersions(ctx context.Context) ([]ClassifierVersion, error)
}

// EventStore provides append-only access to recognition events.
type EventStore interface {
	// SaveEvent appends a recognition event and returns its ID.
	SaveEvent(ctx context.Context, e *RecognitionEvent) (int64, error)
	// ListEvents returns the most recent events, newest first.
	ListEvents(ctx context.Context, limit int) ([]RecognitionEvent, error)
	// Stats derives aggregate statistics from the stored events.
	Stats(ctx context.Context) (*RecognitionStats, error)
}

// Store bundles all repositories behind one persistence boundary.
type Store interface {
	SubjectStore
	ImageStore
	EmbeddingStore
	ModelStore
	EventStore
}
