package database

import (
	"time"
)

// Subject is an identifiable entity (pet or person) that can be
// biometrically recognized.
type Subject struct {
	ID                int64
	Name              string
	Species           string
	Trained           bool    // has an embedding set included in a trained model
	Confidence        float64 // aggregate confidence estimate from past matches
	SuccessfulMatches int
	FailedMatches     int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SourceImage is one uploaded photo belonging to exactly one subject.
type SourceImage struct {
	ID         int64
	SubjectID  int64
	StorageRef string  // opaque reference into the application's file storage
	Biometric  bool    // eligible for training
	Processed  bool    // embeddings already extracted
	Quality    float64 // heuristic quality score set during processing
	UploadedAt time.Time
}

// StoredEmbedding is one fixed-length feature vector extracted from a
// crop of a source image.
type StoredEmbedding struct {
	ID             int64
	SubjectID      int64
	ImageID        int64
	Embedding      []float32
	Dim            int
	Extractor      string // backbone identity that produced the vector
	CropIndex      int    // 0 = primary crop, >0 = augmented sub-crop
	Confidence     float64
	UsedInTraining bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ClassifierVersion is one trained, versioned, activatable artifact over
// the embedding population. Immutable once created except the Active flag.
type ClassifierVersion struct {
	ID              int64
	Version         int
	Family          string // knn, centroid or ensemble
	Extractor       string // backbone identity it was trained against
	Hyperparams     map[string]any
	Metrics         map[string]float64
	SubjectCount    int
	EmbeddingCount  int
	TrainingSeconds float64
	ArtifactName    string // name of the serialized artifact in the blob store
	Active          bool
	CreatedAt       time.Time
}

// RecognitionEvent is the immutable audit record of one match attempt.
type RecognitionEvent struct {
	ID                 int64
	OccurredAt         time.Time
	PredictedSubjectID *int64 // nil when no subject was matched
	ActualSubjectID    *int64 // nil outside verification flows
	ImageRef           string // reference to the analyzed photo
	Confidence         float64
	Success            bool
	DurationSeconds    float64
	Details            map[string]any // applied threshold, model version, etc.
}

// RecognitionStats is an aggregate view derived from recognition events.
type RecognitionStats struct {
	TotalAttempts   int
	Successful      int
	Failed          int
	SuccessRate     float64
	MeanConfidence  float64
	MeanDurationSec float64
}
