// Package classifier trains and serves versioned subject classifiers
// over stored embeddings.
package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MinTrainingEmbeddings is the smallest embedding population a training
// run will accept.
const MinTrainingEmbeddings = 5

// artifactFormatVersion guards decoding of persisted artifacts.
const artifactFormatVersion = 1

var (
	// ErrInsufficientData indicates too few embeddings to train or match.
	ErrInsufficientData = errors.New("insufficient training data")
	// ErrUnknownFamily indicates an unsupported classifier family name.
	ErrUnknownFamily = errors.New("unknown classifier family")
	// ErrNotFitted indicates Predict was called before Fit.
	ErrNotFitted = errors.New("classifier not fitted")
)

// Sample is one labeled training vector.
type Sample struct {
	SubjectID int64     `json:"subject_id"`
	Embedding []float32 `json:"embedding"`
}

// Prediction is one subject's score. Scores over all known subjects sum
// to 1 and are sorted descending by the caller-facing methods.
type Prediction struct {
	SubjectID int64
	Score     float64
}

// Classifier maps a query embedding to per-subject scores.
type Classifier interface {
	// Family returns the family name (knn, centroid or ensemble).
	Family() string
	// Fit trains on the given samples, replacing any previous state.
	Fit(samples []Sample) error
	// Predict returns per-subject scores sorted descending.
	Predict(query []float32) ([]Prediction, error)
	// Hyperparams describes the configuration baked into the instance.
	Hyperparams() map[string]any
}

// Manifest is the metadata half of a serialized artifact. A decoded
// model is only usable against the extractor identity it was trained
// with.
type Manifest struct {
	FormatVersion int            `json:"format_version"`
	Family        string         `json:"family"`
	Extractor     string         `json:"extractor"`
	Dim           int            `json:"dim"`
	Hyperparams   map[string]any `json:"hyperparams,omitempty"`
}

type artifact struct {
	Manifest
	Model json.RawMessage `json:"model"`
}

// New constructs an unfitted classifier of the given family.
func New(family string, neighbors int) (Classifier, error) {
	switch family {
	case "knn":
		return NewKNN(neighbors), nil
	case "centroid":
		return NewCentroid(), nil
	case "ensemble":
		return NewEnsemble(neighbors), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}
}

// Encode serializes a fitted classifier with its manifest.
func Encode(c Classifier, m Manifest) ([]byte, error) {
	model, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s model: %w", c.Family(), err)
	}
	m.FormatVersion = artifactFormatVersion
	m.Family = c.Family()
	m.Hyperparams = c.Hyperparams()
	return json.Marshal(artifact{Manifest: m, Model: model})
}

// Decode reconstructs a fitted classifier from a serialized artifact.
func Decode(data []byte) (Classifier, *Manifest, error) {
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, nil, fmt.Errorf("failed to parse artifact: %w", err)
	}
	if a.FormatVersion != artifactFormatVersion {
		return nil, nil, fmt.Errorf("unsupported artifact format version %d", a.FormatVersion)
	}

	var c Classifier
	switch a.Family {
	case "knn":
		c = &KNN{}
	case "centroid":
		c = &Centroid{}
	case "ensemble":
		c = &Ensemble{}
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownFamily, a.Family)
	}
	if err := json.Unmarshal(a.Model, c); err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s model: %w", a.Family, err)
	}
	return c, &a.Manifest, nil
}
