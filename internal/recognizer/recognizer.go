// Package recognizer matches a query photo against the stored embedding
// population and produces a calibrated confidence.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/petvet/biometry/internal/artifacts"
	"github.com/petvet/biometry/internal/classifier"
	"github.com/petvet/biometry/internal/config"
	"github.com/petvet/biometry/internal/database"
	"github.com/petvet/biometry/internal/extractor"
	"github.com/petvet/biometry/internal/imaging"
)

const (
	// topSimilarities is how many of a subject's best similarities feed
	// the base score.
	topSimilarities = 3

	// consistencyGate is the similarity above which an embedding counts
	// as agreeing with the query.
	consistencyGate = 0.70

	// tieGap and tieDampening reduce confidence when the runner-up
	// subject scores within tieGap of the winner.
	tieGap        = 0.10
	tieDampening  = 0.70
	highBand      = 0.85
	moderateBand  = 0.75
	highBonus     = 0.10
	highCeiling   = 0.98
	moderateScale = 0.90
	lowScale      = 0.60

	// fallbackCeiling caps the classifier-only path, which has no
	// population evidence behind its probability.
	fallbackCeiling = 0.75
)

// Result describes one recognition attempt.
type Result struct {
	Matched      bool
	SubjectID    *int64 // set only when Matched
	Confidence   float64
	Threshold    float64
	ModelVersion int
	Fallback     bool // classifier-only path, no raw embeddings available
	Duration     time.Duration
	EventID      int64
}

// Recognizer runs the matching engine against the active model.
type Recognizer struct {
	store     database.Store
	artifacts *artifacts.Store
	ext       extractor.Extractor
	threshold float64
}

// New creates a recognizer bound to the configured extractor.
func New(store database.Store, art *artifacts.Store, ext extractor.Extractor, cfg config.RecognitionConfig) *Recognizer {
	return &Recognizer{
		store:     store,
		artifacts: art,
		ext:       ext,
		threshold: cfg.MatchThreshold,
	}
}

// Recognize identifies the subject in the photo. actualSubjectID is an
// optional verification hint: when present, the hinted subject's match
// counters are updated with the outcome. Every attempt, matched or not,
// is recorded as a recognition event.
func (r *Recognizer) Recognize(ctx context.Context, imageData []byte, imageRef string, actualSubjectID *int64) (*Result, error) {
	start := time.Now()

	model, version, err := classifier.LoadActive(ctx, r.store, r.artifacts, r.ext.Identity())
	if err != nil {
		return nil, err
	}

	decoded, err := imaging.Decode(imageData)
	if err != nil {
		return nil, err
	}
	crop, _ := imaging.DetectRegion(decoded)
	if b := crop.Bounds(); b.Dx() < imaging.MinRegionSize || b.Dy() < imaging.MinRegionSize {
		// An image this small cannot carry identity features.
		return nil, imaging.ErrNoRegion
	}

	query, err := r.ext.Extract(ctx, crop)
	if err != nil {
		return nil, err
	}

	grouped, err := r.store.ListEmbeddingsBySubject(ctx, r.ext.Identity())
	if err != nil {
		return nil, fmt.Errorf("failed to load embedding population: %w", err)
	}

	var predicted int64
	var confidence float64
	fallback := len(grouped) == 0
	if fallback {
		predicted, confidence, err = r.classifierOnly(model, query)
	} else {
		predicted, confidence = r.scorePopulation(grouped, query)
	}
	if err != nil {
		return nil, err
	}

	matched := confidence >= r.threshold
	if matched {
		// The population can reference subjects deleted since training.
		if _, err := r.store.GetSubject(ctx, predicted); errors.Is(err, database.ErrNotFound) {
			matched = false
		} else if err != nil {
			return nil, err
		}
	}

	result := &Result{
		Matched:      matched,
		Confidence:   confidence,
		Threshold:    r.threshold,
		ModelVersion: version.Version,
		Fallback:     fallback,
		Duration:     time.Since(start),
	}
	if matched {
		id := predicted
		result.SubjectID = &id
	}

	event := &database.RecognitionEvent{
		OccurredAt:         start,
		PredictedSubjectID: result.SubjectID,
		ActualSubjectID:    actualSubjectID,
		ImageRef:           imageRef,
		Confidence:         confidence,
		Success:            matched,
		DurationSeconds:    result.Duration.Seconds(),
		Details: map[string]any{
			"threshold":     r.threshold,
			"model_version": version.Version,
			"model_family":  version.Family,
			"fallback":      fallback,
		},
	}
	eventID, err := r.store.SaveEvent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to record recognition event: %w", err)
	}
	result.EventID = eventID

	if actualSubjectID != nil {
		verified := matched && predicted == *actualSubjectID
		if err := r.store.RecordMatchOutcome(ctx, *actualSubjectID, verified, confidence); err != nil {
			return nil, fmt.Errorf("failed to record match outcome: %w", err)
		}
	}

	return result, nil
}

// scorePopulation computes per-subject scores from raw embeddings and
// calibrates the winner's confidence.
func (r *Recognizer) scorePopulation(grouped map[int64][]database.StoredEmbedding, query []float32) (int64, float64) {
	scores := make(map[int64]float64, len(grouped))
	for subjectID, embs := range grouped {
		sims := make([]float64, 0, len(embs))
		for _, e := range embs {
			if len(e.Embedding) != len(query) {
				continue
			}
			sims = append(sims, database.CosineSimilarity(query, e.Embedding))
		}
		if len(sims) == 0 {
			continue
		}

		sort.Sort(sort.Reverse(sort.Float64Slice(sims)))
		top := topSimilarities
		if top > len(sims) {
			top = len(sims)
		}
		var base float64
		for _, s := range sims[:top] {
			base += s
		}
		base /= float64(top)

		consistent := 0
		for _, s := range sims {
			if s >= consistencyGate {
				consistent++
			}
		}
		consistency := float64(consistent) / float64(len(sims))

		scores[subjectID] = base * (0.8 + 0.2*consistency)
	}
	if len(scores) == 0 {
		return 0, 0
	}

	var best, second float64
	var bestID int64
	second = -1
	best = -1
	for id, s := range scores {
		switch {
		case s > best:
			second = best
			best = s
			bestID = id
		case s > second:
			second = s
		}
	}

	return bestID, calibrate(best, second, len(scores) > 1)
}

// calibrate maps the winning score onto the confidence curve and applies
// the tie dampening.
func calibrate(best, second float64, hasRunnerUp bool) float64 {
	var confidence float64
	switch {
	case best >= highBand:
		confidence = best + highBonus
		if confidence > highCeiling {
			confidence = highCeiling
		}
	case best >= moderateBand:
		confidence = best * moderateScale
	default:
		confidence = best * lowScale
	}

	if hasRunnerUp && best-second < tieGap {
		confidence *= tieDampening
	}

	return clamp01(confidence)
}

// classifierOnly scores with the active model's native probability when
// the store holds no raw embeddings for the extractor.
func (r *Recognizer) classifierOnly(model classifier.Classifier, query []float32) (int64, float64, error) {
	preds, err := model.Predict(query)
	if err != nil {
		if errors.Is(err, classifier.ErrNotFitted) {
			return 0, 0, classifier.ErrInsufficientData
		}
		return 0, 0, err
	}
	confidence := preds[0].Score
	if confidence > fallbackCeiling {
		confidence = fallbackCeiling
	}
	return preds[0].SubjectID, clamp01(confidence), nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
