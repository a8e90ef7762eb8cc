package classifier

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/petvet/biometry/internal/artifacts"
	"github.com/petvet/biometry/internal/config"
	"github.com/petvet/biometry/internal/database"
)

// Trainer runs the training pipeline: load the embedding population,
// fit a classifier, persist the artifact and register an active version.
type Trainer struct {
	store     database.Store
	artifacts *artifacts.Store
	cfg       config.ClassifierConfig
	extractor string
	dim       int
}

// NewTrainer creates a trainer bound to one extractor identity.
func NewTrainer(store database.Store, art *artifacts.Store, cfg config.ClassifierConfig, extractor string, dim int) *Trainer {
	return &Trainer{
		store:     store,
		artifacts: art,
		cfg:       cfg,
		extractor: extractor,
		dim:       dim,
	}
}

// Train executes one full training run. The empty family selects the
// configured default. The new version is activated atomically, so
// recognition traffic during training keeps using the previous model
// until the run completes.
func (t *Trainer) Train(ctx context.Context, family string) (*database.ClassifierVersion, error) {
	if family == "" {
		family = t.cfg.Family
	}
	start := time.Now()

	embs, err := t.store.ListEmbeddings(ctx, t.extractor)
	if err != nil {
		return nil, fmt.Errorf("failed to load embeddings: %w", err)
	}

	samples := make([]Sample, 0, len(embs))
	subjectSet := make(map[int64]bool)
	for _, e := range embs {
		if e.Dim != t.dim {
			log.Printf("training: skipping embedding %d with dim %d, expected %d", e.ID, e.Dim, t.dim)
			continue
		}
		samples = append(samples, Sample{SubjectID: e.SubjectID, Embedding: e.Embedding})
		subjectSet[e.SubjectID] = true
	}
	if len(samples) < MinTrainingEmbeddings {
		return nil, fmt.Errorf("%w: have %d embeddings for %s, need at least %d",
			ErrInsufficientData, len(samples), t.extractor, MinTrainingEmbeddings)
	}

	c, err := New(family, t.cfg.Neighbors)
	if err != nil {
		return nil, err
	}
	if err := c.Fit(samples); err != nil {
		return nil, fmt.Errorf("failed to fit %s classifier: %w", family, err)
	}

	metrics, err := Evaluate(family, t.cfg.Neighbors, samples)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate %s classifier: %w", family, err)
	}

	data, err := Encode(c, Manifest{Extractor: t.extractor, Dim: t.dim})
	if err != nil {
		return nil, err
	}
	artifactName := uuid.NewString() + ".json"
	if err := t.artifacts.Save(artifactName, data); err != nil {
		return nil, err
	}

	version, err := t.store.NextVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate version: %w", err)
	}

	v := &database.ClassifierVersion{
		Version:         version,
		Family:          family,
		Extractor:       t.extractor,
		Hyperparams:     c.Hyperparams(),
		Metrics:         metrics,
		SubjectCount:    len(subjectSet),
		EmbeddingCount:  len(samples),
		TrainingSeconds: time.Since(start).Seconds(),
		ArtifactName:    artifactName,
	}
	id, err := t.store.CreateVersion(ctx, v)
	if err != nil {
		return nil, fmt.Errorf("failed to create version: %w", err)
	}
	v.ID = id

	if err := t.store.Activate(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to activate version %d: %w", version, err)
	}
	v.Active = true

	if err := t.store.MarkUsedInTraining(ctx, t.extractor); err != nil {
		return nil, fmt.Errorf("failed to mark embeddings: %w", err)
	}
	subjectIDs := make([]int64, 0, len(subjectSet))
	for id := range subjectSet {
		subjectIDs = append(subjectIDs, id)
	}
	sort.Slice(subjectIDs, func(i, j int) bool { return subjectIDs[i] < subjectIDs[j] })
	if err := t.store.MarkTrained(ctx, subjectIDs); err != nil {
		return nil, fmt.Errorf("failed to mark subjects trained: %w", err)
	}

	log.Printf("training: version %d (%s/%s) trained on %d embeddings from %d subjects in %.2fs",
		version, family, t.extractor, len(samples), len(subjectSet), v.TrainingSeconds)
	return v, nil
}

// LoadActive loads and decodes the active classifier version. The
// manifest extractor must match the configured one: a model trained
// against a different backbone cannot score its vectors.
func LoadActive(ctx context.Context, store database.ModelStore, art *artifacts.Store, extractor string) (Classifier, *database.ClassifierVersion, error) {
	v, err := store.GetActive(ctx)
	if err != nil {
		return nil, nil, err
	}
	data, err := art.Load(v.ArtifactName)
	if err != nil {
		return nil, nil, err
	}
	c, m, err := Decode(data)
	if err != nil {
		return nil, nil, err
	}
	if m.Extractor != extractor {
		return nil, nil, fmt.Errorf("active model %d was trained with extractor %q, configured %q",
			v.Version, m.Extractor, extractor)
	}
	return c, v, nil
}
