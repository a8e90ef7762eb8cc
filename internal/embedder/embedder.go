// Package embedder turns uploaded source images into stored embedding
// batches: one primary crop plus randomized augmented sub-crops.
package embedder

import (
	"context"
	"fmt"
	"image"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/petvet/biometry/internal/config"
	"github.com/petvet/biometry/internal/database"
	"github.com/petvet/biometry/internal/extractor"
	"github.com/petvet/biometry/internal/imaging"
)

const (
	// primaryConfidence and augmentedConfidence record how much the
	// downstream matcher should trust each crop kind.
	primaryConfidence   = 1.0
	augmentedConfidence = 0.9

	// qualityHigh applies when an image yields at least qualityMinSamples
	// embeddings, qualityLow otherwise.
	qualityHigh       = 0.9
	qualityLow        = 0.7
	qualityMinSamples = 3
)

// ImageSource resolves a source image's storage reference to its bytes.
type ImageSource interface {
	Load(ref string) ([]byte, error)
}

// Embedder extracts the embedding set of a source image.
type Embedder struct {
	store    database.Store
	source   ImageSource
	ext      extractor.Extractor
	numCrops int

	mu      sync.Mutex
	sampler *imaging.Sampler
}

// New creates an embedder. NumCrops counts the primary crop, so N=4
// means one primary plus up to three augmented samples. A nil rng gets
// a time-seeded source; tests inject a fixed one.
func New(store database.Store, source ImageSource, ext extractor.Extractor, cfg config.EmbedderConfig, rng *rand.Rand) *Embedder {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Embedder{
		store:    store,
		source:   source,
		ext:      ext,
		numCrops: cfg.NumCrops,
		sampler:  imaging.NewSampler(rng),
	}
}

// ProcessImage extracts and stores the embedding set of one image and
// marks it processed. Images that are not biometric or already processed
// are skipped without error, so retries and duplicate jobs are harmless.
// Returns the IDs of the created embeddings.
func (e *Embedder) ProcessImage(ctx context.Context, imageID int64) ([]int64, error) {
	img, err := e.store.GetImage(ctx, imageID)
	if err != nil {
		return nil, err
	}
	if !img.Biometric || img.Processed {
		return nil, nil
	}

	data, err := e.source.Load(img.StorageRef)
	if err != nil {
		return nil, fmt.Errorf("failed to load image %d: %w", imageID, err)
	}
	decoded, err := imaging.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %d: %w", imageID, err)
	}

	crop, region := imaging.DetectRegion(decoded)
	if !region.Found {
		log.Printf("embedder: image %d has no detectable region, using full frame", imageID)
	} else if b := crop.Bounds(); b.Dx() < imaging.MinCropSize || b.Dy() < imaging.MinCropSize {
		// A region under the sub-crop minimum cannot seed augmentation.
		log.Printf("embedder: image %d region %dx%d too small, using full frame", imageID, b.Dx(), b.Dy())
		crop = decoded
	}

	// The primary embedding must succeed; augmented crops are best effort.
	primary, err := e.ext.Extract(ctx, crop)
	if err != nil {
		return nil, fmt.Errorf("failed to extract primary embedding for image %d: %w", imageID, err)
	}

	embs := []database.StoredEmbedding{{
		SubjectID:  img.SubjectID,
		ImageID:    img.ID,
		Embedding:  primary,
		Dim:        e.ext.Dim(),
		Extractor:  e.ext.Identity(),
		CropIndex:  0,
		Confidence: primaryConfidence,
	}}

	for i := 1; i < e.numCrops; i++ {
		sub, ok := e.randomCrop(crop)
		if !ok {
			// This draw did not fit, fewer samples is fine.
			continue
		}
		vec, err := e.ext.Extract(ctx, sub)
		if err != nil {
			log.Printf("embedder: augmented crop %d of image %d failed: %v", i, imageID, err)
			continue
		}
		embs = append(embs, database.StoredEmbedding{
			SubjectID:  img.SubjectID,
			ImageID:    img.ID,
			Embedding:  vec,
			Dim:        e.ext.Dim(),
			Extractor:  e.ext.Identity(),
			CropIndex:  i,
			Confidence: augmentedConfidence,
		})
	}

	// A run that saved rows and then failed to mark the image processed
	// leaves stale embeddings behind; clear them before saving the new set.
	if err := e.store.DeleteEmbeddingsByImage(ctx, imageID); err != nil {
		return nil, fmt.Errorf("failed to clear stale embeddings for image %d: %w", imageID, err)
	}

	ids, err := e.store.SaveEmbeddings(ctx, embs)
	if err != nil {
		return nil, fmt.Errorf("failed to save embeddings for image %d: %w", imageID, err)
	}

	quality := qualityLow
	if len(embs) >= qualityMinSamples {
		quality = qualityHigh
	}
	if err := e.store.MarkProcessed(ctx, imageID, quality); err != nil {
		return nil, fmt.Errorf("failed to mark image %d processed: %w", imageID, err)
	}

	log.Printf("embedder: image %d produced %d embeddings (quality %.1f)", imageID, len(embs), quality)
	return ids, nil
}

// ProcessPending walks unprocessed biometric images in ID order and
// processes each one. Individual failures are logged and skipped so one
// bad image cannot stall the backlog. Returns processed and failed counts.
func (e *Embedder) ProcessPending(ctx context.Context, limit int, progress func()) (int, int, error) {
	pending, err := e.store.ListPendingImages(ctx, limit)
	if err != nil {
		return 0, 0, err
	}

	processed, failed := 0, 0
	for _, img := range pending {
		if err := ctx.Err(); err != nil {
			return processed, failed, err
		}
		if _, err := e.ProcessImage(ctx, img.ID); err != nil {
			log.Printf("embedder: image %d failed: %v", img.ID, err)
			failed++
		} else {
			processed++
		}
		if progress != nil {
			progress()
		}
	}
	return processed, failed, nil
}

// randomCrop serializes access to the shared sampler, which is not safe
// for concurrent use.
func (e *Embedder) randomCrop(img image.Image) (image.Image, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sampler.RandomCrop(img)
}
