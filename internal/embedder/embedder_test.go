package embedder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"

	"github.com/petvet/biometry/internal/config"
	"github.com/petvet/biometry/internal/database"
	"github.com/petvet/biometry/internal/database/mock"
	"github.com/petvet/biometry/internal/imaging"
)

// fakeExtractor returns canned unit vectors and records the size of
// every image it receives. When failAfter is > 0, every call beyond
// that many fails.
type fakeExtractor struct {
	calls     int
	failAfter int
	err       error
	seen      []image.Point
}

func (f *fakeExtractor) Identity() string { return "testnet" }
func (f *fakeExtractor) Dim() int         { return 4 }

func (f *fakeExtractor) Extract(ctx context.Context, img image.Image) ([]float32, error) {
	f.calls++
	f.seen = append(f.seen, image.Pt(img.Bounds().Dx(), img.Bounds().Dy()))
	if f.err != nil && (f.failAfter == 0 || f.calls > f.failAfter) {
		return nil, f.err
	}
	return []float32{1, 0, 0, 0}, nil
}

// fakeSource serves image bytes from memory.
type fakeSource struct {
	blobs map[string][]byte
}

func (f *fakeSource) Load(ref string) ([]byte, error) {
	data, ok := f.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("no blob %q", ref)
	}
	return data, nil
}

func encodeTestImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), uint8(x + y), 255})
		}
	}
	data, err := imaging.EncodeJPEG(img)
	if err != nil {
		t.Fatalf("EncodeJPEG failed: %v", err)
	}
	return data
}

func seedImage(t *testing.T, store *mock.Store, ref string, biometric bool) int64 {
	t.Helper()
	ctx := context.Background()
	subjectID, err := store.CreateSubject(ctx, &database.Subject{Name: "rex", Species: "dog"})
	if err != nil {
		t.Fatalf("CreateSubject failed: %v", err)
	}
	imageID, err := store.CreateImage(ctx, &database.SourceImage{
		SubjectID:  subjectID,
		StorageRef: ref,
		Biometric:  biometric,
	})
	if err != nil {
		t.Fatalf("CreateImage failed: %v", err)
	}
	return imageID
}

func TestProcessImageStoresEmbeddings(t *testing.T) {
	ctx := context.Background()
	store := mock.NewStore()
	source := &fakeSource{blobs: map[string][]byte{"img.jpg": encodeTestImage(t, 400, 300)}}
	ext := &fakeExtractor{}
	e := New(store, source, ext, config.EmbedderConfig{NumCrops: 4}, rand.New(rand.NewSource(1)))

	imageID := seedImage(t, store, "img.jpg", true)
	ids, err := e.ProcessImage(ctx, imageID)
	if err != nil {
		t.Fatalf("ProcessImage failed: %v", err)
	}
	if len(ids) < 1 || len(ids) > 4 {
		t.Fatalf("expected 1 to 4 embeddings, got %d", len(ids))
	}

	embs, err := store.ListEmbeddings(ctx, "testnet")
	if err != nil {
		t.Fatalf("ListEmbeddings failed: %v", err)
	}
	if len(embs) != len(ids) {
		t.Errorf("stored %d embeddings, returned %d ids", len(embs), len(ids))
	}
	if embs[0].CropIndex != 0 || embs[0].Confidence != 1.0 {
		t.Errorf("first embedding should be the primary crop: %+v", embs[0])
	}
	for _, emb := range embs {
		if emb.Dim != 4 || emb.Extractor != "testnet" || emb.ImageID != imageID {
			t.Errorf("unexpected embedding metadata: %+v", emb)
		}
	}

	img, err := store.GetImage(ctx, imageID)
	if err != nil {
		t.Fatalf("GetImage failed: %v", err)
	}
	if !img.Processed {
		t.Error("image should be marked processed")
	}
	wantQuality := 0.7
	if len(ids) >= 3 {
		wantQuality = 0.9
	}
	if img.Quality != wantQuality {
		t.Errorf("expected quality %.1f for %d embeddings, got %.1f", wantQuality, len(ids), img.Quality)
	}
}

func TestProcessImageIdempotent(t *testing.T) {
	ctx := context.Background()
	store := mock.NewStore()
	source := &fakeSource{blobs: map[string][]byte{"img.jpg": encodeTestImage(t, 400, 300)}}
	ext := &fakeExtractor{}
	e := New(store, source, ext, config.EmbedderConfig{NumCrops: 4}, rand.New(rand.NewSource(1)))

	imageID := seedImage(t, store, "img.jpg", true)
	if _, err := e.ProcessImage(ctx, imageID); err != nil {
		t.Fatalf("first ProcessImage failed: %v", err)
	}
	callsAfterFirst := ext.calls

	ids, err := e.ProcessImage(ctx, imageID)
	if err != nil {
		t.Fatalf("second ProcessImage failed: %v", err)
	}
	if ids != nil {
		t.Errorf("reprocessing should be a no-op, got %d ids", len(ids))
	}
	if ext.calls != callsAfterFirst {
		t.Errorf("reprocessing should not call the extractor, calls went %d -> %d", callsAfterFirst, ext.calls)
	}
}

func TestProcessImageClearsStaleEmbeddings(t *testing.T) {
	// An earlier run can save rows and then fail before the processed
	// flag lands. The retry must replace those rows, not add to them.
	ctx := context.Background()
	store := mock.NewStore()
	source := &fakeSource{blobs: map[string][]byte{"img.jpg": encodeTestImage(t, 400, 300)}}
	ext := &fakeExtractor{}
	e := New(store, source, ext, config.EmbedderConfig{NumCrops: 4}, rand.New(rand.NewSource(1)))

	imageID := seedImage(t, store, "img.jpg", true)
	stale, err := store.SaveEmbeddings(ctx, []database.StoredEmbedding{{
		SubjectID:  1,
		ImageID:    imageID,
		Embedding:  []float32{0, 0, 0, 1},
		Dim:        4,
		Extractor:  "testnet",
		CropIndex:  7,
		Confidence: 0.5,
	}})
	if err != nil {
		t.Fatalf("seeding stale embedding failed: %v", err)
	}

	ids, err := e.ProcessImage(ctx, imageID)
	if err != nil {
		t.Fatalf("ProcessImage failed: %v", err)
	}

	count, err := store.CountEmbeddingsByImage(ctx, imageID)
	if err != nil {
		t.Fatalf("CountEmbeddingsByImage failed: %v", err)
	}
	if count != len(ids) {
		t.Errorf("expected %d embeddings after reprocess, got %d", len(ids), count)
	}
	embs, err := store.ListEmbeddings(ctx, "testnet")
	if err != nil {
		t.Fatalf("ListEmbeddings failed: %v", err)
	}
	for _, emb := range embs {
		if emb.ID == stale[0] {
			t.Error("stale embedding survived reprocessing")
		}
	}
}

func TestProcessImageSkipsNonBiometric(t *testing.T) {
	ctx := context.Background()
	store := mock.NewStore()
	source := &fakeSource{blobs: map[string][]byte{"img.jpg": encodeTestImage(t, 400, 300)}}
	ext := &fakeExtractor{}
	e := New(store, source, ext, config.EmbedderConfig{NumCrops: 4}, rand.New(rand.NewSource(1)))

	imageID := seedImage(t, store, "img.jpg", false)
	ids, err := e.ProcessImage(ctx, imageID)
	if err != nil {
		t.Fatalf("ProcessImage failed: %v", err)
	}
	if ids != nil || ext.calls != 0 {
		t.Errorf("non-biometric image should be skipped entirely")
	}
}

func TestProcessImageTinyImageSingleSample(t *testing.T) {
	// 70x70 cannot yield a 64px augmented crop, only the primary.
	ctx := context.Background()
	store := mock.NewStore()
	source := &fakeSource{blobs: map[string][]byte{"tiny.jpg": encodeTestImage(t, 70, 70)}}
	ext := &fakeExtractor{}
	e := New(store, source, ext, config.EmbedderConfig{NumCrops: 4}, rand.New(rand.NewSource(1)))

	imageID := seedImage(t, store, "tiny.jpg", true)
	ids, err := e.ProcessImage(ctx, imageID)
	if err != nil {
		t.Fatalf("ProcessImage failed: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected only the primary embedding, got %d", len(ids))
	}

	img, err := store.GetImage(ctx, imageID)
	if err != nil {
		t.Fatalf("GetImage failed: %v", err)
	}
	if img.Quality != 0.7 {
		t.Errorf("expected quality 0.7 for a single sample, got %.1f", img.Quality)
	}
}

// encodeBlockImage renders a flat gray frame with a textured square of
// the given size in the middle and encodes it as PNG, so the detector's
// energy map is exact.
func encodeBlockImage(t *testing.T, frame, block int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, frame, frame))
	lo := (frame - block) / 2
	hi := lo + block
	for y := 0; y < frame; y++ {
		for x := 0; x < frame; x++ {
			c := color.RGBA{128, 128, 128, 255}
			if x >= lo && x < hi && y >= lo && y < hi {
				v := uint8(x * 5)
				c = color.RGBA{v, v, v, 255}
			}
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode failed: %v", err)
	}
	return buf.Bytes()
}

func TestProcessImageSmallRegionUsesFullFrame(t *testing.T) {
	// Detection finds the textured block, but the region is under the
	// 64px sub-crop minimum, so the primary embedding must come from
	// the whole frame instead of the crop.
	ctx := context.Background()
	data := encodeBlockImage(t, 200, 40)

	decoded, err := imaging.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	_, region := imaging.DetectRegion(decoded)
	if !region.Found {
		t.Fatal("expected the textured block to be detected")
	}
	if region.Bounds.Dx() >= imaging.MinCropSize || region.Bounds.Dy() >= imaging.MinCropSize {
		t.Fatalf("detected region %v should be under %dpx", region.Bounds, imaging.MinCropSize)
	}

	store := mock.NewStore()
	source := &fakeSource{blobs: map[string][]byte{"block.png": data}}
	ext := &fakeExtractor{}
	e := New(store, source, ext, config.EmbedderConfig{NumCrops: 4}, rand.New(rand.NewSource(1)))

	imageID := seedImage(t, store, "block.png", true)
	if _, err := e.ProcessImage(ctx, imageID); err != nil {
		t.Fatalf("ProcessImage failed: %v", err)
	}
	if len(ext.seen) == 0 {
		t.Fatal("extractor was never called")
	}
	if got := ext.seen[0]; got != image.Pt(200, 200) {
		t.Errorf("primary extraction should see the full frame, got %v", got)
	}
}

func TestProcessImagePrimaryExtractionFails(t *testing.T) {
	ctx := context.Background()
	store := mock.NewStore()
	source := &fakeSource{blobs: map[string][]byte{"img.jpg": encodeTestImage(t, 400, 300)}}
	ext := &fakeExtractor{err: errors.New("backend down")}
	e := New(store, source, ext, config.EmbedderConfig{NumCrops: 4}, rand.New(rand.NewSource(1)))

	imageID := seedImage(t, store, "img.jpg", true)
	if _, err := e.ProcessImage(ctx, imageID); err == nil {
		t.Fatal("expected error when the primary extraction fails")
	}

	img, err := store.GetImage(ctx, imageID)
	if err != nil {
		t.Fatalf("GetImage failed: %v", err)
	}
	if img.Processed {
		t.Error("failed image must stay unprocessed for retry")
	}
	count, err := store.CountEmbeddingsByImage(ctx, imageID)
	if err != nil {
		t.Fatalf("CountEmbeddingsByImage failed: %v", err)
	}
	if count != 0 {
		t.Errorf("no embeddings should be stored, got %d", count)
	}
}

func TestProcessImageAugmentationFailureTolerated(t *testing.T) {
	ctx := context.Background()
	store := mock.NewStore()
	source := &fakeSource{blobs: map[string][]byte{"img.jpg": encodeTestImage(t, 400, 300)}}
	ext := &fakeExtractor{err: errors.New("flaky"), failAfter: 1}
	e := New(store, source, ext, config.EmbedderConfig{NumCrops: 4}, rand.New(rand.NewSource(1)))

	imageID := seedImage(t, store, "img.jpg", true)
	ids, err := e.ProcessImage(ctx, imageID)
	if err != nil {
		t.Fatalf("augmentation failures should not fail processing: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("expected only the primary embedding, got %d", len(ids))
	}
}

func TestProcessImageDecodeFailure(t *testing.T) {
	ctx := context.Background()
	store := mock.NewStore()
	source := &fakeSource{blobs: map[string][]byte{"bad.jpg": []byte("not an image")}}
	ext := &fakeExtractor{}
	e := New(store, source, ext, config.EmbedderConfig{NumCrops: 4}, rand.New(rand.NewSource(1)))

	imageID := seedImage(t, store, "bad.jpg", true)
	if _, err := e.ProcessImage(ctx, imageID); err == nil {
		t.Fatal("expected error for undecodable image")
	}
}

func TestProcessPending(t *testing.T) {
	ctx := context.Background()
	store := mock.NewStore()
	source := &fakeSource{blobs: map[string][]byte{
		"a.jpg": encodeTestImage(t, 400, 300),
		"b.jpg": encodeTestImage(t, 400, 300),
	}}
	ext := &fakeExtractor{}
	e := New(store, source, ext, config.EmbedderConfig{NumCrops: 2}, rand.New(rand.NewSource(1)))

	seedImage(t, store, "a.jpg", true)
	seedImage(t, store, "b.jpg", true)
	seedImage(t, store, "missing.jpg", true) // source has no bytes for it

	ticks := 0
	processed, failed, err := e.ProcessPending(ctx, 0, func() { ticks++ })
	if err != nil {
		t.Fatalf("ProcessPending failed: %v", err)
	}
	if processed != 2 || failed != 1 {
		t.Errorf("expected 2 processed / 1 failed, got %d / %d", processed, failed)
	}
	if ticks != 3 {
		t.Errorf("expected 3 progress ticks, got %d", ticks)
	}
}
