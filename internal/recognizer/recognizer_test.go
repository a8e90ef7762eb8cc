package recognizer

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/petvet/biometry/internal/artifacts"
	"github.com/petvet/biometry/internal/classifier"
	"github.com/petvet/biometry/internal/config"
	"github.com/petvet/biometry/internal/database"
	"github.com/petvet/biometry/internal/database/mock"
	"github.com/petvet/biometry/internal/imaging"
)

// fakeExtractor returns a preset query vector for any image.
type fakeExtractor struct {
	vec []float32
}

func (f *fakeExtractor) Identity() string { return "testnet" }
func (f *fakeExtractor) Dim() int         { return 4 }
func (f *fakeExtractor) Extract(ctx context.Context, img image.Image) ([]float32, error) {
	return f.vec, nil
}

// simVec builds a unit vector whose cosine similarity to [1,0,0,0] is s.
func simVec(s float64) []float32 {
	return []float32{float32(s), float32(math.Sqrt(1 - s*s)), 0, 0}
}

func testPhoto(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 100, 255})
		}
	}
	data, err := imaging.EncodeJPEG(img)
	if err != nil {
		t.Fatalf("EncodeJPEG failed: %v", err)
	}
	return data
}

// fixture seeds subjects with embeddings at the given similarities to
// the query vector [1,0,0,0], trains an active model and returns a
// ready recognizer.
func fixture(t *testing.T, store *mock.Store, subjectSims map[string][]float64) (*Recognizer, map[string]int64) {
	t.Helper()
	ctx := context.Background()

	subjectIDs := make(map[string]int64, len(subjectSims))
	var embs []database.StoredEmbedding
	for _, name := range sortedKeys(subjectSims) {
		id, err := store.CreateSubject(ctx, &database.Subject{Name: name, Species: "dog"})
		if err != nil {
			t.Fatalf("CreateSubject failed: %v", err)
		}
		subjectIDs[name] = id
		for j, s := range subjectSims[name] {
			embs = append(embs, database.StoredEmbedding{
				SubjectID: id,
				ImageID:   id*100 + int64(j),
				Embedding: simVec(s),
				Dim:       4,
				Extractor: "testnet",
			})
		}
	}
	if _, err := store.SaveEmbeddings(ctx, embs); err != nil {
		t.Fatalf("SaveEmbeddings failed: %v", err)
	}

	art, err := artifacts.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("artifacts.NewStore failed: %v", err)
	}
	trainer := classifier.NewTrainer(store, art, config.ClassifierConfig{Family: "knn", Neighbors: 7}, "testnet", 4)
	if _, err := trainer.Train(ctx, ""); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	ext := &fakeExtractor{vec: []float32{1, 0, 0, 0}}
	r := New(store, art, ext, config.RecognitionConfig{MatchThreshold: 0.30})
	return r, subjectIDs
}

func sortedKeys(m map[string][]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

func TestRecognizeStrongMatch(t *testing.T) {
	store := mock.NewStore()
	r, ids := fixture(t, store, map[string][]float64{
		"rex":  {0.90, 0.90, 0.90},
		"luna": {0.40, 0.40, 0.40},
	})

	res, err := r.Recognize(context.Background(), testPhoto(t), "query.jpg", nil)
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if !res.Matched {
		t.Fatal("expected a match")
	}
	if *res.SubjectID != ids["rex"] {
		t.Errorf("expected subject %d, got %d", ids["rex"], *res.SubjectID)
	}
	// Base 0.90, full consistency: score 0.90, high band caps at 0.98.
	if math.Abs(res.Confidence-0.98) > 1e-9 {
		t.Errorf("expected confidence 0.98, got %f", res.Confidence)
	}
	if res.ModelVersion != 1 || res.Fallback {
		t.Errorf("unexpected result metadata: %+v", res)
	}
}

func TestRecognizeTinyImageRejected(t *testing.T) {
	store := mock.NewStore()
	r, _ := fixture(t, store, map[string][]float64{
		"rex":  {0.90, 0.90, 0.90},
		"luna": {0.40, 0.40, 0.40},
	})

	img := image.NewRGBA(image.Rect(0, 0, 30, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 30; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 8), uint8(y * 8), 100, 255})
		}
	}
	data, err := imaging.EncodeJPEG(img)
	if err != nil {
		t.Fatalf("EncodeJPEG failed: %v", err)
	}

	_, err = r.Recognize(context.Background(), data, "query.jpg", nil)
	if !errors.Is(err, imaging.ErrNoRegion) {
		t.Fatalf("expected ErrNoRegion, got %v", err)
	}

	// A rejected query is an input error, not an attempt: no event.
	events, err := store.ListEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no recognition events, got %d", len(events))
	}
}

func TestRecognizeWeakSimilarityFails(t *testing.T) {
	store := mock.NewStore()
	r, _ := fixture(t, store, map[string][]float64{
		"rex":  {0.50, 0.50, 0.50},
		"luna": {0.10, 0.10, 0.10},
	})

	res, err := r.Recognize(context.Background(), testPhoto(t), "query.jpg", nil)
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if res.Matched {
		t.Error("expected no match for weak similarity")
	}
	if res.SubjectID != nil {
		t.Error("unmatched result must not name a subject")
	}
	// Base 0.50, zero consistency: score 0.40, low band: 0.40 * 0.60 = 0.24.
	if math.Abs(res.Confidence-0.24) > 1e-9 {
		t.Errorf("expected confidence 0.24, got %f", res.Confidence)
	}

	// The failed attempt is still recorded.
	events, err := store.ListEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].Success {
		t.Errorf("expected one unsuccessful event, got %+v", events)
	}
}

func TestRecognizeTieDampening(t *testing.T) {
	store := mock.NewStore()
	r, _ := fixture(t, store, map[string][]float64{
		"rex":  {0.80, 0.80, 0.80},
		"luna": {0.78, 0.78, 0.78},
	})

	res, err := r.Recognize(context.Background(), testPhoto(t), "query.jpg", nil)
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	// Scores 0.80 vs 0.78 are within the tie gap: moderate band gives
	// 0.80 * 0.90 = 0.72, dampened to 0.504.
	if math.Abs(res.Confidence-0.504) > 1e-9 {
		t.Errorf("expected dampened confidence 0.504, got %f", res.Confidence)
	}
}

func TestRecognizeConfidenceMonotonic(t *testing.T) {
	var last float64 = -1
	for _, sim := range []float64{0.30, 0.50, 0.72, 0.80, 0.88, 0.95} {
		store := mock.NewStore()
		r, _ := fixture(t, store, map[string][]float64{
			"rex":  {sim, sim, sim},
			"luna": {0.05, 0.05, 0.05},
		})
		res, err := r.Recognize(context.Background(), testPhoto(t), "query.jpg", nil)
		if err != nil {
			t.Fatalf("Recognize failed at sim %.2f: %v", sim, err)
		}
		if res.Confidence < last {
			t.Errorf("confidence not monotonic: sim %.2f gave %f after %f", sim, res.Confidence, last)
		}
		last = res.Confidence
	}
}

func TestRecognizeVerificationHint(t *testing.T) {
	store := mock.NewStore()
	r, ids := fixture(t, store, map[string][]float64{
		"rex":  {0.90, 0.90, 0.90},
		"luna": {0.40, 0.40, 0.40},
	})

	rexID := ids["rex"]
	if _, err := r.Recognize(context.Background(), testPhoto(t), "query.jpg", &rexID); err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	rex, err := store.GetSubject(context.Background(), rexID)
	if err != nil {
		t.Fatalf("GetSubject failed: %v", err)
	}
	if rex.SuccessfulMatches != 1 || rex.FailedMatches != 0 {
		t.Errorf("expected 1 successful match, got %+v", rex)
	}

	// A hint for the wrong subject counts as a failure for that subject.
	lunaID := ids["luna"]
	if _, err := r.Recognize(context.Background(), testPhoto(t), "query.jpg", &lunaID); err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	luna, err := store.GetSubject(context.Background(), lunaID)
	if err != nil {
		t.Fatalf("GetSubject failed: %v", err)
	}
	if luna.FailedMatches != 1 {
		t.Errorf("expected 1 failed match for luna, got %+v", luna)
	}
}

func TestRecognizeNoActiveModel(t *testing.T) {
	store := mock.NewStore()
	art, err := artifacts.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("artifacts.NewStore failed: %v", err)
	}
	r := New(store, art, &fakeExtractor{vec: []float32{1, 0, 0, 0}}, config.RecognitionConfig{MatchThreshold: 0.30})

	if _, err := r.Recognize(context.Background(), testPhoto(t), "query.jpg", nil); !errors.Is(err, database.ErrNoActiveModel) {
		t.Errorf("expected ErrNoActiveModel, got %v", err)
	}
}

func TestRecognizeClassifierFallback(t *testing.T) {
	ctx := context.Background()
	store := mock.NewStore()
	art, err := artifacts.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("artifacts.NewStore failed: %v", err)
	}

	// An active model without raw embeddings in the store: fit and
	// register the artifact by hand.
	subjectID, err := store.CreateSubject(ctx, &database.Subject{Name: "rex", Species: "dog"})
	if err != nil {
		t.Fatalf("CreateSubject failed: %v", err)
	}
	knn := classifier.NewKNN(7)
	samples := []classifier.Sample{
		{SubjectID: subjectID, Embedding: simVec(0.99)},
		{SubjectID: subjectID, Embedding: simVec(0.97)},
		{SubjectID: subjectID + 1, Embedding: simVec(-0.5)},
	}
	if err := knn.Fit(samples); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	data, err := classifier.Encode(knn, classifier.Manifest{Extractor: "testnet", Dim: 4})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if err := art.Save("m.json", data); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	versionID, err := store.CreateVersion(ctx, &database.ClassifierVersion{
		Version: 1, Family: "knn", Extractor: "testnet", ArtifactName: "m.json",
	})
	if err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}
	if err := store.Activate(ctx, versionID); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	r := New(store, art, &fakeExtractor{vec: []float32{1, 0, 0, 0}}, config.RecognitionConfig{MatchThreshold: 0.30})
	res, err := r.Recognize(ctx, testPhoto(t), "query.jpg", nil)
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if !res.Fallback {
		t.Error("expected the classifier-only fallback path")
	}
	if res.Confidence > 0.75 {
		t.Errorf("fallback confidence must not exceed 0.75, got %f", res.Confidence)
	}
	if !res.Matched || *res.SubjectID != subjectID {
		t.Errorf("expected fallback match on subject %d: %+v", subjectID, res)
	}
}
