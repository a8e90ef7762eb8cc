package classifier

import (
	"errors"
	"math"
	"testing"
)

// clusterVec builds a unit vector near the given axis, perturbed
// deterministically by j so samples of one subject form a tight cluster.
func clusterVec(axis, j int) []float32 {
	v := make([]float64, 4)
	v[axis] = 1
	v[3] += 0.05 * float64(j%3)
	v[(axis+1)%3] += 0.03 * float64(j%2)

	var norm float64
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x / norm)
	}
	return out
}

// clusteredSamples produces n samples per subject for subjects 1..classes,
// each subject clustered around its own axis.
func clusteredSamples(classes, n int) []Sample {
	var samples []Sample
	for c := 0; c < classes; c++ {
		for j := 0; j < n; j++ {
			samples = append(samples, Sample{
				SubjectID: int64(c + 1),
				Embedding: clusterVec(c, j),
			})
		}
	}
	return samples
}

func assertScoresSumToOne(t *testing.T, preds []Prediction) {
	t.Helper()
	var sum float64
	for _, p := range preds {
		sum += p.Score
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("scores should sum to 1, got %f", sum)
	}
}

func TestKNNPredictsNearestCluster(t *testing.T) {
	k := NewKNN(7)
	if err := k.Fit(clusteredSamples(3, 6)); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	preds, err := k.Predict(clusterVec(1, 99))
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if preds[0].SubjectID != 2 {
		t.Errorf("expected subject 2 on top, got %d", preds[0].SubjectID)
	}
	assertScoresSumToOne(t, preds)
}

func TestKNNPredictSortedDescending(t *testing.T) {
	k := NewKNN(7)
	if err := k.Fit(clusteredSamples(3, 6)); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	preds, err := k.Predict(clusterVec(0, 1))
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	for i := 1; i < len(preds); i++ {
		if preds[i].Score > preds[i-1].Score {
			t.Errorf("predictions not sorted at %d: %v", i, preds)
		}
	}
}

func TestKNNUnfitted(t *testing.T) {
	k := NewKNN(7)
	if _, err := k.Predict(clusterVec(0, 0)); !errors.Is(err, ErrNotFitted) {
		t.Errorf("expected ErrNotFitted, got %v", err)
	}
}

func TestCentroidPredictsNearestCluster(t *testing.T) {
	c := NewCentroid()
	if err := c.Fit(clusteredSamples(3, 6)); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	preds, err := c.Predict(clusterVec(2, 42))
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if preds[0].SubjectID != 3 {
		t.Errorf("expected subject 3 on top, got %d", preds[0].SubjectID)
	}
	assertScoresSumToOne(t, preds)
}

func TestEnsemblePredictsNearestCluster(t *testing.T) {
	e := NewEnsemble(7)
	if err := e.Fit(clusteredSamples(3, 6)); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	preds, err := e.Predict(clusterVec(0, 7))
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if preds[0].SubjectID != 1 {
		t.Errorf("expected subject 1 on top, got %d", preds[0].SubjectID)
	}
	assertScoresSumToOne(t, preds)
}

func TestNewUnknownFamily(t *testing.T) {
	if _, err := New("svm", 7); !errors.Is(err, ErrUnknownFamily) {
		t.Errorf("expected ErrUnknownFamily, got %v", err)
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	for _, family := range []string{"knn", "centroid", "ensemble"} {
		t.Run(family, func(t *testing.T) {
			orig, err := New(family, 7)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if err := orig.Fit(clusteredSamples(3, 6)); err != nil {
				t.Fatalf("Fit failed: %v", err)
			}

			data, err := Encode(orig, Manifest{Extractor: "testnet", Dim: 4})
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			decoded, manifest, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if manifest.Family != family || manifest.Extractor != "testnet" || manifest.Dim != 4 {
				t.Errorf("unexpected manifest: %+v", manifest)
			}

			query := clusterVec(1, 13)
			origPreds, err := orig.Predict(query)
			if err != nil {
				t.Fatalf("Predict on original failed: %v", err)
			}
			decodedPreds, err := decoded.Predict(query)
			if err != nil {
				t.Fatalf("Predict on decoded failed: %v", err)
			}
			if len(origPreds) != len(decodedPreds) {
				t.Fatalf("prediction count mismatch: %d vs %d", len(origPreds), len(decodedPreds))
			}
			for i := range origPreds {
				if origPreds[i].SubjectID != decodedPreds[i].SubjectID {
					t.Errorf("subject order mismatch at %d", i)
				}
				if math.Abs(origPreds[i].Score-decodedPreds[i].Score) > 1e-6 {
					t.Errorf("score mismatch at %d: %f vs %f", i, origPreds[i].Score, decodedPreds[i].Score)
				}
			}
		})
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	if _, _, err := Decode([]byte("not json")); err == nil {
		t.Error("expected error for garbage input")
	}
	if _, _, err := Decode([]byte(`{"format_version":99,"family":"knn","model":{}}`)); err == nil {
		t.Error("expected error for unknown format version")
	}
}

func TestEvaluateSkipsSmallPopulations(t *testing.T) {
	// 18 samples, under the threshold.
	metrics, err := Evaluate("knn", 7, clusteredSamples(3, 6))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if metrics != nil {
		t.Errorf("expected no metrics for small population, got %v", metrics)
	}

	// Plenty of samples but a single class.
	metrics, err = Evaluate("knn", 7, clusteredSamples(1, 30))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if metrics != nil {
		t.Errorf("expected no metrics for single class, got %v", metrics)
	}
}

func TestEvaluateSeparableClusters(t *testing.T) {
	metrics, err := Evaluate("knn", 7, clusteredSamples(3, 10))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if metrics == nil {
		t.Fatal("expected metrics for 30 samples over 3 classes")
	}
	for _, key := range []string{"accuracy", "precision", "recall", "f1"} {
		if metrics[key] != 1.0 {
			t.Errorf("expected %s = 1.0 on separable clusters, got %f", key, metrics[key])
		}
	}
	if metrics["eval_samples"] == 0 {
		t.Error("expected a non-empty eval split")
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	samples := clusteredSamples(3, 10)
	first, err := Evaluate("centroid", 7, samples)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	second, err := Evaluate("centroid", 7, samples)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	for key, v := range first {
		if second[key] != v {
			t.Errorf("metric %s differs between runs: %f vs %f", key, v, second[key])
		}
	}
}
