package classifier

import (
	"math"

	"github.com/petvet/biometry/internal/database"
)

// Centroid classifies by cosine similarity to the per-subject mean
// embedding. Cheaper than kNN and more robust to single outlier crops,
// at the cost of ignoring intra-subject structure.
type Centroid struct {
	Centroids map[int64][]float32 `json:"centroids"`
}

// NewCentroid creates an unfitted centroid classifier.
func NewCentroid() *Centroid {
	return &Centroid{}
}

func (c *Centroid) Family() string { return "centroid" }

func (c *Centroid) Hyperparams() map[string]any {
	return map[string]any{"metric": "cosine"}
}

// Fit computes the L2-normalized mean embedding per subject.
func (c *Centroid) Fit(samples []Sample) error {
	sums := make(map[int64][]float64)
	counts := make(map[int64]int)
	for _, s := range samples {
		sum, ok := sums[s.SubjectID]
		if !ok {
			sum = make([]float64, len(s.Embedding))
			sums[s.SubjectID] = sum
		}
		for i, v := range s.Embedding {
			sum[i] += float64(v)
		}
		counts[s.SubjectID]++
	}

	c.Centroids = make(map[int64][]float32, len(sums))
	for id, sum := range sums {
		n := float64(counts[id])
		var norm float64
		for _, v := range sum {
			mean := v / n
			norm += mean * mean
		}
		norm = math.Sqrt(norm)
		centroid := make([]float32, len(sum))
		for i, v := range sum {
			mean := v / n
			if norm > 0 {
				mean /= norm
			}
			centroid[i] = float32(mean)
		}
		c.Centroids[id] = centroid
	}
	return nil
}

// Predict maps similarities into [0, 1] and normalizes them to sum to 1.
func (c *Centroid) Predict(query []float32) ([]Prediction, error) {
	if len(c.Centroids) == 0 {
		return nil, ErrNotFitted
	}

	scores := make(map[int64]float64, len(c.Centroids))
	var total float64
	for id, centroid := range c.Centroids {
		s := (database.CosineSimilarity(query, centroid) + 1) / 2
		scores[id] = s
		total += s
	}
	if total == 0 {
		return nil, ErrNotFitted
	}

	preds := make([]Prediction, 0, len(scores))
	for id, s := range scores {
		preds = append(preds, Prediction{SubjectID: id, Score: s / total})
	}
	sortPredictions(preds)
	return preds, nil
}
