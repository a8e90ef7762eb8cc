package classifier

import (
	"encoding/json"
	"sort"

	"github.com/coder/hnsw"

	"github.com/petvet/biometry/internal/database"
)

// hnswMaxNeighbors is the M parameter of the HNSW graph.
const hnswMaxNeighbors = 16

// distanceEpsilon keeps exact matches (distance 0) from producing
// infinite weights.
const distanceEpsilon = 1e-8

// KNN is a distance-weighted k-nearest-neighbors classifier over cosine
// distance. Neighbor lookup goes through an in-memory HNSW graph that is
// rebuilt from the samples on load, never serialized.
type KNN struct {
	K       int      `json:"k"`
	Samples []Sample `json:"samples"`

	graph *hnsw.Graph[int]
}

// NewKNN creates an unfitted kNN classifier.
func NewKNN(k int) *KNN {
	return &KNN{K: k}
}

func (k *KNN) Family() string { return "knn" }

func (k *KNN) Hyperparams() map[string]any {
	return map[string]any{
		"neighbors": k.K,
		"weighting": "distance",
		"metric":    "cosine",
	}
}

// Fit stores the samples and builds the neighbor graph.
func (k *KNN) Fit(samples []Sample) error {
	k.Samples = make([]Sample, len(samples))
	copy(k.Samples, samples)
	k.buildGraph()
	return nil
}

func (k *KNN) buildGraph() {
	if len(k.Samples) == 0 {
		k.graph = nil
		return
	}
	g := hnsw.NewGraph[int]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.Distance = hnsw.CosineDistance
	for i := range k.Samples {
		g.Add(hnsw.MakeNode(i, k.Samples[i].Embedding))
	}
	k.graph = g
}

// Predict returns distance-weighted votes normalized over all subjects.
func (k *KNN) Predict(query []float32) ([]Prediction, error) {
	if k.graph == nil || len(k.Samples) == 0 {
		return nil, ErrNotFitted
	}

	n := k.K
	if n > len(k.Samples) {
		n = len(k.Samples)
	}
	neighbors := k.graph.Search(query, n)

	votes := make(map[int64]float64)
	var total float64
	for _, node := range neighbors {
		sample := k.Samples[node.Key]
		dist := database.CosineDistance(query, sample.Embedding)
		w := 1.0 / (dist + distanceEpsilon)
		votes[sample.SubjectID] += w
		total += w
	}
	if total == 0 {
		return nil, ErrNotFitted
	}

	preds := make([]Prediction, 0, len(votes))
	for id, w := range votes {
		preds = append(preds, Prediction{SubjectID: id, Score: w / total})
	}
	sortPredictions(preds)
	return preds, nil
}

// UnmarshalJSON restores the samples and rebuilds the neighbor graph.
func (k *KNN) UnmarshalJSON(data []byte) error {
	type plain KNN
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	k.K = p.K
	k.Samples = p.Samples
	k.buildGraph()
	return nil
}

// sortPredictions orders by score descending, subject ID ascending as a
// stable tiebreak.
func sortPredictions(preds []Prediction) {
	sort.Slice(preds, func(i, j int) bool {
		if preds[i].Score != preds[j].Score {
			return preds[i].Score > preds[j].Score
		}
		return preds[i].SubjectID < preds[j].SubjectID
	})
}
