package classifier

// Ensemble averages the kNN and centroid scores. The two members see
// the same training data, so the ensemble only pays for one extra pass.
type Ensemble struct {
	KNN      *KNN      `json:"knn"`
	Centroid *Centroid `json:"centroid"`
}

// NewEnsemble creates an unfitted ensemble.
func NewEnsemble(neighbors int) *Ensemble {
	return &Ensemble{
		KNN:      NewKNN(neighbors),
		Centroid: NewCentroid(),
	}
}

func (e *Ensemble) Family() string { return "ensemble" }

func (e *Ensemble) Hyperparams() map[string]any {
	return map[string]any{
		"members":   []string{"knn", "centroid"},
		"neighbors": e.KNN.K,
	}
}

func (e *Ensemble) Fit(samples []Sample) error {
	if err := e.KNN.Fit(samples); err != nil {
		return err
	}
	return e.Centroid.Fit(samples)
}

// Predict averages the member scores per subject. Subjects missing from
// one member (possible with kNN's local vote) count as score 0 there.
func (e *Ensemble) Predict(query []float32) ([]Prediction, error) {
	knnPreds, err := e.KNN.Predict(query)
	if err != nil {
		return nil, err
	}
	centroidPreds, err := e.Centroid.Predict(query)
	if err != nil {
		return nil, err
	}

	combined := make(map[int64]float64)
	for _, p := range knnPreds {
		combined[p.SubjectID] += p.Score / 2
	}
	for _, p := range centroidPreds {
		combined[p.SubjectID] += p.Score / 2
	}

	preds := make([]Prediction, 0, len(combined))
	for id, s := range combined {
		preds = append(preds, Prediction{SubjectID: id, Score: s})
	}
	sortPredictions(preds)
	return preds, nil
}
