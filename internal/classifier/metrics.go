package classifier

// metricsMinSamples is the population above which training runs compute
// holdout metrics. Below it the split would be too small to mean
// anything, so Metrics stays empty.
const metricsMinSamples = 20

// holdoutEvery sends one sample in this many per subject to the eval
// split. Deterministic on input order, so repeated training runs over
// an unchanged population report identical metrics.
const holdoutEvery = 5

// Evaluate trains a throwaway classifier of the given family on a
// stratified holdout split and reports weighted metrics on the held-out
// samples. Returns nil when the population is too small or has a single
// class.
func Evaluate(family string, neighbors int, samples []Sample) (map[string]float64, error) {
	classes := make(map[int64]int)
	for _, s := range samples {
		classes[s.SubjectID]++
	}
	if len(samples) <= metricsMinSamples || len(classes) < 2 {
		return nil, nil
	}

	var train, eval []Sample
	seen := make(map[int64]int)
	for _, s := range samples {
		seen[s.SubjectID]++
		// Subjects with a single sample stay in the train split entirely.
		if classes[s.SubjectID] > 1 && seen[s.SubjectID]%holdoutEvery == 0 {
			eval = append(eval, s)
		} else {
			train = append(train, s)
		}
	}
	if len(eval) == 0 {
		return nil, nil
	}

	c, err := New(family, neighbors)
	if err != nil {
		return nil, err
	}
	if err := c.Fit(train); err != nil {
		return nil, err
	}

	// Confusion counts per class over the eval split.
	tp := make(map[int64]int)
	fp := make(map[int64]int)
	fn := make(map[int64]int)
	support := make(map[int64]int)
	correct := 0
	for _, s := range eval {
		preds, err := c.Predict(s.Embedding)
		if err != nil {
			return nil, err
		}
		predicted := preds[0].SubjectID
		support[s.SubjectID]++
		if predicted == s.SubjectID {
			tp[s.SubjectID]++
			correct++
		} else {
			fp[predicted]++
			fn[s.SubjectID]++
		}
	}

	// Support-weighted precision, recall and F1.
	var precision, recall, f1 float64
	for id, n := range support {
		w := float64(n) / float64(len(eval))
		p := safeRatio(tp[id], tp[id]+fp[id])
		r := safeRatio(tp[id], tp[id]+fn[id])
		precision += w * p
		recall += w * r
		if p+r > 0 {
			f1 += w * 2 * p * r / (p + r)
		}
	}

	return map[string]float64{
		"accuracy":     float64(correct) / float64(len(eval)),
		"precision":    precision,
		"recall":       recall,
		"f1":           f1,
		"eval_samples": float64(len(eval)),
	}, nil
}

func safeRatio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
