package training

// ClassMetrics are per-class classification metrics.
type ClassMetrics struct {
	Class     string
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// ClassificationReport summarises multi-class predictions.
type ClassificationReport struct {
	Classes     []ClassMetrics
	Accuracy    float64
	MacroAvg    ClassMetrics
	WeightedAvg ClassMetrics
	Total       int
}

// BinaryMetrics summarise a binary detector against ground truth.
type BinaryMetrics struct {
	Accuracy  float64
	Precision float64
	Recall    float64
	F1        float64
}

// ConfusionMatrix counts truth (rows) against prediction (columns).
func ConfusionMatrix(truth, pred []int, nClasses int) [][]int {
	m := make([][]int, nClasses)
	for i := range m {
		m[i] = make([]int, nClasses)
	}
	for i := range truth {
		m[truth[i]][pred[i]]++
	}
	return m
}

// Classify computes per-class and averaged metrics. Undefined ratios are 0.
func Classify(truth, pred []int, classes []string) ClassificationReport {
	cm := ConfusionMatrix(truth, pred, len(classes))
	r := ClassificationReport{Total: len(truth)}

	correct := 0
	for c, name := range classes {
		tp := cm[c][c]
		correct += tp

		support, predicted := 0, 0
		for k := range classes {
			support += cm[c][k]
			predicted += cm[k][c]
		}

		m := ClassMetrics{
			Class:     name,
			Precision: ratio(tp, predicted),
			Recall:    ratio(tp, support),
			Support:   support,
		}
		m.F1 = harmonic(m.Precision, m.Recall)
		r.Classes = append(r.Classes, m)

		r.MacroAvg.Precision += m.Precision
		r.MacroAvg.Recall += m.Recall
		r.MacroAvg.F1 += m.F1
		w := float64(support)
		r.WeightedAvg.Precision += w * m.Precision
		r.WeightedAvg.Recall += w * m.Recall
		r.WeightedAvg.F1 += w * m.F1
	}

	r.Accuracy = ratio(correct, r.Total)
	if n := float64(len(classes)); n > 0 {
		r.MacroAvg.Precision /= n
		r.MacroAvg.Recall /= n
		r.MacroAvg.F1 /= n
	}
	if r.Total > 0 {
		t := float64(r.Total)
		r.WeightedAvg.Precision /= t
		r.WeightedAvg.Recall /= t
		r.WeightedAvg.F1 /= t
	}
	r.MacroAvg.Class, r.MacroAvg.Support = "macro avg", r.Total
	r.WeightedAvg.Class, r.WeightedAvg.Support = "weighted avg", r.Total
	return r
}

// Binary computes detection metrics where true marks the positive class.
func Binary(truth, pred []bool) BinaryMetrics {
	var tp, fp, tn, fn int
	for i := range truth {
		switch {
		case truth[i] && pred[i]:
			tp++
		case !truth[i] && pred[i]:
			fp++
		case !truth[i] && !pred[i]:
			tn++
		default:
			fn++
		}
	}
	m := BinaryMetrics{
		Accuracy:  ratio(tp+tn, len(truth)),
		Precision: ratio(tp, tp+fp),
		Recall:    ratio(tp, tp+fn),
	}
	m.F1 = harmonic(m.Precision, m.Recall)
	return m
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

func harmonic(p, r float64) float64 {
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}
