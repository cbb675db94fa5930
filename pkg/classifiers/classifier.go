// Package classifiers provides supervised multi-class classifiers.
package classifiers

import "errors"

// ErrNotTrained is returned when a classifier is used before Fit or Load.
var ErrNotTrained = errors.New("model not trained")

// Classifier is the common interface for multi-class classifiers.
// Labels are integer codes in [0, nClasses).
type Classifier interface {
	// Fit trains the classifier. data rows are samples, labels[i] is the
	// class code of data[i].
	Fit(data [][]float64, labels []int, nClasses int) error

	// PredictProba returns one probability per class code.
	PredictProba(sample []float64) ([]float64, error)

	// Predict returns the most probable class code.
	Predict(sample []float64) (int, error)

	// FeatureImportances returns one non-negative weight per input column,
	// summing to 1.
	FeatureImportances() ([]float64, error)

	// Save serializes the trained model to bytes.
	Save() ([]byte, error)

	// Load deserializes a trained model from bytes.
	Load(data []byte) error
}

// Argmax returns the index of the largest value. Ties resolve to the lowest index.
func Argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
