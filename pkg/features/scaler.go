package features

import (
	"errors"
	"fmt"
	"math"
)

// Scaler standardises columns with the mean and population standard
// deviation learned at training time.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitScaler learns per-column mean and scale. Constant columns get scale 1.
func FitScaler(data [][]float64) (*Scaler, error) {
	if len(data) == 0 {
		return nil, errors.New("empty training data")
	}

	dim := len(data[0])
	s := &Scaler{
		Mean:  make([]float64, dim),
		Scale: make([]float64, dim),
	}

	for i, row := range data {
		if len(row) != dim {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrSchemaMismatch, i, len(row), dim)
		}
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	n := float64(len(data))
	for j := range s.Mean {
		s.Mean[j] /= n
	}

	for _, row := range data {
		for j, v := range row {
			d := v - s.Mean[j]
			s.Scale[j] += d * d
		}
	}
	for j := range s.Scale {
		s.Scale[j] = math.Sqrt(s.Scale[j] / n)
		if s.Scale[j] == 0 {
			s.Scale[j] = 1
		}
	}

	return s, nil
}

// Dim returns the number of columns.
func (s *Scaler) Dim() int {
	return len(s.Mean)
}

// Validate checks the parameter vectors.
func (s *Scaler) Validate() error {
	if len(s.Mean) != len(s.Scale) {
		return fmt.Errorf("%w: %d means, %d scales", ErrSchemaMismatch, len(s.Mean), len(s.Scale))
	}
	for j, sc := range s.Scale {
		if sc == 0 || math.IsNaN(sc) || math.IsInf(sc, 0) {
			return fmt.Errorf("invalid scale %v for column %d", sc, j)
		}
	}
	return nil
}

// Transform returns (v - mean) / scale for each column.
func (s *Scaler) Transform(v []float64) ([]float64, error) {
	if len(v) != len(s.Mean) {
		return nil, fmt.Errorf("%w: vector has %d columns, scaler has %d", ErrSchemaMismatch, len(v), len(s.Mean))
	}
	out := make([]float64, len(v))
	for j, x := range v {
		out[j] = (x - s.Mean[j]) / s.Scale[j]
	}
	return out, nil
}

// TransformAll transforms every row.
func (s *Scaler) TransformAll(data [][]float64) ([][]float64, error) {
	out := make([][]float64, len(data))
	for i, row := range data {
		v, err := s.Transform(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
