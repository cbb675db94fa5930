// Package randomforest implements a Random Forest classifier built from
// bootstrapped CART trees with Gini impurity.
package randomforest

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/hed1ad/nidsguard/pkg/classifiers"
)

// Forest is a Random Forest classifier.
type Forest struct {
	mu sync.RWMutex

	// Configuration
	nTrees      int
	maxDepth    int
	minSplit    int
	maxFeatures int
	rng         *rand.Rand

	// Trained model
	trees       []tree
	nFeatures   int
	nClasses    int
	importances []float64
	trained     bool
}

// Option configures a Forest.
type Option func(*Forest)

// WithTrees sets the number of trees.
func WithTrees(n int) Option {
	return func(f *Forest) {
		f.nTrees = n
	}
}

// WithMaxDepth limits tree depth. Zero grows trees until leaves are pure.
func WithMaxDepth(d int) Option {
	return func(f *Forest) {
		f.maxDepth = d
	}
}

// WithMinSamplesSplit sets the minimum node size eligible for splitting.
func WithMinSamplesSplit(n int) Option {
	return func(f *Forest) {
		f.minSplit = n
	}
}

// WithMaxFeatures sets how many features each split considers.
// Zero means the square root of the feature count.
func WithMaxFeatures(n int) Option {
	return func(f *Forest) {
		f.maxFeatures = n
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(f *Forest) {
		f.rng = rand.New(rand.NewSource(seed))
	}
}

// New creates a new Forest with the given options.
func New(opts ...Option) *Forest {
	f := &Forest{
		nTrees:   100,
		minSplit: 2,
		rng:      rand.New(rand.NewSource(42)),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

var _ classifiers.Classifier = (*Forest)(nil)

// Fit trains the forest.
func (f *Forest) Fit(data [][]float64, labels []int, nClasses int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(data) == 0 {
		return errors.New("empty training data")
	}
	if len(labels) != len(data) {
		return fmt.Errorf("%d labels for %d samples", len(labels), len(data))
	}
	if nClasses < 1 {
		return fmt.Errorf("invalid class count %d", nClasses)
	}
	if f.nTrees <= 0 {
		return fmt.Errorf("invalid tree count %d", f.nTrees)
	}

	nFeatures := len(data[0])
	if nFeatures == 0 {
		return errors.New("samples have no features")
	}
	for i, row := range data {
		if len(row) != nFeatures {
			return fmt.Errorf("row %d has %d features, want %d", i, len(row), nFeatures)
		}
		if labels[i] < 0 || labels[i] >= nClasses {
			return fmt.Errorf("row %d has label %d outside [0, %d)", i, labels[i], nClasses)
		}
	}

	maxFeat := f.maxFeatures
	if maxFeat <= 0 {
		maxFeat = int(math.Max(1, math.Floor(math.Sqrt(float64(nFeatures)))))
	}
	if maxFeat > nFeatures {
		maxFeat = nFeatures
	}
	minSplit := max(f.minSplit, 2)

	trees := make([]tree, f.nTrees)
	importances := make([]float64, nFeatures)
	n := len(data)

	for t := range trees {
		// Bootstrap sample with replacement
		idx := make([]int, n)
		for i := range idx {
			idx[i] = f.rng.Intn(n)
		}

		b := &builder{
			data:        data,
			labels:      labels,
			nClasses:    nClasses,
			nFeatures:   nFeatures,
			maxFeat:     maxFeat,
			maxDepth:    f.maxDepth,
			minSplit:    minSplit,
			rng:         f.rng,
			importances: make([]float64, nFeatures),
		}
		b.grow(idx, 0)
		trees[t] = b.tree

		// Per-tree importances are normalized before averaging.
		for j, v := range normalize(b.importances) {
			importances[j] += v
		}
	}

	f.trees = trees
	f.nFeatures = nFeatures
	f.nClasses = nClasses
	f.importances = normalize(importances)
	f.trained = true

	return nil
}

// PredictProba returns the mean leaf class distribution across trees.
func (f *Forest) PredictProba(sample []float64) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, classifiers.ErrNotTrained
	}
	return f.predictProba(sample)
}

func (f *Forest) predictProba(sample []float64) ([]float64, error) {
	if len(sample) != f.nFeatures {
		return nil, fmt.Errorf("sample has %d features, model expects %d", len(sample), f.nFeatures)
	}

	proba := make([]float64, f.nClasses)
	for i := range f.trees {
		for c, p := range f.trees[i].leaf(sample) {
			proba[c] += p
		}
	}
	for c := range proba {
		proba[c] /= float64(len(f.trees))
	}
	return proba, nil
}

// Predict returns the most probable class code.
func (f *Forest) Predict(sample []float64) (int, error) {
	proba, err := f.PredictProba(sample)
	if err != nil {
		return 0, err
	}
	return classifiers.Argmax(proba), nil
}

// PredictAll returns class codes for many samples.
func (f *Forest) PredictAll(data [][]float64) ([]int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, classifiers.ErrNotTrained
	}

	out := make([]int, len(data))
	for i, sample := range data {
		proba, err := f.predictProba(sample)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		out[i] = classifiers.Argmax(proba)
	}
	return out, nil
}

// FeatureImportances returns mean decrease in impurity per feature.
func (f *Forest) FeatureImportances() ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, classifiers.ErrNotTrained
	}
	return append([]float64(nil), f.importances...), nil
}

// NumFeatures returns the input dimension seen during training.
func (f *Forest) NumFeatures() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.nFeatures
}

// NumClasses returns the number of class codes.
func (f *Forest) NumClasses() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.nClasses
}

// snapshot is the gob wire form of a trained forest.
type snapshot struct {
	NTrees      int
	MaxDepth    int
	MinSplit    int
	MaxFeatures int
	NFeatures   int
	NClasses    int
	Importances []float64
	Trees       []tree
}

// Save serializes the trained model.
func (f *Forest) Save() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, classifiers.ErrNotTrained
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(snapshot{
		NTrees:      f.nTrees,
		MaxDepth:    f.maxDepth,
		MinSplit:    f.minSplit,
		MaxFeatures: f.maxFeatures,
		NFeatures:   f.nFeatures,
		NClasses:    f.nClasses,
		Importances: f.importances,
		Trees:       f.trees,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained model.
func (f *Forest) Load(data []byte) error {
	var s snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return fmt.Errorf("decode random forest: %w", err)
	}
	if len(s.Trees) == 0 {
		return errors.New("decode random forest: no trees")
	}
	if len(s.Importances) != s.NFeatures {
		return fmt.Errorf("decode random forest: %d importances for %d features", len(s.Importances), s.NFeatures)
	}
	for i := range s.Trees {
		if err := s.Trees[i].validate(s.NFeatures, s.NClasses); err != nil {
			return fmt.Errorf("decode random forest: tree %d: %w", i, err)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.nTrees = s.NTrees
	f.maxDepth = s.MaxDepth
	f.minSplit = s.MinSplit
	f.maxFeatures = s.MaxFeatures
	f.nFeatures = s.NFeatures
	f.nClasses = s.NClasses
	f.importances = s.Importances
	f.trees = s.Trees
	f.trained = true

	return nil
}
