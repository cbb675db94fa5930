// Package iforest implements the Isolation Forest algorithm for anomaly detection.
package iforest

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/hed1ad/nidsguard/pkg/detectors"
)

const eulerGamma = 0.5772156649

var _ detectors.Detector = (*IsolationForest)(nil)

// IsolationForest implements unsupervised anomaly detection using isolation trees.
type IsolationForest struct {
	mu sync.RWMutex

	// Configuration
	nTrees        int
	sampleSize    int
	contamination float64
	threshold     float64
	maxDepth      int
	rng           *rand.Rand

	// Trained model
	trees     []iTree
	nFeatures int
	trained   bool

	// Statistics from training
	avgPathLength float64
}

// iTree is an isolation tree stored as a flat node slice; index 0 is the root.
type iTree struct {
	Nodes []node
}

// node is a node in the isolation tree. Leaves have Left == -1.
type node struct {
	Feature int
	Split   float64
	Left    int
	Right   int
	// Size is the number of training samples that reached a leaf.
	Size int
}

func (n *node) isLeaf() bool {
	return n.Left < 0
}

// Option configures an IsolationForest.
type Option func(*IsolationForest)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(f *IsolationForest) {
		f.nTrees = n
	}
}

// WithSampleSize sets the subsample size for each tree.
func WithSampleSize(n int) Option {
	return func(f *IsolationForest) {
		f.sampleSize = n
	}
}

// WithContamination sets the expected proportion of anomalies.
// Zero keeps the fixed threshold.
func WithContamination(c float64) Option {
	return func(f *IsolationForest) {
		f.contamination = c
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(f *IsolationForest) {
		f.rng = rand.New(rand.NewSource(seed))
	}
}

// New creates a new IsolationForest with the given options.
func New(opts ...Option) *IsolationForest {
	cfg := detectors.DefaultConfig()
	f := &IsolationForest{
		nTrees:        100,
		sampleSize:    256,
		contamination: cfg.Contamination,
		threshold:     cfg.Threshold,
		rng:           rand.New(rand.NewSource(cfg.RandomSeed)),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fit trains the Isolation Forest on the provided data.
func (f *IsolationForest) Fit(data [][]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(data) == 0 {
		return errors.New("empty training data")
	}
	if f.nTrees <= 0 || f.sampleSize <= 0 {
		return fmt.Errorf("invalid configuration: trees=%d sample size=%d", f.nTrees, f.sampleSize)
	}

	nSamples := len(data)
	nFeatures := len(data[0])
	for i, row := range data {
		if len(row) != nFeatures {
			return fmt.Errorf("row %d has %d features, want %d", i, len(row), nFeatures)
		}
	}

	// Adjust sample size if needed
	sampleSize := f.sampleSize
	if sampleSize > nSamples {
		sampleSize = nSamples
	}
	f.maxDepth = int(math.Ceil(math.Log2(float64(max(sampleSize, 2)))))

	// Build trees
	f.trees = make([]iTree, f.nTrees)
	for i := 0; i < f.nTrees; i++ {
		// Sample without replacement
		indices := f.rng.Perm(nSamples)[:sampleSize]
		sample := make([][]float64, sampleSize)
		for j, idx := range indices {
			sample[j] = data[idx]
		}

		var t iTree
		t.grow(f, sample, nFeatures, 0)
		f.trees[i] = t
	}

	// Calculate average path length for normalization
	f.avgPathLength = averagePathLength(float64(sampleSize))
	f.nFeatures = nFeatures
	f.trained = true

	// Set threshold based on contamination
	if f.contamination > 0 {
		scores, err := f.predict(data)
		if err != nil {
			return err
		}
		f.threshold = percentile(scores, 100*(1-f.contamination))
	}

	return nil
}

// grow appends the subtree for data and returns its index.
func (t *iTree) grow(f *IsolationForest, data [][]float64, nFeatures, depth int) int {
	idx := len(t.Nodes)
	t.Nodes = append(t.Nodes, node{Left: -1, Right: -1, Size: len(data)})

	// Terminal conditions
	if depth >= f.maxDepth || len(data) <= 1 {
		return idx
	}

	// Random feature and split value
	feature := f.rng.Intn(nFeatures)

	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		minVal = math.Min(minVal, row[feature])
		maxVal = math.Max(maxVal, row[feature])
	}

	// If all values are the same, this stays a leaf
	if minVal == maxVal {
		return idx
	}

	split := minVal + f.rng.Float64()*(maxVal-minVal)

	var leftData, rightData [][]float64
	for _, row := range data {
		if row[feature] < split {
			leftData = append(leftData, row)
		} else {
			rightData = append(rightData, row)
		}
	}

	left := t.grow(f, leftData, nFeatures, depth+1)
	right := t.grow(f, rightData, nFeatures, depth+1)
	t.Nodes[idx] = node{Feature: feature, Split: split, Left: left, Right: right}
	return idx
}

// pathLength calculates the path length for a sample in a tree.
func (t *iTree) pathLength(sample []float64) float64 {
	depth := 0
	n := &t.Nodes[0]
	for !n.isLeaf() {
		if sample[n.Feature] < n.Split {
			n = &t.Nodes[n.Left]
		} else {
			n = &t.Nodes[n.Right]
		}
		depth++
	}
	// Leaf node: add expected path length for remaining isolation
	return float64(depth) + averagePathLength(float64(n.Size))
}

// Predict returns anomaly scores for the given samples.
func (f *IsolationForest) Predict(data [][]float64) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, detectors.ErrNotTrained
	}

	return f.predict(data)
}

func (f *IsolationForest) predict(data [][]float64) ([]float64, error) {
	scores := make([]float64, len(data))

	for i, sample := range data {
		score, err := f.predictOne(sample)
		if err != nil {
			return nil, err
		}
		scores[i] = score
	}

	return scores, nil
}

// Decide scores a sample and compares it with the trained threshold.
func (f *IsolationForest) Decide(sample []float64) (detectors.Score, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return detectors.Score{}, detectors.ErrNotTrained
	}

	value, err := f.predictOne(sample)
	if err != nil {
		return detectors.Score{}, err
	}
	return detectors.NewScore(value, f.threshold), nil
}

func (f *IsolationForest) predictOne(sample []float64) (float64, error) {
	if len(sample) != f.nFeatures {
		return 0, fmt.Errorf("sample has %d features, model expects %d", len(sample), f.nFeatures)
	}

	// Average path length across all trees
	var totalPath float64
	for i := range f.trees {
		totalPath += f.trees[i].pathLength(sample)
	}
	avgPath := totalPath / float64(len(f.trees))

	if f.avgPathLength == 0 {
		return 0.5, nil
	}

	// Anomaly score: 2^(-avgPath / c(n))
	// Higher score = more anomalous
	return math.Pow(2, -avgPath/f.avgPathLength), nil
}

// averagePathLength returns the average path length of unsuccessful search in BST.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	// c(n) = 2*H(n-1) - 2*(n-1)/n, where H(i) ~ ln(i) + gamma
	return 2*(math.Log(n-1)+eulerGamma) - 2*(n-1)/n
}

// NumFeatures returns the input dimension seen during training.
func (f *IsolationForest) NumFeatures() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.nFeatures
}

// snapshot is the gob wire form of a trained forest.
type snapshot struct {
	NTrees        int
	SampleSize    int
	Contamination float64
	Threshold     float64
	AvgPathLength float64
	NFeatures     int
	Trees         []iTree
}

// Save serializes the trained model.
func (f *IsolationForest) Save() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, detectors.ErrNotTrained
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(snapshot{
		NTrees:        f.nTrees,
		SampleSize:    f.sampleSize,
		Contamination: f.contamination,
		Threshold:     f.threshold,
		AvgPathLength: f.avgPathLength,
		NFeatures:     f.nFeatures,
		Trees:         f.trees,
	})
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Load deserializes a trained model.
func (f *IsolationForest) Load(data []byte) error {
	var s snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return fmt.Errorf("decode isolation forest: %w", err)
	}
	if len(s.Trees) == 0 {
		return errors.New("decode isolation forest: no trees")
	}
	for i, t := range s.Trees {
		if err := t.validate(s.NFeatures); err != nil {
			return fmt.Errorf("decode isolation forest: tree %d: %w", i, err)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.nTrees = s.NTrees
	f.sampleSize = s.SampleSize
	f.contamination = s.Contamination
	f.threshold = s.Threshold
	f.avgPathLength = s.AvgPathLength
	f.nFeatures = s.NFeatures
	f.trees = s.Trees
	f.maxDepth = int(math.Ceil(math.Log2(float64(max(f.sampleSize, 2)))))
	f.trained = true

	return nil
}

func (t *iTree) validate(nFeatures int) error {
	if len(t.Nodes) == 0 {
		return errors.New("empty tree")
	}
	for i, n := range t.Nodes {
		if n.isLeaf() {
			continue
		}
		if n.Left <= i || n.Right <= i || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d has invalid children", i)
		}
		if n.Feature < 0 || n.Feature >= nFeatures {
			return fmt.Errorf("node %d splits on feature %d", i, n.Feature)
		}
	}
	return nil
}

// Threshold returns the current anomaly threshold.
func (f *IsolationForest) Threshold() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.threshold
}

// percentile calculates the p-th percentile of the data with linear
// interpolation between closest ranks.
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}

	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)

	rank := float64(len(sorted)-1) * p / 100
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (rank-float64(lo))*(sorted[hi]-sorted[lo])
}
