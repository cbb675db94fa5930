package randomforest

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

// tree is a CART tree stored as a flat node slice; index 0 is the root.
type tree struct {
	Nodes []treeNode
}

// treeNode is a split (Left >= 0) or a leaf carrying class probabilities.
type treeNode struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     []float64
}

func (n *treeNode) isLeaf() bool {
	return n.Left < 0
}

// leaf returns the class distribution for a sample.
func (t *tree) leaf(sample []float64) []float64 {
	n := &t.Nodes[0]
	for !n.isLeaf() {
		if sample[n.Feature] <= n.Threshold {
			n = &t.Nodes[n.Left]
		} else {
			n = &t.Nodes[n.Right]
		}
	}
	return n.Value
}

func (t *tree) validate(nFeatures, nClasses int) error {
	if len(t.Nodes) == 0 {
		return errors.New("empty tree")
	}
	for i, n := range t.Nodes {
		if n.isLeaf() {
			if len(n.Value) != nClasses {
				return fmt.Errorf("leaf %d has %d classes, want %d", i, len(n.Value), nClasses)
			}
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

// builder grows one tree from a bootstrap sample.
type builder struct {
	data      [][]float64
	labels    []int
	nClasses  int
	nFeatures int
	maxFeat   int
	maxDepth  int
	minSplit  int
	rng       *rand.Rand

	tree        tree
	importances []float64
}

type valueLabel struct {
	value float64
	label int
}

func (b *builder) grow(idx []int, depth int) int {
	counts := make([]float64, b.nClasses)
	for _, i := range idx {
		counts[b.labels[i]]++
	}

	at := len(b.tree.Nodes)
	b.tree.Nodes = append(b.tree.Nodes, treeNode{Left: -1, Right: -1, Value: normalize(counts)})

	if len(idx) < b.minSplit || (b.maxDepth > 0 && depth >= b.maxDepth) || isPure(counts) {
		return at
	}

	feature, threshold, gain, ok := b.bestSplit(idx, counts)
	if !ok {
		return at
	}

	var left, right []int
	for _, i := range idx {
		if b.data[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return at
	}
	b.importances[feature] += gain

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.tree.Nodes[at] = treeNode{Feature: feature, Threshold: threshold, Left: l, Right: r}
	return at
}

// bestSplit searches a random subset of features for the split with the
// largest weighted Gini decrease.
func (b *builder) bestSplit(idx []int, counts []float64) (feature int, threshold, gain float64, ok bool) {
	n := float64(len(idx))
	parent := n * gini(counts, n)

	pairs := make([]valueLabel, len(idx))
	left := make([]float64, b.nClasses)
	right := make([]float64, b.nClasses)

	for _, f := range b.rng.Perm(b.nFeatures)[:b.maxFeat] {
		for k, i := range idx {
			pairs[k] = valueLabel{value: b.data[i][f], label: b.labels[i]}
		}
		sort.Slice(pairs, func(a, c int) bool { return pairs[a].value < pairs[c].value })
		if pairs[0].value == pairs[len(pairs)-1].value {
			continue
		}

		for c := range left {
			left[c] = 0
			right[c] = counts[c]
		}
		for k := 0; k < len(pairs)-1; k++ {
			left[pairs[k].label]++
			right[pairs[k].label]--
			if pairs[k].value == pairs[k+1].value {
				continue
			}
			nl := float64(k + 1)
			nr := n - nl
			g := parent - nl*gini(left, nl) - nr*gini(right, nr)
			if g > gain+1e-12 {
				feature = f
				threshold = pairs[k].value + (pairs[k+1].value-pairs[k].value)/2
				if threshold >= pairs[k+1].value {
					threshold = pairs[k].value
				}
				gain = g
				ok = true
			}
		}
	}
	return feature, threshold, gain, ok
}

func gini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range counts {
		p := c / n
		sum += p * p
	}
	return 1 - sum
}

func isPure(counts []float64) bool {
	nonzero := 0
	for _, c := range counts {
		if c > 0 {
			nonzero++
		}
	}
	return nonzero <= 1
}

func normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	var sum float64
	for _, x := range v {
		sum += x
	}
	if sum == 0 {
		return out
	}
	for i, x := range v {
		out[i] = x / sum
	}
	return out
}
