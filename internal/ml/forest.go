package ml

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

// Default forest parameters, matching the trained artifacts in the field.
const (
	DefaultEstimators    = 100
	DefaultSubsample     = 256
	DefaultContamination = 0.05
)

// treeNode is one node of an isolation tree. Leaves have Feature == -1.
type treeNode struct {
	Feature int32
	Split   float64
	Left    *treeNode
	Right   *treeNode
}

func (n *treeNode) isLeaf() bool { return n.Feature < 0 }

// isoTree is a single isolation tree.
type isoTree struct {
	root *treeNode
}

// pathLength returns the depth of the leaf reached by x.
// No leaf-size correction is applied.
func (t *isoTree) pathLength(x []float64) int {
	depth := 0
	node := t.root
	for node != nil && !node.isLeaf() {
		if x[node.Feature] <= node.Split {
			node = node.Left
		} else {
			node = node.Right
		}
		depth++
	}
	return depth
}

// Forest is an isolation forest: NEstimators trees each grown on an
// independent subsample of the training set. Scores follow the
// convention score = −(mean path length): more anomalous points score
// closer to zero (larger).
type Forest struct {
	NEstimators   int
	SubsampleSize int
	Contamination float64
	Threshold     float64

	trees []isoTree
}

// NewForest creates an untrained forest with the given parameters.
// Non-positive values select the defaults.
func NewForest(nEstimators, subsampleSize int, contamination float64) *Forest {
	if nEstimators <= 0 {
		nEstimators = DefaultEstimators
	}
	if subsampleSize <= 0 {
		subsampleSize = DefaultSubsample
	}
	if contamination <= 0 {
		contamination = DefaultContamination
	}
	return &Forest{
		NEstimators:   nEstimators,
		SubsampleSize: subsampleSize,
		Contamination: contamination,
	}
}

// Fit trains the forest on X and derives the anomaly threshold as the
// contamination-percentile of the training scores. rng drives every
// random choice, so a fixed seed yields a reproducible forest.
func (f *Forest) Fit(X [][]float64, rng *rand.Rand) error {
	n := len(X)
	if n == 0 {
		return errors.New("isolation forest: empty training set")
	}

	sub := f.SubsampleSize
	if sub > n {
		sub = n
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sub))))
	if maxDepth < 1 {
		maxDepth = 1
	}

	f.trees = make([]isoTree, f.NEstimators)
	for i := 0; i < f.NEstimators; i++ {
		idx := rng.Perm(n)[:sub]
		subset := make([][]float64, sub)
		for j, k := range idx {
			subset[j] = X[k]
		}
		f.trees[i] = isoTree{root: buildTree(subset, 0, maxDepth, rng)}
	}

	scores := f.ScoreSamples(X)
	f.Threshold = percentile(scores, f.Contamination*100)
	return nil
}

// buildTree grows one isolation tree recursively. A leaf is produced
// when depth reaches maxDepth, the subset has at most one point, the
// chosen feature is constant across the subset, or a split would leave
// one side empty.
func buildTree(X [][]float64, depth, maxDepth int, rng *rand.Rand) *treeNode {
	if depth >= maxDepth || len(X) <= 1 {
		return &treeNode{Feature: -1}
	}

	nFeatures := len(X[0])
	feature := rng.Intn(nFeatures)

	minV, maxV := X[0][feature], X[0][feature]
	for _, row := range X[1:] {
		v := row[feature]
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	if minV == maxV {
		return &treeNode{Feature: -1}
	}

	split := minV + rng.Float64()*(maxV-minV)

	var left, right [][]float64
	for _, row := range X {
		if row[feature] <= split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &treeNode{Feature: -1}
	}

	return &treeNode{
		Feature: int32(feature),
		Split:   split,
		Left:    buildTree(left, depth+1, maxDepth, rng),
		Right:   buildTree(right, depth+1, maxDepth, rng),
	}
}

// Score returns the anomaly score of one point: the negated mean path
// length across all trees.
func (f *Forest) Score(x []float64) float64 {
	if len(f.trees) == 0 {
		return 0
	}
	total := 0
	for i := range f.trees {
		total += f.trees[i].pathLength(x)
	}
	return -float64(total) / float64(len(f.trees))
}

// ScoreSamples scores each row of X.
func (f *Forest) ScoreSamples(X [][]float64) []float64 {
	scores := make([]float64, len(X))
	for i, x := range X {
		scores[i] = f.Score(x)
	}
	return scores
}

// Predict reports whether x is an anomaly: score strictly above the
// trained threshold.
func (f *Forest) Predict(x []float64) (score float64, anomaly bool) {
	score = f.Score(x)
	return score, score > f.Threshold
}

// percentile computes the p-th percentile of values with linear
// interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	frac := rank - float64(lo)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
