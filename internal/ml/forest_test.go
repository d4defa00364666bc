package ml

import (
	"math"
	"math/rand"
	"testing"
)

// clusterWithOutlier builds a tight cluster around (10, 10) plus one far
// outlier at (100, 100).
func clusterWithOutlier(rng *rand.Rand, n int) [][]float64 {
	X := make([][]float64, 0, n+1)
	for i := 0; i < n; i++ {
		X = append(X, []float64{10 + rng.Float64(), 10 + rng.Float64()})
	}
	X = append(X, []float64{100, 100})
	return X
}

func TestForest_FitEmptyTrainingSet(t *testing.T) {
	f := NewForest(10, 32, 0.05)
	if err := f.Fit(nil, rand.New(rand.NewSource(1))); err == nil {
		t.Fatal("expected error fitting an empty training set")
	}
}

func TestForest_SeededFitIsDeterministic(t *testing.T) {
	X := clusterWithOutlier(rand.New(rand.NewSource(7)), 200)

	a := NewForest(20, 64, 0.05)
	if err := a.Fit(X, rand.New(rand.NewSource(42))); err != nil {
		t.Fatal(err)
	}
	b := NewForest(20, 64, 0.05)
	if err := b.Fit(X, rand.New(rand.NewSource(42))); err != nil {
		t.Fatal(err)
	}

	if a.Threshold != b.Threshold {
		t.Errorf("thresholds differ across identical seeds: %v vs %v", a.Threshold, b.Threshold)
	}
	for _, x := range X {
		if a.Score(x) != b.Score(x) {
			t.Fatalf("scores differ across identical seeds for %v", x)
		}
	}
}

func TestForest_OutlierScoresAboveClusterPoints(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	X := clusterWithOutlier(rng, 300)

	f := NewForest(50, 128, 0.05)
	if err := f.Fit(X, rng); err != nil {
		t.Fatal(err)
	}

	outlier := f.Score([]float64{100, 100})
	inlier := f.Score([]float64{10.5, 10.5})
	// score = −(mean path); the isolated point has shorter paths, so a
	// larger (less negative) score.
	if outlier <= inlier {
		t.Errorf("expected outlier score %v > inlier score %v", outlier, inlier)
	}

	if _, anomaly := f.Predict([]float64{100, 100}); !anomaly {
		t.Error("expected the far outlier to be predicted anomalous")
	}
	if _, anomaly := f.Predict([]float64{10.5, 10.5}); anomaly {
		t.Error("expected a cluster-center point to be predicted normal")
	}
}

func TestForest_ThresholdIsContaminationPercentile(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	X := clusterWithOutlier(rng, 100)

	f := NewForest(20, 64, 0.05)
	if err := f.Fit(X, rng); err != nil {
		t.Fatal(err)
	}

	scores := f.ScoreSamples(X)
	want := percentile(scores, f.Contamination*100)
	if f.Threshold != want {
		t.Errorf("threshold %v, want percentile %v", f.Threshold, want)
	}
}

func TestForest_PredictBoundaryIsStrict(t *testing.T) {
	f := &Forest{Threshold: -3.0, trees: []isoTree{{root: &treeNode{
		Feature: 0, Split: 0,
		Left:  &treeNode{Feature: -1},
		Right: &treeNode{Feature: -1},
	}}}}
	// Any point has path length 1, so score is exactly -1 > -3.
	if _, anomaly := f.Predict([]float64{1}); !anomaly {
		t.Error("score above threshold must be anomalous")
	}
	f.Threshold = -1.0
	// score == threshold: strictly-greater comparison, not anomalous.
	if _, anomaly := f.Predict([]float64{1}); anomaly {
		t.Error("score equal to threshold must not be anomalous")
	}
}

func TestForest_ConstantFeatureDataYieldsLeafTrees(t *testing.T) {
	X := [][]float64{{5, 5}, {5, 5}, {5, 5}, {5, 5}}
	f := NewForest(5, 4, 0.05)
	if err := f.Fit(X, rand.New(rand.NewSource(1))); err != nil {
		t.Fatal(err)
	}
	// Every split attempt sees min==max, so every tree is a single leaf
	// and every path length is 0.
	if got := f.Score([]float64{5, 5}); got != 0 {
		t.Errorf("expected score 0 on degenerate data, got %v", got)
	}
}

func TestPercentile(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5}
	cases := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{100, 5},
		{50, 3},
		{25, 2},
		{5, 1.2}, // rank 0.2 between 1 and 2
	}
	for _, c := range cases {
		if got := percentile(vals, c.p); math.Abs(got-c.want) > 1e-12 {
			t.Errorf("percentile(%v) = %v, want %v", c.p, got, c.want)
		}
	}
	if got := percentile(nil, 50); got != 0 {
		t.Errorf("percentile of empty slice = %v, want 0", got)
	}
}
