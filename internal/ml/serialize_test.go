package ml

import (
	"bytes"
	"math/rand"
	"testing"
)

func trainedForest(t *testing.T) (*Forest, [][]float64) {
	t.Helper()
	rng := rand.New(rand.NewSource(9))
	X := clusterWithOutlier(rng, 150)
	f := NewForest(25, 64, 0.05)
	if err := f.Fit(X, rng); err != nil {
		t.Fatal(err)
	}
	return f, X
}

func TestMarshal_RoundTripScoresBitIdentical(t *testing.T) {
	f, X := trainedForest(t)

	blob, err := f.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	g, err := Unmarshal(blob)
	if err != nil {
		t.Fatal(err)
	}

	if g.NEstimators != f.NEstimators || g.SubsampleSize != f.SubsampleSize {
		t.Errorf("params changed: got (%d,%d), want (%d,%d)",
			g.NEstimators, g.SubsampleSize, f.NEstimators, f.SubsampleSize)
	}
	if g.Contamination != f.Contamination || g.Threshold != f.Threshold {
		t.Errorf("contamination/threshold changed: got (%v,%v), want (%v,%v)",
			g.Contamination, g.Threshold, f.Contamination, f.Threshold)
	}

	for _, x := range X {
		if g.Score(x) != f.Score(x) {
			t.Fatalf("score changed after round trip for %v: %v vs %v", x, g.Score(x), f.Score(x))
		}
	}

	// Re-marshaling the decoded forest must reproduce the artifact.
	blob2, err := g.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(blob, blob2) {
		t.Error("re-marshaled artifact differs from original")
	}
}

func TestMarshal_UntrainedForest(t *testing.T) {
	f := NewForest(10, 32, 0.05)
	if _, err := f.Marshal(); err == nil {
		t.Fatal("expected error marshaling an untrained forest")
	}
}

func TestUnmarshal_RejectsGarbage(t *testing.T) {
	cases := map[string][]byte{
		"empty":       nil,
		"short":       []byte("CF"),
		"bad magic":   []byte("XXXX\x01"),
		"bad version": []byte("CFIF\x09"),
	}
	for name, blob := range cases {
		if _, err := Unmarshal(blob); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestUnmarshal_RejectsTruncatedArtifact(t *testing.T) {
	f, _ := trainedForest(t)
	blob, err := f.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []int{len(blob) / 2, len(blob) - 1, 20} {
		if _, err := Unmarshal(blob[:n]); err == nil {
			t.Errorf("truncation to %d bytes: expected error", n)
		}
	}
}
