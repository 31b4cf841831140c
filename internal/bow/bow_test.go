package bow

import (
	"testing"

	"github.com/arengine/arengine/config"
	"github.com/arengine/arengine/internal/cvprim"
	"github.com/arengine/arengine/store"
)

func syntheticTarget(id store.TargetID, n int, base byte) BuildTarget {
	kps := make([]cvprim.KeyPoint, n)
	desc := cvprim.NewDescriptorMatrix(cvprim.Binary, n, 8)
	for i := 0; i < n; i++ {
		kps[i] = cvprim.KeyPoint{X: float64(i), Y: float64(i), Response: float64(n - i)}
		row := desc.Row(i)
		for j := range row {
			row[j] = base + byte(i*7+j*3)
		}
	}
	return BuildTarget{ID: id, Keypoints: kps, Descriptors: desc, Width: 100, Height: 100}
}

func testBuildConfig() config.BuildConfig {
	cfg := config.DefaultBuildConfig()
	cfg.MaxVocabWords = 64
	cfg.Seed = 7
	return cfg
}

func TestBuild_WordOffsetsContiguousAndComplete(t *testing.T) {
	targets := []BuildTarget{
		syntheticTarget("a", 40, 0),
		syntheticTarget("b", 40, 50),
		syntheticTarget("c", 40, 120),
	}
	db, err := NewBuilder(1).Build(targets, testBuildConfig(), store.New(), nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	total := 0
	var walk func(n *Node)
	expectedOffset := 0
	walk = func(n *Node) {
		if n.IsLeaf {
			if n.WordOffset != expectedOffset {
				t.Fatalf("leaf word offset %d, expected %d (no gaps)", n.WordOffset, expectedOffset)
			}
			expectedOffset += n.Centers.Rows
			total += n.Centers.Rows
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(db.Tree.Root)
	if total != db.Tree.V {
		t.Fatalf("sum of leaf centers %d != V %d", total, db.Tree.V)
	}
}

func TestIDF_WordInEveryTargetIsZero(t *testing.T) {
	targets := []BuildTarget{
		syntheticTarget("a", 30, 10),
		syntheticTarget("b", 30, 10),
	}
	s := store.New()
	db, err := NewBuilder(2).Build(targets, testBuildConfig(), s, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	ta, _ := s.Get("a")
	for w := range ta.BoW {
		tb, _ := s.Get("b")
		if _, ok := tb.BoW[w]; ok {
			if db.IDF[w] != 0 {
				// Word present in every target (N=2, df=2): idf = ln(3/3) = 0.
				t.Fatalf("expected idf=0 for a word present in all targets, got %f", db.IDF[w])
			}
		}
	}
}

func TestQuantize_DeterministicAndReproducible(t *testing.T) {
	targets := []BuildTarget{syntheticTarget("a", 50, 0), syntheticTarget("b", 50, 80)}
	db, err := NewBuilder(3).Build(targets, testBuildConfig(), store.New(), nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	probe := cvprim.NewDescriptorMatrix(cvprim.Binary, 1, 8)
	copy(probe.Row(0), []byte{1, 2, 3, 4, 5, 6, 7, 8})

	w1 := db.Tree.Quantize(probe, 0)
	w2 := db.Tree.Quantize(probe, 0)
	if w1 != w2 {
		t.Fatalf("expected repeated quantisation of the same descriptor to be identical, got %v vs %v", w1, w2)
	}
	if int(w1) < 0 || int(w1) >= db.Tree.V {
		t.Fatalf("quantised word id %d out of [0,%d)", w1, db.Tree.V)
	}
}

func TestQueryCandidates_StableOrderAcrossRuns(t *testing.T) {
	targets := []BuildTarget{
		syntheticTarget("a", 60, 0),
		syntheticTarget("b", 60, 90),
	}
	s := store.New()
	db, err := NewBuilder(4).Build(targets, testBuildConfig(), s, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	all := s.All()
	frame := syntheticTarget("query", 60, 0).Descriptors

	first := db.QueryCandidates(frame, all, 5)
	second := db.QueryCandidates(frame, all, 5)
	if len(first) != len(second) {
		t.Fatalf("unstable result length")
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("unstable ordering at %d: %v vs %v", i, first[i].ID, second[i].ID)
		}
	}
}

func TestBuild_RejectsMixedDescriptorTypes(t *testing.T) {
	a := syntheticTarget("a", 10, 0)
	b := syntheticTarget("b", 10, 0)
	b.Descriptors = cvprim.NewDescriptorMatrix(cvprim.Float, 10, 4)
	for i := 0; i < 10; i++ {
		b.Descriptors.SetRowFloat(i, []float64{1, 2, 3, 4})
	}
	_, err := NewBuilder(1).Build([]BuildTarget{a, b}, testBuildConfig(), store.New(), nil)
	if err == nil {
		t.Fatalf("expected mixed descriptor types to be rejected")
	}
}
