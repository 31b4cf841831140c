package match

import (
	"math/rand/v2"
	"testing"

	"github.com/arengine/arengine/config"
	"github.com/arengine/arengine/internal/cvprim"
	"github.com/arengine/arengine/internal/extract"
	"github.com/arengine/arengine/internal/geom"
	"github.com/arengine/arengine/internal/memorypool"
	"github.com/arengine/arengine/store"
)

func checkerboardFrame(w, h, shiftX int) memorypool.Frame {
	data := make([]byte, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx := x + shiftX
			v := byte(30)
			if ((sx/8)+(y/8))%2 == 0 {
				v = 220
			}
			data[y*w+x] = v
		}
	}
	return memorypool.Frame{Width: w, Height: h, Type: memorypool.Gray8, Data: data}
}

func newTestMatcher() *Matcher {
	rng := rand.New(rand.NewPCG(9, 11))
	return New(cvprim.FakeMatcher{}, func(n int) int { return rng.IntN(n) })
}

func defaultMatchConfig() Config {
	return Config{RatioThreshold: 0.7, MinInliers: 4, RansacThreshold: 3.0, RansacIterations: 200}
}

func buildTarget(t *testing.T, id store.TargetID, size int) *store.Target {
	t.Helper()
	extractor := extract.New(cvprim.FakeImagePrimitives{}, cvprim.DefaultFakeDetector())
	gray := checkerboardFrame(size, size, 0)
	kps, desc, err := extractor.Extract(gray, config.DefaultPreprocessConfig(), 500)
	if err != nil {
		t.Fatalf("extract target features: %v", err)
	}
	corners := [4]geom.Point{{X: 0, Y: 0}, {X: float64(size), Y: 0}, {X: float64(size), Y: float64(size)}, {X: 0, Y: float64(size)}}
	return &store.Target{ID: id, Width: size, Height: size, Keypoints: kps, Descriptors: desc, Corners: corners}
}

func TestMatchTarget_IdentitySucceeds(t *testing.T) {
	m := newTestMatcher()
	target := buildTarget(t, "t1", 128)

	extractor := extract.New(cvprim.FakeImagePrimitives{}, cvprim.DefaultFakeDetector())
	frameKps, frameDesc, err := extractor.Extract(checkerboardFrame(128, 128, 0), config.DefaultPreprocessConfig(), 500)
	if err != nil {
		t.Fatalf("extract frame features: %v", err)
	}

	res, err := m.MatchTarget(target, frameKps, frameDesc, 128, 128, defaultMatchConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected successful match, got reason %q", res.Reason)
	}
	if res.NInliers < defaultMatchConfig().MinInliers {
		t.Fatalf("expected at least MinInliers inliers, got %d", res.NInliers)
	}
	want := [4]geom.Point{{X: 0, Y: 0}, {X: 128, Y: 0}, {X: 128, Y: 128}, {X: 0, Y: 128}}
	for i, c := range want {
		if abs(res.Corners[i].X-c.X) > 3 || abs(res.Corners[i].Y-c.Y) > 3 {
			t.Fatalf("corner %d: got %+v want %+v", i, res.Corners[i], c)
		}
	}
}

func TestMatchTarget_TooFewMatchesRejected(t *testing.T) {
	m := newTestMatcher()
	// A two-keypoint target can contribute at most two good matches,
	// which is below MinInliers=4 regardless of which frame features
	// the fake KNN matcher pairs them with -- a deterministic way to
	// exercise the "insufficient good matches" rejection path without
	// depending on the fake detector's response surface.
	desc := cvprim.NewDescriptorMatrix(cvprim.Binary, 2, 8)
	target := &store.Target{
		ID:          "sparse",
		Width:       128,
		Height:      128,
		Keypoints:   []cvprim.KeyPoint{{X: 10, Y: 10}, {X: 20, Y: 20}},
		Descriptors: desc,
		Corners:     [4]geom.Point{{X: 0, Y: 0}, {X: 128, Y: 0}, {X: 128, Y: 128}, {X: 0, Y: 128}},
	}

	extractor := extract.New(cvprim.FakeImagePrimitives{}, cvprim.DefaultFakeDetector())
	frameKps, frameDesc, err := extractor.Extract(checkerboardFrame(128, 128, 0), config.DefaultPreprocessConfig(), 500)
	if err != nil {
		t.Fatalf("extract frame features: %v", err)
	}

	res, err := m.MatchTarget(target, frameKps, frameDesc, 128, 128, defaultMatchConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatalf("expected rejection on too few good matches, got %+v", res)
	}
	if res.Reason == "" {
		t.Fatalf("expected a rejection reason to be set")
	}
}

func TestApplyRatioTest_SingleCandidateAlwaysAccepted(t *testing.T) {
	knn := [][]cvprim.MatchCandidate{
		{{QueryIdx: 0, TrainIdx: 5, Distance: 10}},
	}
	got := ApplyRatioTest(knn, 0.7)
	if len(got) != 1 || got[0].targetIdx != 0 || got[0].frameIdx != 5 {
		t.Fatalf("expected the sole candidate accepted unconditionally, got %+v", got)
	}
}

func TestApplyRatioTest_RejectsAmbiguousPair(t *testing.T) {
	knn := [][]cvprim.MatchCandidate{
		{{QueryIdx: 0, TrainIdx: 1, Distance: 9}, {QueryIdx: 0, TrainIdx: 2, Distance: 10}},
	}
	got := ApplyRatioTest(knn, 0.7)
	if len(got) != 0 {
		t.Fatalf("expected an ambiguous (close distances) pair rejected, got %+v", got)
	}
}

func TestApplyRatioTest_IsIdempotent(t *testing.T) {
	knn := [][]cvprim.MatchCandidate{
		{{QueryIdx: 0, TrainIdx: 1, Distance: 1}, {QueryIdx: 0, TrainIdx: 2, Distance: 100}},
		{{QueryIdx: 1, TrainIdx: 3, Distance: 9}, {QueryIdx: 1, TrainIdx: 4, Distance: 10}},
	}
	first := ApplyRatioTest(knn, 0.7)
	second := ApplyRatioTest(knn, 0.7)
	if len(first) != len(second) {
		t.Fatalf("expected idempotent ratio test, got %d then %d", len(first), len(second))
	}
}

func TestMatchMultipleTargets_SortedAndTruncated(t *testing.T) {
	m := newTestMatcher()
	t1 := buildTarget(t, "t1", 96)
	t2 := buildTarget(t, "t2", 128)

	extractor := extract.New(cvprim.FakeImagePrimitives{}, cvprim.DefaultFakeDetector())
	frameKps, frameDesc, err := extractor.Extract(checkerboardFrame(128, 128, 0), config.DefaultPreprocessConfig(), 500)
	if err != nil {
		t.Fatalf("extract frame features: %v", err)
	}

	results, err := m.MatchMultipleTargets([]*store.Target{t1, t2}, frameKps, frameDesc, 128, 128, defaultMatchConfig(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) > 1 {
		t.Fatalf("expected maxResults=1 truncation, got %d", len(results))
	}
	for i := 0; i < len(results)-1; i++ {
		if results[i].Confidence < results[i+1].Confidence {
			t.Fatalf("expected descending confidence order, got %+v", results)
		}
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
