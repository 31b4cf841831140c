// Package match implements C6, FeatureMatcher: KNN match, Lowe ratio
// test, RANSAC homography, geometric validation, and confidence
// scoring between a target's descriptors and a frame's.
//
// matchScore/geometryScore follows a weighted-sum scoring composition,
// and acceptance decisions are returned as a (bool, reason) pair for
// per-target match acceptance.
package match

import (
	"math"
	"sort"

	"github.com/arengine/arengine/errors"
	"github.com/arengine/arengine/internal/cvprim"
	"github.com/arengine/arengine/internal/geom"
	"github.com/arengine/arengine/store"
)

// Config groups the matching/homography thresholds EngineConfig
// exposes.
type Config struct {
	RatioThreshold   float64
	MinInliers       int
	RansacThreshold  float64
	RansacIterations int
}

// Result is one target's match attempt outcome.
type Result struct {
	TargetID   store.TargetID
	Success    bool
	Corners    [4]geom.Point
	Confidence float64
	NInliers   int
	NMatches   int
	Reason     string
}

// Matcher wires an injected KNN matcher and a RANSAC sample source.
type Matcher struct {
	KNN cvprim.Matcher
	RNG func(n int) int
}

// New returns a Matcher over the given injected primitive. rng draws
// a uniform index in [0,n); pass a seeded generator for deterministic
// tests.
func New(knn cvprim.Matcher, rng func(n int) int) *Matcher {
	return &Matcher{KNN: knn, RNG: rng}
}

// goodMatch is one accepted correspondence after the ratio test.
type goodMatch struct {
	targetIdx int
	frameIdx  int
}

// ApplyRatioTest accepts m0 of each query's candidate list iff
// m0.distance < ratio*m1.distance; single-candidate queries with no
// m1 are accepted unconditionally. Pure function of its
// input -- applying it twice to the same matches returns the same
// subset.
func ApplyRatioTest(knnResults [][]cvprim.MatchCandidate, ratio float64) []goodMatch {
	var out []goodMatch
	for _, cands := range knnResults {
		if len(cands) == 0 {
			continue
		}
		m0 := cands[0]
		if len(cands) == 1 {
			out = append(out, goodMatch{targetIdx: m0.QueryIdx, frameIdx: m0.TrainIdx})
			continue
		}
		m1 := cands[1]
		if m0.Distance < ratio*m1.Distance {
			out = append(out, goodMatch{targetIdx: m0.QueryIdx, frameIdx: m0.TrainIdx})
		}
	}
	return out
}

// MatchTarget runs the full pipeline for one target against
// one frame's extracted features.
func (m *Matcher) MatchTarget(target *store.Target, frameKps []cvprim.KeyPoint, frameDesc cvprim.DescriptorMatrix, frameW, frameH int, cfg Config) (Result, error) {
	res := Result{TargetID: target.ID}

	knnResults := m.KNN.KNNMatch(target.Descriptors, frameDesc, 2)
	good := ApplyRatioTest(knnResults, cfg.RatioThreshold)
	res.NMatches = len(good)

	src := make([]geom.Point, 0, len(good))
	dst := make([]geom.Point, 0, len(good))
	for _, gm := range good {
		if gm.targetIdx >= len(target.Keypoints) || gm.frameIdx >= len(frameKps) {
			continue
		}
		kp := target.Keypoints[gm.targetIdx]
		fp := frameKps[gm.frameIdx]
		src = append(src, geom.Point{X: kp.X, Y: kp.Y})
		dst = append(dst, geom.Point{X: fp.X, Y: fp.Y})
	}
	if len(src) != len(dst) {
		return Result{}, errors.New(errors.Inconsistent, "match.MatchTarget", "src/dst point counts disagree after ratio test")
	}

	if len(good) < cfg.MinInliers {
		res.Reason = "insufficient good matches"
		return res, nil
	}

	h, mask, ok := geom.RansacHomography(src, dst, cfg.RansacThreshold, cfg.RansacIterations, m.RNG)
	if !ok || !h.Finite() || math.Abs(h.Det3x3()) < 1e-6 {
		res.Reason = "homography rejected"
		return res, nil
	}

	nInliers := 0
	for _, in := range mask {
		if in {
			nInliers++
		}
	}
	res.NInliers = nInliers

	// Open Question (b): compute -> transform -> validate, only
	// ever on the post-transform corners.
	corners := []geom.Point{target.Corners[0], target.Corners[1], target.Corners[2], target.Corners[3]}
	transformed := geom.Transform(h, corners)
	validation := geom.ValidateQuad(transformed, float64(frameW), float64(frameH))
	if !validation.Valid {
		res.Reason = validation.Reason
		return res, nil
	}

	inlierCountScore := math.Min(float64(nInliers)/50.0, 1.0)
	inlierRatio := float64(nInliers) / float64(len(good))
	matchScore := 0.7*inlierCountScore + 0.3*inlierRatio
	confidence := matchScore * validation.GeometryScore
	confidence = math.Max(0, math.Min(1, confidence))

	copy(res.Corners[:], transformed)
	res.Confidence = confidence
	res.Success = true
	return res, nil
}

// MatchMultipleTargets calls MatchTarget per candidate and returns the
// successful matches sorted by confidence descending, truncated to
// maxResults.
func (m *Matcher) MatchMultipleTargets(targets []*store.Target, frameKps []cvprim.KeyPoint, frameDesc cvprim.DescriptorMatrix, frameW, frameH int, cfg Config, maxResults int) ([]Result, error) {
	var out []Result
	for _, t := range targets {
		r, err := m.MatchTarget(t, frameKps, frameDesc, frameW, frameH, cfg)
		if err != nil {
			return nil, err
		}
		if r.Success {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if maxResults > 0 && maxResults < len(out) {
		out = out[:maxResults]
	}
	return out, nil
}
