// Package flow implements C7, OpticalFlowTracker: per-target Lucas-
// Kanade point tracking with a forward-backward check, a homography
// estimated from surviving tracked points, and per-corner Kalman
// smoothing.
//
// Grounded on other_examples' per-object tracker files
// (multi_object_tracker.go, miface/tracker.go, pizza-tracking/tracker.go,
// object_tracker.go), each of which keeps one small state struct per
// tracked object cycling through an idle/tracking/lost state machine.
// Per-target lifecycle transitions return a local pass/fail rather
// than an error.
package flow

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/arengine/arengine/internal/cvprim"
	"github.com/arengine/arengine/internal/geom"
	"github.com/arengine/arengine/internal/kalmantrack"
	"github.com/arengine/arengine/internal/memorypool"
	"github.com/arengine/arengine/store"
)

// State names the per-target lifecycle defines:
// idle -> seeded -> tracking <-> tracking -> lost.
type State int

const (
	Idle State = iota
	Seeded
	Tracking
	Lost
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Seeded:
		return "seeded"
	case Tracking:
		return "tracking"
	case Lost:
		return "lost"
	default:
		return "unknown"
	}
}

// TrackingState is one target's online tracking record.
type TrackingState struct {
	TargetID             store.TargetID
	State                State
	Corners              [4]geom.Point
	TrackingPoints       []geom.Point
	filters              [4]*kalmantrack.CornerFilter
	Confidence           float64
	FramesTracked        int
	FramesSinceDetection int
	IsActive             bool
}

// Config groups the tracker's thresholds: MaxTrackingPoints, MinInliers, MaxNoDetect,
// FBThreshold, RansacThreshold/Iterations for the tracked-point
// homography.
type Config struct {
	MaxTrackingPoints int
	MinInliers        int
	MaxNoDetect       int
	FBThreshold       float64
	RansacThreshold   float64
	RansacIterations  int
	Quality           float64
	MinDistance       float64
}

// Tracker owns one TrackingState per target plus the injected
// goodFeaturesToTrack/calcOpticalFlowPyrLK primitives.
type Tracker struct {
	Corners cvprim.CornerDetector
	Flow    cvprim.OpticalFlow
	RNG     func(n int) int
	Log     *logrus.Logger

	states map[store.TargetID]*TrackingState
}

// New returns a Tracker over the given injected primitives. log may
// be nil, in which case logrus.StandardLogger() is used (the tracker's
// logger is optional).
func New(corners cvprim.CornerDetector, of cvprim.OpticalFlow, rng func(n int) int, log *logrus.Logger) *Tracker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Tracker{Corners: corners, Flow: of, RNG: rng, Log: log, states: make(map[store.TargetID]*TrackingState)}
}

// Get returns the current tracking state for a target, if any.
func (t *Tracker) Get(id store.TargetID) (*TrackingState, bool) {
	s, ok := t.states[id]
	return s, ok
}

// Remove drops a target's tracking state entirely.
func (t *Tracker) Remove(id store.TargetID) {
	delete(t.states, id)
}

// Reset clears every tracked target.
func (t *Tracker) Reset() {
	t.states = make(map[store.TargetID]*TrackingState)
}

// Seed initializes tracking for id: sets the corners, initializes one
// constant-velocity Kalman filter per corner (warm-start = the corner
// itself), and detects up to MaxTrackingPoints strong interior corners
// via the injected GoodFeaturesToTrack.
func (t *Tracker) Seed(id store.TargetID, corners [4]geom.Point, gray memorypool.Frame, cfg Config) error {
	pts, err := t.Corners.GoodFeaturesToTrack(gray, corners, cfg.MaxTrackingPoints, cfg.Quality, cfg.MinDistance)
	if err != nil {
		return err
	}

	st := &TrackingState{
		TargetID:       id,
		State:          Seeded,
		Corners:        corners,
		TrackingPoints: pts,
		IsActive:       true,
	}
	for i, c := range corners {
		st.filters[i] = kalmantrack.NewCornerFilter(c.X, c.Y)
	}
	t.states[id] = st
	t.Log.WithFields(logrus.Fields{"target": id, "points": len(pts)}).Debug("flow: seeded target")
	return nil
}

// Step advances every active target's tracking state by one frame
//: re-seed the point set if empty or stale, run LK
// forward then backward for the forward-backward check, drop
// round-trip outliers, estimate a homography from survivors, validate
// the resulting corners, apply Kalman correct+predict (reporting the
// predicted corners), and return one
// TrackingResult-shaped record per still-active target. Targets that
// transition to Lost are dropped from the active set but remain
// queryable via Get until Remove/Reset.
type Result struct {
	TargetID   store.TargetID
	Success    bool
	Corners    [4]geom.Point
	Confidence float64
}

func (t *Tracker) Step(currGray, prevGray memorypool.Frame, cfg Config) []Result {
	var out []Result
	for id, st := range t.states {
		if !st.IsActive {
			continue
		}
		if len(st.TrackingPoints) == 0 || st.FramesSinceDetection > cfg.MaxNoDetect {
			pts, err := t.Corners.GoodFeaturesToTrack(prevGray, st.Corners, cfg.MaxTrackingPoints, cfg.Quality, cfg.MinDistance)
			if err != nil || len(pts) == 0 {
				st.IsActive = false
				st.State = Lost
				continue
			}
			st.TrackingPoints = pts
		}

		currPts, status, err := t.Flow.CalcOpticalFlowPyrLK(prevGray, currGray, st.TrackingPoints)
		if err != nil {
			st.IsActive = false
			st.State = Lost
			continue
		}

		survivingPrev, survivingCurr := t.forwardBackward(prevGray, currGray, st.TrackingPoints, currPts, status, cfg.FBThreshold)
		if len(survivingCurr) < cfg.MinInliers {
			st.IsActive = false
			st.State = Lost
			t.Log.WithField("target", id).Debug("flow: lost (insufficient survivors)")
			continue
		}

		h, mask, ok := geom.RansacHomography(survivingPrev, survivingCurr, cfg.RansacThreshold, cfg.RansacIterations, t.RNG)
		if !ok {
			st.IsActive = false
			st.State = Lost
			t.Log.WithField("target", id).Debug("flow: lost (homography failed)")
			continue
		}
		nInliers := 0
		for _, in := range mask {
			if in {
				nInliers++
			}
		}

		prevCorners := []geom.Point{st.Corners[0], st.Corners[1], st.Corners[2], st.Corners[3]}
		newCorners := geom.Transform(h, prevCorners)
		// Optical-flow corners validate against a wider 50px margin and
		// longer 20px minimum edge than detection's 10px/5px.
		validation := validateTrackedQuad(newCorners, float64(currGray.Width), float64(currGray.Height))
		if !validation.ok {
			st.IsActive = false
			st.State = Lost
			t.Log.WithField("target", id).Debug("flow: lost (geometry invalid)")
			continue
		}

		var smoothed [4]geom.Point
		for i := 0; i < 4; i++ {
			st.filters[i].Correct(newCorners[i].X, newCorners[i].Y)
			x, y := st.filters[i].Predict()
			smoothed[i] = geom.Point{X: x, Y: y}
		}

		st.Corners = smoothed
		st.TrackingPoints = survivingCurr
		st.State = Tracking
		st.FramesTracked++
		st.FramesSinceDetection++

		inlierRatio := float64(nInliers) / float64(len(survivingCurr))
		st.Confidence = inlierRatio * (1 - float64(st.FramesSinceDetection)/float64(cfg.MaxNoDetect))
		if st.Confidence < 0 {
			st.Confidence = 0
		}

		out = append(out, Result{TargetID: id, Success: true, Corners: smoothed, Confidence: st.Confidence})
	}
	return out
}

// forwardBackward runs LK back from currPts to prevGray and keeps only
// points whose round-trip distance is within fbThreshold.
func (t *Tracker) forwardBackward(prevGray, currGray memorypool.Frame, prevPts, currPts []geom.Point, status []bool, fbThreshold float64) ([]geom.Point, []geom.Point) {
	backPts, backStatus, err := t.Flow.CalcOpticalFlowPyrLK(currGray, prevGray, currPts)
	if err != nil {
		return nil, nil
	}
	var survivingPrev, survivingCurr []geom.Point
	for i := range currPts {
		if i >= len(status) || !status[i] {
			continue
		}
		if i >= len(backStatus) || !backStatus[i] {
			continue
		}
		d := math.Hypot(backPts[i].X-prevPts[i].X, backPts[i].Y-prevPts[i].Y)
		if d > fbThreshold {
			continue
		}
		survivingPrev = append(survivingPrev, prevPts[i])
		survivingCurr = append(survivingCurr, currPts[i])
	}
	return survivingPrev, survivingCurr
}

type quadValidation struct {
	ok bool
}

func validateTrackedQuad(corners []geom.Point, frameW, frameH float64) quadValidation {
	const margin = 50.0
	const minEdge = 20.0
	if len(corners) != 4 {
		return quadValidation{}
	}
	for _, c := range corners {
		if c.X < -margin || c.X > frameW+margin || c.Y < -margin || c.Y > frameH+margin {
			return quadValidation{}
		}
	}
	for i := 0; i < 4; i++ {
		j := (i + 1) % 4
		l := math.Hypot(corners[j].X-corners[i].X, corners[j].Y-corners[i].Y)
		if l < minEdge {
			return quadValidation{}
		}
	}
	return quadValidation{ok: true}
}
