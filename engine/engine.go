// Package engine implements C8, the Engine: per-frame orchestration
// between full feature-based detection and cheap optical-flow
// tracking, plus the FrameStats/TrackingResult surface consumers read.
//
// A single top-level struct wires every subsystem behind a
// frame/clock counter with one Run/Step-shaped entry point, following
// a config-validate-then-run wiring style. Lifecycle logging uses
// structured logrus.Fields at Info for start/stop/reset, Debug for
// per-frame summaries.
package engine

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arengine/arengine/config"
	arerrors "github.com/arengine/arengine/errors"
	"github.com/arengine/arengine/internal/bow"
	"github.com/arengine/arengine/internal/cvprim"
	"github.com/arengine/arengine/internal/extract"
	"github.com/arengine/arengine/internal/flow"
	"github.com/arengine/arengine/internal/geom"
	"github.com/arengine/arengine/internal/match"
	"github.com/arengine/arengine/internal/memorypool"
	"github.com/arengine/arengine/store"
)

// Mode names which pipeline produced a TrackingResult.
type Mode int

const (
	DetectionMode Mode = iota
	OpticalFlowMode
)

func (m Mode) String() string {
	if m == OpticalFlowMode {
		return "optical_flow"
	}
	return "detection"
}

// TrackingResult is one target's per-frame outcome.
type TrackingResult struct {
	TargetID   store.TargetID
	Success    bool
	Corners    [4]geom.Point
	Confidence float64
	Mode       Mode
}

// FrameStats summarizes one ProcessFrame call.
type FrameStats struct {
	FrameIndex      int
	DetectionMs     float64
	TrackingMs      float64
	TotalMs         float64
	DetectedTargets int
	TrackedTargets  int
}

// Engine is C8: single-threaded cooperative per-frame orchestration
//.
type Engine struct {
	pool      *memorypool.Pool
	store     *store.Store
	images    cvprim.ImagePrimitives
	extractor *extract.Extractor
	matcher   *match.Matcher
	tracker   *flow.Tracker
	db        *bow.Database

	cfg        config.EngineConfig
	preprocess config.PreprocessConfig
	log        *logrus.Logger

	inFrame    atomic.Bool
	tracking   bool
	frameIndex int
	prevFrame  *memorypool.Handle[*memorypool.Frame]
	lastStats  FrameStats
}

// New wires every subsystem into an Engine, validating cfg before
// constructing anything downstream. db may be nil (no vocabulary
// built yet — every detection frame falls back to matching every
// stored target).
func New(
	pool *memorypool.Pool,
	tgtStore *store.Store,
	images cvprim.ImagePrimitives,
	extractor *extract.Extractor,
	matcher *match.Matcher,
	tracker *flow.Tracker,
	db *bow.Database,
	cfg config.EngineConfig,
	preprocess config.PreprocessConfig,
	log *logrus.Logger,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := preprocess.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{
		pool:       pool,
		store:      tgtStore,
		images:     images,
		extractor:  extractor,
		matcher:    matcher,
		tracker:    tracker,
		db:         db,
		cfg:        cfg,
		preprocess: preprocess,
		log:        log,
	}, nil
}

// SetConfig validates and swaps in a new EngineConfig.
func (e *Engine) SetConfig(cfg config.EngineConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg = cfg
	return nil
}

// SetDatabase swaps in a freshly built (or loaded) vocabulary
// database, used after an offline rebuild.
func (e *Engine) SetDatabase(db *bow.Database) {
	e.db = db
}

// AddTarget inserts a target into the database.
// bowHist/weighted are optional (nil when no vocabulary entry exists
// yet for this target).
func (e *Engine) AddTarget(id store.TargetID, keypoints []cvprim.KeyPoint, descriptors cvprim.DescriptorMatrix, corners [4]geom.Point, w, h int, bowHist map[int]int, weighted map[int]float64) bool {
	if err := e.store.Add(id, keypoints, descriptors, corners, w, h); err != nil {
		e.log.WithError(err).WithField("target", id).Warn("engine: add_target rejected")
		return false
	}
	if bowHist != nil || weighted != nil {
		_ = e.store.SetWeights(id, bowHist, weighted)
	}
	return true
}

// RemoveTarget deletes a target and its tracking state.
func (e *Engine) RemoveTarget(id store.TargetID) {
	e.store.Remove(id)
	e.tracker.Remove(id)
}

// ClearTargets removes every target and tracking state.
func (e *Engine) ClearTargets() {
	e.store.Clear()
	e.tracker.Reset()
}

// TargetCount returns the number of stored targets.
func (e *Engine) TargetCount() int { return e.store.Count() }

// StartTracking begins a new tracking session: frame index resets to
// 0 and the previous-frame buffer is released so the first frame is
// always a detection frame.
func (e *Engine) StartTracking() {
	e.tracking = true
	e.frameIndex = 0
	e.releasePrevFrame()
	e.tracker.Reset()
	e.log.WithField("targets", e.store.Count()).Info("engine: tracking started")
}

// StopTracking sets the cancellation flag: the next
// ProcessFrame call short-circuits and the previous-frame buffer is
// released. Any frame already in flight on another goroutine (a
// caller violation of the single-threaded contract) completes
// unperturbed; its result is the caller's to discard.
func (e *Engine) StopTracking() {
	e.tracking = false
	e.releasePrevFrame()
	e.log.Info("engine: tracking stopped")
}

// IsTracking reports whether the engine is between StartTracking and
// StopTracking/Reset.
func (e *Engine) IsTracking() bool { return e.tracking }

// Reset stops tracking, clears every target, and zeroes frame state.
func (e *Engine) Reset() {
	e.StopTracking()
	e.ClearTargets()
	e.frameIndex = 0
	e.lastStats = FrameStats{}
	e.log.Info("engine: reset")
}

func (e *Engine) releasePrevFrame() {
	if e.prevFrame != nil {
		e.prevFrame.Release()
		e.prevFrame = nil
	}
}

// pixelTypeForChannels maps the raw buffer's channel count to a
// memorypool.PixelType; only grayscale (1) and RGBA (4) are
// supported.
func pixelTypeForChannels(channels int) (memorypool.PixelType, error) {
	switch channels {
	case 1:
		return memorypool.Gray8, nil
	case 4:
		return memorypool.RGBA8, nil
	default:
		return 0, fmt.Errorf("unsupported channel count %d (want 1 or 4)", channels)
	}
}

// ProcessFrame runs per-frame algorithm. Reentrant or
// concurrent calls panic.
func (e *Engine) ProcessFrame(pixels []byte, width, height, channels int) ([]TrackingResult, error) {
	if !e.inFrame.CompareAndSwap(false, true) {
		panic("engine: ProcessFrame called reentrantly or concurrently")
	}
	defer e.inFrame.Store(false)

	start := time.Now()

	if !e.tracking {
		e.lastStats = FrameStats{FrameIndex: e.frameIndex}
		return nil, nil
	}

	typ, err := pixelTypeForChannels(channels)
	if err != nil {
		return nil, arerrors.Wrap(arerrors.InvalidInput, "engine.ProcessFrame", err)
	}
	if len(pixels) != width*height*channels {
		return nil, arerrors.New(arerrors.InvalidInput, "engine.ProcessFrame", "pixel buffer length does not match width*height*channels")
	}

	srcFrame := memorypool.Frame{Width: width, Height: height, Type: typ, Data: pixels}

	grayHandle := e.pool.AcquireFrame(width, height, memorypool.Gray8)
	gray, err := e.images.ToGray(srcFrame)
	if err != nil {
		grayHandle.Release()
		return nil, arerrors.Wrap(arerrors.InvalidInput, "engine.ProcessFrame", err)
	}
	copy(grayHandle.Value.Data, gray.Data)
	currGray := *grayHandle.Value

	detect := !e.cfg.UseOpticalFlow || e.frameIndex%e.cfg.DetectionInterval == 0 || e.prevFrame == nil

	var results []TrackingResult
	var detectionMs, trackingMs float64

	if detect {
		t0 := time.Now()
		results = e.detect(srcFrame, currGray, width, height)
		detectionMs = msSince(t0)
	} else {
		t0 := time.Now()
		results = e.track(currGray, *e.prevFrame.Value)
		trackingMs = msSince(t0)
	}

	e.releasePrevFrame()
	e.prevFrame = grayHandle

	e.frameIndex++

	detected, tracked := 0, 0
	for _, r := range results {
		if !r.Success {
			continue
		}
		if r.Mode == DetectionMode {
			detected++
		} else {
			tracked++
		}
	}
	e.lastStats = FrameStats{
		FrameIndex:      e.frameIndex - 1,
		DetectionMs:     detectionMs,
		TrackingMs:      trackingMs,
		TotalMs:         msSince(start),
		DetectedTargets: detected,
		TrackedTargets:  tracked,
	}
	if e.cfg.EnableProfiling {
		e.log.WithFields(logrus.Fields{
			"frame": e.lastStats.FrameIndex, "detected": detected, "tracked": tracked,
			"detection_ms": detectionMs, "tracking_ms": trackingMs, "total_ms": e.lastStats.TotalMs,
		}).Debug("engine: frame processed")
	}

	return results, nil
}

func msSince(t time.Time) float64 { return float64(time.Since(t).Microseconds()) / 1000.0 }

// detect runs the full feature-based detection path: extract, optionally narrow via vocabulary query, match, and
// seed the optical-flow tracker for every confident success. A
// whole-frame extraction failure (zero features) yields an empty
// result list and no error rather than aborting the frame.
func (e *Engine) detect(src, currGray memorypool.Frame, width, height int) []TrackingResult {
	kps, desc, err := e.extractor.Extract(src, e.preprocess, e.cfg.MaxFeatures)
	if err != nil {
		e.log.WithError(err).Debug("engine: detection frame produced no features")
		return nil
	}

	all := e.store.All()
	var candidates []*store.Target
	if len(all) > 3 && e.db != nil {
		ranked := e.db.QueryCandidates(desc, all, e.cfg.MaxCandidates)
		ids := make([]store.TargetID, len(ranked))
		for i, c := range ranked {
			ids[i] = c.ID
		}
		candidates = e.store.GetBatch(ids)
	} else {
		candidates = all
	}

	matchCfg := match.Config{
		RatioThreshold:   e.cfg.MatchRatioThreshold,
		MinInliers:       e.cfg.MinInliers,
		RansacThreshold:  e.cfg.RansacThreshold,
		RansacIterations: e.cfg.RansacIterations,
	}
	matchResults, err := e.matcher.MatchMultipleTargets(candidates, kps, desc, width, height, matchCfg, e.cfg.MaxResults)
	if err != nil {
		e.log.WithError(err).Debug("engine: matching failed for detection frame")
		return nil
	}

	out := make([]TrackingResult, 0, len(matchResults))
	trackCfg := e.trackConfig()
	for _, m := range matchResults {
		if m.NInliers < e.cfg.MinInliers {
			continue
		}
		out = append(out, TrackingResult{TargetID: m.TargetID, Success: true, Corners: m.Corners, Confidence: m.Confidence, Mode: DetectionMode})
		if e.cfg.UseOpticalFlow {
			if err := e.tracker.Seed(m.TargetID, m.Corners, currGray, trackCfg); err != nil {
				e.log.WithError(err).WithField("target", m.TargetID).Debug("engine: seed failed after detection")
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// track runs the optical-flow path.
func (e *Engine) track(currGray, prevGray memorypool.Frame) []TrackingResult {
	flowResults := e.tracker.Step(currGray, prevGray, e.trackConfig())
	out := make([]TrackingResult, len(flowResults))
	for i, r := range flowResults {
		out[i] = TrackingResult{TargetID: r.TargetID, Success: r.Success, Corners: r.Corners, Confidence: r.Confidence, Mode: OpticalFlowMode}
	}
	return out
}

func (e *Engine) trackConfig() flow.Config {
	return flow.Config{
		MaxTrackingPoints: e.cfg.MaxTrackingPoints,
		MinInliers:        e.cfg.MinInliers,
		MaxNoDetect:       e.cfg.MaxNoDetect,
		FBThreshold:       e.cfg.FBThreshold,
		RansacThreshold:   e.cfg.RansacThreshold,
		RansacIterations:  e.cfg.RansacIterations,
		Quality:           0.01,
		MinDistance:       10,
	}
}

// LastFrameStats returns the stats from the most recent ProcessFrame
// call.
func (e *Engine) LastFrameStats() FrameStats { return e.lastStats }
