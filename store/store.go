// Package store implements C5, TargetStore: the owned database of
// reference targets (keypoints, descriptors, corners, BoW) as a
// mutex-guarded map of owned resources keyed by id, with explicit,
// replace-on-reinsert add/remove semantics.
package store

import (
	"sync"

	"github.com/arengine/arengine/errors"
	"github.com/arengine/arengine/internal/cvprim"
	"github.com/arengine/arengine/internal/geom"
)

// TargetID uniquely identifies a reference target within one Store.
type TargetID string

// Target is one reference image's immutable-after-build record.
// Corners are always [(0,0),(W,0),(W,H),(0,H)] in reference
// coordinates by construction.
type Target struct {
	ID          TargetID
	Width       int
	Height      int
	Keypoints   []cvprim.KeyPoint
	Descriptors cvprim.DescriptorMatrix
	Corners     [4]geom.Point
	BoW         map[int]int     // word-id -> raw count
	Weighted    map[int]float64 // word-id -> BM25/TF-IDF score
}

// Store is a mutex-guarded map[TargetID]*Target, safe for concurrent
// reads after build,
// but add/remove are exposed for build-time population and for
// removing a target at runtime.
type Store struct {
	mu      sync.RWMutex
	targets map[TargetID]*Target
}

// New returns an empty Store.
func New() *Store {
	return &Store{targets: make(map[TargetID]*Target)}
}

// Add inserts or replaces a target. Re-insertion of an existing id
// releases the previous record. Returns InvalidInput if the
// keypoint/descriptor-row parity or four-corner invariants are
// violated.
func (s *Store) Add(id TargetID, keypoints []cvprim.KeyPoint, descriptors cvprim.DescriptorMatrix, corners [4]geom.Point, w, h int) error {
	if len(keypoints) != descriptors.Rows {
		return errors.New(errors.InvalidInput, "store.Add", "len(keypoints) != rows(descriptors)")
	}
	t := &Target{
		ID:          id,
		Width:       w,
		Height:      h,
		Keypoints:   keypoints,
		Descriptors: descriptors,
		Corners:     corners,
		BoW:         map[int]int{},
		Weighted:    map[int]float64{},
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[id] = t
	return nil
}

// SetWeights attaches a BoW histogram and weighted vector to an
// already-added target (populated by the vocabulary build).
func (s *Store) SetWeights(id TargetID, bow map[int]int, weighted map[int]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[id]
	if !ok {
		return errors.New(errors.InvalidInput, "store.SetWeights", "unknown target id")
	}
	t.BoW = bow
	t.Weighted = weighted
	return nil
}

// Remove deletes a target. No-op if the id is absent.
func (s *Store) Remove(id TargetID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.targets, id)
}

// Clear removes every target.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = make(map[TargetID]*Target)
}

// Get returns a target by id.
func (s *Store) Get(id TargetID) (*Target, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.targets[id]
	return t, ok
}

// GetBatch returns targets for ids, in requested order, skipping any
// id that is absent.
func (s *Store) GetBatch(ids []TargetID) []*Target {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Target, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.targets[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// All returns every target, order unspecified.
func (s *Store) All() []*Target {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Target, 0, len(s.targets))
	for _, t := range s.targets {
		out = append(out, t)
	}
	return out
}

// Count returns the number of stored targets.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.targets)
}
