package store

import (
	"testing"

	"github.com/arengine/arengine/internal/cvprim"
	"github.com/arengine/arengine/internal/geom"
)

func sampleTarget() ([]cvprim.KeyPoint, cvprim.DescriptorMatrix, [4]geom.Point) {
	kps := []cvprim.KeyPoint{{X: 1, Y: 1}, {X: 2, Y: 2}}
	desc := cvprim.NewDescriptorMatrix(cvprim.Binary, 2, 4)
	corners := [4]geom.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}
	return kps, desc, corners
}

func TestAdd_RejectsParityMismatch(t *testing.T) {
	s := New()
	kps, desc, corners := sampleTarget()
	desc.Rows = 1 // force mismatch
	if err := s.Add("t1", kps, desc, corners, 10, 10); err == nil {
		t.Fatalf("expected parity mismatch to be rejected")
	}
}

func TestAdd_GetRoundTrip(t *testing.T) {
	s := New()
	kps, desc, corners := sampleTarget()
	if err := s.Add("t1", kps, desc, corners, 10, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := s.Get("t1")
	if !ok {
		t.Fatalf("expected target to be present")
	}
	if len(got.Keypoints) != 2 {
		t.Fatalf("expected 2 keypoints, got %d", len(got.Keypoints))
	}
}

func TestAdd_ReplacesExisting(t *testing.T) {
	s := New()
	kps, desc, corners := sampleTarget()
	_ = s.Add("t1", kps, desc, corners, 10, 10)

	kps2 := kps[:1]
	desc2 := desc.Slice(0, 1)
	_ = s.Add("t1", kps2, desc2, corners, 10, 10)

	got, _ := s.Get("t1")
	if len(got.Keypoints) != 1 {
		t.Fatalf("expected replacement to take effect, got %d keypoints", len(got.Keypoints))
	}
	if s.Count() != 1 {
		t.Fatalf("expected exactly one stored target, got %d", s.Count())
	}
}

func TestGetBatch_SkipsMissingPreservesOrder(t *testing.T) {
	s := New()
	kps, desc, corners := sampleTarget()
	_ = s.Add("a", kps, desc, corners, 10, 10)
	_ = s.Add("b", kps, desc, corners, 10, 10)

	got := s.GetBatch([]TargetID{"b", "missing", "a"})
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "a" {
		t.Fatalf("unexpected batch order/contents: %+v", got)
	}
}

func TestRemoveAndClear(t *testing.T) {
	s := New()
	kps, desc, corners := sampleTarget()
	_ = s.Add("a", kps, desc, corners, 10, 10)
	s.Remove("a")
	if _, ok := s.Get("a"); ok {
		t.Fatalf("expected target to be removed")
	}

	_ = s.Add("b", kps, desc, corners, 10, 10)
	s.Clear()
	if s.Count() != 0 {
		t.Fatalf("expected store to be empty after Clear")
	}
}
