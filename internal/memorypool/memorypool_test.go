package memorypool

import (
	"testing"

	"github.com/arengine/arengine/internal/geom"
)

func TestAcquireFrame_ReusesReleasedSlot(t *testing.T) {
	p := New()

	h1 := p.AcquireFrame(64, 64, Gray8)
	h1.Value.Data[0] = 7
	h1.Release()

	h2 := p.AcquireFrame(64, 64, Gray8)
	defer h2.Release()

	if h2.Value.Data[0] != 7 {
		t.Fatalf("expected recycled buffer to retain its allocation, got %v", h2.Value.Data[0])
	}
	st := p.AllStats()["frames"]
	if st.Allocated != 1 {
		t.Fatalf("expected exactly one allocated frame slot, got %d", st.Allocated)
	}
}

func TestAcquireFrame_DifferentShapeAllocatesNewSlot(t *testing.T) {
	p := New()
	h1 := p.AcquireFrame(64, 64, Gray8)
	h2 := p.AcquireFrame(32, 32, Gray8)
	defer h1.Release()
	defer h2.Release()

	st := p.AllStats()["frames"]
	if st.Allocated != 2 {
		t.Fatalf("expected two distinct slots for distinct shapes, got %d", st.Allocated)
	}
}

func TestAcquireDescriptors_ViewRowsBounded(t *testing.T) {
	p := New()
	h := p.AcquireDescriptors(10, 64, Gray8)
	defer h.Release()

	if h.Value.Rows != 10 || h.Value.Cols != 64 {
		t.Fatalf("unexpected matrix shape: rows=%d cols=%d", h.Value.Rows, h.Value.Cols)
	}

	h.Release()
	h2 := p.AcquireDescriptors(4, 64, Gray8)
	defer h2.Release()
	if h2.Value.Rows != 4 {
		t.Fatalf("expected a smaller row view into the recycled buffer, got rows=%d", h2.Value.Rows)
	}
	if len(h2.Value.Data) != 4*64 {
		t.Fatalf("expected view length to match requested rows, got %d", len(h2.Value.Data))
	}
}

func TestAcquirePoints_ClearedOnReuse(t *testing.T) {
	p := New()
	h := p.AcquirePoints(16)
	*h.Value = append(*h.Value, geom.Point{X: 1, Y: 2}, geom.Point{X: 3, Y: 4})
	h.Release()

	h2 := p.AcquirePoints(8)
	defer h2.Release()
	if len(*h2.Value) != 0 {
		t.Fatalf("expected reused point vector to be cleared, got len=%d", len(*h2.Value))
	}
	if cap(*h2.Value) < 8 {
		t.Fatalf("expected reused point vector to retain capacity, got cap=%d", cap(*h2.Value))
	}
}

func TestRelease_Idempotent(t *testing.T) {
	p := New()
	h := p.AcquireFrame(8, 8, Gray8)
	h.Release()
	h.Release() // must not double-free or panic

	st := p.AllStats()["frames"]
	if st.Free != 1 {
		t.Fatalf("expected one free slot after idempotent release, got %d", st.Free)
	}
}

func TestNoFreeSlot_GrowsPoolInsteadOfLeakingUntracked(t *testing.T) {
	p := New()
	h1 := p.AcquireFrame(16, 16, Gray8)
	h2 := p.AcquireFrame(16, 16, Gray8)
	defer h1.Release()
	defer h2.Release()

	st := p.AllStats()["frames"]
	if st.Allocated != 2 {
		t.Fatalf("expected pool to grow to 2 slots when none are free, got %d", st.Allocated)
	}
}
