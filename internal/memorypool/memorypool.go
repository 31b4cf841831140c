// Package memorypool implements C1: a typed, mutex-guarded pool of
// reusable image, descriptor-matrix, and point buffers, recycled to
// avoid per-frame allocation in the hot path.
//
// Grounded on sim/kvcache.go's KVCacheState: a slice of owned slots
// guarded by one mutex per resource class, with explicit
// acquire/release instead of relying on the garbage collector or
// sync.Pool (whose size/type-agnostic reuse can't give the exact
// size+type match and allocation stats this pool's contract requires).
package memorypool

import (
	"sync"

	"github.com/arengine/arengine/internal/geom"
)

// PixelType names the element type of a pooled buffer.
type PixelType int

const (
	Gray8 PixelType = iota
	RGBA8
	Float32
)

func (t PixelType) bytesPerElem() int64 {
	switch t {
	case Gray8:
		return 1
	case RGBA8:
		return 4
	case Float32:
		return 4
	default:
		return 1
	}
}

// Stats summarizes allocation counts for one pool.
type Stats struct {
	Allocated int
	Free      int
	Bytes     int64
}

// Handle is a scoped acquisition: Release returns the slot to its
// pool without discarding the underlying allocation. Handles are not
// safe to pass across goroutines.
type Handle[T any] struct {
	Value   T
	release func()
	done    bool
}

// Release marks the slot free. Safe to call multiple times; only the
// first call has effect, matching "on handle release, the slot is
// marked free but its allocation retained".
func (h *Handle[T]) Release() {
	if h.done || h.release == nil {
		return
	}
	h.release()
	h.done = true
}

type frameSlot struct {
	w, h  int
	typ   PixelType
	data  []byte
	inUse bool
}

type framePool struct {
	mu    sync.Mutex
	slots []*frameSlot
}

// Frame is a pooled grayscale/RGB(A) pixel buffer view.
type Frame struct {
	Width, Height int
	Type          PixelType
	Data          []byte
}

func newFramePool() *framePool { return &framePool{} }

// AcquireFrame returns a buffer of the same size and type if a free
// one exists; otherwise it reallocates a free slot of another shape,
// and if every slot is occupied it appends a new slot to the pool. It
// never hands out a non-pooled temporary; the pool has no slot limit.
func (p *framePool) Acquire(w, h int, typ PixelType) *Handle[*Frame] {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.slots {
		if !s.inUse && s.w == w && s.h == h && s.typ == typ {
			s.inUse = true
			return p.handleFor(s)
		}
	}
	needed := w * h * int(typ.bytesPerElem())
	for _, s := range p.slots {
		if !s.inUse {
			s.w, s.h, s.typ = w, h, typ
			s.data = make([]byte, needed)
			s.inUse = true
			return p.handleFor(s)
		}
	}
	// No empty slot: grow the pool so future frames of this shape
	// can be recycled, rather than silently leaking a bare temporary.
	s := &frameSlot{w: w, h: h, typ: typ, data: make([]byte, needed), inUse: true}
	p.slots = append(p.slots, s)
	return p.handleFor(s)
}

func (p *framePool) handleFor(s *frameSlot) *Handle[*Frame] {
	return &Handle[*Frame]{
		Value: &Frame{Width: s.w, Height: s.h, Type: s.typ, Data: s.data},
		release: func() {
			p.mu.Lock()
			s.inUse = false
			p.mu.Unlock()
		},
	}
}

func (p *framePool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var st Stats
	for _, s := range p.slots {
		st.Allocated++
		if !s.inUse {
			st.Free++
		}
		st.Bytes += int64(len(s.data))
	}
	return st
}

type descriptorSlot struct {
	rows, cols int
	typ        PixelType
	data       []byte
	inUse      bool
}

type descriptorPool struct {
	mu    sync.Mutex
	slots []*descriptorSlot
}

// DescriptorMatrix is a pooled rows x cols descriptor buffer; Rows is
// the logical row count (<= capacity of Data/cols).
type DescriptorMatrix struct {
	Rows, Cols int
	Type       PixelType
	Data       []byte
}

func newDescriptorPool() *descriptorPool { return &descriptorPool{} }

// AcquireDescriptors returns a row-range view into a buffer with >=
// rows capacity and matching cols/type, else allocates.
func (p *descriptorPool) Acquire(rows, cols int, typ PixelType) *Handle[*DescriptorMatrix] {
	p.mu.Lock()
	defer p.mu.Unlock()

	elemSize := int(typ.bytesPerElem())
	for _, s := range p.slots {
		if !s.inUse && s.cols == cols && s.typ == typ && s.rows >= rows {
			s.inUse = true
			return p.handleFor(s, rows)
		}
	}
	for _, s := range p.slots {
		if !s.inUse {
			s.rows, s.cols, s.typ = rows, cols, typ
			s.data = make([]byte, rows*cols*elemSize)
			s.inUse = true
			return p.handleFor(s, rows)
		}
	}
	s := &descriptorSlot{rows: rows, cols: cols, typ: typ, data: make([]byte, rows*cols*elemSize), inUse: true}
	p.slots = append(p.slots, s)
	return p.handleFor(s, rows)
}

func (p *descriptorPool) handleFor(s *descriptorSlot, viewRows int) *Handle[*DescriptorMatrix] {
	elemSize := int(s.typ.bytesPerElem())
	viewLen := viewRows * s.cols * elemSize
	if viewLen > len(s.data) {
		viewLen = len(s.data)
	}
	return &Handle[*DescriptorMatrix]{
		Value: &DescriptorMatrix{Rows: viewRows, Cols: s.cols, Type: s.typ, Data: s.data[:viewLen]},
		release: func() {
			p.mu.Lock()
			s.inUse = false
			p.mu.Unlock()
		},
	}
}

func (p *descriptorPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var st Stats
	for _, s := range p.slots {
		st.Allocated++
		if !s.inUse {
			st.Free++
		}
		st.Bytes += int64(len(s.data))
	}
	return st
}

type pointSlot struct {
	capacity int
	points   []geom.Point
	inUse    bool
}

type pointPool struct {
	mu    sync.Mutex
	slots []*pointSlot
}

func newPointPool() *pointPool { return &pointPool{} }

// AcquirePoints returns a cleared vector with reserved capacity
//.
func (p *pointPool) Acquire(capacity int) *Handle[*[]geom.Point] {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.slots {
		if !s.inUse && cap(s.points) >= capacity {
			s.inUse = true
			s.points = s.points[:0]
			return p.handleFor(s)
		}
	}
	for _, s := range p.slots {
		if !s.inUse {
			s.capacity = capacity
			s.points = make([]geom.Point, 0, capacity)
			s.inUse = true
			return p.handleFor(s)
		}
	}
	s := &pointSlot{capacity: capacity, points: make([]geom.Point, 0, capacity), inUse: true}
	p.slots = append(p.slots, s)
	return p.handleFor(s)
}

func (p *pointPool) handleFor(s *pointSlot) *Handle[*[]geom.Point] {
	return &Handle[*[]geom.Point]{
		Value: &s.points,
		release: func() {
			p.mu.Lock()
			s.inUse = false
			p.mu.Unlock()
		},
	}
}

func (p *pointPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var st Stats
	for _, s := range p.slots {
		st.Allocated++
		if !s.inUse {
			st.Free++
		}
		st.Bytes += int64(cap(s.points)) * 16
	}
	return st
}

// Pool bundles the three independently-locked pools // describes: frames, descriptor matrices, and point vectors.
type Pool struct {
	frames      *framePool
	descriptors *descriptorPool
	points      *pointPool
}

// New returns an empty Pool; buffers are allocated lazily on first
// acquisition of a given shape.
func New() *Pool {
	return &Pool{
		frames:      newFramePool(),
		descriptors: newDescriptorPool(),
		points:      newPointPool(),
	}
}

func (p *Pool) AcquireFrame(w, h int, typ PixelType) *Handle[*Frame] {
	return p.frames.Acquire(w, h, typ)
}

func (p *Pool) AcquireDescriptors(rows, cols int, typ PixelType) *Handle[*DescriptorMatrix] {
	return p.descriptors.Acquire(rows, cols, typ)
}

func (p *Pool) AcquirePoints(capacity int) *Handle[*[]geom.Point] {
	return p.points.Acquire(capacity)
}

// AllStats returns per-pool allocation stats for diagnostics/profiling.
func (p *Pool) AllStats() map[string]Stats {
	return map[string]Stats{
		"frames":      p.frames.Stats(),
		"descriptors": p.descriptors.Stats(),
		"points":      p.points.Stats(),
	}
}
