// Package cvprim declares the external image-processing and
// linear-algebra primitives treats as black boxes
// (cvtColorToGrayscale, gaussianBlur, clahe, a binary/float feature
// detector, knnMatch, goodFeaturesToTrack, calcOpticalFlowPyrLK) and
// the descriptor representation shared across the detection/tracking
// pipeline. Homography solving and the Kalman filter are NOT declared
// here: Open Question (b) and DESIGN.md's domain-stack note
// resolve those to in-repo gonum/mat implementations
// (internal/geom, internal/kalmantrack) rather than a second injected
// interface.
//
// Detector(out-of-scope ) is consumed the way the
// teacher consumes its external latency/roofline coefficients in
// sim/latency — as injected data/behavior the core package never
// reimplements.
package cvprim

import (
	"math"
	"math/bits"

	"github.com/arengine/arengine/internal/geom"
	"github.com/arengine/arengine/internal/memorypool"
)

// DescriptorType names the element type of a descriptor row. // Open Question (a): exactly one type is used per build.
type DescriptorType int

const (
	Binary DescriptorType = iota
	Float
)

func (t DescriptorType) String() string {
	if t == Float {
		return "float"
	}
	return "binary"
}

// KeyPoint is a detector output: position in image pixels plus the
// response/size/angle/octave metadata requires.
type KeyPoint struct {
	X, Y     float64
	Response float64
	Size     float64
	Angle    float64
	Octave   int
}

// DescriptorMatrix is a dense, row-major set of descriptors parallel
// to a KeyPoint slice. Binary rows are Cols raw bytes each; float
// rows are Cols float64s packed 8 bytes each, little-endian, so the
// matrix can be backed directly by a memorypool.DescriptorMatrix byte
// buffer without a second allocation.
type DescriptorMatrix struct {
	Type DescriptorType
	Rows int
	Cols int
	Data []byte
}

func bytesPerRow(t DescriptorType, cols int) int {
	if t == Float {
		return cols * 8
	}
	return cols
}

// NewDescriptorMatrix allocates a zeroed matrix directly (bypassing
// the pool); callers on the hot path should instead build one over a
// memorypool.Handle's backing bytes via FromPoolBuffer.
func NewDescriptorMatrix(t DescriptorType, rows, cols int) DescriptorMatrix {
	return DescriptorMatrix{Type: t, Rows: rows, Cols: cols, Data: make([]byte, rows*bytesPerRow(t, cols))}
}

// FromPoolBuffer wraps a pooled descriptor buffer (acquired via
// memorypool.Pool.AcquireDescriptors) as a DescriptorMatrix view,
// keeping the hot path allocation-free.
func FromPoolBuffer(buf *memorypool.DescriptorMatrix, t DescriptorType) DescriptorMatrix {
	return DescriptorMatrix{Type: t, Rows: buf.Rows, Cols: buf.Cols, Data: buf.Data}
}

// Row returns the raw bytes of row i for a binary matrix.
func (m DescriptorMatrix) Row(i int) []byte {
	step := bytesPerRow(m.Type, m.Cols)
	return m.Data[i*step : (i+1)*step]
}

// RowFloat decodes row i of a float matrix into Cols float64 values.
func (m DescriptorMatrix) RowFloat(i int) []float64 {
	step := bytesPerRow(m.Type, m.Cols)
	row := m.Data[i*step : (i+1)*step]
	out := make([]float64, m.Cols)
	for j := 0; j < m.Cols; j++ {
		out[j] = decodeFloat64(row[j*8 : j*8+8])
	}
	return out
}

// SetRowFloat encodes v into row i of a float matrix.
func (m DescriptorMatrix) SetRowFloat(i int, v []float64) {
	step := bytesPerRow(m.Type, m.Cols)
	row := m.Data[i*step : (i+1)*step]
	for j, f := range v {
		encodeFloat64(row[j*8:j*8+8], f)
	}
}

func encodeFloat64(b []byte, f float64) {
	bits64 := math.Float64bits(f)
	for i := 0; i < 8; i++ {
		b[i] = byte(bits64 >> (8 * i))
	}
}

func decodeFloat64(b []byte) float64 {
	var bits64 uint64
	for i := 0; i < 8; i++ {
		bits64 |= uint64(b[i]) << (8 * i)
	}
	return math.Float64frombits(bits64)
}

// Slice returns a view onto rows [lo,hi) sharing the same backing
// array, used when truncating to the top-response keypoints:
// descriptors are truncated in lockstep with their keypoints.
func (m DescriptorMatrix) Slice(lo, hi int) DescriptorMatrix {
	step := bytesPerRow(m.Type, m.Cols)
	return DescriptorMatrix{Type: m.Type, Rows: hi - lo, Cols: m.Cols, Data: m.Data[lo*step : hi*step]}
}

// HammingDistance returns the popcount of a XOR b.
func HammingDistance(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	d := 0
	for i := 0; i < n; i++ {
		d += bits.OnesCount8(a[i] ^ b[i])
	}
	return d
}

// EuclideanDistance returns the L2 distance between a and b.
func EuclideanDistance(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return math.Sqrt(s)
}

// RowDistance returns the distance between row i of a and row j of b
// (Hamming for binary, Euclidean for float). a and b must share a
// descriptor type.
func RowDistance(a DescriptorMatrix, i int, b DescriptorMatrix, j int) float64 {
	if a.Type == Float {
		return EuclideanDistance(a.RowFloat(i), b.RowFloat(j))
	}
	return float64(HammingDistance(a.Row(i), b.Row(j)))
}

// Detector is the injected binary or float feature primitive
// (detectAndCompute(gray) -> (KeyPoints, DescMat)), chosen by
// config.DetectorConfig.DetectorName/DescriptorType. The core treats
// it as a black box distinguished only by descriptor element type.
type Detector interface {
	DetectAndCompute(gray memorypool.Frame) ([]KeyPoint, DescriptorMatrix, error)
}

// ImagePrimitives groups the preprocessing primitives of // (cvtColorToGrayscale, gaussianBlur, clahe) consumed by
// internal/extract's FeatureExtractor.
type ImagePrimitives interface {
	ToGray(src memorypool.Frame) (memorypool.Frame, error)
	GaussianBlur(gray memorypool.Frame, kernel int, sigma float64) (memorypool.Frame, error)
	CLAHE(gray memorypool.Frame, clipLimit float64, tileSize int) (memorypool.Frame, error)
}

// MatchCandidate is one knnMatch result: trainIdx with its distance to
// the query descriptor, ordered ascending by distance.
type MatchCandidate struct {
	QueryIdx int
	TrainIdx int
	Distance float64
}

// Matcher is the injected knnMatch primitive.
type Matcher interface {
	KNNMatch(query, train DescriptorMatrix, k int) [][]MatchCandidate
}

// CornerDetector is the injected goodFeaturesToTrack primitive,
// masked to the interior of a quadrilateral.
type CornerDetector interface {
	GoodFeaturesToTrack(gray memorypool.Frame, quad [4]geom.Point, maxCorners int, quality, minDistance float64) ([]geom.Point, error)
}

// OpticalFlow is the injected calcOpticalFlowPyrLK primitive. Status
// reports, per point, whether tracking succeeded.
type OpticalFlow interface {
	CalcOpticalFlowPyrLK(prevGray, currGray memorypool.Frame, prevPts []geom.Point) (currPts []geom.Point, status []bool, err error)
}
