package cvprim

import (
	"math"
	"sort"

	"github.com/arengine/arengine/internal/geom"
	"github.com/arengine/arengine/internal/memorypool"
)

// FakeDetector is a deterministic stand-in for a real BRISK/ORB-style
// binary detector, used by tests and end-to-end scenarios in place of
// the real CV primitive. It samples a
// regular grid of candidate keypoints, scores them with a simple
// corner response, and builds a BRIEF-like binary descriptor from a
// fixed, non-random sampling pattern so that identical image content
// always yields an identical descriptor regardless of position.
type FakeDetector struct {
	GridStep        int
	PatchRadius     int
	DescriptorBytes int
	MinResponse     float64

	pairs [][4]int
}

// DefaultFakeDetector returns a FakeDetector tuned to produce a
// healthy number of keypoints on a few-hundred-pixel test image.
func DefaultFakeDetector() *FakeDetector {
	return &FakeDetector{GridStep: 6, PatchRadius: 8, DescriptorBytes: 32, MinResponse: 40}
}

func (d *FakeDetector) samplingPairs() [][4]int {
	if d.pairs != nil {
		return d.pairs
	}
	nBits := d.DescriptorBytes * 8
	span := d.PatchRadius*2 + 1
	pairs := make([][4]int, nBits)
	for i := 0; i < nBits; i++ {
		a := (i*37 + 11) % (span * span)
		b := (i*131 + 59) % (span * span)
		pairs[i] = [4]int{a/span - d.PatchRadius, a%span - d.PatchRadius, b/span - d.PatchRadius, b%span - d.PatchRadius}
	}
	d.pairs = pairs
	return pairs
}

func pixel(gray memorypool.Frame, x, y int) int {
	if x < 0 || y < 0 || x >= gray.Width || y >= gray.Height {
		return 0
	}
	return int(gray.Data[y*gray.Width+x])
}

// cornerResponse is a simple Harris-like variance score: the sum of
// squared intensity differences between the center pixel and its 8
// neighbors. Deterministic and cheap, sufficient to rank candidates.
func cornerResponse(gray memorypool.Frame, x, y int) float64 {
	c := pixel(gray, x, y)
	var s float64
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			diff := float64(pixel(gray, x+dx, y+dy) - c)
			s += diff * diff
		}
	}
	return s
}

func (d *FakeDetector) describe(gray memorypool.Frame, x, y int) []byte {
	pairs := d.samplingPairs()
	out := make([]byte, d.DescriptorBytes)
	for i, pr := range pairs {
		p1 := pixel(gray, x+pr[0], y+pr[1])
		p2 := pixel(gray, x+pr[2], y+pr[3])
		if p1 < p2 {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

func (d *FakeDetector) DetectAndCompute(gray memorypool.Frame) ([]KeyPoint, DescriptorMatrix, error) {
	margin := d.PatchRadius + 1
	var kps []KeyPoint
	var rows [][]byte
	for y := margin; y < gray.Height-margin; y += d.GridStep {
		for x := margin; x < gray.Width-margin; x += d.GridStep {
			resp := cornerResponse(gray, x, y)
			if resp < d.MinResponse {
				continue
			}
			kps = append(kps, KeyPoint{X: float64(x), Y: float64(y), Response: resp, Size: float64(d.PatchRadius * 2), Octave: 0})
			rows = append(rows, d.describe(gray, x, y))
		}
	}
	if len(kps) == 0 {
		return nil, DescriptorMatrix{}, nil
	}
	m := NewDescriptorMatrix(Binary, len(kps), d.DescriptorBytes)
	for i, row := range rows {
		copy(m.Row(i), row)
	}
	return kps, m, nil
}

// FakeImagePrimitives implements ImagePrimitives with a plain
// luminance average for grayscale conversion, a small box filter
// standing in for Gaussian blur, and an unchanged copy standing in for
// CLAHE (the exact shape of these
// primitives is out of scope ; tests need something
// deterministic, not photometrically accurate).
type FakeImagePrimitives struct{}

func (FakeImagePrimitives) ToGray(src memorypool.Frame) (memorypool.Frame, error) {
	if src.Type == memorypool.Gray8 {
		out := make([]byte, len(src.Data))
		copy(out, src.Data)
		return memorypool.Frame{Width: src.Width, Height: src.Height, Type: memorypool.Gray8, Data: out}, nil
	}
	n := src.Width * src.Height
	out := make([]byte, n)
	stride := 4
	for i := 0; i < n; i++ {
		base := i * stride
		if base+2 < len(src.Data) {
			r, g, b := int(src.Data[base]), int(src.Data[base+1]), int(src.Data[base+2])
			out[i] = byte((r + g + b) / 3)
		}
	}
	return memorypool.Frame{Width: src.Width, Height: src.Height, Type: memorypool.Gray8, Data: out}, nil
}

func (FakeImagePrimitives) GaussianBlur(gray memorypool.Frame, kernel int, sigma float64) (memorypool.Frame, error) {
	return boxFilter(gray, kernel/2), nil
}

func (FakeImagePrimitives) CLAHE(gray memorypool.Frame, clipLimit float64, tileSize int) (memorypool.Frame, error) {
	out := make([]byte, len(gray.Data))
	copy(out, gray.Data)
	return memorypool.Frame{Width: gray.Width, Height: gray.Height, Type: memorypool.Gray8, Data: out}, nil
}

func boxFilter(gray memorypool.Frame, radius int) memorypool.Frame {
	if radius <= 0 {
		out := make([]byte, len(gray.Data))
		copy(out, gray.Data)
		return memorypool.Frame{Width: gray.Width, Height: gray.Height, Type: memorypool.Gray8, Data: out}
	}
	out := make([]byte, len(gray.Data))
	for y := 0; y < gray.Height; y++ {
		for x := 0; x < gray.Width; x++ {
			sum, n := 0, 0
			for dy := -radius; dy <= radius; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					xi, yi := x+dx, y+dy
					if xi < 0 || yi < 0 || xi >= gray.Width || yi >= gray.Height {
						continue
					}
					sum += int(gray.Data[yi*gray.Width+xi])
					n++
				}
			}
			out[y*gray.Width+x] = byte(sum / n)
		}
	}
	return memorypool.Frame{Width: gray.Width, Height: gray.Height, Type: memorypool.Gray8, Data: out}
}

// FakeMatcher is a brute-force KNN matcher over RowDistance, used in
// place of the injected BFMatcher primitive.
type FakeMatcher struct{}

func (FakeMatcher) KNNMatch(query, train DescriptorMatrix, k int) [][]MatchCandidate {
	out := make([][]MatchCandidate, query.Rows)
	for qi := 0; qi < query.Rows; qi++ {
		cands := make([]MatchCandidate, train.Rows)
		for ti := 0; ti < train.Rows; ti++ {
			cands[ti] = MatchCandidate{QueryIdx: qi, TrainIdx: ti, Distance: RowDistance(query, qi, train, ti)}
		}
		sort.Slice(cands, func(i, j int) bool { return cands[i].Distance < cands[j].Distance })
		if k < len(cands) {
			cands = cands[:k]
		}
		out[qi] = cands
	}
	return out
}

// FakeCornerDetector implements goodFeaturesToTrack by reusing the
// same corner-response grid scan as FakeDetector, restricted to
// points inside the tracked quadrilateral.
type FakeCornerDetector struct {
	GridStep int
}

func DefaultFakeCornerDetector() *FakeCornerDetector { return &FakeCornerDetector{GridStep: 6} }

func (d *FakeCornerDetector) GoodFeaturesToTrack(gray memorypool.Frame, quad [4]geom.Point, maxCorners int, quality, minDistance float64) ([]geom.Point, error) {
	type scored struct {
		p geom.Point
		r float64
	}
	var cands []scored
	for y := 1; y < gray.Height-1; y += d.GridStep {
		for x := 1; x < gray.Width-1; x += d.GridStep {
			p := geom.Point{X: float64(x), Y: float64(y)}
			if !pointInQuad(p, quad) {
				continue
			}
			cands = append(cands, scored{p: p, r: cornerResponse(gray, x, y)})
		}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].r > cands[j].r })

	var out []geom.Point
	for _, c := range cands {
		tooClose := false
		for _, o := range out {
			if math.Hypot(c.p.X-o.X, c.p.Y-o.Y) < minDistance {
				tooClose = true
				break
			}
		}
		if tooClose {
			continue
		}
		out = append(out, c.p)
		if len(out) >= maxCorners {
			break
		}
	}
	return out, nil
}

func pointInQuad(p geom.Point, quad [4]geom.Point) bool {
	inside := false
	for i, j := 0, 3; i < 4; j, i = i, i+1 {
		pi, pj := quad[i], quad[j]
		if (pi.Y > p.Y) != (pj.Y > p.Y) {
			xIntersect := (pj.X-pi.X)*(p.Y-pi.Y)/(pj.Y-pi.Y) + pi.X
			if p.X < xIntersect {
				inside = !inside
			}
		}
	}
	return inside
}

// FakeOpticalFlow implements calcOpticalFlowPyrLK as a small-window
// patch search: for each previous point it searches a bounded offset
// window in the current frame for the best sum-of-absolute-differences
// match, standing in for pyramidal Lucas-Kanade tracking.
type FakeOpticalFlow struct {
	SearchRadius int
	PatchRadius  int
}

func DefaultFakeOpticalFlow() *FakeOpticalFlow { return &FakeOpticalFlow{SearchRadius: 6, PatchRadius: 3} }

func patchSAD(a, b memorypool.Frame, ax, ay, bx, by, radius int) int {
	sum := 0
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			p1 := pixel(a, ax+dx, ay+dy)
			p2 := pixel(b, bx+dx, by+dy)
			diff := p1 - p2
			if diff < 0 {
				diff = -diff
			}
			sum += diff
		}
	}
	return sum
}

func (f *FakeOpticalFlow) CalcOpticalFlowPyrLK(prevGray, currGray memorypool.Frame, prevPts []geom.Point) ([]geom.Point, []bool, error) {
	out := make([]geom.Point, len(prevPts))
	status := make([]bool, len(prevPts))
	for i, p := range prevPts {
		px, py := int(p.X), int(p.Y)
		bestSAD := -1
		bestX, bestY := px, py
		for dy := -f.SearchRadius; dy <= f.SearchRadius; dy++ {
			for dx := -f.SearchRadius; dx <= f.SearchRadius; dx++ {
				x, y := px+dx, py+dy
				if x-f.PatchRadius < 0 || y-f.PatchRadius < 0 || x+f.PatchRadius >= currGray.Width || y+f.PatchRadius >= currGray.Height {
					continue
				}
				sad := patchSAD(prevGray, currGray, px, py, x, y, f.PatchRadius)
				if bestSAD == -1 || sad < bestSAD {
					bestSAD = sad
					bestX, bestY = x, y
				}
			}
		}
		if bestSAD == -1 {
			status[i] = false
			out[i] = p
			continue
		}
		out[i] = geom.Point{X: float64(bestX), Y: float64(bestY)}
		status[i] = true
	}
	return out, status, nil
}
