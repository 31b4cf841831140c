// Package geom implements the homography estimation, RANSAC fitting,
// and quadrilateral validation shared by FeatureMatcher (C6) and
// OpticalFlowTracker (C7).
//
// gonum.org/v1/gonum/mat is the numerical backbone here: homography is
// solved via the normalized Direct Linear Transform using gonum/mat's
// SVD, and RANSAC model scoring reuses the same solve. Validate is
// only ever called on the corners *after* they have been transformed
// by H, never before.
package geom

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Point is the shared 2-D coordinate type used for keypoints, corners,
// and tracked points throughout the engine.
type Point struct{ X, Y float64 }

// Homography is a row-major 3x3 projective transform.
type Homography [3][3]float64

// Identity returns the identity homography.
func Identity() Homography {
	return Homography{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Finite reports whether every entry of h is finite (not NaN/Inf),
// one of the homography-rejection checks.
func (h Homography) Finite() bool {
	for i := range h {
		for j := range h[i] {
			if math.IsNaN(h[i][j]) || math.IsInf(h[i][j], 0) {
				return false
			}
		}
	}
	return true
}

// Det3x3 returns the determinant of h.
func (h Homography) Det3x3() float64 {
	return h[0][0]*(h[1][1]*h[2][2]-h[1][2]*h[2][1]) -
		h[0][1]*(h[1][0]*h[2][2]-h[1][2]*h[2][0]) +
		h[0][2]*(h[1][0]*h[2][1]-h[1][1]*h[2][0])
}

// Transform applies h to pts via the standard 3x3 perspective
// transform (perspectiveTransform in ).
func Transform(h Homography, pts []Point) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		x := h[0][0]*p.X + h[0][1]*p.Y + h[0][2]
		y := h[1][0]*p.X + h[1][1]*p.Y + h[1][2]
		w := h[2][0]*p.X + h[2][1]*p.Y + h[2][2]
		if w == 0 {
			w = 1e-12
		}
		out[i] = Point{x / w, y / w}
	}
	return out
}

// normalize computes the similarity transform that moves pts to
// centroid (0,0) with average distance sqrt(2) from the origin
// (Hartley normalization), returning the normalized points and the
// 3x3 transform T such that normalized = T * pts.
func normalize(pts []Point) ([]Point, Homography) {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	n := float64(len(pts))
	cx /= n
	cy /= n

	var meanDist float64
	for _, p := range pts {
		dx, dy := p.X-cx, p.Y-cy
		meanDist += math.Hypot(dx, dy)
	}
	meanDist /= n
	if meanDist == 0 {
		meanDist = 1e-12
	}
	scale := math.Sqrt2 / meanDist

	t := Homography{
		{scale, 0, -scale * cx},
		{0, scale, -scale * cy},
		{0, 0, 1},
	}
	return Transform(t, pts), t
}

func invert3x3(h Homography) (Homography, bool) {
	det := h.Det3x3()
	if math.Abs(det) < 1e-20 {
		return Homography{}, false
	}
	inv := Homography{}
	inv[0][0] = (h[1][1]*h[2][2] - h[1][2]*h[2][1]) / det
	inv[0][1] = (h[0][2]*h[2][1] - h[0][1]*h[2][2]) / det
	inv[0][2] = (h[0][1]*h[1][2] - h[0][2]*h[1][1]) / det
	inv[1][0] = (h[1][2]*h[2][0] - h[1][0]*h[2][2]) / det
	inv[1][1] = (h[0][0]*h[2][2] - h[0][2]*h[2][0]) / det
	inv[1][2] = (h[0][2]*h[1][0] - h[0][0]*h[1][2]) / det
	inv[2][0] = (h[1][0]*h[2][1] - h[1][1]*h[2][0]) / det
	inv[2][1] = (h[0][1]*h[2][0] - h[0][0]*h[2][1]) / det
	inv[2][2] = (h[0][0]*h[1][1] - h[0][1]*h[1][0]) / det
	return inv, true
}

func matMul(a, b Homography) Homography {
	var out Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var s float64
			for k := 0; k < 3; k++ {
				s += a[i][k] * b[k][j]
			}
			out[i][j] = s
		}
	}
	return out
}

// SolveHomographyDLT computes the homography mapping src[i] -> dst[i]
// using the normalized Direct Linear Transform, solved via gonum/mat's
// SVD (the smallest-singular-vector solution of A h = 0). Requires at
// least 4 correspondences. Returns false if the SVD fails to converge
// or yields a degenerate (near-zero norm) solution.
func SolveHomographyDLT(src, dst []Point) (Homography, bool) {
	if len(src) < 4 || len(src) != len(dst) {
		return Homography{}, false
	}
	nSrc, tSrc := normalize(src)
	nDst, tDst := normalize(dst)

	n := len(nSrc)
	a := mat.NewDense(2*n, 9, nil)
	for i := 0; i < n; i++ {
		x, y := nSrc[i].X, nSrc[i].Y
		u, v := nDst[i].X, nDst[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return Homography{}, false
	}
	var v mat.Dense
	svd.VTo(&v)
	// Smallest singular value is last (gonum orders descending).
	rows, cols := v.Dims()
	if rows != 9 || cols != 9 {
		return Homography{}, false
	}
	var norm float64
	hVec := make([]float64, 9)
	for i := 0; i < 9; i++ {
		hVec[i] = v.At(i, 8)
		norm += hVec[i] * hVec[i]
	}
	if norm < 1e-20 {
		return Homography{}, false
	}

	hn := Homography{
		{hVec[0], hVec[1], hVec[2]},
		{hVec[3], hVec[4], hVec[5]},
		{hVec[6], hVec[7], hVec[8]},
	}

	// Denormalize: H = Tdst^-1 * Hn * Tsrc
	invTdst, ok := invert3x3(tDst)
	if !ok {
		return Homography{}, false
	}
	h := matMul(matMul(invTdst, hn), tSrc)
	if h[2][2] != 0 {
		scale := 1.0 / h[2][2]
		for i := range h {
			for j := range h[i] {
				h[i][j] *= scale
			}
		}
	}
	return h, true
}

// RansacHomography robustly estimates a homography from src -> dst
// correspondences using the contract: RANSAC with a
// pixel-distance inlier threshold over a fixed iteration budget.
// Returns the best homography, its inlier mask (parallel to src/dst),
// and whether a usable model was found.
func RansacHomography(src, dst []Point, threshold float64, maxIters int, rng func(n int) int) (Homography, []bool, bool) {
	n := len(src)
	if n < 4 || n != len(dst) {
		return Homography{}, nil, false
	}

	bestInliers := -1
	var bestH Homography
	var bestMask []bool

	for iter := 0; iter < maxIters; iter++ {
		idx := samplePoints(n, 4, rng)
		sampleSrc := make([]Point, 4)
		sampleDst := make([]Point, 4)
		for i, id := range idx {
			sampleSrc[i] = src[id]
			sampleDst[i] = dst[id]
		}
		h, ok := SolveHomographyDLT(sampleSrc, sampleDst)
		if !ok || !h.Finite() || math.Abs(h.Det3x3()) < 1e-6 {
			continue
		}
		mask := make([]bool, n)
		count := 0
		proj := Transform(h, src)
		for i := range proj {
			if math.Hypot(proj[i].X-dst[i].X, proj[i].Y-dst[i].Y) <= threshold {
				mask[i] = true
				count++
			}
		}
		if count > bestInliers {
			bestInliers = count
			bestH = h
			bestMask = mask
		}
	}

	if bestInliers < 4 {
		return Homography{}, nil, false
	}

	// Refine using all inliers from the winning sample.
	var inSrc, inDst []Point
	for i, ok := range bestMask {
		if ok {
			inSrc = append(inSrc, src[i])
			inDst = append(inDst, dst[i])
		}
	}
	if refined, ok := SolveHomographyDLT(inSrc, inDst); ok && refined.Finite() && math.Abs(refined.Det3x3()) >= 1e-6 {
		bestH = refined
	}
	return bestH, bestMask, true
}

// samplePoints draws k distinct indices in [0,n) using rng(n) ->
// [0,n). rng is injected so callers can make RANSAC deterministic in
// tests.
func samplePoints(n, k int, rng func(n int) int) []int {
	chosen := make(map[int]bool, k)
	out := make([]int, 0, k)
	for len(out) < k && len(out) < n {
		i := rng(n)
		if !chosen[i] {
			chosen[i] = true
			out = append(out, i)
		}
	}
	return out
}

// QuadValidation holds the geometric validation result for a
// transformed quadrilateral.
type QuadValidation struct {
	Valid          bool
	GeometryScore  float64
	AreaRatio      float64
	Reason         string
}

// ValidateQuad applies five geometric checks to corners
// (already transformed by H; never called pre-transform, per Open
// Question b). frameW/frameH bound the margin and area-ratio checks.
func ValidateQuad(corners []Point, frameW, frameH float64) QuadValidation {
	const margin = 10.0
	const minEdge = 5.0
	const maxAspect = 5.0

	if len(corners) != 4 {
		return QuadValidation{Valid: false, Reason: "corners != 4"}
	}

	score := 1.0

	for _, c := range corners {
		if c.X < -margin || c.X > frameW+margin || c.Y < -margin || c.Y > frameH+margin {
			score *= 0.7
		}
	}

	if !isConvexWound(corners) {
		return QuadValidation{Valid: false, GeometryScore: score, Reason: "non-convex or inconsistently wound"}
	}

	minLen := math.Inf(1)
	for i := 0; i < 4; i++ {
		j := (i + 1) % 4
		l := math.Hypot(corners[j].X-corners[i].X, corners[j].Y-corners[i].Y)
		if l < minLen {
			minLen = l
		}
	}
	if minLen < minEdge {
		return QuadValidation{Valid: false, GeometryScore: score, Reason: "edge shorter than minimum"}
	}

	w := (dist(corners[0], corners[1]) + dist(corners[3], corners[2])) / 2
	h := (dist(corners[0], corners[3]) + dist(corners[1], corners[2])) / 2
	if h == 0 || w == 0 {
		return QuadValidation{Valid: false, GeometryScore: score, Reason: "degenerate quad"}
	}
	aspect := math.Max(w/h, h/w)
	if aspect > maxAspect {
		return QuadValidation{Valid: false, GeometryScore: score, Reason: "aspect ratio too extreme"}
	}

	areaRatio := (w * h) / (frameW * frameH)
	if areaRatio < 0.001 || areaRatio > 0.9 {
		score *= 0.7
	}

	return QuadValidation{Valid: true, GeometryScore: score, AreaRatio: areaRatio}
}

func dist(a, b Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// isConvexWound checks that the four signed cross products of
// consecutive edge triples all share a sign.
func isConvexWound(c []Point) bool {
	var sign float64
	for i := 0; i < 4; i++ {
		a := c[i]
		b := c[(i+1)%4]
		d := c[(i+2)%4]
		e1x, e1y := b.X-a.X, b.Y-a.Y
		e2x, e2y := d.X-b.X, d.Y-b.Y
		cross := e1x*e2y - e1y*e2x
		if cross == 0 {
			return false
		}
		if i == 0 {
			sign = cross
		} else if (cross > 0) != (sign > 0) {
			return false
		}
	}
	return true
}
