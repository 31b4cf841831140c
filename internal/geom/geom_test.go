package geom

import (
	"math"
	"math/rand/v2"
	"testing"
)

func TestValidateQuad_ConcaveRejected(t *testing.T) {
	corners := []Point{{0, 0}, {100, 0}, {50, 50}, {100, 100}}
	v := ValidateQuad(corners, 1000, 1000)
	if v.Valid {
		t.Fatalf("expected concave quad to be rejected")
	}
}

func TestValidateQuad_SquareAccepted(t *testing.T) {
	corners := []Point{{0, 0}, {100, 0}, {100, 100}, {0, 100}}
	v := ValidateQuad(corners, 1000, 1000)
	if !v.Valid {
		t.Fatalf("expected square quad to be accepted, reason=%q", v.Reason)
	}
}

func TestValidateQuad_TinyEdgeRejected(t *testing.T) {
	corners := []Point{{0, 0}, {2, 0}, {2, 2}, {0, 2}}
	v := ValidateQuad(corners, 1000, 1000)
	if v.Valid {
		t.Fatalf("expected sub-minimum edge length to be rejected")
	}
}

func TestValidateQuad_ExtremeAspectRejected(t *testing.T) {
	corners := []Point{{0, 0}, {1000, 0}, {1000, 10}, {0, 10}}
	v := ValidateQuad(corners, 2000, 2000)
	if v.Valid {
		t.Fatalf("expected aspect ratio > 5 to be rejected")
	}
}

func TestValidateQuad_OutOfMarginPenalizesGeometry(t *testing.T) {
	inBounds := []Point{{10, 10}, {110, 10}, {110, 110}, {10, 110}}
	outOfBounds := []Point{{-50, -50}, {110, -50}, {110, 110}, {-50, 110}}

	vIn := ValidateQuad(inBounds, 200, 200)
	vOut := ValidateQuad(outOfBounds, 200, 200)
	if !vIn.Valid || !vOut.Valid {
		t.Fatalf("expected both quads to pass convexity/edge checks")
	}
	if !(vOut.GeometryScore < vIn.GeometryScore) {
		t.Fatalf("expected out-of-margin corners to reduce geometry score: in=%f out=%f", vIn.GeometryScore, vOut.GeometryScore)
	}
}

func TestSolveHomographyDLT_IdentityRoundTrip(t *testing.T) {
	src := []Point{{0, 0}, {100, 0}, {100, 100}, {0, 100}}
	dst := []Point{{0, 0}, {100, 0}, {100, 100}, {0, 100}}
	h, ok := SolveHomographyDLT(src, dst)
	if !ok {
		t.Fatalf("expected identity mapping to solve")
	}
	got := Transform(h, src)
	for i := range got {
		if math.Hypot(got[i].X-dst[i].X, got[i].Y-dst[i].Y) > 1e-6 {
			t.Fatalf("corner %d: got %v want %v", i, got[i], dst[i])
		}
	}
}

func TestSolveHomographyDLT_Translation(t *testing.T) {
	src := []Point{{0, 0}, {128, 0}, {128, 128}, {0, 128}}
	dst := []Point{{50, 30}, {178, 30}, {178, 158}, {50, 158}}
	h, ok := SolveHomographyDLT(src, dst)
	if !ok {
		t.Fatalf("expected translation mapping to solve")
	}
	got := Transform(h, src)
	for i := range got {
		if math.Hypot(got[i].X-dst[i].X, got[i].Y-dst[i].Y) > 1e-3 {
			t.Fatalf("corner %d: got %v want %v", i, got[i], dst[i])
		}
	}
}

func TestRansacHomography_RecoversTranslationDespiteOutliers(t *testing.T) {
	var src, dst []Point
	for i := 0; i < 40; i++ {
		x, y := float64(i%8)*10, float64(i/8)*10
		src = append(src, Point{x, y})
		dst = append(dst, Point{x + 20, y + 15})
	}
	// Inject outliers.
	dst[0] = Point{500, 500}
	dst[1] = Point{-300, 10}

	rng := rand.New(rand.NewPCG(1, 2))
	h, mask, ok := RansacHomography(src, dst, 3.0, 500, func(n int) int { return rng.IntN(n) })
	if !ok {
		t.Fatalf("expected RANSAC to find a model")
	}
	inliers := 0
	for _, m := range mask {
		if m {
			inliers++
		}
	}
	if inliers < len(src)-2-2 { // allow a little slack
		t.Fatalf("expected most correspondences to be inliers, got %d/%d", inliers, len(src))
	}
	got := Transform(h, []Point{{0, 0}})
	if math.Hypot(got[0].X-20, got[0].Y-15) > 1.0 {
		t.Fatalf("recovered homography inaccurate: %v", got[0])
	}
}

func TestDet3x3_Identity(t *testing.T) {
	if Identity().Det3x3() != 1 {
		t.Fatalf("expected identity determinant 1")
	}
}
