package cvprim

import (
	"testing"

	"github.com/arengine/arengine/internal/memorypool"
)

func TestHammingDistance_Identical(t *testing.T) {
	a := []byte{0xFF, 0x00, 0xAA}
	if d := HammingDistance(a, a); d != 0 {
		t.Fatalf("expected 0 distance for identical rows, got %d", d)
	}
}

func TestHammingDistance_AllBitsDiffer(t *testing.T) {
	a := []byte{0x00}
	b := []byte{0xFF}
	if d := HammingDistance(a, b); d != 8 {
		t.Fatalf("expected 8, got %d", d)
	}
}

func TestDescriptorMatrix_FloatRoundTrip(t *testing.T) {
	m := NewDescriptorMatrix(Float, 2, 3)
	m.SetRowFloat(0, []float64{1.5, -2.25, 3})
	m.SetRowFloat(1, []float64{0, 0, 0})
	got := m.RowFloat(0)
	want := []float64{1.5, -2.25, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("row 0[%d]: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestFakeDetector_TranslationInvariantDescriptor(t *testing.T) {
	w, h := 64, 64
	makeGray := func(offset int) []byte {
		data := make([]byte, w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := (x*7 + y*13 + offset) % 256
				data[y*w+x] = byte(v)
			}
		}
		return data
	}
	gray1 := makeGray(0)
	gray2 := make([]byte, w*h)
	// Shift content by (8, 0): gray2(x,y) = gray1(x-8, y) for x>=8.
	for y := 0; y < h; y++ {
		for x := 8; x < w; x++ {
			gray2[y*w+x] = gray1[y*w+x-8]
		}
	}

	d := DefaultFakeDetector()
	f1 := makeFrame(w, h, gray1)
	f2 := makeFrame(w, h, gray2)

	kp1, desc1, err := d.DetectAndCompute(f1)
	if err != nil || len(kp1) == 0 {
		t.Fatalf("expected keypoints in frame 1, err=%v", err)
	}
	// Find a keypoint well within the shifted region and confirm the
	// descriptor at (x+8, y) in frame 2 matches.
	for i, kp := range kp1 {
		x, y := int(kp.X), int(kp.Y)
		if x < d.PatchRadius+9 || x+8+d.PatchRadius+1 >= w {
			continue
		}
		d2 := d.describe(f2, x+8, y)
		dist := HammingDistance(desc1.Row(i), d2)
		if dist != 0 {
			t.Fatalf("expected identical descriptor after pure translation, hamming=%d", dist)
		}
		return
	}
	t.Skip("no keypoint far enough from the shift boundary to test")
}

func makeFrame(w, h int, data []byte) memorypool.Frame {
	return memorypool.Frame{Width: w, Height: h, Type: memorypool.Gray8, Data: data}
}
