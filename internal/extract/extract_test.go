package extract

import (
	"testing"

	"github.com/arengine/arengine/config"
	"github.com/arengine/arengine/internal/cvprim"
	"github.com/arengine/arengine/internal/memorypool"
)

func checkerboardFrame(w, h int) memorypool.Frame {
	data := make([]byte, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := (x*11 + y*17) % 256
			data[y*w+x] = byte(v)
		}
	}
	return memorypool.Frame{Width: w, Height: h, Type: memorypool.Gray8, Data: data}
}

func TestExtract_ParityAndCapEnforced(t *testing.T) {
	e := New(cvprim.FakeImagePrimitives{}, cvprim.DefaultFakeDetector())
	gray := checkerboardFrame(128, 128)

	kps, desc, err := e.Extract(gray, config.DefaultPreprocessConfig(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(kps) != desc.Rows {
		t.Fatalf("parity violated: %d keypoints, %d descriptor rows", len(kps), desc.Rows)
	}
	if len(kps) > 5 {
		t.Fatalf("expected cap to min(5, detected), got %d", len(kps))
	}
}

func TestExtract_CapKeepsTopResponse(t *testing.T) {
	e := New(cvprim.FakeImagePrimitives{}, cvprim.DefaultFakeDetector())
	gray := checkerboardFrame(128, 128)

	full, _, err := e.Extract(gray, config.DefaultPreprocessConfig(), 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(full) < 10 {
		t.Fatalf("expected a reasonably sized detection set for the cap test, got %d", len(full))
	}

	capped, desc, err := e.Extract(gray, config.DefaultPreprocessConfig(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(capped) != 3 || desc.Rows != 3 {
		t.Fatalf("expected exactly 3 kept, got %d keypoints / %d rows", len(capped), desc.Rows)
	}
	for i := 0; i < len(capped)-1; i++ {
		if capped[i].Response < capped[i+1].Response {
			t.Fatalf("expected descending response order, got %v then %v", capped[i].Response, capped[i+1].Response)
		}
	}
}

func TestExtract_NoFeaturesOnBlankFrame(t *testing.T) {
	e := New(cvprim.FakeImagePrimitives{}, cvprim.DefaultFakeDetector())
	w, h := 64, 64
	data := make([]byte, w*h)
	for i := range data {
		data[i] = 128
	}
	blank := memorypool.Frame{Width: w, Height: h, Type: memorypool.Gray8, Data: data}

	_, _, err := e.Extract(blank, config.DefaultPreprocessConfig(), 50)
	if err == nil {
		t.Fatalf("expected NoFeatures on a perfectly flat frame")
	}
}
