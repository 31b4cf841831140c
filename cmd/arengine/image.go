package cmd

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/arengine/arengine/internal/memorypool"
)

// loadRGBAFrame decodes a PNG or JPEG file into an RGBA8
// memorypool.Frame, the same raw-buffer shape Engine.ProcessFrame
// accepts.
func loadRGBAFrame(path string) (memorypool.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return memorypool.Frame{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return memorypool.Frame{}, fmt.Errorf("decode %s: %w", path, err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	data := make([]byte, w*h*4)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			data[i] = byte(r >> 8)
			data[i+1] = byte(g >> 8)
			data[i+2] = byte(b >> 8)
			data[i+3] = byte(a >> 8)
			i += 4
		}
	}
	return memorypool.Frame{Width: w, Height: h, Type: memorypool.RGBA8, Data: data}, nil
}
