package cmd

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/arengine/arengine/internal/memorypool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestPNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: byte(x * 4), G: byte(y * 4), B: 128, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestLoadRGBAFrame_DecodesPNGIntoRGBA8Buffer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ref.png")
	writeTestPNG(t, path, 16, 12)

	frame, err := loadRGBAFrame(path)
	require.NoError(t, err)
	assert.Equal(t, 16, frame.Width)
	assert.Equal(t, 12, frame.Height)
	assert.Equal(t, memorypool.RGBA8, frame.Type)
	assert.Len(t, frame.Data, 16*12*4)
	// Opaque source image must round-trip a fully opaque alpha channel.
	assert.Equal(t, byte(255), frame.Data[3])
}

func TestLoadRGBAFrame_MissingFileReturnsError(t *testing.T) {
	_, err := loadRGBAFrame(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}
