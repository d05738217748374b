package brands

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
)

const baseIconSize = 256

// GenerateIcons writes icon.png (256x256) and icon@2x.png (512x512) into
// dir. The output is deterministic so regenerated assets diff cleanly.
func GenerateIcons(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	icon := renderIcon(baseIconSize)
	if err := writePNG(filepath.Join(dir, "icon.png"), icon); err != nil {
		return err
	}

	// The @2x asset is the same art upscaled; CatmullRom keeps the wave
	// edges smooth.
	big := image.NewRGBA(image.Rect(0, 0, baseIconSize*2, baseIconSize*2))
	draw.CatmullRom.Scale(big, big.Bounds(), icon, icon.Bounds(), draw.Src, nil)
	return writePNG(filepath.Join(dir, "icon@2x.png"), big)
}

// renderIcon draws the wave motif: deep blue field with three lightening
// sine bands.
func renderIcon(size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))

	bg := color.RGBA{R: 0x0d, G: 0x47, B: 0xa1, A: 0xff}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetRGBA(x, y, bg)
		}
	}

	waves := []struct {
		baseline  float64 // fraction of height
		amplitude float64
		phase     float64
		fill      color.RGBA
	}{
		{0.45, 0.06, 0, color.RGBA{R: 0x42, G: 0xa5, B: 0xf5, A: 0xff}},
		{0.60, 0.05, math.Pi / 2, color.RGBA{R: 0x90, G: 0xca, B: 0xf9, A: 0xff}},
		{0.75, 0.04, math.Pi, color.RGBA{R: 0xe3, G: 0xf2, B: 0xfd, A: 0xff}},
	}

	for _, w := range waves {
		for x := 0; x < size; x++ {
			t := float64(x) / float64(size) * 4 * math.Pi
			crest := w.baseline + w.amplitude*math.Sin(t+w.phase)
			top := int(crest * float64(size))
			for y := top; y < size; y++ {
				img.SetRGBA(x, y, w.fill)
			}
		}
	}
	return img
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return nil
}
