// Package export persists segmentation results to disk: 16-bit TIFF label
// masks, 8-bit TIFF confidence scores and cell outlines, and an optional
// colorized PNG preview of the instance labels.
package export

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/tiff"

	"cellseg/pkg/postprocess"
	"cellseg/pkg/raster"
)

// Writer writes one file set per image into Dir. Files are named after the
// input image; the mask and outline names carry a watershed marker when the
// post-processing mode rewrote the instance labels.
type Writer struct {
	// Dir is the output directory, created on first write.
	Dir string

	// Mode selects the filename variant for the label outputs.
	Mode postprocess.Mode

	// SavePreview additionally writes a colorized PNG of the labels.
	SavePreview bool
}

// Persist implements the pipeline's persistence hook. It writes the label
// mask and outline as TIFFs, the score raster as an 8-bit TIFF, and the
// optional preview PNG.
func (w *Writer) Persist(name string, labels *raster.Raster[uint32], scores *raster.Raster[uint8]) error {
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}

	maskSuffix, outlineSuffix := "_mask.tif", "_outline.tif"
	if w.Mode == postprocess.ModeWatershed {
		maskSuffix, outlineSuffix = "_watershed_mask.tif", "_watershed_outline.tif"
	}

	if err := w.writeTIFF(name+maskSuffix, raster.LabelsGray16(labels)); err != nil {
		return err
	}
	if err := w.writeTIFF(name+outlineSuffix, raster.Gray(raster.Outline(labels))); err != nil {
		return err
	}
	if err := w.writeTIFF(name+"_score.tif", raster.Gray(scores)); err != nil {
		return err
	}

	if w.SavePreview {
		path := filepath.Join(w.Dir, name+"_preview.png")
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("error creating %s: %w", path, err)
		}
		defer f.Close()
		if err := png.Encode(f, Preview(labels)); err != nil {
			return fmt.Errorf("error encoding %s: %w", path, err)
		}
	}
	return nil
}

func (w *Writer) writeTIFF(filename string, img image.Image) error {
	path := filepath.Join(w.Dir, filename)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", path, err)
	}
	defer f.Close()

	opts := &tiff.Options{Compression: tiff.Deflate}
	if err := tiff.Encode(f, img, opts); err != nil {
		return fmt.Errorf("error encoding %s: %w", path, err)
	}
	return nil
}

// Preview renders instance labels as an RGBA image with a distinct,
// deterministic color per instance id and black background. Hues step by
// the golden angle so adjacent ids stay visually separable.
func Preview(labels *raster.Raster[uint32]) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, labels.Width, labels.Height))
	cache := map[uint32]color.RGBA{}
	for y := 0; y < labels.Height; y++ {
		for x := 0; x < labels.Width; x++ {
			id := labels.At(x, y)
			if id == 0 {
				img.SetRGBA(x, y, color.RGBA{A: 255})
				continue
			}
			c, ok := cache[id]
			if !ok {
				c = labelColor(id)
				cache[id] = c
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func labelColor(id uint32) color.RGBA {
	hue := math.Mod(float64(id)*137.50776405, 360)
	r, g, b := colorful.Hsv(hue, 0.65, 0.95).RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}
