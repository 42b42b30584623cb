package export

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/tiff"

	"cellseg/pkg/postprocess"
	"cellseg/pkg/raster"
)

func testRasters() (*raster.Raster[uint32], *raster.Raster[uint8]) {
	labels := raster.New[uint32](20, 15)
	scores := raster.New[uint8](20, 15)
	for y := 2; y < 8; y++ {
		for x := 3; x < 9; x++ {
			labels.Set(x, y, 1)
			scores.Set(x, y, 180)
		}
	}
	for y := 9; y < 13; y++ {
		for x := 12; x < 17; x++ {
			labels.Set(x, y, 2)
			scores.Set(x, y, 90)
		}
	}
	return labels, scores
}

func decodeTIFF(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("missing output %s: %v", path, err)
	}
	defer f.Close()
	img, err := tiff.Decode(f)
	if err != nil {
		t.Fatalf("decoding %s: %v", path, err)
	}
	return img
}

func TestPersistWritesFileSet(t *testing.T) {
	labels, scores := testRasters()
	dir := t.TempDir()
	w := &Writer{Dir: dir, Mode: postprocess.ModeScore, SavePreview: true}

	if err := w.Persist("sample", labels, scores); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	mask := decodeTIFF(t, filepath.Join(dir, "sample_mask.tif"))
	g16, ok := mask.(*image.Gray16)
	if !ok {
		t.Fatalf("mask decoded as %T, expected Gray16", mask)
	}
	if got := g16.Gray16At(5, 5).Y; got != 1 {
		t.Errorf("mask pixel (5,5) = %d, expected 1", got)
	}
	if got := g16.Gray16At(14, 10).Y; got != 2 {
		t.Errorf("mask pixel (14,10) = %d, expected 2", got)
	}
	if got := g16.Gray16At(0, 0).Y; got != 0 {
		t.Errorf("background pixel = %d, expected 0", got)
	}

	score := decodeTIFF(t, filepath.Join(dir, "sample_score.tif"))
	if g, ok := score.(*image.Gray); !ok {
		t.Fatalf("score decoded as %T, expected Gray", score)
	} else if got := g.GrayAt(5, 5).Y; got != 180 {
		t.Errorf("score pixel (5,5) = %d, expected 180", got)
	}

	outline := decodeTIFF(t, filepath.Join(dir, "sample_outline.tif"))
	g, ok := outline.(*image.Gray)
	if !ok {
		t.Fatalf("outline decoded as %T, expected Gray", outline)
	}
	if got := g.GrayAt(3, 2).Y; got != 255 {
		t.Errorf("boundary pixel not marked: got %d", got)
	}
	if got := g.GrayAt(5, 5).Y; got != 0 {
		t.Errorf("interior pixel marked as boundary: got %d", got)
	}

	f, err := os.Open(filepath.Join(dir, "sample_preview.png"))
	if err != nil {
		t.Fatalf("missing preview: %v", err)
	}
	defer f.Close()
	if _, err := png.Decode(f); err != nil {
		t.Errorf("preview is not a valid PNG: %v", err)
	}
}

func TestPersistWatershedNaming(t *testing.T) {
	labels, scores := testRasters()
	dir := t.TempDir()
	w := &Writer{Dir: dir, Mode: postprocess.ModeWatershed}

	if err := w.Persist("sample", labels, scores); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	for _, name := range []string{"sample_watershed_mask.tif", "sample_watershed_outline.tif", "sample_score.tif"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected output %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "sample_preview.png")); !os.IsNotExist(err) {
		t.Errorf("preview written without SavePreview")
	}
}

func TestPreviewColors(t *testing.T) {
	labels, _ := testRasters()
	img := Preview(labels)

	bg := img.RGBAAt(0, 0)
	if bg.R != 0 || bg.G != 0 || bg.B != 0 {
		t.Errorf("background is not black: %v", bg)
	}
	a := img.RGBAAt(5, 5)
	b := img.RGBAAt(14, 10)
	if a == bg {
		t.Errorf("instance rendered as background")
	}
	if a == b {
		t.Errorf("distinct instances share a color: %v", a)
	}
	// Colors are deterministic across renders.
	if again := Preview(labels).RGBAAt(5, 5); again != a {
		t.Errorf("preview color not deterministic: %v vs %v", a, again)
	}
}
