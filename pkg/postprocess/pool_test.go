package postprocess

import (
	"testing"

	"cellseg/pkg/raster"
	"cellseg/pkg/roi"
)

// drawDisk stamps a filled disk of the given intensity onto an image.
func drawDisk(img *raster.Raster[uint8], cx, cy, radius int, value uint8) {
	for y := cy - radius; y <= cy+radius; y++ {
		for x := cx - radius; x <= cx+radius; x++ {
			if x < 0 || x >= img.Width || y < 0 || y >= img.Height {
				continue
			}
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= radius*radius {
				img.Set(x, y, value)
			}
		}
	}
}

// cellScene builds a synthetic intensity image scattered with bright cells
// and the matching instance labels derived from its foreground.
func cellScene(width, height int) (*raster.Raster[uint32], *raster.Raster[uint8]) {
	img := raster.New[uint8](width, height)
	for y := 16; y < height-8; y += 48 {
		for x := 16; x < width-8; x += 40 {
			drawDisk(img, x, y, 7, uint8(120+(x+y)%100))
		}
	}
	fg := raster.New[uint8](width, height)
	for i, v := range img.Pix {
		if v > 0 {
			fg.Pix[i] = 1
		}
	}
	labels, _ := roi.LabelComponents(fg)
	return labels, img
}

func TestNewPoolValidation(t *testing.T) {
	cases := []struct {
		name                       string
		tileSize, overlap, workers int
		mode                       Mode
	}{
		{"zero tile size", 0, 0, 4, ModeScore},
		{"overlap too large", 100, 100, 4, ModeScore},
		{"zero workers", 100, 10, 0, ModeScore},
		{"negative workers", 100, 10, -2, ModeScore},
		{"bad mode", 100, 10, 4, Mode("median")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewPool(tc.tileSize, tc.overlap, tc.workers, tc.mode); err == nil {
				t.Errorf("NewPool accepted invalid configuration %+v", tc)
			}
		})
	}
}

func TestProcessDeterministicAcrossWorkerCounts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping multi-pass determinism check in short mode")
	}
	labels, img := cellScene(350, 290)

	for _, mode := range []Mode{ModeWatershed, ModeScore} {
		var prevLabels *raster.Raster[uint32]
		var prevScores *raster.Raster[uint8]
		for _, workers := range []int{1, 8} {
			pool, err := NewPool(128, 16, workers, mode)
			if err != nil {
				t.Fatalf("NewPool failed: %v", err)
			}
			outLabels, outScores, err := pool.Process(labels, img)
			if err != nil {
				t.Fatalf("Process(%s, %d workers) failed: %v", mode, workers, err)
			}
			if prevLabels != nil {
				for i := range outLabels.Pix {
					if outLabels.Pix[i] != prevLabels.Pix[i] {
						t.Fatalf("%s: label pixel %d differs between worker counts: %d vs %d",
							mode, i, outLabels.Pix[i], prevLabels.Pix[i])
					}
				}
				for i := range outScores.Pix {
					if outScores.Pix[i] != prevScores.Pix[i] {
						t.Fatalf("%s: score pixel %d differs between worker counts", mode, i)
					}
				}
			}
			prevLabels, prevScores = outLabels, outScores
		}
	}
}

func TestScoreModePreservesLabels(t *testing.T) {
	labels, img := cellScene(200, 160)

	pool, err := NewPool(96, 12, 4, ModeScore)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	outLabels, outScores, err := pool.Process(labels, img)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	for i := range labels.Pix {
		if outLabels.Pix[i] != labels.Pix[i] {
			t.Fatalf("score mode altered label pixel %d: %d -> %d", i, labels.Pix[i], outLabels.Pix[i])
		}
	}
	for i := range outScores.Pix {
		if (outScores.Pix[i] != 0) != (labels.Pix[i] != 0) {
			t.Fatalf("score foreground does not match labels at pixel %d", i)
		}
	}
}

func TestWatershedSplitsTouchingInstances(t *testing.T) {
	// Two bright disks joined by a one-pixel-tall dim bridge: a single
	// foreground component that watershed should split in two.
	img := raster.New[uint8](48, 24)
	drawDisk(img, 12, 12, 6, 220)
	drawDisk(img, 36, 12, 6, 220)
	for x := 16; x <= 32; x++ {
		if img.At(x, 12) == 0 {
			img.Set(x, 12, 60)
		}
	}
	fg := raster.New[uint8](48, 24)
	for i, v := range img.Pix {
		if v > 0 {
			fg.Pix[i] = 1
		}
	}
	labels, n := roi.LabelComponents(fg)
	if n != 1 {
		t.Fatalf("fixture should be one merged component, got %d", n)
	}

	pool, err := NewPool(64, 8, 2, ModeWatershed)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	pool.BlurRadius = 0 // keep the tiny fixture's basins intact

	outLabels, outScores, err := pool.Process(labels, img)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	left := outLabels.At(12, 12)
	right := outLabels.At(36, 12)
	if left == 0 || right == 0 {
		t.Fatalf("disk centers lost their labels: left=%d right=%d", left, right)
	}
	if left == right {
		t.Errorf("touching instances were not split: both centers labeled %d", left)
	}

	ids := map[uint32]bool{}
	for i, v := range outLabels.Pix {
		if v != 0 {
			ids[v] = true
		}
		if (v != 0) != (labels.Pix[i] != 0) {
			t.Fatalf("watershed changed the foreground footprint at pixel %d", i)
		}
	}
	if len(ids) != 2 {
		t.Errorf("expected 2 instances after split, got %d", len(ids))
	}
	if outScores.At(12, 12) == 0 {
		t.Errorf("split instance has zero confidence score")
	}
}

func TestProcessShapeMismatch(t *testing.T) {
	pool, err := NewPool(64, 8, 2, ModeScore)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	labels := raster.New[uint32](100, 100)
	img := raster.New[uint8](100, 90)
	if _, _, err := pool.Process(labels, img); err == nil {
		t.Error("Process accepted mismatched raster shapes")
	}
}

func TestProcessTileFailureIsFatal(t *testing.T) {
	labels, img := cellScene(200, 160)
	pool := &Pool{TileSize: 96, Overlap: 12, Workers: 4, Mode: Mode("bogus")}
	if _, _, err := pool.Process(labels, img); err == nil {
		t.Error("Process with a failing tile pass returned no error")
	}
}
