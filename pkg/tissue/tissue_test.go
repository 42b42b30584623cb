package tissue

import (
	"testing"

	"cellseg/pkg/raster"
)

// bimodal builds an image with a dark background band and a bright tissue
// block, the shape Otsu separates cleanly.
func bimodal(width, height int) *raster.Raster[uint8] {
	img := raster.New[uint8](width, height)
	for i := range img.Pix {
		img.Pix[i] = 30
	}
	for y := height / 4; y < 3*height/4; y++ {
		for x := width / 4; x < 3*width/4; x++ {
			img.Set(x, y, 200)
		}
	}
	return img
}

func TestOtsuThresholdSeparatesModes(t *testing.T) {
	img := bimodal(40, 40)
	thresh := OtsuThreshold(img)
	if thresh <= 30 || thresh > 200 {
		t.Errorf("threshold %d does not separate modes 30 and 200", thresh)
	}
}

func TestOtsuThresholdFlatImage(t *testing.T) {
	img := raster.New[uint8](10, 10)
	for i := range img.Pix {
		img.Pix[i] = 77
	}
	// A single intensity has no between-class split; the mask must not
	// blow up either way.
	s := &OtsuSegmenter{}
	mask, err := s.Segment(img)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if mask.Width != 10 || mask.Height != 10 {
		t.Errorf("mask shape %dx%d", mask.Width, mask.Height)
	}
}

func TestSegmentMasksTissue(t *testing.T) {
	img := bimodal(40, 40)
	s := &OtsuSegmenter{}
	mask, err := s.Segment(img)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if mask.At(20, 20) != 1 {
		t.Errorf("tissue center not in mask")
	}
	if mask.At(0, 0) != 0 {
		t.Errorf("background in mask")
	}
}

func TestSegmentRemovesSpecks(t *testing.T) {
	img := bimodal(40, 40)
	img.Set(2, 2, 210) // isolated bright pixel

	s := &OtsuSegmenter{MinSpeckArea: 4}
	mask, err := s.Segment(img)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if mask.At(2, 2) != 0 {
		t.Errorf("speck below the area threshold survived")
	}
	if mask.At(20, 20) != 1 {
		t.Errorf("large component removed with the specks")
	}
}

func TestSegmentEmptyImage(t *testing.T) {
	s := &OtsuSegmenter{}
	if _, err := s.Segment(raster.New[uint8](0, 0)); err == nil {
		t.Error("Segment accepted an empty image")
	}
}

func TestStaticMask(t *testing.T) {
	mask := raster.New[uint8](8, 6)
	mask.Set(3, 3, 1)
	img := raster.New[uint8](8, 6)

	got, err := StaticMask(mask).Segment(img)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if got.At(3, 3) != 1 {
		t.Errorf("static mask not passed through")
	}

	if _, err := StaticMask(mask).Segment(raster.New[uint8](4, 4)); err == nil {
		t.Error("static mask accepted a mismatched image shape")
	}
}
