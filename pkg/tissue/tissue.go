// Package tissue produces the binary tissue mask consumed by ROI extraction
// and tissue filtering. The Segmenter interface is the boundary for deep
// tissue-segmentation models; OtsuSegmenter is the classical fallback used
// when no model is configured, mirroring the pipeline's behavior of dropping
// back to plain thresholding.
package tissue

import (
	"fmt"

	"cellseg/pkg/raster"
	"cellseg/pkg/roi"
)

// Segmenter turns a raw intensity image into a binary tissue mask of the
// same shape (1 = tissue, 0 = background).
type Segmenter interface {
	Segment(img *raster.Raster[uint8]) (*raster.Raster[uint8], error)
}

// OtsuSegmenter thresholds the image at the Otsu optimum and removes
// speckle components below MinSpeckArea pixels.
type OtsuSegmenter struct {
	// MinSpeckArea is the smallest component kept in the mask. Zero keeps
	// everything.
	MinSpeckArea int
}

// Segment implements Segmenter.
func (s *OtsuSegmenter) Segment(img *raster.Raster[uint8]) (*raster.Raster[uint8], error) {
	if len(img.Pix) == 0 {
		return nil, fmt.Errorf("tissue: empty image")
	}
	thresh := OtsuThreshold(img)
	mask := raster.New[uint8](img.Width, img.Height)
	for i, v := range img.Pix {
		if v >= thresh && v > 0 {
			mask.Pix[i] = 1
		}
	}
	if s.MinSpeckArea <= 1 {
		return mask, nil
	}

	labels, n := roi.LabelComponents(mask)
	if n == 0 {
		return mask, nil
	}
	areas := make([]int, n+1)
	for _, id := range labels.Pix {
		if id != 0 {
			areas[id]++
		}
	}
	for i, id := range labels.Pix {
		if id != 0 && areas[id] < s.MinSpeckArea {
			mask.Pix[i] = 0
		}
	}
	return mask, nil
}

// OtsuThreshold computes the threshold maximizing between-class variance of
// the 256-bin intensity histogram.
func OtsuThreshold(img *raster.Raster[uint8]) uint8 {
	var hist [256]int
	for _, v := range img.Pix {
		hist[v]++
	}
	total := len(img.Pix)

	sum := 0.0
	for i, c := range hist {
		sum += float64(i) * float64(c)
	}

	var (
		sumB, wB  float64
		best      float64
		threshold int
	)
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(hist[t])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = t + 1
		}
	}
	return uint8(threshold)
}

// Static mask support: when the tissue mask is produced offline (for example
// by a deep model run elsewhere), it is injected as-is.

// StaticMask returns a Segmenter that ignores the image and returns a fixed
// mask, after checking the shape matches.
func StaticMask(mask *raster.Raster[uint8]) Segmenter {
	return staticMask{mask: mask}
}

type staticMask struct {
	mask *raster.Raster[uint8]
}

func (s staticMask) Segment(img *raster.Raster[uint8]) (*raster.Raster[uint8], error) {
	if s.mask.Width != img.Width || s.mask.Height != img.Height {
		return nil, fmt.Errorf("tissue: static mask %dx%d does not match image %dx%d",
			s.mask.Width, s.mask.Height, img.Width, img.Height)
	}
	return s.mask, nil
}
