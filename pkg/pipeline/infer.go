package pipeline

import (
	"cellseg/pkg/raster"
	"cellseg/pkg/roi"
	"cellseg/pkg/tissue"
)

// ThresholdInferrer is the classical fallback for the inference
// collaborator: it thresholds the region crop at the Otsu optimum inside
// the tissue footprint and labels the resulting components as instances.
// A model-backed Inferrer replaces it through the interface without any
// pipeline change.
type ThresholdInferrer struct{}

// Infer implements Inferrer.
func (ThresholdInferrer) Infer(region roi.Region) (*raster.Raster[uint32], error) {
	thresh := tissue.OtsuThreshold(region.Image)
	fg := raster.New[uint8](region.Image.Width, region.Image.Height)
	for i, v := range region.Image.Pix {
		if v >= thresh && v > 0 && region.Mask.Pix[i] != 0 {
			fg.Pix[i] = 1
		}
	}
	labels, _ := roi.LabelComponents(fg)
	return labels, nil
}
