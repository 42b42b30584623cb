package pipeline

import (
	"fmt"

	"cellseg/pkg/raster"
	"cellseg/pkg/roi"
)

// FilterRegionLabels intersects one region's inferred instance labels with
// the tissue mask: label pixels outside the tissue footprint become
// background. The mask is cropped at the region's bounding box, so this must
// run before mosaicing, while region coordinates still refer to the original
// raster frame. The transform is pure and idempotent.
func FilterRegionLabels(labels *raster.Raster[uint32], region roi.Region, mask *raster.Raster[uint8]) (*raster.Raster[uint32], error) {
	if !region.Box.Within(mask.Width, mask.Height) {
		return nil, fmt.Errorf("region box %v outside tissue mask %dx%d",
			region.Box, mask.Width, mask.Height)
	}
	return raster.ApplyMask(labels, mask.Crop(region.Box))
}

// Mosaic composites the filtered per-region label rasters back onto a
// full-size canvas at their bounding-box offsets. Writes are unconditional
// overwrites: regions come from disjoint connected components, so no
// blending policy is needed, and overlapping boxes would be an upstream
// correctness violation. Region ids are shifted into a shared namespace in
// ascending region order so no two regions reuse an instance id.
func Mosaic(regions []roi.Region, crops []*raster.Raster[uint32], width, height int) (*raster.Raster[uint32], error) {
	if len(regions) != len(crops) {
		return nil, fmt.Errorf("mosaic: %d regions but %d crops", len(regions), len(crops))
	}
	canvas := raster.New[uint32](width, height)
	offset := uint32(0)
	for i, region := range regions {
		crop := crops[i]
		maxID := uint32(0)
		for _, v := range crop.Pix {
			if v > maxID {
				maxID = v
			}
		}
		shifted := crop
		if offset > 0 && maxID > 0 {
			shifted = raster.New[uint32](crop.Width, crop.Height)
			for j, v := range crop.Pix {
				if v != 0 {
					shifted.Pix[j] = v + offset
				}
			}
		}
		if err := raster.Paste(canvas, shifted, region.Box); err != nil {
			return nil, fmt.Errorf("mosaic: region %d: %w", region.Label, err)
		}
		offset += maxID
	}
	return canvas, nil
}
