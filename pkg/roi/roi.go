// Package roi locates tissue-containing regions of interest in a binary
// tissue mask. Connected components are labeled with 8-connectivity, given
// bounding boxes, and passed through a pluggable filter that discards
// spurious fragments; inference and post-processing then run only on the
// surviving regions.
package roi

import (
	"fmt"

	"cellseg/pkg/raster"
)

// Region is one surviving connected component of the tissue mask: its
// bounding box, pixel footprint, and the matching crop of the raw image.
// Regions are created during extraction, consumed by inference and tissue
// filtering, and discarded after mosaicing.
type Region struct {
	// Label is the component id assigned during labeling, starting at 1.
	Label int

	// Box is the component's bounding box in full-raster coordinates.
	Box raster.Box

	// Area is the component's pixel footprint size.
	Area int

	// Mask is the binary footprint cropped to Box (1 inside the component).
	Mask *raster.Raster[uint8]

	// Image is the raw intensity crop for Box, handed to inference.
	Image *raster.Raster[uint8]
}

// Filter decides whether a connected component is real tissue or noise.
// Implementations see the component's bounding box and footprint only.
type Filter interface {
	Keep(r Region) bool
}

// MinArea keeps components with at least Pixels footprint pixels. It is the
// default noise filter; anything more elaborate plugs in through Filter.
type MinArea struct {
	Pixels int
}

// Keep implements Filter.
func (f MinArea) Keep(r Region) bool {
	return r.Area >= f.Pixels
}

// KeepAll retains every component. Useful in tests and when the tissue mask
// is already clean.
type KeepAll struct{}

// Keep implements Filter.
func (KeepAll) Keep(Region) bool { return true }

// Extractor labels a tissue mask and filters the resulting components.
type Extractor struct {
	filter Filter
}

// NewExtractor returns an extractor using the supplied filter policy.
func NewExtractor(f Filter) *Extractor {
	return &Extractor{filter: f}
}

// Extract labels the tissue mask, applies the region filter, and returns the
// surviving regions in ascending label order together with the tissue mask
// restricted to their footprints. When nothing is discarded the input mask is
// returned unchanged. The raw image supplies the per-region intensity crops
// and must match the mask's shape.
func (e *Extractor) Extract(mask *raster.Raster[uint8], img *raster.Raster[uint8]) ([]Region, *raster.Raster[uint8], error) {
	if img.Width != mask.Width || img.Height != mask.Height {
		return nil, nil, fmt.Errorf("roi: image %dx%d does not match mask %dx%d",
			img.Width, img.Height, mask.Width, mask.Height)
	}

	labels, n := LabelComponents(mask)
	boxes, areas := componentStats(labels, n)
	regions := make([]Region, 0, n)
	dropped := false
	for id := 1; id <= n; id++ {
		box := boxes[id-1]
		footprint := raster.New[uint8](box.Cols(), box.Rows())
		for row := box.MinRow; row < box.MaxRow; row++ {
			for col := box.MinCol; col < box.MaxCol; col++ {
				if labels.Pix[row*labels.Width+col] == uint32(id) {
					footprint.Set(col-box.MinCol, row-box.MinRow, 1)
				}
			}
		}
		r := Region{
			Label: id,
			Box:   box,
			Area:  areas[id-1],
			Mask:  footprint,
			Image: img.Crop(box),
		}
		if e.filter.Keep(r) {
			regions = append(regions, r)
		} else {
			dropped = true
		}
	}

	if !dropped {
		return regions, mask, nil
	}

	// Rewrite the mask so only the surviving footprints remain; downstream
	// stages treat this cleaned mask as authoritative.
	cleaned := raster.New[uint8](mask.Width, mask.Height)
	for _, r := range regions {
		for row := 0; row < r.Box.Rows(); row++ {
			for col := 0; col < r.Box.Cols(); col++ {
				if r.Mask.At(col, row) != 0 {
					cleaned.Set(r.Box.MinCol+col, r.Box.MinRow+row, 1)
				}
			}
		}
	}
	return regions, cleaned, nil
}

// LabelComponents labels the non-zero pixels of a binary mask with
// 8-connectivity using breadth-first traversal in row-major scan order, so
// component ids ascend with the position of each component's first pixel.
// Returns the label raster and the number of components.
func LabelComponents(mask *raster.Raster[uint8]) (*raster.Raster[uint32], int) {
	w, h := mask.Width, mask.Height
	labels := raster.New[uint32](w, h)
	next := uint32(0)

	dx := [8]int{-1, 0, 1, -1, 1, -1, 0, 1}
	dy := [8]int{-1, -1, -1, 0, 0, 1, 1, 1}
	queue := make([]int, 0, 1024)

	for start := 0; start < w*h; start++ {
		if mask.Pix[start] == 0 || labels.Pix[start] != 0 {
			continue
		}
		next++
		labels.Pix[start] = next
		queue = append(queue[:0], start)
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			cx, cy := cur%w, cur/w
			for d := 0; d < 8; d++ {
				nx, ny := cx+dx[d], cy+dy[d]
				if nx < 0 || nx >= w || ny < 0 || ny >= h {
					continue
				}
				ni := ny*w + nx
				if mask.Pix[ni] != 0 && labels.Pix[ni] == 0 {
					labels.Pix[ni] = next
					queue = append(queue, ni)
				}
			}
		}
	}
	return labels, int(next)
}

// componentStats computes every component's bounding box and footprint area
// in a single pass over the label raster.
func componentStats(labels *raster.Raster[uint32], n int) ([]raster.Box, []int) {
	w, h := labels.Width, labels.Height
	boxes := make([]raster.Box, n)
	areas := make([]int, n)
	for i := range boxes {
		boxes[i] = raster.Box{MinRow: h, MinCol: w}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			id := labels.Pix[y*w+x]
			if id == 0 {
				continue
			}
			b := &boxes[id-1]
			if y < b.MinRow {
				b.MinRow = y
			}
			if y+1 > b.MaxRow {
				b.MaxRow = y + 1
			}
			if x < b.MinCol {
				b.MinCol = x
			}
			if x+1 > b.MaxCol {
				b.MaxCol = x + 1
			}
			areas[id-1]++
		}
	}
	return boxes, areas
}
