// Package raster provides the 2-D raster types shared by the segmentation
// pipeline: 8- and 16-bit intensity images and 32-bit instance-label masks.
// All rasters are stored row-major with no padding, so the same split/merge
// and cropping machinery works for every element type.
package raster

import (
	"fmt"
	"image"
)

// Pixel is the set of element types a Raster can carry: 8-bit intensity,
// 16-bit intensity, or 32-bit instance ids.
type Pixel interface {
	~uint8 | ~uint16 | ~uint32
}

// Raster is a fixed-size 2-D array of pixels in row-major order.
// Pix has exactly Width*Height elements; the pixel at (x, y) lives at
// Pix[y*Width+x].
type Raster[T Pixel] struct {
	Width  int
	Height int
	Pix    []T
}

// New allocates a zero-filled raster of the given dimensions.
func New[T Pixel](width, height int) *Raster[T] {
	return &Raster[T]{
		Width:  width,
		Height: height,
		Pix:    make([]T, width*height),
	}
}

// At returns the pixel at (x, y). No bounds check; callers stay in range.
func (r *Raster[T]) At(x, y int) T {
	return r.Pix[y*r.Width+x]
}

// Set writes the pixel at (x, y).
func (r *Raster[T]) Set(x, y int, v T) {
	r.Pix[y*r.Width+x] = v
}

// Clone returns a deep copy of the raster.
func (r *Raster[T]) Clone() *Raster[T] {
	out := New[T](r.Width, r.Height)
	copy(out.Pix, r.Pix)
	return out
}

// Crop copies the sub-raster covered by the box into a new raster.
func (r *Raster[T]) Crop(b Box) *Raster[T] {
	out := New[T](b.Cols(), b.Rows())
	for row := b.MinRow; row < b.MaxRow; row++ {
		src := r.Pix[row*r.Width+b.MinCol : row*r.Width+b.MaxCol]
		dst := out.Pix[(row-b.MinRow)*out.Width:]
		copy(dst, src)
	}
	return out
}

// Paste writes src into r with its top-left corner at the box origin.
// The box dimensions must match src exactly; the write is an unconditional
// overwrite, which is what the mosaic stage relies on for disjoint regions.
func Paste[T Pixel](dst *Raster[T], src *Raster[T], b Box) error {
	if b.Cols() != src.Width || b.Rows() != src.Height {
		return fmt.Errorf("paste: box %dx%d does not match source %dx%d",
			b.Cols(), b.Rows(), src.Width, src.Height)
	}
	if !b.Within(dst.Width, dst.Height) {
		return fmt.Errorf("paste: box %v outside canvas %dx%d", b, dst.Width, dst.Height)
	}
	for row := b.MinRow; row < b.MaxRow; row++ {
		srcRow := src.Pix[(row-b.MinRow)*src.Width : (row-b.MinRow+1)*src.Width]
		copy(dst.Pix[row*dst.Width+b.MinCol:], srcRow)
	}
	return nil
}

// ApplyMask zeroes every pixel of r whose counterpart in mask is zero and
// returns a new raster. mask must be the same shape as r. Applying the same
// mask twice is a no-op on the second pass.
func ApplyMask[T Pixel](r *Raster[T], mask *Raster[uint8]) (*Raster[T], error) {
	if r.Width != mask.Width || r.Height != mask.Height {
		return nil, fmt.Errorf("mask shape %dx%d does not match raster %dx%d",
			mask.Width, mask.Height, r.Width, r.Height)
	}
	out := New[T](r.Width, r.Height)
	for i, v := range r.Pix {
		if mask.Pix[i] != 0 {
			out.Pix[i] = v
		}
	}
	return out, nil
}

// Normalize16 converts a 16-bit intensity raster to 8 bits with a min/max
// contrast stretch. A flat image maps to zero.
func Normalize16(src *Raster[uint16]) *Raster[uint8] {
	lo, hi := src.Pix[0], src.Pix[0]
	for _, v := range src.Pix {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	out := New[uint8](src.Width, src.Height)
	if hi == lo {
		return out
	}
	scale := 255.0 / float64(hi-lo)
	for i, v := range src.Pix {
		out.Pix[i] = uint8(float64(v-lo)*scale + 0.5)
	}
	return out
}

// Outline marks every labeled pixel that touches a pixel with a different
// label (4-connectivity), producing the cell-boundary image written next to
// the mask outputs. Boundary pixels are 255, everything else 0.
func Outline(labels *Raster[uint32]) *Raster[uint8] {
	out := New[uint8](labels.Width, labels.Height)
	w, h := labels.Width, labels.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := labels.Pix[y*w+x]
			if v == 0 {
				continue
			}
			edge := x == 0 || y == 0 || x == w-1 || y == h-1
			if !edge {
				if labels.Pix[y*w+x-1] != v || labels.Pix[y*w+x+1] != v ||
					labels.Pix[(y-1)*w+x] != v || labels.Pix[(y+1)*w+x] != v {
					edge = true
				}
			}
			if edge {
				out.Pix[y*w+x] = 255
			}
		}
	}
	return out
}

// FromGray copies an 8-bit grayscale image into a raster.
func FromGray(img *image.Gray) *Raster[uint8] {
	b := img.Bounds()
	out := New[uint8](b.Dx(), b.Dy())
	for y := 0; y < out.Height; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+out.Width]
		copy(out.Pix[y*out.Width:], src)
	}
	return out
}

// FromGray16 copies a 16-bit grayscale image into a raster.
func FromGray16(img *image.Gray16) *Raster[uint16] {
	b := img.Bounds()
	out := New[uint16](b.Dx(), b.Dy())
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			i := y*img.Stride + x*2
			out.Pix[y*out.Width+x] = uint16(img.Pix[i])<<8 | uint16(img.Pix[i+1])
		}
	}
	return out
}

// Gray converts an 8-bit raster to an image.Gray for encoding.
func Gray(r *Raster[uint8]) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, r.Width, r.Height))
	for y := 0; y < r.Height; y++ {
		copy(img.Pix[y*img.Stride:], r.Pix[y*r.Width:(y+1)*r.Width])
	}
	return img
}

// LabelsGray16 converts an instance-label raster to a 16-bit grayscale image.
// Ids above 65535 are clamped; instance counts that large do not occur in a
// single image at the tile sizes the pipeline runs with.
func LabelsGray16(r *Raster[uint32]) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, r.Width, r.Height))
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			v := r.Pix[y*r.Width+x]
			if v > 0xffff {
				v = 0xffff
			}
			i := y*img.Stride + x*2
			img.Pix[i] = uint8(v >> 8)
			img.Pix[i+1] = uint8(v)
		}
	}
	return img
}
