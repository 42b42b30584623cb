// Package tiling implements the deterministic, reversible decomposition of a
// raster into fixed-size overlapping tiles and the seam-free reconstruction
// of tile results back into a full raster.
//
// Tiles advance with a stride of tileSize-overlap along each axis. A tile
// that would run past the far edge is instead back-aligned to end exactly at
// the edge, so every tile keeps the nominal size (which keeps inference batch
// shapes uniform). The pull-back enlarges the overlap with the preceding tile;
// WidthAdd and HeightAdd record that extra overlap so Merge can discard the
// duplicated strip instead of writing it twice.
package tiling

import (
	"errors"
	"fmt"

	"cellseg/pkg/raster"
)

// ErrGeometry is returned by Merge when the supplied tiles cannot reconstruct
// the parent raster exactly. It indicates a programming or configuration
// error, never a data-dependent condition, and is not retryable.
var ErrGeometry = errors.New("tiling: tiles do not reconstruct parent raster")

// Tile is one fixed-size window into the parent raster. X and Y are the
// top-left placement in parent coordinates; Width and Height equal the
// nominal tile size unless the parent axis is smaller than one tile.
type Tile struct {
	Index  int
	X, Y   int
	Width  int
	Height int
}

// Grid holds the tile placements for one parent raster shape. The same Grid
// must be used for the Split and the corresponding Merge; splitting the label
// and intensity rasters with one Grid guarantees their tile boundaries align
// pixel-for-pixel.
type Grid struct {
	Width, Height     int
	TileSize, Overlap int

	// Per-axis tile origins, ascending. The last origin per axis is
	// back-aligned to the far edge.
	ColStarts []int
	RowStarts []int

	// Extra overlap introduced by back-aligning the last tile per axis.
	WidthAdd  int
	HeightAdd int
}

// ValidateParams rejects invalid tiling configuration: tileSize must be
// positive and overlap non-negative and smaller than tileSize. It is called
// by NewGrid and by components that want to fail before any work is
// scheduled.
func ValidateParams(tileSize, overlap int) error {
	if tileSize <= 0 {
		return fmt.Errorf("tiling: tile size must be positive, got %d", tileSize)
	}
	if overlap < 0 || overlap >= tileSize {
		return fmt.Errorf("tiling: overlap %d must be in [0, %d)", overlap, tileSize)
	}
	return nil
}

// NewGrid computes the tile placements for a width x height raster,
// validating the parameters eagerly.
func NewGrid(width, height, tileSize, overlap int) (*Grid, error) {
	if err := ValidateParams(tileSize, overlap); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("tiling: raster shape %dx%d must be positive", width, height)
	}
	g := &Grid{
		Width:    width,
		Height:   height,
		TileSize: tileSize,
		Overlap:  overlap,
	}
	g.ColStarts, g.WidthAdd = axisStarts(width, tileSize, overlap)
	g.RowStarts, g.HeightAdd = axisStarts(height, tileSize, overlap)
	return g, nil
}

// axisStarts walks one axis with stride tileSize-overlap and returns the tile
// origins plus the extra overlap of the final, back-aligned tile.
//
// An axis no larger than one tile yields a single origin at 0 and no extra
// overlap; padding such a short tile up to the nominal size is the caller's
// concern.
func axisStarts(dim, tileSize, overlap int) ([]int, int) {
	if dim <= tileSize {
		return []int{0}, 0
	}
	stride := tileSize - overlap
	var starts []int
	x := 0
	for x+tileSize < dim {
		starts = append(starts, x)
		x += stride
	}
	if x+tileSize == dim {
		// The stride lands exactly on the far edge; no pull-back needed.
		starts = append(starts, x)
		return starts, 0
	}
	// Back-align the final tile to end at the far edge. The natural owned
	// region of the preceding tile ends at starts[last]+stride; everything
	// between the pulled-back origin and that point is duplicated coverage.
	last := dim - tileSize
	add := starts[len(starts)-1] + stride - last
	starts = append(starts, last)
	return starts, add
}

// NumTiles returns the total tile count of the grid.
func (g *Grid) NumTiles() int {
	return len(g.ColStarts) * len(g.RowStarts)
}

// Tiles returns the tile placements in row-major order. Callers must preserve
// this order (or the Index field) between Split and Merge; no other ordering
// is guaranteed.
func (g *Grid) Tiles() []Tile {
	tiles := make([]Tile, 0, g.NumTiles())
	for _, y := range g.RowStarts {
		for _, x := range g.ColStarts {
			tiles = append(tiles, Tile{
				Index:  len(tiles),
				X:      x,
				Y:      y,
				Width:  min(g.TileSize, g.Width),
				Height: min(g.TileSize, g.Height),
			})
		}
	}
	return tiles
}

// Split copies the grid's tiles out of src. src must match the shape the
// grid was built for.
func Split[T raster.Pixel](g *Grid, src *raster.Raster[T]) ([]*raster.Raster[T], error) {
	if src.Width != g.Width || src.Height != g.Height {
		return nil, fmt.Errorf("tiling: raster %dx%d does not match grid %dx%d",
			src.Width, src.Height, g.Width, g.Height)
	}
	tiles := g.Tiles()
	out := make([]*raster.Raster[T], len(tiles))
	for i, t := range tiles {
		out[i] = src.Crop(raster.Box{
			MinRow: t.Y, MaxRow: t.Y + t.Height,
			MinCol: t.X, MaxCol: t.X + t.Width,
		})
	}
	return out, nil
}

// Merge reconstructs the parent raster from per-tile results in split order.
// Every interior tile contributes its leading stride rows/columns; the final
// tile per axis skips its duplicated prefix (the stride remainder plus the
// recorded back-alignment overlap) and contributes the rest. Each destination
// pixel is written exactly once.
func Merge[T raster.Pixel](g *Grid, tiles []*raster.Raster[T]) (*raster.Raster[T], error) {
	if len(tiles) != g.NumTiles() {
		return nil, fmt.Errorf("%w: got %d tiles, grid has %d", ErrGeometry, len(tiles), g.NumTiles())
	}
	placements := g.Tiles()
	out := raster.New[T](g.Width, g.Height)
	written := 0
	for i, t := range placements {
		tile := tiles[i]
		if tile.Width != t.Width || tile.Height != t.Height {
			return nil, fmt.Errorf("%w: tile %d is %dx%d, expected %dx%d",
				ErrGeometry, i, tile.Width, tile.Height, t.Width, t.Height)
		}
		skipX, ownW := g.owned(g.ColStarts, t.X, t.Width, g.Width, g.WidthAdd)
		skipY, ownH := g.owned(g.RowStarts, t.Y, t.Height, g.Height, g.HeightAdd)
		for row := 0; row < ownH; row++ {
			srcOff := (skipY+row)*tile.Width + skipX
			dstOff := (t.Y+skipY+row)*g.Width + t.X + skipX
			copy(out.Pix[dstOff:dstOff+ownW], tile.Pix[srcOff:srcOff+ownW])
		}
		written += ownW * ownH
	}
	if written != g.Width*g.Height {
		return nil, fmt.Errorf("%w: wrote %d of %d pixels", ErrGeometry, written, g.Width*g.Height)
	}
	return out, nil
}

// owned returns the tile-local offset and extent of the strip this tile
// contributes along one axis.
func (g *Grid) owned(starts []int, origin, tileDim, parentDim, add int) (skip, extent int) {
	stride := g.TileSize - g.Overlap
	if len(starts) == 1 {
		return 0, tileDim
	}
	if origin == starts[len(starts)-1] {
		// Final tile: skip the strip already written by its predecessor.
		return add, parentDim - origin - add
	}
	return 0, stride
}
