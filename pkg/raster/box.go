package raster

import "fmt"

// Box is a rectangular region of a raster, half-open on the max side:
// rows [MinRow, MaxRow), columns [MinCol, MaxCol).
type Box struct {
	MinRow, MinCol int
	MaxRow, MaxCol int
}

// Rows returns the number of rows covered by the box.
func (b Box) Rows() int { return b.MaxRow - b.MinRow }

// Cols returns the number of columns covered by the box.
func (b Box) Cols() int { return b.MaxCol - b.MinCol }

// Area returns the number of pixels covered by the box.
func (b Box) Area() int { return b.Rows() * b.Cols() }

// Within reports whether the box lies entirely inside a raster of the
// given dimensions.
func (b Box) Within(width, height int) bool {
	return b.MinRow >= 0 && b.MinCol >= 0 &&
		b.MaxRow <= height && b.MaxCol <= width &&
		b.MinRow < b.MaxRow && b.MinCol < b.MaxCol
}

// Intersects reports whether two boxes share at least one pixel.
func (b Box) Intersects(o Box) bool {
	return b.MinRow < o.MaxRow && o.MinRow < b.MaxRow &&
		b.MinCol < o.MaxCol && o.MinCol < b.MaxCol
}

func (b Box) String() string {
	return fmt.Sprintf("rows[%d,%d) cols[%d,%d)", b.MinRow, b.MaxRow, b.MinCol, b.MaxCol)
}
