// Package postprocess refines a composited instance-label raster tile by
// tile: the watershed mode splits touching cells using the raw intensity
// image as an elevation surface, and the score mode attaches a per-cell
// confidence value. Tiles are processed concurrently by a bounded worker
// pool and stitched back together without seams.
package postprocess

import (
	"container/heap"

	"github.com/anthonynsimon/bild/blur"

	"cellseg/pkg/raster"
	"cellseg/pkg/roi"
)

// watershedTile splits merged instances inside one tile. The intensity tile
// is smoothed and inverted so cell centers become basins; markers are the
// eroded foreground components, and each foreground pixel is flooded from the
// nearest basin. The result is a dense local labeling 1..k.
func watershedTile(labels *raster.Raster[uint32], raw *raster.Raster[uint8], blurRadius float64) *raster.Raster[uint32] {
	w, h := labels.Width, labels.Height

	fg := raster.New[uint8](w, h)
	for i, v := range labels.Pix {
		if v != 0 {
			fg.Pix[i] = 1
		}
	}

	markers, n := seedMarkers(fg)
	if n == 0 {
		return raster.New[uint32](w, h)
	}

	elevation := invertedElevation(raw, blurRadius)
	flood(markers, fg, elevation)
	return markers
}

// seedMarkers labels the foreground eroded by one pixel. A foreground
// component thin enough to vanish under erosion is rescued by using the
// whole component as its own marker, so no cell is lost.
func seedMarkers(fg *raster.Raster[uint8]) (*raster.Raster[uint32], int) {
	eroded := erode(fg)
	markers, n := roi.LabelComponents(eroded)

	comps, nc := roi.LabelComponents(fg)
	hasMarker := make([]bool, nc+1)
	for i, id := range markers.Pix {
		if id != 0 {
			hasMarker[comps.Pix[i]] = true
		}
	}
	rescued := make([]uint32, nc+1)
	next := uint32(n)
	for i, comp := range comps.Pix {
		if comp == 0 || hasMarker[comp] {
			continue
		}
		if rescued[comp] == 0 {
			next++
			rescued[comp] = next
		}
		markers.Pix[i] = rescued[comp]
	}
	return markers, int(next)
}

// erode removes foreground pixels with any background pixel in their 8-
// neighborhood; pixels on the tile border always erode.
func erode(mask *raster.Raster[uint8]) *raster.Raster[uint8] {
	w, h := mask.Width, mask.Height
	out := raster.New[uint8](w, h)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			if mask.Pix[y*w+x] == 0 {
				continue
			}
			solid := true
			for dy := -1; dy <= 1 && solid; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if mask.Pix[(y+dy)*w+x+dx] == 0 {
						solid = false
						break
					}
				}
			}
			if solid {
				out.Pix[y*w+x] = 1
			}
		}
	}
	return out
}

// invertedElevation smooths the intensity tile with a Gaussian and inverts
// it, turning bright cell centers into basins.
func invertedElevation(raw *raster.Raster[uint8], radius float64) []uint8 {
	src := raw
	if radius > 0 {
		blurred := blur.Gaussian(raster.Gray(raw), radius)
		src = raster.New[uint8](raw.Width, raw.Height)
		for y := 0; y < raw.Height; y++ {
			for x := 0; x < raw.Width; x++ {
				src.Pix[y*raw.Width+x] = blurred.Pix[y*blurred.Stride+x*4]
			}
		}
	}
	elev := make([]uint8, len(src.Pix))
	for i, v := range src.Pix {
		elev[i] = 255 - v
	}
	return elev
}

// floodItem is one queued pixel of the priority flood. seq breaks elevation
// ties in insertion order, which keeps the flood deterministic.
type floodItem struct {
	elev uint8
	seq  int
	idx  int
}

type floodQueue []floodItem

func (q floodQueue) Len() int { return len(q) }
func (q floodQueue) Less(i, j int) bool {
	if q[i].elev != q[j].elev {
		return q[i].elev < q[j].elev
	}
	return q[i].seq < q[j].seq
}
func (q floodQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *floodQueue) Push(x any) { *q = append(*q, x.(floodItem)) }

func (q *floodQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// flood grows every marker basin across the foreground in ascending
// elevation order, assigning each unclaimed foreground pixel to the basin
// that reaches it first.
func flood(markers *raster.Raster[uint32], fg *raster.Raster[uint8], elev []uint8) {
	w, h := markers.Width, markers.Height
	dx := [8]int{-1, 0, 1, -1, 1, -1, 0, 1}
	dy := [8]int{-1, -1, -1, 0, 0, 1, 1, 1}

	q := make(floodQueue, 0, len(markers.Pix)/4)
	seq := 0
	for i, id := range markers.Pix {
		if id != 0 {
			q = append(q, floodItem{elev: elev[i], seq: seq, idx: i})
			seq++
		}
	}
	heap.Init(&q)

	for q.Len() > 0 {
		cur := heap.Pop(&q).(floodItem)
		id := markers.Pix[cur.idx]
		cx, cy := cur.idx%w, cur.idx/w
		for d := 0; d < 8; d++ {
			nx, ny := cx+dx[d], cy+dy[d]
			if nx < 0 || nx >= w || ny < 0 || ny >= h {
				continue
			}
			ni := ny*w + nx
			if fg.Pix[ni] == 0 || markers.Pix[ni] != 0 {
				continue
			}
			markers.Pix[ni] = id
			heap.Push(&q, floodItem{elev: elev[ni], seq: seq, idx: ni})
			seq++
		}
	}
}
