package postprocess

import (
	"fmt"
	"sort"
	"sync"

	"cellseg/pkg/raster"
	"cellseg/pkg/tiling"
)

// Mode selects the per-tile post-processing pass.
type Mode string

const (
	// ModeWatershed splits touching instances and scores them.
	ModeWatershed Mode = "watershed"

	// ModeScore attaches confidence values without altering instance
	// separations. Cheaper; used when re-splitting is not required.
	ModeScore Mode = "score"
)

// ParseMode validates a mode string from configuration.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeWatershed, ModeScore:
		return Mode(s), nil
	}
	return "", fmt.Errorf("postprocess: unknown mode %q (want %q or %q)", s, ModeWatershed, ModeScore)
}

// defaultBlurRadius smooths the elevation surface before watershed seeding.
const defaultBlurRadius = 2.0

// Pool runs the post-processing pass over a label raster with a bounded
// number of concurrent workers. Workers share nothing but read-only tile
// inputs; the coordinating goroutine alone writes the merged canvases.
type Pool struct {
	TileSize int
	Overlap  int
	Workers  int
	Mode     Mode

	// BlurRadius controls elevation smoothing in watershed mode.
	BlurRadius float64
}

// NewPool validates the configuration eagerly and returns a ready pool.
func NewPool(tileSize, overlap, workers int, mode Mode) (*Pool, error) {
	if err := tiling.ValidateParams(tileSize, overlap); err != nil {
		return nil, err
	}
	if workers <= 0 {
		return nil, fmt.Errorf("postprocess: worker count must be positive, got %d", workers)
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	return &Pool{
		TileSize:   tileSize,
		Overlap:    overlap,
		Workers:    workers,
		Mode:       mode,
		BlurRadius: defaultBlurRadius,
	}, nil
}

// tileResult carries one tile's output back to the coordinator, tagged with
// the split-time index so merge order never depends on completion order.
type tileResult struct {
	idx    int
	labels *raster.Raster[uint32]
	scores *raster.Raster[uint8]
	err    error
}

// Process re-splits the label and raw rasters with identical grid parameters,
// runs the selected pass on every tile pair concurrently, and stitches the
// label and score channels back to full resolution. A failure on any tile
// fails the whole raster; no partial result is returned. The output is
// byte-identical for any worker count.
func (p *Pool) Process(labels *raster.Raster[uint32], raw *raster.Raster[uint8]) (*raster.Raster[uint32], *raster.Raster[uint8], error) {
	if labels.Width != raw.Width || labels.Height != raw.Height {
		return nil, nil, fmt.Errorf("postprocess: label raster %dx%d does not match intensity raster %dx%d",
			labels.Width, labels.Height, raw.Width, raw.Height)
	}
	grid, err := tiling.NewGrid(labels.Width, labels.Height, p.TileSize, p.Overlap)
	if err != nil {
		return nil, nil, err
	}

	// Both splits use the same grid, so tile boundaries align pixel-for-pixel.
	labelTiles, err := tiling.Split(grid, labels)
	if err != nil {
		return nil, nil, err
	}
	rawTiles, err := tiling.Split(grid, raw)
	if err != nil {
		return nil, nil, err
	}

	n := len(labelTiles)
	jobs := make(chan int)
	results := make(chan tileResult, n)

	workers := p.Workers
	if workers > n {
		workers = n
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results <- p.runTile(idx, labelTiles[idx], rawTiles[idx])
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	close(results)

	// Barrier reached: collect everything, then fail on the lowest-index
	// error so the reported error does not depend on scheduling.
	collected := make([]tileResult, 0, n)
	for res := range results {
		collected = append(collected, res)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].idx < collected[j].idx })
	outLabels := make([]*raster.Raster[uint32], n)
	outScores := make([]*raster.Raster[uint8], n)
	for _, res := range collected {
		if res.err != nil {
			return nil, nil, fmt.Errorf("postprocess: tile %d: %w", res.idx, res.err)
		}
		outLabels[res.idx] = res.labels
		outScores[res.idx] = res.scores
	}

	if p.Mode == ModeWatershed {
		offsetTileLabels(outLabels)
	}

	mergedLabels, err := tiling.Merge(grid, outLabels)
	if err != nil {
		return nil, nil, err
	}
	mergedScores, err := tiling.Merge(grid, outScores)
	if err != nil {
		return nil, nil, err
	}
	return mergedLabels, mergedScores, nil
}

// runTile executes one unit of work. Inputs are owned by the worker for the
// duration of the call and never mutated.
func (p *Pool) runTile(idx int, labelTile *raster.Raster[uint32], rawTile *raster.Raster[uint8]) tileResult {
	switch p.Mode {
	case ModeWatershed:
		split := watershedTile(labelTile, rawTile, p.BlurRadius)
		return tileResult{idx: idx, labels: split, scores: scoreInstances(split, rawTile)}
	case ModeScore:
		return tileResult{idx: idx, labels: labelTile, scores: scoreInstances(labelTile, rawTile)}
	default:
		return tileResult{idx: idx, err: fmt.Errorf("unknown mode %q", p.Mode)}
	}
}

// offsetTileLabels shifts each tile's local instance ids into a shared
// namespace. Offsets accumulate in tile index order, so ids stay stable
// regardless of which worker finished first.
func offsetTileLabels(tiles []*raster.Raster[uint32]) {
	offset := uint32(0)
	for _, tile := range tiles {
		maxID := uint32(0)
		for i, v := range tile.Pix {
			if v == 0 {
				continue
			}
			tile.Pix[i] = v + offset
			if v > maxID {
				maxID = v
			}
		}
		offset += maxID
	}
}
