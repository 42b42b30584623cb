// Package pipeline sequences the cell-segmentation post-processing stages
// for each input image: bit-depth normalization, tissue segmentation, ROI
// extraction, per-region cell inference, tissue filtering, mosaicing,
// tiled post-processing, and persistence. The orchestrator holds no
// algorithmic logic of its own; it wires the components together and
// contains failures to the offending image in a batch run.
package pipeline

import (
	"fmt"
	"image"
	"log"
	"time"

	"github.com/disintegration/imaging"

	"cellseg/pkg/postprocess"
	"cellseg/pkg/raster"
	"cellseg/pkg/roi"
	"cellseg/pkg/tissue"
)

// Stage names the per-image state transitions, used to attribute errors and
// timing to the step that produced them.
type Stage string

const (
	StageNormalize   Stage = "bit-depth normalization"
	StageTissue      Stage = "tissue segmentation"
	StageROI         Stage = "roi extraction"
	StageInfer       Stage = "cell inference"
	StageFilter      Stage = "tissue filtering"
	StageMosaic      Stage = "mosaic"
	StagePostProcess Stage = "post-processing"
	StagePersist     Stage = "persistence"
)

// Inferrer is the neural-network collaborator. It is invoked once per
// region, not per tile; whether the region is tiled internally is the
// collaborator's own concern. The returned raster carries instance ids
// starting at 1 and must match the region crop's shape.
type Inferrer interface {
	Infer(region roi.Region) (*raster.Raster[uint32], error)
}

// Persister writes the final label and score rasters to durable storage.
type Persister interface {
	Persist(name string, labels *raster.Raster[uint32], scores *raster.Raster[uint8]) error
}

// Params is the configuration surface consumed by the pipeline core.
type Params struct {
	// TileSize is the crop edge length for post-processing tiles.
	TileSize int

	// Overlap is the number of pixels shared between adjacent tiles.
	Overlap int

	// Workers bounds post-processing parallelism.
	Workers int

	// Mode selects watershed splitting or score-only post-processing.
	Mode postprocess.Mode

	// MinRegionArea is the footprint threshold of the default region
	// filter; tissue fragments below it are discarded as noise.
	MinRegionArea int
}

// Input is one image queued for segmentation. Image may be 8- or 16-bit
// grayscale or any color image; normalization handles the conversion.
type Input struct {
	Name  string
	Image image.Image
}

// Pipeline drives the per-image state machine. A single pipeline is reused
// across the images of a batch; the only parallel section is the
// post-processing pool.
type Pipeline struct {
	params    Params
	segmenter tissue.Segmenter
	inferrer  Inferrer
	persister Persister
	extractor *roi.Extractor
	pool      *postprocess.Pool
}

// New validates the configuration eagerly and assembles a pipeline.
// persister may be nil when the caller consumes the rasters directly.
func New(params Params, segmenter tissue.Segmenter, inferrer Inferrer, persister Persister) (*Pipeline, error) {
	if segmenter == nil || inferrer == nil {
		return nil, fmt.Errorf("pipeline: segmenter and inferrer are required")
	}
	pool, err := postprocess.NewPool(params.TileSize, params.Overlap, params.Workers, params.Mode)
	if err != nil {
		return nil, err
	}
	var filter roi.Filter = roi.KeepAll{}
	if params.MinRegionArea > 0 {
		filter = roi.MinArea{Pixels: params.MinRegionArea}
	}
	return &Pipeline{
		params:    params,
		segmenter: segmenter,
		inferrer:  inferrer,
		persister: persister,
		extractor: roi.NewExtractor(filter),
		pool:      pool,
	}, nil
}

// ProcessImage runs the full state machine for one image and returns the
// post-processed label raster and the confidence-score raster. Either both
// rasters are fully reconstructed or an error is returned; no partial
// result ever escapes.
func (p *Pipeline) ProcessImage(in Input) (*raster.Raster[uint32], *raster.Raster[uint8], error) {
	start := time.Now()

	img := normalizeInput(in.Image)
	logStage(in.Name, StageNormalize, start)

	t := time.Now()
	mask, err := p.segmenter.Segment(img)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", StageTissue, err)
	}
	logStage(in.Name, StageTissue, t)

	t = time.Now()
	regions, mask, err := p.extractor.Extract(mask, img)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", StageROI, err)
	}
	logStage(in.Name, StageROI, t)
	if len(regions) == 0 {
		log.Printf("%s: no tissue regions found", in.Name)
		return raster.New[uint32](img.Width, img.Height), raster.New[uint8](img.Width, img.Height), nil
	}

	t = time.Now()
	inferred := make([]*raster.Raster[uint32], len(regions))
	for i, region := range regions {
		crop, err := p.inferrer.Infer(region)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: region %d: %w", StageInfer, region.Label, err)
		}
		if crop.Width != region.Box.Cols() || crop.Height != region.Box.Rows() {
			return nil, nil, fmt.Errorf("%s: region %d: crop %dx%d does not match box %v",
				StageInfer, region.Label, crop.Width, crop.Height, region.Box)
		}
		inferred[i] = crop
	}
	logStage(in.Name, StageInfer, t)

	t = time.Now()
	filtered := make([]*raster.Raster[uint32], len(regions))
	for i, region := range regions {
		filtered[i], err = FilterRegionLabels(inferred[i], region, mask)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: region %d: %w", StageFilter, region.Label, err)
		}
	}
	logStage(in.Name, StageFilter, t)

	t = time.Now()
	canvas, err := Mosaic(regions, filtered, img.Width, img.Height)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", StageMosaic, err)
	}
	logStage(in.Name, StageMosaic, t)

	t = time.Now()
	labels, scores, err := p.pool.Process(canvas, img)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", StagePostProcess, err)
	}
	logStage(in.Name, StagePostProcess, t)

	if p.persister != nil {
		t = time.Now()
		if err := p.persister.Persist(in.Name, labels, scores); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", StagePersist, err)
		}
		logStage(in.Name, StagePersist, t)
	}

	log.Printf("%s: segmented in %.2fs", in.Name, time.Since(start).Seconds())
	return labels, scores, nil
}

// ImageResult is one entry of a batch run: either both output rasters or
// the error that failed the image.
type ImageResult struct {
	Name   string
	Labels *raster.Raster[uint32]
	Scores *raster.Raster[uint8]
	Err    error
}

// RunBatch processes every input in order. One image's failure is recorded
// and skipped; it never aborts the rest of the batch.
func (p *Pipeline) RunBatch(inputs []Input) []ImageResult {
	results := make([]ImageResult, 0, len(inputs))
	for _, in := range inputs {
		labels, scores, err := p.ProcessImage(in)
		if err != nil {
			log.Printf("%s: failed: %v", in.Name, err)
		}
		results = append(results, ImageResult{Name: in.Name, Labels: labels, Scores: scores, Err: err})
	}
	return results
}

// normalizeInput converts any supported input image into an 8-bit intensity
// raster. 16-bit grayscale inputs get a contrast stretch; color inputs are
// converted to luminance first.
func normalizeInput(img image.Image) *raster.Raster[uint8] {
	switch v := img.(type) {
	case *image.Gray:
		return raster.FromGray(v)
	case *image.Gray16:
		return raster.Normalize16(raster.FromGray16(v))
	default:
		gray := imaging.Grayscale(v)
		b := gray.Bounds()
		out := raster.New[uint8](b.Dx(), b.Dy())
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				out.Pix[y*out.Width+x] = gray.Pix[y*gray.Stride+x*4]
			}
		}
		return out
	}
}

func logStage(name string, stage Stage, start time.Time) {
	log.Printf("%s: %s: %.2fs", name, stage, time.Since(start).Seconds())
}
