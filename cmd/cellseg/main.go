package main

import (
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/tiff"

	"cellseg/pkg/config"
	"cellseg/pkg/export"
	"cellseg/pkg/pipeline"
	"cellseg/pkg/postprocess"
	"cellseg/pkg/tissue"
)

func main() {
	// Parse command line arguments
	inputPath := flag.String("input", "", "Image file or directory of images to segment")
	configPath := flag.String("config", "cellseg.yaml", "Path to YAML configuration file")
	outputDir := flag.String("out", "", "Output directory (overrides config)")
	tileSize := flag.Int("tile-size", 0, "Post-processing tile edge length (overrides config)")
	overlap := flag.Int("overlap", -1, "Tile overlap in pixels (overrides config)")
	workers := flag.Int("workers", 0, "Number of parallel tile workers (overrides config)")
	mode := flag.String("mode", "", "Post-processing mode: watershed or score (overrides config)")
	minArea := flag.Int("min-area", -1, "Minimum tissue region area in pixels (overrides config)")
	preview := flag.Bool("preview", false, "Also write a colorized label preview PNG")
	flag.Parse()

	if *inputPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	if *tileSize > 0 {
		cfg.Pipeline.TileSize = *tileSize
	}
	if *overlap >= 0 {
		cfg.Pipeline.Overlap = *overlap
	}
	if *workers > 0 {
		cfg.Pipeline.Workers = *workers
	}
	if *mode != "" {
		cfg.Pipeline.Mode = *mode
	}
	if *minArea >= 0 {
		cfg.Pipeline.MinRegionArea = *minArea
	}
	if *preview {
		cfg.Output.SavePreview = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	inputs, err := loadInputs(*inputPath)
	if err != nil {
		log.Fatalf("Failed to load inputs: %v", err)
	}
	if len(inputs) == 0 {
		log.Fatalf("No supported images found under %s", *inputPath)
	}

	pmode, _ := postprocess.ParseMode(cfg.Pipeline.Mode)
	params := pipeline.Params{
		TileSize:      cfg.Pipeline.TileSize,
		Overlap:       cfg.Pipeline.Overlap,
		Workers:       cfg.Pipeline.Workers,
		Mode:          pmode,
		MinRegionArea: cfg.Pipeline.MinRegionArea,
	}
	writer := &export.Writer{
		Dir:         cfg.Output.Dir,
		Mode:        pmode,
		SavePreview: cfg.Output.SavePreview,
	}
	segmenter := &tissue.OtsuSegmenter{MinSpeckArea: cfg.Tissue.MinSpeckArea}

	p, err := pipeline.New(params, segmenter, pipeline.ThresholdInferrer{}, writer)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	fmt.Printf("Segmenting %d image(s) with %d worker(s) in %s mode...\n",
		len(inputs), cfg.Pipeline.Workers, cfg.Pipeline.Mode)

	failed := 0
	for _, r := range p.RunBatch(inputs) {
		if r.Err != nil {
			failed++
		}
	}

	fmt.Printf("Done: %d succeeded, %d failed. Results in %s\n",
		len(inputs)-failed, failed, cfg.Output.Dir)
	if failed > 0 {
		os.Exit(1)
	}
}

// loadInputs reads one image file or every supported image in a directory.
func loadInputs(path string) ([]pipeline.Input, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		in, err := loadImage(path)
		if err != nil {
			return nil, err
		}
		return []pipeline.Input{in}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var inputs []pipeline.Input
	for _, e := range entries {
		if e.IsDir() || !supportedImage(e.Name()) {
			continue
		}
		in, err := loadImage(filepath.Join(path, e.Name()))
		if err != nil {
			log.Printf("Skipping %s: %v", e.Name(), err)
			continue
		}
		inputs = append(inputs, in)
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].Name < inputs[j].Name })
	return inputs, nil
}

func supportedImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".tif", ".tiff", ".png", ".jpg", ".jpeg", ".bmp":
		return true
	}
	return false
}

// loadImage decodes one file. TIFFs keep their native bit depth so 16-bit
// microscopy inputs reach the normalization stage intact; other formats go
// through the generic decoder.
func loadImage(path string) (pipeline.Input, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var img image.Image
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		var f *os.File
		f, err = os.Open(path)
		if err != nil {
			return pipeline.Input{}, err
		}
		defer f.Close()
		img, err = tiff.Decode(f)
	default:
		img, err = imaging.Open(path)
	}
	if err != nil {
		return pipeline.Input{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	return pipeline.Input{Name: name, Image: img}, nil
}
