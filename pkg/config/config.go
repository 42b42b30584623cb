// Package config provides configuration loading and management for cellseg.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"cellseg/pkg/postprocess"
	"cellseg/pkg/tiling"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Pipeline parameters
	Pipeline struct {
		// TileSize is the square crop edge length used by the
		// post-processing pool
		TileSize int `yaml:"tileSize"`

		// Overlap is the number of pixels shared between adjacent tiles
		Overlap int `yaml:"overlap"`

		// Workers specifies how many goroutines process tiles in parallel
		Workers int `yaml:"workers"`

		// Mode selects the post-processing pass: "watershed" or "score"
		Mode string `yaml:"mode"`

		// MinRegionArea discards tissue regions smaller than this many
		// pixels before inference
		MinRegionArea int `yaml:"minRegionArea"`
	} `yaml:"pipeline"`

	// Tissue segmentation parameters
	Tissue struct {
		// MinSpeckArea removes foreground specks below this area from
		// the tissue mask
		MinSpeckArea int `yaml:"minSpeckArea"`
	} `yaml:"tissue"`

	// Output parameters
	Output struct {
		// Dir is the directory result files are written to
		Dir string `yaml:"dir"`

		// SavePreview additionally writes a colorized label preview PNG
		SavePreview bool `yaml:"savePreview"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Pipeline.TileSize = 2000
	cfg.Pipeline.Overlap = 100
	cfg.Pipeline.Workers = runtime.NumCPU()
	cfg.Pipeline.Mode = string(postprocess.ModeWatershed)
	cfg.Pipeline.MinRegionArea = 64

	cfg.Tissue.MinSpeckArea = 32

	cfg.Output.Dir = "cellseg_out"
	cfg.Output.SavePreview = false

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate rejects configurations the pipeline would refuse at run time,
// so bad settings fail before any image is loaded.
func (cfg *Config) Validate() error {
	if err := tiling.ValidateParams(cfg.Pipeline.TileSize, cfg.Pipeline.Overlap); err != nil {
		return err
	}
	if cfg.Pipeline.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", cfg.Pipeline.Workers)
	}
	if _, err := postprocess.ParseMode(cfg.Pipeline.Mode); err != nil {
		return err
	}
	if cfg.Pipeline.MinRegionArea < 0 {
		return fmt.Errorf("minRegionArea must not be negative, got %d", cfg.Pipeline.MinRegionArea)
	}
	if cfg.Tissue.MinSpeckArea < 0 {
		return fmt.Errorf("minSpeckArea must not be negative, got %d", cfg.Tissue.MinSpeckArea)
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
