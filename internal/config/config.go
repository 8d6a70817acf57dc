package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/menta2k/capturegate/pkg/detection"
	"github.com/menta2k/capturegate/pkg/readiness"
)

// Config holds the application configuration
type Config struct {
	Gate       readiness.Config `json:"gate"`
	Vision     VisionConfig     `json:"vision"`
	Processing ProcessingConfig `json:"processing"`
	Output     OutputConfig     `json:"output"`
}

// VisionConfig holds configuration for the face detection backend
type VisionConfig struct {
	Backend       string  `json:"backend"`
	URL           string  `json:"url"`
	Model         string  `json:"model"`
	MinConfidence float64 `json:"min_confidence"`
	Prompt        string  `json:"prompt,omitempty"`
}

// ProcessingConfig holds configuration for the image sent to the model
type ProcessingConfig struct {
	SendFormat   string `json:"send_format"`
	SendSize     int    `json:"send_size"`
	SendQuality  int    `json:"send_quality"`
	MinImageSize int    `json:"min_image_size"`
}

// OutputConfig holds configuration for captured and debug images
type OutputConfig struct {
	OutputDir   string  `json:"output_dir"`
	Format      string  `json:"format"`
	Quality     int     `json:"quality"`
	Lossless    bool    `json:"lossless"`
	Overlay     bool    `json:"overlay"`
	CropPadding float64 `json:"crop_padding"`
	Suffix      string  `json:"suffix"`
}

// DefaultURL returns the default server URL for a backend
func DefaultURL(backend string) string {
	switch backend {
	case "ollama":
		return "http://localhost:11434"
	default:
		return "http://localhost:8080"
	}
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Gate: readiness.DefaultConfig(),
		Vision: VisionConfig{
			Backend:       "llamacpp",
			URL:           DefaultURL("llamacpp"),
			Model:         "openbmb/minicpm-v4.5",
			MinConfidence: detection.DefaultMinConfidence,
		},
		Processing: ProcessingConfig{
			SendFormat:   "jpg",
			SendSize:     1024,
			SendQuality:  85,
			MinImageSize: 64,
		},
		Output: OutputConfig{
			OutputDir:   "./out",
			Format:      "jpg",
			Quality:     90,
			CropPadding: 0.4,
			Suffix:      "_portrait",
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Keys missing from the
// file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Gate.MinOverlapPercent < 0 || c.Gate.MinOverlapPercent > 100 {
		return fmt.Errorf("gate.min_overlap_percent must be between 0 and 100")
	}

	if c.Gate.MinLuminosity < 0 {
		return fmt.Errorf("gate.min_luminosity must not be negative")
	}

	if c.Gate.CalibrationConstant <= 0 {
		return fmt.Errorf("gate.calibration_constant must be positive")
	}

	switch c.Vision.Backend {
	case "ollama", "llamacpp":
	default:
		return fmt.Errorf("vision.backend must be ollama or llamacpp, got %q", c.Vision.Backend)
	}

	if c.Vision.Model == "" {
		return fmt.Errorf("vision.model cannot be empty")
	}

	if c.Vision.MinConfidence < 0 || c.Vision.MinConfidence > 1 {
		return fmt.Errorf("vision.min_confidence must be between 0 and 1")
	}

	switch strings.ToLower(c.Processing.SendFormat) {
	case "jpg", "jpeg", "png":
	default:
		return fmt.Errorf("processing.send_format must be jpg or png")
	}

	if c.Processing.SendSize < 0 {
		return fmt.Errorf("processing.send_size must not be negative")
	}

	if c.Processing.SendQuality < 1 || c.Processing.SendQuality > 100 {
		return fmt.Errorf("processing.send_quality must be between 1 and 100")
	}

	if c.Processing.MinImageSize < 1 {
		return fmt.Errorf("processing.min_image_size must be positive")
	}

	switch strings.ToLower(c.Output.Format) {
	case "jpg", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("output.format must be jpg, png or webp")
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	if c.Output.CropPadding < 0 || c.Output.CropPadding > 2 {
		return fmt.Errorf("output.crop_padding must be between 0 and 2")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "capture-gate", "config.json")
}
