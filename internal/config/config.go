// Package config loads service configuration from an optional TOML file,
// applies defaults and environment overrides, and validates the result.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dfryer1193/imagemerge/gallery/chromakey"
	"github.com/dfryer1193/imagemerge/gallery/raster"
	"github.com/docker/go-units"
	"github.com/pelletier/go-toml/v2"
)

const (
	// EnvConfigPath points at the TOML file used when no --config flag is given.
	EnvConfigPath = "IMAGEMERGE_CONFIG"

	EnvPort          = "IMAGEMERGE_PORT"
	EnvImagesDir     = "IMAGEMERGE_IMAGES_DIR"
	EnvMaxUploadSize = "IMAGEMERGE_MAX_UPLOAD_SIZE"
	EnvLogLevel      = "IMAGEMERGE_LOG_LEVEL"
	EnvLogFormat     = "IMAGEMERGE_LOG_FORMAT"
)

// Config is the root service configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	Merge   MergeConfig   `toml:"merge"`
	Logging LoggingConfig `toml:"logging"`
}

// Load reads path, if non-empty, and finalizes the configuration. Unknown keys
// in the file are rejected.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Finalize applies defaults, loads environment overrides, and validates every section.
func (c *Config) Finalize() error {
	if err := c.Server.Finalize(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Storage.Finalize(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Merge.Finalize(); err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	if err := c.Logging.Finalize(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Port            int    `toml:"port"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
	shutdownTimeout time.Duration
}

func (c *ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return c.shutdownTimeout
}

func (c *ServerConfig) Finalize() error {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "5s"
	}

	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.Port = port
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}

	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}
	c.shutdownTimeout = d

	return nil
}

// StorageConfig contains image store settings.
type StorageConfig struct {
	// Dir is the flat directory images are stored in.
	// Default: "./images"
	Dir              string `toml:"dir"`
	MaxUploadSize    string `toml:"max_upload_size"`
	maxUploadSizeVal int64
}

func (c *StorageConfig) MaxUploadSizeBytes() int64 {
	return c.maxUploadSizeVal
}

func (c *StorageConfig) Finalize() error {
	if c.Dir == "" {
		c.Dir = "./images"
	}
	if c.MaxUploadSize == "" {
		c.MaxUploadSize = "20MB"
	}

	if v := os.Getenv(EnvImagesDir); v != "" {
		c.Dir = v
	}
	if v := os.Getenv(EnvMaxUploadSize); v != "" {
		c.MaxUploadSize = v
	}

	size, err := units.FromHumanSize(c.MaxUploadSize)
	if err != nil {
		return fmt.Errorf("invalid max_upload_size: %w", err)
	}
	if size <= 0 {
		return fmt.Errorf("max_upload_size must be positive")
	}
	c.maxUploadSizeVal = size

	return nil
}

// MergeConfig contains compositing defaults and limits.
type MergeConfig struct {
	DefaultColor  string `toml:"default_color"`
	DefaultMetric string `toml:"default_metric"`
	Quality       int    `toml:"quality"`
	MaxConcurrent int    `toml:"max_concurrent"`
	AutoOrient    *bool  `toml:"auto_orient"`

	defaultColor  raster.Pixel
	defaultMetric chromakey.Metric
}

func (c *MergeConfig) DefaultColorPixel() raster.Pixel {
	return c.defaultColor
}

func (c *MergeConfig) DefaultMetricValue() chromakey.Metric {
	return c.defaultMetric
}

// AutoOrientEnabled reports whether EXIF orientation is applied on decode.
// It defaults to true when unset.
func (c *MergeConfig) AutoOrientEnabled() bool {
	return c.AutoOrient == nil || *c.AutoOrient
}

func (c *MergeConfig) Finalize() error {
	if c.DefaultColor == "" {
		c.DefaultColor = "200,50,52"
	}
	if c.Quality == 0 {
		c.Quality = 90
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 4
	}

	color, err := chromakey.ParseColor(c.DefaultColor)
	if err != nil {
		return fmt.Errorf("invalid default_color: %w", err)
	}
	c.defaultColor = color

	metric, err := chromakey.ParseMetric(c.DefaultMetric)
	if err != nil {
		return fmt.Errorf("invalid default_metric: %w", err)
	}
	c.defaultMetric = metric
	c.DefaultMetric = string(metric)

	if c.Quality < 1 || c.Quality > 100 {
		return fmt.Errorf("quality must be between 1 and 100, got %d", c.Quality)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be positive, got %d", c.MaxConcurrent)
	}

	return nil
}

// LoggingConfig selects the zerolog level and output format.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

func (c *LoggingConfig) Finalize() error {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.Format = v
	}

	switch c.Format {
	case "console", "json":
	default:
		return fmt.Errorf("format must be console or json, got %q", c.Format)
	}

	return nil
}
