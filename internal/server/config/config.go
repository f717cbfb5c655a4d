package config

import (
	"errors"
	"fmt"
	"log/slog"
)

// Config holds the server configuration.
type Config struct {
	Port    int    `json:"port"`
	DataDir string `json:"-"`
	Store   string `json:"store"`  // "json" or "sqlite"
	Source  string `json:"source"` // "bing" or "synthetic"

	APIKey     string `json:"api_key"`
	BaseURL    string `json:"base_url"`
	ImagerySet string `json:"imagery_set"` // Aerial, AerialWithLabels or Road
	Textures   bool   `json:"textures"`

	Location  string  `json:"location"` // free-text address, geocoded
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Zoom      int     `json:"zoom"`

	GridSize         float64 `json:"grid_size"`         // world size of the 3×3 window
	ThresholdPercent float64 `json:"threshold_percent"` // of one cell
	ElevationRows    int     `json:"elevation_rows"`
	TileWidth        int     `json:"tile_width"`
	SmoothingPasses  int     `json:"smoothing_passes"`
	Neighbours       int     `json:"neighbours"`
	Workers          int     `json:"workers"`

	AllowLoad       bool   `json:"allow_load"`
	MaxCacheEntries int    `json:"max_cache_entries"` // 0 = no warning
	Seed            int64  `json:"seed"`
	CacheURL        string `json:"cache_url"` // go-getter source for a prebuilt data dir
	LogLevel        string `json:"log_level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:             8080,
		DataDir:          "data",
		Store:            "json",
		Source:           "synthetic",
		ImagerySet:       "Aerial",
		Latitude:         46.0207,
		Longitude:        7.7491,
		Zoom:             12,
		GridSize:         75,
		ThresholdPercent: 10,
		ElevationRows:    32,
		TileWidth:        512,
		SmoothingPasses:  3,
		Neighbours:       12,
		Workers:          4,
		AllowLoad:        true,
		LogLevel:         "info",
	}
}

// Merge applies file-loaded config values into cfg, but only for fields
// that were NOT explicitly set via CLI flags. explicitFlags contains the
// flag names that were explicitly provided on the command line.
func Merge(cfg *Config, fromFile *Config, explicitFlags map[string]bool) {
	merge(explicitFlags, "port", &cfg.Port, fromFile.Port)
	merge(explicitFlags, "store", &cfg.Store, fromFile.Store)
	merge(explicitFlags, "source", &cfg.Source, fromFile.Source)
	merge(explicitFlags, "api-key", &cfg.APIKey, fromFile.APIKey)
	merge(explicitFlags, "base-url", &cfg.BaseURL, fromFile.BaseURL)
	merge(explicitFlags, "imagery", &cfg.ImagerySet, fromFile.ImagerySet)
	merge(explicitFlags, "textures", &cfg.Textures, fromFile.Textures)
	merge(explicitFlags, "location", &cfg.Location, fromFile.Location)
	merge(explicitFlags, "lat", &cfg.Latitude, fromFile.Latitude)
	merge(explicitFlags, "lon", &cfg.Longitude, fromFile.Longitude)
	merge(explicitFlags, "zoom", &cfg.Zoom, fromFile.Zoom)
	merge(explicitFlags, "grid-size", &cfg.GridSize, fromFile.GridSize)
	merge(explicitFlags, "threshold", &cfg.ThresholdPercent, fromFile.ThresholdPercent)
	merge(explicitFlags, "rows", &cfg.ElevationRows, fromFile.ElevationRows)
	merge(explicitFlags, "tile-width", &cfg.TileWidth, fromFile.TileWidth)
	merge(explicitFlags, "passes", &cfg.SmoothingPasses, fromFile.SmoothingPasses)
	merge(explicitFlags, "neighbours", &cfg.Neighbours, fromFile.Neighbours)
	merge(explicitFlags, "workers", &cfg.Workers, fromFile.Workers)
	merge(explicitFlags, "allow-load", &cfg.AllowLoad, fromFile.AllowLoad)
	merge(explicitFlags, "max-cache", &cfg.MaxCacheEntries, fromFile.MaxCacheEntries)
	merge(explicitFlags, "seed", &cfg.Seed, fromFile.Seed)
	merge(explicitFlags, "cache-url", &cfg.CacheURL, fromFile.CacheURL)
	merge(explicitFlags, "log-level", &cfg.LogLevel, fromFile.LogLevel)
}

func merge[T any](explicit map[string]bool, flag string, dst *T, fromFile T) {
	if !explicit[flag] {
		*dst = fromFile
	}
}

// Validate reports every inconsistent setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.Store {
	case "json", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	switch c.Source {
	case "synthetic":
	case "bing":
		if c.APIKey == "" {
			errs = append(errs, errors.New("bing source needs an api key"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source %q", c.Source))
	}
	if c.Location == "" && c.Latitude == 0 && c.Longitude == 0 {
		errs = append(errs, errors.New("location or latitude/longitude required"))
	}
	if c.Zoom < 1 || c.Zoom > 21 {
		errs = append(errs, fmt.Errorf("zoom %d outside [1, 21]", c.Zoom))
	}
	if c.GridSize <= 0 {
		errs = append(errs, fmt.Errorf("grid size %v must be positive", c.GridSize))
	}
	if c.ThresholdPercent < 0 {
		errs = append(errs, fmt.Errorf("threshold %v must not be negative", c.ThresholdPercent))
	}
	if c.ElevationRows <= 0 || c.TileWidth <= 0 {
		errs = append(errs, fmt.Errorf("rows %d and tile width %d must be positive", c.ElevationRows, c.TileWidth))
	} else if (3*c.TileWidth)%c.ElevationRows != 0 {
		errs = append(errs, fmt.Errorf("3×tile width %d not divisible by rows %d", 3*c.TileWidth, c.ElevationRows))
	}
	if c.SmoothingPasses < 0 || c.Neighbours < 0 || c.Workers < 0 {
		errs = append(errs, errors.New("passes, neighbours and workers must not be negative"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level: %w", err)
	}
	return l, nil
}
