// Package config loads the viewer's YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-water/internal/service"
)

// Backend locates the remote analysis service.
type Backend struct {
	URL           string        `yaml:"url"`
	TileURL       string        `yaml:"tile_url"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxConcurrent int64         `yaml:"max_concurrent"`
}

// Map is the initial camera.
type Map struct {
	Center  service.View `yaml:"center"`
	MaxZoom int          `yaml:"max_zoom"`
}

// Ledger configures the DuckDB export ledger.
type Ledger struct {
	Enabled bool   `yaml:"enabled"`
	DBName  string `yaml:"db_name"`
}

// Sessions bounds the lifetime of viewer sessions nobody is watching.
type Sessions struct {
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Config is the whole file.
type Config struct {
	Backend  Backend              `yaml:"backend"`
	Limits   service.Limits       `yaml:"limits"`
	Defaults service.ParameterSet `yaml:"defaults"`
	Map      Map                  `yaml:"map"`
	Examples []service.Example    `yaml:"examples"`
	Opacity  map[string]float64   `yaml:"opacity"`
	Ledger   Ledger               `yaml:"ledger"`
	Sessions Sessions             `yaml:"sessions"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Backend: Backend{
			URL:           "http://localhost:8080",
			Timeout:       60 * time.Second,
			MaxConcurrent: 8,
		},
		Limits:   service.DefaultLimits(),
		Defaults: service.DefaultParameterSet(),
		Map:      Map{Center: service.DefaultView(), MaxZoom: 14},
		Examples: service.DefaultExamples(),
		Opacity: map[string]float64{
			service.KindAoIFill.String(): 0.3,
			service.KindHAND.String():    0.6,
		},
		Ledger:   Ledger{Enabled: true, DBName: "exports.duckdb"},
		Sessions: Sessions{IdleTTL: 30 * time.Minute, SweepInterval: time.Minute},
	}
}

// Load reads path over the defaults. An empty path or a missing file yields
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values the service cannot run with.
func (c Config) Validate() error {
	if c.Backend.URL == "" {
		return errors.New("backend.url is required")
	}
	l := c.Limits
	if l.MaxSelection < 1 {
		return fmt.Errorf("limits.max_selection must be positive, got %d", l.MaxSelection)
	}
	if l.SoftAreaKm2 <= 0 || l.HardAreaKm2 < l.SoftAreaKm2 {
		return fmt.Errorf("limits: need 0 < soft_area_km2 (%v) <= hard_area_km2 (%v)", l.SoftAreaKm2, l.HardAreaKm2)
	}
	if err := c.Defaults.Validate(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	_, err := c.LayerOpacity()
	return err
}

// LayerOpacity converts the opacity section to layer kinds.
func (c Config) LayerOpacity() (map[service.LayerKind]float64, error) {
	out := make(map[service.LayerKind]float64, len(c.Opacity))
	for name, v := range c.Opacity {
		k, err := service.ParseLayerKind(name)
		if err != nil {
			return nil, fmt.Errorf("opacity: %w", err)
		}
		out[k] = v
	}
	return out, nil
}
