package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joeblew999/plat-water/internal/service"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "water.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Limits != service.DefaultLimits() {
		t.Errorf("limits = %+v", cfg.Limits)
	}
	if !cfg.Defaults.Equal(service.DefaultParameterSet()) {
		t.Errorf("defaults = %+v", cfg.Defaults)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	p := writeFile(t, `
backend:
  url: http://analysis:9000
  tile_url: https://tiles.example.com
  timeout: 5s
limits:
  soft_area_km2: 10000
defaults:
  time_start: "2018-01-01"
  time_end: "2018-12-31"
map:
  center: {lat: 16, lng: 105, zoom: 6}
opacity:
  water: 0.8
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.URL != "http://analysis:9000" || cfg.Backend.Timeout != 5*time.Second {
		t.Errorf("backend = %+v", cfg.Backend)
	}
	// untouched keys keep their defaults
	if cfg.Backend.MaxConcurrent != 8 || cfg.Limits.HardAreaKm2 != 20000 || cfg.Limits.SoftAreaKm2 != 10000 {
		t.Errorf("merged = %+v %+v", cfg.Backend, cfg.Limits)
	}
	if cfg.Defaults.TimeStart != "2018-01-01" || cfg.Defaults.PercentilePermanent != 40 {
		t.Errorf("defaults = %+v", cfg.Defaults)
	}
	if cfg.Map.Center.Zoom != 6 {
		t.Errorf("map = %+v", cfg.Map)
	}
	op, err := cfg.LayerOpacity()
	if err != nil || op[service.KindWater] != 0.8 || op[service.KindHAND] != 0.6 {
		t.Errorf("opacity = %v, %v", op, err)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name, body, want string
	}{
		{"limits", "limits: {soft_area_km2: 30000}", "soft_area_km2"},
		{"selection", "limits: {max_selection: 0}", "max_selection"},
		{"defaults", "defaults: {month_index: 14}", "defaults"},
		{"opacity", "opacity: {lakes: 1}", "opacity"},
		{"syntax", "backend: [", "parsing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadSessionLifetime(t *testing.T) {
	cfg, err := Load(writeFile(t, "sessions:\n  idle_ttl: 10m\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sessions.IdleTTL != 10*time.Minute || cfg.Sessions.SweepInterval != time.Minute {
		t.Errorf("sessions = %+v", cfg.Sessions)
	}
}
