package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
	if cfg.TileSize != 512 || cfg.CacheSize != 150 || cfg.ThumbnailCacheSize != 20 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.DiskCacheMaxBytes != 100<<20 {
		t.Errorf("DiskCacheMaxBytes = %d, want 100MiB", cfg.DiskCacheMaxBytes)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	cacheDir := filepath.Join(t.TempDir(), "tiles")
	t.Setenv("TILE_SIZE", "256")
	t.Setenv("CACHE_SIZE", "40")
	t.Setenv("THUMBNAIL_RATIO", "0.25")
	t.Setenv("DISK_CACHE_SIZE", "10MiB")
	t.Setenv("DISK_CACHE_PATH", cacheDir)
	t.Setenv("DISK_CACHE_EVICT_INTERVAL", "250ms")
	t.Setenv("AUTO_SPACING", "true")
	t.Setenv("RENDERER", "fitz")

	cfg := FromEnv()
	if cfg.TileSize != 256 {
		t.Errorf("TileSize = %v, want 256", cfg.TileSize)
	}
	if cfg.CacheSize != 40 {
		t.Errorf("CacheSize = %d, want 40", cfg.CacheSize)
	}
	if cfg.ThumbnailRatio != 0.25 {
		t.Errorf("ThumbnailRatio = %v, want 0.25", cfg.ThumbnailRatio)
	}
	if cfg.DiskCacheMaxBytes != 10<<20 {
		t.Errorf("DiskCacheMaxBytes = %d, want 10MiB", cfg.DiskCacheMaxBytes)
	}
	if cfg.DiskCachePath != cacheDir {
		t.Errorf("DiskCachePath = %q, want %q", cfg.DiskCachePath, cacheDir)
	}
	if cfg.DiskCacheEvictInterval != 250*time.Millisecond {
		t.Errorf("DiskCacheEvictInterval = %v, want 250ms", cfg.DiskCacheEvictInterval)
	}
	if !cfg.AutoSpacing || cfg.Renderer != "fitz" {
		t.Errorf("AutoSpacing/Renderer not read: %+v", cfg)
	}
}

func TestFromEnv_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("CACHE_SIZE", "lots")
	t.Setenv("DISK_CACHE_SIZE", "huge")
	t.Setenv("BEST_QUALITY", "maybe")

	cfg := FromEnv()
	d := Default()
	if cfg.CacheSize != d.CacheSize {
		t.Errorf("CacheSize = %d, want default %d", cfg.CacheSize, d.CacheSize)
	}
	if cfg.DiskCacheMaxBytes != d.DiskCacheMaxBytes {
		t.Errorf("DiskCacheMaxBytes = %d, want default", cfg.DiskCacheMaxBytes)
	}
	if cfg.BestQuality != d.BestQuality {
		t.Error("BestQuality should fall back to the default")
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(*TileConfig){
		"zero tile size":     func(c *TileConfig) { c.TileSize = 0 },
		"zero cache":         func(c *TileConfig) { c.CacheSize = 0 },
		"thumbnail ratio":    func(c *TileConfig) { c.ThumbnailRatio = 1.5 },
		"zoom range":         func(c *TileConfig) { c.MinZoom, c.MaxZoom = 3, 2 },
		"unknown renderer":   func(c *TileConfig) { c.Renderer = "poppler" },
		"disk cache size":    func(c *TileConfig) { c.DiskCacheMaxBytes = 0 },
		"empty result queue": func(c *TileConfig) { c.ResultQueue = 0 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected a validation error", name)
		} else {
			t.Logf("%s: correctly rejected: %v", name, err)
		}
	}
}

func TestSetupTiles_ReturnsLogger(t *testing.T) {
	t.Setenv("LOG_OUTPUT", "stdout")
	t.Setenv("LOG_LEVEL", "warn")
	cfg, logger := SetupTiles()
	if logger == nil || Logger != logger {
		t.Fatal("SetupTiles should set and return the package logger")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("SetupTiles returned an invalid config: %v", err)
	}
}
