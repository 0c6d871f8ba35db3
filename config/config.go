package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/docker/go-units"
	"github.com/joho/godotenv"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// TileConfig contains all of the tiling, caching and layout settings
type TileConfig struct {
	TileSize           float64 // edge of a rendered tile in device pixels
	ThumbnailRatio     float64
	CacheSize          int // page tiles kept in memory, also the per-pass tile budget
	ThumbnailCacheSize int
	PreloadOffset      float64 // viewport inflation along the scroll axis, in pixels
	PreloadPages       int
	PoolSize           int // pooled bitmaps per pixel format
	PoolMaxBitmapBytes int

	DiskCacheEnabled       bool
	DiskCachePath          string
	DiskCacheMaxBytes      int64
	DiskCacheSweep         string // cron schedule, empty disables the sweeper
	DiskCacheEvictInterval time.Duration
	DiskCacheQueue         int

	Renderer            string // pdfium or fitz
	BestQuality         bool
	AnnotationRendering bool

	FitPolicy     string // width, height or both
	SwipeVertical bool
	PageSpacing   float64
	AutoSpacing   bool
	FitEachPage   bool

	ResultQueue int
	MinZoom     float64
	MaxZoom     float64
}

// Default returns the built-in configuration without reading the environment
func Default() TileConfig {
	return TileConfig{
		TileSize:               512,
		ThumbnailRatio:         0.5,
		CacheSize:              150,
		ThumbnailCacheSize:     20,
		PreloadOffset:          20,
		PreloadPages:           1,
		PoolSize:               10,
		PoolMaxBitmapBytes:     2 * units.MiB,
		DiskCacheEnabled:       true,
		DiskCachePath:          defaultDiskCachePath(),
		DiskCacheMaxBytes:      100 * units.MiB,
		DiskCacheSweep:         "@every 5m",
		DiskCacheEvictInterval: time.Second,
		DiskCacheQueue:         32,
		Renderer:               "pdfium",
		BestQuality:            true,
		AnnotationRendering:    true,
		FitPolicy:              "width",
		SwipeVertical:          true,
		ResultQueue:            64,
		MinZoom:                1,
		MaxZoom:                10,
	}
}

func defaultDiskCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "pdf_tiles")
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolVal
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// getEnvFloat gets a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return floatVal
}

// getEnvBytes gets a byte size such as "100MiB" or "2m" with a default value
func getEnvBytes(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	size, err := units.RAMInBytes(value)
	if err != nil {
		return defaultValue
	}
	return size
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// SetupTiles loads configuration and returns TileConfig and Logger
func SetupTiles() (TileConfig, *slog.Logger) {
	// Load .env file (silently ignore if doesn't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("tiles.env")

	logger := setupLogging()
	Logger = logger

	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		logger.Warn("Invalid tile configuration, using defaults", "error", err)
		cfg = Default()
	}

	logger.Info("Tile configuration loaded",
		"renderer", cfg.Renderer,
		"tileSize", cfg.TileSize,
		"cacheSize", cfg.CacheSize,
		"diskCache", cfg.DiskCacheEnabled,
		"diskCachePath", cfg.DiskCachePath)
	return cfg, logger
}

// FromEnv reads TileConfig from the environment over the defaults
func FromEnv() TileConfig {
	d := Default()
	cfg := TileConfig{}

	cfg.TileSize = getEnvFloat("TILE_SIZE", d.TileSize)
	cfg.ThumbnailRatio = getEnvFloat("THUMBNAIL_RATIO", d.ThumbnailRatio)
	cfg.CacheSize = getEnvInt("CACHE_SIZE", d.CacheSize)
	cfg.ThumbnailCacheSize = getEnvInt("THUMBNAIL_CACHE_SIZE", d.ThumbnailCacheSize)
	cfg.PreloadOffset = getEnvFloat("PRELOAD_OFFSET", d.PreloadOffset)
	cfg.PreloadPages = getEnvInt("PRELOAD_PAGES", d.PreloadPages)
	cfg.PoolSize = getEnvInt("BITMAP_POOL_SIZE", d.PoolSize)
	cfg.PoolMaxBitmapBytes = int(getEnvBytes("BITMAP_POOL_MAX_BYTES", int64(d.PoolMaxBitmapBytes)))

	// Disk cache configuration
	cfg.DiskCacheEnabled = getEnvBool("DISK_CACHE_ENABLED", d.DiskCacheEnabled)
	cachePath := filepath.ToSlash(getEnv("DISK_CACHE_PATH", d.DiskCachePath))
	cachePathAbs, err := filepath.Abs(cachePath)
	if err != nil {
		if Logger != nil {
			Logger.Error("Failed creating absolute path for disk cache", "path", cachePath, "error", err)
		}
		cachePathAbs = cachePath
	}
	cfg.DiskCachePath = cachePathAbs
	cfg.DiskCacheMaxBytes = getEnvBytes("DISK_CACHE_SIZE", d.DiskCacheMaxBytes)
	cfg.DiskCacheSweep = getEnv("DISK_CACHE_SWEEP", d.DiskCacheSweep)
	cfg.DiskCacheEvictInterval = getEnvDuration("DISK_CACHE_EVICT_INTERVAL", d.DiskCacheEvictInterval)
	cfg.DiskCacheQueue = getEnvInt("DISK_CACHE_QUEUE", d.DiskCacheQueue)

	// Rendering configuration
	cfg.Renderer = getEnv("RENDERER", d.Renderer)
	cfg.BestQuality = getEnvBool("BEST_QUALITY", d.BestQuality)
	cfg.AnnotationRendering = getEnvBool("ANNOTATION_RENDERING", d.AnnotationRendering)

	// Layout configuration
	cfg.FitPolicy = getEnv("FIT_POLICY", d.FitPolicy)
	cfg.SwipeVertical = getEnvBool("SWIPE_VERTICAL", d.SwipeVertical)
	cfg.PageSpacing = getEnvFloat("PAGE_SPACING", d.PageSpacing)
	cfg.AutoSpacing = getEnvBool("AUTO_SPACING", d.AutoSpacing)
	cfg.FitEachPage = getEnvBool("FIT_EACH_PAGE", d.FitEachPage)

	cfg.ResultQueue = getEnvInt("RESULT_QUEUE", d.ResultQueue)
	cfg.MinZoom = getEnvFloat("MIN_ZOOM", d.MinZoom)
	cfg.MaxZoom = getEnvFloat("MAX_ZOOM", d.MaxZoom)
	return cfg
}

// Validate rejects settings the pipeline cannot run with
func (c TileConfig) Validate() error {
	switch {
	case c.TileSize <= 0:
		return fmt.Errorf("tile size must be positive, got %v", c.TileSize)
	case c.CacheSize <= 0:
		return fmt.Errorf("cache size must be positive, got %d", c.CacheSize)
	case c.ThumbnailCacheSize <= 0:
		return fmt.Errorf("thumbnail cache size must be positive, got %d", c.ThumbnailCacheSize)
	case c.ThumbnailRatio <= 0 || c.ThumbnailRatio > 1:
		return fmt.Errorf("thumbnail ratio must be in (0,1], got %v", c.ThumbnailRatio)
	case c.MinZoom <= 0 || c.MaxZoom < c.MinZoom:
		return fmt.Errorf("invalid zoom range %v..%v", c.MinZoom, c.MaxZoom)
	case c.ResultQueue <= 0:
		return fmt.Errorf("result queue must be positive, got %d", c.ResultQueue)
	case c.DiskCacheEnabled && c.DiskCacheMaxBytes <= 0:
		return fmt.Errorf("disk cache size must be positive, got %d", c.DiskCacheMaxBytes)
	}
	switch c.Renderer {
	case "pdfium", "fitz":
	default:
		return fmt.Errorf("unknown renderer %q", c.Renderer)
	}
	return nil
}

// setupLogging configures the application logger
func setupLogging() *slog.Logger {
	logLevel := getEnv("LOG_LEVEL", "info")
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOptions := &slog.HandlerOptions{Level: level}

	logOutput := getEnv("LOG_OUTPUT", "stdout")
	var logWriter io.Writer

	if logOutput == "stdout" {
		logWriter = os.Stdout
	} else {
		logPath, err := filepath.Abs(filepath.ToSlash(getEnv("LOG_FILE", "pdftiles.log")))
		if err != nil {
			fmt.Printf("Error creating log file path: %v\n", err)
			logWriter = os.Stdout
		} else {
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				fmt.Printf("Failed to open log file: %v\n", err)
				logWriter = os.Stdout
			} else {
				logWriter = logFile
			}
		}
	}

	handler := slog.NewTextHandler(logWriter, handlerOptions)
	return slog.New(handler)
}
