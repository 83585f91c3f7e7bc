/**
 * Configuration for the card scanner
 *
 * Loads configuration from environment variables (optionally seeded from a .env file)
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	scanerrors "github.com/Epetaway/mtg-proxy-generator/internal/errors"
)

// Capture sources
const (
	SourceWebcam = "webcam"
	SourceFolder = "folder"
)

// Preprocess backends
const (
	BackendOpenCV  = "opencv"
	BackendImaging = "imaging"
	BackendNone    = "none"
)

// Ranking strategies for catalog hits
const (
	RankingFirst    = "first"
	RankingLanguage = "language"
)

// MinCaptureInterval is the smallest auto-capture period accepted
const MinCaptureInterval = 200 * time.Millisecond

// Config holds scanner configuration
type Config struct {
	// HTTP control surface
	ListenAddr string

	// Redis configuration (name cache + task queue)
	RedisURL string

	// PostgreSQL configuration (catalog mirror + scan records), optional
	DatabaseURL string

	// Catalog
	BulkDataURL     string
	CatalogSyncCron string
	NameCacheMaxAge time.Duration

	// Capture
	CaptureSource string
	CameraDevice  int
	FrameDir      string

	// Preprocessing
	PreprocessBackend string
	ChangeDetection   bool

	// OCR
	OCRLanguage string
	OCRTimeout  time.Duration

	// Scan session defaults
	ConfidenceThreshold float64
	CaptureInterval     time.Duration
	TargetCount         int

	// Matching
	FuzzyThreshold     float64
	SuggestLimit       int
	ResolveConcurrency int
	Ranking            string
	PreferredLang      string

	// Worker configuration
	WorkerConcurrency int

	LogLevel string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ListenAddr:          getEnvOrDefault("LISTEN_ADDR", ":8085"),
		RedisURL:            getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		DatabaseURL:         getEnvOrDefault("DATABASE_URL", ""),
		BulkDataURL:         getEnvOrDefault("BULK_DATA_URL", "https://api.scryfall.com/bulk-data"),
		CatalogSyncCron:     getEnvOrDefault("CATALOG_SYNC_CRON", "@daily"),
		NameCacheMaxAge:     getEnvAsDurationOrDefault("NAME_CACHE_MAX_AGE", 7*24*time.Hour),
		CaptureSource:       getEnvOrDefault("CAPTURE_SOURCE", SourceWebcam),
		CameraDevice:        getEnvAsIntOrDefault("CAMERA_DEVICE", 0),
		FrameDir:            getEnvOrDefault("FRAME_DIR", "/tmp/cardscan/frames"),
		PreprocessBackend:   getEnvOrDefault("PREPROCESS_BACKEND", BackendOpenCV),
		ChangeDetection:     getEnvAsBoolOrDefault("CHANGE_DETECTION", true),
		OCRLanguage:         getEnvOrDefault("OCR_LANGUAGE", "eng"),
		OCRTimeout:          getEnvAsDurationOrDefault("OCR_TIMEOUT", 15*time.Second),
		ConfidenceThreshold: getEnvAsFloatOrDefault("CONFIDENCE_THRESHOLD", 65),
		CaptureInterval:     time.Duration(getEnvAsIntOrDefault("CAPTURE_INTERVAL_MS", 1500)) * time.Millisecond,
		TargetCount:         getEnvAsIntOrDefault("TARGET_COUNT", 20),
		FuzzyThreshold:      getEnvAsFloatOrDefault("FUZZY_THRESHOLD", 0.35),
		SuggestLimit:        getEnvAsIntOrDefault("SUGGEST_LIMIT", 5),
		ResolveConcurrency:  getEnvAsIntOrDefault("RESOLVE_CONCURRENCY", 4),
		Ranking:             strings.ToLower(getEnvOrDefault("RANKING", RankingFirst)),
		PreferredLang:       getEnvOrDefault("PREFERRED_LANG", "en"),
		WorkerConcurrency:   getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return scanerrors.NewInvalidConfigError("REDIS_URL", c.RedisURL, "is required")
	}

	switch c.CaptureSource {
	case SourceWebcam:
		if c.CameraDevice < 0 {
			return scanerrors.NewInvalidConfigError("CAMERA_DEVICE", c.CameraDevice, "must be >= 0")
		}
	case SourceFolder:
		if c.FrameDir == "" {
			return scanerrors.NewInvalidConfigError("FRAME_DIR", c.FrameDir, "is required for the folder source")
		}
	default:
		return scanerrors.NewInvalidConfigError("CAPTURE_SOURCE", c.CaptureSource, "must be webcam or folder")
	}

	switch c.PreprocessBackend {
	case BackendOpenCV, BackendImaging, BackendNone:
	default:
		return scanerrors.NewInvalidConfigError("PREPROCESS_BACKEND", c.PreprocessBackend, "must be opencv, imaging or none")
	}

	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 100 {
		return scanerrors.NewInvalidConfigError("CONFIDENCE_THRESHOLD", c.ConfidenceThreshold, "must be between 0 and 100")
	}

	if c.CaptureInterval < MinCaptureInterval {
		return scanerrors.NewInvalidConfigError("CAPTURE_INTERVAL_MS", c.CaptureInterval.Milliseconds(), "must be at least 200")
	}

	if c.TargetCount < 1 {
		return scanerrors.NewInvalidConfigError("TARGET_COUNT", c.TargetCount, "must be at least 1")
	}

	if c.OCRTimeout <= 0 {
		return scanerrors.NewInvalidConfigError("OCR_TIMEOUT", c.OCRTimeout.String(), "must be positive")
	}

	if c.NameCacheMaxAge <= 0 {
		return scanerrors.NewInvalidConfigError("NAME_CACHE_MAX_AGE", c.NameCacheMaxAge.String(), "must be positive")
	}

	if c.FuzzyThreshold <= 0 || c.FuzzyThreshold > 1 {
		return scanerrors.NewInvalidConfigError("FUZZY_THRESHOLD", c.FuzzyThreshold, "must be in (0, 1]")
	}

	if c.SuggestLimit < 1 {
		return scanerrors.NewInvalidConfigError("SUGGEST_LIMIT", c.SuggestLimit, "must be at least 1")
	}

	if c.ResolveConcurrency < 1 || c.ResolveConcurrency > 16 {
		return scanerrors.NewInvalidConfigError("RESOLVE_CONCURRENCY", c.ResolveConcurrency, "must be between 1 and 16")
	}

	switch c.Ranking {
	case RankingFirst, RankingLanguage:
	default:
		return scanerrors.NewInvalidConfigError("RANKING", c.Ranking, "must be first or language")
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return scanerrors.NewInvalidConfigError("WORKER_CONCURRENCY", c.WorkerConcurrency, "must be between 1 and 100")
	}

	return nil
}

// MirrorEnabled reports whether a Postgres catalog mirror is configured
func (c *Config) MirrorEnabled() bool {
	return c.DatabaseURL != ""
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsBoolOrDefault gets environment variable as bool or returns default
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsDurationOrDefault accepts Go durations ("15s") or bare milliseconds
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	if ms, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(ms) * time.Millisecond
	}

	return defaultValue
}
