// Package config loads application configuration from a .env file and
// environment variables. Configuration Loading Order:
//  1. Load from .env file (if present)
//  2. Load from environment variables
//
// A single Config is built once in main and threaded through constructors;
// there is no package-global configuration state.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-tunable knob named in spec.md §6.
type Config struct {
	DataDir string // base directory for all per-service SQLite files
	Port    int    // gateway HTTP port

	// Grid bin ranges (§4.6.2)
	DownPctMin, DownPctMax, DownPctStep float64
	RateBpsMin, RateBpsMax, RateBpsStep int
	AmortMonths                         []int

	// Estimator thresholds (§4.5)
	MaterialChangePct float64
	CompsMinCount     int
	CompsRadiusKm     float64
	CompsWindowDays   int

	// Debounce TTLs (§4.4, §4.5)
	EnrichmentDebounce time.Duration
	RentDebounce       time.Duration

	// Bus retry policy (§4.1)
	BusMaxRetries  int
	DrainTimeout   time.Duration
	HandlerTimeout time.Duration

	// Feature flags (§6)
	EnableCache bool
	EnableS3Archival bool

	// Ingestor poll schedule (cron spec, §4.3)
	IngestCronSpec string

	S3Bucket          string
	S3Prefix          string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// Load builds a Config from .env (if present) then environment variables,
// falling back to the defaults spec.md §4.6.2/§4.4/§4.5 name explicitly.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DataDir: getString("DATA_DIR", "./data"),
		Port:    getInt("GATEWAY_PORT", 8080),

		DownPctMin:  getFloat("GRID_DOWN_MIN", 0.05),
		DownPctMax:  getFloat("GRID_DOWN_MAX", 0.35),
		DownPctStep: getFloat("GRID_DOWN_STEP", 0.01),
		RateBpsMin:  getInt("GRID_RATE_MIN", 300),
		RateBpsMax:  getInt("GRID_RATE_MAX", 800),
		RateBpsStep: getInt("GRID_RATE_STEP", 5),
		AmortMonths: []int{240, 300, 360},

		MaterialChangePct: getFloat("ESTIMATOR_MATERIAL_CHANGE_PCT", 0.03),
		CompsMinCount:     getInt("ESTIMATOR_COMPS_MIN_COUNT", 3),
		CompsRadiusKm:     getFloat("ESTIMATOR_COMPS_RADIUS_KM", 2.0),
		CompsWindowDays:   getInt("ESTIMATOR_COMPS_WINDOW_DAYS", 120),

		EnrichmentDebounce: getDuration("ENRICHMENT_DEBOUNCE", 60*time.Second),
		RentDebounce:       getDuration("RENT_DEBOUNCE", 30*time.Second),

		BusMaxRetries:  getInt("BUS_MAX_RETRIES", 3),
		DrainTimeout:   getDuration("BUS_DRAIN_TIMEOUT", 30*time.Second),
		HandlerTimeout: getDuration("HANDLER_TIMEOUT", 10*time.Second),

		EnableCache:      getBool("FEATURE_ENABLE_CACHE", true),
		EnableS3Archival: getBool("FEATURE_ENABLE_S3_ARCHIVAL", false),

		IngestCronSpec: getString("INGEST_CRON_SPEC", "@every 1m"),

		S3Bucket:          getString("ARCHIVE_S3_BUCKET", ""),
		S3Prefix:          getString("ARCHIVE_S3_PREFIX", "underwriting-archive"),
		S3AccessKeyID:     getString("ARCHIVE_S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getString("ARCHIVE_S3_SECRET_ACCESS_KEY", ""),
	}
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
