package config

import (
	"os"
	"time"

	"github.com/spf13/cast"
)

// Config is the flat, env-driven service configuration. Every field has a
// sane default so a bare `listvault` run against a local Redis works.
type Config struct {
	Port         int
	WorkerSecret string
	RedisURL     string

	// Scraping
	SourceBaseURL  string
	ChromePath     string
	SessionDir     string
	MaxConcurrent  int
	MaxPages       int
	JobTimeout     time.Duration
	CacheTTL       time.Duration
	MaxJobAttempts int

	// Metadata API
	MetadataAPIKey    string
	MetadataBaseURL   string
	MetadataImageBase string
	MetadataCacheTTL  time.Duration
	MetadataRateLimit float64
	KindOverridesPath string

	LogLevel string
}

func Load() *Config {
	return &Config{
		Port:         envInt("PORT", 8080),
		WorkerSecret: env("WORKER_SECRET", ""),
		RedisURL:     env("REDIS_URL", "redis://localhost:6379/0"),

		SourceBaseURL:  env("SOURCE_BASE_URL", "https://www.imdb.com/user"),
		ChromePath:     env("CHROME_PATH", ""),
		SessionDir:     env("SESSION_DIR", "/data/sessions"),
		MaxConcurrent:  envInt("MAX_CONCURRENT", 2),
		MaxPages:       envInt("MAX_PAGES", 5),
		JobTimeout:     envSeconds("JOB_TIMEOUT_SECONDS", 300),
		CacheTTL:       envSeconds("CACHE_TTL_SECONDS", 43200),
		MaxJobAttempts: envInt("MAX_JOB_ATTEMPTS", 3),

		MetadataAPIKey:    env("METADATA_API_KEY", ""),
		MetadataBaseURL:   env("METADATA_BASE_URL", "https://api.themoviedb.org/3"),
		MetadataImageBase: env("METADATA_IMAGE_BASE", "https://image.tmdb.org/t/p/w500"),
		MetadataCacheTTL:  envSeconds("METADATA_CACHE_TTL_SECONDS", 7*24*3600),
		MetadataRateLimit: envFloat("TMDB_RATE_LIMIT", 40),
		KindOverridesPath: env("KIND_OVERRIDES_PATH", "configs/kind_overrides.json"),

		LogLevel: env("LOG_LEVEL", "info"),
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := cast.ToIntE(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := cast.ToFloat64E(v); err == nil {
			return f
		}
	}
	return fallback
}

func envSeconds(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Second
}
