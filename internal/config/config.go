// Package config loads the process configuration from the environment.
// Resolution happens exactly once at startup and fails loudly when no
// backend is configured; the resulting Config is immutable for the process
// lifetime.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"agenthub-backend/internal/backend"
)

// CacheConfig bounds the in-process result cache and sets the TTL size
// classes; the thresholds are deliberate policy, not incidental constants.
type CacheConfig struct {
	Capacity int

	ItemTTL      time.Duration
	SmallSetTTL  time.Duration
	MediumSetTTL time.Duration
	LargeSetTTL  time.Duration

	SmallThreshold int
	LargeThreshold int
}

// Config holds all application configuration.
type Config struct {
	ServerAddress string
	Environment   string
	LogLevel      string

	// DefaultBackend selects which store answers by default; per-call
	// overrides remain possible through the facade.
	DefaultBackend backend.Kind

	// Primary (DynamoDB) backend.
	AWSRegion     string
	DynamoDBTable string

	// Secondary (Postgres) backend.
	PostgresDSN string

	Cache          CacheConfig
	BatchChunkSize int

	// Query-result cache for the external query tool.
	QueryCacheTTL    time.Duration
	QueryOriginURL   string
	SemanticStoreURL string
}

// Load reads the environment. This is the single configuration-resolution
// step; callers must treat the result as read-only.
func Load() (*Config, error) {
	cfg := &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		DefaultBackend: backend.Kind(getEnv("DEFAULT_BACKEND", string(backend.KindPrimary))),

		AWSRegion:     getEnv("AWS_REGION", "us-west-2"),
		DynamoDBTable: getEnv("DYNAMODB_TABLE", ""),
		PostgresDSN:   getEnv("POSTGRES_DSN", ""),

		Cache: CacheConfig{
			Capacity:       getEnvInt("CACHE_CAPACITY", 1024),
			ItemTTL:        getEnvDuration("CACHE_ITEM_TTL", 30*time.Minute),
			SmallSetTTL:    getEnvDuration("CACHE_SMALL_SET_TTL", 15*time.Minute),
			MediumSetTTL:   getEnvDuration("CACHE_MEDIUM_SET_TTL", 5*time.Minute),
			LargeSetTTL:    getEnvDuration("CACHE_LARGE_SET_TTL", time.Minute),
			SmallThreshold: getEnvInt("CACHE_SMALL_THRESHOLD", 50),
			LargeThreshold: getEnvInt("CACHE_LARGE_THRESHOLD", 100),
		},
		BatchChunkSize: getEnvInt("BATCH_CHUNK_SIZE", 10),

		QueryCacheTTL:    getEnvDuration("QUERY_CACHE_TTL", 60*time.Minute),
		QueryOriginURL:   getEnv("QUERY_ORIGIN_URL", ""),
		SemanticStoreURL: getEnv("SEMANTIC_STORE_URL", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects a process that would otherwise start with silently
// empty connection strings.
func (c *Config) Validate() error {
	if c.DynamoDBTable == "" && c.PostgresDSN == "" {
		return fmt.Errorf("no backend configured: set DYNAMODB_TABLE and/or POSTGRES_DSN")
	}
	switch c.DefaultBackend {
	case backend.KindPrimary:
		if c.DynamoDBTable == "" {
			return fmt.Errorf("DEFAULT_BACKEND is %q but DYNAMODB_TABLE is not set", c.DefaultBackend)
		}
	case backend.KindSecondary:
		if c.PostgresDSN == "" {
			return fmt.Errorf("DEFAULT_BACKEND is %q but POSTGRES_DSN is not set", c.DefaultBackend)
		}
	default:
		return fmt.Errorf("DEFAULT_BACKEND must be %q or %q, got %q",
			backend.KindPrimary, backend.KindSecondary, c.DefaultBackend)
	}
	if c.Cache.SmallThreshold >= c.Cache.LargeThreshold {
		return fmt.Errorf("CACHE_SMALL_THRESHOLD must be below CACHE_LARGE_THRESHOLD")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
