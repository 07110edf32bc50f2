// Package config provides configuration management for the application.
// Values come from the environment, optionally seeded from a .env file;
// every setting has a default suitable for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Redis     RedisConfig
	Ingest    IngestConfig
	Recompute RecomputeConfig
	Registry  RegistryConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string

	// MasterKey guards the API. Empty disables authentication
	// (local development only).
	MasterKey string

	// BodySizeLimit caps request bodies, echo syntax (e.g. "1M").
	BodySizeLimit string
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Type is one of "sqlite", "postgresql", "mongodb".
	Type string

	// SQLitePath is the database file path for the sqlite backend.
	SQLitePath string

	// PostgresURL is the connection string for the postgresql backend.
	PostgresURL string

	// MongoURL and MongoDatabase configure the mongodb backend.
	MongoURL      string
	MongoDatabase string
}

// RedisConfig configures the optional Redis snapshot cache.
// An empty URL selects the local file cache instead.
type RedisConfig struct {
	URL string
	Key string
}

// IngestConfig configures the upstream price feed.
type IngestConfig struct {
	// FeedURL is the pricing feed endpoint. Empty disables ingestion.
	FeedURL string

	// Source tags observations ingested from the feed. Empty keeps the
	// feed URL as the source.
	Source string

	// Timeout bounds one feed fetch.
	Timeout time.Duration
}

// RecomputeConfig configures the recomputation cycle.
type RecomputeConfig struct {
	// Schedule is a standard cron expression. Empty means manual
	// triggers only.
	Schedule string

	// SnapshotPath is where the local snapshot cache file lives when
	// Redis is not configured.
	SnapshotPath string
}

// RegistryConfig locates the model registry file.
type RegistryConfig struct {
	// Path points at a registry YAML file. Empty uses the embedded seed.
	Path string
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string

	// Format is "text" or "json".
	Format string
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load() // Ignore error if .env file doesn't exist

	timeout, err := getDuration("PRICEFEED_FEED_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:          getString("PORT", "8080"),
			MasterKey:     os.Getenv("PRICEFEED_MASTER_KEY"),
			BodySizeLimit: getString("PRICEFEED_BODY_SIZE_LIMIT", "1M"),
		},
		Storage: StorageConfig{
			Type:          getString("PRICEFEED_STORAGE_TYPE", "sqlite"),
			SQLitePath:    getString("PRICEFEED_SQLITE_PATH", "data/pricefeed.db"),
			PostgresURL:   os.Getenv("PRICEFEED_POSTGRES_URL"),
			MongoURL:      os.Getenv("PRICEFEED_MONGO_URL"),
			MongoDatabase: getString("PRICEFEED_MONGO_DATABASE", "pricefeed"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("PRICEFEED_REDIS_URL"),
			Key: getString("PRICEFEED_REDIS_KEY", ""),
		},
		Ingest: IngestConfig{
			FeedURL: os.Getenv("PRICEFEED_FEED_URL"),
			Source:  os.Getenv("PRICEFEED_FEED_SOURCE"),
			Timeout: timeout,
		},
		Recompute: RecomputeConfig{
			Schedule:     getString("PRICEFEED_RECOMPUTE_SCHEDULE", "0 * * * *"),
			SnapshotPath: getString("PRICEFEED_SNAPSHOT_PATH", "data/snapshot.json"),
		},
		Registry: RegistryConfig{
			Path: os.Getenv("PRICEFEED_REGISTRY_PATH"),
		},
		Logging: LoggingConfig{
			Level:  getString("LOG_LEVEL", "info"),
			Format: getString("LOG_FORMAT", "text"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Type {
	case "sqlite", "postgresql", "mongodb":
	default:
		return fmt.Errorf("unsupported storage type %q", c.Storage.Type)
	}
	if c.Storage.Type == "postgresql" && c.Storage.PostgresURL == "" {
		return fmt.Errorf("PRICEFEED_POSTGRES_URL is required for postgresql storage")
	}
	if c.Storage.Type == "mongodb" && c.Storage.MongoURL == "" {
		return fmt.Errorf("PRICEFEED_MONGO_URL is required for mongodb storage")
	}
	return nil
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	// Accept plain seconds for convenience.
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %q", key, v)
	}
	return d, nil
}
