package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mcclellann/debiflow/pkg/store"
)

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Config is the process configuration shared by the API and the CLI.
type Config struct {
	Backend         string        `validate:"required,oneof=sqlite gcs memory"`
	SQLitePath      string        `validate:"required_if=Backend sqlite"`
	Bucket          string        `validate:"required_if=Backend gcs"`
	CredentialsJSON string
	Port            string        `validate:"required,numeric"`
	LogLevel        string        `validate:"required,oneof=trace debug info warn warning error fatal panic"`
	DPDThreshold    int           `validate:"gte=0"`
	SummaryCacheTTL time.Duration `validate:"gte=0"`
}

// Load reads an optional .env file, then the environment, then validates.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	threshold, err := strconv.Atoi(getEnv("DEBIFLOW_DPD_THRESHOLD", "999"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEBIFLOW_DPD_THRESHOLD: %w", err)
	}
	ttl, err := time.ParseDuration(getEnv("SUMMARY_CACHE_TTL", "15m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SUMMARY_CACHE_TTL: %w", err)
	}

	cfg := &Config{
		Backend:         getEnv("DEBIFLOW_BACKEND", BackendSQLite),
		SQLitePath:      getEnv("DEBIFLOW_SQLITE_PATH", "debiflow.db"),
		Bucket:          os.Getenv("GCS_BUCKET"),
		CredentialsJSON: os.Getenv("GCS_CREDENTIALS_JSON"),
		Port:            getEnv("PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DPDThreshold:    threshold,
		SummaryCacheTTL: ttl,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// OpenStore builds the configured blob store. The returned journal is nil for
// backends that do not keep one.
func OpenStore(ctx context.Context, cfg *Config) (store.BlobStore, store.RunJournal, error) {
	switch cfg.Backend {
	case BackendSQLite:
		s, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case BackendGCS:
		s, err := store.NewGCSStore(ctx, cfg.Bucket, cfg.CredentialsJSON)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	case BackendMemory:
		s := store.NewMemoryStore()
		return s, s, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}
