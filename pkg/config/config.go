package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	// Load environment variables from .env files when present.
	_ "github.com/joho/godotenv/autoload"

	"github.com/FACorreiaa/statement-import-engine/pkg/storage"
)

// Config holds all process configuration
type Config struct {
	Database      DatabaseConfig
	Storage       storage.Config
	Worker        WorkerConfig
	Observability ObservabilityConfig
	Settings      SettingsConfig
	LogLevel      string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
}

// WorkerConfig tunes the import queue and the stale import reaper.
type WorkerConfig struct {
	Workers        int
	QueueSize      int
	MaxAttempts    int
	AttemptTimeout time.Duration
	StaleAfter     time.Duration
	ReaperSchedule string
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	MetricsPort    int
}

// SettingsConfig points at the optional engine settings file.
type SettingsConfig struct {
	Path string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "importer"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("POSTGRES_MAX_CONNS", 10),
		},
		Storage: storage.Config{
			Type:              storage.StorageType(getEnv("STORAGE_TYPE", string(storage.StorageTypeLocal))),
			Compress:          getEnvAsBool("STORAGE_COMPRESS", true),
			LocalPath:         getEnv("STORAGE_LOCAL_PATH", "./data/uploads"),
			S3Bucket:          getEnv("S3_BUCKET", ""),
			S3Region:          getEnv("S3_REGION", "us-east-1"),
			S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		},
		Worker: WorkerConfig{
			Workers:        getEnvAsInt("IMPORT_WORKERS", 4),
			QueueSize:      getEnvAsInt("IMPORT_QUEUE_SIZE", 256),
			MaxAttempts:    getEnvAsInt("IMPORT_MAX_ATTEMPTS", 3),
			AttemptTimeout: getEnvAsDuration("IMPORT_ATTEMPT_TIMEOUT", 15*time.Minute),
			StaleAfter:     getEnvAsDuration("IMPORT_STALE_AFTER", 30*time.Minute),
			ReaperSchedule: getEnv("IMPORT_REAPER_SCHEDULE", "@every 5m"),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			MetricsPort:    getEnvAsInt("METRICS_PORT", 9090),
		},
		Settings: SettingsConfig{
			Path: getEnv("IMPORTER_SETTINGS_FILE", ""),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if cfg.Worker.Workers < 1 {
		return nil, fmt.Errorf("IMPORT_WORKERS must be at least 1, got %d", cfg.Worker.Workers)
	}
	if cfg.Worker.MaxAttempts < 1 {
		return nil, fmt.Errorf("IMPORT_MAX_ATTEMPTS must be at least 1, got %d", cfg.Worker.MaxAttempts)
	}
	if cfg.Storage.Type == storage.StorageTypeS3 && cfg.Storage.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required when STORAGE_TYPE=s3")
	}

	return cfg, nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode, c.MaxConns,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
