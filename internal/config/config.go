// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aristath/minvar/internal/modules/annealing"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the runs database (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	// Annealing holds the service defaults; requests may override them.
	Annealing annealing.Config
	// Per-request ceilings on the inner-loop length and the worst-case
	// number of objective evaluations.
	AnnealMaxK           int
	AnnealMaxEvaluations int

	RunRetention      time.Duration
	RetentionSchedule string // cron spec with seconds
	BackupSchedule    string // cron spec with seconds, used when Backup is enabled

	Backup BackupConfig
}

// BackupConfig holds the S3-compatible backup target. Backups are disabled
// when Bucket is empty.
type BackupConfig struct {
	Bucket          string
	Region          string
	Endpoint        string // custom endpoint for R2/MinIO, empty for AWS
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// Enabled reports whether a backup bucket is configured.
func (b BackupConfig) Enabled() bool {
	return b.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("MINVAR_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	defaults := annealing.DefaultConfig()
	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8080),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Annealing: annealing.Config{
			K:         getEnvAsInt("ANNEAL_K", defaults.K),
			T0:        getEnvAsFloat("ANNEAL_T0", defaults.T0),
			T1:        getEnvAsFloat("ANNEAL_T1", defaults.T1),
			Alpha:     getEnvAsFloat("ANNEAL_ALPHA", defaults.Alpha),
			Beta:      getEnvAsFloat("ANNEAL_BETA", defaults.Beta),
			Tau:       getEnvAsFloat("ANNEAL_TAU", defaults.Tau),
			Mu0:       getEnvAsFloat("ANNEAL_MU0", defaults.Mu0),
			Rho0:      getEnvAsFloat("ANNEAL_RHO0", defaults.Rho0),
			Seed:      defaults.Seed,
			MaxLevels: getEnvAsInt("ANNEAL_MAX_LEVELS", defaults.MaxLevels),
		},
		AnnealMaxK:           getEnvAsInt("ANNEAL_MAX_K", 100_000),
		AnnealMaxEvaluations: getEnvAsInt("ANNEAL_MAX_EVALUATIONS", 20_000_000),
		RunRetention:         time.Duration(getEnvAsInt("RUN_RETENTION_DAYS", 90)) * 24 * time.Hour,
		RetentionSchedule:    getEnv("RETENTION_SCHEDULE", "0 30 3 * * *"),
		BackupSchedule:       getEnv("BACKUP_SCHEDULE", "0 0 4 * * *"),
		Backup: BackupConfig{
			Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
			Region:          getEnv("BACKUP_S3_REGION", "auto"),
			Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
			Prefix:          getEnv("BACKUP_S3_PREFIX", "minvar/"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DatabasePath is the location of the runs database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "runs.db")
}

// Validate checks the loaded values
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if err := c.Annealing.Validate(); err != nil {
		return fmt.Errorf("invalid annealing defaults: %w", err)
	}
	if c.AnnealMaxK < 0 || c.AnnealMaxEvaluations < 0 {
		return fmt.Errorf("ANNEAL_MAX_K and ANNEAL_MAX_EVALUATIONS must not be negative")
	}
	if c.AnnealMaxK > 0 && c.Annealing.K > c.AnnealMaxK {
		return fmt.Errorf("ANNEAL_K (%d) exceeds ANNEAL_MAX_K (%d)", c.Annealing.K, c.AnnealMaxK)
	}
	if c.RunRetention <= 0 {
		return fmt.Errorf("RUN_RETENTION_DAYS must be positive")
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.RetentionSchedule); err != nil {
		return fmt.Errorf("invalid RETENTION_SCHEDULE %q: %w", c.RetentionSchedule, err)
	}
	if c.Backup.Enabled() {
		if _, err := parser.Parse(c.BackupSchedule); err != nil {
			return fmt.Errorf("invalid BACKUP_SCHEDULE %q: %w", c.BackupSchedule, err)
		}
		if (c.Backup.AccessKeyID == "") != (c.Backup.SecretAccessKey == "") {
			return fmt.Errorf("BACKUP_S3_ACCESS_KEY_ID and BACKUP_S3_SECRET_ACCESS_KEY must be set together")
		}
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
