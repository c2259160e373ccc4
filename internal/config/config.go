package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Port          int    `yaml:"port"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`

	// Scan engine tuning
	SectorSize          int64         `yaml:"sector_size"`
	BatchSize           int64         `yaml:"batch_size"`
	ReadTimeout         time.Duration `yaml:"read_timeout"`
	MaxConsecTimeouts   int           `yaml:"max_consecutive_timeouts"`
	ScanTimeout         time.Duration `yaml:"scan_timeout"`
	SessionRetention    time.Duration `yaml:"session_retention"`

	// External tool paths (resolved via PATH when empty)
	SmartctlBinary string `yaml:"smartctl_binary"`
	HdparmBinary   string `yaml:"hdparm_binary"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Port:              8000,
		DBPath:            "./data/drivesentry.db",
		RetentionDays:     30,
		SectorSize:        512,
		BatchSize:         256,
		ReadTimeout:       5 * time.Second,
		MaxConsecTimeouts: 8,
		ScanTimeout:       24 * time.Hour,
		SessionRetention:  time.Hour,
	}
}

// Load reads configuration: defaults, then an optional YAML file pointed at
// by DRIVESENTRY_CONFIG, then environment variable overrides.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("DRIVESENTRY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnvInt("DRIVESENTRY_PORT", cfg.Port)
	cfg.DBPath = getEnv("DRIVESENTRY_DB_PATH", cfg.DBPath)
	cfg.RetentionDays = getEnvInt("DRIVESENTRY_RETENTION_DAYS", cfg.RetentionDays)
	cfg.SectorSize = getEnvInt64("DRIVESENTRY_SECTOR_SIZE", cfg.SectorSize)
	cfg.BatchSize = getEnvInt64("DRIVESENTRY_BATCH_SIZE", cfg.BatchSize)
	cfg.ReadTimeout = getEnvDuration("DRIVESENTRY_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.MaxConsecTimeouts = getEnvInt("DRIVESENTRY_MAX_CONSECUTIVE_TIMEOUTS", cfg.MaxConsecTimeouts)
	cfg.ScanTimeout = getEnvDuration("DRIVESENTRY_SCAN_TIMEOUT", cfg.ScanTimeout)
	cfg.SessionRetention = getEnvDuration("DRIVESENTRY_SESSION_RETENTION", cfg.SessionRetention)
	cfg.SmartctlBinary = getEnv("DRIVESENTRY_SMARTCTL", cfg.SmartctlBinary)
	cfg.HdparmBinary = getEnv("DRIVESENTRY_HDPARM", cfg.HdparmBinary)

	if cfg.SectorSize <= 0 {
		return nil, fmt.Errorf("sector_size must be positive, got %d", cfg.SectorSize)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch_size must be positive, got %d", cfg.BatchSize)
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
