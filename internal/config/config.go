package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Logging       LoggingConfig       `yaml:"logging"`
	Analysis      AnalysisConfig      `yaml:"analysis"`
	Cleanup       CleanupConfig       `yaml:"cleanup"`
	Archive       ArchiveConfig       `yaml:"archive"`
	RootDetection RootDetectionConfig `yaml:"root_detection"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"` // CORS; empty allows the local dev origins
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	// Allow override via environment
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis settings. An empty URL disables the results cache
// and the Redis analysis lock.
type RedisConfig struct {
	URL              string `yaml:"url"`
	ResultTTLSeconds int    `yaml:"result_ttl_seconds"`
}

// ResultTTL returns how long cached project results live
func (c RedisConfig) ResultTTL() time.Duration {
	return time.Duration(c.ResultTTLSeconds) * time.Second
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII bool   `yaml:"redact_pii"`
}

// AnalysisConfig holds analysis queue and graph defaults
type AnalysisConfig struct {
	JobTimeoutSeconds int     `yaml:"job_timeout_seconds"`
	LockTTLSeconds    int     `yaml:"lock_ttl_seconds"`
	DefaultWorker     string  `yaml:"default_worker"`
	MainPathThreshold float64 `yaml:"main_path_threshold"`
	MinPathLength     int     `yaml:"min_path_length"`
}

// JobTimeout returns the per-run analysis timeout
func (c AnalysisConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

// LockTTL returns the TTL of the cross-replica analysis lock
func (c AnalysisConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// CleanupConfig holds path cleanup worker settings
type CleanupConfig struct {
	Enabled               bool     `yaml:"enabled"`
	IntervalMinutes       int      `yaml:"interval_minutes"`
	CustomerRetentionDays int      `yaml:"customer_retention_days"`
	PendingRetentionDays  int      `yaml:"pending_retention_days"`
	IgnoredDomains        []string `yaml:"ignored_domains"`
}

// Interval returns how often the cleanup worker runs
func (c CleanupConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// CustomerRetention returns how long an inactive recipient keeps a path
func (c CleanupConfig) CustomerRetention() time.Duration {
	return time.Duration(c.CustomerRetentionDays) * 24 * time.Hour
}

// PendingRetention returns how long an unclassified path is kept
func (c CleanupConfig) PendingRetention() time.Duration {
	return time.Duration(c.PendingRetentionDays) * 24 * time.Hour
}

// ArchiveConfig holds analysis snapshot archive settings
type ArchiveConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Type          string `yaml:"type"` // "s3" or "local"
	LocalPath     string `yaml:"local_path"`
	S3Bucket      string `yaml:"s3_bucket"`
	S3Region      string `yaml:"s3_region"`
	DynamoDBTable string `yaml:"dynamodb_table"` // optional run index
	Prefix        string `yaml:"prefix"`
	AWSProfile    string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c ArchiveConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return "" // Use default credential chain (IAM role)
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// RootDetectionConfig holds root candidate heuristics
type RootDetectionConfig struct {
	Keywords           []string `yaml:"keywords"`
	FirstPositionRatio float64  `yaml:"first_position_ratio"`
	MinRecipients      int      `yaml:"min_recipients"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with only defaults applied, for running
// without a config file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.ResultTTLSeconds == 0 {
		cfg.Redis.ResultTTLSeconds = 600
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Analysis.JobTimeoutSeconds == 0 {
		cfg.Analysis.JobTimeoutSeconds = 900
	}
	if cfg.Analysis.LockTTLSeconds == 0 {
		cfg.Analysis.LockTTLSeconds = cfg.Analysis.JobTimeoutSeconds + 60
	}
	if cfg.Analysis.DefaultWorker == "" {
		cfg.Analysis.DefaultWorker = "global"
	}
	if cfg.Analysis.MainPathThreshold == 0 {
		cfg.Analysis.MainPathThreshold = 10
	}
	if cfg.Analysis.MinPathLength == 0 {
		cfg.Analysis.MinPathLength = 2
	}
	if cfg.Cleanup.IntervalMinutes == 0 {
		cfg.Cleanup.IntervalMinutes = 60
	}
	if cfg.Archive.Type == "" {
		cfg.Archive.Type = "s3"
	}
	if cfg.Archive.LocalPath == "" {
		cfg.Archive.LocalPath = "./data/archive"
	}
	if cfg.Archive.S3Region == "" {
		cfg.Archive.S3Region = "us-west-2"
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "journey-analysis"
	}
	if cfg.RootDetection.FirstPositionRatio == 0 {
		cfg.RootDetection.FirstPositionRatio = 0.8
	}
	if cfg.RootDetection.MinRecipients == 0 {
		cfg.RootDetection.MinRecipients = 10
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars.
// An empty path skips the config file and starts from defaults.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("ARCHIVE_S3_BUCKET"); v != "" {
		cfg.Archive.S3Bucket = v
		if !cfg.Archive.Enabled {
			cfg.Archive.Enabled = true
		}
	}
	if v := os.Getenv("ARCHIVE_S3_REGION"); v != "" {
		cfg.Archive.S3Region = v
	}

	return cfg, nil
}
