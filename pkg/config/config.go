// Package config provides the unified configuration system for Driftcap.
// It defines a single Config structure constructed once at startup and passed
// explicitly to every component; no component reads ambient process state
// mid-run.
//
// The configuration is organized into logical sections:
//   - Source: connection to the database being protected
//   - Strategies: the three change-detection strategies and their retention
//   - Backup: local artifact storage, thresholds, compression
//   - Gate: resource admission thresholds and wait budget
//   - Upload: remote storage delivery and its retry budget
//   - Observability: logging and metrics
//
// Example usage:
//
//	cfg := config.NewConfig("nightly")
//	cfg.Strategies.RowWatermark.Enabled = true
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"time"
)

// Config is the single unified configuration structure for a backup engine
// instance. It is immutable after Load/Validate.
type Config struct {
	// Name identifies the engine instance; it is used in lock files,
	// remote prefixes, and log fields.
	Name string `yaml:"name" json:"name"`

	// Source configures access to the database being protected
	Source SourceConfig `yaml:"source" json:"source"`

	// Strategies configures the change-detection strategies
	Strategies StrategiesConfig `yaml:"strategies" json:"strategies"`

	// Backup configures local artifact storage
	Backup BackupConfig `yaml:"backup" json:"backup"`

	// Gate configures resource admission control
	Gate GateConfig `yaml:"gate" json:"gate"`

	// Upload configures remote artifact delivery
	Upload UploadConfig `yaml:"upload" json:"upload"`

	// Observability settings for logging and metrics
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`

	// Filter restricts the entity universe. Entries prefixed with "-" form
	// an exclude list; entries prefixed with "+" (or bare) form an
	// include-only list. Empty means all enumerated entities.
	Filter []string `yaml:"filter" json:"filter"`
}

// SourceConfig configures the connection to the source database server.
type SourceConfig struct {
	// DSN is the driver connection string (never logged)
	DSN string `yaml:"dsn" json:"dsn"`
	// Databases lists the schemas whose tables are enumerated
	Databases []string `yaml:"databases" json:"databases"`
	// BinlogDir is the directory holding the server's binary log segments,
	// readable by the backup process (log-sequence strategy only)
	BinlogDir string `yaml:"binlog_dir" json:"binlog_dir"`
	// MaxOpenConns caps the connection pool against the live server
	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns"`
	// ConnectTimeout bounds connection establishment
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
}

// StrategiesConfig holds the per-strategy enable flags and retention windows.
// Each enabled strategy is an independent backup class with its own artifact
// directory, watermark store, and retention age.
type StrategiesConfig struct {
	TableTimestamp StrategyConfig `yaml:"table_timestamp" json:"table_timestamp"`
	RowWatermark   StrategyConfig `yaml:"row_watermark" json:"row_watermark"`
	LogSequence    StrategyConfig `yaml:"log_sequence" json:"log_sequence"`
}

// StrategyConfig configures one detection strategy.
type StrategyConfig struct {
	// Enabled turns the strategy on
	Enabled bool `yaml:"enabled" json:"enabled"`
	// RetentionAge is how long this class's artifacts are kept locally
	RetentionAge time.Duration `yaml:"retention_age" json:"retention_age"`
}

// BackupConfig configures local artifact storage.
type BackupConfig struct {
	// Dir is the root directory for artifacts; each strategy writes into
	// its own subdirectory
	Dir string `yaml:"dir" json:"dir"`
	// StateDir holds the durable watermark stores and the run lease
	StateDir string `yaml:"state_dir" json:"state_dir"`
	// MinArtifactBytes is the non-triviality threshold; smaller payloads
	// are discarded as "no meaningful change"
	MinArtifactBytes int64 `yaml:"min_artifact_bytes" json:"min_artifact_bytes"`
	// CompressionAlgorithm selects the artifact compression (gzip, zstd, none)
	CompressionAlgorithm string `yaml:"compression_algorithm" json:"compression_algorithm"`
	// CompressionLevel sets compression ratio vs speed (1-9)
	CompressionLevel int `yaml:"compression_level" json:"compression_level"`
}

// GateConfig configures the resource admission gate consulted once per run.
type GateConfig struct {
	// MaxLoadPerCore blocks when load average divided by core count exceeds it
	MaxLoadPerCore float64 `yaml:"max_load_per_core" json:"max_load_per_core"`
	// MaxMemoryPercent blocks when memory utilization exceeds it
	MaxMemoryPercent float64 `yaml:"max_memory_percent" json:"max_memory_percent"`
	// MinFreeDiskPercent blocks when free space on the backup target drops below it
	MinFreeDiskPercent float64 `yaml:"min_free_disk_percent" json:"min_free_disk_percent"`
	// MaxIOWaitPercent is advisory; a breach warns but admits
	MaxIOWaitPercent float64 `yaml:"max_io_wait_percent" json:"max_io_wait_percent"`
	// MaxConnectionPercent is advisory; a breach warns but admits
	MaxConnectionPercent float64 `yaml:"max_connection_percent" json:"max_connection_percent"`
	// PollInterval is the wait between admission polls
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	// MaxWait is the total admission wait budget; exceeding it fails the run
	MaxWait time.Duration `yaml:"max_wait" json:"max_wait"`
}

// UploadConfig configures remote delivery of artifacts.
type UploadConfig struct {
	// Enabled turns remote delivery on; artifacts stay local otherwise
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Bucket is the remote storage bucket
	Bucket string `yaml:"bucket" json:"bucket"`
	// Prefix is prepended to every remote object key
	Prefix string `yaml:"prefix" json:"prefix"`
	// Region selects the storage region
	Region string `yaml:"region" json:"region"`
	// Endpoint overrides the storage endpoint (S3-compatible stores)
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// MaxAttempts is the per-artifact delivery retry ceiling
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
	// RetryDelay is the fixed delay between delivery attempts
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
}

// ObservabilityConfig contains logging and metrics settings.
type ObservabilityConfig struct {
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogEncoding selects json or console output
	LogEncoding string `yaml:"log_encoding" json:"log_encoding"`
	// MetricsListen, when set, exposes Prometheus metrics on this address
	MetricsListen string `yaml:"metrics_listen" json:"metrics_listen"`
}

// NewConfig creates a Config with production-ready defaults. Strategies are
// disabled by default; at least one must be enabled before Validate passes.
func NewConfig(name string) *Config {
	return &Config{
		Name: name,
		Source: SourceConfig{
			MaxOpenConns:   2,
			ConnectTimeout: 10 * time.Second,
		},
		Strategies: StrategiesConfig{
			TableTimestamp: StrategyConfig{RetentionAge: 7 * 24 * time.Hour},
			RowWatermark:   StrategyConfig{RetentionAge: 7 * 24 * time.Hour},
			LogSequence:    StrategyConfig{RetentionAge: 3 * 24 * time.Hour},
		},
		Backup: BackupConfig{
			Dir:                  "/var/backups/driftcap",
			StateDir:             "/var/lib/driftcap",
			MinArtifactBytes:     512,
			CompressionAlgorithm: "gzip",
			CompressionLevel:     5,
		},
		Gate: GateConfig{
			MaxLoadPerCore:       2.0,
			MaxMemoryPercent:     90,
			MinFreeDiskPercent:   10,
			MaxIOWaitPercent:     30,
			MaxConnectionPercent: 80,
			PollInterval:         30 * time.Second,
			MaxWait:              30 * time.Minute,
		},
		Upload: UploadConfig{
			MaxAttempts: 3,
			RetryDelay:  10 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogEncoding: "json",
		},
	}
}

// Validate validates the configuration for correctness. It checks required
// fields and ensures values are within acceptable ranges. Callers should
// invoke this after loading configuration to catch errors before any work.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Source.DSN == "" {
		return fmt.Errorf("source.dsn is required")
	}
	if !c.Strategies.TableTimestamp.Enabled &&
		!c.Strategies.RowWatermark.Enabled &&
		!c.Strategies.LogSequence.Enabled {
		return fmt.Errorf("at least one strategy must be enabled")
	}
	if c.Strategies.LogSequence.Enabled && c.Source.BinlogDir == "" {
		return fmt.Errorf("source.binlog_dir is required for the log_sequence strategy")
	}
	if (c.Strategies.TableTimestamp.Enabled || c.Strategies.RowWatermark.Enabled) &&
		len(c.Source.Databases) == 0 {
		return fmt.Errorf("source.databases is required for table-level strategies")
	}
	if c.Backup.Dir == "" {
		return fmt.Errorf("backup.dir is required")
	}
	if c.Backup.StateDir == "" {
		return fmt.Errorf("backup.state_dir is required")
	}
	if c.Backup.MinArtifactBytes < 0 {
		return fmt.Errorf("backup.min_artifact_bytes cannot be negative")
	}
	if c.Gate.PollInterval <= 0 {
		return fmt.Errorf("gate.poll_interval must be positive")
	}
	if c.Gate.MaxWait < 0 {
		return fmt.Errorf("gate.max_wait cannot be negative")
	}
	if c.Upload.Enabled && c.Upload.Bucket == "" {
		return fmt.Errorf("upload.bucket is required when upload is enabled")
	}
	if c.Upload.MaxAttempts <= 0 {
		return fmt.Errorf("upload.max_attempts must be positive")
	}
	return nil
}
