package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a minimal configuration that passes Validate.
func validConfig() *Config {
	cfg := NewConfig("nightly")
	cfg.Source.DSN = "backup:secret@tcp(db:3306)/"
	cfg.Source.Databases = []string{"shop"}
	cfg.Strategies.RowWatermark.Enabled = true
	return cfg
}

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig("nightly")

	assert.Equal(t, "nightly", cfg.Name)
	assert.Equal(t, int64(512), cfg.Backup.MinArtifactBytes)
	assert.Equal(t, "gzip", cfg.Backup.CompressionAlgorithm)
	assert.Equal(t, 2.0, cfg.Gate.MaxLoadPerCore)
	assert.Equal(t, 30*time.Second, cfg.Gate.PollInterval)
	assert.Equal(t, 30*time.Minute, cfg.Gate.MaxWait)
	assert.Equal(t, 3, cfg.Upload.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Upload.RetryDelay)
	assert.False(t, cfg.Strategies.TableTimestamp.Enabled)
	assert.False(t, cfg.Strategies.RowWatermark.Enabled)
	assert.False(t, cfg.Strategies.LogSequence.Enabled)
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing name",
			mutate:  func(c *Config) { c.Name = "" },
			wantErr: "name is required",
		},
		{
			name:    "missing dsn",
			mutate:  func(c *Config) { c.Source.DSN = "" },
			wantErr: "source.dsn is required",
		},
		{
			name:    "no strategy enabled",
			mutate:  func(c *Config) { c.Strategies.RowWatermark.Enabled = false },
			wantErr: "at least one strategy",
		},
		{
			name: "log sequence without binlog dir",
			mutate: func(c *Config) {
				c.Strategies.LogSequence.Enabled = true
				c.Source.BinlogDir = ""
			},
			wantErr: "binlog_dir is required",
		},
		{
			name:    "table strategy without databases",
			mutate:  func(c *Config) { c.Source.Databases = nil },
			wantErr: "source.databases is required",
		},
		{
			name:    "missing backup dir",
			mutate:  func(c *Config) { c.Backup.Dir = "" },
			wantErr: "backup.dir is required",
		},
		{
			name:    "missing state dir",
			mutate:  func(c *Config) { c.Backup.StateDir = "" },
			wantErr: "backup.state_dir is required",
		},
		{
			name:    "negative threshold",
			mutate:  func(c *Config) { c.Backup.MinArtifactBytes = -1 },
			wantErr: "cannot be negative",
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *Config) { c.Gate.PollInterval = 0 },
			wantErr: "poll_interval must be positive",
		},
		{
			name: "upload enabled without bucket",
			mutate: func(c *Config) {
				c.Upload.Enabled = true
				c.Upload.Bucket = ""
			},
			wantErr: "upload.bucket is required",
		},
		{
			name:    "zero upload attempts",
			mutate:  func(c *Config) { c.Upload.MaxAttempts = 0 },
			wantErr: "max_attempts must be positive",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("overrides defaults and keeps the rest", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "driftcap.yaml")
		content := `
name: nightly
source:
  dsn: backup:secret@tcp(db:3306)/
  databases: [shop]
strategies:
  row_watermark:
    enabled: true
    retention_age: 48h
backup:
  dir: /tmp/artifacts
  state_dir: /tmp/state
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		require.NoError(t, cfg.Validate())

		assert.Equal(t, "nightly", cfg.Name)
		assert.True(t, cfg.Strategies.RowWatermark.Enabled)
		assert.Equal(t, 48*time.Hour, cfg.Strategies.RowWatermark.RetentionAge)
		// Untouched sections keep their defaults.
		assert.Equal(t, 3, cfg.Upload.MaxAttempts)
		assert.Equal(t, "gzip", cfg.Backup.CompressionAlgorithm)
	})

	t.Run("substitutes environment variables", func(t *testing.T) {
		t.Setenv("DRIFTCAP_TEST_DSN", "backup:supersecret@tcp(db:3306)/")

		path := filepath.Join(t.TempDir(), "driftcap.yaml")
		content := "name: nightly\nsource:\n  dsn: ${DRIFTCAP_TEST_DSN}\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "backup:supersecret@tcp(db:3306)/", cfg.Source.DSN)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("name: [unclosed"), 0o600))
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driftcap.yaml")
	cfg := validConfig()
	cfg.Filter = []string{"-audit_log"}

	require.NoError(t, Save(path, cfg))
	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, cfg.Name, loaded.Name)
	assert.Equal(t, cfg.Source.Databases, loaded.Source.Databases)
	assert.Equal(t, cfg.Filter, loaded.Filter)
}
