// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < explicit file < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all retireflow configuration.
type Config struct {
	Version int `yaml:"version"`

	Source      SourceConfig      `yaml:"source"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Confirm     ConfirmConfig     `yaml:"confirm"`
	Journal     JournalConfig     `yaml:"journal"`
	Compression CompressionConfig `yaml:"compression"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`

	// WorkDir is the parent for per-batch working directories.
	WorkDir string `yaml:"work_dir"`
}

// SourceConfig addresses the time-series store records retire from.
type SourceConfig struct {
	URL    string `yaml:"url"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
	Token  string `yaml:"token"`
	// TagKey is the tag column that carries the retirement period.
	TagKey  string        `yaml:"tag_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// ArchiveConfig selects and configures the transfer backend.
type ArchiveConfig struct {
	// Backend: rsync | s3
	Backend string `yaml:"backend"`

	Rsync RsyncConfig `yaml:"rsync"`
	S3    S3Config    `yaml:"s3"`
}

// RsyncConfig for daemon-mode rsync transfer.
type RsyncConfig struct {
	Host   string `yaml:"host"`
	Module string `yaml:"module"`
	Binary string `yaml:"binary"`
}

// S3Config for object-store transfer.
type S3Config struct {
	Region          string        `yaml:"region"`
	Bucket          string        `yaml:"bucket"`
	Prefix          string        `yaml:"prefix"`
	Endpoint        string        `yaml:"endpoint"`
	UsePathStyle    bool          `yaml:"use_path_style"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	UploadTimeout   time.Duration `yaml:"upload_timeout"`
}

// ConfirmConfig for the post-push confirmation rendezvous.
type ConfirmConfig struct {
	// Bind is the listen address for the archive host's callback.
	Bind    string        `yaml:"bind"`
	Timeout time.Duration `yaml:"timeout"`
}

// JournalConfig selects where run records are persisted.
type JournalConfig struct {
	// Backend: file | redis | none
	Backend string `yaml:"backend"`

	// Dir holds the per-run JSON files for the file backend.
	Dir string `yaml:"dir"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig for the Redis journal backend.
type RedisConfig struct {
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	Database int           `yaml:"database"`
	TTL      time.Duration `yaml:"ttl"`
}

// CompressionConfig selects the artifact codec.
type CompressionConfig struct {
	// Codec: gzip | zstd | lz4 | none
	Codec string `yaml:"codec"`
}

// TelemetryConfig for optional trace export.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	appDir := filepath.Join(homeDir, ".retireflow")

	return &Config{
		Version: 1,
		Source: SourceConfig{
			URL:     "http://localhost:8086",
			TagKey:  "RetDate",
			Timeout: 2 * time.Minute,
		},
		Archive: ArchiveConfig{
			Backend: "rsync",
			Rsync: RsyncConfig{
				Binary: "rsync",
			},
			S3: S3Config{
				UploadTimeout: 5 * time.Minute,
			},
		},
		Confirm: ConfirmConfig{
			Bind:    ":7201",
			Timeout: 60 * time.Second,
		},
		Journal: JournalConfig{
			Backend: "file",
			Dir:     filepath.Join(appDir, "runs"),
			Redis: RedisConfig{
				Address: "localhost:6379",
				TTL:     30 * 24 * time.Hour,
			},
		},
		Compression: CompressionConfig{
			Codec: "gzip",
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
		},
		WorkDir: filepath.Join(os.TempDir(), "retireflow"),
	}
}

// Validate rejects configurations the workflow cannot run with.
func (c *Config) Validate() error {
	switch c.Archive.Backend {
	case "rsync":
		if c.Archive.Rsync.Host == "" || c.Archive.Rsync.Module == "" {
			return fmt.Errorf("config: rsync backend requires archive.rsync.host and archive.rsync.module")
		}
	case "s3":
		if c.Archive.S3.Bucket == "" {
			return fmt.Errorf("config: s3 backend requires archive.s3.bucket")
		}
	default:
		return fmt.Errorf("config: unknown archive backend %q", c.Archive.Backend)
	}

	switch c.Journal.Backend {
	case "file", "redis", "none":
	default:
		return fmt.Errorf("config: unknown journal backend %q", c.Journal.Backend)
	}

	if c.Confirm.Timeout <= 0 {
		return fmt.Errorf("config: confirm.timeout must be positive")
	}
	return nil
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{config: Default()}
}

// Load loads configuration from all sources in priority order. explicit,
// when non-empty, names a config file that must exist.
func (m *Manager) Load(explicit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()

	for _, path := range m.configPaths() {
		if err := m.loadFile(path); err != nil {
			if !os.IsNotExist(err) {
				return err
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	if explicit != "" {
		if err := m.loadFile(explicit); err != nil {
			return fmt.Errorf("config: load %s: %w", explicit, err)
		}
		m.paths = append(m.paths, explicit)
	}

	m.loadEnv()
	return nil
}

// configPaths returns implicit config file paths in priority order.
func (m *Manager) configPaths() []string {
	var paths []string

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/retireflow/config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".retireflow", "config.yaml"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".retireflow.yaml"))
	}
	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return err
	}
	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	// Source
	if src.Source.URL != "" {
		m.config.Source.URL = src.Source.URL
	}
	if src.Source.Org != "" {
		m.config.Source.Org = src.Source.Org
	}
	if src.Source.Bucket != "" {
		m.config.Source.Bucket = src.Source.Bucket
	}
	if src.Source.Token != "" {
		m.config.Source.Token = src.Source.Token
	}
	if src.Source.TagKey != "" {
		m.config.Source.TagKey = src.Source.TagKey
	}
	if src.Source.Timeout != 0 {
		m.config.Source.Timeout = src.Source.Timeout
	}

	// Archive
	if src.Archive.Backend != "" {
		m.config.Archive.Backend = src.Archive.Backend
	}
	if src.Archive.Rsync.Host != "" {
		m.config.Archive.Rsync.Host = src.Archive.Rsync.Host
	}
	if src.Archive.Rsync.Module != "" {
		m.config.Archive.Rsync.Module = src.Archive.Rsync.Module
	}
	if src.Archive.Rsync.Binary != "" {
		m.config.Archive.Rsync.Binary = src.Archive.Rsync.Binary
	}
	if src.Archive.S3.Region != "" {
		m.config.Archive.S3.Region = src.Archive.S3.Region
	}
	if src.Archive.S3.Bucket != "" {
		m.config.Archive.S3.Bucket = src.Archive.S3.Bucket
	}
	if src.Archive.S3.Prefix != "" {
		m.config.Archive.S3.Prefix = src.Archive.S3.Prefix
	}
	if src.Archive.S3.Endpoint != "" {
		m.config.Archive.S3.Endpoint = src.Archive.S3.Endpoint
	}
	if src.Archive.S3.UsePathStyle {
		m.config.Archive.S3.UsePathStyle = true
	}
	if src.Archive.S3.AccessKeyID != "" {
		m.config.Archive.S3.AccessKeyID = src.Archive.S3.AccessKeyID
	}
	if src.Archive.S3.SecretAccessKey != "" {
		m.config.Archive.S3.SecretAccessKey = src.Archive.S3.SecretAccessKey
	}
	if src.Archive.S3.UploadTimeout != 0 {
		m.config.Archive.S3.UploadTimeout = src.Archive.S3.UploadTimeout
	}

	// Confirm
	if src.Confirm.Bind != "" {
		m.config.Confirm.Bind = src.Confirm.Bind
	}
	if src.Confirm.Timeout != 0 {
		m.config.Confirm.Timeout = src.Confirm.Timeout
	}

	// Journal
	if src.Journal.Backend != "" {
		m.config.Journal.Backend = src.Journal.Backend
	}
	if src.Journal.Dir != "" {
		m.config.Journal.Dir = src.Journal.Dir
	}
	if src.Journal.Redis.Address != "" {
		m.config.Journal.Redis.Address = src.Journal.Redis.Address
	}
	if src.Journal.Redis.Password != "" {
		m.config.Journal.Redis.Password = src.Journal.Redis.Password
	}
	if src.Journal.Redis.Database != 0 {
		m.config.Journal.Redis.Database = src.Journal.Redis.Database
	}
	if src.Journal.Redis.TTL != 0 {
		m.config.Journal.Redis.TTL = src.Journal.Redis.TTL
	}

	// Compression
	if src.Compression.Codec != "" {
		m.config.Compression.Codec = src.Compression.Codec
	}

	// Telemetry
	if src.Telemetry.Enabled {
		m.config.Telemetry.Enabled = true
	}
	if src.Telemetry.Endpoint != "" {
		m.config.Telemetry.Endpoint = src.Telemetry.Endpoint
	}

	if src.WorkDir != "" {
		m.config.WorkDir = src.WorkDir
	}
}

// loadEnv loads configuration from environment variables. Credentials in
// particular are expected to arrive this way rather than sit in files.
func (m *Manager) loadEnv() {
	if v := os.Getenv("RETIREFLOW_SOURCE_URL"); v != "" {
		m.config.Source.URL = v
	}
	if v := os.Getenv("RETIREFLOW_SOURCE_TOKEN"); v != "" {
		m.config.Source.Token = v
	}
	if v := os.Getenv("RETIREFLOW_SOURCE_ORG"); v != "" {
		m.config.Source.Org = v
	}
	if v := os.Getenv("RETIREFLOW_SOURCE_BUCKET"); v != "" {
		m.config.Source.Bucket = v
	}
	if v := os.Getenv("RETIREFLOW_ARCHIVE_BACKEND"); v != "" {
		m.config.Archive.Backend = v
	}
	if v := os.Getenv("RETIREFLOW_RSYNC_HOST"); v != "" {
		m.config.Archive.Rsync.Host = v
	}
	if v := os.Getenv("RETIREFLOW_RSYNC_MODULE"); v != "" {
		m.config.Archive.Rsync.Module = v
	}
	if v := os.Getenv("RETIREFLOW_S3_ACCESS_KEY_ID"); v != "" {
		m.config.Archive.S3.AccessKeyID = v
	}
	if v := os.Getenv("RETIREFLOW_S3_SECRET_ACCESS_KEY"); v != "" {
		m.config.Archive.S3.SecretAccessKey = v
	}
	if v := os.Getenv("RETIREFLOW_CONFIRM_BIND"); v != "" {
		m.config.Confirm.Bind = v
	}
	if v := os.Getenv("RETIREFLOW_CONFIRM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			m.config.Confirm.Timeout = d
		}
	}
	if v := os.Getenv("RETIREFLOW_JOURNAL_BACKEND"); v != "" {
		m.config.Journal.Backend = v
	}
	if v := os.Getenv("RETIREFLOW_REDIS_ADDRESS"); v != "" {
		m.config.Journal.Redis.Address = v
	}
	if v := os.Getenv("RETIREFLOW_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			m.config.Journal.Redis.Database = db
		}
	}
	if v := os.Getenv("RETIREFLOW_COMPRESSION"); v != "" {
		m.config.Compression.Codec = v
	}
	if v := os.Getenv("RETIREFLOW_OTLP_ENDPOINT"); v != "" {
		m.config.Telemetry.Enabled = true
		m.config.Telemetry.Endpoint = v
	}
	if v := os.Getenv("RETIREFLOW_WORK_DIR"); v != "" {
		m.config.WorkDir = v
	}
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Paths returns the config files that were loaded, in load order.
func (m *Manager) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}
