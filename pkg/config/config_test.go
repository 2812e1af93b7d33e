package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Source.TagKey != "RetDate" {
		t.Errorf("default tag key = %q, want RetDate", cfg.Source.TagKey)
	}
	if cfg.Confirm.Timeout != 60*time.Second {
		t.Errorf("default confirm timeout = %v, want 60s", cfg.Confirm.Timeout)
	}
	if cfg.Archive.Backend != "rsync" {
		t.Errorf("default archive backend = %q, want rsync", cfg.Archive.Backend)
	}
	if cfg.Compression.Codec != "gzip" {
		t.Errorf("default codec = %q, want gzip", cfg.Compression.Codec)
	}
	if cfg.Journal.Backend != "file" {
		t.Errorf("default journal backend = %q, want file", cfg.Journal.Backend)
	}
}

func TestManager_LoadExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
source:
  url: http://influx.internal:8086
  org: acme
  bucket: telemetry
  tag_key: ExpireTag
archive:
  backend: rsync
  rsync:
    host: archive.internal
    module: inbound
confirm:
  timeout: 90s
compression:
  codec: zstd
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	mgr := NewManager()
	if err := mgr.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := mgr.Get()

	if cfg.Source.URL != "http://influx.internal:8086" {
		t.Errorf("source url = %q", cfg.Source.URL)
	}
	if cfg.Source.TagKey != "ExpireTag" {
		t.Errorf("tag key = %q, want ExpireTag", cfg.Source.TagKey)
	}
	if cfg.Archive.Rsync.Host != "archive.internal" || cfg.Archive.Rsync.Module != "inbound" {
		t.Errorf("rsync target = %q::%q", cfg.Archive.Rsync.Host, cfg.Archive.Rsync.Module)
	}
	if cfg.Confirm.Timeout != 90*time.Second {
		t.Errorf("confirm timeout = %v, want 90s", cfg.Confirm.Timeout)
	}
	if cfg.Compression.Codec != "zstd" {
		t.Errorf("codec = %q, want zstd", cfg.Compression.Codec)
	}

	// Unset fields keep their defaults.
	if cfg.Confirm.Bind != ":7201" {
		t.Errorf("bind = %q, want default :7201", cfg.Confirm.Bind)
	}
}

func TestManager_LoadMissingExplicitFile(t *testing.T) {
	mgr := NewManager()
	if err := mgr.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestManager_EnvOverrides(t *testing.T) {
	t.Setenv("RETIREFLOW_SOURCE_TOKEN", "env-token")
	t.Setenv("RETIREFLOW_RSYNC_HOST", "env-host")
	t.Setenv("RETIREFLOW_CONFIRM_TIMEOUT", "45s")
	t.Setenv("RETIREFLOW_COMPRESSION", "lz4")

	mgr := NewManager()
	if err := mgr.Load(""); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := mgr.Get()

	if cfg.Source.Token != "env-token" {
		t.Errorf("token = %q, want env-token", cfg.Source.Token)
	}
	if cfg.Archive.Rsync.Host != "env-host" {
		t.Errorf("rsync host = %q, want env-host", cfg.Archive.Rsync.Host)
	}
	if cfg.Confirm.Timeout != 45*time.Second {
		t.Errorf("confirm timeout = %v, want 45s", cfg.Confirm.Timeout)
	}
	if cfg.Compression.Codec != "lz4" {
		t.Errorf("codec = %q, want lz4", cfg.Compression.Codec)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := Default()
	valid.Archive.Rsync.Host = "archive"
	valid.Archive.Rsync.Module = "inbound"

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid rsync", func(c *Config) {}, false},
		{"rsync without host", func(c *Config) { c.Archive.Rsync.Host = "" }, true},
		{"rsync without module", func(c *Config) { c.Archive.Rsync.Module = "" }, true},
		{"valid s3", func(c *Config) {
			c.Archive.Backend = "s3"
			c.Archive.S3.Bucket = "archive-bucket"
		}, false},
		{"s3 without bucket", func(c *Config) { c.Archive.Backend = "s3" }, true},
		{"unknown backend", func(c *Config) { c.Archive.Backend = "ftp" }, true},
		{"unknown journal", func(c *Config) { c.Journal.Backend = "sqlite" }, true},
		{"zero confirm timeout", func(c *Config) { c.Confirm.Timeout = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
