// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sketchroom.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}
	if cfg.Relay.MaxMessageBytes != 10<<20 {
		t.Errorf("expected max_message_bytes=10MiB, got %d", cfg.Relay.MaxMessageBytes)
	}
	if cfg.Client.SaveThrottle != 20*time.Second {
		t.Errorf("expected save_throttle=20s, got %s", cfg.Client.SaveThrottle)
	}
	if cfg.Client.SaveRetries != 3 {
		t.Errorf("expected save_retries=3, got %d", cfg.Client.SaveRetries)
	}
	if cfg.Client.PollTimeout != 30*time.Second || cfg.Client.RetryDelay != 5*time.Second {
		t.Errorf("unexpected poll defaults: %s / %s", cfg.Client.PollTimeout, cfg.Client.RetryDelay)
	}
	if cfg.Client.LocalDebounce != 300*time.Millisecond {
		t.Errorf("expected local_debounce=300ms, got %s", cfg.Client.LocalDebounce)
	}

	cfg.ExpandVariables()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoad_RequiresSketchroomConfig(t *testing.T) {
	t.Setenv("SKETCHROOM_CONFIG", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when SKETCHROOM_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "SKETCHROOM_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
environment: staging
root: /srv/sketchroom

relay:
  listen: 0.0.0.0:8080
  allowed_origins: [https://draw.example.com]
  ping_interval: 15s

client:
  username: ada
  save_throttle: 5s
  compression: lz4

storage:
  backend: redis
  redis:
    address: redis:6379
    db: 2
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}
	if cfg.Relay.Listen != "0.0.0.0:8080" || cfg.Relay.PingInterval != 15*time.Second {
		t.Errorf("relay = %+v", cfg.Relay)
	}
	if len(cfg.Relay.AllowedOrigins) != 1 {
		t.Errorf("allowed_origins = %v", cfg.Relay.AllowedOrigins)
	}
	if cfg.Relay.WriteTimeout != 10*time.Second {
		t.Errorf("write_timeout lost its default: %s", cfg.Relay.WriteTimeout)
	}
	if cfg.Client.Username != "ada" || cfg.Client.SaveThrottle != 5*time.Second || cfg.Client.Compression != "lz4" {
		t.Errorf("client = %+v", cfg.Client)
	}
	if cfg.Client.CachePath != "/srv/sketchroom/cache.db" {
		t.Errorf("cache_path = %s, want expansion under root", cfg.Client.CachePath)
	}
	if cfg.Storage.Backend != BackendRedis || cfg.Storage.Redis.DB != 2 || cfg.Storage.Redis.Prefix != "sketchroom" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFile_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
environment: production
relay:
  listen: 127.0.0.1:3002
production:
  relay:
    listen: 0.0.0.0:443
    outbound_queue: 64
  log:
    level: warn
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Relay.Listen != "0.0.0.0:443" {
		t.Errorf("listen = %s, want production override", cfg.Relay.Listen)
	}
	if cfg.Relay.OutboundQueue != 64 {
		t.Errorf("outbound_queue = %d", cfg.Relay.OutboundQueue)
	}
	if cfg.Relay.MaxMessageBytes != 10<<20 {
		t.Errorf("unset override clobbered max_message_bytes: %d", cfg.Relay.MaxMessageBytes)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log.level = %s", cfg.Log.Level)
	}
}

func TestLoadFile_ProductionDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "environment: production\n"))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("production log.format = %s, want json", cfg.Log.Format)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadFile(writeConfig(t, "relay: [unclosed")); err == nil {
		t.Error("expected error for invalid YAML")
	}
	if _, err := LoadFile(writeConfig(t, "client:\n  save_throttle: soon\n")); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("SKETCHROOM_TEST_DIR", "/from/env")
	vars := map[string]string{"SKETCHROOM_ROOT": "/root/dir"}

	tests := []struct {
		input string
		want  string
	}{
		{"${SKETCHROOM_ROOT}/cache.db", "/root/dir/cache.db"},
		{"${SKETCHROOM_TEST_DIR}/token", "/from/env/token"},
		{"${SKETCHROOM_UNSET:-/fallback}/token", "/fallback/token"},
		{"/plain/path", "/plain/path"},
	}
	for _, tt := range tests {
		if got := expandVars(tt.input, vars); got != tt.want {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"environment", func(c *Config) { c.Environment = "qa" }, "invalid environment"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"relay url", func(c *Config) { c.Client.RelayURL = "http://relay" }, "client.relay_url"},
		{"retries", func(c *Config) { c.Client.SaveRetries = 0 }, "client.save_retries"},
		{"compression", func(c *Config) { c.Client.Compression = "brotli" }, "client.compression"},
		{"backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"redis address", func(c *Config) {
			c.Storage.Backend = BackendRedis
			c.Storage.Redis.Address = ""
		}, "storage.redis.address"},
		{"sqlite path", func(c *Config) {
			c.Storage.Backend = BackendSQLite
			c.Storage.SQLite.Path = ""
		}, "storage.sqlite.path"},
		{"queue", func(c *Config) { c.Relay.OutboundQueue = 0 }, "relay.outbound_queue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buffer bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "auto"}.NewLogger(&buffer)
	logger.Info("dropped")
	logger.Warn("kept", "room_id", "r1")

	output := buffer.String()
	if strings.Contains(output, "dropped") {
		t.Error("info record written at warn level")
	}
	if !strings.Contains(output, `"room_id":"r1"`) {
		t.Errorf("expected JSON output for a non-terminal writer, got %q", output)
	}
}
