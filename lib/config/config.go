// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Storage backend kinds.
const (
	BackendMemory  = "memory"
	BackendSQLite  = "sqlite"
	BackendRedis   = "redis"
	BackendDropbox = "dropbox"
)

// Config is the master configuration for sketchroom.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Root is the base directory for client state. Paths elsewhere may
	// refer to it as ${SKETCHROOM_ROOT}.
	Root string `yaml:"root"`

	Log     LogConfig     `yaml:"log"`
	Relay   RelayConfig   `yaml:"relay"`
	Client  ClientConfig  `yaml:"client"`
	Storage StorageConfig `yaml:"storage"`

	// Per-environment overrides, applied after the base config.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Log     *LogConfig     `yaml:"log,omitempty"`
	Relay   *RelayConfig   `yaml:"relay,omitempty"`
	Client  *ClientConfig  `yaml:"client,omitempty"`
	Storage *StorageConfig `yaml:"storage,omitempty"`
}

// RelayConfig configures the relay server.
type RelayConfig struct {
	// Listen is the TCP address the relay serves on.
	// Default: 127.0.0.1:3002
	Listen string `yaml:"listen"`

	// AllowedOrigins lists the Origin header values accepted on the
	// websocket upgrade. Empty accepts any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxMessageBytes bounds one inbound frame.
	// Default: 10 MiB
	MaxMessageBytes int64 `yaml:"max_message_bytes"`

	// OutboundQueue is the per-connection send buffer in frames. A
	// scene broadcast to a full queue disconnects that participant.
	// Default: 256
	OutboundQueue int `yaml:"outbound_queue"`

	// PingInterval is how often the relay pings idle connections.
	// Default: 25s
	PingInterval time.Duration `yaml:"ping_interval"`

	// WriteTimeout bounds one frame write.
	// Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ClientConfig configures a collaborating client.
type ClientConfig struct {
	// RelayURL is the relay websocket endpoint.
	// Default: ws://127.0.0.1:3002/socket
	RelayURL string `yaml:"relay_url"`

	// Username is the display name shown to other participants.
	Username string `yaml:"username"`

	// DialTimeout bounds opening the relay connection.
	// Default: 10s
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// SaveThrottle is the durable save window.
	// Default: 20s
	SaveThrottle time.Duration `yaml:"save_throttle"`

	// SaveRetries bounds save attempts on revision conflicts.
	// Default: 3
	SaveRetries int `yaml:"save_retries"`

	// PollTimeout is the long-poll bound sent to the storage backend.
	// Default: 30s
	PollTimeout time.Duration `yaml:"poll_timeout"`

	// RetryDelay is the wait after a failed poll.
	// Default: 5s
	RetryDelay time.Duration `yaml:"retry_delay"`

	// Compression is the algorithm for stored scenes: zstd, lz4, or none.
	// Default: zstd
	Compression string `yaml:"compression"`

	// CachePath is the local cache database.
	// Default: ${SKETCHROOM_ROOT}/cache.db
	CachePath string `yaml:"cache_path"`

	// LocalDebounce coalesces local cache writes.
	// Default: 300ms
	LocalDebounce time.Duration `yaml:"local_debounce"`
}

// StorageConfig configures the durable store.
type StorageConfig struct {
	// Backend is memory, sqlite, redis, or dropbox.
	// Default: memory
	Backend string `yaml:"backend"`

	// RoomsFolder is the top-level folder holding one folder per room.
	// Default: rooms
	RoomsFolder string `yaml:"rooms_folder"`

	SQLite  SQLiteConfig  `yaml:"sqlite"`
	Redis   RedisConfig   `yaml:"redis"`
	Dropbox DropboxConfig `yaml:"dropbox"`
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	// Path is the database file. Processes on one machine that open
	// the same file share rooms.
	// Default: ${SKETCHROOM_ROOT}/store.db
	Path string `yaml:"path"`

	// PoolSize is the number of connections. Zero picks a default
	// from the CPU count.
	PoolSize int `yaml:"pool_size"`

	// Retain caps the change log. Cursors older than the retained
	// entries expire.
	// Default: 10000
	Retain int `yaml:"retain"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	// Address is host:port of the Redis server.
	// Default: 127.0.0.1:6379
	Address string `yaml:"address"`

	// DB is the Redis logical database.
	DB int `yaml:"db"`

	// PasswordFile holds the Redis password. Empty means no auth.
	PasswordFile string `yaml:"password_file"`

	// Prefix namespaces every key.
	// Default: sketchroom
	Prefix string `yaml:"prefix"`

	// StreamLength caps each change stream. Cursors older than the
	// retained entries expire.
	// Default: 10000
	StreamLength int64 `yaml:"stream_length"`
}

// DropboxConfig configures the Dropbox backend.
type DropboxConfig struct {
	// APIURL, ContentURL, and NotifyURL are the Dropbox API hosts.
	APIURL     string `yaml:"api_url"`
	ContentURL string `yaml:"content_url"`
	NotifyURL  string `yaml:"notify_url"`

	// TokenFile holds the OAuth access token.
	TokenFile string `yaml:"token_file"`
}

// Default returns the default configuration. Every field has a usable
// value, so binaries run without a config file during development.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "sketchroom")

	return &Config{
		Environment: Development,
		Root:        defaultRoot,
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Relay: RelayConfig{
			Listen:          "127.0.0.1:3002",
			MaxMessageBytes: 10 << 20,
			OutboundQueue:   256,
			PingInterval:    25 * time.Second,
			WriteTimeout:    10 * time.Second,
		},
		Client: ClientConfig{
			RelayURL:      "ws://127.0.0.1:3002/socket",
			Username:      "Anonymous",
			DialTimeout:   10 * time.Second,
			SaveThrottle:  20 * time.Second,
			SaveRetries:   3,
			PollTimeout:   30 * time.Second,
			RetryDelay:    5 * time.Second,
			Compression:   "zstd",
			CachePath:     "${SKETCHROOM_ROOT}/cache.db",
			LocalDebounce: 300 * time.Millisecond,
		},
		Storage: StorageConfig{
			Backend:     BackendMemory,
			RoomsFolder: "rooms",
			SQLite: SQLiteConfig{
				Path:   "${SKETCHROOM_ROOT}/store.db",
				Retain: 10000,
			},
			Redis: RedisConfig{
				Address:      "127.0.0.1:6379",
				Prefix:       "sketchroom",
				StreamLength: 10000,
			},
			Dropbox: DropboxConfig{
				APIURL:     "https://api.dropboxapi.com",
				ContentURL: "https://content.dropboxapi.com",
				NotifyURL:  "https://notify.dropboxapi.com",
				TokenFile:  "${SKETCHROOM_ROOT}/dropbox-token",
			},
		},
	}
}

// Load loads configuration from the SKETCHROOM_CONFIG environment
// variable. It fails when the variable is not set.
func Load() (*Config, error) {
	configPath := os.Getenv("SKETCHROOM_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("SKETCHROOM_CONFIG environment variable not set; " +
			"set it to the path of your sketchroom.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path on top of
// Default.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.ExpandVariables()

	return cfg, nil
}

// Resolve loads path when it is non-empty, else SKETCHROOM_CONFIG when
// set, else returns Default with variables expanded.
func Resolve(path string) (*Config, error) {
	if path != "" {
		return LoadFile(path)
	}
	if os.Getenv("SKETCHROOM_CONFIG") != "" {
		return Load()
	}
	cfg := Default()
	cfg.ExpandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &ConfigOverrides{
				Log: &LogConfig{Level: "info", Format: "json"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Log != nil {
		setString(&c.Log.Level, overrides.Log.Level)
		setString(&c.Log.Format, overrides.Log.Format)
	}

	if relay := overrides.Relay; relay != nil {
		setString(&c.Relay.Listen, relay.Listen)
		if relay.AllowedOrigins != nil {
			c.Relay.AllowedOrigins = relay.AllowedOrigins
		}
		setNumber(&c.Relay.MaxMessageBytes, relay.MaxMessageBytes)
		setNumber(&c.Relay.OutboundQueue, relay.OutboundQueue)
		setNumber(&c.Relay.PingInterval, relay.PingInterval)
		setNumber(&c.Relay.WriteTimeout, relay.WriteTimeout)
	}

	if client := overrides.Client; client != nil {
		setString(&c.Client.RelayURL, client.RelayURL)
		setString(&c.Client.Username, client.Username)
		setNumber(&c.Client.DialTimeout, client.DialTimeout)
		setNumber(&c.Client.SaveThrottle, client.SaveThrottle)
		setNumber(&c.Client.SaveRetries, client.SaveRetries)
		setNumber(&c.Client.PollTimeout, client.PollTimeout)
		setNumber(&c.Client.RetryDelay, client.RetryDelay)
		setString(&c.Client.Compression, client.Compression)
		setString(&c.Client.CachePath, client.CachePath)
		setNumber(&c.Client.LocalDebounce, client.LocalDebounce)
	}

	if storage := overrides.Storage; storage != nil {
		setString(&c.Storage.Backend, storage.Backend)
		setString(&c.Storage.RoomsFolder, storage.RoomsFolder)
		setString(&c.Storage.SQLite.Path, storage.SQLite.Path)
		setNumber(&c.Storage.SQLite.PoolSize, storage.SQLite.PoolSize)
		setNumber(&c.Storage.SQLite.Retain, storage.SQLite.Retain)
		setString(&c.Storage.Redis.Address, storage.Redis.Address)
		setNumber(&c.Storage.Redis.DB, storage.Redis.DB)
		setString(&c.Storage.Redis.PasswordFile, storage.Redis.PasswordFile)
		setString(&c.Storage.Redis.Prefix, storage.Redis.Prefix)
		setNumber(&c.Storage.Redis.StreamLength, storage.Redis.StreamLength)
		setString(&c.Storage.Dropbox.APIURL, storage.Dropbox.APIURL)
		setString(&c.Storage.Dropbox.ContentURL, storage.Dropbox.ContentURL)
		setString(&c.Storage.Dropbox.NotifyURL, storage.Dropbox.NotifyURL)
		setString(&c.Storage.Dropbox.TokenFile, storage.Dropbox.TokenFile)
	}
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func setNumber[T int | int64 | time.Duration](target *T, value T) {
	if value != 0 {
		*target = value
	}
}

// ExpandVariables expands ${VAR} and ${VAR:-default} patterns in
// path fields.
func (c *Config) ExpandVariables() {
	vars := map[string]string{
		"SKETCHROOM_ROOT": c.Root,
		"HOME":            os.Getenv("HOME"),
	}

	c.Root = expandVars(c.Root, vars)
	vars["SKETCHROOM_ROOT"] = c.Root

	c.Client.CachePath = expandVars(c.Client.CachePath, vars)
	c.Storage.SQLite.Path = expandVars(c.Storage.SQLite.Path, vars)
	c.Storage.Redis.PasswordFile = expandVars(c.Storage.Redis.PasswordFile, vars)
	c.Storage.Dropbox.TokenFile = expandVars(c.Storage.Dropbox.TokenFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Provided vars first, then the process environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if _, err := c.Log.level(); err != nil {
		errs = append(errs, err)
	}
	if !slices.Contains([]string{"auto", "text", "json"}, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: auto, text, json"))
	}

	if c.Relay.Listen == "" {
		errs = append(errs, fmt.Errorf("relay.listen is required"))
	}
	if c.Relay.MaxMessageBytes <= 0 {
		errs = append(errs, fmt.Errorf("relay.max_message_bytes must be positive"))
	}
	if c.Relay.OutboundQueue <= 0 {
		errs = append(errs, fmt.Errorf("relay.outbound_queue must be positive"))
	}
	if c.Relay.PingInterval <= 0 || c.Relay.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("relay.ping_interval and relay.write_timeout must be positive"))
	}

	if relayURL, err := url.Parse(c.Client.RelayURL); err != nil || (relayURL.Scheme != "ws" && relayURL.Scheme != "wss") {
		errs = append(errs, fmt.Errorf("client.relay_url must be a ws:// or wss:// URL"))
	}
	if c.Client.SaveRetries < 1 {
		errs = append(errs, fmt.Errorf("client.save_retries must be at least 1"))
	}
	if c.Client.SaveThrottle <= 0 || c.Client.PollTimeout <= 0 || c.Client.RetryDelay <= 0 || c.Client.LocalDebounce <= 0 {
		errs = append(errs, fmt.Errorf("client durations must be positive"))
	}
	if !slices.Contains([]string{"zstd", "lz4", "none"}, c.Client.Compression) {
		errs = append(errs, fmt.Errorf("client.compression must be one of: zstd, lz4, none"))
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Storage.SQLite.Path == "" {
			errs = append(errs, fmt.Errorf("storage.sqlite.path is required"))
		}
	case BackendRedis:
		if c.Storage.Redis.Address == "" {
			errs = append(errs, fmt.Errorf("storage.redis.address is required"))
		}
	case BackendDropbox:
		if c.Storage.Dropbox.TokenFile == "" {
			errs = append(errs, fmt.Errorf("storage.dropbox.token_file is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be one of: memory, sqlite, redis, dropbox"))
	}
	if c.Storage.RoomsFolder == "" {
		errs = append(errs, fmt.Errorf("storage.rooms_folder is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsureRoot creates the client state directory.
func (c *Config) EnsureRoot() error {
	if c.Root == "" {
		return nil
	}
	if err := os.MkdirAll(c.Root, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", c.Root, err)
	}
	return nil
}
