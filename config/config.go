// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the homeserver.
//
// Configuration is loaded from a single file specified by:
//   - HEARTH_CONFIG environment variable, or
//   - --config flag passed to the daemon
//
// There are no fallbacks or automatic discovery. The file is YAML;
// files ending in .json or .jsonc are parsed as JSON with comments.
// Environment variables never override file values — this keeps the
// running configuration auditable from the file alone.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/emberfed/hearth/lib/ref"
)

// Backend selects the key-value store implementation.
type Backend string

const (
	// BackendMemory keeps all state in process memory. Development
	// only: nothing survives a restart, including the signing keypair.
	BackendMemory Backend = "memory"
	// BackendSQLite stores state in a single SQLite database file.
	BackendSQLite Backend = "sqlite"
	// BackendRedis stores state in a Redis server.
	BackendRedis Backend = "redis"
)

// Config is the homeserver configuration.
type Config struct {
	// ServerName is the authoritative Matrix server name: the part
	// after the colon in this server's user and room IDs. Changing it
	// after first start invalidates every identifier the server has
	// minted.
	ServerName string `yaml:"server_name"`

	// Database selects and locates the key-value backend.
	Database DatabaseConfig `yaml:"database"`

	// MaxRequestSize is the largest request body accepted, in bytes.
	MaxRequestSize uint64 `yaml:"max_request_size"`

	// AllowRegistration opens /register to new accounts.
	AllowRegistration bool `yaml:"allow_registration"`

	// AllowEncryption advertises end-to-end encryption support.
	AllowEncryption bool `yaml:"allow_encryption"`

	// AllowFederation enables server-to-server traffic. When false the
	// federation client, trust store fetches, and inbound transaction
	// processing are all disabled.
	AllowFederation bool `yaml:"allow_federation"`

	// AllowRoomCreation opens /createRoom to local users.
	AllowRoomCreation bool `yaml:"allow_room_creation"`

	// TrustedServers are notary servers asked for third-party signing
	// keys before falling back to the origin itself.
	TrustedServers []string `yaml:"trusted_servers"`

	// Proxy routes outbound federation requests: "none" or an absolute
	// URL applied to every request.
	Proxy string `yaml:"proxy"`

	// JWTSecret enables JWT login when non-empty. The secret is the
	// HMAC key tokens are verified against.
	JWTSecret string `yaml:"jwt_secret"`

	// TURN hands out TURN server credentials to calling clients.
	TURN TURNConfig `yaml:"turn"`

	// Federation tunes the outbound federation path.
	Federation FederationConfig `yaml:"federation"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// DatabaseConfig selects and locates the key-value backend.
type DatabaseConfig struct {
	// Backend is memory, sqlite, or redis.
	Backend Backend `yaml:"backend"`

	// Path is the SQLite database file. Required for the sqlite
	// backend, ignored otherwise.
	Path string `yaml:"path"`

	// Addr is the Redis host:port. Required for the redis backend,
	// ignored otherwise.
	Addr string `yaml:"addr"`

	// Password is the Redis AUTH password, if any.
	Password string `yaml:"password"`

	// DB is the Redis logical database number.
	DB int `yaml:"db"`
}

// TURNConfig carries the TURN credential material handed to clients.
// With Secret set, per-user credentials are derived (HMAC); otherwise
// the static Username/Password pair is handed out as-is.
type TURNConfig struct {
	URIs     []string `yaml:"uris"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	Secret   string   `yaml:"secret"`
	TTL      uint64   `yaml:"ttl"`
}

// FederationConfig tunes the outbound federation path.
type FederationConfig struct {
	// MaxConcurrentRequests caps in-flight requests per remote server.
	MaxConcurrentRequests int `yaml:"max_concurrent_requests"`

	// BackoffBase and BackoffMax bound the retry backoff for
	// unresponsive servers.
	BackoffBase Duration `yaml:"backoff_base"`
	BackoffMax  Duration `yaml:"backoff_max"`
}

// Duration is a time.Duration that unmarshals from the human form
// ("30s", "5m") in YAML and JSON configs.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the default configuration. ServerName has no
// default; the config file must provide it.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Backend: BackendSQLite,
			Path:    "hearth.db",
		},
		MaxRequestSize:    20 * 1024 * 1024,
		AllowRoomCreation: true,
		AllowEncryption:   true,
		AllowFederation:   true,
		TrustedServers:    []string{"matrix.org"},
		Proxy:             "none",
		TURN: TURNConfig{
			TTL: 86400,
		},
		Federation: FederationConfig{
			MaxConcurrentRequests: 100,
			BackoffBase:           Duration(time.Minute),
			BackoffMax:            Duration(time.Hour),
		},
		LogLevel: "info",
	}
}

// Load loads configuration from the HEARTH_CONFIG environment
// variable. There are no fallbacks: if it is unset, Load fails.
func Load() (*Config, error) {
	path := os.Getenv("HEARTH_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("config: HEARTH_CONFIG environment variable not set; " +
			"set it to the path of your hearth.yaml config file, or use --config flag")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path, merging over Default().
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if strings.HasSuffix(path, ".json") || strings.HasSuffix(path, ".jsonc") {
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors. All problems are
// reported at once.
func (c *Config) Validate() error {
	var errs []error

	if c.ServerName == "" {
		errs = append(errs, fmt.Errorf("server_name is required"))
	} else if _, err := ref.ParseServerName(c.ServerName); err != nil {
		errs = append(errs, fmt.Errorf("server_name: %w", err))
	}

	switch c.Database.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Database.Path == "" {
			errs = append(errs, fmt.Errorf("database.path is required for the sqlite backend"))
		}
	case BackendRedis:
		if c.Database.Addr == "" {
			errs = append(errs, fmt.Errorf("database.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.backend must be memory, sqlite, or redis, not %q", c.Database.Backend))
	}

	if c.MaxRequestSize == 0 {
		errs = append(errs, fmt.Errorf("max_request_size must be positive"))
	}

	for _, server := range c.TrustedServers {
		if _, err := ref.ParseServerName(server); err != nil {
			errs = append(errs, fmt.Errorf("trusted_servers: %w", err))
		}
	}

	if c.Proxy != "" && c.Proxy != "none" {
		parsed, err := url.Parse(c.Proxy)
		if err != nil || !parsed.IsAbs() {
			errs = append(errs, fmt.Errorf("proxy must be \"none\" or an absolute URL, not %q", c.Proxy))
		}
	}

	if c.TURN.Secret != "" && (c.TURN.Username != "" || c.TURN.Password != "") {
		errs = append(errs, fmt.Errorf("turn.secret and turn.username/password are mutually exclusive"))
	}

	if c.Federation.MaxConcurrentRequests < 1 {
		errs = append(errs, fmt.Errorf("federation.max_concurrent_requests must be at least 1"))
	}
	if c.Federation.BackoffBase <= 0 || c.Federation.BackoffMax < c.Federation.BackoffBase {
		errs = append(errs, fmt.Errorf("federation backoff must satisfy 0 < backoff_base <= backoff_max"))
	}

	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log_level must be debug, info, warn, or error, not %q", c.LogLevel)
	}
}

// ProxyURL returns the outbound proxy URL, or nil when proxying is
// disabled. Call only after Validate.
func (c *Config) ProxyURL() *url.URL {
	if c.Proxy == "" || c.Proxy == "none" {
		return nil
	}
	parsed, err := url.Parse(c.Proxy)
	if err != nil {
		return nil
	}
	return parsed
}
