// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

// Package config loads Keepsake configuration. Sources are layered in order
// of increasing precedence: built-in defaults, a YAML file, KEEPSAKE_*
// environment variables and command-line flags.
package config

import (
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nesting levels: KEEPSAKE_DATABASE__URL sets database.url.
const EnvPrefix = "KEEPSAKE_"

// Session store backends.
const (
	SessionStoreDatabase = "database"
	SessionStoreRedis    = "redis"
	SessionStoreMemory   = "memory"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server" json:"server"`
	Database  DatabaseConfig  `koanf:"database" json:"database"`
	Sessions  SessionsConfig  `koanf:"sessions" json:"sessions"`
	Password  PasswordConfig  `koanf:"password" json:"password"`
	Providers ProvidersConfig `koanf:"providers" json:"providers"`
	Log       LogConfig       `koanf:"log" json:"log"`
	Metrics   MetricsConfig   `koanf:"metrics" json:"metrics"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Addr    string `koanf:"addr" json:"addr" jsonschema:"description=HTTP listen address"`
	BaseURL string `koanf:"base_url" json:"base_url" jsonschema:"description=Public URL used to build OAuth redirect URLs"`
	// CookieHashKey signs cookies; CookieBlockKey optionally encrypts them.
	CookieHashKey  string   `koanf:"cookie_hash_key" json:"cookie_hash_key" jsonschema:"minLength=32"`
	CookieBlockKey string   `koanf:"cookie_block_key" json:"cookie_block_key,omitempty"`
	SecureCookies  bool     `koanf:"secure_cookies" json:"secure_cookies"`
	ProtectedPaths []string `koanf:"protected_paths" json:"protected_paths" jsonschema:"description=Glob patterns that require an authenticated session"`
}

// DatabaseConfig configures PostgreSQL. An empty URL selects in-memory
// stores, which lose all data on restart.
type DatabaseConfig struct {
	URL             string        `koanf:"url" json:"url,omitempty"`
	AutoMigrate     bool          `koanf:"auto_migrate" json:"auto_migrate"`
	MaxConns        int32         `koanf:"max_conns" json:"max_conns" jsonschema:"minimum=1"`
	ConnectAttempts uint64        `koanf:"connect_attempts" json:"connect_attempts"`
	ConnectBackoff  time.Duration `koanf:"connect_backoff" json:"connect_backoff"`
}

// SessionsConfig configures session persistence.
type SessionsConfig struct {
	// Store is database, redis or memory. Empty selects database when a
	// database URL is configured and memory otherwise.
	Store         string        `koanf:"store" json:"store,omitempty"`
	TTL           time.Duration `koanf:"ttl" json:"ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval" json:"sweep_interval"`
	RedisURL      string        `koanf:"redis_url" json:"redis_url,omitempty"`
	RedisPrefix   string        `koanf:"redis_prefix" json:"redis_prefix,omitempty"`
}

// PasswordConfig selects the single active local credential scheme.
type PasswordConfig struct {
	Scheme          string       `koanf:"scheme" json:"scheme" jsonschema:"enum=plaintext,enum=digest,enum=bcrypt,enum=argon2id"`
	DigestKey       string       `koanf:"digest_key" json:"digest_key,omitempty"`
	BcryptCost      int          `koanf:"bcrypt_cost" json:"bcrypt_cost" jsonschema:"minimum=4,maximum=31"`
	Argon2          Argon2Config `koanf:"argon2" json:"argon2"`
	HashConcurrency int          `koanf:"hash_concurrency" json:"hash_concurrency" jsonschema:"minimum=1"`
}

// Argon2Config tunes argon2id.
type Argon2Config struct {
	Time      uint32 `koanf:"time" json:"time" jsonschema:"minimum=1"`
	MemoryKiB uint32 `koanf:"memory_kib" json:"memory_kib" jsonschema:"minimum=1024"`
	Threads   uint8  `koanf:"threads" json:"threads" jsonschema:"minimum=1"`
}

// ProvidersConfig holds the optional federated providers.
type ProvidersConfig struct {
	Google   ProviderConfig `koanf:"google" json:"google"`
	Facebook ProviderConfig `koanf:"facebook" json:"facebook"`
}

// ProviderConfig is one OAuth client registration. The redirect URL is
// derived from server.base_url.
type ProviderConfig struct {
	Enabled      bool   `koanf:"enabled" json:"enabled"`
	ClientID     string `koanf:"client_id" json:"client_id,omitempty"`
	ClientSecret string `koanf:"client_secret" json:"client_secret,omitempty"`
	// Endpoint overrides the issuer (Google) or Graph API base (Facebook).
	Endpoint string `koanf:"endpoint" json:"endpoint,omitempty"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Format string `koanf:"format" json:"format" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// MetricsConfig configures the observability server.
type MetricsConfig struct {
	Addr string `koanf:"addr" json:"addr" jsonschema:"description=Metrics and health listen address; empty disables it"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           "127.0.0.1:3000",
			BaseURL:        "http://localhost:3000",
			ProtectedPaths: []string{"/secrets", "/submit"},
		},
		Database: DatabaseConfig{
			MaxConns:        10,
			ConnectAttempts: 5,
			ConnectBackoff:  500 * time.Millisecond,
		},
		Sessions: SessionsConfig{
			TTL:           24 * time.Hour,
			SweepInterval: 10 * time.Minute,
			RedisPrefix:   "keepsake:",
		},
		Password: PasswordConfig{
			Scheme:     "argon2id",
			BcryptCost: 10,
			Argon2: Argon2Config{
				Time:      1,
				MemoryKiB: 64 * 1024,
				Threads:   4,
			},
			HashConcurrency: 4,
		},
		Log: LogConfig{
			Format: "json",
			Level:  "info",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9100",
		},
	}
}

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"addr":            "server.addr",
	"base-url":        "server.base_url",
	"database-url":    "database.url",
	"auto-migrate":    "database.auto_migrate",
	"session-store":   "sessions.store",
	"redis-url":       "sessions.redis_url",
	"password-scheme": "password.scheme",
	"log-format":      "log.format",
	"log-level":       "log.level",
	"metrics-addr":    "metrics.addr",
}

// RegisterFlags adds the overridable settings to fs. Flag defaults are
// informational; only flags set explicitly take effect.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("addr", d.Server.Addr, "HTTP listen address")
	fs.String("base-url", d.Server.BaseURL, "public base URL")
	fs.String("database-url", "", "PostgreSQL URL (empty = in-memory stores)")
	fs.Bool("auto-migrate", d.Database.AutoMigrate, "apply pending migrations at startup")
	fs.String("session-store", "", "session store (database, redis or memory)")
	fs.String("redis-url", "", "Redis URL for the redis session store")
	fs.String("password-scheme", d.Password.Scheme, "local password scheme")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn or error)")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health address (empty = disabled)")
}

// Load builds the configuration. path may be empty to skip the file layer
// and fs may be nil to skip the flag layer.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	return load(path, fs, true)
}

func load(path string, fs *pflag.FlagSet, withEnv bool) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("path", path).
				With("layer", "file").
				Wrap(err)
		}
	}

	if withEnv {
		if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "env").Wrap(err)
		}
	}

	if fs != nil {
		if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, flagKey(fs)), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "decode").Wrap(err)
	}
	if cfg.Sessions.Store == "" {
		cfg.Sessions.Store = SessionStoreMemory
		if cfg.Database.URL != "" {
			cfg.Sessions.Store = SessionStoreDatabase
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey turns KEEPSAKE_SESSIONS__REDIS_URL into sessions.redis_url.
func envKey(name string) string {
	name = strings.TrimPrefix(name, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(name), "__", ".")
}

// flagKey keeps only the mapped flags that were set explicitly.
func flagKey(fs *pflag.FlagSet) func(*pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok || !f.Changed {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	}
}

// Validate checks cross-field constraints that the schema cannot express.
func (c *Config) Validate() error {
	invalid := func(field, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("field", field).Errorf(format, args...)
	}

	if c.Server.Addr == "" {
		return invalid("server.addr", "server address is required")
	}
	if c.Server.BaseURL == "" {
		return invalid("server.base_url", "base url is required")
	}
	if n := len(c.Server.CookieHashKey); n != 0 && n < 32 {
		return invalid("server.cookie_hash_key", "cookie hash key must be at least 32 bytes, got %d", n)
	}
	if n := len(c.Server.CookieBlockKey); n != 0 && n != 16 && n != 24 && n != 32 {
		return invalid("server.cookie_block_key", "cookie block key must be 16, 24 or 32 bytes, got %d", n)
	}

	switch c.Sessions.Store {
	case "", SessionStoreMemory:
	case SessionStoreDatabase:
		if c.Database.URL == "" {
			return invalid("sessions.store", "session store %q requires database.url", c.Sessions.Store)
		}
	case SessionStoreRedis:
		if c.Sessions.RedisURL == "" {
			return invalid("sessions.redis_url", "session store %q requires sessions.redis_url", c.Sessions.Store)
		}
	default:
		return invalid("sessions.store", "unknown session store %q", c.Sessions.Store)
	}
	if c.Sessions.TTL <= 0 {
		return invalid("sessions.ttl", "session ttl must be positive")
	}
	if c.Sessions.SweepInterval < 0 {
		return invalid("sessions.sweep_interval", "sweep interval cannot be negative")
	}

	switch c.Password.Scheme {
	case "plaintext", "bcrypt", "argon2id":
	case "digest":
		if c.Password.DigestKey == "" {
			return invalid("password.digest_key", "digest scheme requires password.digest_key")
		}
	default:
		return invalid("password.scheme", "unknown password scheme %q", c.Password.Scheme)
	}
	if c.Password.HashConcurrency < 1 {
		return invalid("password.hash_concurrency", "hash concurrency must be at least 1")
	}

	for name, p := range map[string]ProviderConfig{"google": c.Providers.Google, "facebook": c.Providers.Facebook} {
		if p.Enabled && (p.ClientID == "" || p.ClientSecret == "") {
			return invalid("providers."+name, "provider %s requires client_id and client_secret", name)
		}
	}

	if !slices.Contains([]string{"json", "text"}, c.Log.Format) {
		return invalid("log.format", "log format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		return invalid("log.level", "unknown log level %q", c.Log.Level)
	}
	return nil
}

// RedirectURL returns the OAuth callback URL for provider.
func (c *Config) RedirectURL(provider string) string {
	return strings.TrimSuffix(c.Server.BaseURL, "/") + "/auth/" + provider + "/callback"
}
