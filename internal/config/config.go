// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads sessionauth settings from a YAML file, the
// environment and command-line flags.
package config

import (
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/sessionauth/internal/auth"
	"github.com/holomush/sessionauth/internal/session"
)

// Default values for flags and config keys.
const (
	DefaultHTTPAddr          = "127.0.0.1:8080"
	DefaultMetricsAddr       = "127.0.0.1:9100"
	DefaultLogFormat         = "json"
	DefaultSessionCookieName = "sessionauth"
)

// Config is the full sessionauth configuration.
type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Session  SessionConfig  `koanf:"session"`
	Auth     AuthConfig     `koanf:"auth"`
	Reset    ResetConfig    `koanf:"reset"`
}

// HTTPConfig configures the login API listener and its cookies.
type HTTPConfig struct {
	Addr          string `koanf:"addr"`
	SecureCookies bool   `koanf:"secure_cookies"`
	SessionCookie string `koanf:"session_cookie"`
}

// MetricsConfig configures the metrics and health listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig selects the log encoding.
type LogConfig struct {
	Format string `koanf:"format"`
}

// DatabaseConfig locates PostgreSQL.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// RedisConfig locates Redis. An empty URL keeps sessions in memory.
type RedisConfig struct {
	URL string `koanf:"url"`
}

// SessionConfig controls server-side sessions.
type SessionConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

// AuthConfig mirrors auth.Config.
type AuthConfig struct {
	Lifetime          time.Duration `koanf:"lifetime"`
	RememberCookieTTL time.Duration `koanf:"remember_cookie_ttl"`
	CookieName        string        `koanf:"cookie_name"`
	LoginRole         string        `koanf:"login_role"`
	HashAlgorithm     string        `koanf:"hash_algorithm"`
}

// ResetConfig controls password reset tokens.
type ResetConfig struct {
	Lifetime time.Duration `koanf:"lifetime"`
}

// flagKeys maps flag names to config keys. Flags outside the table are not
// configuration.
var flagKeys = map[string]string{
	"http-addr":           "http.addr",
	"secure-cookies":      "http.secure_cookies",
	"session-cookie":      "http.session_cookie",
	"metrics-addr":        "metrics.addr",
	"log-format":          "log.format",
	"database-url":        "database.url",
	"redis-url":           "redis.url",
	"session-ttl":         "session.ttl",
	"token-lifetime":      "auth.lifetime",
	"remember-cookie-ttl": "auth.remember_cookie_ttl",
	"hash-algorithm":      "auth.hash_algorithm",
	"reset-lifetime":      "reset.lifetime",
}

// envKeys maps environment variables to config keys.
var envKeys = map[string]string{
	"DATABASE_URL": "database.url",
	"REDIS_URL":    "redis.url",
}

// RegisterFlags adds the configuration flags, with their defaults, to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("http-addr", DefaultHTTPAddr, "login API listen address")
	fs.Bool("secure-cookies", false, "mark cookies Secure (serve over HTTPS)")
	fs.String("session-cookie", DefaultSessionCookieName, "session cookie name")
	fs.String("metrics-addr", DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", DefaultLogFormat, "log format (json or text)")
	fs.String("database-url", "", "PostgreSQL URL (or DATABASE_URL)")
	fs.String("redis-url", "", "Redis URL for sessions, empty keeps them in memory (or REDIS_URL)")
	fs.Duration("session-ttl", session.DefaultTTL, "idle session lifetime")
	fs.Duration("token-lifetime", auth.DefaultLifetime, "remember token lifetime")
	fs.Duration("remember-cookie-ttl", auth.DefaultRememberCookieTTL, "lifetime of the remember cookie issued at login")
	fs.String("hash-algorithm", auth.AlgorithmArgon2id, "password hash algorithm (argon2id or argon2i)")
	fs.Duration("reset-lifetime", auth.DefaultResetTokenLifetime, "password reset token lifetime")
}

// Load builds a Config. Later sources win: the YAML file at path (if any),
// then the environment, then flags the user set explicitly. Flag defaults
// fill whatever is still unset.
func Load(path string, fs *pflag.FlagSet, getenv func(string) string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("operation", "read config file").
				With("path", path).
				Wrap(err)
		}
	}

	for env, key := range envKeys {
		if v := getenv(env); v != "" {
			if err := k.Set(key, v); err != nil {
				return nil, oops.Code("CONFIG_LOAD_FAILED").With("env", env).Wrap(err)
			}
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "read flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "decode config").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the commands depend on.
func (c *Config) Validate() error {
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID").
			With("log_format", c.Log.Format).
			Errorf("log format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if c.Session.TTL < 0 {
		return oops.Code("CONFIG_INVALID").With("session_ttl", c.Session.TTL).Errorf("session ttl must be positive")
	}
	if c.Reset.Lifetime < 0 {
		return oops.Code("CONFIG_INVALID").With("reset_lifetime", c.Reset.Lifetime).Errorf("reset lifetime must be positive")
	}
	return c.AuthSettings().Validate()
}

// RequireDatabase fails unless a database URL is configured.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database url is required (--database-url or DATABASE_URL)")
	}
	return nil
}

// AuthSettings converts the auth section to an auth.Config.
func (c *Config) AuthSettings() auth.Config {
	return auth.Config{
		Lifetime:          c.Auth.Lifetime,
		RememberCookieTTL: c.Auth.RememberCookieTTL,
		CookieName:        c.Auth.CookieName,
		LoginRole:         c.Auth.LoginRole,
		HashAlgorithm:     c.Auth.HashAlgorithm,
	}
}
