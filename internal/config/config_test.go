// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/sessionauth/internal/auth"
	"github.com/holomush/sessionauth/internal/config"
	"github.com/holomush/sessionauth/internal/session"
	"github.com/holomush/sessionauth/pkg/errutil"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	fs.String("config", "", "unrelated flag")
	require.NoError(t, fs.Parse(args))
	return fs
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessionauth.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func noEnv(string) string { return "" }

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("", newFlags(t), noEnv)
	require.NoError(t, err)

	assert.Equal(t, config.DefaultHTTPAddr, cfg.HTTP.Addr)
	assert.Equal(t, config.DefaultSessionCookieName, cfg.HTTP.SessionCookie)
	assert.False(t, cfg.HTTP.SecureCookies)
	assert.Equal(t, config.DefaultMetricsAddr, cfg.Metrics.Addr)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Empty(t, cfg.Database.URL)
	assert.Empty(t, cfg.Redis.URL)
	assert.Equal(t, session.DefaultTTL, cfg.Session.TTL)
	assert.Equal(t, auth.DefaultLifetime, cfg.Auth.Lifetime)
	assert.Equal(t, auth.DefaultRememberCookieTTL, cfg.Auth.RememberCookieTTL)
	assert.Equal(t, auth.AlgorithmArgon2id, cfg.Auth.HashAlgorithm)
	assert.Equal(t, auth.DefaultResetTokenLifetime, cfg.Reset.Lifetime)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeFile(t, `
http:
  addr: 0.0.0.0:9000
  secure_cookies: true
log:
  format: text
database:
  url: postgres://file/auth
auth:
  lifetime: 72h
  cookie_name: remember_me
  login_role: member
`)
	env := map[string]string{"DATABASE_URL": "postgres://env/auth", "REDIS_URL": "redis://env:6379/0"}
	fs := newFlags(t, "--log-format=json", "--redis-url=redis://flag:6379/1")

	cfg, err := config.Load(path, fs, func(k string) string { return env[k] })
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.HTTP.Addr, "file beats flag default")
	assert.True(t, cfg.HTTP.SecureCookies)
	assert.Equal(t, "json", cfg.Log.Format, "explicit flag beats file")
	assert.Equal(t, "postgres://env/auth", cfg.Database.URL, "env beats file")
	assert.Equal(t, "redis://flag:6379/1", cfg.Redis.URL, "explicit flag beats env")
	assert.Equal(t, 72*time.Hour, cfg.Auth.Lifetime)
	assert.Equal(t, auth.DefaultRememberCookieTTL, cfg.Auth.RememberCookieTTL)

	settings := cfg.AuthSettings()
	assert.Equal(t, "remember_me", settings.CookieName)
	assert.Equal(t, "member", settings.LoginRole)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"), newFlags(t), noEnv)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code string
	}{
		{"log format", []string{"--log-format=xml"}, "CONFIG_INVALID"},
		{"hash algorithm", []string{"--hash-algorithm=md5"}, "AUTH_CONFIG_INVALID"},
		{"token lifetime", []string{"--token-lifetime=-1h"}, "AUTH_CONFIG_INVALID"},
		{"reset lifetime", []string{"--reset-lifetime=-1m"}, "CONFIG_INVALID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load("", newFlags(t, tt.args...), noEnv)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.code)
		})
	}
}

func TestConfig_RequireDatabase(t *testing.T) {
	cfg, err := config.Load("", newFlags(t), noEnv)
	require.NoError(t, err)
	errutil.AssertErrorCode(t, cfg.RequireDatabase(), "CONFIG_INVALID")

	cfg.Database.URL = "postgres://localhost/auth"
	assert.NoError(t, cfg.RequireDatabase())
}
