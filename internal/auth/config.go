// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"time"

	"github.com/samber/oops"
)

// Session manager defaults.
const (
	DefaultLifetime          = 14 * 24 * time.Hour
	DefaultRememberCookieTTL = 24 * time.Hour
	DefaultCookieName        = "authautologin"
	DefaultLoginRole         = "login"
)

// Config controls the session manager.
type Config struct {
	// Lifetime is the absolute lifetime of a remember token.
	Lifetime time.Duration

	// RememberCookieTTL is the lifetime of the cookie issued at login. It is
	// independent of Lifetime, so the cookie usually expires before the
	// token it carries.
	RememberCookieTTL time.Duration

	// CookieName names the cookie carrying the remember token value.
	CookieName string

	// LoginRole must be held by a user for password login to succeed.
	LoginRole string

	// HashAlgorithm is the target algorithm for Hash and NeedsUpgrade.
	HashAlgorithm string
}

// DefaultConfig returns the default session manager configuration.
func DefaultConfig() Config {
	return Config{
		Lifetime:          DefaultLifetime,
		RememberCookieTTL: DefaultRememberCookieTTL,
		CookieName:        DefaultCookieName,
		LoginRole:         DefaultLoginRole,
		HashAlgorithm:     AlgorithmArgon2id,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Lifetime == 0 {
		c.Lifetime = d.Lifetime
	}
	if c.RememberCookieTTL == 0 {
		c.RememberCookieTTL = d.RememberCookieTTL
	}
	if c.CookieName == "" {
		c.CookieName = d.CookieName
	}
	if c.LoginRole == "" {
		c.LoginRole = d.LoginRole
	}
	if c.HashAlgorithm == "" {
		c.HashAlgorithm = d.HashAlgorithm
	}
	return c
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Lifetime < 0 {
		return oops.Code("AUTH_CONFIG_INVALID").With("lifetime", c.Lifetime).Errorf("lifetime must be positive")
	}
	if c.RememberCookieTTL < 0 {
		return oops.Code("AUTH_CONFIG_INVALID").
			With("remember_cookie_ttl", c.RememberCookieTTL).
			Errorf("remember cookie ttl must be positive")
	}
	if c.HashAlgorithm != "" && c.HashAlgorithm != AlgorithmArgon2id && c.HashAlgorithm != AlgorithmArgon2i {
		return oops.Code("AUTH_CONFIG_INVALID").
			With("hash_algorithm", c.HashAlgorithm).
			Errorf("hash algorithm must be %q or %q", AlgorithmArgon2id, AlgorithmArgon2i)
	}
	return nil
}
