// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/sessionauth/internal/auth"
	"github.com/holomush/sessionauth/internal/auth/postgres"
	"github.com/holomush/sessionauth/internal/config"
	"github.com/holomush/sessionauth/internal/session"
	"github.com/holomush/sessionauth/internal/store"
)

// AutoMigrator is the subset of store.Migrator used at startup.
type AutoMigrator interface {
	Up() error
	Close() error
}

// ServeDeps contains injectable dependencies for the serve command.
// Nil fields use their default implementations.
type ServeDeps struct {
	// MigratorFactory opens a migrator for a database URL.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (AutoMigrator, error)

	// RetryConfig bounds the startup connectivity checks.
	// Default: store.DefaultRetry
	RetryConfig *store.RetryConfig
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(databaseURL string) (AutoMigrator, error) {
			return store.NewMigrator(databaseURL)
		}
	}
	if out.RetryConfig == nil {
		r := store.DefaultRetry()
		out.RetryConfig = &r
	}
	return &out
}

// authStack is the PostgreSQL-backed session manager and its repositories.
type authStack struct {
	pool    *pgxpool.Pool
	users   *postgres.UserRepository
	tokens  *postgres.TokenRepository
	manager *auth.Manager
	resets  *auth.PasswordResetService
}

// newHasher builds the password hasher for the configured target algorithm.
func newHasher(cfg *config.Config) (*auth.Argon2Hasher, error) {
	params := auth.DefaultHashParams()
	if cfg.Auth.HashAlgorithm != "" {
		params.Algorithm = cfg.Auth.HashAlgorithm
	}
	return auth.NewArgon2Hasher(params)
}

// openStack connects to PostgreSQL and assembles the session manager.
// metrics may be nil.
func openStack(ctx context.Context, cfg *config.Config, logger *slog.Logger, retryCfg store.RetryConfig, metrics *auth.Metrics) (*authStack, error) {
	hasher, err := newHasher(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := store.Connect(ctx, cfg.Database.URL, logger, retryCfg)
	if err != nil {
		return nil, err
	}

	users := postgres.NewUserRepository(pool)
	tokens := postgres.NewTokenRepository(pool)

	opts := []auth.ManagerOption{
		auth.WithConfig(cfg.AuthSettings()),
		auth.WithLogger(logger),
	}
	if metrics != nil {
		opts = append(opts, auth.WithMetrics(metrics))
	}
	manager, err := auth.NewManager(users, users, tokens, hasher, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}

	resets, err := auth.NewPasswordResetService(manager, cfg.Reset.Lifetime)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &authStack{pool: pool, users: users, tokens: tokens, manager: manager, resets: resets}, nil
}

// Close releases the database pool.
func (s *authStack) Close() {
	s.pool.Close()
}

// sessionBackend is a session store together with its health check and
// cleanup.
type sessionBackend struct {
	session.Backend
	ping  func(context.Context) error
	close func() error
}

// openSessions selects Redis when a URL is configured and process memory
// otherwise.
func openSessions(ctx context.Context, cfg *config.Config, logger *slog.Logger, retryCfg store.RetryConfig) (*sessionBackend, error) {
	if cfg.Redis.URL == "" {
		logger.Warn("no redis url configured, sessions are kept in memory")
		return &sessionBackend{
			Backend: session.NewMemoryBackend(cfg.Session.TTL, nil),
			ping:    func(context.Context) error { return nil },
			close:   func() error { return nil },
		}, nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "parse redis url").Wrap(err)
	}
	client := redis.NewClient(opts)

	backend := session.NewRedisBackend(client, session.WithRedisTTL(cfg.Session.TTL))
	if err := store.WaitReady(ctx, logger, "redis", retryCfg, backend.Ping); err != nil {
		_ = client.Close() //nolint:errcheck // connect error takes precedence
		return nil, err
	}
	return &sessionBackend{Backend: backend, ping: backend.Ping, close: client.Close}, nil
}
