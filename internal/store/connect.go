// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store owns the auth schema migrations and the startup connection to
// the backing stores.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// RetryConfig bounds the startup connectivity check.
type RetryConfig struct {
	Attempts uint64        // retries after the first try
	Base     time.Duration // first backoff, doubled each retry
	Max      time.Duration // cap on a single backoff
}

// DefaultRetry waits roughly ten seconds for a store to come up.
func DefaultRetry() RetryConfig {
	return RetryConfig{Attempts: 5, Base: 200 * time.Millisecond, Max: 5 * time.Second}
}

func (c RetryConfig) backoff() retry.Backoff {
	b := retry.NewExponential(c.Base)
	if c.Max > 0 {
		b = retry.WithCappedDuration(c.Max, b)
	}
	return retry.WithMaxRetries(c.Attempts, b)
}

// WaitReady calls ping until it succeeds, the retries run out or ctx ends.
func WaitReady(ctx context.Context, logger *slog.Logger, target string, cfg RetryConfig, ping func(context.Context) error) error {
	attempt := 0
	err := retry.Do(ctx, cfg.backoff(), func(ctx context.Context) error {
		attempt++
		if err := ping(ctx); err != nil {
			logger.Warn("store not ready",
				"target", target,
				"attempt", attempt,
				"error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("STORE_UNREACHABLE").
			With("target", target).
			With("attempts", attempt).
			Wrap(err)
	}
	logger.Debug("store ready", "target", target, "attempts", attempt)
	return nil
}

// Connect opens a PostgreSQL pool and waits until it answers a ping.
func Connect(ctx context.Context, dsn string, logger *slog.Logger, cfg RetryConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("STORE_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	if err := WaitReady(ctx, logger, "postgres", cfg, pool.Ping); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
