// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/sessionauth/internal/store"
	"github.com/holomush/sessionauth/pkg/errutil"
)

var fastRetry = store.RetryConfig{Attempts: 3, Base: time.Millisecond, Max: 2 * time.Millisecond}

func TestWaitReady(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))
		calls := 0
		err := store.WaitReady(ctx, logger, "redis", fastRetry, func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Contains(t, buf.String(), "store not ready")
		assert.Contains(t, buf.String(), "target=redis")
	})

	t.Run("gives up after the configured retries", func(t *testing.T) {
		calls := 0
		err := store.WaitReady(ctx, slog.New(slog.DiscardHandler), "postgres", fastRetry, func(context.Context) error {
			calls++
			return errors.New("connection refused")
		})
		require.Error(t, err)
		assert.Equal(t, 4, calls, "first try plus three retries")
		errutil.AssertErrorCode(t, err, "STORE_UNREACHABLE")
		errutil.AssertErrorContext(t, err, "target", "postgres")
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("stops when the context ends", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		slow := store.RetryConfig{Attempts: 10, Base: time.Hour}
		err := store.WaitReady(cancelled, slog.New(slog.DiscardHandler), "postgres", slow, func(context.Context) error {
			return errors.New("connection refused")
		})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "STORE_UNREACHABLE")
	})
}

func TestConnect_InvalidURL(t *testing.T) {
	_, err := store.Connect(context.Background(), "postgres://localhost/auth?sslmode=sometimes",
		slog.New(slog.DiscardHandler), fastRetry)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "STORE_CONFIG_INVALID")
}

func TestDefaultRetry(t *testing.T) {
	cfg := store.DefaultRetry()
	assert.Positive(t, cfg.Attempts)
	assert.Positive(t, cfg.Base)
	assert.GreaterOrEqual(t, cfg.Max, cfg.Base)
}
