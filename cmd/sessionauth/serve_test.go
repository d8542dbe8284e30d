// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/sessionauth/internal/auth"
	"github.com/holomush/sessionauth/internal/config"
	"github.com/holomush/sessionauth/internal/store"
	"github.com/holomush/sessionauth/pkg/errutil"
)

// mockMigrator implements AutoMigrator.
type mockMigrator struct {
	upCalled    bool
	upError     error
	closeCalled bool
	closeError  error
}

func (m *mockMigrator) Up() error {
	m.upCalled = true
	return m.upError
}

func (m *mockMigrator) Close() error {
	m.closeCalled = true
	return m.closeError
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestRunAutoMigrate(t *testing.T) {
	t.Run("applies and closes", func(t *testing.T) {
		m := &mockMigrator{}
		var gotURL string
		err := runAutoMigrate(func(url string) (AutoMigrator, error) {
			gotURL = url
			return m, nil
		}, "postgres://db/auth", discardLogger())

		require.NoError(t, err)
		assert.Equal(t, "postgres://db/auth", gotURL)
		assert.True(t, m.upCalled)
		assert.True(t, m.closeCalled)
	})

	t.Run("up failure still closes", func(t *testing.T) {
		m := &mockMigrator{upError: errors.New("dirty database")}
		err := runAutoMigrate(func(string) (AutoMigrator, error) { return m, nil }, "postgres://db/auth", discardLogger())

		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTO_MIGRATE_FAILED")
		errutil.AssertErrorContext(t, err, "operation", "apply migrations")
		assert.True(t, m.closeCalled)
	})

	t.Run("close failure is only logged", func(t *testing.T) {
		m := &mockMigrator{closeError: errors.New("close failed")}
		err := runAutoMigrate(func(string) (AutoMigrator, error) { return m, nil }, "postgres://db/auth", discardLogger())
		require.NoError(t, err)
	})

	t.Run("factory failure", func(t *testing.T) {
		err := runAutoMigrate(func(string) (AutoMigrator, error) {
			return nil, errors.New("bad url")
		}, "postgres://db/auth", discardLogger())

		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTO_MIGRATE_FAILED")
		errutil.AssertErrorContext(t, err, "operation", "create migrator")
	})
}

func TestServeDeps_Defaults(t *testing.T) {
	var deps *ServeDeps
	d := deps.withDefaults()
	require.NotNil(t, d.MigratorFactory)
	require.NotNil(t, d.RetryConfig)
	assert.Equal(t, store.DefaultRetry(), *d.RetryConfig)

	custom := store.RetryConfig{Attempts: 1}
	d = (&ServeDeps{RetryConfig: &custom}).withDefaults()
	assert.Equal(t, custom, *d.RetryConfig)
}

func TestServe_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	err := runRoot(t, "", "serve")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestServe_AutoMigrateFailureStopsStartup(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:1/auth")
	configFile = ""
	m := &mockMigrator{upError: errors.New("dirty database")}
	cmd := NewRootCmd()
	for _, c := range cmd.Commands() {
		if c.Name() == "serve" {
			cmd.RemoveCommand(c)
		}
	}
	cmd.AddCommand(newServeCmd(&ServeDeps{
		MigratorFactory: func(string) (AutoMigrator, error) { return m, nil },
	}))
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"serve", "--log-format", "text"})

	err := cmd.Execute()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTO_MIGRATE_FAILED")
	assert.True(t, m.upCalled)
}

func TestNewHasher(t *testing.T) {
	for _, alg := range []string{"", auth.AlgorithmArgon2id, auth.AlgorithmArgon2i} {
		cfg := &config.Config{Auth: config.AuthConfig{HashAlgorithm: alg}}
		h, err := newHasher(cfg)
		require.NoError(t, err, alg)
		want := alg
		if want == "" {
			want = auth.AlgorithmArgon2id
		}
		assert.Equal(t, want, h.Params().Algorithm)
	}

	_, err := newHasher(&config.Config{Auth: config.AuthConfig{HashAlgorithm: auth.AlgorithmBcrypt}})
	require.Error(t, err)
}

func TestOpenSessions_InMemoryWithoutRedis(t *testing.T) {
	cfg := &config.Config{Session: config.SessionConfig{TTL: time.Minute}}
	backend, err := openSessions(context.Background(), cfg, discardLogger(), store.DefaultRetry())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "sid", "k", "v"))
	v, ok, err := backend.Get(ctx, "sid", "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	require.NoError(t, backend.ping(ctx))
	require.NoError(t, backend.close())
}

func TestOpenSessions_BadRedisURL(t *testing.T) {
	cfg := &config.Config{Redis: config.RedisConfig{URL: "mysql://nope"}}
	_, err := openSessions(context.Background(), cfg, discardLogger(), store.DefaultRetry())
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestMonitorServerErrors(t *testing.T) {
	t.Run("error cancels", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error, 1)
		errCh <- errors.New("listener died")

		monitorServerErrors(ctx, cancel, errCh, "test")
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	})

	t.Run("closed channel does not cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error)
		close(errCh)

		monitorServerErrors(ctx, cancel, errCh, "test")
		assert.NoError(t, ctx.Err())
	})
}

func TestPrintNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := &printNotifier{w: &buf}
	require.NoError(t, n.NotifyReset(context.Background(), "alice", "abc123"))
	assert.Equal(t, "password reset token for alice: abc123\n", buf.String())
}
