// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/sessionauth/internal/auth"
	"github.com/holomush/sessionauth/internal/logging"
	"github.com/holomush/sessionauth/internal/observability"
	"github.com/holomush/sessionauth/internal/web"
	"github.com/holomush/sessionauth/pkg/errutil"
)

const (
	defaultPruneInterval = time.Hour
	shutdownTimeout      = 5 * time.Second
)

// serveConfig holds flags specific to the serve command.
type serveConfig struct {
	skipMigrate      bool
	pruneInterval    time.Duration
	printResetTokens bool
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return newServeCmd(nil)
}

func newServeCmd(deps *ServeDeps) *cobra.Command {
	cfg := &serveConfig{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the login API",
		Long: `Serve the login API backed by PostgreSQL, with sessions in Redis when
a Redis URL is configured and in memory otherwise. Pending migrations are
applied on startup unless --skip-migrate is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, cfg, deps.withDefaults())
		},
	}

	cmd.Flags().BoolVar(&cfg.skipMigrate, "skip-migrate", false, "do not apply pending migrations on startup")
	cmd.Flags().DurationVar(&cfg.pruneInterval, "prune-interval", defaultPruneInterval, "how often expired tokens are deleted (0 = never)")
	cmd.Flags().BoolVar(&cfg.printResetTokens, "print-reset-tokens", false,
		"enable POST /password/forgot and print reset tokens to stderr (development only)")

	return cmd
}

func runServe(cmd *cobra.Command, sc *serveConfig, deps *ServeDeps) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}
	logger := logging.SetDefault(serviceName, version, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !sc.skipMigrate {
		if err := runAutoMigrate(deps.MigratorFactory, cfg.Database.URL, logger); err != nil {
			return err
		}
	}

	// Readiness checks are appended before the metrics server starts.
	var checks []observability.ReadinessCheck
	obs := observability.NewServer(cfg.Metrics.Addr, logger, func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	metrics := auth.NewMetrics(obs.Registry())

	stack, err := openStack(ctx, cfg, logger, *deps.RetryConfig, metrics)
	if err != nil {
		return err
	}
	defer stack.Close()
	checks = append(checks, stack.pool.Ping)

	sessions, err := openSessions(ctx, cfg, logger, *deps.RetryConfig)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := sessions.close(); closeErr != nil {
			errutil.LogWarn(context.Background(), logger, "error closing session store", closeErr)
		}
	}()
	checks = append(checks, sessions.ping)

	var notifier web.ResetNotifier
	if sc.printResetTokens {
		notifier = &printNotifier{w: cmd.ErrOrStderr()}
	}

	api, err := web.NewServer(web.Config{
		Manager:       stack.manager,
		Resets:        stack.resets,
		Notifier:      notifier,
		Sessions:      sessions,
		SessionCookie: cfg.HTTP.SessionCookie,
		Cookies:       web.CookieOptions{Secure: cfg.HTTP.SecureCookies},
		Logger:        logger,
		Metrics:       obs.Metrics(),
	})
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("API_LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	httpServer := &http.Server{
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()

	if cfg.Metrics.Addr != "" {
		obsErrChan, startErr := obs.Start()
		if startErr != nil {
			shutdown(logger, httpServer, nil)
			return startErr
		}
		go monitorServerErrors(ctx, stop, obsErrChan, "observability")
	}

	if sc.pruneInterval > 0 {
		go pruneLoop(ctx, stack.manager, logger, sc.pruneInterval)
	}

	cmd.Println("sessionauth serving")
	logger.Info("login api ready",
		"addr", listener.Addr().String(),
		"metrics_addr", obs.Addr(),
		"redis", cfg.Redis.URL != "")

	select {
	case err := <-errChan:
		shutdown(logger, httpServer, obs)
		return oops.Code("API_SERVE_FAILED").Wrap(err)
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdown(logger, httpServer, obs)
	logger.Info("shutdown complete")
	return nil
}

// runAutoMigrate applies pending migrations before the pool opens.
func runAutoMigrate(factory func(string) (AutoMigrator, error), databaseURL string, logger *slog.Logger) (err error) {
	migrator, err := factory(databaseURL)
	if err != nil {
		return oops.Code("AUTO_MIGRATE_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			errutil.LogWarn(context.Background(), logger, "error closing migrator", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATE_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	logger.Info("database migrations applied")
	return nil
}

// shutdown stops the API and then the metrics server. obs may be nil.
func shutdown(logger *slog.Logger, httpServer *http.Server, obs *observability.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		errutil.LogWarn(ctx, logger, "error stopping login api", err)
	}
	if obs != nil {
		if err := obs.Stop(ctx); err != nil {
			errutil.LogWarn(ctx, logger, "error stopping observability server", err)
		}
	}
}

// pruneLoop deletes expired tokens every interval until ctx ends.
func pruneLoop(ctx context.Context, m *auth.Manager, logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.PruneExpiredTokens(ctx)
			if err != nil {
				errutil.LogWarn(ctx, logger, "token prune failed", err)
				continue
			}
			if n > 0 {
				logger.Info("pruned expired tokens", "count", n)
			}
		}
	}
}

// monitorServerErrors cancels ctx when a server reports a serve failure. It
// returns when the channel closes or ctx ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}

// printNotifier writes reset tokens to a terminal instead of mailing them.
type printNotifier struct {
	w io.Writer
}

func (n *printNotifier) NotifyReset(_ context.Context, username, token string) error {
	_, err := fmt.Fprintf(n.w, "password reset token for %s: %s\n", username, token)
	if err != nil {
		return oops.Code("RESET_NOTIFY_FAILED").With("username", username).Wrap(err)
	}
	return nil
}
