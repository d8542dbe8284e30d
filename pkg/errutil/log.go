// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package errutil provides helpers for logging and asserting oops errors.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs err at error level with structured context if it's an oops error.
func LogError(logger *slog.Logger, msg string, err error, attrs ...any) {
	Log(context.Background(), logger, slog.LevelError, msg, err, attrs...)
}

// LogWarn logs err at warn level. Used for best-effort steps whose failure
// does not change the outcome of the surrounding operation.
func LogWarn(ctx context.Context, logger *slog.Logger, msg string, err error, attrs ...any) {
	Log(ctx, logger, slog.LevelWarn, msg, err, attrs...)
}

// Log logs err at the given level. For oops errors the message, code and
// context are extracted into attributes; other errors log their string.
// Extra attrs are appended as key/value pairs.
func Log(ctx context.Context, logger *slog.Logger, level slog.Level, msg string, err error, attrs ...any) {
	if logger == nil {
		logger = slog.Default()
	}
	out := []any{"error", err.Error()}
	if oopsErr, ok := oops.AsOops(err); ok {
		if code := oopsErr.Code(); code != nil {
			out = append(out, "code", code)
		}
		if errCtx := oopsErr.Context(); len(errCtx) > 0 {
			out = append(out, "context", errCtx)
		}
	}
	out = append(out, attrs...)
	logger.Log(ctx, level, msg, out...)
}
