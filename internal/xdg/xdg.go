// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package xdg locates sessionauth files under the XDG base directories.
package xdg

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

const appName = "sessionauth"

// ConfigDir returns $XDG_CONFIG_HOME/sessionauth, falling back to
// ~/.config/sessionauth. getenv is usually os.Getenv.
func ConfigDir(getenv func(string) string) string {
	base := getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// DefaultConfigFile returns the path of config.yaml in ConfigDir when that
// file exists, and "" otherwise.
func DefaultConfigFile(getenv func(string) string) string {
	path := filepath.Join(ConfigDir(getenv), "config.yaml")
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return ""
	}
	// Unreadable files are returned so the load error surfaces.
	return path
}
