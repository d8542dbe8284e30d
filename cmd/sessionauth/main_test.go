// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMain hides any config file in the developer's XDG config directory.
func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "sessionauth-xdg")
	if err != nil {
		panic(err)
	}
	_ = os.Setenv("XDG_CONFIG_HOME", dir) //nolint:errcheck // test setup
	code := m.Run()
	_ = os.RemoveAll(dir) //nolint:errcheck // best-effort cleanup
	os.Exit(code)
}

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	for _, sub := range []string{"serve", "migrate", "user", "tokens"} {
		assert.Contains(t, output, sub, "Help missing %q command", sub)
	}
}

func TestRootCommand_ConfigFlag(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantFlag string
	}{
		{
			name:     "separate value",
			args:     []string{"--config", "/path/to/config.yaml", "--help"},
			wantFlag: "/path/to/config.yaml",
		},
		{
			name:     "with equals",
			args:     []string{"--config=/etc/sessionauth.yaml", "--help"},
			wantFlag: "/etc/sessionauth.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile = ""

			cmd := NewRootCmd()
			cmd.SetOut(new(bytes.Buffer))
			cmd.SetArgs(tt.args)

			require.NoError(t, cmd.Execute())
			assert.Equal(t, tt.wantFlag, configFile)
		})
	}
}

func TestRootCommand_ConfigFlagsAreInherited(t *testing.T) {
	cmd := NewRootCmd()
	for _, path := range [][]string{{"serve"}, {"migrate", "status"}, {"user", "add"}, {"tokens", "prune"}} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err)
		for _, flag := range []string{"config", "database-url", "redis-url", "log-format"} {
			assert.NotNil(t, sub.InheritedFlags().Lookup(flag), "%v missing --%s", path, flag)
		}
	}
}

func TestRootCommand_VersionFlag(t *testing.T) {
	cmd := NewRootCmd()
	cmd.Version = "test-version"
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "test-version")
}
