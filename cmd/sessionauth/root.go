// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/holomush/sessionauth/internal/config"
	"github.com/holomush/sessionauth/internal/xdg"
)

// serviceName labels logs and metrics.
const serviceName = "sessionauth"

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the sessionauth CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessionauth",
		Short: "sessionauth - session and credential authentication",
		Long: `sessionauth serves a cookie-based login API backed by PostgreSQL
users and remember tokens, with sessions kept in Redis or in memory.
It also administers the schema, accounts and tokens.`,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file path (YAML, default $XDG_CONFIG_HOME/sessionauth/config.yaml when present)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewUserCmd())
	cmd.AddCommand(NewTokensCmd())

	return cmd
}

// loadConfig resolves the configuration for cmd from the config file, the
// environment and its flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configFile
	if path == "" {
		path = xdg.DefaultConfigFile(os.Getenv)
	}
	return config.Load(path, cmd.Flags(), os.Getenv)
}
