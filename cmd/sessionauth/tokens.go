// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

// NewTokensCmd creates the tokens command group.
func NewTokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Maintain remember and reset tokens",
	}

	var timeout time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete every expired token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStack(cmd, timeout, func(ctx context.Context, s *authStack) error {
				n, err := s.manager.PruneExpiredTokens(ctx)
				if err != nil {
					return err
				}
				cmd.Printf("Pruned %d expired tokens\n", n)
				return nil
			})
		},
	}
	prune.Flags().DurationVar(&timeout, "timeout", defaultAdminTimeout, "timeout for database operations")
	cmd.AddCommand(prune)
	return cmd
}
