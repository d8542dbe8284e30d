// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/holomush/sessionauth/internal/auth"
	"github.com/holomush/sessionauth/internal/auth/postgres"
	"github.com/holomush/sessionauth/internal/logging"
	"github.com/holomush/sessionauth/internal/store"
)

// Default timeout for admin commands.
const defaultAdminTimeout = 30 * time.Second

// withStack loads the configuration, connects to PostgreSQL and runs fn
// under a timeout.
func withStack(cmd *cobra.Command, timeout time.Duration, fn func(ctx context.Context, s *authStack) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}
	logger := logging.Setup(serviceName, version, cfg.Log.Format, cmd.ErrOrStderr())

	// cmd.Context() carries SIGINT/SIGTERM cancellation.
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	stack, err := openStack(ctx, cfg, logger, store.DefaultRetry(), nil)
	if err != nil {
		return err
	}
	defer stack.Close()
	return fn(ctx, stack)
}

// seedFile is the YAML document accepted by user add --from.
type seedFile struct {
	Users []seedUser `yaml:"users"`
}

// seedUser describes one account. Exactly one of Password and PasswordHash
// is set; a hash is stored as is, so legacy bcrypt hashes can be imported
// and upgraded on first login.
type seedUser struct {
	Username     string   `yaml:"username"`
	Email        *string  `yaml:"email"`
	Password     string   `yaml:"password"`
	PasswordHash string   `yaml:"password_hash"`
	Roles        []string `yaml:"roles"`
}

// parseSeed decodes and validates a seed document. Entries without roles get
// the login role.
func parseSeed(data []byte, loginRole string) (*seedFile, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, oops.Code("SEED_INVALID").With("operation", "parse seed file").Wrap(err)
	}
	if err := seed.validate(loginRole); err != nil {
		return nil, err
	}
	return &seed, nil
}

func (s *seedFile) validate(loginRole string) error {
	if loginRole == "" {
		loginRole = auth.DefaultLoginRole
	}
	if len(s.Users) == 0 {
		return oops.Code("SEED_INVALID").Errorf("seed file lists no users")
	}

	seen := make(map[string]bool, len(s.Users))
	for i := range s.Users {
		u := &s.Users[i]
		// Errorf keeps SEED_INVALID as the reported code.
		if err := auth.ValidateUsername(u.Username); err != nil {
			return oops.Code("SEED_INVALID").With("entry", i).Errorf("user %q: %v", u.Username, err)
		}
		key := strings.ToLower(u.Username)
		if seen[key] {
			return oops.Code("SEED_INVALID").With("entry", i).Errorf("duplicate username %q", u.Username)
		}
		seen[key] = true
		if (u.Password == "") == (u.PasswordHash == "") {
			return oops.Code("SEED_INVALID").
				With("entry", i).
				Errorf("user %q needs exactly one of password or password_hash", u.Username)
		}
		if len(u.Roles) == 0 {
			u.Roles = []string{loginRole}
		}
	}
	return nil
}

// readPassword reads the first line of r.
func readPassword(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
		}
		return "", oops.Code("PASSWORD_REQUIRED").Errorf("no password on stdin")
	}
	password := strings.TrimRight(scanner.Text(), "\r")
	if password == "" {
		return "", oops.Code("PASSWORD_REQUIRED").Errorf("password cannot be empty")
	}
	return password, nil
}

// createUser stores one account. It reports false when the username is
// already taken.
func createUser(ctx context.Context, s *authStack, u seedUser) (bool, error) {
	hash := u.PasswordHash
	if hash == "" {
		var err error
		if hash, err = s.manager.Hash(u.Password); err != nil {
			return false, err
		}
	}

	user, err := auth.NewUser(u.Username, hash, u.Email)
	if err != nil {
		return false, err
	}
	if err := s.users.Create(ctx, user, u.Roles...); err != nil {
		if errors.Is(err, postgres.ErrDuplicate) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// NewUserCmd creates the user command group.
func NewUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts and roles",
	}
	var timeout time.Duration
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", defaultAdminTimeout, "timeout for database operations (e.g., 30s, 1m)")

	cmd.AddCommand(newUserAddCmd(&timeout))
	cmd.AddCommand(newUserRoleCmd(&timeout, "grant"))
	cmd.AddCommand(newUserRoleCmd(&timeout, "revoke"))
	cmd.AddCommand(newUserResetCmd(&timeout))
	return cmd
}

func newUserAddCmd(timeout *time.Duration) *cobra.Command {
	var (
		from  string
		email string
		roles []string
	)
	cmd := &cobra.Command{
		Use:   "add [USERNAME]",
		Short: "Create an account (password read from stdin) or load accounts from a seed file",
		Long: `Create USERNAME with the password given on the first line of stdin, or
create every account listed in the YAML file given by --from. Existing
usernames are skipped, so a seed file can be applied repeatedly.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			var seed *seedFile
			switch {
			case from != "" && len(args) == 0:
				data, readErr := os.ReadFile(from)
				if readErr != nil {
					return oops.Code("SEED_READ_FAILED").With("path", from).Wrap(readErr)
				}
				if seed, err = parseSeed(data, cfg.Auth.LoginRole); err != nil {
					return err
				}
			case from == "" && len(args) == 1:
				password, readErr := readPassword(cmd.InOrStdin())
				if readErr != nil {
					return readErr
				}
				u := seedUser{Username: args[0], Password: password, Roles: roles}
				if email != "" {
					u.Email = &email
				}
				seed = &seedFile{Users: []seedUser{u}}
				if err := seed.validate(cfg.Auth.LoginRole); err != nil {
					return err
				}
			default:
				return oops.Code("INVALID_ARGS").Errorf("give either USERNAME or --from, not both")
			}

			return withStack(cmd, *timeout, func(ctx context.Context, s *authStack) error {
				for _, u := range seed.Users {
					created, err := createUser(ctx, s, u)
					if err != nil {
						return err
					}
					if created {
						cmd.Printf("Created %s (roles: %s)\n", u.Username, strings.Join(u.Roles, ", "))
					} else {
						cmd.Printf("User %s already exists, skipping\n", u.Username)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "YAML seed file listing users")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role to grant (repeatable, default: the login role)")
	return cmd
}

// newUserRoleCmd builds "user grant" or "user revoke".
func newUserRoleCmd(timeout *time.Duration, verb string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " USERNAME ROLE",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, role := args[0], args[1]
			return withStack(cmd, *timeout, func(ctx context.Context, s *authStack) error {
				user, err := s.users.GetByUsername(ctx, username)
				if err != nil {
					return err
				}
				if verb == "grant" {
					err = s.users.GrantRole(ctx, user.ID, role)
				} else {
					err = s.users.RevokeRole(ctx, user.ID, role)
				}
				if err != nil {
					return err
				}
				held, err := s.users.Roles(ctx, user.ID)
				if err != nil {
					return err
				}
				cmd.Printf("%s roles: %s\n", user.Username, strings.Join(held, ", "))
				return nil
			})
		},
	}
}

func newUserResetCmd(timeout *time.Duration) *cobra.Command {
	return &cobra.Command{
		Use:   "reset USERNAME",
		Short: "Issue a password reset token and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, *timeout, func(ctx context.Context, s *authStack) error {
				token, err := s.resets.RequestReset(ctx, auth.ByUsername(args[0]))
				if err != nil {
					return err
				}
				if token == "" {
					return oops.Code("USER_NOT_FOUND").With("username", args[0]).Errorf("no such user")
				}
				cmd.Println(token)
				return nil
			})
		},
	}
}
