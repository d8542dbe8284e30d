// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"regexp"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 32
)

// usernameRegex matches usernames that start with a letter and contain only
// letters, numbers, dots, dashes and underscores.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*$`)

// User is an account that can authenticate.
type User struct {
	ID           ulid.ULID
	Username     string
	Email        *string
	PasswordHash string
	Logins       int
	LastLogin    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewUser creates a validated User. passwordHash must already be hashed.
func NewUser(username, passwordHash string, email *string) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("password hash cannot be empty")
	}

	now := time.Now()
	return &User{
		ID:           ulid.Make(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// RecordLogin increments the login counter and stamps the login time.
func (u *User) RecordLogin(at time.Time) {
	u.Logins++
	u.LastLogin = &at
	u.UpdatedAt = at
}

// ValidateUsername validates a username against the naming rules.
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code("AUTH_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code("AUTH_INVALID_USERNAME").
			Errorf("username must start with a letter and contain only letters, numbers, '.', '-' and '_'")
	}
	return nil
}

// UserRepository manages user persistence.
type UserRepository interface {
	// GetByID retrieves a user by ID.
	// Returns ErrNotFound if no user has the given ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByUsername retrieves a user by username (case-insensitive).
	// Returns ErrNotFound if no user has the given username.
	GetByUsername(ctx context.Context, username string) (*User, error)

	// RecordLogin increments the login counter and stamps last_login. It
	// never touches the password hash.
	RecordLogin(ctx context.Context, id ulid.ULID, at time.Time) error

	// UpdatePassword updates only the password hash for a user.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error

	// DeleteTokens removes every token owned by the user, of any kind.
	DeleteTokens(ctx context.Context, id ulid.ULID) error
}

// RoleChecker answers role membership questions.
type RoleChecker interface {
	// HasRoles reports whether the user holds every named role. Unknown role
	// names make the answer false.
	HasRoles(ctx context.Context, userID ulid.ULID, roles ...string) (bool, error)
}
