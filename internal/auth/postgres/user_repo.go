// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/sessionauth/internal/auth"
)

const userColumns = `id, username, email, password_hash, logins, last_login, created_at, updated_at`

// UserRepository implements auth.UserRepository and auth.RoleChecker using
// PostgreSQL.
type UserRepository struct {
	pool Pool
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create stores a new user and grants it roles in one transaction.
// Returns ErrDuplicate when the username or email is taken and ErrUnknownRole
// when a role does not exist.
func (r *UserRepository) Create(ctx context.Context, user *auth.User, roles ...string) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").With("operation", "begin transaction").Wrap(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx) //nolint:errcheck // the original error takes precedence
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		user.ID.String(),
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Logins,
		user.LastLogin,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("USER_EXISTS").
				With("username", user.Username).
				Wrap(fmt.Errorf("%w: %w", ErrDuplicate, err))
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("username", user.Username).
			Wrap(err)
	}

	for _, role := range roles {
		if err = grantRole(ctx, tx, user.ID, role); err != nil {
			return err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return oops.Code("USER_CREATE_FAILED").With("operation", "commit").Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// GetByUsername retrieves a user by username (case-insensitive).
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(username) = LOWER($1)`, username)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("username", username).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_USERNAME_FAILED").
			With("operation", "get user by username").
			With("username", username).
			Wrap(err)
	}
	return user, nil
}

// RecordLogin increments the login counter in place, so concurrent logins
// and password changes are never overwritten.
func (r *UserRepository) RecordLogin(ctx context.Context, id ulid.ULID, at time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE users SET logins = logins + 1, last_login = $2, updated_at = now()
		WHERE id = $1
	`, id.String(), at)
	if err != nil {
		return oops.Code("USER_RECORD_LOGIN_FAILED").
			With("operation", "record login").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdatePassword updates only the password hash for a user.
func (r *UserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = now()
		WHERE id = $1
	`, id.String(), passwordHash)
	if err != nil {
		return oops.Code("USER_UPDATE_PASSWORD_FAILED").
			With("operation", "update password").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteTokens removes every token owned by the user.
func (r *UserRepository) DeleteTokens(ctx context.Context, id ulid.ULID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_tokens WHERE user_id = $1`, id.String())
	if err != nil {
		return oops.Code("USER_DELETE_TOKENS_FAILED").
			With("operation", "delete user tokens").
			With("id", id.String()).
			Wrap(err)
	}
	return nil
}

// Delete removes a user. Role grants and tokens cascade.
func (r *UserRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id.String())
	if err != nil {
		return oops.Code("USER_DELETE_FAILED").
			With("operation", "delete user").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// HasRoles reports whether the user holds every named role.
func (r *UserRepository) HasRoles(ctx context.Context, userID ulid.ULID, roles ...string) (bool, error) {
	unique := dedupe(roles)
	if len(unique) == 0 {
		return true, nil
	}

	var held int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM roles_users
		WHERE user_id = $1 AND role_name = ANY($2)
	`, userID.String(), unique).Scan(&held)
	if err != nil {
		return false, oops.Code("USER_ROLES_FAILED").
			With("operation", "count held roles").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return held == len(unique), nil
}

// GrantRole grants an existing role to a user. Granting a held role is a no-op.
func (r *UserRepository) GrantRole(ctx context.Context, userID ulid.ULID, role string) error {
	return grantRole(ctx, r.pool, userID, role)
}

// RevokeRole removes a role from a user.
func (r *UserRepository) RevokeRole(ctx context.Context, userID ulid.ULID, role string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM roles_users WHERE user_id = $1 AND role_name = $2`, userID.String(), role)
	if err != nil {
		return oops.Code("USER_REVOKE_ROLE_FAILED").
			With("operation", "revoke role").
			With("user_id", userID.String()).
			With("role", role).
			Wrap(err)
	}
	return nil
}

// Roles lists the roles held by a user, sorted by name.
func (r *UserRepository) Roles(ctx context.Context, userID ulid.ULID) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT role_name FROM roles_users WHERE user_id = $1 ORDER BY role_name
	`, userID.String())
	if err != nil {
		return nil, oops.Code("USER_ROLES_FAILED").
			With("operation", "list roles").
			With("user_id", userID.String()).
			Wrap(err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, oops.Code("USER_ROLES_FAILED").With("operation", "scan role row").Wrap(err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("USER_ROLES_FAILED").With("operation", "iterate role rows").Wrap(err)
	}
	return roles, nil
}

// CreateRole defines a role. Defining an existing role is a no-op.
func (r *UserRepository) CreateRole(ctx context.Context, name, description string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO roles (name, description) VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
	`, name, description)
	if err != nil {
		return oops.Code("ROLE_CREATE_FAILED").
			With("operation", "insert role").
			With("role", name).
			Wrap(err)
	}
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func grantRole(ctx context.Context, db execer, userID ulid.ULID, role string) error {
	_, err := db.Exec(ctx, `
		INSERT INTO roles_users (user_id, role_name) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, userID.String(), role)
	if err != nil {
		if isForeignKeyViolation(err) {
			return oops.Code("ROLE_NOT_FOUND").
				With("role", role).
				Wrap(fmt.Errorf("%w: %w", ErrUnknownRole, err))
		}
		return oops.Code("USER_GRANT_ROLE_FAILED").
			With("operation", "grant role").
			With("user_id", userID.String()).
			With("role", role).
			Wrap(err)
	}
	return nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// scanUser scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr     string
		user      auth.User
		lastLogin *time.Time
	)

	err := row.Scan(
		&idStr,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Logins,
		&lastLogin,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").
			With("operation", "scan user").
			Wrap(err)
	}

	user.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("operation", "parse user id").
			With("id", idStr).
			Wrap(err)
	}
	user.LastLogin = lastLogin
	return &user, nil
}

// Compile-time interface checks.
var (
	_ auth.UserRepository = (*UserRepository)(nil)
	_ auth.RoleChecker    = (*UserRepository)(nil)
)
