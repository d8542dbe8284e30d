// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/sessionauth/internal/auth"
)

// createAttempts bounds how often Create draws a new value after a digest
// collision.
const createAttempts = 3

const tokenColumns = `id, user_id, kind, user_agent, expires_at, created_at`

// TokenRepository implements auth.TokenRepository using PostgreSQL. Token
// values are stored as their SHA-256 digest.
type TokenRepository struct {
	pool Pool
}

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(pool Pool) *TokenRepository {
	return &TokenRepository{pool: pool}
}

// Create stores a new token. If the digest of token.Value is already taken a
// fresh value is drawn and token.Value updated.
func (r *TokenRepository) Create(ctx context.Context, token *auth.Token) error {
	for attempt := 1; ; attempt++ {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO user_tokens (id, user_id, token_hash, kind, user_agent, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			token.ID.String(),
			token.UserID.String(),
			token.Hash(),
			string(token.Kind),
			token.UserAgent,
			token.ExpiresAt,
			token.CreatedAt,
		)
		if err == nil {
			return nil
		}
		if !isUniqueViolation(err) || attempt == createAttempts {
			return oops.Code("TOKEN_CREATE_FAILED").
				With("operation", "insert token").
				With("user_id", token.UserID.String()).
				With("attempt", attempt).
				Wrap(err)
		}

		value, genErr := auth.GenerateTokenValue()
		if genErr != nil {
			return genErr
		}
		token.Value = value
	}
}

// GetByValue retrieves a token by its bearer value.
func (r *TokenRepository) GetByValue(ctx context.Context, value string) (*auth.Token, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+tokenColumns+` FROM user_tokens WHERE token_hash = $1
	`, auth.HashToken(value))

	token, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_GET_FAILED").
			With("operation", "get token by hash").
			Wrap(err)
	}
	token.Value = value
	return token, nil
}

// Rotate replaces the stored digest if it still matches token.Value.
func (r *TokenRepository) Rotate(ctx context.Context, token *auth.Token) error {
	value, err := auth.GenerateTokenValue()
	if err != nil {
		return err
	}

	result, err := r.pool.Exec(ctx, `
		UPDATE user_tokens SET token_hash = $3
		WHERE id = $1 AND token_hash = $2
	`, token.ID.String(), token.Hash(), auth.HashToken(value))
	if err != nil {
		return oops.Code("TOKEN_ROTATE_FAILED").
			With("operation", "rotate token").
			With("id", token.ID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("TOKEN_NOT_FOUND").
			With("id", token.ID.String()).
			Wrap(auth.ErrNotFound)
	}

	token.Value = value
	return nil
}

// Delete removes a token by ID.
func (r *TokenRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM user_tokens WHERE id = $1`, id.String())
	if err != nil {
		return oops.Code("TOKEN_DELETE_FAILED").
			With("operation", "delete token").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("TOKEN_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteByUser removes all tokens owned by a user.
func (r *TokenRepository) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_tokens WHERE user_id = $1`, userID.String())
	if err != nil {
		return oops.Code("TOKEN_DELETE_FAILED").
			With("operation", "delete tokens by user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// DeleteExpired removes tokens whose expiry is at or before now.
func (r *TokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM user_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, oops.Code("TOKEN_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanToken scans a single row into a Token without its value.
// Callers are responsible for handling pgx.ErrNoRows.
func scanToken(row pgx.Row) (*auth.Token, error) {
	var (
		idStr, userIDStr, kind string
		token                  auth.Token
	)

	err := row.Scan(&idStr, &userIDStr, &kind, &token.UserAgent, &token.ExpiresAt, &token.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("TOKEN_SCAN_FAILED").With("operation", "scan token").Wrap(err)
	}

	if token.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("TOKEN_INVALID_ID").With("id", idStr).Wrap(err)
	}
	if token.UserID, err = ulid.Parse(userIDStr); err != nil {
		return nil, oops.Code("TOKEN_INVALID_USER_ID").With("user_id", userIDStr).Wrap(err)
	}
	token.Kind = auth.TokenKind(kind)
	return &token, nil
}

// Compile-time interface check.
var _ auth.TokenRepository = (*TokenRepository)(nil)
