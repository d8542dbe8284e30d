// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// TokenValueBytes is the entropy of a token value: 32 bytes = 64 hex chars.
const TokenValueBytes = 32

// TokenKind discriminates the flows that share the token table.
type TokenKind string

// Token kinds. Only KindRemember is issued or accepted by the session manager.
const (
	KindRemember      TokenKind = "remember-token"
	KindPasswordReset TokenKind = "password-reset"
	KindAPI           TokenKind = "api-token"
)

// Valid reports whether k is a known token kind.
func (k TokenKind) Valid() bool {
	switch k {
	case KindRemember, KindPasswordReset, KindAPI:
		return true
	}
	return false
}

// Token is a persistent credential bound to one user.
//
// Value is the bearer value handed to the client. It is only populated on the
// instance that created or rotated the token; repositories store its digest.
type Token struct {
	ID        ulid.ULID
	Value     string
	UserID    ulid.ULID
	Kind      TokenKind
	UserAgent string // fingerprint, see Fingerprint
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewToken creates a validated Token with a fresh random value.
func NewToken(userID ulid.ULID, kind TokenKind, fingerprint string, createdAt, expiresAt time.Time) (*Token, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("TOKEN_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if !kind.Valid() {
		return nil, oops.Code("TOKEN_INVALID_KIND").With("kind", string(kind)).Errorf("unknown token kind")
	}
	if !expiresAt.After(createdAt) {
		return nil, oops.Code("TOKEN_INVALID_EXPIRY").Errorf("expiry must be after creation time")
	}

	value, err := GenerateTokenValue()
	if err != nil {
		return nil, err
	}

	return &Token{
		ID:        ulid.Make(),
		Value:     value,
		UserID:    userID,
		Kind:      kind,
		UserAgent: fingerprint,
		ExpiresAt: expiresAt,
		CreatedAt: createdAt,
	}, nil
}

// IsExpiredAt returns true if the token would be expired at the given time.
func (t *Token) IsExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Hash returns the digest under which the token value is stored.
func (t *Token) Hash() string {
	return HashToken(t.Value)
}

// GenerateTokenValue creates a secure random token value.
func GenerateTokenValue() (string, error) {
	b := make([]byte, TokenValueBytes)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", TokenValueBytes).
			Wrap(err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken computes the SHA256 hash of a token value.
func HashToken(value string) string {
	h := sha256.Sum256([]byte(value))
	return hex.EncodeToString(h[:])
}

// Fingerprint computes the user-agent fingerprint stored with a token.
func Fingerprint(userAgent string) string {
	h := sha256.Sum256([]byte(userAgent))
	return hex.EncodeToString(h[:])
}

// fingerprintMatches compares two fingerprints in constant time.
func fingerprintMatches(stored, current string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(current)) == 1
}

// TokenRepository manages token persistence.
type TokenRepository interface {
	// Create stores a new token. Only the digest of Value is persisted.
	Create(ctx context.Context, token *Token) error

	// GetByValue retrieves a token by its bearer value.
	// Returns ErrNotFound if no token matches. The returned token carries
	// the presented value.
	GetByValue(ctx context.Context, value string) (*Token, error)

	// Rotate assigns the token a fresh value and persists it, updating
	// token.Value in place. The stored value must still equal token.Value;
	// otherwise the token was rotated or deleted concurrently and
	// ErrNotFound is returned. Expiry is never changed.
	Rotate(ctx context.Context, token *Token) error

	// Delete removes a token by ID.
	Delete(ctx context.Context, id ulid.ULID) error

	// DeleteByUser removes all tokens owned by a user.
	DeleteByUser(ctx context.Context, userID ulid.ULID) error

	// DeleteExpired removes tokens that expired before now and returns the
	// count of deleted records.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
