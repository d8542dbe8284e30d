// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/sessionauth/pkg/errutil"
)

// DefaultResetTokenLifetime is how long a password reset token stays valid.
const DefaultResetTokenLifetime = time.Hour

// PasswordResetService issues and redeems password-reset tokens. It shares the
// token table with remember tokens but never accepts them.
type PasswordResetService struct {
	m        *Manager
	lifetime time.Duration
}

// NewPasswordResetService creates a PasswordResetService. A zero lifetime
// selects DefaultResetTokenLifetime.
func NewPasswordResetService(m *Manager, lifetime time.Duration) (*PasswordResetService, error) {
	if m == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("manager is required")
	}
	if lifetime < 0 {
		return nil, oops.Code("AUTH_CONFIG_INVALID").With("lifetime", lifetime).Errorf("reset token lifetime must be positive")
	}
	if lifetime == 0 {
		lifetime = DefaultResetTokenLifetime
	}
	return &PasswordResetService{m: m, lifetime: lifetime}, nil
}

// RequestReset issues a reset token for the referenced user and returns its
// value for out-of-band delivery. An unknown user yields an empty value and no
// error so callers cannot enumerate accounts.
func (s *PasswordResetService) RequestReset(ctx context.Context, ref UserRef) (string, error) {
	m := s.m

	user, err := ref.resolve(ctx, m.users)
	if err != nil {
		if IsNotFound(err) {
			return "", nil
		}
		return "", storeUnavailable("resolve user", err)
	}

	now := m.clock.Now()
	// Reset links are often opened in another browser, so no fingerprint.
	token, err := NewToken(user.ID, KindPasswordReset, "", now, now.Add(s.lifetime))
	if err != nil {
		return "", err
	}
	if err := m.tokens.Create(ctx, token); err != nil {
		return "", storeUnavailable("create reset token", err)
	}

	m.logger.InfoContext(ctx, "password reset requested", "user_id", user.ID.String())
	return token.Value, nil
}

// ValidateToken returns the owner of a live reset token.
func (s *PasswordResetService) ValidateToken(ctx context.Context, value string) (ulid.ULID, error) {
	token, err := s.liveToken(ctx, value)
	if err != nil {
		return ulid.ULID{}, err
	}
	return token.UserID, nil
}

// liveToken loads an unexpired reset token. Expired tokens are deleted.
func (s *PasswordResetService) liveToken(ctx context.Context, value string) (*Token, error) {
	if value == "" {
		return nil, oops.Code("RESET_TOKEN_EMPTY").Errorf("reset token cannot be empty")
	}

	token, err := s.m.tokens.GetByValue(ctx, value)
	if err != nil {
		if IsNotFound(err) {
			return nil, oops.Code("RESET_TOKEN_INVALID").Errorf("reset token not found")
		}
		return nil, storeUnavailable("get reset token", err)
	}
	if token.Kind != KindPasswordReset {
		return nil, oops.Code("RESET_TOKEN_INVALID").Errorf("reset token not found")
	}
	if token.IsExpiredAt(s.m.clock.Now()) {
		s.m.deleteToken(ctx, token, "expired")
		return nil, oops.Code("RESET_TOKEN_EXPIRED").Errorf("reset token has expired")
	}
	return token, nil
}

// ResetPassword replaces the password of the token's owner. The new password
// must differ from the current one. On success every token the user holds is
// revoked, which also ends auto-login on all devices.
func (s *PasswordResetService) ResetPassword(ctx context.Context, value, newPassword string) error {
	m := s.m

	if newPassword == "" {
		return oops.Code("RESET_PASSWORD_EMPTY").Errorf("new password cannot be empty")
	}

	token, err := s.liveToken(ctx, value)
	if err != nil {
		return err
	}
	userID := token.UserID

	current, found, err := m.PasswordFor(ctx, ByID(userID))
	if err != nil {
		return err
	}
	if !found {
		return oops.Code("RESET_TOKEN_INVALID").Errorf("reset token not found")
	}
	if same, verifyErr := m.hasher.Verify(newPassword, current); verifyErr == nil && same {
		return oops.Code("RESET_PASSWORD_UNCHANGED").Errorf("new password must differ from the current one")
	}

	hash, err := m.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").With("operation", "hash password").Wrap(err)
	}
	if err := m.users.UpdatePassword(ctx, userID, hash); err != nil {
		return storeUnavailable("update password", err)
	}

	// The password is already changed; revocation failures are logged only.
	// The reset token goes first so it stays single use if the bulk delete
	// fails.
	m.deleteToken(ctx, token, "reset used")
	if err := m.users.DeleteTokens(ctx, userID); err != nil {
		errutil.LogWarn(ctx, m.logger, "token revocation after password reset failed", err,
			"user_id", userID.String())
	}

	m.logger.InfoContext(ctx, "password reset", "user_id", userID.String())
	return nil
}
