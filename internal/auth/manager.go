// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/sessionauth/pkg/errutil"
)

// dummyPasswordHash is used when a user doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Manager holds the collaborators shared by every request. It is safe for
// concurrent use; per-request state lives in the Authenticator it returns.
type Manager struct {
	users   UserRepository
	roles   RoleChecker
	tokens  TokenRepository
	hasher  PasswordHasher
	clock   Clock
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithConfig overrides the default configuration. Zero fields keep their defaults.
func WithConfig(cfg Config) ManagerOption {
	return func(m *Manager) { m.cfg = cfg.withDefaults() }
}

// WithClock overrides the system clock.
func WithClock(clock Clock) ManagerOption {
	return func(m *Manager) { m.clock = clock }
}

// WithLogger sets the logger used for best-effort failures and security events.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics enables outcome counters.
func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a Manager.
func NewManager(users UserRepository, roles RoleChecker, tokens TokenRepository, hasher PasswordHasher, opts ...ManagerOption) (*Manager, error) {
	if users == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("users repository is required")
	}
	if roles == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("role checker is required")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("tokens repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("password hasher is required")
	}

	m := &Manager{
		users:  users,
		roles:  roles,
		tokens: tokens,
		hasher: hasher,
		clock:  SystemClock{},
		cfg:    DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.clock == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("clock is required")
	}
	if m.logger == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("logger is required")
	}
	if err := m.cfg.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Authenticator binds the manager to one request.
func (m *Manager) Authenticator(req Request) (*Authenticator, error) {
	if req.Session == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("session store is required")
	}
	cookies := req.Cookies
	if cookies == nil {
		cookies = noCookies{}
	}
	client := req.Client
	if client == nil {
		client = UserAgent("")
	}
	return &Authenticator{
		m:       m,
		session: req.Session,
		cookies: cookies,
		client:  client,
	}, nil
}

// Hash hashes plaintext with the target algorithm.
func (m *Manager) Hash(plaintext string) (string, error) {
	//nolint:wrapcheck // hasher errors already carry oops codes
	return m.hasher.Hash(plaintext)
}

// PasswordFor returns the stored password hash of the referenced user, for
// credential-reset flows. found is false when the user does not exist.
func (m *Manager) PasswordFor(ctx context.Context, ref UserRef) (hash string, found bool, err error) {
	user, err := ref.resolve(ctx, m.users)
	if err != nil {
		if IsNotFound(err) {
			return "", false, nil
		}
		return "", false, storeUnavailable("resolve user", err)
	}
	return user.PasswordHash, true, nil
}

// PruneExpiredTokens deletes expired tokens of every kind.
func (m *Manager) PruneExpiredTokens(ctx context.Context) (int64, error) {
	n, err := m.tokens.DeleteExpired(ctx, m.clock.Now())
	if err != nil {
		return 0, storeUnavailable("delete expired tokens", err)
	}
	if n > 0 {
		m.logger.InfoContext(ctx, "pruned expired tokens", "count", n)
	}
	return n, nil
}

// upgradeHash re-hashes a verified password when the stored hash is weaker
// than the target. Failures are logged and never reach the caller.
func (m *Manager) upgradeHash(ctx context.Context, user *User, password string) {
	if !m.hasher.NeedsUpgrade(user.PasswordHash) {
		return
	}

	newHash, err := m.hasher.Hash(password)
	if err != nil {
		m.metrics.hashUpgrade("error")
		errutil.LogWarn(ctx, m.logger, "password hash upgrade failed", err,
			"user_id", user.ID.String(), "operation", "hash password")
		return
	}

	if err := m.users.UpdatePassword(ctx, user.ID, newHash); err != nil {
		m.metrics.hashUpgrade("error")
		errutil.LogWarn(ctx, m.logger, "password hash upgrade failed", err,
			"user_id", user.ID.String(), "operation", "update password")
		return
	}

	user.PasswordHash = newHash
	m.metrics.hashUpgrade("upgraded")
	m.logger.InfoContext(ctx, "upgraded password hash", "user_id", user.ID.String())
}

// deleteToken removes a token outside the main control flow of an
// operation. Failures are logged, never returned.
func (m *Manager) deleteToken(ctx context.Context, token *Token, reason string) {
	if err := m.tokens.Delete(ctx, token.ID); err != nil && !IsNotFound(err) {
		errutil.LogWarn(ctx, m.logger, "token delete failed", err,
			"user_id", token.UserID.String(), "reason", reason)
	}
}

// noCookies is used when a request carries no cookie transport.
type noCookies struct{}

func (noCookies) Get(string) (string, bool)        { return "", false }
func (noCookies) Set(string, string, time.Duration) {}
func (noCookies) Delete(string)                     {}
