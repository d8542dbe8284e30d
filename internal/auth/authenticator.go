// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/sessionauth/pkg/errutil"
)

// SessionManager is the per-request authentication state machine.
type SessionManager interface {
	Login(ctx context.Context, ref UserRef, password string, remember bool) (bool, error)
	ForceLogin(ctx context.Context, ref UserRef, markForced bool) (bool, error)
	AutoLogin(ctx context.Context) (*User, error)
	CurrentUser(ctx context.Context) (*User, error)
	LoggedIn(ctx context.Context, roles ...string) (bool, error)
	IsForced(ctx context.Context) (bool, error)
	Logout(ctx context.Context, destroy, everywhere bool) (bool, error)
	CheckPassword(ctx context.Context, password string) (bool, error)
}

// Authenticator implements SessionManager for one request.
type Authenticator struct {
	m       *Manager
	session SessionStore
	cookies CookieTransport
	client  RequestContext
}

var _ SessionManager = (*Authenticator)(nil)

// Login verifies a password and, on success, marks the session as
// authenticated. With remember set, a remember token is issued and its value
// handed to the cookie transport.
//
// Unknown users, wrong passwords and users without the login role all return
// (false, nil) with no session writes. Unknown users are verified against a
// dummy hash so response time does not reveal whether the username exists.
func (a *Authenticator) Login(ctx context.Context, ref UserRef, password string, remember bool) (bool, error) {
	m := a.m

	user, err := ref.resolve(ctx, m.users)
	exists := err == nil
	if err != nil && !IsNotFound(err) {
		m.metrics.login("password", "error")
		return false, storeUnavailable("resolve user", err)
	}

	targetHash := dummyPasswordHash
	if exists {
		targetHash = user.PasswordHash
	}

	// Always verify (constant-time operation for timing attack prevention)
	valid, verifyErr := m.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if exists {
			errutil.LogWarn(ctx, m.logger, "stored password hash is unreadable", verifyErr,
				"user_id", user.ID.String())
		}
		valid = false
	}

	if !exists || !valid {
		m.metrics.login("password", "invalid")
		return false, nil
	}

	hasRole, err := m.roles.HasRoles(ctx, user.ID, m.cfg.LoginRole)
	if err != nil {
		m.metrics.login("password", "error")
		return false, storeUnavailable("check login role", err)
	}
	if !hasRole {
		m.metrics.login("password", "invalid")
		return false, nil
	}

	var token *Token
	if remember {
		token, err = a.issueRememberToken(ctx, user)
		if err != nil {
			m.metrics.login("password", "error")
			return false, err
		}
	}

	if err := a.completeLogin(ctx, user, false); err != nil {
		if token != nil {
			a.cookies.Delete(m.cfg.CookieName)
			m.deleteToken(ctx, token, "login incomplete")
		}
		m.metrics.login("password", "error")
		return false, err
	}

	m.upgradeHash(ctx, user, password)

	m.metrics.login("password", "success")
	return true, nil
}

// ForceLogin logs a user in without a password. With markForced set the
// session carries the auth_forced marker, which the authorization layer uses
// to block account changes during impersonation.
// Returns false when the user cannot be resolved.
func (a *Authenticator) ForceLogin(ctx context.Context, ref UserRef, markForced bool) (bool, error) {
	m := a.m

	user, err := ref.resolve(ctx, m.users)
	if err != nil {
		if IsNotFound(err) {
			m.metrics.login("forced", "invalid")
			return false, nil
		}
		m.metrics.login("forced", "error")
		return false, storeUnavailable("resolve user", err)
	}

	if markForced {
		if err := a.session.Set(ctx, SessionKeyForced, "1"); err != nil {
			m.metrics.login("forced", "error")
			return false, storeUnavailable("mark session forced", err)
		}
	}

	if err := a.completeLogin(ctx, user, markForced); err != nil {
		m.metrics.login("forced", "error")
		return false, err
	}

	m.logger.InfoContext(ctx, "forced login", "user_id", user.ID.String(), "marked", markForced)
	m.metrics.login("forced", "success")
	return true, nil
}

// AutoLogin logs a user in from the remember cookie. A nil user means the
// request stays anonymous.
//
// A matching token is rotated before the user is returned, so every value
// is accepted at most once. The re-issued cookie lives for the remaining
// lifetime of the token; rotation never extends the token's expiry.
// A token presented from a different user agent is deleted.
func (a *Authenticator) AutoLogin(ctx context.Context) (*User, error) {
	m := a.m

	value, ok := a.cookies.Get(m.cfg.CookieName)
	if !ok || value == "" {
		return nil, nil
	}

	token, err := m.tokens.GetByValue(ctx, value)
	if err != nil {
		if IsNotFound(err) {
			m.metrics.autoLogin("unknown")
			return nil, nil
		}
		m.metrics.autoLogin("error")
		return nil, storeUnavailable("get remember token", err)
	}

	if token.Kind != KindRemember {
		m.metrics.autoLogin("unknown")
		return nil, nil
	}

	now := m.clock.Now()
	if token.IsExpiredAt(now) {
		a.cookies.Delete(m.cfg.CookieName)
		m.deleteToken(ctx, token, "expired")
		m.metrics.autoLogin("expired")
		return nil, nil
	}

	user, err := m.users.GetByID(ctx, token.UserID)
	if err != nil {
		if IsNotFound(err) {
			m.metrics.autoLogin("unknown")
			return nil, nil
		}
		m.metrics.autoLogin("error")
		return nil, storeUnavailable("resolve token owner", err)
	}

	if !fingerprintMatches(token.UserAgent, Fingerprint(a.client.UserAgent())) {
		a.cookies.Delete(m.cfg.CookieName)
		m.deleteToken(ctx, token, "fingerprint mismatch")
		m.logger.WarnContext(ctx, "remember token presented from a different user agent",
			"user_id", user.ID.String())
		m.metrics.autoLogin("fingerprint_mismatch")
		return nil, nil
	}

	if err := m.tokens.Rotate(ctx, token); err != nil {
		if IsNotFound(err) {
			// Rotated or deleted by a concurrent request.
			m.metrics.autoLogin("stale")
			return nil, nil
		}
		m.metrics.autoLogin("error")
		return nil, storeUnavailable("rotate remember token", err)
	}

	a.cookies.Set(m.cfg.CookieName, token.Value, token.ExpiresAt.Sub(now))

	if err := a.completeLogin(ctx, user, false); err != nil {
		m.metrics.autoLogin("error")
		return nil, err
	}

	m.metrics.autoLogin("success")
	return user, nil
}

// CurrentUser returns the logged-in user, falling back to AutoLogin when the
// session holds no identity. A session identity that no longer resolves is
// cleared first.
func (a *Authenticator) CurrentUser(ctx context.Context) (*User, error) {
	user, err := a.sessionUser(ctx)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}
	return a.AutoLogin(ctx)
}

// LoggedIn reports whether a user is logged in and holds every named role.
func (a *Authenticator) LoggedIn(ctx context.Context, roles ...string) (bool, error) {
	user, err := a.CurrentUser(ctx)
	if err != nil || user == nil {
		return false, err
	}
	if len(roles) == 0 {
		return true, nil
	}
	ok, err := a.m.roles.HasRoles(ctx, user.ID, roles...)
	if err != nil {
		return false, storeUnavailable("check roles", err)
	}
	return ok, nil
}

// IsForced reports whether the session was opened by ForceLogin with the
// forced marker.
func (a *Authenticator) IsForced(ctx context.Context) (bool, error) {
	_, ok, err := a.session.Get(ctx, SessionKeyForced)
	if err != nil {
		return false, storeUnavailable("read session", err)
	}
	return ok, nil
}

// Logout ends the session. The forced marker is always cleared. When the
// request carries a remember cookie, the cookie is dropped and its token
// deleted; with everywhere set, every token of the token's owner (or of the
// session user when no token resolves) is deleted instead. destroy removes
// the whole session, otherwise only the identity is cleared and the session
// id regenerated.
func (a *Authenticator) Logout(ctx context.Context, destroy, everywhere bool) (bool, error) {
	m := a.m

	if err := a.session.Delete(ctx, SessionKeyForced); err != nil {
		return false, storeUnavailable("clear forced marker", err)
	}

	var owner *ulid.ULID
	if value, ok := a.cookies.Get(m.cfg.CookieName); ok {
		a.cookies.Delete(m.cfg.CookieName)

		token, err := m.tokens.GetByValue(ctx, value)
		switch {
		case err == nil && everywhere:
			owner = &token.UserID
		case err == nil:
			if err := m.tokens.Delete(ctx, token.ID); err != nil && !IsNotFound(err) {
				return false, storeUnavailable("delete remember token", err)
			}
		case !IsNotFound(err):
			return false, storeUnavailable("get remember token", err)
		}
	}

	if everywhere && owner == nil {
		id, ok, err := a.session.Get(ctx, SessionKeyUserID)
		if err != nil {
			return false, storeUnavailable("read session", err)
		}
		if ok {
			if parsed, parseErr := ulid.Parse(id); parseErr == nil {
				owner = &parsed
			}
		}
	}

	if owner != nil {
		if err := m.users.DeleteTokens(ctx, *owner); err != nil {
			return false, storeUnavailable("delete user tokens", err)
		}
		m.logger.InfoContext(ctx, "logged out everywhere", "user_id", owner.String())
	}

	if destroy {
		if err := a.session.Destroy(ctx); err != nil {
			return false, storeUnavailable("destroy session", err)
		}
	} else {
		if err := a.session.Delete(ctx, SessionKeyUserID); err != nil {
			return false, storeUnavailable("clear session identity", err)
		}
		if err := a.session.Regenerate(ctx); err != nil {
			return false, storeUnavailable("regenerate session", err)
		}
	}

	if everywhere {
		m.metrics.logout("everywhere")
	} else {
		m.metrics.logout("session")
	}
	return true, nil
}

// CheckPassword re-verifies password against the session user's stored hash.
// It never triggers auto-login.
func (a *Authenticator) CheckPassword(ctx context.Context, password string) (bool, error) {
	user, err := a.sessionUser(ctx)
	if err != nil || user == nil {
		return false, err
	}
	ok, err := a.m.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		errutil.LogWarn(ctx, a.m.logger, "stored password hash is unreadable", err,
			"user_id", user.ID.String())
		return false, nil
	}
	return ok, nil
}

// sessionUser resolves the user named by the session, without auto-login.
func (a *Authenticator) sessionUser(ctx context.Context) (*User, error) {
	id, ok, err := a.session.Get(ctx, SessionKeyUserID)
	if err != nil {
		return nil, storeUnavailable("read session", err)
	}
	if !ok {
		return nil, nil
	}

	if parsed, parseErr := ulid.Parse(id); parseErr == nil {
		user, err := a.m.users.GetByID(ctx, parsed)
		if err == nil {
			return user, nil
		}
		if !IsNotFound(err) {
			return nil, storeUnavailable("resolve session user", err)
		}
	}

	if err := a.session.Delete(ctx, SessionKeyUserID); err != nil {
		return nil, storeUnavailable("clear session identity", err)
	}
	return nil, nil
}

// issueRememberToken creates a remember token and hands its value to the
// cookie transport.
func (a *Authenticator) issueRememberToken(ctx context.Context, user *User) (*Token, error) {
	m := a.m
	now := m.clock.Now()

	token, err := NewToken(user.ID, KindRemember, Fingerprint(a.client.UserAgent()), now, now.Add(m.cfg.Lifetime))
	if err != nil {
		return nil, err
	}
	if err := m.tokens.Create(ctx, token); err != nil {
		return nil, storeUnavailable("create remember token", err)
	}

	a.cookies.Set(m.cfg.CookieName, token.Value, m.cfg.RememberCookieTTL)
	return token, nil
}

// completeLogin regenerates the session id, stores the user's identity and
// records the login. A forced marker left by an earlier impersonation is
// cleared unless this login is itself forced. Bookkeeping failures are
// logged only.
func (a *Authenticator) completeLogin(ctx context.Context, user *User, forced bool) error {
	m := a.m

	if err := a.session.Regenerate(ctx); err != nil {
		return storeUnavailable("regenerate session", err)
	}
	if !forced {
		if err := a.session.Delete(ctx, SessionKeyForced); err != nil {
			return storeUnavailable("clear forced marker", err)
		}
	}
	if err := a.session.Set(ctx, SessionKeyUserID, user.ID.String()); err != nil {
		return storeUnavailable("write session identity", err)
	}

	now := m.clock.Now()
	user.RecordLogin(now)
	if err := m.users.RecordLogin(ctx, user.ID, now); err != nil {
		errutil.LogWarn(ctx, m.logger, "login bookkeeping failed", err, "user_id", user.ID.String())
	}
	return nil
}
