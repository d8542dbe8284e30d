// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"time"
)

// Session keys recognized by the session manager.
const (
	SessionKeyUserID = "user_id"
	SessionKeyForced = "auth_forced"
)

// SessionStore is the key/value state of one client session. Implementations
// are bound to a single session identifier supplied by the transport.
type SessionStore interface {
	// Get returns the value stored under key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, creating the session on first write.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Destroy removes the whole session.
	Destroy(ctx context.Context) error

	// Regenerate moves the session state to a new identifier.
	Regenerate(ctx context.Context) error
}

// CookieTransport reads and writes cookies for the current request.
type CookieTransport interface {
	// Get returns the cookie value and whether it was sent.
	Get(name string) (string, bool)

	// Set issues a cookie that expires after ttl.
	Set(name, value string, ttl time.Duration)

	// Delete instructs the client to drop the cookie.
	Delete(name string)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is a Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// RequestContext describes the client of the current request.
type RequestContext interface {
	UserAgent() string
}

// UserAgent is a RequestContext holding a raw User-Agent string.
type UserAgent string

// UserAgent returns the raw string.
func (u UserAgent) UserAgent() string {
	return string(u)
}

// Request bundles the per-request collaborators.
type Request struct {
	Session SessionStore
	Cookies CookieTransport
	Client  RequestContext
}
