// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth implements session-and-credential authentication.
//
// # Collaborators
//
// The package owns no storage. It talks to users, roles, remember tokens,
// session state and cookies through the interfaces declared here:
//   - UserRepository and RoleChecker - account lookup and role membership
//   - TokenRepository - persistent auto-login tokens
//   - SessionStore - per-request session key/value state
//   - CookieTransport - the cookie carrying the remember token value
//
// Concrete adapters live in internal/auth/postgres, internal/session and
// internal/web.
//
// # Manager and Authenticator
//
// Manager holds the long-lived collaborators and is safe for concurrent use.
// Manager.Authenticator binds it to one request and returns an Authenticator,
// which runs the login state machine:
//
//	Anonymous -> Authenticated(user) -> Authenticated+Forced(user)
//
// Every lookup miss fails closed (false or a nil user). Only store faults are
// returned as errors, and those wrap ErrStoreUnavailable.
package auth
